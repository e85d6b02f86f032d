package observability

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/divelink/internal/protocol"
	"github.com/danmuck/divelink/internal/protocol/frame"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "divelink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "divelink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	linkFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "divelink",
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "Frames sent and received by kind.",
		},
		[]string{"node", "direction", "kind"},
	)
	linkDecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "divelink",
			Subsystem: "link",
			Name:      "decode_errors_total",
			Help:      "Rejected inbound frames by reason.",
		},
		[]string{"node", "reason"},
	)
	linkDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "divelink",
			Subsystem: "link",
			Name:      "discarded_bytes_total",
			Help:      "Bytes dropped while resynchronizing on the frame magic.",
		},
		[]string{"node"},
	)
	linkRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "divelink",
			Subsystem: "link",
			Name:      "requests_total",
			Help:      "Outbound command attempts by outcome.",
		},
		[]string{"node", "op", "outcome"},
	)
	linkRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "divelink",
			Subsystem: "link",
			Name:      "request_duration_seconds",
			Help:      "Time from command send to correlated reply.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "op"},
	)
	linkUnexpected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "divelink",
			Subsystem: "link",
			Name:      "unexpected_replies_total",
			Help:      "Replies with no matching pending request.",
		},
		[]string{"node"},
	)
	linkPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "divelink",
			Subsystem: "link",
			Name:      "pending_requests",
			Help:      "Requests awaiting a reply.",
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			linkFrames, linkDecodeErrors, linkDiscarded,
			linkRequests, linkRequestDuration, linkUnexpected, linkPending,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(node, direction string, kind frame.Kind) {
	RegisterMetrics()
	linkFrames.WithLabelValues(node, direction, kind.String()).Inc()
}

func RecordDecodeError(node string, err error) {
	RegisterMetrics()
	linkDecodeErrors.WithLabelValues(node, DecodeErrorReason(err)).Inc()
}

func RecordDiscarded(node string, n uint64) {
	if n == 0 {
		return
	}
	RegisterMetrics()
	linkDiscarded.WithLabelValues(node).Add(float64(n))
}

func RecordRequest(node, op, outcome string, duration time.Duration) {
	RegisterMetrics()
	linkRequests.WithLabelValues(node, op, outcome).Inc()
	if outcome == "matched" {
		linkRequestDuration.WithLabelValues(node, op).Observe(duration.Seconds())
	}
}

func RecordUnexpectedReply(node string) {
	RegisterMetrics()
	linkUnexpected.WithLabelValues(node).Inc()
}

func SetPending(node string, n int) {
	RegisterMetrics()
	linkPending.WithLabelValues(node).Set(float64(n))
}

// DecodeErrorReason maps a codec error to a stable metric label.
func DecodeErrorReason(err error) string {
	switch {
	case errors.Is(err, frame.ErrBadMagic):
		return "bad_magic"
	case errors.Is(err, frame.ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, frame.ErrHeaderChecksumMismatch):
		return "header_checksum"
	case errors.Is(err, frame.ErrPayloadChecksumMismatch):
		return "payload_checksum"
	case errors.Is(err, protocol.ErrPayloadDecode):
		return "payload_decode"
	case errors.Is(err, frame.ErrIncomplete):
		return "incomplete"
	default:
		return "other"
	}
}

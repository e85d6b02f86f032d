package observability

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/divelink/internal/protocol"
	"github.com/danmuck/divelink/internal/protocol/frame"
	"github.com/danmuck/divelink/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("dev-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordFrame("dev-a", "in", frame.KindCommand)
	RecordDecodeError("dev-a", frame.ErrBadMagic)
	RecordDiscarded("dev-a", 0)
	RecordDiscarded("dev-a", 3)
	RecordRequest("dev-a", "read_sensor", "matched", 4*time.Millisecond)
	RecordRequest("dev-a", "read_sensor", "timed_out", 0)
	RecordUnexpectedReply("dev-a")
	SetPending("dev-a", 2)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	if got := values["divelink_link_pending_requests"]; got != 2 {
		t.Fatalf("pending gauge got=%v", got)
	}
	if got := values["divelink_link_discarded_bytes_total"]; got != 3 {
		t.Fatalf("discarded counter got=%v", got)
	}
}

func TestDecodeErrorReason(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		err  error
		want string
	}{
		{frame.ErrBadMagic, "bad_magic"},
		{fmt.Errorf("%w: 9", frame.ErrUnsupportedVersion), "unsupported_version"},
		{frame.ErrHeaderChecksumMismatch, "header_checksum"},
		{&frame.CorruptFrameError{Err: frame.ErrPayloadChecksumMismatch}, "payload_checksum"},
		{&protocol.PayloadDecodeError{Err: errors.New("schema")}, "payload_decode"},
		{errors.New("other"), "other"},
	}
	for _, tt := range tests {
		if got := DecodeErrorReason(tt.err); got != tt.want {
			t.Fatalf("reason for %v got=%q want=%q", tt.err, got, tt.want)
		}
	}
}

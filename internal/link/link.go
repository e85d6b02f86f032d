// Package link runs the protocol over one byte stream: it decodes inbound
// frames, answers commands through a dispatcher, correlates replies with
// outstanding calls, and polls for expired requests.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/danmuck/divelink/internal/dispatch"
	"github.com/danmuck/divelink/internal/observability"
	"github.com/danmuck/divelink/internal/protocol"
	"github.com/danmuck/divelink/internal/protocol/frame"
	"github.com/danmuck/divelink/internal/protocol/payload"
	"github.com/danmuck/divelink/internal/protocol/schema"
	"github.com/danmuck/divelink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("link: closed")

// ChecksumDetail is the diagnostic carried by an InternalError reply that
// asks the peer to retransmit a damaged command.
const ChecksumDetail = "checksum"

// UnknownKindDetail is the diagnostic for a frame whose kind byte is not
// defined.
const UnknownKindDetail = "unknown kind"

type Config struct {
	Node    string
	Session session.Config
}

// PeerError is an Error-kind frame received in reply to a call.
type PeerError struct {
	Sequence uint16
	Body     payload.ErrorBody
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("link: peer error seq=%d: %s", e.Sequence, e.Body.String())
}

func (e *PeerError) Unwrap() error { return e.Body.Code }

type result struct {
	msg protocol.Message
	err error
}

// Link is one protocol endpoint bound to a stream. Run must be active for
// calls to complete or time out.
type Link struct {
	rw         io.ReadWriter
	codec      *protocol.Codec
	tracker    *session.Tracker
	dispatcher dispatch.Dispatcher
	cfg        session.Config
	node       string
	now        func() time.Time
	backoff    *session.Backoff
	wait       func(context.Context, time.Duration) error

	writeMu sync.Mutex

	mu      sync.Mutex
	waiters map[uint16]chan result
	running bool

	done      chan struct{}
	closeOnce sync.Once
}

// New binds a link to rw. Nil collaborators get defaults: the TLV codec, a
// fresh tracker, and a router with no handlers.
func New(rw io.ReadWriter, codec *protocol.Codec, tracker *session.Tracker, d dispatch.Dispatcher, cfg Config) *Link {
	if codec == nil {
		codec = protocol.NewCodec(nil)
	}
	if tracker == nil {
		tracker = session.NewTracker()
	}
	if d == nil {
		d = dispatch.NewRouter()
	}
	if cfg.Node == "" {
		cfg.Node = "divelink"
	}
	return &Link{
		rw:         rw,
		codec:      codec,
		tracker:    tracker,
		dispatcher: d,
		cfg:        cfg.Session.WithDefaults(),
		node:       cfg.Node,
		now:        time.Now,
		backoff:    session.NewBackoff(cfg.Session.WithDefaults().Backoff, nil),
		waiters:    make(map[uint16]chan result),
		done:       make(chan struct{}),
	}
}

func (l *Link) Tracker() *session.Tracker { return l.tracker }

// Pending lists outstanding requests in send order.
func (l *Link) Pending() []session.Pending { return l.tracker.Pending() }

// Running reports whether Run is active.
func (l *Link) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Done is closed when Run returns.
func (l *Link) Done() <-chan struct{} { return l.done }

// Run services the stream until ctx is done or the stream fails. A clean EOF
// or cancellation returns nil. The caller owns rw and should close it after
// Run returns to release the reader.
func (l *Link) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("link: already running")
	}
	l.running = true
	l.mu.Unlock()
	defer l.shutdown()

	reads := make(chan []byte)
	readErr := make(chan error, 1)
	go l.readLoop(reads, readErr)

	ticker := time.NewTicker(l.cfg.ExpireInterval)
	defer ticker.Stop()

	dec := protocol.NewStreamDecoder(l.codec)
	var discarded uint64
	log.Info().Str("node", l.node).Msg("link: running")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				log.Info().Str("node", l.node).Msg("link: peer closed stream")
				return nil
			}
			return fmt.Errorf("link: read: %w", err)
		case chunk := <-reads:
			dec.Feed(chunk)
			l.drain(ctx, dec)
			observability.RecordDiscarded(l.node, dec.Discarded()-discarded)
			discarded = dec.Discarded()
		case <-ticker.C:
			l.expire(l.now())
		}
	}
}

func (l *Link) readLoop(out chan<- []byte, errs chan<- error) {
	buf := make([]byte, l.cfg.ReadBufferSize)
	for {
		n, err := l.rw.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case out <- chunk:
			case <-l.done:
				return
			}
		}
		if err != nil {
			errs <- err
			return
		}
	}
}

func (l *Link) shutdown() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.mu.Lock()
	l.running = false
	waiters := l.waiters
	l.waiters = make(map[uint16]chan result)
	l.mu.Unlock()
	for seq, ch := range waiters {
		l.tracker.Cancel(seq)
		ch <- result{err: ErrClosed}
	}
	observability.SetPending(l.node, l.tracker.Len())
	log.Info().Str("node", l.node).Msg("link: stopped")
}

func (l *Link) drain(ctx context.Context, dec *protocol.StreamDecoder) {
	for {
		msg, err := dec.Next()
		if errors.Is(err, frame.ErrIncomplete) {
			return
		}
		if err != nil {
			l.rejected(err)
			continue
		}
		observability.RecordFrame(l.node, "in", msg.Kind())
		l.handle(ctx, msg)
	}
}

func (l *Link) handle(ctx context.Context, msg protocol.Message) {
	switch body := msg.Body.(type) {
	case payload.Command:
		resp := l.dispatcher.HandleCommand(ctx, body)
		resp.CommandID = uint32(msg.Sequence())
		if err := l.send(msg.Sequence(), resp); err != nil {
			log.Warn().Str("node", l.node).Uint16("seq", msg.Sequence()).Err(err).Msg("link: response not sent")
		}
	case payload.Notification:
		l.dispatcher.HandleNotification(ctx, body)
	default:
		l.resolve(msg)
	}
}

func (l *Link) resolve(msg protocol.Message) {
	if _, err := l.tracker.Resolve(msg); err != nil {
		observability.RecordUnexpectedReply(l.node)
		log.Warn().
			Str("node", l.node).
			Stringer("kind", msg.Kind()).
			Uint16("seq", msg.Sequence()).
			Msg("link: unexpected reply")
		return
	}
	observability.SetPending(l.node, l.tracker.Len())
	var err error
	if eb, ok := msg.Body.(payload.ErrorBody); ok {
		err = &PeerError{Sequence: msg.Sequence(), Body: eb}
	}
	l.deliver(msg.Sequence(), result{msg: msg, err: err})
}

// rejected handles a frame the decoder skipped. Commands and frames of an
// unknown kind with a trustworthy header get an Error-kind reply under the
// same sequence; replies fail their pending call early.
func (l *Link) rejected(err error) {
	observability.RecordDecodeError(l.node, err)
	h, ok := protocol.HeaderOf(err)
	event := log.Warn().Str("node", l.node).Err(err)
	if ok {
		event = event.Stringer("kind", h.Kind).Uint16("seq", h.Sequence)
	}
	event.Msg("link: frame discarded")
	if !ok {
		return
	}

	switch {
	case h.Kind == frame.KindCommand || !h.Kind.Valid():
		reply := errorReply(err)
		if sendErr := l.send(h.Sequence, reply); sendErr != nil {
			log.Warn().Str("node", l.node).Uint16("seq", h.Sequence).Err(sendErr).Msg("link: error reply not sent")
		}
	case h.Kind.IsReply():
		if _, found := l.tracker.Cancel(h.Sequence); found {
			observability.SetPending(l.node, l.tracker.Len())
			l.deliver(h.Sequence, result{err: err})
		}
	}
}

// errorReply picks the code reported for an undecodable command.
func errorReply(err error) payload.ErrorBody {
	var cfe *frame.CorruptFrameError
	if errors.As(err, &cfe) {
		return payload.ErrorBody{Code: payload.InternalError, Detail: []byte(ChecksumDetail)}
	}
	var verr schema.ValidationError
	if errors.As(err, &verr) && verr.Reason == "unknown tag" {
		return payload.ErrorBody{Code: payload.InvalidCommand, Detail: []byte(verr.Reason)}
	}
	if errors.Is(err, payload.ErrUnknownKind) {
		return payload.ErrorBody{Code: payload.InvalidCommand, Detail: []byte(UnknownKindDetail)}
	}
	if errors.Is(err, payload.ErrEmptyPayload) {
		return payload.ErrorBody{Code: payload.InvalidCommand}
	}
	detail := "decode"
	if errors.As(err, &verr) {
		detail = verr.Reason
	}
	return payload.ErrorBody{Code: payload.InvalidParameters, Detail: []byte(detail)}
}

func (l *Link) expire(now time.Time) {
	expired := l.tracker.Expire(now)
	if len(expired) == 0 {
		return
	}
	observability.SetPending(l.node, l.tracker.Len())
	for _, p := range expired {
		log.Warn().
			Str("node", l.node).
			Uint16("seq", p.Sequence).
			Dur("waited", now.Sub(p.SentAt)).
			Msg("link: request timed out")
		l.deliver(p.Sequence, result{err: fmt.Errorf("%w: seq=%d", session.ErrTimedOut, p.Sequence)})
	}
}

func (l *Link) deliver(seq uint16, r result) {
	l.mu.Lock()
	ch, ok := l.waiters[seq]
	delete(l.waiters, seq)
	l.mu.Unlock()
	if ok {
		ch <- r
	}
}

// send encodes body under seq and writes it as one frame.
func (l *Link) send(seq uint16, body payload.Body) error {
	b, err := l.codec.Encode(seq, body)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if dl, ok := l.rw.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = dl.SetWriteDeadline(l.now().Add(l.cfg.WriteTimeout))
	}
	if _, err := l.rw.Write(b); err != nil {
		return fmt.Errorf("link: write: %w", err)
	}
	observability.RecordFrame(l.node, "out", body.Kind())
	log.Debug().
		Str("node", l.node).
		Stringer("kind", body.Kind()).
		Uint16("seq", seq).
		Int("len", len(b)-frame.Overhead).
		Msg("link: frame sent")
	return nil
}

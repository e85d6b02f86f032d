package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/divelink/internal/observability"
	"github.com/danmuck/divelink/internal/protocol"
	"github.com/danmuck/divelink/internal/protocol/frame"
	"github.com/danmuck/divelink/internal/protocol/payload"
	"github.com/danmuck/divelink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Call sends cmd and waits for the correlated reply. Attempts that time out
// or come back damaged are retried with backoff up to MaxAttempts; each
// attempt uses a fresh sequence so a late reply cannot satisfy a newer one.
//
// An Error-kind reply returns the message together with a *PeerError.
func (l *Link) Call(ctx context.Context, cmd payload.Command) (protocol.Message, error) {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := l.sleepBackoff(ctx, attempt-1); err != nil {
				return protocol.Message{}, err
			}
		}
		msg, err := l.attempt(ctx, cmd)
		if err == nil || !retryable(err) {
			return msg, err
		}
		lastErr = err
		log.Warn().
			Str("node", l.node).
			Stringer("op", cmd.Op).
			Int("attempt", attempt).
			Err(err).
			Msg("link: call attempt failed")
	}
	return protocol.Message{}, fmt.Errorf("link: %s failed after %d attempts: %w", cmd.Op, l.cfg.MaxAttempts, lastErr)
}

// Command is Call for callers that want a Response. Ack replies become a
// successful Response with an AckInfo payload; error responses and Error-kind
// replies also return an error wrapping the code.
func (l *Link) Command(ctx context.Context, cmd payload.Command) (payload.Response, error) {
	msg, err := l.Call(ctx, cmd)
	if err != nil {
		var pe *PeerError
		if errors.As(err, &pe) {
			return payload.Failure(pe.Body.Code), err
		}
		return payload.Response{}, err
	}
	switch body := msg.Body.(type) {
	case payload.Response:
		if code, failed := body.Err(); failed {
			return body, fmt.Errorf("link: %s: %w", cmd.Op, code)
		}
		return body, nil
	case payload.Ack:
		return payload.Response{Status: payload.StatusSuccess, CommandID: uint32(msg.Sequence()), Payload: payload.AckInfo{}}, nil
	default:
		return payload.Response{}, fmt.Errorf("link: %s: unexpected reply %s", cmd.Op, msg.Kind())
	}
}

// Notify sends an unsolicited notification. No reply is tracked.
func (l *Link) Notify(_ context.Context, n payload.Notification) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	return l.send(l.tracker.Allocate(), n)
}

func (l *Link) attempt(ctx context.Context, cmd payload.Command) (protocol.Message, error) {
	select {
	case <-l.done:
		return protocol.Message{}, ErrClosed
	default:
	}

	seq := l.tracker.Allocate()
	ch := make(chan result, 1)
	l.mu.Lock()
	l.waiters[seq] = ch
	l.mu.Unlock()
	defer l.dropWaiter(seq)

	sentAt := l.now()
	if err := l.tracker.Register(seq, sentAt, sentAt.Add(l.cfg.RequestTimeout), nil); err != nil {
		return protocol.Message{}, err
	}
	observability.SetPending(l.node, l.tracker.Len())
	if err := l.send(seq, cmd); err != nil {
		l.tracker.Cancel(seq)
		observability.SetPending(l.node, l.tracker.Len())
		return protocol.Message{}, err
	}

	op := cmd.Op.String()
	select {
	case r := <-ch:
		outcome := "matched"
		switch {
		case errors.Is(r.err, session.ErrTimedOut):
			outcome = "timed_out"
		case r.err != nil:
			outcome = "error"
		}
		observability.RecordRequest(l.node, op, outcome, l.now().Sub(sentAt))
		return r.msg, r.err
	case <-ctx.Done():
		l.tracker.Cancel(seq)
		observability.SetPending(l.node, l.tracker.Len())
		observability.RecordRequest(l.node, op, "canceled", 0)
		return protocol.Message{}, ctx.Err()
	case <-l.done:
		l.tracker.Cancel(seq)
		return protocol.Message{}, ErrClosed
	}
}

func (l *Link) dropWaiter(seq uint16) {
	l.mu.Lock()
	delete(l.waiters, seq)
	l.mu.Unlock()
}

// sleepBackoff pauses before resend number retry.
func (l *Link) sleepBackoff(ctx context.Context, retry int) error {
	delay := l.backoff.Delay(retry)
	if l.wait != nil {
		return l.wait(ctx, delay)
	}
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	case <-timer.C:
		return nil
	}
}

// retryable reports whether a fresh attempt could succeed: the request timed
// out, the reply was damaged in transit, or the peer asked for a resend.
func retryable(err error) bool {
	if errors.Is(err, session.ErrTimedOut) || errors.Is(err, frame.ErrPayloadChecksumMismatch) {
		return true
	}
	var pe *PeerError
	if errors.As(err, &pe) {
		return pe.Body.Code == payload.InternalError && string(pe.Body.Detail) == ChecksumDetail
	}
	return false
}

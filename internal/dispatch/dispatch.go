// Package dispatch routes decoded commands and notifications to domain
// handlers and packages their results as responses.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/divelink/internal/protocol/payload"
	"github.com/rs/zerolog/log"
)

var (
	ErrHandlerExists = errors.New("dispatch: handler already registered")
	ErrHandlerNil    = errors.New("dispatch: handler is nil")
)

// Dispatcher is what the link layer calls for each inbound message. Calls are
// synchronous; implementations choose their own concurrency.
type Dispatcher interface {
	HandleCommand(ctx context.Context, cmd payload.Command) payload.Response
	HandleNotification(ctx context.Context, n payload.Notification)
}

// CommandHandler answers one command op. A non-nil error becomes an error
// response; wrap a payload.ErrorCode to choose the code.
type CommandHandler func(ctx context.Context, cmd payload.Command) (payload.ResponsePayload, error)

type NotificationHandler func(ctx context.Context, n payload.Notification)

// InProgress marks a handler result as accepted but not yet complete. The
// response carries StatusInProgress and the wrapped payload.
type InProgress struct {
	payload.ResponsePayload
}

// Router is a Dispatcher backed by per-tag handler tables.
type Router struct {
	mu            sync.RWMutex
	commands      map[payload.CommandOp]CommandHandler
	notifications map[payload.NotificationType]NotificationHandler
	now           func() time.Time
	lastID        atomic.Uint32
}

var _ Dispatcher = (*Router)(nil)

func NewRouter() *Router {
	return &Router{
		commands:      make(map[payload.CommandOp]CommandHandler),
		notifications: make(map[payload.NotificationType]NotificationHandler),
		now:           time.Now,
	}
}

// SetClock replaces the timestamp source used for responses.
func (r *Router) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Handle registers h for op.
func (r *Router) Handle(op payload.CommandOp, h CommandHandler) error {
	if h == nil {
		return ErrHandlerNil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[op]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, op)
	}
	r.commands[op] = h
	return nil
}

// OnNotification registers h for notifications of typ.
func (r *Router) OnNotification(typ payload.NotificationType, h NotificationHandler) error {
	if h == nil {
		return ErrHandlerNil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.notifications[typ]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, typ)
	}
	r.notifications[typ] = h
	return nil
}

// Ops lists registered command ops in tag order.
func (r *Router) Ops() []payload.CommandOp {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]payload.CommandOp, 0, len(r.commands))
	for op := range r.commands {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HandleCommand runs the handler for cmd.Op. Unregistered ops answer
// InvalidCommand. The response ID and timestamp are filled here.
func (r *Router) HandleCommand(ctx context.Context, cmd payload.Command) payload.Response {
	r.mu.RLock()
	h, ok := r.commands[cmd.Op]
	now := r.now
	r.mu.RUnlock()

	var resp payload.Response
	switch {
	case !ok:
		log.Debug().Stringer("op", cmd.Op).Msg("dispatch: no handler")
		resp = payload.Failure(payload.InvalidCommand)
	default:
		p, err := h(ctx, cmd)
		if err != nil {
			code := CodeOf(err)
			log.Debug().Stringer("op", cmd.Op).Uint8("code", uint8(code)).Err(err).Msg("dispatch: command failed")
			resp = payload.Failure(code)
		} else if ip, ok := p.(InProgress); ok {
			resp = payload.Response{Status: payload.StatusInProgress, Payload: ip.ResponsePayload}
		} else {
			resp = payload.Success(p)
		}
	}
	resp.ID = r.lastID.Add(1)
	resp.Timestamp = uint64(now().Unix())
	return resp
}

// HandleNotification runs the handler for n.Type; unhandled types are dropped.
func (r *Router) HandleNotification(ctx context.Context, n payload.Notification) {
	r.mu.RLock()
	h, ok := r.notifications[n.Type]
	r.mu.RUnlock()
	if !ok {
		log.Debug().Stringer("type", n.Type).Msg("dispatch: notification ignored")
		return
	}
	h(ctx, n)
}

// CodeOf maps a handler error to the code sent on the wire. Errors that do
// not wrap a payload.ErrorCode map to InternalError; context expiry maps to
// Timeout.
func CodeOf(err error) payload.ErrorCode {
	var code payload.ErrorCode
	switch {
	case err == nil:
		return 0
	case errors.As(err, &code):
		return code
	case errors.Is(err, context.DeadlineExceeded):
		return payload.Timeout
	default:
		return payload.InternalError
	}
}

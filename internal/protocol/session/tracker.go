package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/divelink/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnexpectedResponse = errors.New("session: unexpected response")
	ErrTimedOut           = errors.New("session: request timed out")
	ErrSequenceInUse      = errors.New("session: sequence already pending")
)

// State is the lifecycle position of one request.
type State uint8

const (
	StateSent State = iota
	StateMatched
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StateMatched:
		return "matched"
	case StateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Expectation decides whether an inbound message answers a pending request.
type Expectation func(protocol.Message) bool

// ExpectReply accepts any Response, Ack or Error frame.
func ExpectReply(msg protocol.Message) bool {
	return msg.Kind().IsReply()
}

// Pending tracks one request awaiting a correlated reply.
type Pending struct {
	Sequence uint16
	SentAt   time.Time
	Deadline time.Time
	State    State
	Expect   Expectation
}

// Tracker allocates sequence numbers and correlates replies for one session.
// A Tracker is safe for concurrent use; allocation is serialized.
type Tracker struct {
	mu      sync.Mutex
	last    uint16
	pending map[uint16]Pending
}

func NewTracker() *Tracker {
	return &Tracker{pending: make(map[uint16]Pending)}
}

// Allocate returns the next sequence number, wrapping after 65535.
func (t *Tracker) Allocate() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last++
	return t.last
}

// Register starts tracking sequence. A nil expect selects ExpectReply.
func (t *Tracker) Register(sequence uint16, sentAt, deadline time.Time, expect Expectation) error {
	if expect == nil {
		expect = ExpectReply
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[sequence]; exists {
		return fmt.Errorf("%w: seq=%d", ErrSequenceInUse, sequence)
	}
	t.pending[sequence] = Pending{
		Sequence: sequence,
		SentAt:   sentAt,
		Deadline: deadline,
		State:    StateSent,
		Expect:   expect,
	}
	return nil
}

// Resolve matches msg against the pending entry with the same sequence and
// removes it. Unsolicited, late and duplicate replies yield
// ErrUnexpectedResponse; an entry whose expectation rejects msg is kept.
func (t *Tracker) Resolve(msg protocol.Message) (Pending, error) {
	seq := msg.Sequence()
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[seq]
	if !ok {
		log.Debug().Uint16("seq", seq).Stringer("kind", msg.Kind()).Msg("session: no pending request")
		return Pending{}, fmt.Errorf("%w: seq=%d kind=%s", ErrUnexpectedResponse, seq, msg.Kind())
	}
	if !p.Expect(msg) {
		log.Debug().Uint16("seq", seq).Stringer("kind", msg.Kind()).Msg("session: reply rejected by expectation")
		return Pending{}, fmt.Errorf("%w: seq=%d kind=%s not expected", ErrUnexpectedResponse, seq, msg.Kind())
	}
	delete(t.pending, seq)
	p.State = StateMatched
	return p, nil
}

// Expire removes and returns every entry whose deadline is not after now,
// oldest deadline first.
func (t *Tracker) Expire(now time.Time) []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Pending
	for seq, p := range t.pending {
		if p.Deadline.After(now) {
			continue
		}
		delete(t.pending, seq)
		p.State = StateTimedOut
		out = append(out, p)
	}
	sortPending(out, func(a, b Pending) bool { return a.Deadline.Before(b.Deadline) })
	return out
}

// Cancel drops a pending entry without resolving it.
func (t *Tracker) Cancel(sequence uint16) (Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[sequence]
	if ok {
		delete(t.pending, sequence)
	}
	return p, ok
}

// Pending lists outstanding requests, oldest first.
func (t *Tracker) Pending() []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Pending, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p)
	}
	sortPending(out, func(a, b Pending) bool { return a.SentAt.Before(b.SentAt) })
	return out
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Reset starts a new session: the counter restarts and pending entries are
// dropped and returned.
func (t *Tracker) Reset() []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Pending, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p)
	}
	t.pending = make(map[uint16]Pending)
	t.last = 0
	sortPending(out, func(a, b Pending) bool { return a.Sequence < b.Sequence })
	return out
}

// sortPending orders by less, breaking ties on sequence.
func sortPending(items []Pending, less func(a, b Pending) bool) {
	sort.Slice(items, func(i, j int) bool {
		if less(items[i], items[j]) {
			return true
		}
		if less(items[j], items[i]) {
			return false
		}
		return items[i].Sequence < items[j].Sequence
	})
}

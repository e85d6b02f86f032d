package session

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/divelink/internal/protocol"
	"github.com/danmuck/divelink/internal/protocol/frame"
	"github.com/danmuck/divelink/internal/protocol/payload"
	"github.com/danmuck/divelink/internal/testutil/testlog"
)

func reply(kind frame.Kind, seq uint16) protocol.Message {
	var body payload.Body
	switch kind {
	case frame.KindResponse:
		body = payload.Success(nil)
	case frame.KindAck:
		body = payload.Ack{}
	case frame.KindError:
		body = payload.ErrorBody{Code: payload.DeviceBusy}
	case frame.KindNotification:
		body = payload.Notification{Type: payload.NotifyBatteryLow}
	default:
		body = payload.Identify()
	}
	return protocol.Message{Header: frame.Header{Version: frame.Version, Kind: kind, Sequence: seq}, Body: body}
}

func TestBackoffGrowthWithoutJitter(t *testing.T) {
	testlog.Start(t)
	b := NewBackoff(BackoffConfig{InitialDelay: 40 * time.Millisecond, Multiplier: 3, MaxDelay: time.Second}, nil)
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{retry: 0, want: 0},
		{retry: 1, want: 40 * time.Millisecond},
		{retry: 2, want: 120 * time.Millisecond},
		{retry: 3, want: 360 * time.Millisecond},
		{retry: 4, want: time.Second},
	}
	for _, tc := range cases {
		if got := b.Delay(tc.retry); got != tc.want {
			t.Fatalf("retry %d: got %v want %v", tc.retry, got, tc.want)
		}
	}
}

func TestBackoffJittersFirstRetry(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig().Backoff
	b := NewBackoff(cfg, rand.NewSource(7))
	seen := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		got := b.Delay(1)
		if got < cfg.InitialDelay/2 || got >= cfg.InitialDelay*3/2 {
			t.Fatalf("first retry delay out of range: %v", got)
		}
		seen[got] = true
	}
	if len(seen) < 2 {
		t.Fatalf("first retry was not jittered: %v", seen)
	}
}

func TestBackoffJitterRespectsMaxDelay(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 250 * time.Millisecond, Jitter: true}
	b := NewBackoff(cfg, rand.NewSource(3))
	for i := 0; i < 50; i++ {
		if got := b.Delay(5); got > cfg.MaxDelay || got < cfg.MaxDelay/2 {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{RequestTimeout: 5 * time.Second}.WithDefaults()
	d := DefaultConfig()
	if cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("explicit timeout overwritten: %v", cfg.RequestTimeout)
	}
	if cfg.MaxAttempts != d.MaxAttempts || cfg.ExpireInterval != d.ExpireInterval || cfg.Backoff != d.Backoff {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestAllocateWraps(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker()
	if got := tr.Allocate(); got != 1 {
		t.Fatalf("first sequence got=%d", got)
	}
	tr.last = 0xFFFE
	if got := tr.Allocate(); got != 0xFFFF {
		t.Fatalf("got=%d", got)
	}
	if got := tr.Allocate(); got != 0 {
		t.Fatalf("expected wrap to 0, got=%d", got)
	}
	tr.Reset()
	if got := tr.Allocate(); got != 1 {
		t.Fatalf("reset should restart counter, got=%d", got)
	}
}

func TestResolveMatchesExactlyOnce(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker()
	now := time.Unix(1700000000, 0)
	seq := tr.Allocate()
	if err := tr.Register(seq, now, now.Add(time.Second), nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	p, err := tr.Resolve(reply(frame.KindResponse, seq))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Sequence != seq || p.State != StateMatched || !p.SentAt.Equal(now) {
		t.Fatalf("unexpected pending: %+v", p)
	}
	if _, err := tr.Resolve(reply(frame.KindResponse, seq)); !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("expected ErrUnexpectedResponse on duplicate, got %v", err)
	}
	if tr.Len() != 0 {
		t.Fatalf("expected empty tracker")
	}
}

func TestResolveAcceptsAckAndError(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker()
	now := time.Now()
	for _, kind := range []frame.Kind{frame.KindAck, frame.KindError} {
		seq := tr.Allocate()
		if err := tr.Register(seq, now, now.Add(time.Second), nil); err != nil {
			t.Fatalf("register: %v", err)
		}
		if _, err := tr.Resolve(reply(kind, seq)); err != nil {
			t.Fatalf("%s should resolve: %v", kind, err)
		}
	}
}

func TestResolveRejectedByExpectationKeepsEntry(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker()
	now := time.Now()
	if err := tr.Register(3, now, now.Add(time.Second), nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := tr.Resolve(reply(frame.KindNotification, 3)); !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("notification must not resolve a request, got %v", err)
	}
	if tr.Len() != 1 {
		t.Fatalf("pending entry should survive")
	}
	onlyAck := func(m protocol.Message) bool { return m.Kind() == frame.KindAck }
	if err := tr.Register(4, now, now.Add(time.Second), onlyAck); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := tr.Resolve(reply(frame.KindResponse, 4)); !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if _, err := tr.Resolve(reply(frame.KindAck, 4)); err != nil {
		t.Fatalf("ack should resolve: %v", err)
	}
}

func TestRegisterRejectsDuplicateSequence(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker()
	now := time.Now()
	if err := tr.Register(9, now, now.Add(time.Second), nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := tr.Register(9, now, now.Add(time.Second), nil); !errors.Is(err, ErrSequenceInUse) {
		t.Fatalf("expected ErrSequenceInUse, got %v", err)
	}
}

func TestExpireReturnsOverdueOldestFirst(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker()
	base := time.Unix(1700000000, 0)
	_ = tr.Register(1, base, base.Add(3*time.Second), nil)
	_ = tr.Register(2, base, base.Add(1*time.Second), nil)
	_ = tr.Register(3, base, base.Add(10*time.Second), nil)

	if got := tr.Expire(base); len(got) != 0 {
		t.Fatalf("nothing should expire yet: %+v", got)
	}
	got := tr.Expire(base.Add(3 * time.Second))
	if len(got) != 2 || got[0].Sequence != 2 || got[1].Sequence != 1 {
		t.Fatalf("unexpected expired set: %+v", got)
	}
	for _, p := range got {
		if p.State != StateTimedOut {
			t.Fatalf("expected timed_out, got %s", p.State)
		}
	}
	if _, err := tr.Resolve(reply(frame.KindResponse, 1)); !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("late reply must be unexpected, got %v", err)
	}
	if tr.Len() != 1 {
		t.Fatalf("expected one pending entry, got %d", tr.Len())
	}
}

func TestCancelAndPendingListing(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker()
	base := time.Unix(1700000000, 0)
	_ = tr.Register(7, base.Add(2*time.Second), base.Add(5*time.Second), nil)
	_ = tr.Register(5, base, base.Add(5*time.Second), nil)

	list := tr.Pending()
	if len(list) != 2 || list[0].Sequence != 5 || list[1].Sequence != 7 {
		t.Fatalf("unexpected listing: %+v", list)
	}
	if _, ok := tr.Cancel(5); !ok {
		t.Fatalf("cancel should find seq 5")
	}
	if _, ok := tr.Cancel(5); ok {
		t.Fatalf("second cancel should miss")
	}
	dropped := tr.Reset()
	if len(dropped) != 1 || dropped[0].Sequence != 7 {
		t.Fatalf("unexpected reset result: %+v", dropped)
	}
}

func TestStateString(t *testing.T) {
	testlog.Start(t)
	if StateTimedOut.String() != "timed_out" || State(9).String() != "state(9)" {
		t.Fatalf("unexpected state names")
	}
}

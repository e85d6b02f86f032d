package session

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff computes the pause before each retry of a call. It is safe for
// concurrent use.
type Backoff struct {
	cfg BackoffConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoff seeds a jitter source from src; a nil src uses the clock.
func NewBackoff(cfg BackoffConfig, src rand.Source) *Backoff {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Backoff{cfg: cfg, rng: rand.New(src)}
}

// Delay returns the pause before retry n, where n=1 is the first resend.
// The base delay grows by Multiplier per retry and is capped at MaxDelay.
// With Jitter every retry, the first included, is scaled into
// [0.5, 1.5) of its base and capped again.
func (b *Backoff) Delay(retry int) time.Duration {
	base := b.cfg.base(retry)
	if base <= 0 || !b.cfg.Jitter {
		return base
	}
	b.mu.Lock()
	f := 0.5 + b.rng.Float64()
	b.mu.Unlock()
	d := time.Duration(float64(base) * f)
	if b.cfg.MaxDelay > 0 && d > b.cfg.MaxDelay {
		d = b.cfg.MaxDelay
	}
	return d
}

func (c BackoffConfig) base(retry int) time.Duration {
	if retry < 1 || c.InitialDelay <= 0 {
		return 0
	}
	mult := math.Max(c.Multiplier, 1)
	d := float64(c.InitialDelay) * math.Pow(mult, float64(retry-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

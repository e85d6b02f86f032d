package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines link timing and retry defaults.
type Config struct {
	RequestTimeout time.Duration
	ExpireInterval time.Duration
	WriteTimeout   time.Duration
	MaxAttempts    int
	ReadBufferSize int
	Backoff        BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		RequestTimeout: 2 * time.Second,
		ExpireInterval: 100 * time.Millisecond,
		WriteTimeout:   time.Second,
		MaxAttempts:    3,
		ReadBufferSize: 512,
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.ExpireInterval <= 0 {
		c.ExpireInterval = d.ExpireInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = d.Backoff
	}
	return c
}

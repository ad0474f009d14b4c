package connection

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff constants for reconnection to the gateway.
const (
	// InitialBackoff is the base reconnection delay.
	InitialBackoff = 250 * time.Millisecond

	// MaxBackoff is the maximum reconnection delay before jitter.
	MaxBackoff = 30 * time.Second

	// BackoffMultiplier is the factor by which backoff increases.
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum jitter as a fraction of the delay.
	JitterFactor = 0.2
)

// Backoff computes exponential backoff delays with jitter.
// The delay for a given attempt is a pure function of the attempt
// number apart from the jitter scaling.
type Backoff struct {
	mu sync.Mutex

	base       time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64

	// jitterFn returns a value in [-1, 1]. Replaceable for tests.
	jitterFn func() float64
}

// BackoffConfig allows customizing backoff parameters.
type BackoffConfig struct {
	Base       time.Duration `yaml:"base"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// NewBackoff creates a backoff policy with default settings.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{})
}

// NewBackoffWithConfig creates a backoff policy with custom settings.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Base <= 0 {
		cfg.Base = InitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = MaxBackoff
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = BackoffMultiplier
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = JitterFactor
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	return &Backoff{
		base:       cfg.Base,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		jitterFn: func() float64 {
			return 2*rng.Float64() - 1
		},
	}
}

// DelayFor returns the jittered delay for the given attempt number
// (0-indexed). The unjittered delay is base * multiplier^attempt,
// capped at the maximum; jitter then scales it by a factor in
// [1-jitter, 1+jitter]. The result is always positive.
func (b *Backoff) DelayFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := b.BaseDelayFor(attempt)

	b.mu.Lock()
	scale := 1 + b.jitter*b.jitterFn()
	b.mu.Unlock()

	jittered := time.Duration(float64(delay) * scale)
	if jittered <= 0 {
		jittered = time.Millisecond
	}
	return jittered
}

// BaseDelayFor returns the unjittered delay for the given attempt.
func (b *Backoff) BaseDelayFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := float64(b.base) * math.Pow(b.multiplier, float64(attempt))
	if d > float64(b.max) || math.IsInf(d, 1) {
		return b.max
	}
	return time.Duration(d)
}

// SetJitterFunc replaces the jitter source. fn must return values in
// [-1, 1]. Intended for tests that need deterministic delays.
func (b *Backoff) SetJitterFunc(fn func() float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jitterFn = fn
}

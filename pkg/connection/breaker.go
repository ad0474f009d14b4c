package connection

import (
	"sync"
	"time"
)

// Breaker defaults.
const (
	// DefaultFailureThreshold is the consecutive-failure count that
	// opens the breaker.
	DefaultFailureThreshold = 5

	// DefaultCooldown is how long the breaker stays open before
	// admitting a probe attempt.
	DefaultCooldown = 60 * time.Second
)

// BreakerState represents the circuit breaker state.
type BreakerState uint8

const (
	// BreakerClosed indicates normal operation; attempts pass through.
	BreakerClosed BreakerState = iota

	// BreakerOpen indicates attempts are denied until the cooldown
	// window has elapsed.
	BreakerOpen

	// BreakerHalfOpen indicates the cooldown has elapsed and a probe
	// attempt is admitted.
	BreakerHalfOpen
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens
	// the breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long the breaker stays open before going
	// half-open.
	Cooldown time.Duration `yaml:"cooldown"`
}

// Breaker gates connection attempts after repeated failures.
//
// The Open -> HalfOpen transition happens lazily when CanAttempt is
// called after the cooldown has elapsed since the last failure.
type Breaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration

	state       BreakerState
	failures    int
	lastFailure time.Time

	// now is replaceable for tests.
	now func() time.Time
}

// NewBreaker creates a circuit breaker with default settings.
func NewBreaker() *Breaker {
	return NewBreakerWithConfig(BreakerConfig{})
}

// NewBreakerWithConfig creates a circuit breaker with custom settings.
func NewBreakerWithConfig(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}

	return &Breaker{
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// RecordSuccess records a successful connection. The failure count is
// cleared, and a half-open breaker closes.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
	}
}

// RecordFailure records a failed connection attempt. Reaching the
// failure threshold opens the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.failures >= b.threshold {
		b.state = BreakerOpen
	}
}

// CanAttempt reports whether a connection attempt may proceed. When
// the breaker is open and the cooldown has elapsed, it transitions to
// half-open and admits the attempt.
func (b *Breaker) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) > b.cooldown {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	default:
		// Closed or half-open.
		return true
	}
}

// RemainingCooldown returns how long until an open breaker admits a
// probe attempt, or zero if attempts are already admitted.
func (b *Breaker) RemainingCooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return 0
	}
	remaining := b.cooldown - b.now().Sub(b.lastFailure)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// setNowFunc replaces the clock. Test hook.
func (b *Breaker) setNowFunc(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

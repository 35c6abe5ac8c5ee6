package clients

import (
	"sync"
	"time"
)

// -----------------------------------------------------------------------
// Per-host circuit breaker guarding outbound service calls. A breaker
// opens after FailureThreshold consecutive failures inside FailureWindow,
// rejects calls while open, and admits a single probe once HalfOpenAfter
// has elapsed. The probe's outcome closes or re-opens the circuit.
// -----------------------------------------------------------------------

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// BreakerConfig tunes a circuit breaker. Zero values fall back to the
// production thresholds.
type BreakerConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	HalfOpenAfter    time.Duration
}

// DefaultBreakerConfig returns the production breaker policy
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    30 * time.Second,
		HalfOpenAfter:    15 * time.Second,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = def.FailureWindow
	}
	if c.HalfOpenAfter <= 0 {
		c.HalfOpenAfter = def.HalfOpenAfter
	}
	return c
}

// Breaker tracks the failure streak for a single host
type Breaker struct {
	mu          sync.Mutex
	cfg         BreakerConfig
	state       breakerState
	failures    int
	streakStart time.Time
	openedAt    time.Time
	probing     bool
	now         func() time.Time
}

// NewBreaker creates a closed breaker with the given config
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Allow reports whether a call may proceed. While half-open only one
// probe is admitted; further callers are rejected until it resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.HalfOpenAfter {
			b.state = breakerHalfOpen
			b.probing = true
			return true
		}
		return false
	case breakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// RecordSuccess closes the circuit and resets the failure streak
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = breakerClosed
	b.failures = 0
	b.probing = false
}

// RecordFailure advances the failure streak. Failures older than the
// window do not stack; the streak restarts from the current failure.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = now
		b.probing = false
		b.failures = 0
		return
	}

	if b.failures == 0 || now.Sub(b.streakStart) > b.cfg.FailureWindow {
		b.failures = 1
		b.streakStart = now
	} else {
		b.failures++
	}

	if b.failures >= b.cfg.FailureThreshold {
		b.state = breakerOpen
		b.openedAt = now
		b.failures = 0
	}
}

// BreakerRegistry hands out one breaker per host so clients pointed at
// the same endpoint share failure history
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

// NewBreakerRegistry creates an empty registry with the given config
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a host, creating it on first use
func (r *BreakerRegistry) Get(host string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[host]; ok {
		return b
	}
	b := NewBreaker(r.cfg)
	r.breakers[host] = b
	return b
}

package breaker

import (
	"sync"
	"time"

	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core"
)

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config tunes the failure gate.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration
}

// DefaultConfig returns the stock gate settings.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker gates retry attempts after repeated consecutive failures. The
// recovery manager consults it; the transport layer never does.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	activations int64
}

// New validates cfg and returns a closed Breaker. now may be nil.
func New(cfg Config, now func() time.Time) (*Breaker, error) {
	if cfg.FailureThreshold <= 0 {
		return nil, core.NewConfigurationError("breaker failure threshold must be > 0")
	}
	if cfg.Cooldown <= 0 {
		return nil, core.NewConfigurationError("breaker cooldown must be > 0")
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{cfg: cfg, now: now, state: StateClosed}, nil
}

// RecordFailure notes a consecutive failure, opening the breaker at the
// threshold. A failure while half-open re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.activations++
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.activations++
		}
	case StateOpen:
		b.failures++
	}
}

// RecordSuccess closes the breaker and clears the failure run.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
}

// Allow reports whether an attempt may proceed. While open it observes the
// cooldown and transitions to half-open once the window has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observeCooldownLocked()
	return b.state != StateOpen
}

// State returns the current position, observing the cooldown first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observeCooldownLocked()
	return b.state
}

// Activations returns how many times the breaker has tripped open.
func (b *Breaker) Activations() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activations
}

func (b *Breaker) observeCooldownLocked() {
	if b.state != StateOpen {
		return
	}
	if b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
		b.state = StateHalfOpen
	}
}

package backoff

import (
	"math"
	"math/rand"
	"time"

	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core"
)

// Config tunes the exponential delay curve.
type Config struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter in [0,1]: each delay is scaled by a random factor in
	// [1-Jitter, 1]. Zero disables jitter.
	Jitter float64
}

// DefaultConfig returns the stock retry curve.
func DefaultConfig() Config {
	return Config{
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// Policy computes retry delays. It owns an attempt counter and nothing
// else; it performs no I/O.
type Policy struct {
	cfg     Config
	attempt int
	randFn  func() float64
}

// New validates cfg and returns a Policy. randFn may be nil; tests inject
// a deterministic source.
func New(cfg Config, randFn func() float64) (*Policy, error) {
	if cfg.BaseDelay <= 0 {
		return nil, core.NewConfigurationError("backoff base delay must be > 0")
	}
	if cfg.Multiplier <= 1 {
		return nil, core.NewConfigurationError("backoff multiplier must be > 1")
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		return nil, core.NewConfigurationError("backoff max delay must be >= base delay")
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		return nil, core.NewConfigurationError("backoff jitter must be in [0,1]")
	}
	if randFn == nil {
		randFn = rand.Float64
	}
	return &Policy{cfg: cfg, randFn: randFn}, nil
}

// NextDelay returns the delay for the given zero-based attempt. It does
// not touch the owned counter.
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.Multiplier, float64(attempt))
	if base > float64(p.cfg.MaxDelay) || math.IsInf(base, 1) {
		base = float64(p.cfg.MaxDelay)
	}
	if p.cfg.Jitter > 0 {
		base *= 1 - p.cfg.Jitter*p.randFn()
	}
	if base < float64(p.cfg.BaseDelay)*(1-p.cfg.Jitter) {
		base = float64(p.cfg.BaseDelay) * (1 - p.cfg.Jitter)
	}
	return time.Duration(base)
}

// Next returns the delay for the current attempt and advances the counter.
func (p *Policy) Next() time.Duration {
	d := p.NextDelay(p.attempt)
	p.attempt++
	return d
}

// Attempt returns the number of times Next has been called since Reset.
func (p *Policy) Attempt() int {
	return p.attempt
}

// Reset zeroes the attempt counter.
func (p *Policy) Reset() {
	p.attempt = 0
}

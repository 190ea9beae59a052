package service

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleConfig bounds the adaptive consumer fetch budget.
type ThrottleConfig struct {
	// MinRate is the floor the budget never drops below, in fetches/sec.
	MinRate float64

	// MaxRate is both the ceiling and the starting budget.
	MaxRate float64

	// Step is the additive increase applied per applied event.
	Step float64

	// Backoff is the multiplicative decrease factor applied when the
	// engine exhausts an op's retry budget.
	Backoff float64

	// Cooldown spaces out decreases. A failed bulk resolves many ops at
	// once; without spacing each of them would halve the budget again.
	Cooldown time.Duration
}

// DefaultThrottleConfig returns the standard AIMD parameters.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		MinRate:  1,
		MaxRate:  500,
		Step:     1,
		Backoff:  0.5,
		Cooldown: 2 * time.Second,
	}
}

// Throttle adapts the shared consumer fetch budget to engine health:
// additive increase while writes land, multiplicative decrease when they
// exhaust their retries. All topic consumers share one limiter, so a
// struggling engine slows every stream at once instead of starving the
// slowest.
type Throttle struct {
	limiter *rate.Limiter
	cfg     ThrottleConfig
	logger  *slog.Logger

	mu           sync.Mutex
	current      float64
	lastDecrease time.Time
}

// NewThrottle creates a Throttle driving limiter. The limiter starts at
// MaxRate; zero config fields fall back to defaults.
func NewThrottle(limiter *rate.Limiter, cfg ThrottleConfig, logger *slog.Logger) *Throttle {
	def := DefaultThrottleConfig()
	if cfg.MinRate <= 0 {
		cfg.MinRate = def.MinRate
	}
	if cfg.MaxRate <= cfg.MinRate {
		cfg.MaxRate = def.MaxRate
	}
	if cfg.Step <= 0 {
		cfg.Step = def.Step
	}
	if cfg.Backoff <= 0 || cfg.Backoff >= 1 {
		cfg.Backoff = def.Backoff
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}

	t := &Throttle{
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
		current: cfg.MaxRate,
	}
	limiter.SetLimit(rate.Limit(cfg.MaxRate))
	fetchRateLimit.Set(cfg.MaxRate)
	return t
}

// OnSuccess nudges the budget up after an applied event.
func (t *Throttle) OnSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current >= t.cfg.MaxRate {
		return
	}
	t.current += t.cfg.Step
	if t.current > t.cfg.MaxRate {
		t.current = t.cfg.MaxRate
	}
	t.apply()
}

// OnFailure halves the budget after an op exhausted its retries, at most
// once per cooldown window.
func (t *Throttle) OnFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if now.Sub(t.lastDecrease) < t.cfg.Cooldown {
		return
	}
	t.lastDecrease = now

	t.current *= t.cfg.Backoff
	if t.current < t.cfg.MinRate {
		t.current = t.cfg.MinRate
	}
	t.apply()

	t.logger.Warn("consumer fetch budget reduced",
		slog.Float64("rate", t.current),
		slog.Float64("min_rate", t.cfg.MinRate),
	)
}

// Rate returns the current budget in fetches per second.
func (t *Throttle) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Throttle) apply() {
	t.limiter.SetLimit(rate.Limit(t.current))
	fetchRateLimit.Set(t.current)
}

package ratelimit

import (
	"context"
	"math/rand/v2"
	"time"
)

// Config describes a limiter. A zero RequestsPerSecond disables limiting.
type Config struct {
	RequestsPerSecond float64
	// Jitter is the fraction of the interval (0.0 to 1.0) randomly added to waits.
	Jitter float64
}

// Limiter spaces out outbound requests to a search engine with optional
// jitter. It is safe for concurrent use by multiple goroutines.
type Limiter struct {
	ticker   *time.Ticker
	jitter   float64
	interval time.Duration
	ch       <-chan time.Time
}

// New creates a limiter from cfg. A nil *Limiter is valid and never blocks.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return &Limiter{}
	}

	jitter := min(max(cfg.Jitter, 0), 1)
	interval := time.Duration(float64(time.Second) / cfg.RequestsPerSecond)
	ticker := time.NewTicker(interval)

	return &Limiter{
		ticker:   ticker,
		jitter:   jitter,
		interval: interval,
		ch:       ticker.C,
	}
}

// Enabled reports whether Wait can block.
func (l *Limiter) Enabled() bool {
	return l != nil && l.ch != nil
}

// Interval returns the configured spacing between requests.
func (l *Limiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}

// Wait blocks until the next request slot or until ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if !l.Enabled() {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ch:
	}

	if l.jitter == 0 {
		return nil
	}

	// Only positive jitter is applied; the ticker already enforces the floor.
	extra := time.Duration(float64(l.interval) * l.jitter * (rand.Float64()*2 - 1))
	if extra <= 0 {
		return nil
	}

	timer := time.NewTimer(extra)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the underlying ticker.
func (l *Limiter) Stop() {
	if l != nil && l.ticker != nil {
		l.ticker.Stop()
	}
}

// Package ratelimit implements the token-bucket RateLimiter (§4.5) guarding
// submissions to the speech API. It wraps golang.org/x/time/rate: Acquire
// takes a reservation with ReserveN (reservations are granted in call
// order) and waits out its delay, returning ctx's error if ctx ends first.
// The package also adds the domain-shaped constructor and defaults §6 names.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultCapacity is the default token bucket burst size (§4.5, §6).
	DefaultCapacity = 20
	// DefaultRefillPerSecond is the default steady-state refill rate (§4.5, §6).
	DefaultRefillPerSecond = 20.0 / 60.0
)

// Limiter is a process-global token bucket; one instance guards one remote
// service endpoint (§7, "RateLimiter: process-global").
type Limiter struct {
	inner *rate.Limiter
}

// Option configures a Limiter.
type Option func(*config)

type config struct {
	capacity int
	refill   float64
}

// WithCapacity overrides the bucket's maximum burst size.
func WithCapacity(capacity int) Option {
	return func(c *config) { c.capacity = capacity }
}

// WithRefillPerSecond overrides the steady-state token refill rate.
func WithRefillPerSecond(refill float64) Option {
	return func(c *config) { c.refill = refill }
}

// New constructs a Limiter with the §4.5 defaults, full at construction.
func New(opts ...Option) *Limiter {
	c := &config{capacity: DefaultCapacity, refill: DefaultRefillPerSecond}
	for _, opt := range opts {
		opt(c)
	}
	l := rate.NewLimiter(rate.Limit(c.refill), c.capacity)
	return &Limiter{inner: l}
}

// Acquire blocks until n tokens are available or ctx is done; in the
// latter case it gives the reserved tokens back and returns ctx.Err(). It
// never grants more than the bucket's capacity in a single call: a request
// for more than Capacity() tokens fails at once.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	r := l.inner.ReserveN(time.Now(), n)
	if !r.OK() {
		return fmt.Errorf("ratelimit: acquire %d exceeds capacity %d", n, l.inner.Burst())
	}
	timer := time.NewTimer(r.Delay())
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// Capacity returns the configured bucket burst size.
func (l *Limiter) Capacity() int {
	return l.inner.Burst()
}

// RefillPerSecond returns the configured steady-state refill rate.
func (l *Limiter) RefillPerSecond() float64 {
	return float64(l.inner.Limit())
}

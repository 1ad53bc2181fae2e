// Package ratelimit gates outgoing calls with one token bucket per upstream
// service, so pagination loops and batches are throttled in aggregate.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limits holds the bucket configuration for one service.
type Limits struct {
	// RequestsPerSecond is the sustained refill rate.
	RequestsPerSecond float64
	// Burst is the bucket capacity.
	Burst int
}

// DefaultLimits are conservative values per service, well below Google's
// published quotas to leave headroom for other clients of the same project.
var DefaultLimits = map[string]Limits{
	"gmail":    {RequestsPerSecond: 2.0, Burst: 5},
	"drive":    {RequestsPerSecond: 8.0, Burst: 10},
	"calendar": {RequestsPerSecond: 5.0, Burst: 10},
	"docs":     {RequestsPerSecond: 5.0, Burst: 10},
	"sheets":   {RequestsPerSecond: 5.0, Burst: 10},
	"slides":   {RequestsPerSecond: 5.0, Burst: 10},
	"tasks":    {RequestsPerSecond: 5.0, Burst: 10},
}

var fallbackLimits = Limits{RequestsPerSecond: 5.0, Burst: 10}

// Limiter is the token bucket for one service. Refill is computed lazily
// from elapsed wall-clock time and capped at the burst capacity, so idle
// periods never accrue an oversized burst. A Retry-After window reported by
// the upstream additionally delays acquisition.
type Limiter struct {
	limiter *rate.Limiter

	mu      sync.Mutex
	retryAt time.Time
}

// NewLimiter creates a limiter with the given configuration.
func NewLimiter(cfg Limits) *Limiter {
	if cfg.RequestsPerSecond <= 0 || cfg.Burst <= 0 {
		cfg = fallbackLimits
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Acquire blocks until one token is available, honouring any Retry-After
// window first. It returns early with the context's error on cancellation.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if wait := time.Until(retryAt); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return l.limiter.Wait(ctx)
}

// Allow deducts a token without blocking, reporting whether one was
// available.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if time.Now().Before(retryAt) {
		return false
	}
	return l.limiter.Allow()
}

// SetRetryAfter records an upstream 429's Retry-After so the next
// acquisition waits at least that long.
func (l *Limiter) SetRetryAfter(d time.Duration) {
	if d <= 0 {
		d = time.Minute
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if at := time.Now().Add(d); at.After(l.retryAt) {
		l.retryAt = at
	}
}

// Registry hands out the shared limiter instance for each service, so every
// call within one process draws from the same bucket.
type Registry struct {
	mu        sync.Mutex
	limiters  map[string]*Limiter
	overrides map[string]Limits
}

// NewRegistry creates a registry. overrides replace the default limits for
// the named services; a nil map keeps all defaults.
func NewRegistry(overrides map[string]Limits) *Registry {
	return &Registry{
		limiters:  make(map[string]*Limiter),
		overrides: overrides,
	}
}

// For returns the limiter for a service, creating it on first use.
func (r *Registry) For(service string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[service]; ok {
		return l
	}

	cfg, ok := r.overrides[service]
	if !ok {
		cfg, ok = DefaultLimits[service]
		if !ok {
			cfg = fallbackLimits
		}
	}
	l := NewLimiter(cfg)
	r.limiters[service] = l
	return l
}

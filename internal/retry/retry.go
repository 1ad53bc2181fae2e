// Package retry classifies completed HTTP attempts and computes backoff
// delays for the ones worth repeating.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Outcome is the classification of one completed attempt.
type Outcome int

const (
	// Success means the attempt completed with a 2xx status.
	Success Outcome = iota
	// Retryable means the attempt failed transiently and may be repeated.
	Retryable
	// Terminal means the attempt failed permanently.
	Terminal
)

// Classify maps an attempt result onto an outcome. A non-nil err represents
// a transport-level failure with no HTTP status (DNS, connection reset,
// timeout); those are retryable unless the context itself was cancelled.
// 429 and 5xx are retryable; 401 and every other 4xx are terminal here (the
// API client layers its own refresh-once handling on top for 401).
func Classify(status int, err error) Outcome {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Terminal
		}
		return Retryable
	}
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == http.StatusTooManyRequests:
		return Retryable
	case status >= 500:
		return Retryable
	default:
		return Terminal
	}
}

// Policy computes backoff delays: exponential with multiplier 2 from
// BaseDelay, capped at MaxDelay, plus random jitter in [0, delay). All knobs
// are configuration inputs; the jitter and sleep functions are injectable so
// tests can assert exact delays.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Jitter returns the random addition for a computed delay. Defaults to
	// uniform in [0, d).
	Jitter func(d time.Duration) time.Duration

	// SleepFunc waits for the given duration, honouring ctx cancellation.
	SleepFunc func(ctx context.Context, d time.Duration) error
}

// NewPolicy builds a policy, substituting defaults for zero values.
func NewPolicy(maxAttempts int, base, max time.Duration) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &Policy{MaxAttempts: maxAttempts, BaseDelay: base, MaxDelay: max}
}

// Backoff is the per-call delay sequence. It is not safe for concurrent use;
// each logical request owns one.
type Backoff struct {
	policy *Policy
	exp    *backoff.ExponentialBackOff
}

// Backoff starts a fresh delay sequence for one logical request.
func (p *Policy) Backoff() *Backoff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.Multiplier = 2
	exp.MaxInterval = p.MaxDelay
	// Randomization is applied by our own jitter so it stays injectable;
	// keep the underlying sequence deterministic and monotonic.
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &Backoff{policy: p, exp: exp}
}

// Next returns the delay before the following attempt. retryAfter, when
// positive, floors the pre-jitter delay (a server's Retry-After header must
// be respected even early in the sequence).
func (b *Backoff) Next(retryAfter time.Duration) time.Duration {
	d := b.exp.NextBackOff()
	if d < retryAfter {
		d = retryAfter
	}
	jitter := b.policy.Jitter
	if jitter == nil {
		jitter = defaultJitter
	}
	return d + jitter(d)
}

func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}

// Sleep waits for d or until the context is cancelled.
func (p *Policy) Sleep(ctx context.Context, d time.Duration) error {
	if p.SleepFunc != nil {
		return p.SleepFunc(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryAfter parses a Retry-After header: either delay seconds or an HTTP
// date. Returns 0 when absent or unparseable.
func RetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

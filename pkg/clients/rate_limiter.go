// Package clients provides the outbound HTTP client, rate limiting, and
// retry machinery used by the request executor.
package clients

import (
	"context"
	"time"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
)

// RateLimiter defines the interface for rate limiting implementations.
type RateLimiter interface {
	// Allow checks if a request is allowed immediately
	Allow() bool

	// Acquire blocks until a permit is available or ctx is done. A
	// fail-fast limiter returns a rate_limit error instead of blocking.
	Acquire(ctx context.Context) error

	// Budget returns a snapshot of the current window
	Budget() RateBudget
}

// RateBudget is a snapshot of a fixed rate-limit window. Each connector
// instance owns an independent budget; instances never contend.
type RateBudget struct {
	WindowStart time.Time     `json:"window_start"`
	Window      time.Duration `json:"window"`
	MaxRequests int           `json:"max_requests"`
	Consumed    int           `json:"consumed"`
}

// Remaining returns the permits left in the current window.
func (b RateBudget) Remaining() int {
	if b.Consumed >= b.MaxRequests {
		return 0
	}
	return b.MaxRequests - b.Consumed
}

// FixedWindowLimiter implements a fixed-window counter: up to MaxRequests
// permits per window, with the counter resetting when the window elapses.
// Daily API quotas (25-5000 requests depending on credential presence) map
// directly onto this shape.
//
// The limiter is used from a single fetch path per connector instance, so
// a plain mutex-free design would do; the calls are kept unsynchronized
// against the cooperative-per-call model described in the concurrency
// notes and each instance owns its limiter exclusively.
type FixedWindowLimiter struct {
	window      time.Duration
	maxRequests int
	failFast    bool

	windowStart time.Time
	consumed    int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// LimiterOption configures a FixedWindowLimiter
type LimiterOption func(*FixedWindowLimiter)

// WithFailFast makes Acquire return an error when the budget is exhausted
// instead of blocking until the window rolls over.
func WithFailFast() LimiterOption {
	return func(l *FixedWindowLimiter) { l.failFast = true }
}

// WithLimiterClock replaces the time source, for tests.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *FixedWindowLimiter) { l.now = now }
}

// WithLimiterSleep replaces the blocking wait, for tests.
func WithLimiterSleep(sleep func(ctx context.Context, d time.Duration) error) LimiterOption {
	return func(l *FixedWindowLimiter) { l.sleep = sleep }
}

// NewFixedWindowLimiter creates a limiter granting maxRequests permits per
// window.
func NewFixedWindowLimiter(maxRequests int, window time.Duration, opts ...LimiterOption) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		window:      window,
		maxRequests: maxRequests,
		now:         time.Now,
		sleep:       contextSleep,
	}
	l.windowStart = l.now()
	for _, opt := range opts {
		opt(l)
	}
	l.windowStart = l.now()
	return l
}

// Allow consumes a permit if one is available in the current window.
func (l *FixedWindowLimiter) Allow() bool {
	l.roll()
	if l.consumed >= l.maxRequests {
		return false
	}
	l.consumed++
	return true
}

// Acquire consumes a permit, blocking until the window rolls over when the
// budget is exhausted. With fail-fast enabled it returns a rate_limit error
// immediately instead.
func (l *FixedWindowLimiter) Acquire(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}

		if l.failFast {
			return errors.Newf(errors.ErrorTypeRateLimit,
				"rate budget exhausted: %d requests in window starting %s",
				l.maxRequests, l.windowStart.Format(time.RFC3339))
		}

		wait := l.windowStart.Add(l.window).Sub(l.now())
		if wait < 0 {
			continue
		}
		if err := l.sleep(ctx, wait); err != nil {
			return errors.Wrap(err, errors.ErrorTypeRateLimit, "interrupted waiting for rate window")
		}
	}
}

// Budget returns a snapshot of the current window.
func (l *FixedWindowLimiter) Budget() RateBudget {
	l.roll()
	return RateBudget{
		WindowStart: l.windowStart,
		Window:      l.window,
		MaxRequests: l.maxRequests,
		Consumed:    l.consumed,
	}
}

// roll resets the counter when the window has elapsed.
func (l *FixedWindowLimiter) roll() {
	now := l.now()
	for now.Sub(l.windowStart) >= l.window {
		l.windowStart = l.windowStart.Add(l.window)
		l.consumed = 0
	}
}

// contextSleep waits for d or until ctx is done.
func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

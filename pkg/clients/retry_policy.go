package clients

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
)

// retryAfterDetail is the error detail key carrying an upstream
// Retry-After hint as a time.Duration.
const retryAfterDetail = "retry_after"

// RetryPolicy defines retry behavior for transient upstream failures.
// Non-transient errors (validation, security, 4xx other than 429) pass
// through untouched on the first attempt.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a retry policy with exponential backoff and jitter.
func NewRetryPolicy(maxAttempts int, initialDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
		sleep:           contextSleep,
	}
}

// DefaultRetryPolicy returns the runtime default: 3 attempts, 1s initial
// delay, exponential backoff with 25% jitter.
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(3, time.Second)
}

// Execute runs fn up to MaxAttempts times, retrying only transient
// failures. A MaxAttempts below 1 is treated as 1, so fn always runs at
// least once. Every retry is logged with the attempt number and cause. The
// returned error after exhaustion wraps the last underlying error, not a
// generic placeholder, and preserves its upstream status code.
func (rp *RetryPolicy) Execute(ctx context.Context, log *zap.Logger, fn func() error) error {
	if log == nil {
		log = zap.NewNop()
	}
	sleep := rp.sleep
	if sleep == nil {
		sleep = contextSleep
	}
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !errors.IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := retryAfterHint(err)
		if delay <= 0 {
			delay = rp.backoff(attempt)
		}

		log.Warn("transient failure, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay),
			zap.Int("status", errors.StatusCode(err)),
			zap.Error(err))

		if err := sleep(ctx, delay); err != nil {
			return errors.Wrap(lastErr, errors.ErrorTypeUpstream, "retry cancelled")
		}
	}

	return errors.Wrapf(lastErr, errors.ErrorTypeUpstream,
		"all %d attempts failed", attempts)
}

// backoff computes the delay before the given 1-based attempt retries.
func (rp *RetryPolicy) backoff(attempt int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt-1))

	if limit := float64(rp.MaxDelay); delay > limit {
		delay = limit
	}

	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		delay = delay - delta + rand.Float64()*2*delta
	}

	return time.Duration(delay)
}

// WithRetryAfter attaches an upstream Retry-After hint to an error so the
// retry policy honors it over computed backoff.
func WithRetryAfter(err *errors.Error, delay time.Duration) *errors.Error {
	if delay > 0 {
		err.WithDetail(retryAfterDetail, delay)
	}
	return err
}

// retryAfterHint extracts a Retry-After hint from an error chain.
func retryAfterHint(err error) time.Duration {
	for err != nil {
		var e *errors.Error
		if !errors.As(err, &e) {
			return 0
		}
		if d, ok := e.Details[retryAfterDetail].(time.Duration); ok {
			return d
		}
		err = e.Cause
	}
	return 0
}

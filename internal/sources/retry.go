package sources

import (
	"context"
	"time"
)

// RetryPolicy bounds how often and how fast a failing fetch is repeated.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// Multiplier scales Delay after every failed attempt; values <= 1 keep
	// the delay fixed.
	Multiplier float64
}

// DefaultRetryPolicy matches the retry section defaults. A zero policy makes a single attempt.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: 500 * time.Millisecond, Multiplier: 2}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// Retry runs fn until it succeeds, returns a non-retryable error, the
// attempt budget is spent, or ctx is done. The last error is returned.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	policy = policy.normalized()
	delay := policy.Delay
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if attempt == policy.MaxAttempts || !IsRetryable(err) {
			break
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, lastErr
			case <-timer.C:
			}
		}
		if policy.Multiplier > 1 {
			delay = time.Duration(float64(delay) * policy.Multiplier)
		}
	}
	return zero, lastErr
}

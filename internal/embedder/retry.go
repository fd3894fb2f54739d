package embedder

import (
	"context"
	"time"
)

// RetryConfig configures exponential backoff for provider calls
type RetryConfig struct {
	MaxRetries int           // total attempts, at least one
	BaseDelay  time.Duration // wait after the first failure
	MaxDelay   time.Duration // cap on any single wait; zero means uncapped
	Multiplier float64       // growth factor between waits

	// Retryable decides whether an error is worth another attempt. Nil retries every error.
	Retryable func(error) bool
}

// DefaultRetryConfig returns the backoff used by the HTTP providers
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
		Retryable:  IsRetryable,
	}
}

// delay returns the wait after failed attempt n (zero based)
func (c RetryConfig) delay(n int) time.Duration {
	d := float64(c.BaseDelay)
	for i := 0; i < n; i++ {
		d *= c.Multiplier
		if c.MaxDelay > 0 && d >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	return time.Duration(d)
}

func (c RetryConfig) attempts() int {
	if c.MaxRetries < 1 {
		return 1
	}
	return c.MaxRetries
}

// retryWithBackoff calls fn until it succeeds, the attempts run out, ctx is
// done or the error is not retryable. The last error is returned.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := config.attempts()

	for n := 0; ; n++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if n == attempts-1 || (config.Retryable != nil && !config.Retryable(err)) {
			return zero, err
		}

		timer := time.NewTimer(config.delay(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

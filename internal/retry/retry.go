// Package retry runs an operation a bounded number of times.
package retry

import (
	"context"
	"fmt"
	"time"
)

// DefaultMaxAttempts is the attempt budget used when a Policy leaves it unset.
const DefaultMaxAttempts = 3

// Policy bounds how an operation is retried.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean DefaultMaxAttempts.
	MaxAttempts int
	// Retryable decides whether an error is worth another attempt. Nil means
	// no error is retried.
	Retryable func(error) bool
	// Backoff is the wait before the second attempt; it doubles afterwards.
	Backoff time.Duration
	// MaxBackoff caps the doubled wait. Zero means no cap.
	MaxBackoff time.Duration
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// ExhaustedError reports that every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, returns a non-retryable error, the attempt
// budget runs out, or ctx is done. A non-retryable error is returned as is;
// running out of attempts returns an *ExhaustedError wrapping the last error.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	backoff := p.Backoff
	limit := p.attempts()
	var lastErr error

	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if p.Retryable == nil || !p.Retryable(err) {
			return zero, err
		}
		if attempt == limit {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, backoff, err)
		}
		if backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
			backoff *= 2
			if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		}
	}
	return zero, &ExhaustedError{Attempts: limit, Err: lastErr}
}

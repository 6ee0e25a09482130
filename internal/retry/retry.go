// Package retry runs an operation with a bounded number of attempts and a fixed
// delay between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMaxAttemptsExceeded is returned when every attempt failed with a retryable error.
	ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")
	// ErrContextCancelled is returned when the context ends while waiting to retry.
	ErrContextCancelled = errors.New("context cancelled during retry")
)

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	// Retries is the number of attempts after the first one.
	Retries int
	// Delay is the pause between two attempts.
	Delay time.Duration
	// IsRetryable reports whether a failed attempt may be repeated.
	// A nil IsRetryable retries every error.
	IsRetryable func(error) bool
	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error)
}

// MaxAttempts is Retries+1, never less than one.
func (p Policy) MaxAttempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempts
// run out. It returns the number of attempts made alongside the final error.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts()
	isRetryable := p.IsRetryable
	if isRetryable == nil {
		isRetryable = func(error) bool { return true }
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return attempt - 1, fmt.Errorf("%w: %w", ErrContextCancelled, lastErr)
		}

		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return attempt, err
		}
		if attempt == maxAttempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, fmt.Errorf("%w: %w", ErrContextCancelled, lastErr)
			case <-timer.C:
			}
		}
	}

	return maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, maxAttempts, lastErr)
}

package embeddings

import (
	"context"
	"fmt"
	"time"
)

// Policy is the retry budget for calls to an external embedding provider.
// Transient failures are retried with exponential backoff, the base delay
// doubling after each attempt. Non-retryable errors fail immediately.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Retryable classifies an error as transient. When nil every error is
	// treated as transient.
	Retryable func(error) bool
}

// DefaultPolicy matches the provider contract: 3 attempts, 1s base delay.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Retryable: retryable}
}

// ExhaustedError reports that every attempt allowed by the policy failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do runs op under the policy. It returns nil on the first success, the
// original error for a non-retryable failure, and an ExhaustedError once the
// attempt budget is spent. Context cancellation aborts the wait between
// attempts.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		err := op()
		if err == nil {
			return nil
		}
		last = err
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
	}
	return &ExhaustedError{Attempts: attempts, Last: last}
}

package indexer

import (
	"context"
	"time"
)

const (
	retryAttempts = 3
	retryBackoff  = 2 * time.Second
)

// withRetry runs fn up to retryAttempts times, backing off linearly between
// attempts (backoff * attempt number, like the job queue retry policy).
// Context cancellation aborts immediately.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < retryAttempts {
			select {
			case <-time.After(retryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

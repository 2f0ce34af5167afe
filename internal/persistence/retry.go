package persistence

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times with exponential backoff between
// tries, starting at initial. Returns nil on the first success, the last
// error once attempts are exhausted, or ctx.Err() if cancelled mid-backoff.
func Retry(ctx context.Context, attempts int, initial time.Duration, fn func(context.Context) error) error {
	backoff := initial
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}

	return lastErr
}

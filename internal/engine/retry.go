package engine

import (
	"context"
	"time"
)

// DefaultBackoffBase is the time unit for exponential retry backoff.
const DefaultBackoffBase = time.Second

// computeBackoff returns the delay before the next attempt: base * 2^attempt,
// where attempt is the 1-based index of the attempt that just failed.
func computeBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// waitForBackoff sleeps for the computed delay or returns early if the
// context is cancelled during the wait.
func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

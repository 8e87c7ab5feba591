package util

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times, sleeping between attempts with
// exponential backoff: baseDelay doubles per failure and never exceeds
// maxDelay (maxDelay <= 0 leaves the growth uncapped). Returns nil on the
// first success, the last error once attempts are exhausted, or the context
// error if ctx is cancelled between attempts.
func Retry(ctx context.Context, maxAttempts int, baseDelay, maxDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// No sleep after the final failure.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = nextDelay(delay, maxDelay)
		}
	}

	return err
}

// nextDelay doubles d, clamping at max when max is positive.
func nextDelay(d, max time.Duration) time.Duration {
	d *= 2
	if max > 0 && d > max {
		d = max
	}
	return d
}

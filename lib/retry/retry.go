// Package retry implements the backoff executor used by wallet connection setup.
package retry

import (
	"context"
	"math"
	"time"
)

// DelayFunc returns the delay to wait before re-running a failed attempt
// (0-based). A negative duration gives up and surfaces the last error.
type DelayFunc func(attempt int) time.Duration

// Do runs fn until it succeeds, the delay function gives up, or the context is
// cancelled. It returns the last error from fn when giving up.
func Do(ctx context.Context, fn func() error, delay DelayFunc) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		d := delay(attempt)
		if d < 0 {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

// Exponential returns a DelayFunc waiting base^(attempt+1) seconds and giving up
// after max attempts.
func Exponential(base float64, max int) DelayFunc {
	return func(attempt int) time.Duration {
		if attempt >= max {
			return -1
		}

		return time.Duration(math.Pow(base, float64(attempt+1))) * time.Second
	}
}

package infra

import (
	"context"
	"time"
)

// Reconnect schedule: 1s doubling up to a minute.
const (
	reconnectBase = time.Second
	reconnectCap  = time.Minute
)

// CalculateBackoff returns the reconnect delay after retryCount failed dials.
func CalculateBackoff(retryCount int) time.Duration {
	return ExponentialDelay(reconnectBase, retryCount, reconnectCap)
}

// ExponentialDelay returns base * 2^exp. A non-positive ceiling disables the cap.
// Negative exponents return base.
func ExponentialDelay(base time.Duration, exp int, ceiling time.Duration) time.Duration {
	if exp < 0 {
		return base
	}

	// 2^30 * 1ms is already > 12 days, well past any sane ceiling.
	if exp > 30 {
		if ceiling > 0 {
			return ceiling
		}
		exp = 30
	}

	backoff := base * time.Duration(1<<exp)

	if ceiling > 0 && backoff > ceiling {
		return ceiling
	}

	return backoff
}

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

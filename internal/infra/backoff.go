package infra

import (
	"time"
)

const (
	// Standard backoff constants for connection-level retries.
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// BackoffWithBase returns base * 2^retryCount, capped at max.
// If retryCount is negative, it returns base.
func BackoffWithBase(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 0 {
		return base
	}

	// 2^30 seconds already exceeds any sane cap; stop shifting early to
	// avoid overflow.
	if retryCount > 30 {
		return max
	}

	backoff := base * time.Duration(1<<retryCount)
	if backoff > max {
		return max
	}

	return backoff
}

// CalculateBackoff returns the exponential backoff duration for a given
// retry count using the standard connection-level constants (1s..60s).
func CalculateBackoff(retryCount int) time.Duration {
	return BackoffWithBase(retryCount, baseDelay, maxDelay)
}

package retry

import "time"

// MaxDelay caps every computed backoff.
const MaxDelay = 2 * time.Minute

// ExponentialBackoff returns base * 2^attempt, capped at MaxDelay.
// Negative attempts are treated as zero.
func ExponentialBackoff(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return MaxDelay
	}
	d := base * (1 << attempt)
	if d <= 0 || d > MaxDelay {
		return MaxDelay
	}
	return d
}

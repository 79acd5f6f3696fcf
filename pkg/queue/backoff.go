package queue

import "time"

// Backoff returns the delay before retrying after the given 1-based
// attempt: base * 2^(attempt-1), capped. Attempts below 1 get the base.
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		return base
	}
	// 2^30 * 1ms already exceeds any sane cap.
	if attempt > 31 {
		return cap
	}
	d := base << (attempt - 1)
	if d > cap || d < base {
		return cap
	}
	return d
}

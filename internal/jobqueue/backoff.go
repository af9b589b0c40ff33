package jobqueue

import "time"

// backoffDelay returns the exponential delay before retrying after the
// given completed attempt count: base * 2^(attempt-1), capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// 2^30 already exceeds any sane cap; avoid shift overflow.
	if attempt > 31 {
		return max
	}
	d := base * time.Duration(1<<(attempt-1))
	if d > max || d <= 0 {
		return max
	}
	return d
}

package jobqueue

import (
	"context"
	"sync"
	"time"
)

// limiter is a token bucket admitting at most max job starts per window,
// independent of worker concurrency. Thread-safe.
type limiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newLimiter(max int, window time.Duration) *limiter {
	if max <= 0 || window <= 0 {
		return nil
	}
	return &limiter{
		tokens:     float64(max),
		maxTokens:  float64(max),
		refillRate: float64(max) / window.Seconds(),
		lastRefill: time.Now(),
	}
}

// wait blocks until a token is available or the context is done. A nil
// limiter admits everything.
func (l *limiter) wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		need := (1 - l.tokens) / l.refillRate
		l.mu.Unlock()

		timer := time.NewTimer(time.Duration(need * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// refill adds tokens for elapsed time; caller holds the mutex.
func (l *limiter) refill() {
	now := time.Now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now
}

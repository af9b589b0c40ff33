package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelayDoublesPerAttempt(t *testing.T) {
	base := 500 * time.Millisecond
	max := 60 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 500 * time.Millisecond},
		{attempt: 2, want: time.Second},
		{attempt: 3, want: 2 * time.Second},
		{attempt: 8, want: 64 * time.Second}, // capped below
	}
	for _, tt := range tests {
		got := backoffDelay(tt.attempt, base, max)
		if tt.want > max {
			assert.Equal(t, max, got, "attempt %d", tt.attempt)
		} else {
			assert.Equal(t, tt.want, got, "attempt %d", tt.attempt)
		}
	}
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	base := 500 * time.Millisecond
	max := 60 * time.Second
	assert.Equal(t, max, backoffDelay(40, base, max))
	assert.Equal(t, max, backoffDelay(1000, base, max))
}

func TestBackoffDelayGuardsBadAttempt(t *testing.T) {
	base := 500 * time.Millisecond
	max := 60 * time.Second
	assert.Equal(t, base, backoffDelay(0, base, max))
	assert.Equal(t, base, backoffDelay(-3, base, max))
}

func TestJobRoundTrip(t *testing.T) {
	job := Job{
		ID:           "j-1",
		OrderID:      "o-1",
		AttemptsMade: 2,
		MaxAttempts:  3,
	}
	raw, err := marshalJob(job)
	require.NoError(t, err)

	back, err := unmarshalJob(raw)
	require.NoError(t, err)
	assert.Equal(t, job, back)
}

func TestJobWireContract(t *testing.T) {
	raw, err := marshalJob(Job{ID: "j", OrderID: "abc", MaxAttempts: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"j","orderId":"abc","attemptsMade":0,"maxAttempts":3}`, raw)
}

func TestFatalMarking(t *testing.T) {
	base := errors.New("order not found")
	assert.False(t, IsFatal(base))

	marked := Fatal(base)
	assert.True(t, IsFatal(marked))
	assert.Equal(t, base.Error(), marked.Error())
	assert.ErrorIs(t, marked, base)

	// Wrapping preserves the marker.
	wrapped := fmt.Errorf("attempt failed: %w", marked)
	assert.True(t, IsFatal(wrapped))

	assert.Nil(t, Fatal(nil))
}

func TestLimiterAdmitsBurstThenBlocks(t *testing.T) {
	l := newLimiter(3, time.Minute)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.wait(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "burst should not block")

	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := l.wait(blocked)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiterRefillsOverWindow(t *testing.T) {
	// 50 tokens per second: after the burst, the next token arrives in
	// roughly 20ms.
	l := newLimiter(1, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.wait(ctx))

	start := time.Now()
	require.NoError(t, l.wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestNilLimiterAdmitsEverything(t *testing.T) {
	var l *limiter
	assert.NoError(t, l.wait(context.Background()))
	assert.Nil(t, newLimiter(0, time.Minute))
}

func TestQueueDefaults(t *testing.T) {
	q := New(Config{}, nil, nil)
	assert.Equal(t, "orders", q.cfg.Name)
	assert.Equal(t, 10, q.cfg.Concurrency)
	assert.Equal(t, 3, q.cfg.MaxAttempts)
	assert.Equal(t, "queue:orders:ready", q.readyKey())
	assert.Equal(t, "queue:orders:delayed", q.delayedKey())
}

func TestQueueStartRequiresHandler(t *testing.T) {
	q := New(Config{}, nil, nil)
	err := q.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler")
}

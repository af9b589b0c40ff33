package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBroker covers just the redis surface the attempt path touches. The
// embedded interface stays nil; an unexpected call panics the test.
type fakeBroker struct {
	redis.UniversalClient

	mu      sync.Mutex
	ready   []string
	delayed []redis.Z
}

func (f *fakeBroker) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if err := ctx.Err(); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.ready = append(f.ready, v.(string))
	}
	cmd.SetVal(int64(len(f.ready)))
	return cmd
}

func (f *fakeBroker) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if err := ctx.Err(); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delayed = append(f.delayed, members...)
	cmd.SetVal(int64(len(members)))
	return cmd
}

type escalation struct {
	attempts int
	final    bool
}

func newAttemptQueue(broker *fakeBroker) (*Queue, *[]escalation) {
	q := New(Config{MaxAttempts: 3, BackoffBase: time.Millisecond}, broker, zap.NewNop())
	var seen []escalation
	q.OnFailure(func(ctx context.Context, job Job, jobErr error, isFinal bool) {
		seen = append(seen, escalation{attempts: job.AttemptsMade, final: isFinal})
	})
	return q, &seen
}

func TestRunJobCountsAttemptBeforeFailureHandler(t *testing.T) {
	broker := &fakeBroker{}
	q, seen := newAttemptQueue(broker)
	q.Process(func(ctx context.Context, job Job) error { return errors.New("venue unavailable") })

	before := time.Now().UnixMilli()
	q.runJob(context.Background(), Job{ID: "j1", OrderID: "o1", MaxAttempts: 3})

	// Exactly one escalation, and it already sees the consumed attempt.
	require.Len(t, *seen, 1)
	assert.Equal(t, 1, (*seen)[0].attempts)
	assert.False(t, (*seen)[0].final)

	// The retry lands in the delayed set carrying the incremented counter
	// and a ready time in the future.
	require.Len(t, broker.delayed, 1)
	retry, err := unmarshalJob(broker.delayed[0].Member.(string))
	require.NoError(t, err)
	assert.Equal(t, 1, retry.AttemptsMade)
	assert.GreaterOrEqual(t, int64(broker.delayed[0].Score), before)
	assert.Empty(t, broker.ready)
}

func TestRunJobFatalErrorIsFinalOnFirstAttempt(t *testing.T) {
	broker := &fakeBroker{}
	q, seen := newAttemptQueue(broker)
	q.Process(func(ctx context.Context, job Job) error {
		return Fatal(errors.New("order not found"))
	})

	q.runJob(context.Background(), Job{ID: "j1", OrderID: "o1", MaxAttempts: 3})

	require.Len(t, *seen, 1)
	assert.Equal(t, 1, (*seen)[0].attempts)
	assert.True(t, (*seen)[0].final, "fatal must override remaining budget")
	assert.Empty(t, broker.delayed, "final attempts never schedule a retry")
}

func TestRunJobExhaustedBudgetIsFinal(t *testing.T) {
	broker := &fakeBroker{}
	q, seen := newAttemptQueue(broker)
	q.Process(func(ctx context.Context, job Job) error { return errors.New("venue unavailable") })

	q.runJob(context.Background(), Job{ID: "j1", OrderID: "o1", AttemptsMade: 2, MaxAttempts: 3})

	require.Len(t, *seen, 1)
	assert.Equal(t, 3, (*seen)[0].attempts)
	assert.True(t, (*seen)[0].final)
	assert.Empty(t, broker.delayed)
}

func TestRunJobSuccessSkipsEscalation(t *testing.T) {
	broker := &fakeBroker{}
	q, seen := newAttemptQueue(broker)
	q.Process(func(ctx context.Context, job Job) error { return nil })

	q.runJob(context.Background(), Job{ID: "j1", OrderID: "o1", MaxAttempts: 3})

	assert.Empty(t, *seen)
	assert.Empty(t, broker.delayed)
	assert.Empty(t, broker.ready)
}

func TestRunJobShutdownCancellationPreservesJob(t *testing.T) {
	broker := &fakeBroker{}
	q, seen := newAttemptQueue(broker)
	ctx, cancel := context.WithCancel(context.Background())
	q.Process(func(ctx context.Context, job Job) error {
		cancel()
		return ctx.Err()
	})

	q.runJob(ctx, Job{ID: "j1", OrderID: "o1", MaxAttempts: 3})

	// Shutdown is not a failure: no escalation, no burnt attempt, and the
	// job goes straight back to the ready list for the next run.
	assert.Empty(t, *seen)
	assert.Empty(t, broker.delayed)
	require.Len(t, broker.ready, 1)
	requeued, err := unmarshalJob(broker.ready[0])
	require.NoError(t, err)
	assert.Equal(t, 0, requeued.AttemptsMade)
}

func TestRunJobRetrySchedulingSurvivesCancelledContext(t *testing.T) {
	broker := &fakeBroker{}
	q, seen := newAttemptQueue(broker)
	ctx, cancel := context.WithCancel(context.Background())
	q.Process(func(ctx context.Context, job Job) error {
		// A genuine failure that races with queue shutdown.
		cancel()
		return errors.New("venue unavailable")
	})

	q.runJob(ctx, Job{ID: "j1", OrderID: "o1", MaxAttempts: 3})

	require.Len(t, *seen, 1)
	assert.False(t, (*seen)[0].final)
	require.Len(t, broker.delayed, 1, "retry must be scheduled even after queue-context cancellation")
}

package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handler processes one job attempt. Returning an error fails the attempt;
// the queue owns all retry decisions.
type Handler func(ctx context.Context, job Job) error

// FailureHandler observes a failed attempt after the queue has incremented
// the attempt counter. isFinal is true when the retry budget is exhausted
// or the error was marked Fatal; exactly one escalation branch fires per
// failed attempt.
type FailureHandler func(ctx context.Context, job Job, jobErr error, isFinal bool)

// Config is the queue's delivery policy.
type Config struct {
	Name            string
	Concurrency     int
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	RateLimit       int
	RateWindow      time.Duration
	PromoteInterval time.Duration
}

// Queue is a redis-backed work queue. Ready jobs live on a list; retries
// wait in a delayed zset scored by their ready time and are promoted back
// onto the list by a background loop.
type Queue struct {
	cfg     Config
	rdb     redis.UniversalClient
	logger  *zap.Logger
	lim     *limiter
	handler Handler
	onFail  FailureHandler

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// New creates a Queue on the shared redis handle.
func New(cfg Config, rdb redis.UniversalClient, logger *zap.Logger) *Queue {
	if cfg.Name == "" {
		cfg.Name = "orders"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 60 * time.Second
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = 250 * time.Millisecond
	}
	return &Queue{
		cfg:    cfg,
		rdb:    rdb,
		logger: logger,
		lim:    newLimiter(cfg.RateLimit, cfg.RateWindow),
	}
}

func (q *Queue) readyKey() string   { return "queue:" + q.cfg.Name + ":ready" }
func (q *Queue) delayedKey() string { return "queue:" + q.cfg.Name + ":delayed" }

// Process registers the job handler. Must be called before Start.
func (q *Queue) Process(h Handler) { q.handler = h }

// OnFailure registers the escalation callback.
func (q *Queue) OnFailure(fh FailureHandler) { q.onFail = fh }

// Enqueue adds exactly one job for the order to the ready list.
func (q *Queue) Enqueue(ctx context.Context, orderID string) error {
	job := Job{
		ID:          uuid.New().String(),
		OrderID:     orderID,
		MaxAttempts: q.cfg.MaxAttempts,
	}
	raw, err := marshalJob(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.readyKey(), raw).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job for order %s: %w", orderID, err)
	}
	q.logger.Debug("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("order_id", orderID),
	)
	return nil
}

// Start launches the worker pool and the retry promoter.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue already started")
	}
	if q.handler == nil {
		return errors.New("queue started without a handler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.started = true

	q.wg.Add(1)
	go q.promoteLoop(ctx)

	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.workerLoop(ctx)
	}

	q.logger.Info("job queue started",
		zap.String("queue", q.cfg.Name),
		zap.Int("concurrency", q.cfg.Concurrency),
		zap.Int("max_attempts", q.cfg.MaxAttempts),
		zap.Int("rate_limit", q.cfg.RateLimit),
		zap.Duration("rate_window", q.cfg.RateWindow),
	)
	return nil
}

// Close stops intake and waits for in-flight jobs to finish or the context
// to expire.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) workerLoop(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := q.rdb.BRPop(ctx, time.Second, q.readyKey()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Error("queue pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		job, err := unmarshalJob(res[1])
		if err != nil {
			q.logger.Error("discarding malformed job payload",
				zap.String("raw", res[1]),
				zap.Error(err),
			)
			continue
		}

		// Global start limiter, independent of concurrency.
		if err := q.lim.wait(ctx); err != nil {
			// Shutting down mid-wait: push the job back for the next run.
			q.requeue(job)
			return
		}

		q.runJob(ctx, job)
	}
}

func (q *Queue) runJob(ctx context.Context, job Job) {
	start := time.Now()
	err := q.handler(ctx, job)
	jobDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		jobsProcessed.Inc()
		return
	}

	// An attempt cut down by queue shutdown is not a real failure. Put the
	// job back untouched so the next run redelivers it with its full retry
	// budget, and skip escalation entirely.
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		q.requeue(job)
		return
	}

	// The counter moves before the failure handler runs, so the handler
	// sees the attempt that just failed included in AttemptsMade.
	job.AttemptsMade++
	isFinal := job.AttemptsMade >= job.MaxAttempts || IsFatal(err)

	if q.onFail != nil {
		q.onFail(ctx, job, err, isFinal)
	}

	if isFinal {
		jobsFailed.Inc()
		return
	}
	jobsRetried.Inc()

	delay := backoffDelay(job.AttemptsMade, q.cfg.BackoffBase, q.cfg.BackoffMax)
	raw, merr := marshalJob(job)
	if merr != nil {
		q.logger.Error("failed to marshal retry job", zap.Error(merr))
		return
	}
	// Scheduling runs on a fresh context: losing the ZAdd to a cancelled
	// queue context would drop the job permanently.
	zctx, zcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer zcancel()
	score := float64(time.Now().Add(delay).UnixMilli())
	if err := q.rdb.ZAdd(zctx, q.delayedKey(), redis.Z{Score: score, Member: raw}).Err(); err != nil {
		q.logger.Error("failed to schedule retry",
			zap.String("job_id", job.ID),
			zap.String("order_id", job.OrderID),
			zap.Error(err),
		)
	}
}

// promoteLoop moves due retries from the delayed zset to the ready list.
func (q *Queue) promoteLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.PromoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteDue(ctx)
		}
	}
}

func (q *Queue) promoteDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Error("failed to read delayed jobs", zap.Error(err))
		}
		return
	}
	for _, raw := range due {
		// ZRem guards against double promotion when several queue
		// instances share the broker.
		removed, err := q.rdb.ZRem(ctx, q.delayedKey(), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.readyKey(), raw).Err(); err != nil {
			q.logger.Error("failed to promote delayed job", zap.Error(err))
		}
	}
}

// requeue pushes a popped-but-unprocessed job back onto the ready list
// using a fresh context, since the queue context is already cancelled.
func (q *Queue) requeue(job Job) {
	raw, err := marshalJob(job)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.rdb.RPush(ctx, q.readyKey(), raw).Err(); err != nil {
		q.logger.Error("failed to requeue job during shutdown",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
}

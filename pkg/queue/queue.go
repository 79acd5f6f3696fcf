// Package queue is the durable at-least-once work queue driving order
// execution: bounded concurrency, a rolling-window rate limit on job
// starts, and exponential-backoff retry up to a configured maximum.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/solroute-labs/solroute/pkg/order"
	"github.com/solroute-labs/solroute/pkg/storage"
)

// Handler processes one delivery of a job. A non-nil error triggers the
// retry policy. attempt is 1-based.
type Handler func(ctx context.Context, job order.Job, attempt int) error

// ExhaustedHandler runs after the final failed attempt.
type ExhaustedHandler func(ctx context.Context, job order.Job, attempt int, err error)

// Options tune a single enqueue.
type Options struct {
	// Priority > 0 puts the job ahead of normal work.
	Priority int
	// Delay defers the first delivery.
	Delay time.Duration
}

type Config struct {
	Concurrency int
	RateLimit   int
	RateWindow  time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	CompletedRetention time.Duration
	FailedRetention    time.Duration
	// SweepInterval is how often terminal job records are checked against
	// the retention windows. Zero disables the sweeper.
	SweepInterval time.Duration
}

// Stats is a point-in-time snapshot; counts may be momentarily
// inconsistent under concurrent mutation.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Total     int64 `json:"total"`
}

type dispatch struct {
	job order.Job
	// attempts already started for this job; the next delivery is
	// attempts+1.
	attempts int
	priority int
}

// Queue owns job records from enqueue until a worker claims them. Records
// are persisted before dispatch so a crash between claim and completion
// redelivers the job on restart.
type Queue struct {
	cfg     Config
	store   storage.JobStore
	log     *zap.SugaredLogger
	limiter *rate.Limiter

	handler   Handler
	exhausted ExhaustedHandler

	normal chan dispatch
	high   chan dispatch

	claimCtx  context.Context
	stopClaim context.CancelFunc

	workers sync.WaitGroup

	mu     sync.Mutex
	closed bool

	waiting   atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	delayed   atomic.Int64
}

func New(cfg Config, store storage.JobStore, log *zap.SugaredLogger) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	// A zero limit or window means unlimited, not a limiter that can
	// never admit a job start.
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 && cfg.RateWindow > 0 {
		perSecond := float64(cfg.RateLimit) / cfg.RateWindow.Seconds()
		limiter = rate.NewLimiter(rate.Limit(perSecond), cfg.RateLimit)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:       cfg,
		store:     store,
		log:       log,
		limiter:   limiter,
		normal:    make(chan dispatch, 4096),
		high:      make(chan dispatch, 1024),
		claimCtx:  ctx,
		stopClaim: cancel,
	}
}

// Start brings up the worker pool, recovers persisted jobs from a previous
// run, and starts the retention sweeper.
func (q *Queue) Start(handler Handler, exhausted ExhaustedHandler) error {
	q.handler = handler
	q.exhausted = exhausted

	if err := q.recover(); err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}

	for i := 0; i < q.cfg.Concurrency; i++ {
		q.workers.Add(1)
		go q.worker()
	}
	if q.cfg.SweepInterval > 0 {
		go q.sweep()
	}

	if q.log != nil {
		q.log.Infow("queue_started",
			"concurrency", q.cfg.Concurrency,
			"rate_limit", q.cfg.RateLimit,
			"rate_window", q.cfg.RateWindow,
			"max_attempts", q.cfg.MaxAttempts)
	}
	return nil
}

// Enqueue persists and dispatches one job per order. Returns the job id,
// or ErrQueueUnavailable when the queue is closed or the backing store
// rejects the write.
func (q *Queue) Enqueue(ctx context.Context, job order.Job, opts Options) (string, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return "", order.ErrQueueUnavailable
	}

	now := time.Now()
	state := storage.JobWaiting
	if opts.Delay > 0 {
		state = storage.JobDelayed
	}
	rec := storage.JobRecord{
		JobID:     job.OrderID,
		Job:       job,
		State:     state,
		Priority:  opts.Priority,
		NotBefore: now.Add(opts.Delay),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.store.SaveJob(rec); err != nil {
		return "", fmt.Errorf("%w: %v", order.ErrQueueUnavailable, err)
	}

	d := dispatch{job: job, priority: opts.Priority}
	if opts.Delay > 0 {
		q.scheduleDelayed(d, opts.Delay)
	} else if err := q.push(ctx, d); err != nil {
		return "", err
	}

	if q.log != nil {
		q.log.Infow("order_enqueued", "order_id", job.OrderID, "priority", opts.Priority, "delay", opts.Delay)
	}
	return rec.JobID, nil
}

func (q *Queue) push(ctx context.Context, d dispatch) error {
	q.waiting.Add(1)
	ch := q.normal
	if d.priority > 0 {
		ch = q.high
	}
	select {
	case ch <- d:
		return nil
	case <-ctx.Done():
		q.waiting.Add(-1)
		return ctx.Err()
	case <-q.claimCtx.Done():
		q.waiting.Add(-1)
		return order.ErrQueueUnavailable
	}
}

func (q *Queue) scheduleDelayed(d dispatch, delay time.Duration) {
	q.delayed.Add(1)
	time.AfterFunc(delay, func() {
		q.delayed.Add(-1)
		// If the queue shut down in the meantime the persisted record
		// stays delayed and is recovered on the next start.
		if q.claimCtx.Err() != nil {
			return
		}
		rec, ok, err := q.store.GetJob(d.job.OrderID)
		if err == nil && ok {
			rec.State = storage.JobWaiting
			rec.UpdatedAt = time.Now()
			_ = q.store.SaveJob(rec)
		}
		_ = q.push(q.claimCtx, d)
	})
}

func (q *Queue) worker() {
	defer q.workers.Done()
	for {
		// Drain priority work first.
		select {
		case d := <-q.high:
			q.process(d)
			continue
		default:
		}
		select {
		case <-q.claimCtx.Done():
			return
		case d := <-q.high:
			q.process(d)
		case d := <-q.normal:
			q.process(d)
		}
	}
}

func (q *Queue) process(d dispatch) {
	// Rate limit job starts; jobs over the limit wait, they never fail.
	if err := q.limiter.Wait(q.claimCtx); err != nil {
		// Shutdown while waiting: the persisted record keeps the job.
		q.waiting.Add(-1)
		return
	}

	q.waiting.Add(-1)
	q.active.Add(1)
	defer q.active.Add(-1)

	attempt := d.attempts + 1
	q.markJob(d.job.OrderID, storage.JobActive, attempt, "")

	err := q.handler(context.Background(), d.job, attempt)
	if err == nil {
		q.completed.Add(1)
		q.markJob(d.job.OrderID, storage.JobCompleted, attempt, "")
		if q.log != nil {
			q.log.Infow("job_completed", "order_id", d.job.OrderID, "attempt", attempt)
		}
		return
	}

	if attempt < q.cfg.MaxAttempts {
		delay := Backoff(attempt, q.cfg.BackoffBase, q.cfg.BackoffCap)
		if q.log != nil {
			q.log.Warnw("job_retrying", "order_id", d.job.OrderID, "attempt", attempt, "delay", delay, "err", err)
		}
		rec, ok, gerr := q.store.GetJob(d.job.OrderID)
		if gerr == nil && ok {
			rec.State = storage.JobDelayed
			rec.Attempts = attempt
			rec.LastError = err.Error()
			rec.NotBefore = time.Now().Add(delay)
			rec.UpdatedAt = time.Now()
			_ = q.store.SaveJob(rec)
		}
		q.scheduleDelayed(dispatch{job: d.job, attempts: attempt, priority: d.priority}, delay)
		return
	}

	q.failed.Add(1)
	q.markJob(d.job.OrderID, storage.JobFailed, attempt, err.Error())
	if q.log != nil {
		q.log.Errorw("job_failed", "order_id", d.job.OrderID, "attempts", attempt, "err", err)
	}
	if q.exhausted != nil {
		q.exhausted(context.Background(), d.job, attempt, err)
	}
}

func (q *Queue) markJob(id string, state storage.JobState, attempts int, lastErr string) {
	rec, ok, err := q.store.GetJob(id)
	if err != nil || !ok {
		return
	}
	rec.State = state
	rec.Attempts = attempts
	rec.UpdatedAt = time.Now()
	if lastErr != "" {
		rec.LastError = lastErr
	}
	_ = q.store.SaveJob(rec)
}

// recover re-dispatches jobs persisted by a previous run. Waiting and
// active records are delivered again (a crashed attempt is redelivered,
// hence at-least-once); delayed records keep their remaining delay.
func (q *Queue) recover() error {
	recs, err := q.store.ListJobs()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		switch rec.State {
		case storage.JobWaiting:
			_ = q.push(q.claimCtx, dispatch{job: rec.Job, attempts: rec.Attempts, priority: rec.Priority})
		case storage.JobActive:
			// Attempt was interrupted; redeliver it with the same number.
			attempts := rec.Attempts - 1
			if attempts < 0 {
				attempts = 0
			}
			_ = q.push(q.claimCtx, dispatch{job: rec.Job, attempts: attempts, priority: rec.Priority})
		case storage.JobDelayed:
			remaining := time.Until(rec.NotBefore)
			if remaining < 0 {
				remaining = 0
			}
			q.scheduleDelayed(dispatch{job: rec.Job, attempts: rec.Attempts, priority: rec.Priority}, remaining)
		}
		if rec.State == storage.JobWaiting || rec.State == storage.JobActive {
			if q.log != nil {
				q.log.Infow("job_recovered", "order_id", rec.JobID, "state", rec.State, "attempts", rec.Attempts)
			}
		}
	}
	return nil
}

// sweep removes terminal job records once their retention window expires.
func (q *Queue) sweep() {
	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.claimCtx.Done():
			return
		case <-ticker.C:
			recs, err := q.store.ListJobs()
			if err != nil {
				continue
			}
			now := time.Now()
			for _, rec := range recs {
				expired := (rec.State == storage.JobCompleted && now.Sub(rec.UpdatedAt) > q.cfg.CompletedRetention) ||
					(rec.State == storage.JobFailed && now.Sub(rec.UpdatedAt) > q.cfg.FailedRetention)
				if expired {
					_ = q.store.DeleteJob(rec.JobID)
				}
			}
		}
	}
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	s := Stats{
		Waiting:   q.waiting.Load(),
		Active:    q.active.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Delayed:   q.delayed.Load(),
	}
	s.Total = s.Waiting + s.Active + s.Completed + s.Failed + s.Delayed
	return s
}

// Close stops intake and claiming, then waits for in-flight jobs to finish
// or the context to expire.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.stopClaim()

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

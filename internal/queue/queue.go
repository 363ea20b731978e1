package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"orderproc/internal/telemetry"

	"go.uber.org/zap"
)

// Priority classes, per spec.md §6: lower numbers dispatch first.
const (
	PriorityVIP     = 1
	PriorityDefault = 5
)

// Config bounds the queue's retry, lease, and retention behavior.
type Config struct {
	Name              string
	MaxAttempts       int
	BackoffBase       time.Duration
	StallTimeout      time.Duration
	RetentionComplete int
	RetentionFailed   int
	ReaperInterval    time.Duration
}

// Queue coordinates the durable repository and the fast dispatch
// index, fanning out lifecycle transitions to subscribers.
type Queue struct {
	cfg     Config
	repo    JobRepository
	index   DispatchIndex
	backoff Backoff
	clock   Clock
	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu          sync.RWMutex
	subscribers []Subscriber

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, repo JobRepository, index DispatchIndex, logger *zap.Logger, metrics *telemetry.Metrics) *Queue {
	if cfg.ReaperInterval == 0 {
		cfg.ReaperInterval = 5 * time.Second
	}
	return &Queue{
		cfg:     cfg,
		repo:    repo,
		index:   index,
		backoff: Backoff{Base: cfg.BackoffBase},
		clock:   systemClock{},
		logger:  logger,
		metrics: metrics,
		stop:    make(chan struct{}),
	}
}

// WithClock overrides the queue's Clock, used by tests to assert exact
// backoff schedules without sleeping.
func (q *Queue) WithClock(c Clock) *Queue {
	q.clock = c
	return q
}

func (q *Queue) Subscribe(s Subscriber) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subscribers = append(q.subscribers, s)
}

func (q *Queue) notify(fn func(Subscriber)) {
	q.mu.RLock()
	subs := append([]Subscriber(nil), q.subscribers...)
	q.mu.RUnlock()
	for _, s := range subs {
		fn(s)
	}
}

// Enqueue durably persists a new waiting job and immediately makes it
// dispatchable. Priority is caller-supplied so intake can grant VIP
// preemption without the queue knowing about user tiers.
func (q *Queue) Enqueue(ctx context.Context, orderID int64, payload Payload, priority int) (*Job, error) {
	job := &Job{
		OrderID:     orderID,
		Queue:       q.cfg.Name,
		Priority:    priority,
		Payload:     payload,
		MaxAttempts: q.cfg.MaxAttempts,
		RunAt:       q.clock.Now(),
	}
	created, err := q.repo.Insert(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	if err := q.index.PushReady(ctx, q.cfg.Name, created.ID, created.Priority, created.EnqueueSeq); err != nil {
		return nil, fmt.Errorf("enqueue: index push: %w", err)
	}
	if q.metrics != nil {
		q.metrics.QueueJobsWaiting.Inc()
	}
	q.notify(func(s Subscriber) { s.OnWaiting(created) })
	return created, nil
}

// ErrEmpty means no job is currently eligible for dispatch.
var ErrEmpty = errors.New("queue: empty")

// Dispatch pops the next eligible job in priority order and leases it
// to the caller for cfg.StallTimeout.
func (q *Queue) Dispatch(ctx context.Context) (*Job, error) {
	id, ok, err := q.index.PopReady(ctx, q.cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	if !ok {
		return nil, ErrEmpty
	}
	job, err := q.repo.MarkActive(ctx, id, q.clock.Now().Add(q.cfg.StallTimeout))
	if err != nil {
		return nil, fmt.Errorf("dispatch: mark active: %w", err)
	}
	if q.metrics != nil {
		q.metrics.QueueJobsWaiting.Dec()
		q.metrics.QueueJobsActive.Inc()
	}
	q.notify(func(s Subscriber) { s.OnActive(job) })
	return job, nil
}

// Complete acknowledges successful processing.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	if err := q.repo.MarkCompleted(ctx, job.ID); err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	if q.metrics != nil {
		q.metrics.QueueJobsActive.Dec()
	}
	q.notify(func(s Subscriber) { s.OnCompleted(job) })
	return nil
}

// Fail records a transient failure. If attempts remain, it schedules a
// backoff retry; otherwise the job is dead-lettered.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	if job.Attempts >= job.MaxAttempts {
		logReason := fmt.Sprintf("exhausted %d attempts: %v", job.MaxAttempts, cause)
		return q.MoveToFailed(ctx, job, logReason)
	}
	delay := q.backoff.Delay(job.Attempts)
	runAt := q.clock.Now().Add(delay)
	updated, err := q.repo.Reschedule(ctx, job.ID, runAt, cause.Error())
	if err != nil {
		return fmt.Errorf("fail: reschedule: %w", err)
	}
	if updated.State == StateWaiting {
		if err := q.index.PushReady(ctx, q.cfg.Name, updated.ID, updated.Priority, updated.EnqueueSeq); err != nil {
			return fmt.Errorf("fail: index push: %w", err)
		}
	} else {
		if err := q.index.PushDelayed(ctx, q.cfg.Name, updated.ID, runAt.UnixNano()); err != nil {
			return fmt.Errorf("fail: index push delayed: %w", err)
		}
	}
	if q.metrics != nil {
		q.metrics.QueueJobsActive.Dec()
		q.metrics.QueueJobsRetried.Inc()
	}
	return nil
}

// MoveToFailed dead-letters a job immediately, bypassing backoff. Used
// both for exhausted retries and for business-terminal failures that
// should never be retried at all.
func (q *Queue) MoveToFailed(ctx context.Context, job *Job, reason string) error {
	updated, err := q.repo.MarkDeadLettered(ctx, job.ID, reason)
	if err != nil {
		return fmt.Errorf("move to failed: %w", err)
	}
	if q.metrics != nil {
		q.metrics.QueueJobsActive.Dec()
		q.metrics.QueueJobsDeadLettered.Inc()
	}
	q.notify(func(s Subscriber) { s.OnFailed(updated, errors.New(reason)) })
	return nil
}

// Run starts the background promotion and stall-reaper loops. It
// blocks until ctx is cancelled or Stop is called.
func (q *Queue) Run(ctx context.Context) {
	q.wg.Add(2)
	go q.promoteLoop(ctx)
	go q.reapLoop(ctx)
	q.wg.Wait()
}

// Stop signals the background loops to exit and waits for them.
func (q *Queue) Stop() {
	close(q.stop)
	q.wg.Wait()
}

func (q *Queue) promoteLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-ticker.C:
			if err := q.promoteDue(ctx); err != nil {
				q.logger.Error("promote due jobs failed", zap.Error(err))
			}
		}
	}
}

func (q *Queue) promoteDue(ctx context.Context) error {
	ids, err := q.index.PromoteDue(ctx, q.cfg.Name, q.clock.Now().UnixNano(), 100)
	if err != nil {
		return err
	}
	for _, id := range ids {
		job, err := q.repo.MarkWaiting(ctx, id)
		if err != nil {
			q.logger.Error("mark waiting after promote failed", zap.String("job_id", id), zap.Error(err))
			continue
		}
		if err := q.index.PushReady(ctx, q.cfg.Name, job.ID, job.Priority, job.EnqueueSeq); err != nil {
			q.logger.Error("push ready after promote failed", zap.String("job_id", id), zap.Error(err))
			continue
		}
		q.notify(func(s Subscriber) { s.OnWaiting(job) })
	}
	return nil
}

func (q *Queue) reapLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-ticker.C:
			if err := q.reapStalled(ctx); err != nil {
				q.logger.Error("reap stalled jobs failed", zap.Error(err))
			}
			if err := q.reconcileDelayed(ctx); err != nil {
				q.logger.Error("reconcile delayed jobs failed", zap.Error(err))
			}
			if err := q.Prune(ctx); err != nil {
				q.logger.Error("prune retained jobs failed", zap.Error(err))
			}
		}
	}
}

// reconcileDelayed recovers delayed jobs whose Redis index entry was
// lost (a Redis restart without persistence, for example) by falling
// back to Postgres, the system of record, for anything still marked
// delayed past its run_at. Under normal operation promoteDue already
// promotes these via the Redis sorted set and DueDelayed returns
// nothing here, since MarkWaiting already moved them out of the
// delayed state.
func (q *Queue) reconcileDelayed(ctx context.Context) error {
	due, err := q.repo.DueDelayed(ctx, q.cfg.Name, 100)
	if err != nil {
		return err
	}
	for i := range due {
		job := &due[i]
		recovered, err := q.repo.MarkWaiting(ctx, job.ID)
		if err != nil {
			q.logger.Error("mark waiting during delayed reconcile failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		// Clear any stale delayed-set entry first so the job can never
		// be promoted twice if the index wasn't actually lost.
		if err := q.index.Remove(ctx, q.cfg.Name, recovered.ID); err != nil {
			q.logger.Error("remove stale delayed index entry failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		if err := q.index.PushReady(ctx, q.cfg.Name, recovered.ID, recovered.Priority, recovered.EnqueueSeq); err != nil {
			q.logger.Error("push ready during delayed reconcile failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		q.notify(func(s Subscriber) { s.OnWaiting(recovered) })
	}
	return nil
}

func (q *Queue) reapStalled(ctx context.Context) error {
	stalled, err := q.repo.StalledActive(ctx, q.cfg.Name)
	if err != nil {
		return err
	}
	for i := range stalled {
		job := &stalled[i]
		recovered, err := q.repo.MarkWaiting(ctx, job.ID)
		if err != nil {
			q.logger.Error("recover stalled job failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		if err := q.index.PushReady(ctx, q.cfg.Name, recovered.ID, recovered.Priority, recovered.EnqueueSeq); err != nil {
			q.logger.Error("push ready for recovered job failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		if q.metrics != nil {
			q.metrics.QueueJobsStalled.Inc()
		}
		q.notify(func(s Subscriber) { s.OnStalled(recovered) })
	}
	return nil
}

// Prune deletes completed and failed jobs beyond the configured
// retention counts. reapLoop calls it on every tick.
func (q *Queue) Prune(ctx context.Context) error {
	return q.repo.PruneRetention(ctx, q.cfg.Name, q.cfg.RetentionComplete, q.cfg.RetentionFailed)
}

func (q *Queue) ListFailed(ctx context.Context, limit int) ([]Job, error) {
	return q.repo.ListFailed(ctx, q.cfg.Name, limit)
}

func (q *Queue) Requeue(ctx context.Context, jobID string) (*Job, error) {
	job, err := q.repo.MarkWaiting(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("requeue: %w", err)
	}
	if err := q.index.PushReady(ctx, q.cfg.Name, job.ID, job.Priority, job.EnqueueSeq); err != nil {
		return nil, fmt.Errorf("requeue: index push: %w", err)
	}
	q.notify(func(s Subscriber) { s.OnWaiting(job) })
	return job, nil
}

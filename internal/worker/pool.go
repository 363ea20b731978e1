package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"orderproc/internal/orderstore"
	"orderproc/internal/queue"

	"go.uber.org/zap"
)

// Pool runs a fixed number of goroutines pulling jobs off a queue.Queue
// and running them through a queue.Handler, translating Outcomes into
// queue state transitions.
type Pool struct {
	q       *queue.Queue
	handler queue.Handler
	orders  orderstore.Store
	logger  *zap.Logger
	size    int
	poll    time.Duration

	wg sync.WaitGroup
}

// PoolOption customizes Pool construction.
type PoolOption func(*Pool)

// WithSize overrides the worker count. Defaults to runtime.NumCPU().
func WithSize(n int) PoolOption {
	return func(p *Pool) { p.size = n }
}

// WithPollInterval overrides the idle backoff between empty dispatch
// attempts. Defaults to 200ms.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.poll = d }
}

func NewPool(q *queue.Queue, handler queue.Handler, orders orderstore.Store, logger *zap.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		q:       q,
		handler: handler,
		orders:  orders,
		logger:  logger,
		size:    runtime.NumCPU(),
		poll:    200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.size < 1 {
		p.size = 1
	}
	return p
}

// Start launches the worker goroutines. It returns immediately; call
// Shutdown to stop them.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.loop(ctx)
	}
}

// Shutdown waits up to grace for in-flight jobs to finish after ctx is
// cancelled by the caller.
func (p *Pool) Shutdown(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		p.logger.Warn("worker pool shutdown grace period elapsed with jobs still in flight")
	}
}

func (p *Pool) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Pool) tick(ctx context.Context) {
	job, err := p.q.Dispatch(ctx)
	if err != nil {
		if !errors.Is(err, queue.ErrEmpty) {
			p.logger.Error("dispatch failed", zap.Error(err))
		}
		return
	}

	if err := p.orders.IncrementAttempts(ctx, job.OrderID); err != nil {
		p.logger.Warn("failed to record attempt on order (observability only)",
			zap.Int64("order_id", job.OrderID), zap.Error(err))
	}

	outcome := p.handler.Handle(ctx, job)
	switch outcome.Kind {
	case queue.OutcomeConfirmed:
		if err := p.q.Complete(ctx, job); err != nil {
			p.logger.Error("complete failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	case queue.OutcomeBusinessFailed:
		if err := p.q.MoveToFailed(ctx, job, outcome.Reason); err != nil {
			p.logger.Error("move to failed failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	case queue.OutcomeTransient:
		if err := p.q.Fail(ctx, job, outcome.Err); err != nil {
			p.logger.Error("fail failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

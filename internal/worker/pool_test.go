package worker

import (
	"context"
	"testing"
	"time"

	"orderproc/internal/queue"

	"go.uber.org/goleak"
	"go.uber.org/zap"
)

// stubHandler always confirms, just enough to drive the pool loop.
type stubHandler struct{}

func (stubHandler) Handle(context.Context, *queue.Job) queue.Outcome { return queue.Confirmed() }

// emptyRepo and emptyIndex are the minimal fakes needed to exercise
// the pool's dispatch loop without a real Postgres/Redis: every
// dispatch attempt finds nothing waiting.
type emptyRepo struct{}

func (emptyRepo) Insert(context.Context, *queue.Job) (*queue.Job, error) { return nil, nil }
func (emptyRepo) Get(context.Context, string) (*queue.Job, error)       { return nil, queue.ErrJobNotFound }
func (emptyRepo) MarkActive(context.Context, string, time.Time) (*queue.Job, error) {
	return nil, queue.ErrJobNotFound
}
func (emptyRepo) MarkCompleted(context.Context, string) error { return nil }
func (emptyRepo) Reschedule(context.Context, string, time.Time, string) (*queue.Job, error) {
	return nil, queue.ErrJobNotFound
}
func (emptyRepo) MarkDeadLettered(context.Context, string, string) (*queue.Job, error) {
	return nil, queue.ErrJobNotFound
}
func (emptyRepo) StalledActive(context.Context, string) ([]queue.Job, error) { return nil, nil }
func (emptyRepo) DueDelayed(context.Context, string, int) ([]queue.Job, error) { return nil, nil }
func (emptyRepo) MarkWaiting(context.Context, string) (*queue.Job, error) {
	return nil, queue.ErrJobNotFound
}
func (emptyRepo) PruneRetention(context.Context, string, int, int) error { return nil }
func (emptyRepo) ListFailed(context.Context, string, int) ([]queue.Job, error) { return nil, nil }

type emptyIndex struct{}

func (emptyIndex) PushReady(context.Context, string, string, int, int64) error { return nil }
func (emptyIndex) PopReady(context.Context, string) (string, bool, error)      { return "", false, nil }
func (emptyIndex) PushDelayed(context.Context, string, string, int64) error    { return nil }
func (emptyIndex) PromoteDue(context.Context, string, int64, int64) ([]string, error) {
	return nil, nil
}
func (emptyIndex) Remove(context.Context, string, string) error { return nil }

func newFakeQueueRepo() queue.JobRepository   { return emptyRepo{} }
func newFakeQueueIndex() queue.DispatchIndex  { return emptyIndex{} }

// Shutdown must leave no worker goroutines running behind it.
func TestPool_ShutdownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	orders := newFakeOrderStore()
	q := queue.New(queue.Config{
		Name: "orders", MaxAttempts: 5, BackoffBase: time.Second, StallTimeout: 30 * time.Second,
	}, newFakeQueueRepo(), newFakeQueueIndex(), zap.NewNop(), nil)

	pool := NewPool(q, stubHandler{}, orders, zap.NewNop(), WithSize(2), WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	pool.Shutdown(time.Second)
}

// Package dlq implements the dead-letter observer (C6): a
// queue.Subscriber that reacts to terminal job failures and stalled
// recoveries without sitting in the hot dispatch path.
package dlq

import (
	"context"
	"errors"

	"orderproc/internal/events"
	"orderproc/internal/orderstore"
	"orderproc/internal/queue"

	"go.uber.org/zap"
)

// Observer records dead-lettered jobs for operator visibility and
// publishes an audit event. It never retries a job itself — requeueing
// is an explicit operator action (spec.md §6.5).
type Observer struct {
	queue.NoopSubscriber
	orders    orderstore.Store
	publisher *events.Publisher
	logger    *zap.Logger
}

func NewObserver(orders orderstore.Store, publisher *events.Publisher, logger *zap.Logger) *Observer {
	return &Observer{orders: orders, publisher: publisher, logger: logger}
}

// OnFailed fires when a job reaches the terminal failed state, either
// from exhausted retries or a business-terminal classification. The
// handler already marks a business failure terminal before the job
// reaches this point, so a job dead-lettered by exhausted retries is
// the one case where the order row is still PENDING and needs the
// same terminal write applied here instead.
func (o *Observer) OnFailed(job *queue.Job, err error) {
	o.logger.Warn("job dead-lettered",
		zap.String("job_id", job.ID), zap.Int64("order_id", job.OrderID),
		zap.Int("attempts", job.Attempts), zap.Error(err))

	reason := job.LastError
	if reason == "" && err != nil {
		reason = err.Error()
	}

	ctx := context.Background()
	if o.orders != nil {
		if merr := o.orders.MarkFailed(ctx, job.OrderID, reason); merr != nil && !errors.Is(merr, orderstore.ErrAlreadyTerminal) {
			o.logger.Error("failed to mark order failed after dead-letter",
				zap.Int64("order_id", job.OrderID), zap.Error(merr))
		}
	}

	if o.publisher != nil {
		o.publisher.OrderFailed(ctx, job.OrderID, job.Payload.UserID, reason)
	}
}

// OnStalled fires when the reaper recovers a job whose worker lease
// expired without completion. This is monitoring-only: the job is
// already back in the waiting state by the time this is called.
func (o *Observer) OnStalled(job *queue.Job) {
	o.logger.Warn("job recovered after stall",
		zap.String("job_id", job.ID), zap.Int64("order_id", job.OrderID),
		zap.Int("attempts", job.Attempts))
}

var _ queue.Subscriber = (*Observer)(nil)

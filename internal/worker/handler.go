package worker

import (
	"context"
	"errors"
	"fmt"

	"orderproc/internal/events"
	"orderproc/internal/models"
	"orderproc/internal/orderstore"
	"orderproc/internal/queue"
	"orderproc/internal/stock"
	"orderproc/internal/telemetry"

	"go.uber.org/zap"
)

// OrderHandler implements queue.Handler: it runs the order saga for
// one job attempt and returns a tagged Outcome instead of an error,
// so the queue's retry/dead-letter logic never has to guess which
// failures deserve a retry.
type OrderHandler struct {
	orders    orderstore.Store
	stocks    stock.Store
	payment   Gateway
	publisher *events.Publisher
	logger    *zap.Logger
	metrics   *telemetry.Metrics
}

func NewOrderHandler(orders orderstore.Store, stocks stock.Store, payment Gateway, publisher *events.Publisher, logger *zap.Logger, metrics *telemetry.Metrics) *OrderHandler {
	return &OrderHandler{orders: orders, stocks: stocks, payment: payment, publisher: publisher, logger: logger, metrics: metrics}
}

// Handle runs one attempt of the order saga: idempotency guard, stock
// reservation, payment side effect, and terminal status write. It
// never sleeps and never retries internally — attempt scheduling
// belongs entirely to the queue.
func (h *OrderHandler) Handle(ctx context.Context, job *queue.Job) queue.Outcome {
	order, err := h.orders.GetOrder(ctx, job.OrderID)
	if err != nil {
		return queue.Transient(fmt.Errorf("load order %d: %w", job.OrderID, err))
	}

	// Idempotency guard (spec.md §5): a redelivered job for an order
	// that already reached a terminal status is a no-op success, not
	// a second attempt at the saga.
	if order.IsTerminal() {
		h.logger.Info("order already terminal, skipping redelivered job",
			zap.Int64("order_id", order.ID), zap.String("status", string(order.Status)))
		if order.Status == models.OrderStatusConfirmed {
			return queue.Confirmed()
		}
		return queue.BusinessFailed(order.FailureReason)
	}

	_, err = h.stocks.Reserve(ctx, order.StockID, order.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, stock.ErrInsufficient):
			if h.publisher != nil {
				current, readErr := h.stocks.ReadStock(ctx, order.StockID)
				if readErr == nil {
					h.publisher.StockDepleted(ctx, order.ProductID, order.StockID, order.Quantity, current.Quantity)
				}
			}
			return h.failBusiness(ctx, order, "insufficient stock")
		case errors.Is(err, stock.ErrNotFound):
			return h.failBusiness(ctx, order, "stock record not found")
		case errors.Is(err, stock.ErrVersionConflict):
			// Every internal CAS retry already failed; surface as
			// transient so the queue schedules another attempt after
			// backoff instead of burning it inline.
			return queue.Transient(fmt.Errorf("reserve stock: %w", err))
		default:
			return queue.Transient(fmt.Errorf("reserve stock: %w", err))
		}
	}

	if err := h.payment.Charge(ctx, order); err != nil {
		// Reservation succeeded but the downstream step failed:
		// compensate by releasing before reporting the outcome so
		// stock is never held against an order that won't complete
		// this attempt.
		if relErr := h.release(ctx, order, order.Quantity); relErr != nil {
			h.logger.Error("CRITICAL: compensation release failed after payment failure",
				zap.Int64("order_id", order.ID), zap.Int64("stock_id", order.StockID), zap.Error(relErr))
		}
		return queue.Transient(fmt.Errorf("charge order: %w", err))
	}

	if err := h.orders.MarkConfirmed(ctx, order.ID); err != nil {
		if errors.Is(err, orderstore.ErrAlreadyTerminal) {
			// Another attempt (or a duplicate delivery) already wrote
			// the terminal status first. The reservation we just made
			// is now orphaned, so release it — the previous winner
			// already accounted for its own reservation.
			if relErr := h.release(ctx, order, order.Quantity); relErr != nil {
				h.logger.Error("CRITICAL: compensation release failed after lost terminal race",
					zap.Int64("order_id", order.ID), zap.Int64("stock_id", order.StockID), zap.Error(relErr))
			}
			return queue.Confirmed()
		}
		return queue.Transient(fmt.Errorf("mark confirmed: %w", err))
	}

	if h.metrics != nil {
		h.metrics.OrdersConfirmedTotal.Inc()
	}
	if h.publisher != nil {
		h.publisher.OrderConfirmed(ctx, order.ID, order.UserID)
	}
	return queue.Confirmed()
}

func (h *OrderHandler) failBusiness(ctx context.Context, order *models.Order, reason string) queue.Outcome {
	if err := h.orders.MarkFailed(ctx, order.ID, reason); err != nil && !errors.Is(err, orderstore.ErrAlreadyTerminal) {
		return queue.Transient(fmt.Errorf("mark failed: %w", err))
	}
	if h.metrics != nil {
		h.metrics.OrdersFailedTotal.WithLabelValues(reason).Inc()
	}
	if h.publisher != nil {
		h.publisher.OrderFailed(ctx, order.ID, order.UserID, reason)
	}
	return queue.BusinessFailed(reason)
}

func (h *OrderHandler) release(ctx context.Context, order *models.Order, quantity int) error {
	_, err := h.stocks.Release(ctx, order.StockID, quantity)
	if err != nil && h.metrics != nil {
		h.metrics.StockCompensationFailures.Inc()
	}
	return err
}

var _ queue.Handler = (*OrderHandler)(nil)

// Package intake implements the order-submission entry point (C4):
// validating a request, creating the PENDING order, and enqueueing its
// processing job. It never itself reserves stock or moves an order to
// a terminal state — that is the worker's job, kept out of the HTTP
// request/response cycle so a slow or crashed worker cannot hold an
// HTTP request open (spec.md §5).
package intake

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

var (
	ErrInvalidQuantity = errors.New("intake: quantity must be positive")
	ErrInvalidPrice    = errors.New("intake: priceAtPurchase must not be negative")
	ErrStockNotFound   = errors.New("intake: stock not found")
)

// ProductLookup is the narrow slice of stock.Catalog that intake
// needs, so tests can substitute a fake without a database.
type ProductLookup interface {
	GetStockByID(ctx context.Context, stockID int64) (*models.Stock, error)
}

// Request is the caller-supplied order submission: `POST /orders` body
// `{stockId, quantity, priceAtPurchase}` (spec.md §6).
type Request struct {
	UserID          int64
	IsVIP           bool
	StockID         int64
	Quantity        int
	PriceAtPurchase int64
	IdempotencyKey  string
}

// Intake wires order creation to the queue. It never blocks on the
// saga itself.
type Intake struct {
	orders    orderstore.Store
	catalog   ProductLookup
	queue     *queue.Queue
	publisher *events.Publisher
	logger    *zap.Logger
	metrics   *telemetry.Metrics
}

func New(orders orderstore.Store, catalog ProductLookup, q *queue.Queue, publisher *events.Publisher, logger *zap.Logger, metrics *telemetry.Metrics) *Intake {
	return &Intake{orders: orders, catalog: catalog, queue: q, publisher: publisher, logger: logger, metrics: metrics}
}

// Submit validates the request, creates a PENDING order, and enqueues
// its processing job at a priority determined by the caller's tier.
// A duplicate idempotency key returns the previously created order
// instead of creating a second one; distinct submissions without a
// key always create distinct orders (spec.md §8).
func (in *Intake) Submit(ctx context.Context, req Request) (*models.Order, error) {
	if req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if req.PriceAtPurchase < 0 {
		return nil, ErrInvalidPrice
	}

	if req.IdempotencyKey != "" {
		if existing, err := in.orders.GetByIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("check idempotency key: %w", err)
		} else if existing != nil {
			return existing, nil
		}
	}

	st, err := in.catalog.GetStockByID(ctx, req.StockID)
	if err != nil {
		if errors.Is(err, stock.ErrNotFound) {
			return nil, ErrStockNotFound
		}
		return nil, fmt.Errorf("lookup stock %d: %w", req.StockID, err)
	}

	order, err := in.orders.CreatePending(ctx, orderstore.OrderSpec{
		UserID:          req.UserID,
		ProductID:       st.ProductID,
		StockID:         st.ID,
		Quantity:        req.Quantity,
		PriceAtPurchase: req.PriceAtPurchase,
		IsVIP:           req.IsVIP,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create pending order: %w", err)
	}

	priority := queue.PriorityDefault
	if req.IsVIP {
		priority = queue.PriorityVIP
	}

	_, err = in.queue.Enqueue(ctx, order.ID, queue.Payload{
		UserID: order.UserID, ProductID: order.ProductID, StockID: order.StockID,
		Quantity: order.Quantity, PriceAtPurchase: order.PriceAtPurchase, IsVIP: order.IsVIP,
	}, priority)
	if err != nil {
		// The order stays PENDING; it is never deleted on an enqueue
		// failure. An operator can requeue it once the queue backend
		// recovers (spec.md §6.5), and it is safely retryable because
		// no stock has been reserved yet.
		in.logger.Error("enqueue failed after order created, order left PENDING",
			zap.Int64("order_id", order.ID), zap.Error(err))
		return nil, fmt.Errorf("enqueue order %d: %w", order.ID, err)
	}

	if in.metrics != nil {
		in.metrics.OrdersCreatedTotal.Inc()
	}
	if in.publisher != nil {
		in.publisher.OrderCreated(ctx, order.ID, order.UserID, order.ProductID, order.Quantity, order.IsVIP)
	}

	return order, nil
}

package dlq

import (
	"context"
	"errors"
	"sync"
	"testing"

	"orderproc/internal/models"
	"orderproc/internal/orderstore"
	"orderproc/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeOrderStore mirrors orderstore's own in-package fake shape (it is
// unexported there), just enough of orderstore.Store to exercise the
// sticky-terminal write OnFailed performs on exhausted-retry dead
// letters.
type fakeOrderStore struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*models.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: map[int64]*models.Order{}}
}

func (f *fakeOrderStore) CreatePending(_ context.Context, spec orderstore.OrderSpec) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	order := &models.Order{
		ID:              f.nextID,
		UserID:          spec.UserID,
		ProductID:       spec.ProductID,
		StockID:         spec.StockID,
		Quantity:        spec.Quantity,
		PriceAtPurchase: spec.PriceAtPurchase,
		Status:          models.OrderStatusPending,
		IsVIP:           spec.IsVIP,
	}
	f.orders[order.ID] = order
	cp := *order
	return &cp, nil
}

func (f *fakeOrderStore) GetByIdempotencyKey(context.Context, string) (*models.Order, error) {
	return nil, nil
}

func (f *fakeOrderStore) MarkConfirmed(_ context.Context, orderID int64) error {
	return f.markTerminal(orderID, models.OrderStatusConfirmed, "")
}

func (f *fakeOrderStore) MarkFailed(_ context.Context, orderID int64, reason string) error {
	return f.markTerminal(orderID, models.OrderStatusFailed, reason)
}

func (f *fakeOrderStore) markTerminal(orderID int64, status, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return orderstore.ErrNotFound
	}
	if order.IsTerminal() {
		return orderstore.ErrAlreadyTerminal
	}
	order.Status = status
	order.FailureReason = reason
	return nil
}

func (f *fakeOrderStore) GetOrder(_ context.Context, orderID int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return nil, orderstore.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (f *fakeOrderStore) ListOrdersByUser(context.Context, int64) ([]models.Order, error) {
	return nil, nil
}

func (f *fakeOrderStore) IncrementAttempts(context.Context, int64) error { return nil }

func (f *fakeOrderStore) SumConfirmedQuantity(context.Context, int64) (int, error) {
	return 0, nil
}

var _ orderstore.Store = (*fakeOrderStore)(nil)

func TestObserver_OnFailed_DoesNotPanicWithoutPublisher(t *testing.T) {
	obs := NewObserver(nil, nil, zap.NewNop())
	obs.OnFailed(&queue.Job{ID: "job-1", OrderID: 1, LastError: "insufficient stock"}, errors.New("insufficient stock"))
}

func TestObserver_OnStalled_DoesNotPanic(t *testing.T) {
	obs := NewObserver(nil, nil, zap.NewNop())
	obs.OnStalled(&queue.Job{ID: "job-1", OrderID: 1, Attempts: 2})
}

func TestObserver_ImplementsSubscriber(t *testing.T) {
	var _ queue.Subscriber = NewObserver(nil, nil, zap.NewNop())
}

// TestObserver_OnFailed_MarksExhaustedRetryOrderFailed covers spec.md
// §8 scenario 6: a job dead-lettered after exhausting transient
// retries (never routed through the worker's own failBusiness path)
// must still leave the order row terminally FAILED, with the reason
// derived from the job's last error.
func TestObserver_OnFailed_MarksExhaustedRetryOrderFailed(t *testing.T) {
	orders := newFakeOrderStore()
	order, err := orders.CreatePending(context.Background(), orderstore.OrderSpec{
		UserID: 1, ProductID: 1, StockID: 1, Quantity: 2, PriceAtPurchase: 999,
	})
	require.NoError(t, err)

	obs := NewObserver(orders, nil, zap.NewNop())
	obs.OnFailed(&queue.Job{
		ID: "job-1", OrderID: order.ID, Attempts: 5,
		LastError: "payment gateway timeout - please retry",
	}, errors.New("exhausted 5 attempts: payment gateway timeout - please retry"))

	got, err := orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, got.Status)
	assert.Equal(t, "payment gateway timeout - please retry", got.FailureReason)
}

// TestObserver_OnFailed_ToleratesAlreadyTerminalOrder covers the race
// where the worker's own failBusiness path already marked the order
// terminal before the dead-letter event arrives: OnFailed must not
// panic or overwrite the existing terminal status.
func TestObserver_OnFailed_ToleratesAlreadyTerminalOrder(t *testing.T) {
	orders := newFakeOrderStore()
	order, err := orders.CreatePending(context.Background(), orderstore.OrderSpec{
		UserID: 1, ProductID: 1, StockID: 1, Quantity: 2, PriceAtPurchase: 999,
	})
	require.NoError(t, err)
	require.NoError(t, orders.MarkFailed(context.Background(), order.ID, "insufficient stock"))

	obs := NewObserver(orders, nil, zap.NewNop())
	obs.OnFailed(&queue.Job{ID: "job-1", OrderID: order.ID, LastError: "insufficient stock"}, errors.New("insufficient stock"))

	got, err := orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, got.Status)
	assert.Equal(t, "insufficient stock", got.FailureReason)
}

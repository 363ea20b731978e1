// Package orderstore implements the Order Store (C2): order creation
// and the sticky-terminal status transition guard described in
// spec.md §4.2.
package orderstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"orderproc/internal/models"

	"github.com/jmoiron/sqlx"
)

// Sentinel errors.
var (
	ErrNotFound        = errors.New("order: not found")
	ErrAlreadyTerminal = errors.New("order: already terminal")
)

// OrderSpec is the intake-supplied data needed to create a PENDING
// order.
type OrderSpec struct {
	UserID          int64
	ProductID       int64
	StockID         int64
	Quantity        int
	PriceAtPurchase int64
	IsVIP           bool
	IdempotencyKey  string
}

// Store is the C2 contract.
type Store interface {
	CreatePending(ctx context.Context, spec OrderSpec) (*models.Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	MarkConfirmed(ctx context.Context, orderID int64) error
	MarkFailed(ctx context.Context, orderID int64, reason string) error
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	IncrementAttempts(ctx context.Context, orderID int64) error
	SumConfirmedQuantity(ctx context.Context, productID int64) (int, error)
}

// PostgresStore is the system of record for orders.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore constructs an order Store backed by Postgres.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreatePending inserts a new PENDING order.
func (s *PostgresStore) CreatePending(ctx context.Context, spec OrderSpec) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		INSERT INTO orders (user_id, product_id, stock_id, quantity, price_at_purchase, status, is_vip, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		RETURNING *`,
		spec.UserID, spec.ProductID, spec.StockID, spec.Quantity, spec.PriceAtPurchase,
		models.OrderStatusPending, spec.IsVIP, spec.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("create pending order: %w", err)
	}
	return &order, nil
}

// GetByIdempotencyKey returns the order matching key, or nil if none
// exists — a cache-miss return, not an error, mirroring the teacher's
// convention for this lookup.
func (s *PostgresStore) GetByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	if key == "" {
		return nil, nil
	}
	var order models.Order
	err := s.db.GetContext(ctx, &order, `SELECT * FROM orders WHERE idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup order by idempotency key: %w", err)
	}
	return &order, nil
}

// markTerminal guards the sticky-terminal invariant: a status update
// only lands if the row is still PENDING.
func (s *PostgresStore) markTerminal(ctx context.Context, orderID int64, status, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, failure_reason = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		status, reason, orderID, models.OrderStatusPending)
	if err != nil {
		return fmt.Errorf("mark order %d %s: %w", orderID, status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		exists, ferr := s.orderExists(ctx, orderID)
		if ferr != nil {
			return ferr
		}
		if !exists {
			return ErrNotFound
		}
		return ErrAlreadyTerminal
	}
	return nil
}

func (s *PostgresStore) orderExists(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID)
	return exists, err
}

// MarkConfirmed transitions PENDING -> CONFIRMED. A second call is a
// no-op that returns ErrAlreadyTerminal, observable for diagnostics.
func (s *PostgresStore) MarkConfirmed(ctx context.Context, orderID int64) error {
	return s.markTerminal(ctx, orderID, models.OrderStatusConfirmed, "")
}

// MarkFailed transitions PENDING -> FAILED with a reason.
func (s *PostgresStore) MarkFailed(ctx context.Context, orderID int64, reason string) error {
	return s.markTerminal(ctx, orderID, models.OrderStatusFailed, reason)
}

// GetOrder retrieves an order by ID.
func (s *PostgresStore) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `SELECT * FROM orders WHERE id = $1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", orderID, err)
	}
	return &order, nil
}

// ListOrdersByUser returns a user's orders, newest first.
func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		`SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	return orders, err
}

// IncrementAttempts mirrors the queue's attempt counter onto the order
// row for observability (spec.md §9 Open Question). It never affects
// correctness and is best-effort.
func (s *PostgresStore) IncrementAttempts(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET attempts = attempts + 1, updated_at = now() WHERE id = $1`, orderID)
	return err
}

// SumConfirmedQuantity totals the quantity reserved by CONFIRMED orders
// for productID. Used by the operator reconciliation tool to detect
// drift against the stock table caused by a failed release
// compensation (spec.md §4.4 step 5).
func (s *PostgresStore) SumConfirmedQuantity(ctx context.Context, productID int64) (int, error) {
	var total sql.NullInt64
	err := s.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(quantity), 0) FROM orders
		WHERE product_id = $1 AND status = $2`,
		productID, models.OrderStatusConfirmed)
	if err != nil {
		return 0, fmt.Errorf("sum confirmed quantity for product %d: %w", productID, err)
	}
	return int(total.Int64), nil
}

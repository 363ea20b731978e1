// Package models holds the persisted domain entities shared across the
// stock, order, and queue subsystems.
package models

import "time"

// Product is immutable with respect to the order flow; catalog edits are
// a separate concern from reservation and payment.
type Product struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	Price       int64     `db:"price" json:"price"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Stock tracks the reservable quantity for one product. Version increases
// by exactly one on every successful mutation and is the CAS predicate
// used by Reserve/Release.
type Stock struct {
	ID              int64     `db:"id" json:"id"`
	ProductID       int64     `db:"product_id" json:"productId"`
	Quantity        int       `db:"quantity" json:"quantity"`
	InitialQuantity int       `db:"initial_quantity" json:"initialQuantity"`
	Version         int64     `db:"version" json:"version"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// Order status values. Terminal states (Confirmed, Failed) are sticky:
// once reached they never change.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusFailed    = "FAILED"
)

// Order is created PENDING by intake and transitions exactly once to a
// terminal state by the worker or the DLQ observer.
type Order struct {
	ID              int64     `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"userId"`
	ProductID       int64     `db:"product_id" json:"productId"`
	StockID         int64     `db:"stock_id" json:"stockId"`
	Quantity        int       `db:"quantity" json:"quantity"`
	PriceAtPurchase int64     `db:"price_at_purchase" json:"priceAtPurchase"`
	Status          string    `db:"status" json:"status"`
	IsVIP           bool      `db:"is_vip" json:"isVipOrder"`
	FailureReason   string    `db:"failure_reason" json:"failureReason,omitempty"`
	IdempotencyKey  string    `db:"idempotency_key" json:"-"`
	Attempts        int       `db:"attempts" json:"attempts"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// IsTerminal reports whether the order has settled.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusConfirmed || o.Status == OrderStatusFailed
}

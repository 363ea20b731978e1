// Package stock implements the atomic stock reservation engine (C1):
// optimistic concurrency control via a CAS on Stock.Version, with
// bounded internal retry on lost races. Nothing outside this package
// may mutate a stock row's quantity.
package stock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"orderproc/internal/models"
	"orderproc/internal/telemetry"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Sentinel errors matching spec.md §4.1/§7's failure taxonomy.
var (
	ErrNotFound        = errors.New("stock: not found")
	ErrInsufficient    = errors.New("stock: insufficient quantity")
	ErrVersionConflict = errors.New("stock: version conflict")
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")
)

// maxCASRetries bounds the store's internal version-conflict retry
// loop. There is no sleep between attempts (spec.md §5 Timeouts).
const maxCASRetries = 3

// Store is the C1 contract: readStock, reserve, release.
type Store interface {
	ReadStock(ctx context.Context, stockID int64) (*models.Stock, error)
	Reserve(ctx context.Context, stockID int64, n int) (*models.Stock, error)
	Release(ctx context.Context, stockID int64, n int) (*models.Stock, error)
}

// PostgresStore is the system of record for stock quantities. The CAS
// predicate is a plain parameterized UPDATE, not ORM version magic
// (spec.md §9 design note).
type PostgresStore struct {
	db      *sqlx.DB
	metrics *telemetry.Metrics
	logger  *zap.Logger
	tracer  *telemetry.Tracer
	cache   *Cache // optional read-through cache, may be nil
}

// NewPostgresStore constructs a Store backed by Postgres. cache may be
// nil; when present, successful mutations are mirrored into it.
func NewPostgresStore(db *sqlx.DB, metrics *telemetry.Metrics, logger *zap.Logger, tracer *telemetry.Tracer, cache *Cache) *PostgresStore {
	return &PostgresStore{db: db, metrics: metrics, logger: logger, tracer: tracer, cache: cache}
}

// ReadStock returns the current snapshot for a stock row.
func (s *PostgresStore) ReadStock(ctx context.Context, stockID int64) (*models.Stock, error) {
	var st models.Stock
	err := s.db.GetContext(ctx, &st, `SELECT * FROM stocks WHERE id = $1`, stockID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read stock %d: %w", stockID, err)
	}
	return &st, nil
}

// Reserve atomically decrements quantity by n, bumping version by one,
// provided quantity >= n. It makes up to maxCASRetries CAS attempts,
// each after a fresh read, and surfaces ErrVersionConflict when all of
// them lose the version race; the caller (the order worker) treats
// that as a transient failure.
func (s *PostgresStore) Reserve(ctx context.Context, stockID int64, n int) (*models.Stock, error) {
	if n <= 0 {
		return nil, ErrInvalidQuantity
	}

	ctx, span := s.tracer.StartSpan(ctx, "stock.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		s.metrics.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	for attempt := 1; attempt <= maxCASRetries; attempt++ {
		current, err := s.ReadStock(ctx, stockID)
		if err != nil {
			return nil, err
		}
		if current.Quantity < n {
			s.metrics.StockReservationsFailed.WithLabelValues("insufficient").Inc()
			return nil, ErrInsufficient
		}

		var updated models.Stock
		err = s.db.GetContext(ctx, &updated, `
			UPDATE stocks
			SET quantity = quantity - $1, version = version + 1, updated_at = now()
			WHERE id = $2 AND version = $3
			RETURNING *`, n, stockID, current.Version)

		if errors.Is(err, sql.ErrNoRows) {
			// Lost the CAS race: another writer moved the version.
			s.metrics.StockVersionConflictRetries.Inc()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reserve stock %d: %w", stockID, err)
		}

		if s.cache != nil {
			if cerr := s.cache.SetSnapshot(ctx, &updated); cerr != nil {
				s.logger.Warn("failed to refresh stock cache after reserve",
					zap.Int64("stock_id", stockID), zap.Error(cerr))
			}
		}
		return &updated, nil
	}

	s.metrics.StockReservationsFailed.WithLabelValues("version_conflict").Inc()
	return nil, ErrVersionConflict
}

// Release atomically increments quantity by n as a compensating action.
// No upper cap is enforced and no CAS retry is needed: the increment is
// unconditional, so it cannot lose a race.
func (s *PostgresStore) Release(ctx context.Context, stockID int64, n int) (*models.Stock, error) {
	if n <= 0 {
		return nil, ErrInvalidQuantity
	}

	ctx, span := s.tracer.StartSpan(ctx, "stock.Release")
	defer span.End()

	var updated models.Stock
	err := s.db.GetContext(ctx, &updated, `
		UPDATE stocks
		SET quantity = quantity + $1, version = version + 1, updated_at = now()
		WHERE id = $2
		RETURNING *`, n, stockID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("release stock %d: %w", stockID, err)
	}

	if s.cache != nil {
		if cerr := s.cache.SetSnapshot(ctx, &updated); cerr != nil {
			s.logger.Warn("failed to refresh stock cache after release",
				zap.Int64("stock_id", stockID), zap.Error(cerr))
		}
	}
	return &updated, nil
}

package stock

import (
	"context"
	"fmt"

	"orderproc/internal/models"
	"orderproc/internal/redisclient"
)

// Cache mirrors the Postgres stock table into Redis hashes purely to
// serve GET /products-with-stock without hitting Postgres on every
// catalog read. It is never consulted by Reserve/Release for the CAS
// decision — Postgres's version column is the only source of truth.
type Cache struct {
	client *redisclient.Client
}

// NewCache wraps a redisclient.Client as a stock read cache.
func NewCache(client *redisclient.Client) *Cache {
	return &Cache{client: client}
}

func cacheKey(stockID int64) string {
	return fmt.Sprintf("stock:%d", stockID)
}

// SetSnapshot writes the latest known quantity/version for a stock.
func (c *Cache) SetSnapshot(ctx context.Context, st *models.Stock) error {
	return c.client.Raw().HSet(ctx, cacheKey(st.ID),
		"quantity", st.Quantity,
		"version", st.Version,
	).Err()
}

// GetSnapshot returns a cached (quantity, version) pair, or ok=false on
// a cache miss (the caller should fall back to Postgres).
func (c *Cache) GetSnapshot(ctx context.Context, stockID int64) (quantity int, version int64, ok bool, err error) {
	result, err := c.client.Raw().HGetAll(ctx, cacheKey(stockID)).Result()
	if err != nil {
		return 0, 0, false, err
	}
	if len(result) == 0 {
		return 0, 0, false, nil
	}

	var q int
	var v int64
	if _, err := fmt.Sscanf(result["quantity"], "%d", &q); err != nil {
		return 0, 0, false, nil
	}
	if _, err := fmt.Sscanf(result["version"], "%d", &v); err != nil {
		return 0, 0, false, nil
	}
	return q, v, true, nil
}

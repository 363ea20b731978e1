// Package redisclient wraps the shared Redis connection used as a
// read-through stock cache (internal/stock) and as the priority
// queue's dispatch index (internal/queue). Connection lifecycle and
// Lua script loading live here, mirroring the teacher's embedded-script
// pattern; the domain-specific script bodies live next to their
// callers.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client is a thin wrapper around *redis.Client that exposes the
// primitives shared by its callers: raw command access, script
// registration, and distributed locking.
type Client struct {
	rdb *redis.Client
}

// NewClient dials Redis and verifies connectivity with a bounded ping.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Raw returns the underlying *redis.Client for callers that need direct
// command access (e.g. ZSET operations in internal/queue).
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// NewScript compiles a Lua script for later evaluation via Raw().
func (c *Client) NewScript(src string) *redis.Script {
	return redis.NewScript(src)
}

// AcquireLock acquires a TTL-bounded distributed lock via SETNX.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock.
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

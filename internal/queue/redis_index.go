package queue

import (
	_ "embed"

	"context"
	"fmt"

	"orderproc/internal/redisclient"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/promote_delayed.lua
var promoteDelayedScript string

// RedisIndex is the Redis-backed DispatchIndex: one sorted set per
// queue for ready jobs (scored by priority then FIFO order) and one
// for delayed jobs (scored by their due time).
type RedisIndex struct {
	client  *redisclient.Client
	promote *redis.Script
}

func NewRedisIndex(client *redisclient.Client) *RedisIndex {
	return &RedisIndex{client: client, promote: client.NewScript(promoteDelayedScript)}
}

// readyScore packs (priority, enqueueSeq) into one float64 so ZPOPMIN
// yields the lowest-priority-number job first, ties broken by
// insertion order. Priority is expected to stay under 9000 and
// enqueueSeq under 1e12, keeping the score below 2^53 (about 9.007e15),
// where float64 still represents every integer exactly.
func readyScore(priority int, enqueueSeq int64) float64 {
	return float64(priority)*1e12 + float64(enqueueSeq)
}

func (i *RedisIndex) PushReady(ctx context.Context, queue, jobID string, priority int, enqueueSeq int64) error {
	return i.client.Raw().ZAdd(ctx, readyKey(queue), &redis.Z{
		Score:  readyScore(priority, enqueueSeq),
		Member: jobID,
	}).Err()
}

func (i *RedisIndex) PopReady(ctx context.Context, queue string) (string, bool, error) {
	res, err := i.client.Raw().ZPopMin(ctx, readyKey(queue), 1).Result()
	if err != nil {
		return "", false, fmt.Errorf("pop ready: %w", err)
	}
	if len(res) == 0 {
		return "", false, nil
	}
	id, ok := res[0].Member.(string)
	if !ok {
		return "", false, fmt.Errorf("pop ready: unexpected member type %T", res[0].Member)
	}
	return id, true, nil
}

func (i *RedisIndex) PushDelayed(ctx context.Context, queue, jobID string, runAtUnixNano int64) error {
	return i.client.Raw().ZAdd(ctx, delayedKey(queue), &redis.Z{
		Score:  float64(runAtUnixNano),
		Member: jobID,
	}).Err()
}

func (i *RedisIndex) PromoteDue(ctx context.Context, queue string, nowUnixNano int64, limit int64) ([]string, error) {
	res, err := i.promote.Run(ctx, i.client.Raw(), []string{delayedKey(queue)}, nowUnixNano, limit).Result()
	if err != nil {
		return nil, fmt.Errorf("promote due: %w", err)
	}
	items, ok := res.([]interface{})
	if !ok {
		return nil, nil
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

func (i *RedisIndex) Remove(ctx context.Context, queue, jobID string) error {
	pipe := i.client.Raw().Pipeline()
	pipe.ZRem(ctx, readyKey(queue), jobID)
	pipe.ZRem(ctx, delayedKey(queue), jobID)
	_, err := pipe.Exec(ctx)
	return err
}

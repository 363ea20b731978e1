package queue

import (
	"context"
	"time"
)

// JobRepository is the durable system of record for jobs (Postgres).
// The dispatch index (Redis) is only ever a cache of what this
// repository already committed.
type JobRepository interface {
	// Insert persists a new waiting job and returns it with its
	// generated ID and enqueue sequence number.
	Insert(ctx context.Context, job *Job) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	// MarkActive transitions waiting -> active and sets the lease
	// deadline the reaper uses to detect a stalled worker.
	MarkActive(ctx context.Context, id string, leaseExpiresAt time.Time) (*Job, error)
	MarkCompleted(ctx context.Context, id string) error
	// Reschedule transitions active -> delayed (or waiting, when
	// runAt is already due) after a transient failure, recording the
	// error. Attempts is incremented on the next MarkActive, not here.
	Reschedule(ctx context.Context, id string, runAt time.Time, lastErr string) (*Job, error)
	// MarkDeadLettered transitions the job to failed terminally,
	// either because attempts are exhausted or because the handler
	// classified the failure as business-terminal.
	MarkDeadLettered(ctx context.Context, id string, reason string) (*Job, error)
	// StalledActive returns active jobs whose lease has expired.
	StalledActive(ctx context.Context, queue string) ([]Job, error)
	// DueDelayed returns delayed jobs whose run_at has arrived.
	DueDelayed(ctx context.Context, queue string, limit int) ([]Job, error)
	// MarkWaiting flips a delayed or recovered-stalled job back to
	// waiting so it re-enters the dispatch index.
	MarkWaiting(ctx context.Context, id string) (*Job, error)
	// PruneRetention deletes the oldest completed/failed jobs beyond
	// the configured retention counts (spec.md §6).
	PruneRetention(ctx context.Context, queue string, keepCompleted, keepFailed int) error
	ListFailed(ctx context.Context, queue string, limit int) ([]Job, error)
}

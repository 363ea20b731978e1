package queue

import "context"

// DispatchIndex is the fast, in-memory view workers poll to find the
// next eligible job without scanning Postgres. It is a cache: every
// entry corresponds to a row already durably committed by
// JobRepository. Lost delayed entries are recovered from Postgres by
// the queue's reconcileDelayed pass; lost ready entries are not
// rebuilt, so waiting jobs whose ready entry is gone stay undispatched.
type DispatchIndex interface {
	// PushReady makes a job immediately dispatchable, ordered by
	// (priority, enqueueSeq).
	PushReady(ctx context.Context, queue, jobID string, priority int, enqueueSeq int64) error
	// PopReady removes and returns the highest-priority, oldest
	// eligible job ID, or ok=false if the ready set is empty.
	PopReady(ctx context.Context, queue string) (jobID string, ok bool, err error)
	// PushDelayed schedules a job to become ready at runAtUnixNano.
	PushDelayed(ctx context.Context, queue, jobID string, runAtUnixNano int64) error
	// PromoteDue atomically moves delayed entries whose score has
	// elapsed out of the delayed set, returning their IDs so the
	// caller can look up priority/seq and push them onto the ready
	// set.
	PromoteDue(ctx context.Context, queue string, nowUnixNano int64, limit int64) ([]string, error)
	// Remove drops a job ID from both sets, used by the delayed-job
	// reconciliation pass to clear a stale entry before re-pushing the
	// job as ready.
	Remove(ctx context.Context, queue, jobID string) error
}

// readyKey and delayedKey name the two sorted sets backing a queue.
func readyKey(queue string) string   { return "orderproc:queue:" + queue + ":ready" }
func delayedKey(queue string) string { return "orderproc:queue:" + queue + ":delayed" }

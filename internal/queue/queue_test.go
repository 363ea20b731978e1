package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClock lets tests advance time deterministically instead of
// sleeping through real backoff delays.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeRepo is an in-memory JobRepository.
type fakeRepo struct {
	mu   sync.Mutex
	jobs map[string]*Job
	seq  int64
}

func newFakeRepo() *fakeRepo { return &fakeRepo{jobs: map[string]*Job{}} }

func (r *fakeRepo) Insert(_ context.Context, job *Job) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	cp := *job
	cp.ID = fakeID(r.seq)
	cp.EnqueueSeq = r.seq
	cp.State = StateWaiting
	r.jobs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func fakeID(seq int64) string {
	return fmt.Sprintf("job-%d", seq)
}

func (r *fakeRepo) Get(_ context.Context, id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *fakeRepo) MarkActive(_ context.Context, id string, leaseExpiresAt time.Time) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	j.State = StateActive
	j.Attempts++
	j.LeaseExpiresAt = &leaseExpiresAt
	cp := *j
	return &cp, nil
}

func (r *fakeRepo) MarkCompleted(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.State = StateCompleted
	j.LeaseExpiresAt = nil
	return nil
}

func (r *fakeRepo) Reschedule(_ context.Context, id string, runAt time.Time, lastErr string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	j.RunAt = runAt
	j.LastError = lastErr
	j.LeaseExpiresAt = nil
	j.State = StateDelayed
	cp := *j
	return &cp, nil
}

func (r *fakeRepo) MarkDeadLettered(_ context.Context, id string, reason string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	j.State = StateFailed
	j.LastError = reason
	j.LeaseExpiresAt = nil
	cp := *j
	return &cp, nil
}

func (r *fakeRepo) StalledActive(_ context.Context, queue string) ([]Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Job
	for _, j := range r.jobs {
		if j.Queue == queue && j.State == StateActive {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (r *fakeRepo) DueDelayed(_ context.Context, queue string, limit int) ([]Job, error) {
	return nil, nil
}

func (r *fakeRepo) MarkWaiting(_ context.Context, id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	j.State = StateWaiting
	j.LeaseExpiresAt = nil
	cp := *j
	return &cp, nil
}

func (r *fakeRepo) PruneRetention(_ context.Context, queue string, keepCompleted, keepFailed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneState(queue, StateCompleted, keepCompleted)
	r.pruneState(queue, StateFailed, keepFailed)
	return nil
}

func (r *fakeRepo) pruneState(queue string, state State, keep int) {
	var matching []*Job
	for _, j := range r.jobs {
		if j.Queue == queue && j.State == state {
			matching = append(matching, j)
		}
	}
	sort.Slice(matching, func(i, j int) bool { return matching[i].EnqueueSeq > matching[j].EnqueueSeq })
	for i := keep; i < len(matching); i++ {
		delete(r.jobs, matching[i].ID)
	}
}

func (r *fakeRepo) ListFailed(_ context.Context, queue string, limit int) ([]Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Job
	for _, j := range r.jobs {
		if j.Queue == queue && j.State == StateFailed {
			out = append(out, *j)
		}
	}
	return out, nil
}

var _ JobRepository = (*fakeRepo)(nil)

// fakeIndex is an in-memory DispatchIndex ordered exactly like the
// Redis sorted set it stands in for: by (priority, enqueueSeq).
type fakeIndex struct {
	mu      sync.Mutex
	ready   []readyEntry
	delayed map[string]int64
}

type readyEntry struct {
	id         string
	priority   int
	enqueueSeq int64
}

func newFakeIndex() *fakeIndex { return &fakeIndex{delayed: map[string]int64{}} }

func (i *fakeIndex) PushReady(_ context.Context, _ string, jobID string, priority int, enqueueSeq int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ready = append(i.ready, readyEntry{jobID, priority, enqueueSeq})
	return nil
}

func (i *fakeIndex) PopReady(_ context.Context, _ string) (string, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.ready) == 0 {
		return "", false, nil
	}
	best := 0
	for k := 1; k < len(i.ready); k++ {
		if i.ready[k].priority < i.ready[best].priority ||
			(i.ready[k].priority == i.ready[best].priority && i.ready[k].enqueueSeq < i.ready[best].enqueueSeq) {
			best = k
		}
	}
	id := i.ready[best].id
	i.ready = append(i.ready[:best], i.ready[best+1:]...)
	return id, true, nil
}

func (i *fakeIndex) PushDelayed(_ context.Context, _ string, jobID string, runAtUnixNano int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.delayed[jobID] = runAtUnixNano
	return nil
}

func (i *fakeIndex) PromoteDue(_ context.Context, _ string, nowUnixNano int64, limit int64) ([]string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	var due []string
	for id, at := range i.delayed {
		if at <= nowUnixNano {
			due = append(due, id)
		}
	}
	for _, id := range due {
		delete(i.delayed, id)
	}
	return due, nil
}

func (i *fakeIndex) Remove(_ context.Context, _ string, jobID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.delayed, jobID)
	for k, e := range i.ready {
		if e.id == jobID {
			i.ready = append(i.ready[:k], i.ready[k+1:]...)
			break
		}
	}
	return nil
}

var _ DispatchIndex = (*fakeIndex)(nil)

func testQueue(t *testing.T) (*Queue, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	q := New(Config{
		Name:              "orders",
		MaxAttempts:       5,
		BackoffBase:       2 * time.Second,
		StallTimeout:      30 * time.Second,
		RetentionComplete: 500,
		RetentionFailed:   10,
	}, newFakeRepo(), newFakeIndex(), zap.NewNop(), nil)
	q.WithClock(clock)
	return q, clock
}

// Scenario 4 (spec.md §8): a VIP job enqueued after several default
// jobs still dispatches before them.
func TestDispatch_PriorityDominatesArrivalOrder(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, int64(i), Payload{}, PriorityDefault)
		require.NoError(t, err)
	}
	vip, err := q.Enqueue(ctx, 99, Payload{}, PriorityVIP)
	require.NoError(t, err)

	dispatched, err := q.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, vip.ID, dispatched.ID)
}

// Within the same priority class, dispatch order is FIFO.
func TestDispatch_FIFOWithinPriorityClass(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, 1, Payload{}, PriorityDefault)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, 2, Payload{}, PriorityDefault)
	require.NoError(t, err)

	dispatched, err := q.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, dispatched.ID)
}

func TestDispatch_EmptyQueueReturnsErrEmpty(t *testing.T) {
	q, _ := testQueue(t)
	_, err := q.Dispatch(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
}

// Backoff schedule: base=2s doubling per attempt, matching spec.md §6.
func TestFail_BackoffScheduleDoublesPerAttempt(t *testing.T) {
	q, clock := testQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, 1, Payload{}, PriorityDefault)
	require.NoError(t, err)

	wantDelays := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	cause := errors.New("transient")

	for _, want := range wantDelays {
		active, err := q.Dispatch(ctx)
		require.NoError(t, err)
		require.Equal(t, job.ID, active.ID)

		before := clock.Now()
		require.NoError(t, q.Fail(ctx, active, cause))

		got, err := q.repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got.RunAt.Sub(before))

		clock.Advance(want)
		promoted, err := q.index.PromoteDue(ctx, "orders", clock.Now().UnixNano(), 10)
		require.NoError(t, err)
		require.Contains(t, promoted, job.ID)
		_, err = q.repo.MarkWaiting(ctx, job.ID)
		require.NoError(t, err)
		require.NoError(t, q.index.PushReady(ctx, "orders", job.ID, job.Priority, job.EnqueueSeq))
	}
}

// After MaxAttempts failed attempts the job dead-letters instead of
// scheduling another retry.
func TestFail_ExhaustedAttemptsDeadLetters(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, 1, Payload{}, PriorityDefault)
	require.NoError(t, err)

	active, err := q.Dispatch(ctx)
	require.NoError(t, err)
	active.Attempts = job.MaxAttempts

	require.NoError(t, q.Fail(ctx, active, errors.New("still broken")))

	got, err := q.repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
}

func TestMoveToFailed_SkipsBackoffEntirely(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, 1, Payload{}, PriorityDefault)
	require.NoError(t, err)
	active, err := q.Dispatch(ctx)
	require.NoError(t, err)

	require.NoError(t, q.MoveToFailed(ctx, active, "insufficient stock"))

	got, err := q.repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "insufficient stock", got.LastError)
}

// recordingSubscriber captures every transition for assertions.
type recordingSubscriber struct {
	NoopSubscriber
	mu     sync.Mutex
	failed []string
}

func (s *recordingSubscriber) OnFailed(job *Job, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, job.ID)
}

func TestSubscribers_NotifiedOnFailed(t *testing.T) {
	q, _ := testQueue(t)
	sub := &recordingSubscriber{}
	q.Subscribe(sub)

	ctx := context.Background()
	job, err := q.Enqueue(ctx, 1, Payload{}, PriorityDefault)
	require.NoError(t, err)
	active, err := q.Dispatch(ctx)
	require.NoError(t, err)

	require.NoError(t, q.MoveToFailed(ctx, active, "boom"))

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Equal(t, []string{job.ID}, sub.failed)
}

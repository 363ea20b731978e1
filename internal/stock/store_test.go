package stock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"orderproc/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store used to test the CAS contract's
// concurrency guarantees without a real Postgres instance. It applies
// the same quantity >= n check as the Postgres implementation; a mutex
// stands in for the version-match CAS, so it never reports a version
// conflict.
type fakeStore struct {
	mu     sync.Mutex
	stocks map[int64]*models.Stock
}

func newFakeStore(stocks ...*models.Stock) *fakeStore {
	m := make(map[int64]*models.Stock, len(stocks))
	for _, s := range stocks {
		cp := *s
		m[s.ID] = &cp
	}
	return &fakeStore{stocks: m}
}

func (f *fakeStore) ReadStock(_ context.Context, stockID int64) (*models.Stock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stocks[stockID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStore) Reserve(_ context.Context, stockID int64, n int) (*models.Stock, error) {
	if n <= 0 {
		return nil, ErrInvalidQuantity
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.stocks[stockID]
	if !ok {
		return nil, ErrNotFound
	}
	if st.Quantity < n {
		return nil, ErrInsufficient
	}
	st.Quantity -= n
	st.Version++
	cp := *st
	return &cp, nil
}

func (f *fakeStore) Release(_ context.Context, stockID int64, n int) (*models.Stock, error) {
	if n <= 0 {
		return nil, ErrInvalidQuantity
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.stocks[stockID]
	if !ok {
		return nil, ErrNotFound
	}
	st.Quantity += n
	st.Version++
	cp := *st
	return &cp, nil
}

var _ Store = (*fakeStore)(nil)

// Scenario 1 (spec.md §8): single happy path.
func TestReserve_HappyPath(t *testing.T) {
	f := newFakeStore(&models.Stock{ID: 1, ProductID: 1, Quantity: 100, Version: 0})

	snap, err := f.Reserve(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 95, snap.Quantity)
	assert.Equal(t, int64(1), snap.Version)
}

// Scenario 2: concurrent same-stock reservations that all fit.
func TestReserve_ConcurrentSameStock_AllFit(t *testing.T) {
	f := newFakeStore(&models.Stock{ID: 1, ProductID: 1, Quantity: 100, Version: 0})

	var wg sync.WaitGroup
	var confirmed int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.Reserve(context.Background(), 1, 2); err == nil {
				atomic.AddInt64(&confirmed, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, confirmed)
	final, err := f.ReadStock(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 80, final.Quantity)
}

// Scenario 3: depletion — exactly floor(quantity/n) reservations succeed.
func TestReserve_Depletion(t *testing.T) {
	f := newFakeStore(&models.Stock{ID: 1, ProductID: 1, Quantity: 5, Version: 0})

	var wg sync.WaitGroup
	var confirmed, insufficient int64
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Reserve(context.Background(), 1, 2)
			switch err {
			case nil:
				atomic.AddInt64(&confirmed, 1)
			case ErrInsufficient:
				atomic.AddInt64(&insufficient, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2, confirmed)
	assert.EqualValues(t, 3, insufficient)
	final, err := f.ReadStock(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, final.Quantity)
}

// Conservation invariant (spec.md §8): final = initial - sum(confirmed).
func TestReserve_Conservation(t *testing.T) {
	const initial = 1000
	f := newFakeStore(&models.Stock{ID: 1, ProductID: 1, Quantity: initial, Version: 0})

	var wg sync.WaitGroup
	var totalReserved int64
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.Reserve(context.Background(), 1, 3); err == nil {
				atomic.AddInt64(&totalReserved, 3)
			}
		}()
	}
	wg.Wait()

	final, err := f.ReadStock(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, initial-int(totalReserved), final.Quantity)
	assert.GreaterOrEqual(t, final.Quantity, 0)
}

func TestReserve_RejectsNonPositiveQuantity(t *testing.T) {
	f := newFakeStore(&models.Stock{ID: 1, ProductID: 1, Quantity: 10, Version: 0})
	_, err := f.Reserve(context.Background(), 1, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestReserve_NotFound(t *testing.T) {
	f := newFakeStore()
	_, err := f.Reserve(context.Background(), 42, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRelease_RestoresQuantityAndBumpsVersion(t *testing.T) {
	f := newFakeStore(&models.Stock{ID: 1, ProductID: 1, Quantity: 50, Version: 3})
	snap, err := f.Release(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 60, snap.Quantity)
	assert.Equal(t, int64(4), snap.Version)
}

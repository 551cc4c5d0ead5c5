package lockout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStore struct {
	mu     sync.Mutex
	states map[string]State
	swaps  int
}

func newMapStore() *mapStore {
	return &mapStore{states: make(map[string]State)}
}

func (s *mapStore) LoginState(_ context.Context, id string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[id], nil
}

func (s *mapStore) SwapLoginState(_ context.Context, id string, old, next State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.states[id].Equal(old) {
		return false, nil
	}
	s.states[id] = next
	s.swaps++
	return true, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func TestRecordFailureLocksAtThreshold(t *testing.T) {
	store := newMapStore()
	clk := newClock()
	p := NewPolicy(store, 5, 2*time.Hour, WithClock(clk.Now))
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		st, err := p.RecordFailure(ctx, "id-1")
		require.NoError(t, err)
		assert.Equal(t, i, st.FailedCount)
		assert.Nil(t, st.LockUntil)
	}

	st, err := p.RecordFailure(ctx, "id-1")
	require.NoError(t, err)
	require.NotNil(t, st.LockUntil)
	assert.Equal(t, 5, st.FailedCount)
	assert.Equal(t, clk.Now().Add(2*time.Hour), *st.LockUntil)
	assert.ErrorIs(t, p.Check(st), ErrAccountLocked)
}

func TestRecordFailureWhileLockedDoesNotCount(t *testing.T) {
	store := newMapStore()
	clk := newClock()
	p := NewPolicy(store, 2, time.Hour, WithClock(clk.Now))
	ctx := context.Background()

	_, _ = p.RecordFailure(ctx, "id-1")
	_, _ = p.RecordFailure(ctx, "id-1")
	swaps := store.swaps

	st, err := p.RecordFailure(ctx, "id-1")
	require.ErrorIs(t, err, ErrAccountLocked)
	assert.Equal(t, 2, st.FailedCount)
	assert.Equal(t, swaps, store.swaps)

	require.ErrorIs(t, p.RecordSuccess(ctx, "id-1"), ErrAccountLocked)
	assert.Equal(t, 2, store.states["id-1"].FailedCount)
}

func TestLockExpiresLazily(t *testing.T) {
	store := newMapStore()
	clk := newClock()
	p := NewPolicy(store, 2, time.Hour, WithClock(clk.Now))
	ctx := context.Background()

	_, _ = p.RecordFailure(ctx, "id-1")
	st, _ := p.RecordFailure(ctx, "id-1")
	require.ErrorIs(t, p.Check(st), ErrAccountLocked)

	clk.Advance(time.Hour - time.Second)
	require.ErrorIs(t, p.Check(st), ErrAccountLocked)

	clk.Advance(time.Second)
	require.NoError(t, p.Check(st))

	// the next failure starts a fresh window instead of relocking
	st, err := p.RecordFailure(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.FailedCount)
	assert.Nil(t, st.LockUntil)
}

func TestRecordSuccessResets(t *testing.T) {
	store := newMapStore()
	p := NewPolicy(store, 5, time.Hour)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := p.RecordFailure(ctx, "id-1")
		require.NoError(t, err)
	}
	require.NoError(t, p.RecordSuccess(ctx, "id-1"))
	assert.True(t, store.states["id-1"].Clean())
}

func TestRecordSuccessAfterExpiredLockClears(t *testing.T) {
	store := newMapStore()
	clk := newClock()
	p := NewPolicy(store, 1, time.Minute, WithClock(clk.Now))
	ctx := context.Background()

	_, err := p.RecordFailure(ctx, "id-1")
	require.NoError(t, err)
	clk.Advance(time.Minute)

	require.NoError(t, p.RecordSuccess(ctx, "id-1"))
	assert.True(t, store.states["id-1"].Clean())
}

func TestConcurrentFailuresAreNotLost(t *testing.T) {
	store := newMapStore()
	p := NewPolicy(store, 100, time.Hour)
	ctx := context.Background()

	const workers = 40
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.RecordFailure(ctx, "id-1"); err != nil {
				t.Errorf("record failure: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, store.states["id-1"].FailedCount)
}

func TestConcurrentFailuresLockExactlyAtThreshold(t *testing.T) {
	store := newMapStore()
	p := NewPolicy(store, 5, time.Hour)
	ctx := context.Background()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		locked int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.RecordFailure(ctx, "id-1")
			if errors.Is(err, ErrAccountLocked) {
				mu.Lock()
				locked++
				mu.Unlock()
				return
			}
			if err != nil {
				t.Errorf("record failure: %v", err)
			}
		}()
	}
	wg.Wait()

	st := store.states["id-1"]
	assert.Equal(t, 5, st.FailedCount)
	assert.NotNil(t, st.LockUntil)
	assert.Equal(t, 7, locked)
}

func TestStateEqual(t *testing.T) {
	a := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.In(time.FixedZone("x", 3600))

	assert.True(t, State{FailedCount: 1, LockUntil: &a}.Equal(State{FailedCount: 1, LockUntil: &b}))
	assert.False(t, State{FailedCount: 1, LockUntil: &a}.Equal(State{FailedCount: 1}))
	assert.True(t, State{}.Equal(State{}))
}

func TestNextIsPure(t *testing.T) {
	p := NewPolicy(newMapStore(), 3, time.Hour)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	s, err := p.Next(State{}, Failure, now)
	require.NoError(t, err)
	assert.Equal(t, State{FailedCount: 1}, s)

	s, err = p.Next(State{FailedCount: 2}, Failure, now)
	require.NoError(t, err)
	require.NotNil(t, s.LockUntil)
	assert.Equal(t, now.Add(time.Hour), *s.LockUntil)

	locked := s
	got, err := p.Next(locked, Success, now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrAccountLocked)
	assert.True(t, got.Equal(locked))

	got, err = p.Next(locked, Success, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, got.Clean())

	got, err = p.Next(State{FailedCount: 2}, Success, now)
	require.NoError(t, err)
	assert.True(t, got.Clean())
}

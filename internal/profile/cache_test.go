package profile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*MemoryStore
	gets int
}

func (s *countingStore) Get(ctx context.Context, id string) (Profile, error) {
	s.gets++
	return s.MemoryStore.Get(ctx, id)
}

func TestCachedStoreDisplayName(t *testing.T) {
	inner := &countingStore{MemoryStore: NewMemoryStore()}
	store := NewCachedStore(inner, 2)
	ctx := context.Background()

	dob := time.Date(1990, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, inner.MemoryStore.Create(ctx, Profile{IdentityID: "a", FullName: "Ada Lovelace", DateOfBirth: &dob}))

	name, err := store.DisplayName(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", name)
	name, err = store.DisplayName(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", name)
	assert.Equal(t, 1, inner.gets)

	name, err = store.DisplayName(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestCachedStoreCreatePrimesCache(t *testing.T) {
	inner := &countingStore{MemoryStore: NewMemoryStore()}
	store := NewCachedStore(inner, 8)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, Profile{IdentityID: "b", FullName: "Grace Hopper"}))
	assert.ErrorIs(t, store.Create(ctx, Profile{IdentityID: "b", FullName: "Again"}), ErrExists)

	name, err := store.DisplayName(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", name)
	assert.Zero(t, inner.gets)

	p, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, p.CreatedAt.IsZero())
}

package profile

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const displayNameTTL = 10 * time.Minute

// CachedStore fronts a Store with an LRU of display names. Profiles are
// written once at registration, so entries are only evicted by size or age.
type CachedStore struct {
	Store
	names *lru.LRU[string, string]
}

// NewCachedStore wraps store with a display-name cache of size entries.
func NewCachedStore(store Store, size int) *CachedStore {
	if size <= 0 {
		size = 1024
	}
	return &CachedStore{
		Store: store,
		names: lru.NewLRU[string, string](size, nil, displayNameTTL),
	}
}

// Create stores p and primes the cache.
func (c *CachedStore) Create(ctx context.Context, p Profile) error {
	if err := c.Store.Create(ctx, p); err != nil {
		return err
	}
	c.names.Add(p.IdentityID, p.FullName)
	return nil
}

// DisplayName returns the profile's full name, or "" when the identity has
// no profile.
func (c *CachedStore) DisplayName(ctx context.Context, identityID string) (string, error) {
	if name, ok := c.names.Get(identityID); ok {
		return name, nil
	}
	p, err := c.Store.Get(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	c.names.Add(identityID, p.FullName)
	return p.FullName, nil
}

package profile

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps profiles in process memory.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]Profile
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]Profile)}
}

func (s *MemoryStore) Create(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[p.IdentityID]; ok {
		return ErrExists
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.m[p.IdentityID] = p
	return nil
}

func (s *MemoryStore) Get(_ context.Context, identityID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.m[identityID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

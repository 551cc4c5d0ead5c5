package otp

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

type memoryEntry struct {
	ch       Challenge
	attempts int
}

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]memoryEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]memoryEntry)}
}

// Put replaces the challenge for identityID.
func (s *MemoryStore) Put(_ context.Context, identityID string, ch Challenge, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[identityID] = memoryEntry{ch: ch}
	return nil
}

// Consume verifies and, on success, removes the challenge.
func (s *MemoryStore) Consume(_ context.Context, identityID, codeHash string, now time.Time, maxAttempts int) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[identityID]
	if !ok {
		return ResultMissing, nil
	}
	if now.After(e.ch.ExpiresAt) {
		delete(s.m, identityID)
		return ResultMissing, nil
	}
	if subtle.ConstantTimeCompare([]byte(e.ch.CodeHash), []byte(codeHash)) != 1 {
		e.attempts++
		if maxAttempts > 0 && e.attempts >= maxAttempts {
			delete(s.m, identityID)
		} else {
			s.m[identityID] = e
		}
		return ResultMismatch, nil
	}
	delete(s.m, identityID)
	return ResultVerified, nil
}

// Package lockout tracks failed credential checks per identity and decides
// when an identity is temporarily locked.
//
// The state lives on the identity record. Every transition is applied with a
// compare-and-set against the stored value, so concurrent failures never lose
// an increment and a concurrent success never clears a lock that a failure
// has just set.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultThreshold = 5
	DefaultDuration  = 2 * time.Hour

	maxSwapAttempts = 64
)

var (
	// ErrAccountLocked is returned while an identity is locked.
	ErrAccountLocked = errors.New("account is temporarily locked")
	// ErrContention is returned when a transition keeps losing the CAS race.
	ErrContention = errors.New("lockout state contention")
)

// State is the persisted lockout view of one identity.
type State struct {
	FailedCount int
	LockUntil   *time.Time
}

// Equal compares two states by value.
func (s State) Equal(o State) bool {
	if s.FailedCount != o.FailedCount {
		return false
	}
	if s.LockUntil == nil || o.LockUntil == nil {
		return s.LockUntil == nil && o.LockUntil == nil
	}
	return s.LockUntil.Equal(*o.LockUntil)
}

// Clean reports whether there is nothing to reset.
func (s State) Clean() bool {
	return s.FailedCount == 0 && s.LockUntil == nil
}

// Store reads and conditionally replaces the lockout state of an identity.
type Store interface {
	LoginState(ctx context.Context, identityID string) (State, error)
	// SwapLoginState replaces old with next and reports false, without
	// writing, when the stored state no longer equals old.
	SwapLoginState(ctx context.Context, identityID string, old, next State) (bool, error)
}

// Policy is the lockout state machine.
type Policy struct {
	threshold int
	duration  time.Duration
	store     Store
	now       func() time.Time
}

// Option customises a Policy.
type Option func(*Policy)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// NewPolicy builds a policy. Non-positive limits fall back to the defaults.
func NewPolicy(store Store, threshold int, duration time.Duration, opts ...Option) *Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	p := &Policy{threshold: threshold, duration: duration, store: store, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Threshold returns the number of failures that triggers a lock.
func (p *Policy) Threshold() int { return p.threshold }

// Locked reports whether s is locked at now. A lock whose deadline has
// passed is treated as unlocked without any write.
func Locked(s State, now time.Time) bool {
	return s.LockUntil != nil && now.Before(*s.LockUntil)
}

// Check fails with ErrAccountLocked when s is locked at the policy's now.
func (p *Policy) Check(s State) error {
	if Locked(s, p.now()) {
		return ErrAccountLocked
	}
	return nil
}

// Outcome is the result of one credential check.
type Outcome int

const (
	Failure Outcome = iota
	Success
)

// Next is the pure transition function. While s is locked at now every
// outcome returns s unchanged together with ErrAccountLocked. A failure
// after an expired lock starts a fresh window.
func (p *Policy) Next(s State, o Outcome, now time.Time) (State, error) {
	if Locked(s, now) {
		return s, ErrAccountLocked
	}
	if o == Success {
		return State{}, nil
	}
	count := s.FailedCount
	if s.LockUntil != nil {
		count = 0
	}
	count++
	next := State{FailedCount: count}
	if count >= p.threshold {
		until := now.Add(p.duration).Truncate(time.Microsecond)
		next.LockUntil = &until
	}
	return next, nil
}

// RecordFailure applies one failed attempt. It returns ErrAccountLocked,
// leaving the counter untouched, when the identity is already locked.
func (p *Policy) RecordFailure(ctx context.Context, identityID string) (State, error) {
	return p.apply(ctx, identityID, Failure)
}

// RecordSuccess clears the counter after a successful credential check. If a
// concurrent failure locked the identity in the meantime the lock is kept and
// ErrAccountLocked is returned.
func (p *Policy) RecordSuccess(ctx context.Context, identityID string) error {
	_, err := p.apply(ctx, identityID, Success)
	return err
}

func (p *Policy) apply(ctx context.Context, identityID string, o Outcome) (State, error) {
	for i := 0; i < maxSwapAttempts; i++ {
		cur, err := p.store.LoginState(ctx, identityID)
		if err != nil {
			return State{}, err
		}
		next, err := p.Next(cur, o, p.now())
		if err != nil {
			return cur, err
		}
		if next.Equal(cur) {
			return cur, nil
		}
		ok, err := p.store.SwapLoginState(ctx, identityID, cur, next)
		if err != nil {
			return State{}, err
		}
		if ok {
			return next, nil
		}
	}
	return State{}, fmt.Errorf("apply login outcome for %s: %w", identityID, ErrContention)
}

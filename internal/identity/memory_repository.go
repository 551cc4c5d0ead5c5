package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/visioncare/telehealth/internal/lockout"
)

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]Identity
	now   func() time.Time
}

// NewMemoryRepository builds an in-memory identity store for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]Identity), now: time.Now}
}

func (r *memoryRepository) Create(_ context.Context, ident Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if !u.IsActive {
			continue
		}
		if strings.EqualFold(u.Email, ident.Email) || u.Phone == ident.Phone {
			return ErrDuplicateIdentity
		}
	}
	r.users[ident.ID] = clone(ident)
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok || !u.IsActive {
		return Identity{}, ErrNotFound
	}
	return clone(u), nil
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (Identity, error) {
	return r.findFirst(func(u Identity) bool { return strings.EqualFold(u.Email, email) })
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (Identity, error) {
	return r.findFirst(func(u Identity) bool { return u.Phone == phone })
}

func (r *memoryRepository) FindByBiometricDigest(_ context.Context, digest string) (Identity, error) {
	return r.findFirst(func(u Identity) bool { return u.BiometricEnabled && u.BiometricDigest == digest })
}

func (r *memoryRepository) findFirst(match func(Identity) bool) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.IsActive && match(u) {
			return clone(u), nil
		}
	}
	return Identity{}, ErrNotFound
}

func (r *memoryRepository) ListByRole(_ context.Context, role Role) ([]Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Identity
	for _, u := range r.users {
		if u.IsActive && u.Role == role {
			out = append(out, clone(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) UpdateRole(_ context.Context, id string, role Role) error {
	return r.update(id, func(u *Identity) error {
		u.Role = role
		return nil
	})
}

func (r *memoryRepository) UpdateBiometric(_ context.Context, id string, bio Biometric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || !u.IsActive {
		return ErrNotFound
	}
	for otherID, other := range r.users {
		if otherID != id && other.IsActive && other.BiometricEnabled && other.BiometricDigest == bio.Digest {
			return ErrDuplicateIdentity
		}
	}
	u.BiometricTemplate = append([]byte(nil), bio.Template...)
	u.BiometricDigest = bio.Digest
	u.BiometricEnabled = true
	u.DeviceFingerprint = bio.DeviceFingerprint
	u.UpdatedAt = r.now().UTC()
	r.users[id] = u
	return nil
}

func (r *memoryRepository) Deactivate(_ context.Context, id string) error {
	return r.update(id, func(u *Identity) error {
		u.IsActive = false
		return nil
	})
}

func (r *memoryRepository) update(id string, fn func(*Identity) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || !u.IsActive {
		return ErrNotFound
	}
	if err := fn(&u); err != nil {
		return err
	}
	u.UpdatedAt = r.now().UTC()
	r.users[id] = u
	return nil
}

func (r *memoryRepository) LoginState(_ context.Context, id string) (lockout.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok || !u.IsActive {
		return lockout.State{}, ErrNotFound
	}
	return u.LoginState(), nil
}

func (r *memoryRepository) SwapLoginState(_ context.Context, id string, old, next lockout.State) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || !u.IsActive {
		return false, ErrNotFound
	}
	if !u.LoginState().Equal(old) {
		return false, nil
	}
	u.FailedLoginCount = next.FailedCount
	u.LockUntil = copyTime(next.LockUntil)
	r.users[id] = u
	return true, nil
}

func clone(u Identity) Identity {
	u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	if u.BiometricTemplate != nil {
		u.BiometricTemplate = append([]byte(nil), u.BiometricTemplate...)
	}
	u.LockUntil = copyTime(u.LockUntil)
	return u
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

package identity

import (
	"context"

	"github.com/visioncare/telehealth/internal/lockout"
)

// Repository persists identities. Lookups only ever return active identities.
type Repository interface {
	lockout.Store

	// Create inserts an identity. It fails with ErrDuplicateIdentity, storing
	// nothing, when the email or phone is held by an active identity.
	Create(ctx context.Context, ident Identity) error
	FindByID(ctx context.Context, id string) (Identity, error)
	FindByEmail(ctx context.Context, email string) (Identity, error)
	FindByPhone(ctx context.Context, phone string) (Identity, error)
	// FindByBiometricDigest returns the active, biometric-enabled identity
	// whose enrolled template hashes to digest.
	FindByBiometricDigest(ctx context.Context, digest string) (Identity, error)
	ListByRole(ctx context.Context, role Role) ([]Identity, error)

	UpdateRole(ctx context.Context, id string, role Role) error
	UpdateBiometric(ctx context.Context, id string, bio Biometric) error
	Deactivate(ctx context.Context, id string) error
}

package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service manages the identity lifecycle and owns password hashing.
type Service struct {
	repo      Repository
	cost      int
	dummyHash []byte
	now       func() time.Time
}

// NewService creates a new identity service. cost is the bcrypt cost; values
// outside bcrypt's range fall back to bcrypt.DefaultCost.
func NewService(repo Repository, cost int) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	// compared against when no identity matches so unknown accounts take as
	// long to reject as a wrong password
	dummy, _ := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	return &Service{repo: repo, cost: cost, dummyHash: dummy, now: time.Now}
}

// Repository exposes the underlying store for components that need the
// narrower lockout view of it.
func (s *Service) Repository() Repository { return s.repo }

// Create registers a new identity with a bcrypt password hash.
func (s *Service) Create(ctx context.Context, in NewIdentity) (Identity, error) {
	if !in.Role.Valid() {
		return Identity{}, ErrInvalidRole
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	ident := Identity{
		ID:           uuid.New().String(),
		Email:        NormalizeEmail(in.Email),
		Phone:        NormalizePhone(in.Phone),
		PasswordHash: hash,
		Role:         in.Role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, ident); err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// FindByID returns the active identity with id.
func (s *Service) FindByID(ctx context.Context, id string) (Identity, error) {
	return s.repo.FindByID(ctx, id)
}

// FindByEmail returns the active identity registered with email.
func (s *Service) FindByEmail(ctx context.Context, email string) (Identity, error) {
	return s.repo.FindByEmail(ctx, NormalizeEmail(email))
}

// FindByPhone returns the active identity registered with phone.
func (s *Service) FindByPhone(ctx context.Context, phone string) (Identity, error) {
	return s.repo.FindByPhone(ctx, NormalizePhone(phone))
}

// FindByBiometricTemplate returns the active, enrolled identity whose template
// digest matches. Callers still have to compare the templates themselves.
func (s *Service) FindByBiometricTemplate(ctx context.Context, template []byte) (Identity, error) {
	return s.repo.FindByBiometricDigest(ctx, TemplateDigest(template))
}

// ListByRole returns active identities with role.
func (s *Service) ListByRole(ctx context.Context, role Role) ([]Identity, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	return s.repo.ListByRole(ctx, role)
}

// VerifyPassword reports whether plaintext matches the identity's hash. The
// comparison costs the same whether or not it matches.
func (s *Service) VerifyPassword(ident Identity, plaintext string) bool {
	return bcrypt.CompareHashAndPassword(ident.PasswordHash, []byte(plaintext)) == nil
}

// BurnPasswordCheck spends the time of one password comparison. It is used
// when there is no identity to compare against.
func (s *Service) BurnPasswordCheck(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(plaintext))
}

// SetRole changes the role of an active identity.
func (s *Service) SetRole(ctx context.Context, id string, role Role) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	return s.repo.UpdateRole(ctx, id, role)
}

// SetBiometric enrolls a biometric template. An empty template is rejected
// so that an enabled flag always has a template behind it.
func (s *Service) SetBiometric(ctx context.Context, id string, template []byte, deviceFingerprint string) error {
	if len(template) == 0 {
		return ErrEmptyTemplate
	}
	return s.repo.UpdateBiometric(ctx, id, Biometric{
		Template:          template,
		Digest:            TemplateDigest(template),
		DeviceFingerprint: NormalizeDeviceFingerprint(deviceFingerprint),
	})
}

// Deactivate soft-deletes an identity; it never authenticates again.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	return s.repo.Deactivate(ctx, id)
}

// NormalizeDeviceFingerprint is applied to fingerprints both when they are
// enrolled and when they are presented.
func NormalizeDeviceFingerprint(fp string) string {
	return strings.TrimSpace(fp)
}

// TemplateDigest is the lookup key of a biometric template.
func TemplateDigest(template []byte) string {
	sum := sha256.Sum256(template)
	return hex.EncodeToString(sum[:])
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone strips spaces and dashes from a phone number.
func NormalizePhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
}

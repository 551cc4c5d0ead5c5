package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/visioncare/telehealth/internal/authz"
	"github.com/visioncare/telehealth/internal/identity"
	"github.com/visioncare/telehealth/internal/profile"
)

// AddDoctorInput promotes an existing identity or creates a new doctor.
// Phone and FullName are only needed when no identity owns Email.
type AddDoctorInput struct {
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"omitempty,phone"`
	FullName string `json:"fullName" validate:"omitempty,min=2"`
}

// DoctorResult describes the doctor after AddDoctor.
type DoctorResult struct {
	Doctor  Summary `json:"doctor"`
	Created bool    `json:"created"`
	// TemporaryPassword is only set for newly created identities and is not
	// retrievable afterwards.
	TemporaryPassword string `json:"temporaryPassword,omitempty"`
}

// ListDoctors returns the active doctors.
func (s *Service) ListDoctors(ctx context.Context) ([]Summary, error) {
	doctors, err := s.ids.ListByRole(ctx, identity.RoleDoctor)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(doctors))
	for _, d := range doctors {
		out = append(out, s.summary(ctx, d))
	}
	return out, nil
}

// AddDoctor gives the doctor role to the identity registered with the email,
// or creates a doctor identity with a random temporary password.
func (s *Service) AddDoctor(ctx context.Context, actor authz.Principal, in AddDoctorInput) (DoctorResult, error) {
	if err := validateInput(s.validate, in); err != nil {
		return DoctorResult{}, err
	}

	existing, err := s.ids.FindByEmail(ctx, in.Email)
	switch {
	case err == nil:
		if existing.Role == identity.RoleAdmin {
			return DoctorResult{}, &ValidationError{Field: "email", Message: "belongs to an administrator"}
		}
		if existing.Role != identity.RoleDoctor {
			if err := s.ids.SetRole(ctx, existing.ID, identity.RoleDoctor); err != nil {
				return DoctorResult{}, err
			}
			existing.Role = identity.RoleDoctor
		}
		s.logger.Info("doctor role granted", "identity_id", existing.ID, "actor_id", actor.IdentityID)
		return DoctorResult{Doctor: s.summary(ctx, existing)}, nil
	case !errors.Is(err, identity.ErrNotFound):
		return DoctorResult{}, err
	}

	if in.Phone == "" {
		return DoctorResult{}, &ValidationError{Field: "phone", Message: "is required"}
	}
	if in.FullName == "" {
		return DoctorResult{}, &ValidationError{Field: "fullName", Message: "is required"}
	}
	password, err := temporaryPassword()
	if err != nil {
		return DoctorResult{}, err
	}
	ident, err := s.ids.Create(ctx, identity.NewIdentity{
		Email:    in.Email,
		Phone:    in.Phone,
		Password: password,
		Role:     identity.RoleDoctor,
	})
	if err != nil {
		return DoctorResult{}, err
	}
	if err := s.profiles.Create(ctx, profile.Profile{IdentityID: ident.ID, FullName: in.FullName, CreatedAt: ident.CreatedAt}); err != nil {
		if derr := s.ids.Deactivate(ctx, ident.ID); derr != nil {
			s.logger.Error("deactivate identity after failed profile create", "identity_id", ident.ID, "error", derr)
		}
		return DoctorResult{}, fmt.Errorf("create profile: %w", err)
	}
	s.logger.Info("doctor created", "identity_id", ident.ID, "actor_id", actor.IdentityID)
	return DoctorResult{Doctor: s.summary(ctx, ident), Created: true, TemporaryPassword: password}, nil
}

// DeactivateIdentity soft-deletes an identity. Administrators cannot
// deactivate themselves.
func (s *Service) DeactivateIdentity(ctx context.Context, actor authz.Principal, id string) error {
	if id == actor.IdentityID {
		return &ValidationError{Field: "id", Message: "must not be the caller"}
	}
	if err := s.ids.Deactivate(ctx, id); err != nil {
		return err
	}
	s.logger.Info("identity deactivated", "identity_id", id, "actor_id", actor.IdentityID)
	return nil
}

func temporaryPassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate temporary password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

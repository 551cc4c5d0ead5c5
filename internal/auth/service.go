// Package auth composes the identity, lockout, OTP, biometric and session
// components into the portal's authentication flows and exposes them over
// HTTP.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/visioncare/telehealth/internal/authz"
	"github.com/visioncare/telehealth/internal/biometric"
	"github.com/visioncare/telehealth/internal/identity"
	"github.com/visioncare/telehealth/internal/lockout"
	"github.com/visioncare/telehealth/internal/metrics"
	"github.com/visioncare/telehealth/internal/otp"
	"github.com/visioncare/telehealth/internal/profile"
	"github.com/visioncare/telehealth/internal/session"
)

const dateLayout = "2006-01-02"

// Token methods recorded on issued tokens.
const (
	MethodRegister  = "register"
	MethodPassword  = "password"
	MethodOTP       = "otp"
	MethodBiometric = "biometric"
)

// ProfileStore is the profile collaborator: it stores the profile created at
// registration and resolves display names.
type ProfileStore interface {
	profile.Store
	profile.DisplayNamer
}

// Deps aggregates the components the service composes.
type Deps struct {
	Identities *identity.Service
	Lockout    *lockout.Policy
	OTP        *otp.Manager
	Biometrics *biometric.Verifier
	Tokens     *session.Issuer
	Profiles   ProfileStore
	Logger     *slog.Logger
	Metrics    *metrics.Auth
	Now        func() time.Time
}

// Service implements the authentication flows.
type Service struct {
	ids      *identity.Service
	lockout  *lockout.Policy
	otp      *otp.Manager
	bio      *biometric.Verifier
	tokens   *session.Issuer
	profiles ProfileStore
	logger   *slog.Logger
	metrics  *metrics.Auth
	validate *validator.Validate
	now      func() time.Time
}

// NewService wires the service from its dependencies.
func NewService(d Deps) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		ids:      d.Identities,
		lockout:  d.Lockout,
		otp:      d.OTP,
		bio:      d.Biometrics,
		tokens:   d.Tokens,
		profiles: d.Profiles,
		logger:   d.Logger,
		metrics:  d.Metrics,
		validate: newValidator(),
		now:      now,
	}
}

// Summary is the public view of an identity.
type Summary struct {
	ID               string        `json:"id"`
	Email            string        `json:"email"`
	Phone            string        `json:"phone"`
	Role             identity.Role `json:"role"`
	FullName         string        `json:"fullName"`
	BiometricEnabled bool          `json:"biometricEnabled"`
}

// Grant is the outcome of a successful authentication.
type Grant struct {
	User  Summary
	Token session.Token
}

type EmergencyContactInput struct {
	Name         string `json:"name" validate:"required"`
	Phone        string `json:"phone" validate:"required"`
	Relationship string `json:"relationship" validate:"required"`
}

// RegisterInput is a patient self-registration.
type RegisterInput struct {
	Email            string                 `json:"email" validate:"required,email"`
	Phone            string                 `json:"phone" validate:"required,phone"`
	Password         string                 `json:"password" validate:"required,min=6"`
	FullName         string                 `json:"fullName" validate:"required,min=2"`
	DateOfBirth      string                 `json:"dateOfBirth" validate:"required,datetime=2006-01-02"`
	Gender           string                 `json:"gender" validate:"required,oneof=male female other prefer_not_to_say"`
	EmergencyContact *EmergencyContactInput `json:"emergencyContact" validate:"required"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type OTPSendInput struct {
	Phone string `json:"phone" validate:"required"`
}

type OTPVerifyInput struct {
	Phone string `json:"phone" validate:"required"`
	Code  string `json:"otp" validate:"required,otpcode"`
}

type BiometricInput struct {
	Template          string `json:"biometricTemplate" validate:"required"`
	DeviceFingerprint string `json:"deviceFingerprint"`
}

// Register creates a patient identity with its profile and signs the caller
// in. A duplicate email or phone leaves no record, challenge or token behind.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Grant, error) {
	if err := validateInput(s.validate, in); err != nil {
		return Grant{}, err
	}
	dob, err := time.Parse(dateLayout, in.DateOfBirth)
	if err != nil {
		return Grant{}, &ValidationError{Field: "dateOfBirth", Message: "must be a date in YYYY-MM-DD format"}
	}
	if dob.After(s.now()) {
		return Grant{}, &ValidationError{Field: "dateOfBirth", Message: "must not be in the future"}
	}

	ident, err := s.ids.Create(ctx, identity.NewIdentity{
		Email:    in.Email,
		Phone:    in.Phone,
		Password: in.Password,
		Role:     identity.RolePatient,
	})
	if err != nil {
		return Grant{}, err
	}

	p := profile.Profile{
		IdentityID:  ident.ID,
		FullName:    in.FullName,
		DateOfBirth: &dob,
		Gender:      in.Gender,
		EmergencyContact: &profile.EmergencyContact{
			Name:         in.EmergencyContact.Name,
			Phone:        in.EmergencyContact.Phone,
			Relationship: in.EmergencyContact.Relationship,
		},
		CreatedAt: ident.CreatedAt,
	}
	if err := s.profiles.Create(ctx, p); err != nil {
		if derr := s.ids.Deactivate(ctx, ident.ID); derr != nil {
			s.logger.Error("deactivate identity after failed profile create", "identity_id", ident.ID, "error", derr)
		}
		return Grant{}, fmt.Errorf("create profile: %w", err)
	}

	s.logger.Info("identity registered", "identity_id", ident.ID, "role", ident.Role)
	return s.grant(ctx, ident, MethodRegister)
}

// login states after Idle; the last three are terminal for an attempt
type loginState string

const (
	stateCredentialsSubmitted loginState = "credentials_submitted"
	stateLockedOut            loginState = "locked_out"
	statePasswordRejected     loginState = "password_rejected"
	stateAuthenticated        loginState = "authenticated"
)

// Login runs one password login attempt:
// Idle -> CredentialsSubmitted -> {LockedOut | PasswordRejected | Authenticated}.
func (s *Service) Login(ctx context.Context, in LoginInput) (Grant, error) {
	if err := validateInput(s.validate, in); err != nil {
		return Grant{}, err
	}

	ident, state, err := s.attemptLogin(ctx, in.Email, in.Password)
	switch state {
	case stateAuthenticated, stateLockedOut, statePasswordRejected:
		s.metrics.Login(string(state))
		s.logger.Info("login attempt", "identity_id", ident.ID, "outcome", string(state))
	}
	if err != nil {
		return Grant{}, err
	}
	return s.grant(ctx, ident, MethodPassword)
}

func (s *Service) attemptLogin(ctx context.Context, email, password string) (identity.Identity, loginState, error) {
	state := stateCredentialsSubmitted

	ident, err := s.ids.FindByEmail(ctx, email)
	if errors.Is(err, identity.ErrNotFound) {
		s.ids.BurnPasswordCheck(password)
		return identity.Identity{}, statePasswordRejected, ErrInvalidCredentials
	}
	if err != nil {
		return identity.Identity{}, state, err
	}

	if err := s.lockout.Check(ident.LoginState()); err != nil {
		return ident, stateLockedOut, err
	}

	if !s.ids.VerifyPassword(ident, password) {
		st, err := s.lockout.RecordFailure(ctx, ident.ID)
		if errors.Is(err, lockout.ErrAccountLocked) {
			return ident, stateLockedOut, err
		}
		if err != nil {
			return ident, state, err
		}
		if st.LockUntil != nil {
			s.metrics.Lockout()
			s.logger.Warn("identity locked", "identity_id", ident.ID,
				"failed_count", st.FailedCount, "lock_until", st.LockUntil.UTC())
		}
		return ident, statePasswordRejected, ErrInvalidCredentials
	}

	if err := s.lockout.RecordSuccess(ctx, ident.ID); err != nil {
		if errors.Is(err, lockout.ErrAccountLocked) {
			return ident, stateLockedOut, err
		}
		return ident, state, err
	}
	return ident, stateAuthenticated, nil
}

// SendOTP issues a passcode for the identity owning phone.
func (s *Service) SendOTP(ctx context.Context, in OTPSendInput) (otp.Issued, error) {
	if err := validateInput(s.validate, in); err != nil {
		return otp.Issued{}, err
	}
	return s.otp.Issue(ctx, in.Phone)
}

// VerifyOTP consumes a passcode and signs the identity in.
func (s *Service) VerifyOTP(ctx context.Context, in OTPVerifyInput) (Grant, error) {
	if err := validateInput(s.validate, in); err != nil {
		return Grant{}, err
	}
	ident, err := s.otp.Verify(ctx, in.Phone, in.Code)
	if err != nil {
		return Grant{}, err
	}
	return s.grant(ctx, ident, MethodOTP)
}

// BiometricLogin signs in the identity enrolled with the presented template.
func (s *Service) BiometricLogin(ctx context.Context, in BiometricInput) (Grant, error) {
	if err := validateInput(s.validate, in); err != nil {
		return Grant{}, err
	}
	ident, err := s.bio.Match(ctx, []byte(in.Template), in.DeviceFingerprint)
	if err != nil {
		return Grant{}, err
	}
	return s.grant(ctx, ident, MethodBiometric)
}

// EnableBiometric enrolls a template for the authenticated caller.
func (s *Service) EnableBiometric(ctx context.Context, p authz.Principal, in BiometricInput) (Summary, error) {
	if err := validateInput(s.validate, in); err != nil {
		return Summary{}, err
	}
	ident, err := s.bio.Enroll(ctx, p.IdentityID, []byte(in.Template), in.DeviceFingerprint)
	if errors.Is(err, identity.ErrNotFound) {
		return Summary{}, fmt.Errorf("%w: identity no longer active", authz.ErrUnauthenticated)
	}
	if err != nil {
		return Summary{}, err
	}
	return s.summary(ctx, ident), nil
}

// Me returns the summary of the authenticated caller. A token whose identity
// has since been deactivated no longer authenticates.
func (s *Service) Me(ctx context.Context, p authz.Principal) (Summary, error) {
	ident, err := s.ids.FindByID(ctx, p.IdentityID)
	if errors.Is(err, identity.ErrNotFound) {
		return Summary{}, fmt.Errorf("%w: identity no longer active", authz.ErrUnauthenticated)
	}
	if err != nil {
		return Summary{}, err
	}
	return s.summary(ctx, ident), nil
}

// Logout always succeeds: tokens are stateless and discarded by the client.
func (s *Service) Logout(context.Context) error {
	return nil
}

func (s *Service) grant(ctx context.Context, ident identity.Identity, method string) (Grant, error) {
	tok, err := s.tokens.Issue(ident.ID, ident.Role)
	if err != nil {
		return Grant{}, err
	}
	s.metrics.TokenIssued(method)
	return Grant{User: s.summary(ctx, ident), Token: tok}, nil
}

func (s *Service) summary(ctx context.Context, ident identity.Identity) Summary {
	name, err := s.profiles.DisplayName(ctx, ident.ID)
	if err != nil {
		s.logger.Warn("resolve display name", "identity_id", ident.ID, "error", err)
	}
	return Summary{
		ID:               ident.ID,
		Email:            ident.Email,
		Phone:            ident.Phone,
		Role:             ident.Role,
		FullName:         name,
		BiometricEnabled: ident.BiometricEnabled,
	}
}

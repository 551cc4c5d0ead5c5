// Package biometric matches presented biometric templates against enrolled
// ones and manages enrollment.
package biometric

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/visioncare/telehealth/internal/identity"
	"github.com/visioncare/telehealth/internal/metrics"
)

var (
	// ErrBiometricMismatch is returned when no enrolled identity matches.
	ErrBiometricMismatch = errors.New("biometric mismatch")
	// ErrDeviceMismatch is returned when the template matches but the
	// presented device differs from the enrolled one.
	ErrDeviceMismatch = errors.New("device mismatch")
)

// Matcher compares an enrolled template with a presented one.
type Matcher interface {
	Match(enrolled, presented []byte) bool
}

// ExactMatcher accepts byte-identical templates, compared in constant time.
type ExactMatcher struct{}

// Match implements Matcher.
func (ExactMatcher) Match(enrolled, presented []byte) bool {
	return len(enrolled) > 0 && subtle.ConstantTimeCompare(enrolled, presented) == 1
}

// IdentityStore is the slice of the identity service the verifier needs.
type IdentityStore interface {
	FindByID(ctx context.Context, id string) (identity.Identity, error)
	FindByBiometricTemplate(ctx context.Context, template []byte) (identity.Identity, error)
	SetBiometric(ctx context.Context, id string, template []byte, deviceFingerprint string) error
}

// Verifier is the biometric verification component.
type Verifier struct {
	ids     IdentityStore
	matcher Matcher
	logger  *slog.Logger
	metrics *metrics.Auth
}

// NewVerifier wires a Verifier. A nil matcher defaults to ExactMatcher; am may be nil.
func NewVerifier(ids IdentityStore, matcher Matcher, logger *slog.Logger, am *metrics.Auth) *Verifier {
	if matcher == nil {
		matcher = ExactMatcher{}
	}
	return &Verifier{ids: ids, matcher: matcher, logger: logger, metrics: am}
}

// Match finds the active, enrolled identity whose template matches. When
// both the enrollment and the caller carry a device fingerprint they must
// be equal.
func (v *Verifier) Match(ctx context.Context, template []byte, deviceFingerprint string) (identity.Identity, error) {
	if len(template) == 0 {
		v.metrics.Biometric("mismatch")
		return identity.Identity{}, ErrBiometricMismatch
	}
	ident, err := v.ids.FindByBiometricTemplate(ctx, template)
	if errors.Is(err, identity.ErrNotFound) {
		v.metrics.Biometric("mismatch")
		return identity.Identity{}, ErrBiometricMismatch
	}
	if err != nil {
		return identity.Identity{}, err
	}
	if !ident.BiometricEnabled || !v.matcher.Match(ident.BiometricTemplate, template) {
		v.metrics.Biometric("mismatch")
		return identity.Identity{}, ErrBiometricMismatch
	}
	deviceFingerprint = identity.NormalizeDeviceFingerprint(deviceFingerprint)
	if ident.DeviceFingerprint != "" && deviceFingerprint != "" &&
		subtle.ConstantTimeCompare([]byte(ident.DeviceFingerprint), []byte(deviceFingerprint)) != 1 {
		v.metrics.Biometric("device_mismatch")
		v.logger.Warn("biometric device mismatch", "identity_id", ident.ID)
		return identity.Identity{}, ErrDeviceMismatch
	}
	v.metrics.Biometric("matched")
	v.logger.Info("biometric matched", "identity_id", ident.ID)
	return ident, nil
}

// Enroll stores template (and optionally a device fingerprint) for the
// identity and enables biometric login. Callers must have authenticated
// identityID beforehand.
func (v *Verifier) Enroll(ctx context.Context, identityID string, template []byte, deviceFingerprint string) (identity.Identity, error) {
	if _, err := v.ids.FindByID(ctx, identityID); err != nil {
		return identity.Identity{}, err
	}
	if err := v.ids.SetBiometric(ctx, identityID, template, deviceFingerprint); err != nil {
		return identity.Identity{}, err
	}
	v.logger.Info("biometric enrolled", "identity_id", identityID)
	return v.ids.FindByID(ctx, identityID)
}

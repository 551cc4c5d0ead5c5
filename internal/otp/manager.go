// Package otp issues and verifies short-lived numeric passcodes bound to the
// phone number of an identity.
package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/visioncare/telehealth/internal/identity"
	"github.com/visioncare/telehealth/internal/metrics"
	"github.com/visioncare/telehealth/internal/notification"
)

const (
	DefaultTTL          = 3 * time.Minute
	DefaultMaxAttempts  = 5
	DefaultDeliveryWait = 300 * time.Millisecond
	DefaultSendTimeout  = 10 * time.Second
)

var (
	// ErrChallengeExpired covers expired, consumed, burned and never-issued challenges.
	ErrChallengeExpired = errors.New("otp challenge expired")
	// ErrChallengeMismatch is returned when the code differs from the live challenge.
	ErrChallengeMismatch = errors.New("otp code mismatch")
	// ErrMalformedCode rejects anything but six ASCII digits without touching
	// the challenge.
	ErrMalformedCode = errors.New("otp code malformed")
)

// IdentityLookup resolves the identity a phone number belongs to.
type IdentityLookup interface {
	FindByPhone(ctx context.Context, phone string) (identity.Identity, error)
}

// DeliveryWarning reports that the code could not be handed to the provider.
// The challenge stays valid.
type DeliveryWarning struct {
	Err error
}

func (w *DeliveryWarning) Error() string {
	return "otp delivery failed: " + w.Err.Error()
}

func (w *DeliveryWarning) Unwrap() error { return w.Err }

// Issued describes a freshly issued challenge.
type Issued struct {
	IdentityID string
	ExpiresAt  time.Time
	// Code is only set in binaries built with the devotp tag and configured
	// to echo codes.
	Code string
	// Warning is set when delivery failed before the issue call returned.
	Warning *DeliveryWarning
}

// Config tunes a Manager.
type Config struct {
	TTL          time.Duration
	MaxAttempts  int
	DeliveryWait time.Duration
	SendTimeout  time.Duration
	Echo         bool
}

// Manager is the OTP challenge-response component.
type Manager struct {
	ids     IdentityLookup
	store   Store
	sender  notification.Sender
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Auth
	now     func() time.Time
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics attaches auth counters.
func WithMetrics(am *metrics.Auth) Option {
	return func(m *Manager) { m.metrics = am }
}

// NewManager wires a Manager. Zero TTL, MaxAttempts and SendTimeout take the
// defaults; a zero DeliveryWait returns without waiting for delivery.
func NewManager(ids IdentityLookup, store Store, sender notification.Sender, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.DeliveryWait < 0 {
		cfg.DeliveryWait = DefaultDeliveryWait
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	m := &Manager{ids: ids, store: store, sender: sender, cfg: cfg, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EchoEnabled reports whether issued codes are returned to callers.
func (m *Manager) EchoEnabled() bool {
	return echoCompiledIn && m.cfg.Echo
}

// Issue creates a new challenge for the identity owning phone, replacing any
// previous one, and hands the code to the sender. Delivery runs in the
// background; Issue waits at most DeliveryWait to report a failed delivery.
func (m *Manager) Issue(ctx context.Context, phone string) (Issued, error) {
	ident, err := m.ids.FindByPhone(ctx, phone)
	if err != nil {
		return Issued{}, err
	}

	code, err := GenerateCode()
	if err != nil {
		return Issued{}, err
	}
	now := m.now()
	ch := Challenge{CodeHash: HashCode(ident.ID, code), ExpiresAt: now.Add(m.cfg.TTL)}
	if err := m.store.Put(ctx, ident.ID, ch, m.cfg.TTL); err != nil {
		return Issued{}, err
	}
	m.metrics.OTPIssued()
	m.logger.Info("otp issued", "identity_id", ident.ID, "expires_at", ch.ExpiresAt)

	issued := Issued{IdentityID: ident.ID, ExpiresAt: ch.ExpiresAt}
	if m.EchoEnabled() {
		issued.Code = code
	}
	if err := m.deliver(ctx, ident, code); err != nil {
		issued.Warning = &DeliveryWarning{Err: err}
	}
	return issued, nil
}

func (m *Manager) deliver(ctx context.Context, ident identity.Identity, code string) error {
	done := make(chan error, 1)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.SendTimeout)
		defer cancel()
		_, err := m.sender.Send(sendCtx, ident.Phone, code)
		if err != nil {
			m.metrics.OTPDeliveryFailed()
			m.logger.Warn("otp delivery failed", "identity_id", ident.ID,
				"destination", notification.MaskDestination(ident.Phone), "error", err)
		}
		done <- err
	}()

	if m.cfg.DeliveryWait == 0 {
		return nil
	}
	timer := time.NewTimer(m.cfg.DeliveryWait)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		// still in flight; the outcome is only logged
		return nil
	}
}

// Verify consumes the challenge of the identity owning phone. On success the
// challenge is gone and the identity is returned.
func (m *Manager) Verify(ctx context.Context, phone, code string) (identity.Identity, error) {
	if !WellFormed(code) {
		return identity.Identity{}, ErrMalformedCode
	}
	ident, err := m.ids.FindByPhone(ctx, phone)
	if err != nil {
		return identity.Identity{}, err
	}

	res, err := m.store.Consume(ctx, ident.ID, HashCode(ident.ID, code), m.now(), m.cfg.MaxAttempts)
	if err != nil {
		return identity.Identity{}, err
	}
	m.metrics.OTPVerified(res.String())
	m.logger.Info("otp verify", "identity_id", ident.ID, "outcome", res.String())

	switch res {
	case ResultVerified:
		return ident, nil
	case ResultMismatch:
		return identity.Identity{}, ErrChallengeMismatch
	case ResultMissing:
		return identity.Identity{}, ErrChallengeExpired
	default:
		return identity.Identity{}, fmt.Errorf("otp: unexpected result %d", res)
	}
}

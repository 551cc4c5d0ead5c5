package auth

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/visioncare/telehealth/internal/authz"
	"github.com/visioncare/telehealth/internal/biometric"
	"github.com/visioncare/telehealth/internal/identity"
	"github.com/visioncare/telehealth/internal/lockout"
	"github.com/visioncare/telehealth/internal/otp"
	"github.com/visioncare/telehealth/internal/session"
)

var (
	// ErrInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
)

// ValidationError reports malformed or missing input. It never follows a
// state change.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + " " + e.Message
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// httpError maps domain errors to status codes and client-safe messages.
// Errors it does not know are returned unchanged and rendered as an opaque
// internal error by the server's error handler.
func httpError(err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return fiber.NewError(http.StatusBadRequest, verr.Error())
	case errors.Is(err, identity.ErrDuplicateIdentity):
		return fiber.NewError(http.StatusBadRequest, "User with this email or phone already exists")
	case errors.Is(err, identity.ErrEmptyTemplate):
		return fiber.NewError(http.StatusBadRequest, "Biometric template is required")
	case errors.Is(err, identity.ErrInvalidRole):
		return fiber.NewError(http.StatusBadRequest, "Invalid role")
	case errors.Is(err, ErrInvalidCredentials):
		return fiber.NewError(http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, lockout.ErrAccountLocked):
		return fiber.NewError(http.StatusLocked, "Account temporarily locked due to too many failed attempts. Try again later.")
	case errors.Is(err, identity.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "User not found")
	case errors.Is(err, otp.ErrMalformedCode):
		return fiber.NewError(http.StatusBadRequest, "otp must be exactly 6 digits")
	case errors.Is(err, otp.ErrChallengeExpired), errors.Is(err, otp.ErrChallengeMismatch):
		return fiber.NewError(http.StatusBadRequest, "Invalid or expired OTP")
	case errors.Is(err, biometric.ErrBiometricMismatch), errors.Is(err, biometric.ErrDeviceMismatch):
		return fiber.NewError(http.StatusUnauthorized, "Biometric verification failed")
	case errors.Is(err, session.ErrTokenInvalid), errors.Is(err, session.ErrTokenExpired),
		errors.Is(err, authz.ErrUnauthenticated), errors.Is(err, authz.ErrForbidden):
		return authz.HTTPError(err)
	default:
		return err
	}
}

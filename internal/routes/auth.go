package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/visioncare/telehealth/internal/auth"
	"github.com/visioncare/telehealth/internal/authz"
)

// AuthLimits are the per-route guards of the public auth endpoints. Nil
// entries are skipped.
type AuthLimits struct {
	Login       fiber.Handler
	OTP         fiber.Handler
	Idempotency fiber.Handler
}

// RegisterAuthRoutes wires authentication endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, gate *authz.Gate, limits AuthLimits) {
	group := r.Group("/auth")
	group.Post("/register", chain(h.Register, limits.Idempotency)...)
	group.Post("/login", chain(h.Login, limits.Login)...)
	group.Post("/biometric-verify", chain(h.BiometricVerify, limits.Login)...)
	group.Post("/enable-biometric", gate.Middleware(), h.EnableBiometric)
	group.Post("/otp-send", chain(h.OTPSend, limits.OTP)...)
	group.Post("/otp-verify", chain(h.OTPVerify, limits.OTP)...)
	group.Get("/verify", gate.Middleware(), h.Verify)
	group.Post("/logout", h.Logout)
}

func chain(final fiber.Handler, guards ...fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(guards)+1)
	for _, g := range guards {
		if g != nil {
			out = append(out, g)
		}
	}
	return append(out, final)
}

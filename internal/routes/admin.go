package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/visioncare/telehealth/internal/auth"
	"github.com/visioncare/telehealth/internal/authz"
	"github.com/visioncare/telehealth/internal/identity"
)

// RegisterAdminRoutes wires the admin-only doctor and identity management.
// idempotency may be nil.
func RegisterAdminRoutes(r fiber.Router, h *auth.Handler, gate *authz.Gate, idempotency fiber.Handler) {
	group := r.Group("/admin", gate.Middleware(authz.RequireRole(identity.RoleAdmin)))
	group.Get("/doctors", h.ListDoctors)
	group.Post("/doctors", chain(h.AddDoctor, idempotency)...)
	group.Post("/identities/:id/deactivate", h.DeactivateIdentity)
}

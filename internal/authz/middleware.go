package authz

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const principalKey = "authz.principal"

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(c *fiber.Ctx) string {
	h := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// Middleware admits requests whose bearer token passes the gate and every
// policy, and stores the principal for PrincipalFrom.
func (g *Gate) Middleware(policies ...Policy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := g.Authorize(BearerToken(c), policies...)
		if err != nil {
			return HTTPError(err)
		}
		c.Locals(principalKey, p)
		return c.Next()
	}
}

// PrincipalFrom returns the principal stored by Middleware.
func PrincipalFrom(c *fiber.Ctx) (Principal, bool) {
	p, ok := c.Locals(principalKey).(Principal)
	return p, ok
}

// HTTPError maps gate errors to fiber errors with generic messages.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return fiber.NewError(http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(http.StatusForbidden, "Forbidden")
	default:
		return err
	}
}

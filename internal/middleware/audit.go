package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/visioncare/telehealth/internal/authz"
)

// Audit logs one line per request. Client errors log at warn and server
// errors at error. Request bodies are never logged since they carry
// passwords, codes and biometric templates.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := responseStatus(c, err)
		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("ip", c.IP()),
		}
		if id := RequestIDFrom(c); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if p, ok := authz.PrincipalFrom(c); ok {
			attrs = append(attrs, slog.String("identity_id", p.IdentityID), slog.String("role", string(p.Role)))
		}

		switch {
		case status >= fiber.StatusInternalServerError:
			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
			}
			logger.Error("request completed", attrs...)
		case status >= fiber.StatusBadRequest:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
		return err
	}
}

// responseStatus predicts the status the error handler will write for err.
func responseStatus(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/visioncare/telehealth/internal/config"
	"github.com/visioncare/telehealth/internal/metrics"
	"github.com/visioncare/telehealth/internal/middleware"
	"github.com/visioncare/telehealth/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app   *fiber.App
	cfg   config.Config
	db    *pgxpool.Pool
	cache *redis.Client
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// db and cache may be nil in development.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: ErrorHandler(logger),
	})

	deps := routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger, Registry: metrics.NewRegistry()}
	if err := routes.Setup(app, deps); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, db: db, cache: cache}, nil
}

// ErrorHandler renders errors as {"message": ...}. Anything that is not a
// *fiber.Error is logged in full and reported as an opaque internal error.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
		}
		logger.Error("internal error",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("request_id", middleware.RequestIDFrom(c)),
			slog.Any("error", err),
		)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"message": "internal error"})
	}
}

// App exposes the fiber application, mainly for in-process tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

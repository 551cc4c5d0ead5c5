package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/visioncare/telehealth/internal/config"
	"github.com/visioncare/telehealth/internal/db/migrate"
	"github.com/visioncare/telehealth/internal/infra"
	"github.com/visioncare/telehealth/internal/logging"
	"github.com/visioncare/telehealth/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.AppName, cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("telehealth api stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate && cfg.DatabaseURL != "" {
		if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		logger.Info("migrations applied")
	}

	// development may run without Postgres and Redis; config rejects that elsewhere
	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		db = pool
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		cache = client
	}

	srv, err := server.New(cfg, db, cache, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	listenErr := make(chan error, 1)
	go func() { listenErr <- srv.Listen() }()
	logger.Info("telehealth api listening", "addr", cfg.Address(), "env", cfg.AppEnv,
		"postgres", db != nil, "redis", cache != nil)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-listenErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownPeriod)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

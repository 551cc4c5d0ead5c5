package main

import (
	"fmt"
	"os"

	"github.com/visioncare/telehealth/internal/config"
	"github.com/visioncare/telehealth/internal/db/migrate"
	"github.com/visioncare/telehealth/internal/logging"
)

func main() {
	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.AppName, cfg.LogLevel, cfg.LogFormat)

	if err := migrate.Run(cfg.DatabaseURL, direction); err != nil {
		logger.Error("migrate", "direction", direction, "error", err)
		os.Exit(1)
	}
	logger.Info("migrations applied", "direction", direction)
}

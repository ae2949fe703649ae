package main

import (
	"context"
	"fmt"
	"os"

	"PointsSettlement/internal/config"
	"PointsSettlement/internal/logger"
	"PointsSettlement/internal/migrate"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	if len(os.Args) > 1 && os.Args[1] == "status" {
		if err := migrate.Status(ctx, cfg.DB.DSN); err != nil {
			logger.Error("migration status failed", "err", err)
			os.Exit(1)
		}
		return
	}
	if err := migrate.Up(ctx, cfg.DB.DSN); err != nil {
		logger.Error("migration failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")
}

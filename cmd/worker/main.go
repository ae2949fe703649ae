package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"PointsSettlement/internal/app"
	"PointsSettlement/internal/config"
	"PointsSettlement/internal/logger"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	w := a.Worker()
	logger.Info("worker started", "settlement", a.Gateway.BaseURL(), "interval", w.Interval.String(),
		"ws_endpoints", len(w.WSEndpoints))
	w.Run(ctx)
}

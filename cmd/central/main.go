package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ehrsync/internal/app/central"
	"ehrsync/internal/config"
	"ehrsync/internal/utils/logger"
)

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.Env,
		logger.WithLevel(cfg.Logger.Level),
		logger.WithFile(cfg.Logger.File, cfg.Logger.MaxSizeMB, cfg.Logger.MaxBackups),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := central.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start central server", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Error("central server failed", "error", err)
		stop()
		app.Close()
		os.Exit(1)
	}
}

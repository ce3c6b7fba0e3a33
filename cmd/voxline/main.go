package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/harunnryd/voxline/pkg/logging"
	"github.com/harunnryd/voxline/pkg/voxline"
)

func main() {
	configPath := flag.String("config", "configs/voxline.example.yaml", "path to the voxline config file")
	flag.Parse()

	cfg, err := voxline.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config_load_failed", slog.String("path", *configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("logger_initialized", slog.String("level", cfg.LogLevel), slog.String("format", cfg.LogFormat), slog.String("environment", cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := voxline.NewEngine(ctx, voxline.EngineOptions{Config: cfg, Logger: logger})
	if err != nil {
		logger.Error("engine_init_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := app.Start(ctx); err != nil {
		logger.Error("engine_start_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutdown_requested")
	if err := app.Stop(); err != nil {
		logger.Warn("engine_stop_incomplete", slog.String("error", err.Error()))
	}
}

// ====================================
// File: cmd/hedgebot/main.go
// ====================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/bot"
	"github.com/rovshanmuradov/hedge-bot/internal/config"
	"github.com/rovshanmuradov/hedge-bot/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = appLogger.Sync()
	}()

	appLogger.Info("Starting hedge bot",
		zap.String("config", *configPath),
		zap.String("venue", cfg.Exchange.Venue),
		zap.Int("positions", len(cfg.Positions)))

	runner := bot.NewRunner(cfg, appLogger.Logger)
	initDone := appLogger.TrackPerformance("initialize")
	err = runner.Initialize(ctx)
	initDone()
	if err != nil {
		appLogger.Error("Failed to initialize bot", zap.Error(err))
		_ = appLogger.Sync()
		os.Exit(1)
	}

	if err := runner.Run(ctx); err != nil {
		appLogger.Error("Bot execution error", zap.Error(err))
		_ = appLogger.Sync()
		os.Exit(1)
	}
}

// cmd/intent-engine/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"intent-engine/internal/app"
	"intent-engine/internal/common/config"
	"intent-engine/internal/common/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting intent engine...",
		zap.String("version", cfg.App.Version),
		zap.String("modelSource", cfg.Engine.ModelSource),
		zap.String("conversationStore", cfg.Conversation.Store),
		zap.Bool("camunda", cfg.Camunda.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("intent engine startup failed", zap.Error(err))
	}

	if err := a.Run(ctx); err != nil {
		zapLog.Error("intent engine stopped with errors", zap.Error(err))
		os.Exit(1)
	}
	zapLog.Info("Intent engine stopped gracefully")
}

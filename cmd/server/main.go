package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-orchestrator/internal/bootstrap"
	"voice-orchestrator/internal/config"
	"voice-orchestrator/internal/logbuf"
	"voice-orchestrator/internal/logging"
	"voice-orchestrator/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	logs := logbuf.New(cfg.Log.BufferSize)
	logger := logging.Init(cfg.Log.Level, cfg.Log.Format, logs)

	// ---- Service ----
	app, err := bootstrap.Build(ctx, cfg, bootstrap.WithLogger(logger))
	if err != nil {
		logger.Error("failed to build service", "err", err)
		os.Exit(1)
	}

	srv, err := server.New(app.Chat, logs, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	}
}

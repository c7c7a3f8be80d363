package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"voice-orchestrator/handler"
	"voice-orchestrator/internal/bootstrap"
	"voice-orchestrator/internal/config"
	"voice-orchestrator/internal/logbuf"
	"voice-orchestrator/internal/logging"
)

func main() {
	ctx := context.Background()

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

	// ---- Handler ----
	h, err := handler.NewHandler(app.Chat, handler.WithLogs(logs), handler.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

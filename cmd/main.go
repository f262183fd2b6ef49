package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"channel-assistant/handler"
	"channel-assistant/internal/app"
	"channel-assistant/internal/config"
	"channel-assistant/pkg/logger"
)

func main() {
	ctx := context.Background()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	assistant, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("failed to build assistant", zap.Error(err))
		os.Exit(1)
	}
	defer func() { _ = assistant.Close() }()

	h, err := handler.NewHandler(assistant.Pipeline, log)
	if err != nil {
		log.Error("failed to create handler", zap.Error(err))
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

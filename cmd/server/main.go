package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nfrund/peerchat/internal/app"
	"github.com/nfrund/peerchat/internal/config"
	"github.com/nfrund/peerchat/internal/logging"
)

func main() {
	cfg := config.New()
	slog.SetDefault(logging.NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to start peerchat", "error", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		slog.Error("peerchat stopped with errors", "error", err)
		os.Exit(1)
	}
	slog.Info("peerchat stopped")
}

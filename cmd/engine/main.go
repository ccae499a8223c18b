// Command engine runs the dealership communication engine: the job
// processor, the scheduler sweeps, and the health/ops HTTP surface, all in
// one process.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/wrenchworks/dealercomm/internal/adapter/observability"
	"github.com/wrenchworks/dealercomm/internal/app"
	"github.com/wrenchworks/dealercomm/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	sup, err := app.NewSupervisor(ctx, cfg)
	if err != nil {
		slog.Error("engine startup failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("engine starting", slog.String("env", cfg.AppEnv))
	if err := sup.Run(ctx); err != nil {
		slog.Error("engine exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shelterql/shelterql/internal/demo/seed"
)

func main() {
	cfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load demo seed config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(
		"seeding demo warehouse",
		slog.String("path", cfg.Path),
		slog.Int("rows", cfg.Rows),
		slog.Int64("seed", cfg.Seed),
		slog.Bool("include_null_outcome", cfg.IncludeNullOutcome),
		slog.Bool("overwrite", cfg.Overwrite),
	)
	summary, err := seed.CreateDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("demo seed failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("demo warehouse ready",
		slog.Int("fact_rows", summary.FactRows),
		slog.Int("outcome_types", summary.Outcomes),
		slog.Int("date_rows", summary.DateRows),
	)
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shelterql/shelterql/internal/config"
	"github.com/shelterql/shelterql/internal/maintenance"
	"github.com/shelterql/shelterql/internal/observability"
	s3store "github.com/shelterql/shelterql/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("shelterql-report-janitor")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	if !cfg.Archive.Enabled {
		logger.Error("report archive is disabled; set SHELTERQL_ARCHIVE_ENABLED=true")
		os.Exit(1)
	}
	store, err := s3store.New(context.Background(), s3store.Config{
		Endpoint:         cfg.Archive.Endpoint,
		Region:           cfg.Archive.Region,
		Bucket:           cfg.Archive.Bucket,
		AccessKeyID:      cfg.Archive.AccessKeyID,
		SecretAccessKey:  cfg.Archive.SecretAccessKey,
		UseSSL:           cfg.Archive.UseSSL,
		Prefix:           cfg.Archive.Prefix,
		AutoCreateBucket: cfg.Archive.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize report archive", slog.Any("error", err))
		os.Exit(1)
	}

	svc := &maintenance.ReportService{
		Store: store,
		Config: maintenance.ReportConfig{
			KeepRuns:          cfg.Archive.KeepRuns,
			SafetyAge:         cfg.Archive.SafetyAge,
			RetentionInterval: cfg.Archive.RetentionInterval,
			IntegrityInterval: cfg.Archive.IntegrityInterval,
		},
		Logger: logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("report janitor started",
		slog.Int("keep_runs", cfg.Archive.KeepRuns),
		slog.Duration("retention_interval", cfg.Archive.RetentionInterval),
	)
	if err := svc.Run(ctx); err != nil {
		logger.Error("report janitor failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("report janitor stopped")
}

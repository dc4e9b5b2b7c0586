package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shelterql/shelterql/internal/api"
	"github.com/shelterql/shelterql/internal/api/uistatic"
	"github.com/shelterql/shelterql/internal/assistant"
	"github.com/shelterql/shelterql/internal/auth"
	"github.com/shelterql/shelterql/internal/config"
	"github.com/shelterql/shelterql/internal/fixtures"
	"github.com/shelterql/shelterql/internal/history"
	historypostgres "github.com/shelterql/shelterql/internal/history/postgres"
	"github.com/shelterql/shelterql/internal/nl2sql"
	"github.com/shelterql/shelterql/internal/observability"
	duckdbengine "github.com/shelterql/shelterql/internal/query/duckdb"
	s3store "github.com/shelterql/shelterql/internal/storage/s3"
	"github.com/shelterql/shelterql/internal/validation"
)

func main() {
	cfg, err := config.LoadFromEnv("shelterql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	bundle, err := fixtures.LoadBundle(fixtures.Paths{
		AgentConfig:   cfg.Fixtures.AgentConfigPath,
		SchemaContext: cfg.Fixtures.SchemaContextPath,
		TestCases:     cfg.Fixtures.TestCasesPath,
	})
	if err != nil {
		logger.Error("failed to load fixtures", slog.Any("error", err))
		os.Exit(1)
	}
	sqlTemperature := bundle.Agent.TemperatureOr(cfg.Model.SQLTemperature)
	temperatureSource := "SHELTERQL_MODEL_SQL_TEMPERATURE"
	if bundle.Agent.Temperature != nil {
		temperatureSource = cfg.Fixtures.AgentConfigPath
	}
	logger.Info("sql temperature selected",
		slog.Float64("sql_temperature", sqlTemperature),
		slog.String("source", temperatureSource),
		slog.Float64("summary_temperature", cfg.Model.SummaryTemperature),
		slog.Int("test_cases", bundle.Suite.TotalTestCases),
	)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	db, err := duckdbengine.OpenReadOnly(startupCtx, cfg.Store.Path, duckdbengine.RetryPolicy{
		Attempts: cfg.Store.ConnectAttempts,
		Delay:    cfg.Store.ConnectDelay,
	}, logger)
	if err != nil {
		cancelStartup()
		logger.Error("failed to open warehouse", slog.String("path", cfg.Store.Path), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	engine := duckdbengine.NewEngine(db, duckdbengine.EngineOptions{
		ErrorMessageLimit: cfg.Store.ErrorMessageLimit,
		QueryTimeout:      cfg.Store.QueryTimeout,
		Observe:           observability.ObserveQueryDuration,
	})

	model, err := nl2sql.NewOllamaClient(nl2sql.OllamaConfig{
		BaseURL: cfg.Model.BaseURL,
		Model:   cfg.Model.Model,
		Timeout: cfg.Model.Timeout,
	})
	if err != nil {
		cancelStartup()
		logger.Error("failed to initialize model client", slog.Any("error", err))
		os.Exit(1)
	}
	summarizer, err := nl2sql.NewSummarizer(model, nl2sql.SummaryConfig{
		Temperature: cfg.Model.SummaryTemperature,
		Logger:      logger,
		Observe: func(elapsed time.Duration) {
			observability.ObserveModelLatency("summary", elapsed)
		},
	})
	if err != nil {
		cancelStartup()
		logger.Error("failed to initialize summarizer", slog.Any("error", err))
		os.Exit(1)
	}

	var historyStore history.Store = history.NopStore{}
	if cfg.History.Enabled {
		historyDB, err := historypostgres.Open(startupCtx, historypostgres.DBConfig{
			DSN:             cfg.History.DSN,
			MaxOpenConns:    cfg.History.MaxOpenConns,
			MaxIdleConns:    cfg.History.MaxIdleConns,
			ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.History.ConnMaxLifetime,
		})
		if err != nil {
			cancelStartup()
			logger.Error("failed to open history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = historyDB.Close() }()
		historyStore = historypostgres.NewRepository(historyDB)
	}

	var archiver *validation.Archiver
	if cfg.Archive.Enabled {
		objectStore, err := s3store.New(startupCtx, s3store.Config{
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
			cancelStartup()
			logger.Error("failed to initialize report archive", slog.Any("error", err))
			os.Exit(1)
		}
		archiver = &validation.Archiver{Store: objectStore, Runs: historyStore, Logger: logger}
	} else if cfg.History.Enabled {
		archiver = &validation.Archiver{Runs: historyStore, Logger: logger}
	}
	cancelStartup()

	asst, err := assistant.New(assistant.Config{
		SystemPrompt:   bundle.SystemPrompt(),
		SQLTemperature: sqlTemperature,
		SummaryEnabled: cfg.Model.SummaryEnabled,
		ModelName:      model.Model(),
		PromptVersion:  bundle.Agent.Version,
	}, assistant.Dependencies{
		Generator:  model,
		Executor:   engine,
		Summarizer: summarizer,
		History:    historyStore,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to initialize assistant", slog.Any("error", err))
		os.Exit(1)
	}
	harness, err := validation.NewHarness(asst, validation.HarnessConfig{
		Parallelism: cfg.Validation.Parallelism,
		CaseTimeout: cfg.Validation.CaseTimeout,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to initialize validation harness", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:     logger,
		Assistant:  asst,
		Executor:   engine,
		Models:     model,
		History:    historyStore,
		Validation: harness,
		Suite:      bundle.Suite,
		UI:         uistatic.Handler(),
		Readiness: api.CombineReadinessChecks(
			api.CheckExecutor(engine),
			api.CheckModel(model),
			api.CheckHistory(historyStore),
		),
		DependencyTimeout: cfg.Model.LivenessTimeout,
	}
	if archiver != nil {
		deps.Archiver = archiver
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("prompt_version", bundle.Agent.Version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

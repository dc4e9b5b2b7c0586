package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds how often opening the store is attempted.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 2 * time.Second}
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		delay = time.Millisecond
	}
	return retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(delay))
}

// OpenReadOnly opens the DuckDB file in read-only mode and confirms it
// answers SELECT 1. Transient failures such as a writer holding the file
// lock are retried per policy; a missing file fails immediately.
func OpenReadOnly(ctx context.Context, path string, policy RetryPolicy, logger *slog.Logger) (*sql.DB, error) {
	return open(ctx, path, true, policy, logger)
}

// OpenReadWrite is used by maintenance and fixture tooling only.
func OpenReadWrite(ctx context.Context, path string, policy RetryPolicy, logger *slog.Logger) (*sql.DB, error) {
	return open(ctx, path, false, policy, logger)
}

func open(ctx context.Context, path string, readOnly bool, policy RetryPolicy, logger *slog.Logger) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("duckdb path is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dsn := path
	if readOnly {
		dsn = path + "?access_mode=read_only"
	}

	var db *sql.DB
	attempt := 0
	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempt++
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("duckdb file %q does not exist: %w", path, err)
			}
			return retry.RetryableError(fmt.Errorf("stat duckdb file: %w", err))
		}
		candidate, err := sql.Open("duckdb", dsn)
		if err != nil {
			logger.WarnContext(ctx, "duckdb_open_failed", slog.Int("attempt", attempt), slog.Any("error", err))
			return retry.RetryableError(fmt.Errorf("open duckdb: %w", err))
		}
		var one int
		if err := candidate.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			_ = candidate.Close()
			logger.WarnContext(ctx, "duckdb_probe_failed", slog.Int("attempt", attempt), slog.Any("error", err))
			return retry.RetryableError(fmt.Errorf("probe duckdb: %w", err))
		}
		db = candidate
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to duckdb after %d attempt(s): %w", attempt, err)
	}
	logger.InfoContext(ctx, "duckdb_connected", slog.String("path", path), slog.Bool("read_only", readOnly), slog.Int("attempts", attempt))
	return db, nil
}

// Create opens path read-write, creating the file when it does not exist.
func Create(ctx context.Context, path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("duckdb path is required")
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return db, nil
}

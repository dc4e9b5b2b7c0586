package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shelterql/shelterql/internal/history"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

func (r *Repository) Record(ctx context.Context, entry history.Entry) error {
	query := `
INSERT INTO question_history (request_id, question, generated_sql, repairs, outcome, failure_stage, failure_message, row_count, latency_ms, model, asked_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (request_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query,
		entry.RequestID,
		entry.Question,
		entry.SQL,
		strings.Join(entry.Repairs, ","),
		string(entry.Outcome),
		entry.FailureStage,
		entry.FailureMessage,
		entry.RowCount,
		entry.Latency.Milliseconds(),
		entry.Model,
		entry.AskedBy,
	); err != nil {
		return fmt.Errorf("record question history: %w", err)
	}
	return nil
}

func (r *Repository) ListRecent(ctx context.Context, limit int) ([]history.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT request_id, question, generated_sql, repairs, outcome, failure_stage, failure_message, row_count, latency_ms, model, asked_by, created_at
FROM question_history
ORDER BY created_at DESC
LIMIT $1`, history.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list question history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]history.Entry, 0)
	for rows.Next() {
		var (
			entry   history.Entry
			repairs string
			outcome string
		)
		if err := rows.Scan(
			&entry.RequestID,
			&entry.Question,
			&entry.SQL,
			&repairs,
			&outcome,
			&entry.FailureStage,
			&entry.FailureMessage,
			&entry.RowCount,
			&entry.LatencyMS,
			&entry.Model,
			&entry.AskedBy,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan question history: %w", err)
		}
		if repairs != "" {
			entry.Repairs = strings.Split(repairs, ",")
		}
		entry.Outcome = history.Outcome(outcome)
		entry.Latency = time.Duration(entry.LatencyMS) * time.Millisecond
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question history: %w", err)
	}
	return entries, nil
}

func (r *Repository) RecordValidationRun(ctx context.Context, run history.ValidationRun) error {
	query := `
INSERT INTO validation_run (run_id, total_cases, passed_cases, pass_rate, archive_key, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, query,
		run.RunID,
		run.TotalCases,
		run.PassedCases,
		run.PassRate,
		run.ArchiveKey,
		run.StartedAt,
		run.FinishedAt,
	); err != nil {
		return fmt.Errorf("record validation run: %w", err)
	}
	return nil
}

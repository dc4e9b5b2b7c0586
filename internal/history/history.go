// Package history records every question the assistant answers and the
// outcome of validation runs.
package history

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeFailed   Outcome = "failed"
)

type Entry struct {
	RequestID      string        `json:"request_id"`
	Question       string        `json:"question"`
	SQL            string        `json:"sql"`
	Repairs        []string      `json:"repairs,omitempty"`
	Outcome        Outcome       `json:"outcome"`
	FailureStage   string        `json:"failure_stage,omitempty"`
	FailureMessage string        `json:"failure_message,omitempty"`
	RowCount       int           `json:"row_count"`
	Latency        time.Duration `json:"-"`
	LatencyMS      int64         `json:"latency_ms"`
	Model          string        `json:"model,omitempty"`
	AskedBy        string        `json:"asked_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

type ValidationRun struct {
	RunID       string
	TotalCases  int
	PassedCases int
	PassRate    float64
	ArchiveKey  string
	StartedAt   time.Time
	FinishedAt  time.Time
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

type Store interface {
	Recorder
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	RecordValidationRun(ctx context.Context, run ValidationRun) error
	HealthCheck(ctx context.Context) error
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ClampLimit maps a requested page size into [1, MaxListLimit].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// NopStore is used when no history database is configured.
type NopStore struct{}

func (NopStore) Record(context.Context, Entry) error { return nil }

func (NopStore) ListRecent(context.Context, int) ([]Entry, error) { return []Entry{}, nil }

func (NopStore) RecordValidationRun(context.Context, ValidationRun) error { return nil }

func (NopStore) HealthCheck(context.Context) error { return nil }

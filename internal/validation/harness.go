// Package validation replays the ground-truth cases through the assistant
// and scores each one by row count.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shelterql/shelterql/internal/assistant"
	"github.com/shelterql/shelterql/internal/fixtures"
	"github.com/shelterql/shelterql/internal/observability"
)

type Asker interface {
	Ask(ctx context.Context, question string, opts assistant.AskOptions) (assistant.Answer, error)
}

type CaseResult struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	Question         string `json:"question"`
	ExpectedRowCount int    `json:"expected_row_count"`
	ActualRowCount   int    `json:"actual_row_count"`
	Passed           bool   `json:"passed"`
	SQL              string `json:"sql,omitempty"`
	FailureStage     string `json:"failure_stage,omitempty"`
	FailureMessage   string `json:"failure_message,omitempty"`
	LatencyMS        int64  `json:"latency_ms"`
}

type Report struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Total      int          `json:"total"`
	Passed     int          `json:"passed"`
	PassRate   float64      `json:"pass_rate"`
	Cases      []CaseResult `json:"cases"`
}

type HarnessConfig struct {
	// Parallelism of 1 or less runs cases one after another.
	Parallelism int
	CaseTimeout time.Duration
	Logger      *slog.Logger
	NewRunID    func() string
	Now         func() time.Time
}

type Harness struct {
	asker       Asker
	parallelism int
	caseTimeout time.Duration
	logger      *slog.Logger
	newRunID    func() string
	now         func() time.Time
}

func NewHarness(asker Asker, cfg HarnessConfig) (*Harness, error) {
	if asker == nil {
		return nil, fmt.Errorf("asker is required")
	}
	h := &Harness{
		asker:       asker,
		parallelism: cfg.Parallelism,
		caseTimeout: cfg.CaseTimeout,
		logger:      cfg.Logger,
		newRunID:    cfg.NewRunID,
		now:         cfg.Now,
	}
	if h.parallelism < 1 {
		h.parallelism = 1
	}
	if h.logger == nil {
		h.logger = observability.DiscardLogger()
	}
	if h.newRunID == nil {
		h.newRunID = uuid.NewString
	}
	if h.now == nil {
		h.now = func() time.Time { return time.Now().UTC() }
	}
	return h, nil
}

// Budget is the longest a run over n cases can take when every case uses
// its full timeout. Zero means cases are not bounded.
func (h *Harness) Budget(n int) time.Duration {
	if h.caseTimeout <= 0 || n <= 0 {
		return 0
	}
	waves := (n + h.parallelism - 1) / h.parallelism
	return time.Duration(waves) * h.caseTimeout
}

// Run scores every case. A case that fails to generate or execute is a
// failed case; Run itself never stops early.
func (h *Harness) Run(ctx context.Context, cases []fixtures.TestCase) Report {
	report := Report{
		RunID:     h.newRunID(),
		StartedAt: h.now(),
		Total:     len(cases),
		Cases:     make([]CaseResult, len(cases)),
	}

	var group errgroup.Group
	group.SetLimit(h.parallelism)
	for i, tc := range cases {
		group.Go(func() error {
			report.Cases[i] = h.runCase(ctx, tc)
			return nil
		})
	}
	_ = group.Wait()

	for _, result := range report.Cases {
		if result.Passed {
			report.Passed++
		}
	}
	if report.Total > 0 {
		report.PassRate = float64(report.Passed) / float64(report.Total)
	}
	report.FinishedAt = h.now()
	observability.ObserveValidationRun(report.Passed, report.Total)
	h.logger.InfoContext(ctx, "validation_run_finished",
		slog.String("run_id", report.RunID),
		slog.Int("passed", report.Passed),
		slog.Int("total", report.Total),
	)
	return report
}

func (h *Harness) runCase(ctx context.Context, tc fixtures.TestCase) CaseResult {
	result := CaseResult{
		ID:               tc.ID,
		Name:             tc.Name,
		Question:         tc.Question,
		ExpectedRowCount: tc.ExpectedRowCount,
	}
	if h.caseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.caseTimeout)
		defer cancel()
	}

	answer, err := h.asker.Ask(ctx, tc.Question, assistant.AskOptions{AskedBy: "validation"})
	result.LatencyMS = answer.Latency.Milliseconds()
	result.SQL = answer.SQL
	switch {
	case err != nil:
		result.FailureStage = "input"
		result.FailureMessage = err.Error()
	case answer.Failure != nil:
		result.FailureStage = string(answer.Failure.Stage)
		result.FailureMessage = answer.Failure.Message
	default:
		result.ActualRowCount = answer.Result.RowCount()
		result.Passed = result.ActualRowCount == tc.ExpectedRowCount
	}
	h.logger.DebugContext(ctx, "validation_case_scored",
		slog.Int("case_id", tc.ID),
		slog.Bool("passed", result.Passed),
		slog.Int("expected", tc.ExpectedRowCount),
		slog.Int("actual", result.ActualRowCount),
	)
	return result
}

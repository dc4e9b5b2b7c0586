package nl2sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/shelterql/shelterql/internal/observability"
	"github.com/shelterql/shelterql/internal/query"
)

const (
	DefaultSummaryBudget = 2000
	truncationMarker     = "\n... (truncated)"
)

type SummaryConfig struct {
	Temperature float64
	// Budget caps the rendered result table, in characters.
	Budget int
	Logger *slog.Logger
	// Observe, when set, receives the model latency of each summary call.
	Observe func(time.Duration)
}

// Summarizer asks the model for a short prose explanation of a result.
type Summarizer struct {
	generator   Generator
	temperature float64
	budget      int
	logger      *slog.Logger
	observe     func(time.Duration)
}

func NewSummarizer(generator Generator, cfg SummaryConfig) (*Summarizer, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return nil, fmt.Errorf("summary temperature must be within [0,1], got %v", cfg.Temperature)
	}
	budget := cfg.Budget
	if budget <= 0 {
		budget = DefaultSummaryBudget
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Summarizer{
		generator:   generator,
		temperature: cfg.Temperature,
		budget:      budget,
		logger:      logger,
		observe:     cfg.Observe,
	}, nil
}

func (s *Summarizer) Temperature() float64 {
	return s.temperature
}

// Summarize never fails the caller: any model problem yields ("", false).
func (s *Summarizer) Summarize(ctx context.Context, question, sql string, result query.Result) (string, bool) {
	prompt := BuildSummaryPrompt(question, sql, RenderResultText(result, s.budget))
	output, err := s.generator.Generate(ctx, prompt, s.temperature)
	if s.observe != nil && output.Latency > 0 {
		s.observe(output.Latency)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "summary_generation_failed",
			slog.String("request_id", observability.RequestIDFromContext(ctx)),
			slog.Any("error", err),
		)
		return "", false
	}
	summary := strings.TrimSpace(output.Text)
	if summary == "" {
		return "", false
	}
	return summary, true
}

func BuildSummaryPrompt(question, sql, resultText string) string {
	return "You are a helpful data analyst. Summarize the following query results in plain English.\n\n" +
		"Original Question: " + strings.TrimSpace(question) + "\n\n" +
		"SQL Query: " + strings.TrimSpace(sql) + "\n\n" +
		"Query Results:\n" + resultText + "\n\n" +
		"Provide a clear, concise summary of the findings in 2-3 sentences. Focus on the key insights."
}

// RenderResultText draws result as a plain text table and cuts it to budget
// characters, marking the cut.
func RenderResultText(result query.Result, budget int) string {
	if len(result.Columns) == 0 {
		return "(no columns)"
	}
	writer := table.NewWriter()
	header := make(table.Row, 0, len(result.Columns))
	for _, column := range result.Columns {
		header = append(header, column)
	}
	writer.AppendHeader(header)
	for _, row := range result.Rows {
		writer.AppendRow(table.Row(row))
	}
	writer.SetStyle(table.StyleDefault)
	writer.Style().Format.Header = text.FormatDefault
	rendered := writer.Render()
	if len(result.Rows) == 0 {
		rendered += "\n(0 rows)"
	}
	return truncateRunes(rendered, budget)
}

func truncateRunes(value string, budget int) string {
	if budget <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= budget {
		return value
	}
	return string(runes[:budget]) + truncationMarker
}

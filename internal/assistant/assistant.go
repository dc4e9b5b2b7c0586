// Package assistant wires the question pipeline together: prompt, model,
// extraction, repair, execution and the optional summary. Each stage that
// fails ends the pipeline with a Failure naming the stage.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shelterql/shelterql/internal/history"
	"github.com/shelterql/shelterql/internal/nl2sql"
	"github.com/shelterql/shelterql/internal/observability"
	"github.com/shelterql/shelterql/internal/query"
)

var ErrEmptyQuestion = errors.New("question is required")

type Stage string

const (
	StageGenerate Stage = "generate"
	StageExtract  Stage = "extract"
	StageQuery    Stage = "query"
)

type Failure struct {
	Stage     Stage  `json:"stage"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed: %s", f.Stage, f.Message)
}

type Answer struct {
	RequestID  string
	Question   string
	RawOutput  string
	SQL        string
	Terminated bool
	Repairs    []string
	Result     query.Result
	Summary    string
	Summarized bool
	Failure    *Failure
	Latency    time.Duration
}

func (a Answer) OK() bool {
	return a.Failure == nil
}

type AskOptions struct {
	Summarize bool
	AskedBy   string
}

// Config is fixed at startup and shared read-only by every request.
type Config struct {
	SystemPrompt   string
	SQLTemperature float64
	SummaryEnabled bool
	ModelName      string
	PromptVersion  string
}

type Summarizer interface {
	Summarize(ctx context.Context, question, sql string, result query.Result) (string, bool)
	Temperature() float64
}

type Dependencies struct {
	Generator  nl2sql.Generator
	Executor   query.Executor
	Summarizer Summarizer
	Repairer   *nl2sql.Repairer
	History    history.Recorder
	Logger     *slog.Logger
	NewID      func() string
}

type Assistant struct {
	cfg        Config
	generator  nl2sql.Generator
	executor   query.Executor
	summarizer Summarizer
	repairer   *nl2sql.Repairer
	history    history.Recorder
	logger     *slog.Logger
	newID      func() string
}

func New(cfg Config, deps Dependencies) (*Assistant, error) {
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		return nil, fmt.Errorf("system prompt is required")
	}
	if cfg.SQLTemperature < 0 || cfg.SQLTemperature > 1 {
		return nil, fmt.Errorf("sql temperature must be within [0,1], got %v", cfg.SQLTemperature)
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.SummaryEnabled && deps.Summarizer != nil && deps.Summarizer.Temperature() <= cfg.SQLTemperature {
		return nil, fmt.Errorf("summary temperature %v must be greater than sql temperature %v", deps.Summarizer.Temperature(), cfg.SQLTemperature)
	}
	a := &Assistant{
		cfg:        cfg,
		generator:  deps.Generator,
		executor:   deps.Executor,
		summarizer: deps.Summarizer,
		repairer:   deps.Repairer,
		history:    deps.History,
		logger:     deps.Logger,
		newID:      deps.NewID,
	}
	if a.repairer == nil {
		a.repairer = nl2sql.NewDefaultRepairer()
	}
	if a.history == nil {
		a.history = history.NopStore{}
	}
	if a.logger == nil {
		a.logger = observability.DiscardLogger()
	}
	if a.newID == nil {
		a.newID = uuid.NewString
	}
	return a, nil
}

func (a *Assistant) Config() Config {
	return a.cfg
}

// Ask runs one question through the pipeline. The returned error is only
// for invalid input; pipeline failures are reported in Answer.Failure.
func (a *Assistant) Ask(ctx context.Context, question string, opts AskOptions) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}

	start := time.Now()
	answer := Answer{RequestID: a.newID(), Question: question}
	ctx = observability.ContextWithRequestID(ctx, answer.RequestID)

	a.run(ctx, &answer, opts)

	answer.Latency = time.Since(start)
	outcome := history.OutcomeAnswered
	if answer.Failure != nil {
		outcome = history.OutcomeFailed
		observability.IncrementStageFailure(string(answer.Failure.Stage))
		a.logger.WarnContext(ctx, "ask_failed",
			slog.String("request_id", answer.RequestID),
			slog.String("stage", string(answer.Failure.Stage)),
			slog.String("message", answer.Failure.Message),
		)
	} else {
		a.logger.InfoContext(ctx, "ask_answered",
			slog.String("request_id", answer.RequestID),
			slog.Int("rows", answer.Result.RowCount()),
			slog.Any("repairs", answer.Repairs),
			slog.Duration("latency", answer.Latency),
		)
	}
	observability.ObserveAsk(string(outcome), answer.Latency)
	a.record(ctx, answer, outcome, opts.AskedBy)
	return answer, nil
}

func (a *Assistant) run(ctx context.Context, answer *Answer, opts AskOptions) {
	request, err := nl2sql.NewGenerationRequest(a.cfg.SystemPrompt, answer.Question, a.cfg.SQLTemperature)
	if err != nil {
		answer.Failure = &Failure{Stage: StageGenerate, Message: err.Error()}
		return
	}

	output, err := a.generator.Generate(ctx, request.Prompt(), request.Temperature)
	if output.Latency > 0 {
		observability.ObserveModelLatency("sql", output.Latency)
	}
	if err != nil {
		answer.Failure = generationFailure(err)
		return
	}
	answer.RawOutput = output.Text

	extracted, ok := nl2sql.Extract(output.Text)
	if !ok {
		answer.Failure = &Failure{Stage: StageExtract, Message: nl2sql.ErrNoSQL.Error()}
		return
	}
	answer.Terminated = extracted.Terminated

	repaired, applied := a.repairer.Repair(extracted.Statement)
	for _, rule := range applied {
		observability.IncrementSQLRepair(rule)
	}
	answer.SQL = repaired
	answer.Repairs = applied

	result, err := a.executor.Execute(ctx, repaired)
	if err != nil {
		answer.Failure = queryFailure(err)
		return
	}
	answer.Result = result

	if opts.Summarize && a.cfg.SummaryEnabled && a.summarizer != nil {
		answer.Summary, answer.Summarized = a.summarizer.Summarize(ctx, answer.Question, answer.SQL, result)
	}
}

func (a *Assistant) record(ctx context.Context, answer Answer, outcome history.Outcome, askedBy string) {
	entry := history.Entry{
		RequestID: answer.RequestID,
		Question:  answer.Question,
		SQL:       answer.SQL,
		Repairs:   answer.Repairs,
		Outcome:   outcome,
		RowCount:  answer.Result.RowCount(),
		Latency:   answer.Latency,
		Model:     a.cfg.ModelName,
		AskedBy:   askedBy,
	}
	if answer.Failure != nil {
		entry.FailureStage = string(answer.Failure.Stage)
		entry.FailureMessage = answer.Failure.Message
	}
	if err := a.history.Record(ctx, entry); err != nil {
		a.logger.WarnContext(ctx, "history_record_failed", slog.String("request_id", answer.RequestID), slog.Any("error", err))
	}
}

func generationFailure(err error) *Failure {
	var transportErr *nl2sql.TransportError
	if errors.As(err, &transportErr) {
		return &Failure{Stage: StageGenerate, Message: transportErr.Error(), Retryable: transportErr.Retryable()}
	}
	return &Failure{Stage: StageGenerate, Message: err.Error()}
}

func queryFailure(err error) *Failure {
	var queryErr *query.Error
	if errors.As(err, &queryErr) {
		return &Failure{Stage: StageQuery, Message: queryErr.Message}
	}
	return &Failure{Stage: StageQuery, Message: query.Truncate(err.Error(), query.DefaultErrorMessageLimit)}
}

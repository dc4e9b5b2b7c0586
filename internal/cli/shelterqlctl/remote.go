package shelterqlctl

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shelterql/shelterql/internal/history"
	"github.com/shelterql/shelterql/internal/validation"
)

type askPayload struct {
	Question  string `json:"question"`
	Summarize bool   `json:"summarize"`
}

type askFailure struct {
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type askResult struct {
	RequestID string      `json:"request_id"`
	SQL       string      `json:"sql"`
	Repairs   []string    `json:"repairs"`
	Columns   []string    `json:"columns"`
	Rows      [][]any     `json:"rows"`
	RowCount  int         `json:"row_count"`
	Summary   string      `json:"summary"`
	Failure   *askFailure `json:"failure"`
}

type statusResult struct {
	Service          string   `json:"service"`
	Model            string   `json:"model"`
	ModelReady       bool     `json:"model_ready"`
	ModelError       string   `json:"model_error"`
	AvailableModels  []string `json:"available_models"`
	FactRows         *int64   `json:"fact_rows"`
	StoreError       string   `json:"store_error"`
	PromptVersion    string   `json:"prompt_version"`
	SummariesEnabled bool     `json:"summaries_enabled"`
}

type validationResult struct {
	Report  validation.Report         `json:"report"`
	Archive *validation.ArchiveResult `json:"archive"`
}

func newHealthCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "GET /v1/health",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := rt.doRequest(cmd.Context(), http.MethodGet, "/v1/health", nil)
			if err != nil {
				return err
			}
			writeRaw(cmd.OutOrStdout(), raw)
			return nil
		},
	}
}

func newReadyCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "GET /v1/ready",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := rt.doRequest(cmd.Context(), http.MethodGet, "/v1/ready", nil)
			if err != nil {
				return err
			}
			writeRaw(cmd.OutOrStdout(), raw)
			return nil
		},
	}
}

func newStatusCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show model liveness, warehouse size and prompt version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			var status statusResult
			raw, err := rt.getJSON(cmd.Context(), "/v1/status", &status)
			if err != nil {
				return err
			}
			if rt.output == "json" {
				writeRaw(cmd.OutOrStdout(), raw)
				return nil
			}
			factRows := "unknown"
			if status.FactRows != nil {
				factRows = strconv.FormatInt(*status.FactRows, 10)
			}
			pairs := [][2]any{
				{"service", status.Service},
				{"model", status.Model},
				{"model ready", status.ModelReady},
				{"available models", strings.Join(status.AvailableModels, ", ")},
				{"fact rows", factRows},
				{"prompt version", status.PromptVersion},
				{"summaries", status.SummariesEnabled},
			}
			if status.ModelError != "" {
				pairs = append(pairs, [2]any{"model error", status.ModelError})
			}
			if status.StoreError != "" {
				pairs = append(pairs, [2]any{"store error", status.StoreError})
			}
			renderKeyValues(cmd.OutOrStdout(), pairs)
			return nil
		},
	}
}

func newAskCommand(rt *runtime) *cobra.Command {
	var summarize bool
	var csvPath string
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask a question in plain English",
		Args:  minimumArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := askPayload{Question: strings.Join(args, " "), Summarize: summarize}
			if csvPath != "" {
				return rt.exportCSV(cmd.Context(), payload, csvPath, cmd)
			}

			var answer askResult
			raw, err := rt.postJSON(cmd.Context(), "/v1/ask", payload, &answer)
			if err != nil {
				return err
			}
			if rt.output == "json" {
				writeRaw(cmd.OutOrStdout(), raw)
			} else {
				renderAnswer(cmd, answer)
			}
			if answer.Failure != nil {
				return fmt.Errorf("%s stage failed: %s", answer.Failure.Stage, answer.Failure.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&summarize, "summarize", false, "ask the model for a prose summary of the result")
	cmd.Flags().StringVar(&csvPath, "csv", "", "write the result as CSV to this file instead of printing it")
	return cmd
}

func renderAnswer(cmd *cobra.Command, answer askResult) {
	out := cmd.OutOrStdout()
	if answer.SQL != "" {
		_, _ = fmt.Fprintf(out, "SQL:\n%s\n", answer.SQL)
	}
	if len(answer.Repairs) > 0 {
		_, _ = fmt.Fprintf(out, "repaired: %s\n", strings.Join(answer.Repairs, ", "))
	}
	if answer.Failure != nil {
		return
	}
	_, _ = fmt.Fprintln(out)
	renderTable(out, answer.Columns, answer.Rows)
	if answer.Summary != "" {
		_, _ = fmt.Fprintf(out, "\nSummary:\n%s\n", answer.Summary)
	}
}

func (rt *runtime) exportCSV(ctx context.Context, payload askPayload, path string, cmd *cobra.Command) error {
	raw, err := rt.doRequest(ctx, http.MethodPost, "/v1/ask/export", payload)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(raw), path)
	return nil
}

// defaultRunTimeout bounds a whole validation run, which replays every case
// through the model one after another.
const defaultRunTimeout = 30 * time.Minute

func newValidateCommand(rt *runtime) *cobra.Command {
	var caseIDs []int
	var noArchive bool
	var minPassRate float64
	var runTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run the ground-truth validation suite on the server",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if minPassRate < 0 || minPassRate > 1 {
				return usagef("--min-pass-rate must be within [0,1]")
			}
			if runTimeout > rt.timeout {
				rt.timeout = runTimeout
			}
			payload := map[string]any{}
			if len(caseIDs) > 0 {
				payload["case_ids"] = caseIDs
			}
			if noArchive {
				payload["archive"] = false
			}

			var result validationResult
			raw, err := rt.postJSON(cmd.Context(), "/v1/validation/run", payload, &result)
			if err != nil {
				return err
			}
			if rt.output == "json" {
				writeRaw(cmd.OutOrStdout(), raw)
			} else {
				renderReport(cmd, result)
			}
			if result.Report.PassRate < minPassRate {
				return fmt.Errorf("pass rate %.2f is below %.2f", result.Report.PassRate, minPassRate)
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&caseIDs, "case", nil, "case id to run (repeatable); all cases when omitted")
	cmd.Flags().BoolVar(&noArchive, "no-archive", false, "skip archiving the report even when the server has an archive")
	cmd.Flags().Float64Var(&minPassRate, "min-pass-rate", 0, "exit non-zero when the pass rate is below this fraction")
	cmd.Flags().DurationVar(&runTimeout, "run-timeout", defaultRunTimeout, "HTTP timeout for the validation run when longer than --timeout")
	return cmd
}

func renderReport(cmd *cobra.Command, result validationResult) {
	out := cmd.OutOrStdout()
	rows := make([][]any, 0, len(result.Report.Cases))
	for _, c := range result.Report.Cases {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		rows = append(rows, []any{c.ID, c.Name, status, c.ExpectedRowCount, c.ActualRowCount, c.FailureStage, c.LatencyMS})
	}
	renderTable(out, []string{"id", "name", "result", "expected", "actual", "failed stage", "latency_ms"}, rows)
	_, _ = fmt.Fprintf(out, "run %s: %d/%d passed (%.1f%%)\n", result.Report.RunID, result.Report.Passed, result.Report.Total, result.Report.PassRate*100)
	if result.Archive != nil {
		_, _ = fmt.Fprintf(out, "archived to %s and %s\n", result.Archive.JSONKey, result.Archive.ParquetKey)
	}
}

func newHistoryCommand(rt *runtime) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently asked questions",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return usagef("--limit must be a positive integer")
			}
			var listing struct {
				Entries []history.Entry `json:"entries"`
			}
			raw, err := rt.getJSON(cmd.Context(), "/v1/history?limit="+strconv.Itoa(limit), &listing)
			if err != nil {
				return err
			}
			if rt.output == "json" {
				writeRaw(cmd.OutOrStdout(), raw)
				return nil
			}
			rows := make([][]any, 0, len(listing.Entries))
			for _, entry := range listing.Entries {
				rows = append(rows, []any{
					entry.CreatedAt.Format("2006-01-02 15:04:05"),
					string(entry.Outcome),
					entry.FailureStage,
					entry.RowCount,
					entry.LatencyMS,
					entry.Question,
				})
			}
			renderTable(cmd.OutOrStdout(), []string{"asked at", "outcome", "stage", "rows", "latency_ms", "question"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", history.DefaultListLimit, "number of entries to show")
	return cmd
}

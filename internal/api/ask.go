package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shelterql/shelterql/internal/assistant"
	"github.com/shelterql/shelterql/internal/auth"
)

const maxAskBodyBytes = 64 << 10

// ExampleQuestions are offered by the UI as starting points.
var ExampleQuestions = []string{
	"What are the different animal outcomes and how many animals have each outcome?",
	"What are the top 5 primary breeds with the highest adoption rates?",
	"How do sick or injured animals typically fare?",
	"What are the most common intake types?",
	"What percentage of animals are spayed/neutered by age group?",
}

type askRequest struct {
	Question  string `json:"question"`
	Summarize bool   `json:"summarize"`
}

type askResponse struct {
	RequestID  string             `json:"request_id"`
	Question   string             `json:"question"`
	SQL        string             `json:"sql,omitempty"`
	Repairs    []string           `json:"repairs,omitempty"`
	Columns    []string           `json:"columns"`
	Rows       [][]any            `json:"rows"`
	RowCount   int                `json:"row_count"`
	Summary    string             `json:"summary,omitempty"`
	Summarized bool               `json:"summarized"`
	Failure    *assistant.Failure `json:"failure,omitempty"`
	Stats      map[string]any     `json:"stats"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	answer, ok := runAsk(deps, w, r)
	if !ok {
		return
	}
	columns := answer.Result.Columns
	if columns == nil {
		columns = []string{}
	}
	rows := answer.Result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	// Pipeline failures are answers, not transport errors.
	writeJSON(w, http.StatusOK, askResponse{
		RequestID:  answer.RequestID,
		Question:   answer.Question,
		SQL:        answer.SQL,
		Repairs:    answer.Repairs,
		Columns:    columns,
		Rows:       rows,
		RowCount:   answer.Result.RowCount(),
		Summary:    answer.Summary,
		Summarized: answer.Summarized,
		Failure:    answer.Failure,
		Stats: map[string]any{
			"latency_ms":  answer.Latency.Milliseconds(),
			"duration_ms": answer.Result.Duration.Milliseconds(),
		},
	})
}

func handleAskExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	answer, ok := runAsk(deps, w, r)
	if !ok {
		return
	}
	if answer.Failure != nil {
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "ASK_FAILED", answer.Failure.Error(), answer.Failure.Retryable, map[string]any{
			"request_id": answer.RequestID,
			"stage":      answer.Failure.Stage,
			"sql":        answer.SQL,
		})
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="query_results.csv"`)
	w.Header().Set("X-Request-ID", answer.RequestID)
	w.WriteHeader(http.StatusOK)
	writer := csv.NewWriter(w)
	_ = writer.Write(answer.Result.Columns)
	record := make([]string, len(answer.Result.Columns))
	for _, row := range answer.Result.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) && row[i] != nil {
				record[i] = fmt.Sprint(row[i])
			}
		}
		_ = writer.Write(record)
	}
	writer.Flush()
}

func runAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) (assistant.Answer, bool) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "assistant is not configured", false, nil)
		return assistant.Answer{}, false
	}
	if err := requireRole(r, auth.RoleAsk); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return assistant.Answer{}, false
	}

	var request askRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return assistant.Answer{}, false
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return assistant.Answer{}, false
	}

	answer, err := deps.Assistant.Ask(r.Context(), request.Question, assistant.AskOptions{
		Summarize: request.Summarize,
		AskedBy:   callerName(r),
	})
	if err != nil {
		if errors.Is(err, assistant.ErrEmptyQuestion) {
			writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", err.Error(), false, nil)
			return assistant.Answer{}, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "ASK_FAILED", "ask failed", true, map[string]any{"details": err.Error()})
		return assistant.Answer{}, false
	}
	return answer, true
}

package fixtures

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/shelterql/shelterql/internal/query"
)

// CaseDefinition is the hand-written input for one ground-truth case.
type CaseDefinition struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	BusinessScenario string `json:"business_scenario"`
	Question         string `json:"natural_language_question"`
	SQL              string `json:"sql"`
}

type Definitions struct {
	Project     string           `json:"project"`
	Description string           `json:"description"`
	Cases       []CaseDefinition `json:"cases"`
}

func LoadDefinitions(path string) (Definitions, error) {
	var defs Definitions
	if err := readJSON(path, &defs); err != nil {
		return Definitions{}, err
	}
	if len(defs.Cases) == 0 {
		return Definitions{}, &ConfigurationError{Path: path, Err: fmt.Errorf("cases is empty")}
	}
	for _, def := range defs.Cases {
		if strings.TrimSpace(def.SQL) == "" || strings.TrimSpace(def.Question) == "" {
			return Definitions{}, &ConfigurationError{Path: path, Err: fmt.Errorf("case %d needs sql and natural_language_question", def.ID)}
		}
	}
	return defs, nil
}

type GenerateReport struct {
	Suite  Suite
	Failed map[int]string
}

// Generate runs every definition's SQL and captures columns, rows and row
// count. A failing case is reported and left out of the suite.
func Generate(ctx context.Context, executor query.Executor, defs Definitions, logger *slog.Logger) GenerateReport {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	report := GenerateReport{
		Suite: Suite{
			Project:     defs.Project,
			Description: defs.Description,
			TestCases:   make([]TestCase, 0, len(defs.Cases)),
		},
		Failed: map[int]string{},
	}
	for _, def := range defs.Cases {
		result, err := executor.Execute(ctx, def.SQL)
		if err != nil {
			logger.WarnContext(ctx, "ground_truth_case_failed", slog.Int("case_id", def.ID), slog.Any("error", err))
			report.Failed[def.ID] = err.Error()
			continue
		}
		report.Suite.TestCases = append(report.Suite.TestCases, TestCase{
			ID:               def.ID,
			Name:             def.Name,
			BusinessScenario: def.BusinessScenario,
			Question:         def.Question,
			GroundTruthSQL:   strings.TrimSpace(def.SQL),
			ExpectedColumns:  result.Columns,
			ExpectedResults:  rowsAsRecords(result),
			ExpectedRowCount: result.RowCount(),
		})
		logger.InfoContext(ctx, "ground_truth_case_generated", slog.Int("case_id", def.ID), slog.Int("rows", result.RowCount()))
	}
	report.Suite.TotalTestCases = len(report.Suite.TestCases)
	return report
}

func rowsAsRecords(result query.Result) []map[string]any {
	records := make([]map[string]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		record := make(map[string]any, len(result.Columns))
		for i, column := range result.Columns {
			if i < len(row) {
				record[column] = roundFloat(row[i])
			}
		}
		records = append(records, record)
	}
	return records
}

func roundFloat(value any) any {
	switch typed := value.(type) {
	case float64:
		return math.Round(typed*100) / 100
	case float32:
		return math.Round(float64(typed)*100) / 100
	default:
		return value
	}
}

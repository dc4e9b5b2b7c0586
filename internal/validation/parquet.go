package validation

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

type parquetCase struct {
	RunID            string `parquet:"run_id"`
	CaseID           int64  `parquet:"case_id"`
	Name             string `parquet:"name"`
	Question         string `parquet:"question"`
	ExpectedRowCount int64  `parquet:"expected_row_count"`
	ActualRowCount   int64  `parquet:"actual_row_count"`
	Passed           bool   `parquet:"passed"`
	SQL              string `parquet:"sql"`
	FailureStage     string `parquet:"failure_stage"`
	FailureMessage   string `parquet:"failure_message"`
	LatencyMS        int64  `parquet:"latency_ms"`
}

// EncodeParquet writes one row per case so reports can be queried with
// DuckDB's read_parquet across runs.
func EncodeParquet(report Report) ([]byte, error) {
	if len(report.Cases) == 0 {
		return nil, fmt.Errorf("report has no cases")
	}
	rows := make([]parquetCase, 0, len(report.Cases))
	for _, c := range report.Cases {
		rows = append(rows, parquetCase{
			RunID:            report.RunID,
			CaseID:           int64(c.ID),
			Name:             c.Name,
			Question:         c.Question,
			ExpectedRowCount: int64(c.ExpectedRowCount),
			ActualRowCount:   int64(c.ActualRowCount),
			Passed:           c.Passed,
			SQL:              c.SQL,
			FailureStage:     c.FailureStage,
			FailureMessage:   c.FailureMessage,
			LatencyMS:        c.LatencyMS,
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetCase](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

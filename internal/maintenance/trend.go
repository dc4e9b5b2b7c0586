package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/shelterql/shelterql/internal/storage"
)

type CaseTrend struct {
	CaseID   int64   `json:"case_id"`
	Name     string  `json:"name"`
	Runs     int64   `json:"runs"`
	Passes   int64   `json:"passes"`
	PassRate float64 `json:"pass_rate"`
}

// CaseTrends downloads cases.parquet for each run and aggregates pass rates
// per case with an in-memory DuckDB. Runs whose parquet object is missing
// are an error.
func CaseTrends(ctx context.Context, store storage.ObjectStore, runIDs []string) ([]CaseTrend, error) {
	if len(runIDs) == 0 {
		return nil, fmt.Errorf("at least one run id is required")
	}
	workDir, err := os.MkdirTemp("", "shelterql-trend-")
	if err != nil {
		return nil, fmt.Errorf("create trend temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	inputPaths := make([]string, 0, len(runIDs))
	for i, runID := range runIDs {
		key, err := storage.BuildReportPath(runID, "cases.parquet")
		if err != nil {
			return nil, err
		}
		reader, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", key, err)
		}
		localPath := filepath.Join(workDir, fmt.Sprintf("run_%03d.parquet", i))
		if err := writeLocalFile(localPath, reader); err != nil {
			_ = reader.Close()
			return nil, fmt.Errorf("write local copy of %s: %w", key, err)
		}
		if err := reader.Close(); err != nil {
			return nil, fmt.Errorf("close %s: %w", key, err)
		}
		inputPaths = append(inputPaths, localPath)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
SELECT case_id, MAX(name) AS name, COUNT(*) AS runs, COUNT(*) FILTER (WHERE passed) AS passes
FROM read_parquet(%s)
GROUP BY case_id
ORDER BY case_id`, quoteStringArray(inputPaths)))
	if err != nil {
		return nil, fmt.Errorf("aggregate case trends: %w", err)
	}
	trends := make([]CaseTrend, 0)
	for rows.Next() {
		var trend CaseTrend
		if err := rows.Scan(&trend.CaseID, &trend.Name, &trend.Runs, &trend.Passes); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan case trend: %w", err)
		}
		if trend.Runs > 0 {
			trend.PassRate = float64(trend.Passes) / float64(trend.Runs)
		}
		trends = append(trends, trend)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("aggregate case trends: %w", err)
	}
	return trends, nil
}

func writeLocalFile(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, reader); err != nil {
		return err
	}
	return nil
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, quoteString(value))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func quoteString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

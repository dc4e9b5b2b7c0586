package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shelterql/shelterql/internal/history"
	"github.com/shelterql/shelterql/internal/observability"
	"github.com/shelterql/shelterql/internal/storage"
)

const (
	reportJSONName    = "report.json"
	reportParquetName = "cases.parquet"
)

// Archiver persists finished reports. Store and Runs are both optional.
type Archiver struct {
	Store  storage.ObjectStore
	Runs   history.Store
	Logger *slog.Logger
}

type ArchiveResult struct {
	JSONKey    string `json:"json_key,omitempty"`
	ParquetKey string `json:"parquet_key,omitempty"`
}

// Archive writes report.json and cases.parquet under validation/<run-id>/.
// A failed parquet upload removes the JSON object so a run is either fully
// archived or absent.
func (a *Archiver) Archive(ctx context.Context, report Report) (ArchiveResult, error) {
	logger := a.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}

	var result ArchiveResult
	if a.Store != nil && len(report.Cases) > 0 {
		stored, err := a.upload(ctx, report)
		if err != nil {
			return ArchiveResult{}, err
		}
		result = stored
		logger.InfoContext(ctx, "validation_report_archived",
			slog.String("run_id", report.RunID),
			slog.String("json_key", result.JSONKey),
			slog.String("parquet_key", result.ParquetKey),
		)
	}

	if a.Runs != nil {
		err := a.Runs.RecordValidationRun(ctx, history.ValidationRun{
			RunID:       report.RunID,
			TotalCases:  report.Total,
			PassedCases: report.Passed,
			PassRate:    report.PassRate,
			ArchiveKey:  result.JSONKey,
			StartedAt:   report.StartedAt,
			FinishedAt:  report.FinishedAt,
		})
		if err != nil {
			return result, fmt.Errorf("record validation run: %w", err)
		}
	}
	return result, nil
}

func (a *Archiver) upload(ctx context.Context, report Report) (ArchiveResult, error) {
	jsonKey, err := storage.BuildReportPath(report.RunID, reportJSONName)
	if err != nil {
		return ArchiveResult{}, err
	}
	parquetKey, err := storage.BuildReportPath(report.RunID, reportParquetName)
	if err != nil {
		return ArchiveResult{}, err
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("marshal report: %w", err)
	}
	columnar, err := EncodeParquet(report)
	if err != nil {
		return ArchiveResult{}, err
	}

	if _, err := a.Store.Put(ctx, jsonKey, bytes.NewReader(encoded), int64(len(encoded)), storage.PutOptions{ContentType: "application/json"}); err != nil {
		return ArchiveResult{}, fmt.Errorf("put %s: %w", jsonKey, err)
	}
	if _, err := a.Store.Put(ctx, parquetKey, bytes.NewReader(columnar), int64(len(columnar)), storage.PutOptions{ContentType: "application/vnd.apache.parquet"}); err != nil {
		if deleteErr := a.Store.Delete(ctx, jsonKey); deleteErr != nil {
			return ArchiveResult{}, fmt.Errorf("put %s: %w (cleanup of %s failed: %v)", parquetKey, err, jsonKey, deleteErr)
		}
		return ArchiveResult{}, fmt.Errorf("put %s: %w", parquetKey, err)
	}
	return ArchiveResult{JSONKey: jsonKey, ParquetKey: parquetKey}, nil
}

// LoadReport reads an archived report.json back.
func LoadReport(ctx context.Context, store storage.ObjectStore, runID string) (Report, error) {
	key, err := storage.BuildReportPath(runID, reportJSONName)
	if err != nil {
		return Report{}, err
	}
	body, err := store.Get(ctx, key)
	if err != nil {
		return Report{}, fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = body.Close() }()
	var report Report
	if err := json.NewDecoder(body).Decode(&report); err != nil {
		return Report{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return report, nil
}

// ListRuns returns the run ids that have an archived report, in store order.
func ListRuns(ctx context.Context, store storage.ObjectStore) ([]string, error) {
	prefix, err := storage.ReportPrefix("")
	if err != nil {
		return nil, err
	}
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	seen := make(map[string]struct{})
	runs := make([]string, 0)
	for _, object := range objects {
		runID, ok := storage.RunIDFromKey(object.Key)
		if !ok {
			continue
		}
		if _, dup := seen[runID]; dup {
			continue
		}
		seen[runID] = struct{}{}
		runs = append(runs, runID)
	}
	return runs, nil
}

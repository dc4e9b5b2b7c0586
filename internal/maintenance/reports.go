package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shelterql/shelterql/internal/storage"
)

// RequiredReportObjects are the objects every archived run must carry.
var RequiredReportObjects = []string{"report.json", "cases.parquet"}

type ReportConfig struct {
	KeepRuns          int
	SafetyAge         time.Duration
	RetentionInterval time.Duration
	IntegrityInterval time.Duration
}

// ReportService keeps the validation report archive bounded and checks that
// every archived run is complete.
type ReportService struct {
	Store  storage.ObjectStore
	Config ReportConfig
	Logger *slog.Logger
	Clock  func() time.Time
}

type RetentionSummary struct {
	RunsScanned    int `json:"runs_scanned"`
	RunsPruned     int `json:"runs_pruned"`
	ObjectsDeleted int `json:"objects_deleted"`
	Failures       int `json:"failures"`
}

type IntegritySummary struct {
	RunsScanned         int `json:"runs_scanned"`
	ObjectsChecked      int `json:"objects_checked"`
	MissingObjects      int `json:"missing_objects"`
	EmptyObjects        int `json:"empty_objects"`
	OperationalFailures int `json:"operational_failures"`
}

// Run prunes and checks the archive on their own intervals until ctx is
// cancelled. Failed cycles are logged and retried on the next tick.
func (s *ReportService) Run(ctx context.Context) error {
	s.ensureDefaults()

	retentionTicker := time.NewTicker(s.Config.RetentionInterval)
	defer retentionTicker.Stop()
	integrityTicker := time.NewTicker(s.Config.IntegrityInterval)
	defer integrityTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retentionTicker.C:
			summary, err := s.RunRetentionOnce(ctx)
			if err != nil {
				s.Logger.ErrorContext(ctx, "report_retention_cycle_failed", slog.Any("error", err), slog.Any("summary", summary))
				continue
			}
			s.Logger.InfoContext(ctx, "report_retention_cycle_completed", slog.Any("summary", summary))
		case <-integrityTicker.C:
			summary, err := s.RunIntegrityCheckOnce(ctx)
			if err != nil {
				s.Logger.ErrorContext(ctx, "report_integrity_cycle_failed", slog.Any("error", err), slog.Any("summary", summary))
				continue
			}
			s.Logger.InfoContext(ctx, "report_integrity_cycle_completed", slog.Any("summary", summary))
		}
	}
}

type archivedRun struct {
	runID   string
	objects []storage.ObjectInfo
	newest  time.Time
}

// RunRetentionOnce deletes every archived run beyond the newest KeepRuns,
// skipping runs touched within SafetyAge.
func (s *ReportService) RunRetentionOnce(ctx context.Context) (RetentionSummary, error) {
	s.ensureDefaults()
	if s.Store == nil {
		return RetentionSummary{}, fmt.Errorf("object store is required")
	}
	runs, err := s.listRuns(ctx)
	if err != nil {
		return RetentionSummary{}, err
	}

	summary := RetentionSummary{RunsScanned: len(runs)}
	failures := make([]string, 0)
	cutoff := s.Clock().Add(-s.Config.SafetyAge)

	for i, run := range runs {
		if i < s.Config.KeepRuns || run.newest.After(cutoff) {
			continue
		}
		var runErr error
		for _, object := range run.objects {
			if err := s.Store.Delete(ctx, object.Key); err != nil {
				summary.Failures++
				failures = append(failures, fmt.Sprintf("run %s delete %s: %v", run.runID, object.Key, err))
				runErr = err
				continue
			}
			summary.ObjectsDeleted++
		}
		if runErr == nil {
			summary.RunsPruned++
			s.Logger.InfoContext(ctx, "validation_run_pruned", slog.String("run_id", run.runID))
		}
	}

	if summary.ObjectsDeleted > 0 {
		reportObjectsDeletedTotal.Add(float64(summary.ObjectsDeleted))
	}
	if len(failures) > 0 {
		return summary, fmt.Errorf("retention encountered %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return summary, nil
}

// RunIntegrityCheckOnce verifies that every archived run has all required
// objects and that none of them are empty.
func (s *ReportService) RunIntegrityCheckOnce(ctx context.Context) (IntegritySummary, error) {
	s.ensureDefaults()
	if s.Store == nil {
		return IntegritySummary{}, fmt.Errorf("object store is required")
	}
	runs, err := s.listRuns(ctx)
	if err != nil {
		return IntegritySummary{}, err
	}

	summary := IntegritySummary{RunsScanned: len(runs)}
	const maxIssueSamples = 20
	issueSamples := make([]string, 0, maxIssueSamples)
	issueCount := 0
	addIssue := func(message string) {
		issueCount++
		if len(issueSamples) < maxIssueSamples {
			issueSamples = append(issueSamples, message)
		}
	}

	for _, run := range runs {
		for _, name := range RequiredReportObjects {
			key, err := storage.BuildReportPath(run.runID, name)
			if err != nil {
				summary.OperationalFailures++
				addIssue(fmt.Sprintf("run %s: %v", run.runID, err))
				continue
			}
			summary.ObjectsChecked++
			info, err := s.Store.Stat(ctx, key)
			if err != nil {
				if errors.Is(err, storage.ErrObjectNotFound) {
					summary.MissingObjects++
					addIssue(fmt.Sprintf("run %s missing %s", run.runID, name))
					continue
				}
				summary.OperationalFailures++
				addIssue(fmt.Sprintf("run %s stat %s: %v", run.runID, name, err))
				continue
			}
			if info.Size == 0 {
				summary.EmptyObjects++
				addIssue(fmt.Sprintf("run %s has empty %s", run.runID, name))
			}
		}
	}

	if missing := summary.MissingObjects + summary.EmptyObjects; missing > 0 {
		integrityMissingObjectsTotal.Add(float64(missing))
	}
	if issueCount > 0 {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		extra := issueCount - len(issueSamples)
		if extra > 0 {
			return summary, fmt.Errorf("integrity check found %d issue(s): %s; ... plus %d more", issueCount, strings.Join(issueSamples, "; "), extra)
		}
		return summary, fmt.Errorf("integrity check found %d issue(s): %s", issueCount, strings.Join(issueSamples, "; "))
	}
	integrityRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

// listRuns groups archived objects by run id, newest run first.
func (s *ReportService) listRuns(ctx context.Context) ([]archivedRun, error) {
	prefix, err := storage.ReportPrefix("")
	if err != nil {
		return nil, err
	}
	objects, err := s.Store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	byRun := make(map[string]*archivedRun)
	order := make([]string, 0)
	for _, object := range objects {
		runID, ok := storage.RunIDFromKey(object.Key)
		if !ok {
			continue
		}
		run, exists := byRun[runID]
		if !exists {
			run = &archivedRun{runID: runID}
			byRun[runID] = run
			order = append(order, runID)
		}
		run.objects = append(run.objects, object)
		if object.LastModified.After(run.newest) {
			run.newest = object.LastModified
		}
	}
	runs := make([]archivedRun, 0, len(order))
	for _, runID := range order {
		runs = append(runs, *byRun[runID])
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].newest.After(runs[j].newest)
	})
	return runs, nil
}

func (s *ReportService) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Logger == nil {
		s.Logger = slog.New(slog.DiscardHandler)
	}
	if s.Config.KeepRuns < 1 {
		s.Config.KeepRuns = 20
	}
	if s.Config.SafetyAge < 0 {
		s.Config.SafetyAge = 0
	}
	if s.Config.RetentionInterval <= 0 {
		s.Config.RetentionInterval = time.Hour
	}
	if s.Config.IntegrityInterval <= 0 {
		s.Config.IntegrityInterval = 6 * time.Hour
	}
}

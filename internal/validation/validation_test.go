package validation

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/parquet-go/parquet-go"

	"github.com/shelterql/shelterql/internal/assistant"
	"github.com/shelterql/shelterql/internal/fixtures"
	"github.com/shelterql/shelterql/internal/history"
	"github.com/shelterql/shelterql/internal/query"
	"github.com/shelterql/shelterql/internal/storage"
)

type scriptedAsker struct {
	rows     map[string]int
	failures map[string]*assistant.Failure
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (s *scriptedAsker) Ask(_ context.Context, question string, _ assistant.AskOptions) (assistant.Answer, error) {
	s.calls.Add(1)
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if current <= seen || s.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	if question == "" {
		return assistant.Answer{}, assistant.ErrEmptyQuestion
	}
	if failure, ok := s.failures[question]; ok {
		return assistant.Answer{Question: question, Failure: failure}, nil
	}
	rows := make([][]any, s.rows[question])
	return assistant.Answer{Question: question, SQL: "SELECT 1;", Result: query.Result{Columns: []string{"x"}, Rows: rows}}, nil
}

func testCases() []fixtures.TestCase {
	return []fixtures.TestCase{
		{ID: 1, Name: "outcomes", Question: "q1", ExpectedRowCount: 6},
		{ID: 2, Name: "breeds", Question: "q2", ExpectedRowCount: 10},
		{ID: 3, Name: "broken sql", Question: "q3", ExpectedRowCount: 5},
		{ID: 4, Name: "model down", Question: "q4", ExpectedRowCount: 5},
		{ID: 5, Name: "rates", Question: "q5", ExpectedRowCount: 5},
	}
}

func newScriptedAsker() *scriptedAsker {
	return &scriptedAsker{
		rows: map[string]int{"q1": 6, "q2": 9, "q5": 5},
		failures: map[string]*assistant.Failure{
			"q3": {Stage: assistant.StageQuery, Message: "Binder Error: column not found"},
			"q4": {Stage: assistant.StageGenerate, Message: "connection refused", Retryable: true},
		},
	}
}

func fixedHarness(t *testing.T, asker Asker, parallelism int) *Harness {
	t.Helper()
	clock := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	h, err := NewHarness(asker, HarnessConfig{
		Parallelism: parallelism,
		NewRunID:    func() string { return "run-1" },
		Now:         func() time.Time { return clock },
	})
	if err != nil {
		t.Fatalf("NewHarness() error = %v", err)
	}
	return h
}

func TestRunScoresByRowCountAndContinuesPastFailures(t *testing.T) {
	asker := newScriptedAsker()
	report := fixedHarness(t, asker, 1).Run(context.Background(), testCases())

	if asker.calls.Load() != 5 {
		t.Fatalf("asked %d cases, want 5", asker.calls.Load())
	}
	if report.Total != 5 || report.Passed != 2 {
		t.Fatalf("passed %d/%d", report.Passed, report.Total)
	}
	if report.PassRate != 0.4 {
		t.Fatalf("pass rate = %v", report.PassRate)
	}
	got := make([]bool, 0, len(report.Cases))
	for _, c := range report.Cases {
		got = append(got, c.Passed)
	}
	if diff := cmp.Diff([]bool{true, false, false, false, true}, got); diff != "" {
		t.Fatalf("passed flags mismatch (-want +got):\n%s", diff)
	}
	if report.Cases[2].FailureStage != "query" || report.Cases[3].FailureStage != "generate" {
		t.Fatalf("failure stages = %q, %q", report.Cases[2].FailureStage, report.Cases[3].FailureStage)
	}
	if report.Cases[1].ActualRowCount != 9 {
		t.Fatalf("actual rows = %d", report.Cases[1].ActualRowCount)
	}
	if asker.maxSeen.Load() != 1 {
		t.Fatalf("sequential run had %d cases in flight", asker.maxSeen.Load())
	}
}

func TestRunParallelKeepsCaseOrderAndBound(t *testing.T) {
	asker := newScriptedAsker()
	report := fixedHarness(t, asker, 2).Run(context.Background(), testCases())

	for i, c := range report.Cases {
		if c.ID != i+1 {
			t.Fatalf("case %d has id %d", i, c.ID)
		}
	}
	if report.Passed < 0 || report.Passed > report.Total || report.Passed != 2 {
		t.Fatalf("passed = %d", report.Passed)
	}
	if asker.maxSeen.Load() > 2 {
		t.Fatalf("in flight = %d, want <= 2", asker.maxSeen.Load())
	}
}

func TestBudgetCoversEveryWaveOfCases(t *testing.T) {
	asker := newScriptedAsker()
	tests := []struct {
		parallelism int
		caseTimeout time.Duration
		cases       int
		want        time.Duration
	}{
		{parallelism: 1, caseTimeout: 90 * time.Second, cases: 11, want: 990 * time.Second},
		{parallelism: 4, caseTimeout: 90 * time.Second, cases: 11, want: 270 * time.Second},
		{parallelism: 1, caseTimeout: 0, cases: 11, want: 0},
		{parallelism: 2, caseTimeout: time.Second, cases: 0, want: 0},
	}
	for _, tt := range tests {
		h, err := NewHarness(asker, HarnessConfig{Parallelism: tt.parallelism, CaseTimeout: tt.caseTimeout})
		if err != nil {
			t.Fatalf("NewHarness() error = %v", err)
		}
		if got := h.Budget(tt.cases); got != tt.want {
			t.Fatalf("Budget(%d) with parallelism %d = %v, want %v", tt.cases, tt.parallelism, got, tt.want)
		}
	}
}

func TestRunCountsInputErrorsAsFailures(t *testing.T) {
	report := fixedHarness(t, newScriptedAsker(), 1).Run(context.Background(), []fixtures.TestCase{{ID: 9, Question: ""}})
	if report.Passed != 0 || report.Cases[0].FailureStage != "input" {
		t.Fatalf("report = %+v", report)
	}
}

func TestRunEmptySuite(t *testing.T) {
	report := fixedHarness(t, newScriptedAsker(), 1).Run(context.Background(), nil)
	if report.Total != 0 || report.PassRate != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestEncodeParquetRoundTrip(t *testing.T) {
	report := fixedHarness(t, newScriptedAsker(), 1).Run(context.Background(), testCases())
	data, err := EncodeParquet(report)
	if err != nil {
		t.Fatalf("EncodeParquet() error = %v", err)
	}

	reader := parquet.NewGenericReader[parquetCase](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()
	rows := make([]parquetCase, len(report.Cases))
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("reader.Read() error = %v", err)
	}
	if count != len(report.Cases) {
		t.Fatalf("read rows = %d", count)
	}
	if rows[0].RunID != "run-1" || rows[0].CaseID != 1 || !rows[0].Passed {
		t.Fatalf("first row = %+v", rows[0])
	}
	if rows[2].FailureStage != "query" {
		t.Fatalf("third row = %+v", rows[2])
	}

	if _, err := EncodeParquet(Report{RunID: "x"}); err == nil {
		t.Fatal("expected error for empty report")
	}
}

type memStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failOn   string
	deleted  []string
	putOrder []string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && strings.HasSuffix(key, m.failOn) {
		return storage.ObjectInfo{}, errors.New("upload refused")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.objects[key] = data
	m.putOrder = append(m.putOrder, key)
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := make([]storage.ObjectInfo, 0, len(keys))
	for _, key := range keys {
		out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(m.objects[key]))})
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

type runRecorder struct {
	history.NopStore
	runs []history.ValidationRun
}

func (r *runRecorder) RecordValidationRun(_ context.Context, run history.ValidationRun) error {
	r.runs = append(r.runs, run)
	return nil
}

func TestArchiverWritesJSONAndParquet(t *testing.T) {
	store := newMemStore()
	runs := &runRecorder{}
	report := fixedHarness(t, newScriptedAsker(), 1).Run(context.Background(), testCases())

	archiver := &Archiver{Store: store, Runs: runs}
	result, err := archiver.Archive(context.Background(), report)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if result.JSONKey != "validation/run-1/report.json" || result.ParquetKey != "validation/run-1/cases.parquet" {
		t.Fatalf("result = %+v", result)
	}
	if len(runs.runs) != 1 || runs.runs[0].PassedCases != 2 || runs.runs[0].ArchiveKey != result.JSONKey {
		t.Fatalf("recorded runs = %+v", runs.runs)
	}

	loaded, err := LoadReport(context.Background(), store, "run-1")
	if err != nil {
		t.Fatalf("LoadReport() error = %v", err)
	}
	if diff := cmp.Diff(report, loaded); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}

	ids, err := ListRuns(context.Background(), store)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if diff := cmp.Diff([]string{"run-1"}, ids); diff != "" {
		t.Fatalf("runs mismatch (-want +got):\n%s", diff)
	}
}

func TestArchiverRemovesJSONWhenParquetUploadFails(t *testing.T) {
	store := newMemStore()
	store.failOn = reportParquetName
	runs := &runRecorder{}
	report := fixedHarness(t, newScriptedAsker(), 1).Run(context.Background(), testCases())

	if _, err := (&Archiver{Store: store, Runs: runs}).Archive(context.Background(), report); err == nil {
		t.Fatal("expected archive error")
	}
	if len(store.objects) != 0 {
		t.Fatalf("objects left behind: %v", store.objects)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "validation/run-1/report.json" {
		t.Fatalf("deleted = %v", store.deleted)
	}
	if len(runs.runs) != 0 {
		t.Fatal("failed archive must not record the run")
	}
}

func TestArchiverWithoutStoreStillRecordsRun(t *testing.T) {
	runs := &runRecorder{}
	report := Report{RunID: "run-2", Total: 1, Passed: 1, PassRate: 1, Cases: []CaseResult{{ID: 1, Passed: true}}}
	result, err := (&Archiver{Runs: runs}).Archive(context.Background(), report)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if result.JSONKey != "" || len(runs.runs) != 1 || runs.runs[0].ArchiveKey != "" {
		t.Fatalf("result = %+v runs = %+v", result, runs.runs)
	}
}

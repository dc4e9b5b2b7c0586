package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shelterql/shelterql/internal/assistant"
	"github.com/shelterql/shelterql/internal/auth"
	"github.com/shelterql/shelterql/internal/config"
	"github.com/shelterql/shelterql/internal/fixtures"
	"github.com/shelterql/shelterql/internal/history"
	"github.com/shelterql/shelterql/internal/query"
	"github.com/shelterql/shelterql/internal/validation"
)

type fakeAsker struct {
	answer  assistant.Answer
	err     error
	cfg     assistant.Config
	asked   []string
	options []assistant.AskOptions
}

func (f *fakeAsker) Ask(_ context.Context, question string, opts assistant.AskOptions) (assistant.Answer, error) {
	f.asked = append(f.asked, question)
	f.options = append(f.options, opts)
	if f.err != nil {
		return assistant.Answer{}, f.err
	}
	answer := f.answer
	answer.Question = question
	return answer, nil
}

func (f *fakeAsker) Config() assistant.Config {
	return f.cfg
}

type fakeExecutor struct {
	result query.Result
	err    error
}

func (f *fakeExecutor) Execute(context.Context, string) (query.Result, error) {
	return f.result, f.err
}

type fakeModels struct {
	models []string
	err    error
}

func (f *fakeModels) ListModels(context.Context) ([]string, error) {
	return f.models, f.err
}

type fakeHistory struct {
	history.NopStore
	entries   []history.Entry
	err       error
	lastLimit int
}

func (f *fakeHistory) ListRecent(_ context.Context, limit int) ([]history.Entry, error) {
	f.lastLimit = limit
	return f.entries, f.err
}

type fakeRunner struct {
	ran    []fixtures.TestCase
	delay  time.Duration
	budget time.Duration
}

func (f *fakeRunner) Budget(int) time.Duration {
	return f.budget
}

func (f *fakeRunner) Run(_ context.Context, cases []fixtures.TestCase) validation.Report {
	f.ran = cases
	time.Sleep(f.delay)
	report := validation.Report{RunID: "run-1", Total: len(cases)}
	for _, tc := range cases {
		report.Cases = append(report.Cases, validation.CaseResult{ID: tc.ID, Passed: tc.ID%2 == 1})
		if tc.ID%2 == 1 {
			report.Passed++
		}
	}
	if report.Total > 0 {
		report.PassRate = float64(report.Passed) / float64(report.Total)
	}
	return report
}

type fakeArchiver struct {
	archived []validation.Report
	err      error
}

func (f *fakeArchiver) Archive(_ context.Context, report validation.Report) (validation.ArchiveResult, error) {
	if f.err != nil {
		return validation.ArchiveResult{}, f.err
	}
	f.archived = append(f.archived, report)
	return validation.ArchiveResult{JSONKey: "validation/" + report.RunID + "/report.json"}, nil
}

func testConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("shelterql-api", mapLookup(values))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v body=%s", err, rr.Body.String())
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["service"] != "shelterql-api" {
		t.Fatalf("body = %v", body)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{
		Readiness: CombineReadinessChecks(
			CheckExecutor(&fakeExecutor{}),
			CheckModel(&fakeModels{err: errors.New("connection refused")}),
		),
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "NOT_READY" || !strings.Contains(body["message"].(string), "model endpoint") {
		t.Fatalf("body = %v", body)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg := testConfig(t, map[string]string{"SHELTERQL_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:reader:history_reader,k2:analyst:ask")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	store := &fakeHistory{entries: []history.Entry{{RequestID: "r1", Question: "q"}}}

	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		History:        store,
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	wrongRole := httptest.NewRequest(http.MethodGet, "/v1/history", nil)
	wrongRole.Header.Set("X-API-Key", "k2")
	wrongRoleResp := httptest.NewRecorder()
	h.ServeHTTP(wrongRoleResp, wrongRole)
	if wrongRoleResp.Code != http.StatusForbidden {
		t.Fatalf("wrong role status = %d", wrongRoleResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodGet, "/v1/history", nil)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d", authResp.Code)
	}
	entries, ok := decodeBody(t, authResp)["entries"].([]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("entries = %v", entries)
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := testConfig(t, map[string]string{"SHELTERQL_AUTH_REQUIRED": "true"})
	h := NewHandler(cfg, Dependencies{History: &fakeHistory{}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestUIHandlerServesNonAPIRoutes(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{
		UI: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "<html>ok</html>")
		}),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/console", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestExamplesEndpoint(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/examples", nil))
	examples, ok := decodeBody(t, rr)["examples"].([]any)
	if !ok || len(examples) != 5 {
		t.Fatalf("examples = %v", examples)
	}
}

func TestStatusReportsDependenciesIndependently(t *testing.T) {
	asker := &fakeAsker{cfg: assistant.Config{ModelName: "mistral:latest", PromptVersion: "1.4"}}
	h := NewHandler(testConfig(t, nil), Dependencies{
		Assistant:         asker,
		Models:            &fakeModels{err: errors.New("connection refused")},
		Executor:          &fakeExecutor{result: query.Result{Columns: []string{"fact_rows"}, Rows: [][]any{{int64(5000)}}}},
		DependencyTimeout: time.Second,
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["model_ready"] != false || body["model_error"] == nil {
		t.Fatalf("model fields = %v", body)
	}
	if body["fact_rows"] != float64(5000) || body["prompt_version"] != "1.4" {
		t.Fatalf("store fields = %v", body)
	}
	if body["service"] != "shelterql-api" {
		t.Fatalf("service = %v", body["service"])
	}
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	store := &fakeHistory{}
	h := NewHandler(testConfig(t, nil), Dependencies{History: store})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history?limit=abc", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history?limit=100000", nil))
	if rr.Code != http.StatusOK || store.lastLimit != history.MaxListLimit {
		t.Fatalf("status = %d limit = %d", rr.Code, store.lastLimit)
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

package shelterqlctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunHealthCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"--api-key", "k1",
		"health",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodGet || gotPath != "/v1/health" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" {
		t.Fatalf("api key header = %q", gotAPIKey)
	}
	if !strings.Contains(stdout.String(), `"status": "ok"`) {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunAskRendersTable(t *testing.T) {
	var got askPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/ask" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{
			"request_id":"req-1",
			"sql":"SELECT outcome_type, COUNT(*) AS n FROM dim_outcome_type GROUP BY 1;",
			"columns":["outcome_type","n"],
			"rows":[["Adoption",12],["Transfer",7],[null,1]],
			"row_count":3,
			"summary":"Adoption is the most common outcome."
		}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "ask", "--summarize", "how", "many", "outcomes?"}, Options{Stdout: &stdout, Stderr: &stderr})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if got.Question != "how many outcomes?" || !got.Summarize {
		t.Fatalf("payload = %+v", got)
	}
	out := stdout.String()
	for _, want := range []string{"SELECT outcome_type", "Adoption", "Transfer", "NULL", "(3 rows)", "Adoption is the most common outcome."} {
		if !strings.Contains(out, want) {
			t.Fatalf("stdout missing %q:\n%s", want, out)
		}
	}
}

func TestRunAskFailureExitsNonZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"request_id":"req-2",
			"sql":"SELECT nope FROM fact_animal_outcome;",
			"columns":[],"rows":[],"row_count":0,
			"failure":{"stage":"query","message":"Binder Error: column nope not found","retryable":false}
		}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "ask", "anything"}, Options{Stdout: &stdout, Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "query stage failed: Binder Error") {
		t.Fatalf("stderr = %q", stderr.String())
	}
	if !strings.Contains(stdout.String(), "SELECT nope") {
		t.Fatalf("expected the generated SQL to be shown, stdout = %q", stdout.String())
	}
}

func TestRunAskExportWritesCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ask/export" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, "outcome_type,n\nAdoption,12\n")
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "out.csv")
	code := Run(context.Background(), []string{"--base-url", srv.URL, "ask", "--csv", target, "outcomes"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	raw, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if string(raw) != "outcome_type,n\nAdoption,12\n" {
		t.Fatalf("csv = %q", raw)
	}
}

func TestRunValidateSendsCaseIDs(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/validation/run" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"report":{
			"run_id":"run-1","total":2,"passed":1,"pass_rate":0.5,
			"cases":[
				{"id":1,"name":"outcomes","expected_row_count":9,"actual_row_count":9,"passed":true},
				{"id":3,"name":"sick animals","expected_row_count":4,"actual_row_count":0,"passed":false,"failure_stage":"extract"}
			]}}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "validate", "--case", "1", "--case", "3", "--no-archive"}, Options{Stdout: &stdout, Stderr: &stderr})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	ids, _ := got["case_ids"].([]any)
	if len(ids) != 2 || ids[0] != float64(1) || ids[1] != float64(3) {
		t.Fatalf("case_ids = %#v", got["case_ids"])
	}
	if got["archive"] != false {
		t.Fatalf("archive = %#v", got["archive"])
	}
	out := stdout.String()
	for _, want := range []string{"PASS", "FAIL", "extract", "1/2 passed (50.0%)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stdout missing %q:\n%s", want, out)
		}
	}

	code = Run(context.Background(), []string{"--base-url", srv.URL, "validate", "--min-pass-rate", "0.9"}, Options{})
	if code != 1 {
		t.Fatalf("exit code below min pass rate = %d", code)
	}
}

func TestRunValidateOutlastsRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"report":{"run_id":"run-2","total":1,"passed":1,"pass_rate":1,"cases":[{"id":1,"passed":true}]}}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "--timeout", "50ms", "validate", "--run-timeout", "5s"}, Options{Stderr: &stderr})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}

	code = Run(context.Background(), []string{"--base-url", srv.URL, "--timeout", "50ms", "status"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("status past --timeout exit code = %d", code)
	}
}

func TestRunHistoryPassesLimit(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"entries":[{"request_id":"r1","question":"how many dogs?","outcome":"answered","row_count":1,"latency_ms":40,"created_at":"2026-01-02T03:04:05Z"}],"limit":5}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "history", "--limit", "5"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotQuery != "limit=5" {
		t.Fatalf("query = %q", gotQuery)
	}
	if !strings.Contains(stdout.String(), "how many dogs?") || !strings.Contains(stdout.String(), "(1 rows)") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error_code":"FORBIDDEN","message":"missing role ask"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "status"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "http 403 FORBIDDEN: missing role ask") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	cases := [][]string{
		{"unknown"},
		{},
		{"--output", "yaml", "health"},
		{"ask"},
		{"health", "--bogus"},
	}
	for _, args := range cases {
		var stderr bytes.Buffer
		code := Run(context.Background(), args, Options{Stderr: &stderr})
		if code != 2 {
			t.Fatalf("args %v: exit code = %d, stderr=%s", args, code, stderr.String())
		}
		if !strings.Contains(stderr.String(), "Usage:") {
			t.Fatalf("args %v: expected usage output, got %q", args, stderr.String())
		}
	}
}

package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOllamaGenerateSendsPayloadAndDecodesResponse(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/generate" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"mistral:latest","response":"SELECT 1;","done":true}`))
	}))
	defer server.Close()

	client, err := NewOllamaClient(OllamaConfig{BaseURL: server.URL + "/"})
	if err != nil {
		t.Fatalf("NewOllamaClient() error = %v", err)
	}
	output, err := client.Generate(context.Background(), "prompt text", 0.3)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if output.Text != "SELECT 1;" || output.TransportStatus != http.StatusOK {
		t.Fatalf("output = %#v", output)
	}
	if captured["model"] != "mistral:latest" || captured["prompt"] != "prompt text" {
		t.Fatalf("payload = %#v", captured)
	}
	if captured["stream"] != false || captured["temperature"] != 0.3 {
		t.Fatalf("payload = %#v", captured)
	}
}

func TestOllamaGenerateClassifiesHTTPStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := NewOllamaClient(OllamaConfig{BaseURL: server.URL})
	_, err := client.Generate(context.Background(), "p", 0.3)
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if transportErr.Kind != TransportHTTPStatus || transportErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("transport error = %#v", transportErr)
	}
	if !transportErr.Retryable() {
		t.Fatal("503 should be retryable")
	}
}

func TestOllamaGenerateClassifiesMalformedResponse(t *testing.T) {
	for _, body := range []string{`not json`, `{"done":true}`} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		client, _ := NewOllamaClient(OllamaConfig{BaseURL: server.URL})
		_, err := client.Generate(context.Background(), "p", 0.3)
		server.Close()

		var transportErr *TransportError
		if !errors.As(err, &transportErr) || transportErr.Kind != TransportMalformedResponse {
			t.Fatalf("body %q: error = %v", body, err)
		}
	}
}

func TestOllamaGenerateClassifiesTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client, _ := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Generate(context.Background(), "p", 0.3)
	var transportErr *TransportError
	if !errors.As(err, &transportErr) || transportErr.Kind != TransportTimeout {
		t.Fatalf("error = %v, want timeout", err)
	}
}

func TestOllamaGenerateClassifiesConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	client, _ := NewOllamaClient(OllamaConfig{BaseURL: "http://" + addr})
	_, err = client.Generate(context.Background(), "p", 0.3)
	var transportErr *TransportError
	if !errors.As(err, &transportErr) || transportErr.Kind != TransportConnectionRefused {
		t.Fatalf("error = %v, want connection_refused", err)
	}
}

func TestOllamaListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/tags" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"models":[{"name":"mistral:latest"},{"name":"llama3:8b"}]}`))
	}))
	defer server.Close()

	client, _ := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Model: "llama3:8b"})
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 || models[1] != "llama3:8b" {
		t.Fatalf("models = %#v", models)
	}
	if client.Model() != "llama3:8b" {
		t.Fatalf("Model() = %q", client.Model())
	}
}

func TestNewOllamaClientRequiresBaseURL(t *testing.T) {
	if _, err := NewOllamaClient(OllamaConfig{}); err == nil {
		t.Fatal("expected error")
	}
}

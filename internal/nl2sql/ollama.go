package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

const (
	defaultOllamaModel   = "mistral:latest"
	defaultOllamaTimeout = 60 * time.Second
	maxErrorBodyBytes    = 512
)

type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// OllamaClient talks to an Ollama-compatible /api/generate endpoint.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOllamaModel
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultOllamaTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &OllamaClient{baseURL: baseURL, model: model, client: client}, nil
}

func (c *OllamaClient) Model() string {
	return c.model
}

type generatePayload struct {
	Model       string         `json:"model"`
	Prompt      string         `json:"prompt"`
	Stream      bool           `json:"stream"`
	Temperature float64        `json:"temperature"`
	Options     map[string]any `json:"options"`
}

func (c *OllamaClient) Generate(ctx context.Context, prompt string, temperature float64) (RawOutput, error) {
	body, err := json.Marshal(generatePayload{
		Model:       c.model,
		Prompt:      prompt,
		Stream:      false,
		Temperature: temperature,
		Options:     map[string]any{"temperature": temperature},
	})
	if err != nil {
		return RawOutput{}, fmt.Errorf("marshal generate payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return RawOutput{}, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	rawRespBody, status, err := c.do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return RawOutput{}, err
	}

	var parsed struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return RawOutput{}, &TransportError{Kind: TransportMalformedResponse, StatusCode: status, Err: fmt.Errorf("decode generate response: %w", err)}
	}
	if parsed.Response == nil {
		return RawOutput{}, &TransportError{Kind: TransportMalformedResponse, StatusCode: status, Err: fmt.Errorf("generate response has no %q field", "response")}
	}
	return RawOutput{
		Text:            *parsed.Response,
		Latency:         latency,
		TransportStatus: status,
	}, nil
}

// ListModels calls /api/tags and doubles as the liveness probe.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build tags request: %w", err)
	}
	rawRespBody, status, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return nil, &TransportError{Kind: TransportMalformedResponse, StatusCode: status, Err: fmt.Errorf("decode tags response: %w", err)}
	}
	names := make([]string, 0, len(parsed.Models))
	for _, model := range parsed.Models {
		names = append(names, model.Name)
	}
	return names, nil
}

func (c *OllamaClient) do(httpReq *http.Request) ([]byte, int, error) {
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, 0, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, classifyTransportError(fmt.Errorf("read response body: %w", err))
	}
	if resp.StatusCode >= 400 {
		snippet := rawRespBody
		if len(snippet) > maxErrorBodyBytes {
			snippet = snippet[:maxErrorBodyBytes]
		}
		return nil, resp.StatusCode, &TransportError{
			Kind:       TransportHTTPStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s %s failed body=%s", httpReq.Method, httpReq.URL.Path, strings.TrimSpace(string(snippet))),
		}
	}
	return rawRespBody, resp.StatusCode, nil
}

func classifyTransportError(err error) *TransportError {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &TransportError{Kind: TransportConnectionRefused, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Kind: TransportTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: TransportTimeout, Err: err}
	}
	return &TransportError{Kind: TransportUnreachable, Err: err}
}

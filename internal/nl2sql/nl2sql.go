package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoSQL is returned when the model output contains no recognisable SELECT
// statement.
var ErrNoSQL = errors.New("no SQL statement found in model output")

type GenerationRequest struct {
	Question     string
	SystemPrompt string
	Temperature  float64
}

type RawOutput struct {
	Text            string
	Latency         time.Duration
	TransportStatus int
}

type ExtractedSQL struct {
	Statement  string
	Terminated bool
}

// Generator produces a single completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) (RawOutput, error)
}

type TransportErrorKind string

const (
	TransportConnectionRefused TransportErrorKind = "connection_refused"
	TransportTimeout           TransportErrorKind = "timeout"
	TransportHTTPStatus        TransportErrorKind = "http_status"
	TransportMalformedResponse TransportErrorKind = "malformed_response"
	TransportUnreachable       TransportErrorKind = "unreachable"
)

type TransportError struct {
	Kind       TransportErrorKind
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Kind == TransportHTTPStatus {
		return fmt.Sprintf("model transport %s (status=%d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model transport %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the call could plausibly succeed.
func (e *TransportError) Retryable() bool {
	switch e.Kind {
	case TransportConnectionRefused, TransportTimeout, TransportUnreachable:
		return true
	case TransportHTTPStatus:
		return e.StatusCode >= 500
	default:
		return false
	}
}

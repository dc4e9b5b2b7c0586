package query

import (
	"context"
	"errors"
	"time"
)

const DefaultErrorMessageLimit = 200

var (
	ErrEmptySQL           = errors.New("sql is required")
	ErrMultipleStatements = errors.New("exactly one SQL statement is allowed")
)

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

func (r Result) RowCount() int {
	return len(r.Rows)
}

type Executor interface {
	Execute(ctx context.Context, sql string) (Result, error)
}

// Error is the single failure type returned by executors. Message is the
// user-facing text, already cut to the configured limit; Err keeps the full
// cause for logs.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(err error, limit int) *Error {
	if err == nil {
		return nil
	}
	return &Error{Message: Truncate(err.Error(), limit), Err: err}
}

// Truncate cuts msg to at most limit characters. A non-positive limit
// disables truncation.
func Truncate(msg string, limit int) string {
	if limit <= 0 {
		return msg
	}
	runes := []rune(msg)
	if len(runes) <= limit {
		return msg
	}
	return string(runes[:limit])
}

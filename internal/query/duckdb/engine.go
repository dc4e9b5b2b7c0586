package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/shelterql/shelterql/internal/query"
	"github.com/shelterql/shelterql/internal/sqltext"
)

type EngineOptions struct {
	ErrorMessageLimit int
	QueryTimeout      time.Duration
	// Observe, when set, receives the duration of every successful query.
	Observe func(time.Duration)
}

// Engine executes single SELECT statements against a long-lived DuckDB
// handle. It is safe for concurrent use.
type Engine struct {
	db      *sql.DB
	limit   int
	timeout time.Duration
	observe func(time.Duration)
}

func NewEngine(db *sql.DB, opts EngineOptions) *Engine {
	limit := opts.ErrorMessageLimit
	if limit == 0 {
		limit = query.DefaultErrorMessageLimit
	}
	return &Engine{db: db, limit: limit, timeout: opts.QueryTimeout, observe: opts.Observe}
}

func (e *Engine) Execute(ctx context.Context, sqlText string) (query.Result, error) {
	statements := sqltext.SplitStatements(sqlText)
	switch {
	case len(statements) == 0:
		return query.Result{}, query.NewError(query.ErrEmptySQL, e.limit)
	case len(statements) > 1:
		return query.Result{}, query.NewError(fmt.Errorf("%w: got %d", query.ErrMultipleStatements, len(statements)), e.limit)
	}
	if e.db == nil {
		return query.Result{}, query.NewError(fmt.Errorf("duckdb handle is not open"), e.limit)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := e.run(ctx, statements[0])
	if err != nil {
		return query.Result{}, query.NewError(err, e.limit)
	}
	result.Duration = time.Since(start)
	if e.observe != nil {
		e.observe(result.Duration)
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, statement string) (query.Result, error) {
	rows, err := e.db.QueryContext(ctx, statement)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return query.Result{Columns: uniqueColumns(columns), Rows: resultRows}, nil
}

func (e *Engine) Ping(ctx context.Context) error {
	if e.db == nil {
		return fmt.Errorf("duckdb handle is not open")
	}
	return e.db.PingContext(ctx)
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case duckdb.Decimal:
			normalized[i] = typed.Float64()
		case *big.Int:
			// SUM over integers yields HUGEINT.
			if typed != nil && typed.IsInt64() {
				normalized[i] = typed.Int64()
			} else {
				normalized[i] = typed.String()
			}
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

// uniqueColumns suffixes repeated column names (count, count_2, ...) so
// results can be addressed by name.
func uniqueColumns(columns []string) []string {
	used := make(map[string]bool, len(columns))
	out := make([]string, len(columns))
	for i, column := range columns {
		name := column
		for n := 2; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s_%d", column, n)
		}
		used[strings.ToLower(name)] = true
		out[i] = name
	}
	return out
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shelterql/shelterql/internal/assistant"
	"github.com/shelterql/shelterql/internal/auth"
	"github.com/shelterql/shelterql/internal/config"
	"github.com/shelterql/shelterql/internal/fixtures"
	"github.com/shelterql/shelterql/internal/history"
	"github.com/shelterql/shelterql/internal/observability"
	"github.com/shelterql/shelterql/internal/query"
	"github.com/shelterql/shelterql/internal/validation"
)

type ReadinessCheck func(ctx context.Context) error

type Asker interface {
	Ask(ctx context.Context, question string, opts assistant.AskOptions) (assistant.Answer, error)
	Config() assistant.Config
}

type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

type ValidationRunner interface {
	Run(ctx context.Context, cases []fixtures.TestCase) validation.Report
	Budget(cases int) time.Duration
}

type ReportArchiver interface {
	Archive(ctx context.Context, report validation.Report) (validation.ArchiveResult, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Assistant         Asker
	Executor          query.Executor
	Models            ModelLister
	History           history.Store
	Validation        ValidationRunner
	Suite             fixtures.Suite
	Archiver          ReportArchiver
	UI                http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout(deps))
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/examples", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"examples": ExampleQuestions})
	})

	protected := http.NewServeMux()
	protected.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		handleStatus(cfg.Service.Name, deps, w, r)
	})
	protected.HandleFunc("POST /v1/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})
	protected.HandleFunc("POST /v1/ask/export", func(w http.ResponseWriter, r *http.Request) {
		handleAskExport(deps, w, r)
	})
	protected.HandleFunc("POST /v1/validation/run", func(w http.ResponseWriter, r *http.Request) {
		handleValidationRun(deps, w, r)
	})
	protected.HandleFunc("GET /v1/history", func(w http.ResponseWriter, r *http.Request) {
		handleHistory(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("GET /v1/status", protectedHandler)
	mux.Handle("POST /v1/ask", protectedHandler)
	mux.Handle("POST /v1/ask/export", protectedHandler)
	mux.Handle("POST /v1/validation/run", protectedHandler)
	mux.Handle("GET /v1/history", protectedHandler)
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckExecutor probes the warehouse with a trivial query.
func CheckExecutor(executor query.Executor) ReadinessCheck {
	return func(ctx context.Context) error {
		if executor == nil {
			return errors.New("warehouse is not configured")
		}
		if _, err := executor.Execute(ctx, "SELECT 1"); err != nil {
			return fmt.Errorf("warehouse: %w", err)
		}
		return nil
	}
}

// CheckModel treats a failing /api/tags call as not ready.
func CheckModel(models ModelLister) ReadinessCheck {
	return func(ctx context.Context) error {
		if models == nil {
			return errors.New("model endpoint is not configured")
		}
		if _, err := models.ListModels(ctx); err != nil {
			return fmt.Errorf("model endpoint: %w", err)
		}
		return nil
	}
}

func CheckHistory(store history.Store) ReadinessCheck {
	return func(ctx context.Context) error {
		if store == nil {
			return nil
		}
		if err := store.HealthCheck(ctx); err != nil {
			return fmt.Errorf("history: %w", err)
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func dependencyTimeout(deps Dependencies) time.Duration {
	if deps.DependencyTimeout <= 0 {
		return 2 * time.Second
	}
	return deps.DependencyTimeout
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

func callerName(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.Name
	}
	return ""
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

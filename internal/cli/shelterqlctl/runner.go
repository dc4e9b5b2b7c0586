package shelterqlctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shelterql/shelterql/internal/config"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
	// Lookup feeds the local commands' configuration. Nil means built-in
	// defaults only.
	Lookup config.LookupFunc
}

// usageError marks errors that should exit with status 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// runtime carries the resolved global flags into every command.
type runtime struct {
	opts    Options
	baseURL string
	apiKey  string
	timeout time.Duration
	output  string
	dbPath  string
}

func (rt *runtime) client() *http.Client {
	if rt.opts.HTTPClient != nil {
		return rt.opts.HTTPClient
	}
	return &http.Client{Timeout: rt.timeout}
}

func (rt *runtime) loadConfig() (config.Config, error) {
	lookup := rt.opts.Lookup
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	return config.Load("shelterqlctl", lookup)
}

// Run executes one shelterqlctl invocation and returns its exit code.
func Run(ctx context.Context, args []string, defaults Options) int {
	if defaults.Stdout == nil {
		defaults.Stdout = io.Discard
	}
	if defaults.Stderr == nil {
		defaults.Stderr = io.Discard
	}

	root := newRootCommand(defaults)
	root.SetArgs(args)
	root.SetOut(defaults.Stdout)
	root.SetErr(defaults.Stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	_, _ = fmt.Fprintf(defaults.Stderr, "error: %v\n", err)
	var usage *usageError
	if errors.As(err, &usage) || isCobraUsageError(err) {
		_, _ = fmt.Fprintln(defaults.Stderr)
		_, _ = fmt.Fprint(defaults.Stderr, root.UsageString())
		return exitUsage
	}
	return exitFailure
}

func newRootCommand(opts Options) *cobra.Command {
	rt := &runtime{opts: opts}

	root := &cobra.Command{
		Use:           "shelterqlctl",
		Short:         "Ask the animal shelter warehouse questions and maintain its fixtures",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return usagef("a command is required")
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&rt.baseURL, "base-url", firstNonEmpty(opts.BaseURL, "http://localhost:8080"), "shelterql API base URL")
	flags.StringVar(&rt.apiKey, "api-key", opts.APIKey, "API key for authenticated requests")
	flags.DurationVar(&rt.timeout, "timeout", durationOr(opts.Timeout, 150*time.Second), "HTTP timeout (e.g. 30s)")
	flags.StringVarP(&rt.output, "output", "o", "table", "output format: table|json")
	flags.StringVar(&rt.dbPath, "db", "", "DuckDB file for local commands (defaults to SHELTERQL_STORE_PATH)")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		switch rt.output {
		case "table", "json":
			return nil
		default:
			return usagef("invalid --output %q: want table or json", rt.output)
		}
	}

	root.AddCommand(
		newHealthCommand(rt),
		newReadyCommand(rt),
		newStatusCommand(rt),
		newAskCommand(rt),
		newValidateCommand(rt),
		newHistoryCommand(rt),
		newDemoCommand(rt),
		newFixturesCommand(rt),
		newMaintainCommand(rt),
		newInspectCommand(rt),
		newPromptCommand(rt),
		newReportsCommand(rt),
	)
	return root
}

// isCobraUsageError recognizes the argument errors cobra builds internally.
func isCobraUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"unknown command", "accepts ", "requires at least", "requires at most", "unknown flag", "unknown shorthand flag"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return usagef("accepts %d arg(s), received %d", n, len(args))
		}
		return nil
	}
}

func minimumArgs(n int) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) < n {
			return usagef("requires at least %d arg(s), only received %d", n, len(args))
		}
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}

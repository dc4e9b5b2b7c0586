package shelterqlctl

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shelterql/shelterql/internal/config"
	"github.com/shelterql/shelterql/internal/demo/seed"
	"github.com/shelterql/shelterql/internal/fixtures"
	"github.com/shelterql/shelterql/internal/maintenance"
	"github.com/shelterql/shelterql/internal/observability"
	"github.com/shelterql/shelterql/internal/query/duckdb"
	"github.com/shelterql/shelterql/internal/storage/s3"
	"github.com/shelterql/shelterql/internal/validation"
)

// localEnv is what a command that works on local files needs.
type localEnv struct {
	cfg    config.Config
	logger *slog.Logger
	out    io.Writer
}

func (rt *runtime) local(cmd *cobra.Command) (localEnv, error) {
	cfg, err := rt.loadConfig()
	if err != nil {
		return localEnv{}, fmt.Errorf("load config: %w", err)
	}
	if rt.dbPath != "" {
		cfg.Store.Path = rt.dbPath
	}
	return localEnv{
		cfg:    cfg,
		logger: observability.NewLogger(cfg, cmd.ErrOrStderr()),
		out:    cmd.OutOrStdout(),
	}, nil
}

func (env localEnv) openStore(ctx context.Context, readWrite bool) (*sql.DB, error) {
	policy := duckdb.RetryPolicy{Attempts: env.cfg.Store.ConnectAttempts, Delay: env.cfg.Store.ConnectDelay}
	if readWrite {
		return duckdb.OpenReadWrite(ctx, env.cfg.Store.Path, policy, env.logger)
	}
	return duckdb.OpenReadOnly(ctx, env.cfg.Store.Path, policy, env.logger)
}

func (env localEnv) openArchive(ctx context.Context) (*s3.Store, error) {
	if !env.cfg.Archive.Enabled {
		return nil, errors.New("report archive is disabled; set SHELTERQL_ARCHIVE_ENABLED=true")
	}
	return s3.New(ctx, s3.Config{
		Endpoint:         env.cfg.Archive.Endpoint,
		Region:           env.cfg.Archive.Region,
		Bucket:           env.cfg.Archive.Bucket,
		AccessKeyID:      env.cfg.Archive.AccessKeyID,
		SecretAccessKey:  env.cfg.Archive.SecretAccessKey,
		UseSSL:           env.cfg.Archive.UseSSL,
		Prefix:           env.cfg.Archive.Prefix,
		AutoCreateBucket: env.cfg.Archive.AutoCreateBucket,
	})
}

func (rt *runtime) emit(w io.Writer, value any, table func()) error {
	if rt.output == "json" {
		encoded, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(w, string(encoded))
		return nil
	}
	table()
	return nil
}

func newDemoCommand(rt *runtime) *cobra.Command {
	demo := &cobra.Command{Use: "demo", Short: "Demo warehouse tooling"}

	defaults := seed.DefaultConfig()
	cfg := defaults
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a synthetic shelter warehouse at --db",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := rt.local(cmd)
			if err != nil {
				return err
			}
			cfg.Path = env.cfg.Store.Path
			summary, err := seed.CreateDatabase(cmd.Context(), cfg, env.logger)
			if err != nil {
				return err
			}
			return rt.emit(env.out, summary, func() {
				renderKeyValues(env.out, [][2]any{
					{"path", summary.Path},
					{"fact rows", summary.FactRows},
					{"outcome types", summary.Outcomes},
					{"date rows", summary.DateRows},
					{"null outcome types", summary.NullTypes},
				})
			})
		},
	}
	seedCmd.Flags().IntVar(&cfg.Rows, "rows", defaults.Rows, "number of fact rows")
	seedCmd.Flags().Int64Var(&cfg.Seed, "seed", defaults.Seed, "random seed")
	seedCmd.Flags().BoolVar(&cfg.IncludeNullOutcome, "include-null-outcome", false, "add a NULL outcome type to exercise normalization")
	seedCmd.Flags().BoolVar(&cfg.Overwrite, "overwrite", false, "replace an existing database file")

	demo.AddCommand(seedCmd)
	return demo
}

func newFixturesCommand(rt *runtime) *cobra.Command {
	group := &cobra.Command{Use: "fixtures", Short: "Ground-truth fixture tooling"}

	var definitionsPath, outPath string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Execute ground-truth SQL and write the test-case fixture",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := rt.local(cmd)
			if err != nil {
				return err
			}
			defs, err := fixtures.LoadDefinitions(firstNonEmpty(definitionsPath, env.cfg.Fixtures.GroundTruthSQLPath))
			if err != nil {
				return err
			}
			db, err := env.openStore(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			engine := duckdb.NewEngine(db, duckdb.EngineOptions{
				ErrorMessageLimit: env.cfg.Store.ErrorMessageLimit,
				QueryTimeout:      env.cfg.Store.QueryTimeout,
			})
			report := fixtures.Generate(cmd.Context(), engine, defs, env.logger)
			target := firstNonEmpty(outPath, env.cfg.Fixtures.TestCasesPath)
			if err := fixtures.SaveSuite(target, report.Suite); err != nil {
				return err
			}

			rows := make([][]any, 0, len(report.Suite.TestCases)+len(report.Failed))
			for _, tc := range report.Suite.TestCases {
				rows = append(rows, []any{tc.ID, tc.Name, tc.ExpectedRowCount, ""})
			}
			failedIDs := make([]int, 0, len(report.Failed))
			for id := range report.Failed {
				failedIDs = append(failedIDs, id)
			}
			sort.Ints(failedIDs)
			for _, id := range failedIDs {
				rows = append(rows, []any{id, "", "", report.Failed[id]})
			}
			if err := rt.emit(env.out, report, func() {
				renderTable(env.out, []string{"id", "name", "rows", "error"}, rows)
				_, _ = fmt.Fprintf(env.out, "wrote %d case(s) to %s\n", report.Suite.TotalTestCases, target)
			}); err != nil {
				return err
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d ground-truth case(s) failed", len(report.Failed))
			}
			return nil
		},
	}
	generate.Flags().StringVar(&definitionsPath, "definitions", "", "ground-truth SQL definitions (defaults to SHELTERQL_FIXTURES_GROUND_TRUTH_SQL)")
	generate.Flags().StringVar(&outPath, "out", "", "test-case fixture to write (defaults to SHELTERQL_FIXTURES_TEST_CASES)")

	group.AddCommand(generate)
	return group
}

func newMaintainCommand(rt *runtime) *cobra.Command {
	group := &cobra.Command{Use: "maintain", Short: "Warehouse maintenance (opens the store read-write)"}
	group.AddCommand(&cobra.Command{
		Use:   "normalize-outcomes",
		Short: "Rewrite NULL outcome types to 'Unknown'",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := rt.local(cmd)
			if err != nil {
				return err
			}
			db, err := env.openStore(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			summary, err := maintenance.NormalizeNullOutcomes(cmd.Context(), db)
			if err != nil {
				return err
			}
			return rt.emit(env.out, summary, func() {
				_, _ = fmt.Fprintf(env.out, "updated %d outcome type row(s)\n", summary.RowsUpdated)
				_, _ = fmt.Fprintf(env.out, "outcome types: %s\n", strings.Join(summary.OutcomeTypes, ", "))
			})
		},
	})
	return group
}

func newInspectCommand(rt *runtime) *cobra.Command {
	group := &cobra.Command{Use: "inspect", Short: "Read-only warehouse diagnostics"}

	var keywords []string
	taxonomy := &cobra.Command{
		Use:   "taxonomy",
		Short: "Show animal_type and outcome distributions for breed keywords",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := rt.local(cmd)
			if err != nil {
				return err
			}
			db, err := env.openStore(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			reports, err := maintenance.InspectTaxonomy(cmd.Context(), db, keywords)
			if err != nil {
				return err
			}
			return rt.emit(env.out, reports, func() {
				for _, report := range reports {
					_, _ = fmt.Fprintf(env.out, "breeds matching %q\n", report.Keyword)
					rows := make([][]any, 0, len(report.AnimalTypes))
					for _, tc := range report.AnimalTypes {
						rows = append(rows, []any{tc.AnimalType, tc.Count})
					}
					renderTable(env.out, []string{"animal_type", "count"}, rows)
					rows = rows[:0]
					for _, oc := range report.Outcomes {
						rows = append(rows, []any{oc.OutcomeType, oc.Count})
					}
					renderTable(env.out, []string{"outcome_type", "count"}, rows)
					if len(report.SampleBreeds) > 0 {
						_, _ = fmt.Fprintf(env.out, "sample breeds: %s\n", strings.Join(report.SampleBreeds, ", "))
					}
					_, _ = fmt.Fprintln(env.out)
				}
			})
		},
	}
	taxonomy.Flags().StringSliceVar(&keywords, "keyword", nil, "breed keyword (repeatable); defaults to duck, goat and rabbit")

	group.AddCommand(taxonomy)
	return group
}

func newPromptCommand(rt *runtime) *cobra.Command {
	group := &cobra.Command{Use: "prompt", Short: "Agent configuration tooling"}

	var patch fixtures.PromptPatch
	var configPath string
	patchCmd := &cobra.Command{
		Use:   "patch",
		Short: "Replace a fragment of the system prompt and bump its version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if patch.Old == "" {
				return usagef("--old is required")
			}
			env, err := rt.local(cmd)
			if err != nil {
				return err
			}
			path := firstNonEmpty(configPath, env.cfg.Fixtures.AgentConfigPath)
			current, err := fixtures.LoadAgentConfig(path)
			if err != nil {
				return err
			}
			updated, count, err := fixtures.ApplyPromptPatch(current, patch)
			if err != nil {
				return fmt.Errorf("patch %s: %w", path, err)
			}
			if err := fixtures.SaveAgentConfig(path, updated); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(env.out, "replaced %d occurrence(s) in %s; version %s -> %s\n", count, path, current.Version, updated.Version)
			return nil
		},
	}
	patchCmd.Flags().StringVar(&patch.Old, "old", "", "fragment to replace")
	patchCmd.Flags().StringVar(&patch.New, "new", "", "replacement text")
	patchCmd.Flags().StringVar(&patch.Version, "version", "", "new prompt version")
	patchCmd.Flags().StringVar(&patch.Description, "description", "", "new prompt description")
	patchCmd.Flags().StringVar(&configPath, "config", "", "agent config file (defaults to SHELTERQL_FIXTURES_AGENT_CONFIG)")

	group.AddCommand(patchCmd)
	return group
}

func newReportsCommand(rt *runtime) *cobra.Command {
	group := &cobra.Command{Use: "reports", Short: "Archived validation reports"}

	group.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List archived validation runs",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := rt.local(cmd)
			if err != nil {
				return err
			}
			store, err := env.openArchive(cmd.Context())
			if err != nil {
				return err
			}
			runs, err := validation.ListRuns(cmd.Context(), store)
			if err != nil {
				return err
			}
			return rt.emit(env.out, runs, func() {
				rows := make([][]any, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []any{run})
				}
				renderTable(env.out, []string{"run_id"}, rows)
			})
		},
	})

	group.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one archived validation report",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := rt.local(cmd)
			if err != nil {
				return err
			}
			store, err := env.openArchive(cmd.Context())
			if err != nil {
				return err
			}
			report, err := validation.LoadReport(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}
			return rt.emit(env.out, report, func() {
				renderReport(cmd, validationResult{Report: report})
			})
		},
	})

	var keepRuns int
	var safetyAge time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest archived runs",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := rt.local(cmd)
			if err != nil {
				return err
			}
			store, err := env.openArchive(cmd.Context())
			if err != nil {
				return err
			}
			service := &maintenance.ReportService{
				Store:  store,
				Config: maintenance.ReportConfig{KeepRuns: keepRuns, SafetyAge: safetyAge},
				Logger: env.logger,
			}
			summary, err := service.RunRetentionOnce(cmd.Context())
			if err != nil {
				return err
			}
			return rt.emit(env.out, summary, func() {
				renderKeyValues(env.out, [][2]any{
					{"runs scanned", summary.RunsScanned},
					{"runs pruned", summary.RunsPruned},
					{"objects deleted", summary.ObjectsDeleted},
					{"failures", summary.Failures},
				})
			})
		},
	}
	prune.Flags().IntVar(&keepRuns, "keep", 20, "number of newest runs to keep")
	prune.Flags().DurationVar(&safetyAge, "safety-age", time.Hour, "never delete runs younger than this")
	group.AddCommand(prune)

	group.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Verify every archived run has its report and parquet objects",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := rt.local(cmd)
			if err != nil {
				return err
			}
			store, err := env.openArchive(cmd.Context())
			if err != nil {
				return err
			}
			service := &maintenance.ReportService{Store: store, Logger: env.logger}
			summary, checkErr := service.RunIntegrityCheckOnce(cmd.Context())
			if err := rt.emit(env.out, summary, func() {
				renderKeyValues(env.out, [][2]any{
					{"runs scanned", summary.RunsScanned},
					{"objects checked", summary.ObjectsChecked},
					{"missing objects", summary.MissingObjects},
					{"empty objects", summary.EmptyObjects},
					{"operational failures", summary.OperationalFailures},
				})
			}); err != nil {
				return err
			}
			return checkErr
		},
	})

	group.AddCommand(&cobra.Command{
		Use:   "trend [run-id...]",
		Short: "Per-case pass rates across archived runs (all runs when none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := rt.local(cmd)
			if err != nil {
				return err
			}
			store, err := env.openArchive(cmd.Context())
			if err != nil {
				return err
			}
			runIDs := args
			if len(runIDs) == 0 {
				if runIDs, err = validation.ListRuns(cmd.Context(), store); err != nil {
					return err
				}
			}
			trends, err := maintenance.CaseTrends(cmd.Context(), store, runIDs)
			if err != nil {
				return err
			}
			return rt.emit(env.out, trends, func() {
				rows := make([][]any, 0, len(trends))
				for _, trend := range trends {
					rows = append(rows, []any{trend.CaseID, trend.Name, trend.Runs, trend.Passes, fmt.Sprintf("%.0f%%", trend.PassRate*100)})
				}
				renderTable(env.out, []string{"case", "name", "runs", "passes", "pass rate"}, rows)
			})
		},
	})
	return group
}

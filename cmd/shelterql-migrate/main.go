package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shelterql/shelterql/internal/config"
	historypostgres "github.com/shelterql/shelterql/internal/history/postgres"
	"github.com/shelterql/shelterql/internal/migrations"
)

func main() {
	var steps int
	root := &cobra.Command{
		Use:           "shelterql-migrate",
		Short:         "Apply the question history schema to Postgres",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().IntVar(&steps, "steps", 0, "number of migration steps; 0 means all for up, 1 for down")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
					applied, err := migrations.NewRunner().Up(ctx, db, steps)
					if err != nil {
						return fmt.Errorf("migration up failed: %w", err)
					}
					fmt.Printf("applied %d migration(s)\n", applied)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back applied migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
					rolledBack, err := migrations.NewRunner().Down(ctx, db, steps)
					if err != nil {
						return fmt.Errorf("migration down failed: %w", err)
					}
					fmt.Printf("rolled back %d migration(s)\n", rolledBack)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List known migrations and whether they are applied",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
					statuses, err := migrations.NewRunner().Status(ctx, db)
					if err != nil {
						return fmt.Errorf("migration status failed: %w", err)
					}
					for _, status := range statuses {
						state := "pending"
						if status.Applied {
							state = "applied"
						}
						fmt.Printf("%06d %s\n", status.Version, state)
					}
					return nil
				})
			},
		},
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withDB(parent context.Context, fn func(context.Context, *sql.DB) error) error {
	cfg, err := config.LoadFromEnv("shelterql-migrate")
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if cfg.History.DSN == "" {
		return fmt.Errorf("SHELTERQL_HISTORY_DSN is required")
	}

	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()
	db, err := historypostgres.Open(ctx, historypostgres.DBConfig{DSN: cfg.History.DSN})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return fn(ctx, db)
}

// Package seed builds a small synthetic animal shelter warehouse with the
// same star schema as the production DuckDB file. It backs local demos and
// the end-to-end tests.
package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/shelterql/shelterql/internal/query/duckdb"
)

var schemaStatements = []string{
	`CREATE TABLE dim_outcome_type (outcome_key INTEGER PRIMARY KEY, outcome_type VARCHAR)`,
	`CREATE TABLE dim_animal_attributes (animal_attributes_key INTEGER PRIMARY KEY, animal_type VARCHAR, primary_breed VARCHAR, breed_group VARCHAR)`,
	`CREATE TABLE dim_intake_details (intake_details_key INTEGER PRIMARY KEY, intake_type VARCHAR, intake_condition VARCHAR, has_condition_flag INTEGER)`,
	`CREATE TABLE dim_sex_on_outcome (sex_key INTEGER PRIMARY KEY, sex_upon_outcome VARCHAR, is_male INTEGER, is_female INTEGER, is_intact INTEGER, age_group VARCHAR)`,
	`CREATE TABLE dim_date (date_key INTEGER PRIMARY KEY, full_date DATE, year INTEGER, month INTEGER)`,
	`CREATE TABLE fact_animal_outcome (
		outcome_event_key INTEGER PRIMARY KEY,
		outcome_key INTEGER,
		animal_attributes_key INTEGER,
		intake_details_key INTEGER,
		sex_key INTEGER,
		outcome_date_key INTEGER,
		days_in_shelter INTEGER
	)`,
}

type Summary struct {
	Path      string
	FactRows  int
	Outcomes  int
	DateRows  int
	NullTypes int
}

// CreateDatabase writes a fresh demo warehouse to cfg.Path. An existing file
// is replaced only when cfg.Overwrite is set.
func CreateDatabase(ctx context.Context, cfg Config, logger *slog.Logger) (Summary, error) {
	if err := cfg.Validate(); err != nil {
		return Summary{}, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if _, err := os.Stat(cfg.Path); err == nil {
		if !cfg.Overwrite {
			return Summary{}, fmt.Errorf("%s already exists", cfg.Path)
		}
		if err := os.Remove(cfg.Path); err != nil {
			return Summary{}, fmt.Errorf("remove existing database: %w", err)
		}
		_ = os.Remove(cfg.Path + ".wal")
	} else if !errors.Is(err, os.ErrNotExist) {
		return Summary{}, fmt.Errorf("stat %s: %w", cfg.Path, err)
	}

	db, err := duckdb.Create(ctx, cfg.Path)
	if err != nil {
		return Summary{}, err
	}
	defer func() { _ = db.Close() }()

	summary, err := Load(ctx, db, cfg)
	if err != nil {
		return Summary{}, err
	}
	summary.Path = cfg.Path
	logger.InfoContext(ctx, "demo_database_seeded",
		slog.String("path", cfg.Path),
		slog.Int("fact_rows", summary.FactRows),
		slog.Int64("seed", cfg.Seed),
	)
	return summary, nil
}

// Load creates the star schema in db and fills it in one transaction.
func Load(ctx context.Context, db *sql.DB, cfg Config) (Summary, error) {
	dims := BuildDimensions(cfg.IncludeNullOutcome)
	generator := NewGenerator(cfg.Seed, dims)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, statement := range schemaStatements {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return Summary{}, fmt.Errorf("create schema: %w", err)
		}
	}

	summary := Summary{Outcomes: len(dims.OutcomeTypes), DateRows: len(dims.Dates)}
	for _, outcome := range dims.OutcomeTypes {
		var name any
		if outcome.Name != nil {
			name = *outcome.Name
		} else {
			summary.NullTypes++
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO dim_outcome_type VALUES (?, ?)`, outcome.Key, name); err != nil {
			return Summary{}, fmt.Errorf("insert dim_outcome_type: %w", err)
		}
	}
	for _, row := range dims.AnimalAttributes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO dim_animal_attributes VALUES (?, ?, ?, ?)`, row.Key, row.AnimalType, row.PrimaryBreed, row.BreedGroup); err != nil {
			return Summary{}, fmt.Errorf("insert dim_animal_attributes: %w", err)
		}
	}
	for _, row := range dims.IntakeDetails {
		if _, err := tx.ExecContext(ctx, `INSERT INTO dim_intake_details VALUES (?, ?, ?, ?)`, row.Key, row.IntakeType, row.IntakeCondition, row.HasConditionFlag); err != nil {
			return Summary{}, fmt.Errorf("insert dim_intake_details: %w", err)
		}
	}
	for _, row := range dims.Sexes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO dim_sex_on_outcome VALUES (?, ?, ?, ?, ?, ?)`, row.Key, row.SexUponOutcome, row.IsMale, row.IsFemale, row.IsIntact, row.AgeGroup); err != nil {
			return Summary{}, fmt.Errorf("insert dim_sex_on_outcome: %w", err)
		}
	}
	for _, row := range dims.Dates {
		if _, err := tx.ExecContext(ctx, `INSERT INTO dim_date VALUES (?, ?, ?, ?)`, row.Key, row.FullDate, row.Year, row.Month); err != nil {
			return Summary{}, fmt.Errorf("insert dim_date: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fact_animal_outcome VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Summary{}, fmt.Errorf("prepare fact insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for i := 0; i < cfg.Rows; i++ {
		fact := generator.NextFact()
		if _, err := stmt.ExecContext(ctx, fact.OutcomeEventKey, fact.OutcomeKey, fact.AnimalAttributesKey, fact.IntakeDetailsKey, fact.SexKey, fact.OutcomeDateKey, fact.DaysInShelter); err != nil {
			return Summary{}, fmt.Errorf("insert fact row %d: %w", fact.OutcomeEventKey, err)
		}
	}
	summary.FactRows = cfg.Rows

	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("commit seed transaction: %w", err)
	}
	return summary, nil
}

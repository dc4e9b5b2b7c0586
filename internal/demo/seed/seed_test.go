package seed

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/shelterql/shelterql/internal/query/duckdb"
)

func TestGeneratorDeterministicForSeed(t *testing.T) {
	dims := BuildDimensions(true)
	g1 := NewGenerator(42, dims)
	g2 := NewGenerator(42, dims)
	for i := 0; i < 50; i++ {
		r1, r2 := g1.NextFact(), g2.NextFact()
		if !reflect.DeepEqual(r1, r2) {
			t.Fatalf("fact %d differs: %#v vs %#v", i, r1, r2)
		}
		if r1.OutcomeEventKey != i+1 {
			t.Fatalf("OutcomeEventKey = %d, want %d", r1.OutcomeEventKey, i+1)
		}
	}
}

func TestGeneratorReferencesKnownDimensionKeys(t *testing.T) {
	dims := BuildDimensions(false)
	dates := map[int]bool{}
	for _, d := range dims.Dates {
		dates[d.Key] = true
	}
	g := NewGenerator(7, dims)
	for i := 0; i < 500; i++ {
		fact := g.NextFact()
		if fact.OutcomeKey < 1 || fact.OutcomeKey > len(dims.OutcomeTypes) {
			t.Fatalf("OutcomeKey = %d", fact.OutcomeKey)
		}
		if !dates[fact.OutcomeDateKey] {
			t.Fatalf("OutcomeDateKey = %d not in dim_date", fact.OutcomeDateKey)
		}
		if fact.DaysInShelter < 0 {
			t.Fatalf("DaysInShelter = %d", fact.DaysInShelter)
		}
	}
}

func TestCreateDatabaseWritesStarSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shelter.duckdb")
	summary, err := CreateDatabase(ctx, Config{Path: path, Rows: 250, Seed: 1, IncludeNullOutcome: true}, nil)
	if err != nil {
		t.Fatalf("CreateDatabase() error = %v", err)
	}
	if summary.FactRows != 250 || summary.NullTypes != 1 {
		t.Fatalf("summary = %#v", summary)
	}

	db, err := duckdb.OpenReadOnly(ctx, path, duckdb.RetryPolicy{Attempts: 1}, nil)
	if err != nil {
		t.Fatalf("OpenReadOnly() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	var facts, joined int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fact_animal_outcome`).Scan(&facts); err != nil {
		t.Fatalf("count facts: %v", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fact_animal_outcome f
		JOIN dim_outcome_type o ON f.outcome_key = o.outcome_key
		JOIN dim_animal_attributes a ON f.animal_attributes_key = a.animal_attributes_key
		JOIN dim_intake_details id ON f.intake_details_key = id.intake_details_key
		JOIN dim_sex_on_outcome s ON f.sex_key = s.sex_key
		JOIN dim_date d ON f.outcome_date_key = d.date_key`).Scan(&joined); err != nil {
		t.Fatalf("count joined: %v", err)
	}
	if facts != 250 || joined != 250 {
		t.Fatalf("facts=%d joined=%d", facts, joined)
	}

	if _, err := CreateDatabase(ctx, Config{Path: path, Rows: 10}, nil); err == nil {
		t.Fatal("expected error when file exists without overwrite")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	cfg, err := LoadConfigFromEnv(func(key string) (string, bool) {
		values := map[string]string{
			"SHELTERQL_DEMO_PATH":                 "/tmp/demo.duckdb",
			"SHELTERQL_DEMO_ROWS":                 "100",
			"SHELTERQL_DEMO_SEED":                 "9",
			"SHELTERQL_DEMO_INCLUDE_NULL_OUTCOME": "true",
			"SHELTERQL_DEMO_OVERWRITE":            "true",
		}
		v, ok := values[key]
		return v, ok
	})
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.Path != "/tmp/demo.duckdb" || cfg.Rows != 100 || cfg.Seed != 9 || !cfg.IncludeNullOutcome || !cfg.Overwrite {
		t.Fatalf("cfg = %#v", cfg)
	}

	if _, err := LoadConfigFromEnv(func(key string) (string, bool) {
		if key == "SHELTERQL_DEMO_ROWS" {
			return "0", true
		}
		return "", false
	}); err == nil {
		t.Fatal("expected error for zero rows")
	}
}

// Package maintenance holds the operator tasks that touch the warehouse or
// the report archive outside the question path.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const unknownOutcome = "Unknown"

// DefaultTaxonomyKeywords are the breed keywords whose animal_type is known
// to be inconsistent in the shelter data.
var DefaultTaxonomyKeywords = []string{"duck", "goat", "rabbit"}

type NormalizeSummary struct {
	RowsUpdated  int64    `json:"rows_updated"`
	UnknownKeys  []int64  `json:"unknown_keys"`
	OutcomeTypes []string `json:"outcome_types"`
}

// NormalizeNullOutcomes rewrites NULL outcome types to 'Unknown' so that
// grouping queries do not produce a NULL bucket. db must be read-write.
func NormalizeNullOutcomes(ctx context.Context, db *sql.DB) (NormalizeSummary, error) {
	res, err := db.ExecContext(ctx, `UPDATE dim_outcome_type SET outcome_type = ? WHERE outcome_type IS NULL`, unknownOutcome)
	if err != nil {
		normalizeRunsTotal.WithLabelValues("failed").Inc()
		return NormalizeSummary{}, fmt.Errorf("update dim_outcome_type: %w", err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		normalizeRunsTotal.WithLabelValues("failed").Inc()
		return NormalizeSummary{}, fmt.Errorf("rows affected: %w", err)
	}

	summary := NormalizeSummary{RowsUpdated: updated}
	summary.UnknownKeys, err = queryInt64s(ctx, db, `SELECT outcome_key FROM dim_outcome_type WHERE outcome_type = ? ORDER BY outcome_key`, unknownOutcome)
	if err != nil {
		normalizeRunsTotal.WithLabelValues("failed").Inc()
		return summary, err
	}
	summary.OutcomeTypes, err = queryStrings(ctx, db, `SELECT DISTINCT outcome_type FROM dim_outcome_type ORDER BY outcome_type`)
	if err != nil {
		normalizeRunsTotal.WithLabelValues("failed").Inc()
		return summary, err
	}
	normalizeRunsTotal.WithLabelValues("completed").Inc()
	outcomesNormalizedTotal.Add(float64(updated))
	return summary, nil
}

type TypeCount struct {
	AnimalType string `json:"animal_type"`
	Count      int64  `json:"count"`
}

type OutcomeCount struct {
	OutcomeType string `json:"outcome_type"`
	Count       int64  `json:"count"`
}

type TaxonomyReport struct {
	Keyword      string         `json:"keyword"`
	AnimalTypes  []TypeCount    `json:"animal_types"`
	Outcomes     []OutcomeCount `json:"outcomes"`
	SampleBreeds []string       `json:"sample_breeds"`
}

// InspectTaxonomy reports, for each keyword, how outcomes whose primary
// breed contains the keyword are spread across animal types and outcomes.
// Matching is case-insensitive.
func InspectTaxonomy(ctx context.Context, db *sql.DB, keywords []string) ([]TaxonomyReport, error) {
	if len(keywords) == 0 {
		keywords = DefaultTaxonomyKeywords
	}
	reports := make([]TaxonomyReport, 0, len(keywords))
	for _, raw := range keywords {
		keyword := strings.ToLower(strings.TrimSpace(raw))
		if keyword == "" {
			continue
		}
		pattern := "%" + escapeLike(keyword) + "%"
		report := TaxonomyReport{Keyword: keyword}

		rows, err := db.QueryContext(ctx, `
SELECT a.animal_type, COUNT(*) AS count
FROM fact_animal_outcome f
JOIN dim_animal_attributes a ON f.animal_attributes_key = a.animal_attributes_key
WHERE LOWER(a.primary_breed) LIKE ? ESCAPE '\'
GROUP BY a.animal_type
ORDER BY count DESC, a.animal_type`, pattern)
		if err != nil {
			return nil, fmt.Errorf("animal types for %q: %w", keyword, err)
		}
		for rows.Next() {
			var item TypeCount
			if err := rows.Scan(&item.AnimalType, &item.Count); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan animal type for %q: %w", keyword, err)
			}
			report.AnimalTypes = append(report.AnimalTypes, item)
		}
		if err := closeRows(rows); err != nil {
			return nil, fmt.Errorf("animal types for %q: %w", keyword, err)
		}

		rows, err = db.QueryContext(ctx, `
SELECT COALESCE(o.outcome_type, 'NULL') AS outcome_type, COUNT(*) AS count
FROM fact_animal_outcome f
JOIN dim_animal_attributes a ON f.animal_attributes_key = a.animal_attributes_key
JOIN dim_outcome_type o ON f.outcome_key = o.outcome_key
WHERE LOWER(a.primary_breed) LIKE ? ESCAPE '\'
GROUP BY 1
ORDER BY count DESC, 1`, pattern)
		if err != nil {
			return nil, fmt.Errorf("outcomes for %q: %w", keyword, err)
		}
		for rows.Next() {
			var item OutcomeCount
			if err := rows.Scan(&item.OutcomeType, &item.Count); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan outcome for %q: %w", keyword, err)
			}
			report.Outcomes = append(report.Outcomes, item)
		}
		if err := closeRows(rows); err != nil {
			return nil, fmt.Errorf("outcomes for %q: %w", keyword, err)
		}

		report.SampleBreeds, err = queryStrings(ctx, db, `
SELECT DISTINCT primary_breed
FROM dim_animal_attributes
WHERE LOWER(primary_breed) LIKE ? ESCAPE '\'
ORDER BY primary_breed
LIMIT 5`, pattern)
		if err != nil {
			return nil, fmt.Errorf("sample breeds for %q: %w", keyword, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func queryStrings(ctx context.Context, db *sql.DB, statement string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	out := make([]string, 0)
	for rows.Next() {
		var value sql.NullString
		if err := rows.Scan(&value); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, value.String)
	}
	return out, closeRows(rows)
}

func queryInt64s(ctx context.Context, db *sql.DB, statement string, args ...any) ([]int64, error) {
	rows, err := db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	out := make([]int64, 0)
	for rows.Next() {
		var value int64
		if err := rows.Scan(&value); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, value)
	}
	return out, closeRows(rows)
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

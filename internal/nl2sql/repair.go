package nl2sql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shelterql/shelterql/internal/sqltext"
)

// RepairRule rewrites one known identifier mistake. Pattern must only match
// a qualified identifier or the clause keyword directly preceding it.
type RepairRule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// DefaultRepairRules returns the shelter schema's repair table in the order
// it is applied.
func DefaultRepairRules() []RepairRule {
	return []RepairRule{
		{Name: "s.gender", Pattern: regexp.MustCompile(`(?i)\bs\.gender\b`), Replacement: "s.sex_upon_outcome"},
		{Name: "s.sex_name", Pattern: regexp.MustCompile(`(?i)\bs\.sex_name\b`), Replacement: "s.sex_upon_outcome"},
		{Name: "s.sex_on_outcome", Pattern: regexp.MustCompile(`(?i)\bs\.sex_on_outcome\b`), Replacement: "s.sex_upon_outcome"},
		{Name: "group_by_sex_key", Pattern: regexp.MustCompile(`(?i)\bGROUP\s+BY\s+sex_key\b`), Replacement: "GROUP BY s.sex_key"},
		{Name: "f.date_key", Pattern: regexp.MustCompile(`(?i)\bf\.date_key\b`), Replacement: "f.outcome_date_key"},
	}
}

type Repairer struct {
	rules []RepairRule
}

// NewRepairer validates the table and returns a repairer applying it in
// order. A table where some replacement is matched by any rule pattern is
// rejected, since applying it twice would not be stable.
func NewRepairer(rules []RepairRule) (*Repairer, error) {
	for i, rule := range rules {
		if strings.TrimSpace(rule.Name) == "" {
			return nil, fmt.Errorf("repair rule %d has no name", i)
		}
		if rule.Pattern == nil {
			return nil, fmt.Errorf("repair rule %q has no pattern", rule.Name)
		}
		if strings.Contains(rule.Replacement, "$") {
			return nil, fmt.Errorf("repair rule %q replacement must be literal", rule.Name)
		}
	}
	for _, producer := range rules {
		for _, consumer := range rules {
			if consumer.Pattern.MatchString(producer.Replacement) {
				return nil, fmt.Errorf("repair rule %q output %q is matched by rule %q", producer.Name, producer.Replacement, consumer.Name)
			}
		}
	}
	copied := make([]RepairRule, len(rules))
	copy(copied, rules)
	return &Repairer{rules: copied}, nil
}

// NewDefaultRepairer panics only if the built-in table is inconsistent.
func NewDefaultRepairer() *Repairer {
	repairer, err := NewRepairer(DefaultRepairRules())
	if err != nil {
		panic(err)
	}
	return repairer
}

// Repair applies every rule to the code portions of sql, leaving string
// literals and comments untouched. It returns the rewritten SQL and the
// names of the rules that changed something.
func (r *Repairer) Repair(sql string) (string, []string) {
	segments := sqltext.Segments(sql)
	var applied []string
	for _, rule := range r.rules {
		hit := false
		for i := range segments {
			if !segments[i].Code || !rule.Pattern.MatchString(segments[i].Text) {
				continue
			}
			segments[i].Text = rule.Pattern.ReplaceAllLiteralString(segments[i].Text, rule.Replacement)
			hit = true
		}
		if hit {
			applied = append(applied, rule.Name)
		}
	}

	var out strings.Builder
	out.Grow(len(sql))
	for _, segment := range segments {
		out.WriteString(segment.Text)
	}
	return out.String(), applied
}

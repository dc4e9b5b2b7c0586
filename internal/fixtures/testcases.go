package fixtures

import (
	"fmt"
	"strings"
)

// TestCase is one ground-truth validation case. Only ExpectedRowCount is
// used for pass/fail; the expected rows are kept for humans.
type TestCase struct {
	ID               int              `json:"id"`
	Name             string           `json:"name"`
	BusinessScenario string           `json:"business_scenario"`
	Question         string           `json:"natural_language_question"`
	GroundTruthSQL   string           `json:"ground_truth_sql"`
	ExpectedColumns  []string         `json:"expected_columns"`
	ExpectedResults  []map[string]any `json:"expected_results"`
	ExpectedRowCount int              `json:"result_count"`
}

type Suite struct {
	Project        string     `json:"project"`
	Description    string     `json:"description"`
	TotalTestCases int        `json:"total_test_cases"`
	TestCases      []TestCase `json:"test_cases"`
}

func LoadSuite(path string) (Suite, error) {
	var suite Suite
	if err := readJSON(path, &suite); err != nil {
		return Suite{}, err
	}
	if len(suite.TestCases) == 0 {
		return Suite{}, &ConfigurationError{Path: path, Err: fmt.Errorf("test_cases is empty")}
	}
	seen := make(map[int]struct{}, len(suite.TestCases))
	for i, tc := range suite.TestCases {
		if strings.TrimSpace(tc.Question) == "" {
			return Suite{}, &ConfigurationError{Path: path, Err: fmt.Errorf("test case %d has no natural_language_question", i)}
		}
		if tc.ExpectedRowCount < 0 {
			return Suite{}, &ConfigurationError{Path: path, Err: fmt.Errorf("test case %d has negative result_count", tc.ID)}
		}
		if _, dup := seen[tc.ID]; dup {
			return Suite{}, &ConfigurationError{Path: path, Err: fmt.Errorf("duplicate test case id %d", tc.ID)}
		}
		seen[tc.ID] = struct{}{}
	}
	return suite, nil
}

func SaveSuite(path string, suite Suite) error {
	suite.TotalTestCases = len(suite.TestCases)
	return writeJSON(path, suite)
}

// Filter keeps the cases whose id is listed; an empty list keeps all.
func (s Suite) Filter(ids []int) []TestCase {
	if len(ids) == 0 {
		return s.TestCases
	}
	wanted := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make([]TestCase, 0, len(ids))
	for _, tc := range s.TestCases {
		if _, ok := wanted[tc.ID]; ok {
			out = append(out, tc)
		}
	}
	return out
}

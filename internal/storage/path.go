package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const reportRoot = "validation"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildReportPath returns validation/<run-id>/<name>.
func BuildReportPath(runID, name string) (string, error) {
	if err := validatePathComponent(runID, "run id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(name, "object name"); err != nil {
		return "", err
	}
	return path.Join(reportRoot, runID, name), nil
}

// ReportPrefix is the listing prefix for one run, or for all runs when
// runID is empty.
func ReportPrefix(runID string) (string, error) {
	if runID == "" {
		return reportRoot + "/", nil
	}
	if err := validatePathComponent(runID, "run id"); err != nil {
		return "", err
	}
	return path.Join(reportRoot, runID) + "/", nil
}

// RunIDFromKey extracts the run id from a key built by BuildReportPath.
func RunIDFromKey(key string) (string, bool) {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == reportRoot && pathComponentPattern.MatchString(parts[i+1]) {
			return parts[i+1], true
		}
	}
	return "", false
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}

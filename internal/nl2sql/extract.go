package nl2sql

import (
	"strings"

	"github.com/shelterql/shelterql/internal/sqltext"
)

const fenceMarker = "```"

// Extract pulls the first SELECT statement out of free-form model output.
// A fenced block tagged sql (or untagged) wins over a bare statement in the
// surrounding prose. Bare statements must carry their own terminator.
func Extract(raw string) (ExtractedSQL, bool) {
	if statement, terminated, ok := extractFenced(raw); ok {
		return finalize(statement, terminated)
	}
	if statement, ok := extractBare(raw); ok {
		return finalize(statement, true)
	}
	return ExtractedSQL{}, false
}

func extractFenced(raw string) (string, bool, bool) {
	for offset := 0; ; {
		idx := strings.Index(raw[offset:], fenceMarker)
		if idx < 0 {
			return "", false, false
		}
		opener := offset + idx
		offset = opener + len(fenceMarker)

		body := offset
		if sqltext.HasKeywordAt(raw, body, "sql") {
			body += len("sql")
		}
		body = skipSpace(raw, body)
		if !sqltext.HasKeywordAt(raw, body, "select") {
			continue
		}
		end, terminated, ok := sqltext.ScanStatement(raw, body, true)
		if !ok {
			continue
		}
		return raw[body:end], terminated, true
	}
}

// extractBare prefers a candidate that reads like a statement (upper-case
// SELECT or SELECT at the start of a line) over one that starts mid-prose,
// and falls back to the first terminated candidate.
func extractBare(raw string) (string, bool) {
	fallback, found := "", false
	for from := 0; ; {
		start := sqltext.IndexKeyword(raw, from, "select")
		if start < 0 {
			return fallback, found
		}
		from = start + len("select")
		if from >= len(raw) || !isSpace(raw[from]) {
			continue
		}
		end, terminated, ok := sqltext.ScanStatement(raw, start, false)
		if !ok || !terminated {
			continue
		}
		if statementLike(raw, start) {
			return raw[start:end], true
		}
		if !found {
			fallback, found = raw[start:end], true
		}
	}
}

func statementLike(raw string, start int) bool {
	if raw[start:start+len("select")] == "SELECT" {
		return true
	}
	i := start
	for i > 0 && (raw[i-1] == ' ' || raw[i-1] == '\t') {
		i--
	}
	return i == 0 || raw[i-1] == '\n' || raw[i-1] == '\r'
}

func finalize(statement string, terminated bool) (ExtractedSQL, bool) {
	statement = stripFences(statement)
	statement = strings.TrimSpace(statement)
	statement = strings.TrimRight(statement, "; \t\r\n")
	if statement == "" {
		return ExtractedSQL{}, false
	}
	if sqltext.EndsInLineComment(statement) {
		statement += "\n"
	}
	return ExtractedSQL{Statement: statement + ";", Terminated: terminated}, true
}

// stripFences drops stray fence markers from code only; a fence inside a
// literal or comment is content.
func stripFences(statement string) string {
	var b strings.Builder
	b.Grow(len(statement))
	for _, segment := range sqltext.Segments(statement) {
		if segment.Code {
			b.WriteString(strings.ReplaceAll(segment.Text, fenceMarker, ""))
		} else {
			b.WriteString(segment.Text)
		}
	}
	return b.String()
}

func skipSpace(raw string, i int) int {
	for i < len(raw) && isSpace(raw[i]) {
		i++
	}
	return i
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == '\v'
}

package sqltext

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestScanStatementIgnoresSemicolonsInLiteralsAndComments(t *testing.T) {
	src := "SELECT 'a;b', \"c;d\" -- e;f\n/* g;h */ FROM t; SELECT 2;"
	end, terminated, ok := ScanStatement(src, 0, false)
	if !ok || !terminated {
		t.Fatalf("ScanStatement() ok=%v terminated=%v", ok, terminated)
	}
	if got := src[:end]; got != "SELECT 'a;b', \"c;d\" -- e;f\n/* g;h */ FROM t" {
		t.Fatalf("statement = %q", got)
	}
}

func TestScanStatementHandlesDoubledQuotes(t *testing.T) {
	src := "SELECT 'it''s;here' AS x;"
	end, terminated, ok := ScanStatement(src, 0, false)
	if !ok || !terminated || end != len(src)-1 {
		t.Fatalf("ScanStatement() = %d %v %v", end, terminated, ok)
	}
}

func TestScanStatementStopsAtFence(t *testing.T) {
	src := "SELECT 1\n```\nmore text;"
	end, terminated, ok := ScanStatement(src, 0, true)
	if !ok || terminated {
		t.Fatalf("ScanStatement() ok=%v terminated=%v", ok, terminated)
	}
	if got := src[:end]; got != "SELECT 1\n" {
		t.Fatalf("statement = %q", got)
	}

	if _, _, ok := ScanStatement("SELECT '```' FROM t", 0, true); ok {
		t.Fatal("fence inside a literal must not end the statement")
	}
}

func TestScanStatementWithoutBoundary(t *testing.T) {
	if _, _, ok := ScanStatement("SELECT 1", 0, false); ok {
		t.Fatal("expected no boundary")
	}
	if _, _, ok := ScanStatement("SELECT 'unterminated;", 0, false); ok {
		t.Fatal("semicolon inside an unterminated literal must not count")
	}
}

func TestSegmentsRoundTrip(t *testing.T) {
	src := "SELECT s.gender, 's.gender' /* s.gender */ FROM t -- s.gender\nWHERE \"s\".x = 1"
	segments := Segments(src)
	var rebuilt strings.Builder
	for _, segment := range segments {
		rebuilt.WriteString(segment.Text)
	}
	if rebuilt.String() != src {
		t.Fatalf("rebuilt = %q", rebuilt.String())
	}

	var code []string
	for _, segment := range segments {
		if segment.Code {
			code = append(code, segment.Text)
		}
	}
	want := []string{"SELECT s.gender, ", " ", " FROM t ", "WHERE ", ".x = 1"}
	if diff := cmp.Diff(want, code); diff != "" {
		t.Fatalf("code segments mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitStatements(t *testing.T) {
	got := SplitStatements("SELECT 1; -- trailing comment\n ; SELECT ';' ;")
	want := []string{"SELECT 1", "SELECT ';'"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("SplitStatements() mismatch (-want +got):\n%s", diff)
	}
	if got := SplitStatements("  ;  "); len(got) != 0 {
		t.Fatalf("SplitStatements(empty) = %#v", got)
	}
}

func TestEndsInLineComment(t *testing.T) {
	if !EndsInLineComment("SELECT 1 -- note") {
		t.Fatal("expected trailing line comment")
	}
	if EndsInLineComment("SELECT 1 -- note\nFROM t") {
		t.Fatal("comment closed by newline")
	}
	if EndsInLineComment("SELECT '--' FROM t") {
		t.Fatal("dashes inside literal are not a comment")
	}
}

func TestIndexKeyword(t *testing.T) {
	src := "preselect; Here is SELECT x FROM selections"
	if got := IndexKeyword(src, 0, "select"); got != strings.Index(src, "SELECT") {
		t.Fatalf("IndexKeyword() = %d", got)
	}
	if got := IndexKeyword("selected", 0, "select"); got != -1 {
		t.Fatalf("IndexKeyword(selected) = %d", got)
	}
}

// Package sqltext is a minimal quote-aware SQL tokenizer. It knows about
// single-quoted strings, double-quoted identifiers, line comments and block
// comments, which is enough to find statement boundaries in model output
// without treating a semicolon inside a literal as a terminator.
package sqltext

import "strings"

type state int

const (
	stateCode state = iota
	stateString
	stateIdent
	stateLineComment
	stateBlockComment
)

const fence = "```"

// Segment is a run of source text that is either plain SQL code or the
// inside of a literal or comment (quotes and comment markers included).
type Segment struct {
	Text string
	Code bool
}

// Segments splits src into alternating code and non-code runs. Joining the
// Text of every segment reproduces src exactly.
func Segments(src string) []Segment {
	out := make([]Segment, 0, 4)
	st := stateCode
	start := 0
	flush := func(end int, code bool) {
		if end > start {
			out = append(out, Segment{Text: src[start:end], Code: code})
		}
		start = end
	}
	for i := 0; i < len(src); i++ {
		switch st {
		case stateCode:
			next := openerAt(src, i)
			if next == stateCode {
				continue
			}
			flush(i, true)
			st = next
			if next == stateLineComment || next == stateBlockComment {
				i++
			}
		default:
			advance, closed := closerAt(src, i, st)
			i += advance
			if closed {
				flush(i+1, false)
				st = stateCode
			}
		}
	}
	flush(len(src), st == stateCode)
	return out
}

// ScanStatement walks src from start and returns the offset where the
// statement ends. A statement ends at the first semicolon in code position
// (terminated is true, end excludes the semicolon) or, when stopAtFence is
// set, at the first code-position markdown fence. ok is false when neither
// boundary exists.
func ScanStatement(src string, start int, stopAtFence bool) (end int, terminated bool, ok bool) {
	st := stateCode
	for i := start; i < len(src); i++ {
		if st != stateCode {
			advance, closed := closerAt(src, i, st)
			i += advance
			if closed {
				st = stateCode
			}
			continue
		}
		if src[i] == ';' {
			return i, true, true
		}
		if stopAtFence && strings.HasPrefix(src[i:], fence) {
			return i, false, true
		}
		next := openerAt(src, i)
		if next == stateLineComment || next == stateBlockComment {
			i++
		}
		st = next
	}
	return len(src), false, false
}

// EndsInLineComment reports whether src finishes inside a -- comment, in
// which case anything appended on the same line would be commented out.
func EndsInLineComment(src string) bool {
	st := stateCode
	for i := 0; i < len(src); i++ {
		if st != stateCode {
			advance, closed := closerAt(src, i, st)
			i += advance
			if closed {
				st = stateCode
			}
			continue
		}
		next := openerAt(src, i)
		if next == stateLineComment || next == stateBlockComment {
			i++
		}
		st = next
	}
	return st == stateLineComment
}

// SplitStatements returns the non-empty statements of src, split on
// code-position semicolons. Comment-only fragments are dropped.
func SplitStatements(src string) []string {
	statements := make([]string, 0, 1)
	pos := 0
	for pos <= len(src) {
		end, _, ok := ScanStatement(src, pos, false)
		if !ok {
			end = len(src)
		}
		if hasCode(src[pos:end]) {
			statements = append(statements, strings.TrimSpace(src[pos:end]))
		}
		pos = end + 1
	}
	return statements
}

// IndexKeyword returns the offset of the first occurrence of keyword in src
// at or after from that is bounded by non-identifier characters on both
// sides, matching case-insensitively. It does not track quotes. -1 if none.
func IndexKeyword(src string, from int, keyword string) int {
	for i := from; i+len(keyword) <= len(src); i++ {
		if HasKeywordAt(src, i, keyword) {
			return i
		}
	}
	return -1
}

// HasKeywordAt reports whether keyword appears at offset i as a whole word.
func HasKeywordAt(src string, i int, keyword string) bool {
	if i < 0 || i+len(keyword) > len(src) {
		return false
	}
	if !strings.EqualFold(src[i:i+len(keyword)], keyword) {
		return false
	}
	if i > 0 && isIdentByte(src[i-1]) {
		return false
	}
	if end := i + len(keyword); end < len(src) && isIdentByte(src[end]) {
		return false
	}
	return true
}

func hasCode(src string) bool {
	for _, segment := range Segments(src) {
		if segment.Code && strings.TrimSpace(segment.Text) != "" {
			return true
		}
		if !segment.Code && (segment.Text[0] == '\'' || segment.Text[0] == '"') {
			return true
		}
	}
	return false
}

func openerAt(src string, i int) state {
	switch src[i] {
	case '\'':
		return stateString
	case '"':
		return stateIdent
	case '-':
		if i+1 < len(src) && src[i+1] == '-' {
			return stateLineComment
		}
	case '/':
		if i+1 < len(src) && src[i+1] == '*' {
			return stateBlockComment
		}
	}
	return stateCode
}

// closerAt inspects src[i] inside a non-code state. advance is how many
// extra bytes the caller must skip; closed reports that the state ends with
// the byte at i+advance.
func closerAt(src string, i int, st state) (advance int, closed bool) {
	switch st {
	case stateString, stateIdent:
		quote := byte('\'')
		if st == stateIdent {
			quote = '"'
		}
		if src[i] != quote {
			return 0, false
		}
		if i+1 < len(src) && src[i+1] == quote {
			return 1, false
		}
		return 0, true
	case stateLineComment:
		return 0, src[i] == '\n'
	case stateBlockComment:
		if src[i] == '*' && i+1 < len(src) && src[i+1] == '/' {
			return 1, true
		}
	}
	return 0, false
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

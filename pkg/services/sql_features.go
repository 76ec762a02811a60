package services

import (
	"regexp"
	"strconv"
	"strings"
)

// Plan text patterns. DuckDB's textual plan layout varies between versions,
// so these are best-effort.
var (
	planRowsPattern      = regexp.MustCompile(`(\d+)\s+Rows`)
	planTimePattern      = regexp.MustCompile(`\((\d+\.\d+)s\)`)
	planJoinPattern      = regexp.MustCompile(`(?i)\bJOIN\b`)
	planAggregatePattern = regexp.MustCompile(`(?i)AGGREGATE`)
)

// Query text patterns.
var (
	sqlJoinPattern      = regexp.MustCompile(`(?i)\bJOIN\b`)
	sqlAggregatePattern = regexp.MustCompile(`(?i)\b(SUM|AVG|COUNT|MIN|MAX)\b`)
	sqlSubstringPattern = regexp.MustCompile(`(?i)\bsubstring\s*\(|\bsubstr\s*\(`)
	substringArgPattern = regexp.MustCompile(`(?i)\bsubstr(?:ing)?\s*\(\s*([a-zA-Z0-9_\.]+)`)
	fromTablePattern    = regexp.MustCompile(`(?i)\bFROM\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
	joinTablePattern    = regexp.MustCompile(`(?i)\bJOIN\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
	filterColumnPattern = regexp.MustCompile(`(?i)([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)*)\s*(?:=|>|<|\bIN\b|\bLIKE\b)`)
)

// Statements that change state. Analysis executes the query more than once,
// so these only get a single EXPLAIN ANALYZE pass.
var modifyingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(CREATE|DROP|ALTER|TRUNCATE|COMMENT\s+ON|RENAME)\s+`),
	regexp.MustCompile(`(?i)^\s*(INSERT|UPDATE|DELETE|REPLACE|MERGE|UPSERT|COPY)\s+`),
	regexp.MustCompile(`(?i)^\s*(BEGIN|START\s+TRANSACTION|COMMIT|ROLLBACK|SAVEPOINT)\b`),
	regexp.MustCompile(`(?i)^\s*(GRANT|REVOKE|ATTACH|DETACH|CHECKPOINT|VACUUM|INSTALL|LOAD)\b`),
}

// UnknownTable is used in snippets when no table name can be parsed.
const UnknownTable = "unknown_table"

// PlanStats holds the figures parsed from EXPLAIN ANALYZE text.
type PlanStats struct {
	ScannedRows   int64
	ReturnedRows  int64
	ExecTimeMs    float64
	RowsKnown     bool
	ExecTimeKnown bool
}

// ParsePlanText extracts row and timing figures from plan text.
// Scanned rows is the largest row figure and returned rows the smallest.
func ParsePlanText(text string) PlanStats {
	var stats PlanStats

	for _, m := range planRowsPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || n < 0 {
			continue
		}
		if !stats.RowsKnown {
			stats.ScannedRows, stats.ReturnedRows = n, n
			stats.RowsKnown = true
			continue
		}
		if n > stats.ScannedRows {
			stats.ScannedRows = n
		}
		if n < stats.ReturnedRows {
			stats.ReturnedRows = n
		}
	}

	for _, m := range planTimePattern.FindAllStringSubmatch(text, -1) {
		secs, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		ms := secs * 1000
		if !stats.ExecTimeKnown || ms > stats.ExecTimeMs {
			stats.ExecTimeMs = ms
			stats.ExecTimeKnown = true
		}
	}

	return stats
}

// CountExpectedOperators counts joins and aggregate calls declared in the query text.
func CountExpectedOperators(query string) (joins, aggs int) {
	return len(sqlJoinPattern.FindAllStringIndex(query, -1)),
		len(sqlAggregatePattern.FindAllStringIndex(query, -1))
}

// CountDetectedOperators counts joins and aggregates present in the plan text.
func CountDetectedOperators(plan string) (joins, aggs int) {
	return len(planJoinPattern.FindAllStringIndex(plan, -1)),
		len(planAggregatePattern.FindAllStringIndex(plan, -1))
}

// ExtractTableName returns the first table after FROM, else after JOIN, else def.
func ExtractTableName(query, def string) string {
	if m := fromTablePattern.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	if m := joinTablePattern.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	return def
}

// ExtractFilterColumn returns the first identifier preceding a comparison or
// membership operator, without its qualifier.
func ExtractFilterColumn(query string) (string, bool) {
	m := filterColumnPattern.FindStringSubmatch(query)
	if m == nil {
		return "", false
	}
	col := lastSegment(m[1])
	return col, col != ""
}

// HasSubstringCall reports whether the query calls substring or substr.
func HasSubstringCall(query string) bool {
	return sqlSubstringPattern.MatchString(query)
}

// ExtractSubstringColumn returns the first argument of a substring call as written.
func ExtractSubstringColumn(query string) (string, bool) {
	col, _, ok := ExtractSubstringCall(query)
	return col, ok
}

// ExtractSubstringCall returns the first argument of the first substring or
// substr call along with the call text up to its closing parenthesis.
// ok is false when the first argument is not a column reference or the call
// is unterminated.
func ExtractSubstringCall(query string) (col, call string, ok bool) {
	loc := substringArgPattern.FindStringSubmatchIndex(query)
	if loc == nil {
		return "", "", false
	}
	col = query[loc[2]:loc[3]]
	if !isIdentifier(col) {
		return "", "", false
	}
	end := closingParen(query, loc[0])
	if end < 0 {
		return "", "", false
	}
	return col, query[loc[0] : end+1], true
}

// closingParen returns the index of the parenthesis that closes the first
// one at or after start, skipping quoted literals. It returns -1 when the
// call is unbalanced.
func closingParen(s string, start int) int {
	depth := 0
	var quote byte
	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isIdentifier(s string) bool {
	for _, part := range strings.Split(s, ".") {
		if part == "" || (part[0] >= '0' && part[0] <= '9') {
			return false
		}
	}
	return true
}

// IsModifyingStatement reports whether the statement changes database state.
func IsModifyingStatement(query string) bool {
	trimmed := strings.TrimSpace(query)
	for _, p := range modifyingPatterns {
		if p.MatchString(trimmed) {
			return true
		}
	}
	return false
}

func lastSegment(ident string) string {
	if i := strings.LastIndex(ident, "."); i >= 0 {
		return ident[i+1:]
	}
	return ident
}

package sqlutil

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var (
	selectPattern     = regexp.MustCompile(`(?i)^\s*select\b`)
	selectHeadPattern = regexp.MustCompile(`(?i)^(\s*select\s+)(distinct\s+)?`)
	// Matches "LIMIT n" and the "LIMIT offset, n" form.
	limitPattern = regexp.MustCompile(`(?i)\blimit\s+(\d+)(?:\s*,\s*(\d+))?\b`)
)

// IsSelect reports whether the statement starts with the SELECT verb.
func IsSelect(sql string) bool {
	return selectPattern.MatchString(sql)
}

// HasLimit reports whether the statement already carries a numeric LIMIT clause.
func HasLimit(sql string) bool {
	return limitPattern.MatchString(sql)
}

// EnsureLimit appends "LIMIT n" to a SELECT statement that has none.
// An existing LIMIT is never rewritten, so repeated application is a no-op.
func EnsureLimit(sql string, n int) string {
	if n <= 0 || !IsSelect(sql) {
		return sql
	}
	if HasLimit(sql) {
		return sql
	}
	return fmt.Sprintf("%s LIMIT %d", strings.TrimRight(sql, " \t\n"), n)
}

// CapLimit enforces ceiling as an upper bound on the LIMIT clause of a SELECT.
// A missing LIMIT is appended, an oversized "LIMIT n" is reduced, and the
// "LIMIT offset, n" form keeps its offset while n is reduced.
func CapLimit(sql string, ceiling int) string {
	if ceiling <= 0 || !IsSelect(sql) {
		return sql
	}
	m := limitPattern.FindStringSubmatchIndex(sql)
	if m == nil {
		return fmt.Sprintf("%s LIMIT %d", strings.TrimRight(sql, " \t\n"), ceiling)
	}
	first := sql[m[2]:m[3]]
	if m[4] >= 0 {
		offset := first
		n := atoiDigits(sql[m[4]:m[5]])
		if n > ceiling {
			return sql[:m[0]] + fmt.Sprintf("LIMIT %s, %d", offset, ceiling) + sql[m[1]:]
		}
		return sql
	}
	if atoiDigits(first) > ceiling {
		return sql[:m[0]] + fmt.Sprintf("LIMIT %d", ceiling) + sql[m[1]:]
	}
	return sql
}

// WithMaxExecutionTime injects a MAX_EXECUTION_TIME optimizer hint right after
// the SELECT keyword (after DISTINCT when present). Non-SELECT statements and
// non-positive budgets pass through unchanged.
func WithMaxExecutionTime(sql string, ms int64) string {
	if ms <= 0 || !IsSelect(sql) {
		return sql
	}
	m := selectHeadPattern.FindString(sql)
	if m == "" {
		return sql
	}
	return m + fmt.Sprintf("/*+ MAX_EXECUTION_TIME(%d) */ ", ms) + sql[len(m):]
}

// Digest returns a short stable hash of the statement text, suitable for log
// correlation without logging the full SQL.
func Digest(sql string) string {
	sum := sha1.Sum([]byte(sql))
	return hex.EncodeToString(sum[:])[:12]
}

func atoiDigits(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

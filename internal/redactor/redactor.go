// Package redactor masks sensitive columns in fetched results according to
// per-intent policy. Masking happens after execution and before any caching
// or serialization, so unmasked data never leaves the pipeline.
package redactor

import (
	"fmt"
	"regexp"
	"strings"
)

// Strategy names accepted in intent masking policy. Unknown names fall back
// to full masking, never to passthrough.
const (
	StrategyFull     = "full"
	StrategyDocument = "document"
	StrategyPhone    = "phone"
	StrategyEmail    = "email"
	StrategyLast4    = "last4"
)

var (
	digitPattern = regexp.MustCompile(`\d`)
	emailPattern = regexp.MustCompile(`^([^@])([^@]*)(@.*)$`)
)

// Mask applies one strategy to one value. Nil passes through so SQL NULLs
// stay NULL.
func Mask(value any, strategy string) any {
	if value == nil {
		return nil
	}
	s := fmt.Sprint(value)

	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case StrategyDocument, StrategyPhone, "cpf":
		return maskDigits(s)
	case StrategyEmail:
		m := emailPattern.FindStringSubmatch(s)
		if m == nil {
			return s
		}
		return m[1] + "***" + m[3]
	case StrategyLast4:
		return maskLast4(s)
	default:
		// full, "all", and anything unrecognized.
		return "***"
	}
}

// maskDigits stars every digit except the last two, leaving separators in
// place so the shape of the value stays recognizable.
func maskDigits(s string) string {
	total := len(digitPattern.FindAllString(s, -1))
	if total <= 2 {
		return s
	}
	hide := total - 2
	return digitPattern.ReplaceAllStringFunc(s, func(d string) string {
		if hide > 0 {
			hide--
			return "*"
		}
		return d
	})
}

func maskLast4(s string) string {
	if len(s) <= 4 {
		return s
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// Apply masks the configured columns in place across the keyed records and
// rebuilds the positional rows so both forms agree. Records without a masked
// column are left untouched.
func Apply(columns []string, records []map[string]any, policy map[string]string) ([]map[string]any, [][]any) {
	rows := make([][]any, len(records))
	if len(policy) == 0 {
		for i, record := range records {
			rows[i] = rowFromRecord(columns, record)
		}
		return records, rows
	}

	masked := make([]map[string]any, len(records))
	for i, record := range records {
		out := make(map[string]any, len(record))
		for col, value := range record {
			if strategy, ok := policy[col]; ok {
				out[col] = Mask(value, strategy)
			} else {
				out[col] = value
			}
		}
		masked[i] = out
		rows[i] = rowFromRecord(columns, out)
	}
	return masked, rows
}

func rowFromRecord(columns []string, record map[string]any) []any {
	row := make([]any, len(columns))
	for j, col := range columns {
		row[j] = record[col]
	}
	return row
}

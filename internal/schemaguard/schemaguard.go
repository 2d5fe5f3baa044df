// Package schemaguard checks every registered intent against the live store
// metadata before the intent is ever served. It issues one metadata round trip
// and validates in memory, so a misconfigured intent fails at startup instead
// of at request time.
package schemaguard

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ferdnandolima/llm-sql-skeleton/internal/intent"
)

// Snapshot maps upper-cased table names to their upper-cased column sets.
type Snapshot map[string]map[string]struct{}

// HasColumn reports whether table.column exists; both lookups are
// case-insensitive.
func (s Snapshot) HasColumn(table, column string) bool {
	cols, ok := s[strings.ToUpper(table)]
	if !ok {
		return false
	}
	_, ok = cols[strings.ToUpper(column)]
	return ok
}

// HasTable reports whether the table exists.
func (s Snapshot) HasTable(table string) bool {
	_, ok := s[strings.ToUpper(table)]
	return ok
}

const snapshotQuery = `SELECT TABLE_NAME, COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = ?`

// LoadSnapshot reads the column catalog for one schema. An empty schemaName
// uses the connection's current database.
func LoadSnapshot(ctx context.Context, db *sql.DB, schemaName string) (Snapshot, error) {
	if schemaName == "" {
		if err := db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&schemaName); err != nil {
			return nil, fmt.Errorf("resolving current database: %w", err)
		}
	}

	rows, err := db.QueryContext(ctx, snapshotQuery, schemaName)
	if err != nil {
		return nil, fmt.Errorf("loading schema snapshot for %s: %w", schemaName, err)
	}
	defer rows.Close()

	snapshot := make(Snapshot)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("scanning schema snapshot row: %w", err)
		}
		table = strings.ToUpper(table)
		if snapshot[table] == nil {
			snapshot[table] = make(map[string]struct{})
		}
		snapshot[table][strings.ToUpper(column)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading schema snapshot: %w", err)
	}
	return snapshot, nil
}

// Mismatch carries every error found across the catalog. Warnings ride along
// for reporting but do not trigger the error.
type Mismatch struct {
	Errors   []string
	Warnings []string
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("schema mismatch: %s", strings.Join(m.Errors, "; "))
}

// Summary reports a clean catalog check.
type Summary struct {
	Tables         int      `json:"tables"`
	IntentsChecked int      `json:"intents_checked"`
	Warnings       []string `json:"warnings,omitempty"`
}

var simpleColumnPattern = regexp.MustCompile("^[A-Za-z0-9_.`]+$")

// CheckCatalog validates every intent in the catalog against the snapshot.
// Any error across any intent fails the whole check with a Mismatch listing
// all of them; soft references (ordering terms) only warn.
func CheckCatalog(catalog *intent.Catalog, snapshot Snapshot) (Summary, error) {
	var allErrors, allWarnings []string
	catalog.Each(func(key string, spec *intent.Spec) {
		errs, warns := CheckIntent(key, spec, snapshot)
		allErrors = append(allErrors, errs...)
		allWarnings = append(allWarnings, warns...)
	})

	if len(allErrors) > 0 {
		return Summary{}, &Mismatch{Errors: allErrors, Warnings: allWarnings}
	}
	return Summary{
		Tables:         len(snapshot),
		IntentsChecked: catalog.Len(),
		Warnings:       allWarnings,
	}, nil
}

// CheckIntent validates a single intent: primary and join tables must exist,
// every declared column and the period column must resolve to a real column.
// Simple ordering terms that fail to resolve are warnings, since ordering
// entries may be expressions the guard cannot parse.
func CheckIntent(key string, spec *intent.Spec, snapshot Snapshot) (errors, warnings []string) {
	if spec.Table == "" {
		return []string{fmt.Sprintf("[%s] intent declares no table", key)}, nil
	}
	if !snapshot.HasTable(spec.Table) {
		// Without the primary table no column can be resolved.
		return []string{fmt.Sprintf("[%s] table %q does not exist in the schema", key, spec.Table)}, nil
	}

	aliases := aliasTables(spec)

	for _, j := range spec.Joins {
		if j.Table == "" {
			warnings = append(warnings, fmt.Sprintf("[%s] join with alias %q declares no table", key, j.Alias))
			continue
		}
		if !snapshot.HasTable(j.Table) {
			errors = append(errors, fmt.Sprintf("[%s] join table %q does not exist in the schema", key, j.Table))
		}
	}

	for _, logical := range sortedColumnKeys(spec.Columns) {
		physical := spec.Columns[logical]
		table, column := resolveTable(physical, aliases, spec.Table)
		if !snapshot.HasTable(table) {
			errors = append(errors, fmt.Sprintf("[%s] column %q references unknown table %q", key, physical, table))
			continue
		}
		if !snapshot.HasColumn(table, column) {
			errors = append(errors, fmt.Sprintf("[%s] column %q not found in table %q", key, physical, table))
		}
	}

	if period := spec.Filters.PeriodColumn; period != "" {
		table, column := resolveTable(period, aliases, spec.Table)
		if !snapshot.HasColumn(table, column) {
			errors = append(errors, fmt.Sprintf("[%s] period column %q not found in table %q", key, period, table))
		}
	}

	for _, term := range spec.Order.By {
		base := strings.Fields(strings.TrimSpace(term))
		if len(base) == 0 || !simpleColumnPattern.MatchString(base[0]) {
			continue
		}
		table, column := resolveTable(base[0], aliases, spec.Table)
		if !snapshot.HasColumn(table, column) {
			warnings = append(warnings, fmt.Sprintf("[%s] ordering term %q not found in table %q", key, base[0], table))
		}
	}

	return errors, warnings
}

// aliasTables maps declared aliases to their tables, primary alias included.
func aliasTables(spec *intent.Spec) map[string]string {
	out := map[string]string{spec.PrimaryAlias(): spec.Table}
	for _, j := range spec.Joins {
		if j.Alias != "" && j.Table != "" {
			out[j.Alias] = j.Table
		}
	}
	return out
}

// resolveTable picks the table a column expression belongs to: bare columns
// belong to the primary table, known aliases map to their tables, and an
// unknown prefix is treated as a literal table name.
func resolveTable(expr string, aliases map[string]string, primary string) (table, column string) {
	expr = strings.Trim(strings.TrimSpace(expr), "`\"")
	i := strings.Index(expr, ".")
	if i < 0 {
		return primary, expr
	}
	prefix := strings.Trim(expr[:i], "`\" ")
	column = strings.Trim(expr[i+1:], "`\" ")
	if t, ok := aliases[prefix]; ok {
		return t, column
	}
	return prefix, column
}

func sortedColumnKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	// Deterministic error ordering keeps reports stable across runs.
	sort.Strings(keys)
	return keys
}

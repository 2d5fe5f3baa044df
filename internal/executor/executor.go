// Package executor runs compiled statements against the store. It applies the
// store-side execution-time hint and the global row cap, optionally gates the
// statement on its EXPLAIN plan, and shapes the fetched rows into a bounded
// in-memory result.
package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ferdnandolima/llm-sql-skeleton/internal/compiler"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/dbexec"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/intent"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/sqlutil"
)

// AdmissionConfig controls the EXPLAIN gate. The gate fails open: when the
// plan cannot be obtained the statement runs anyway, since the gate protects
// against expensive scans, not against EXPLAIN outages.
type AdmissionConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// MaxScanRows rejects plans estimating at least this many rows on an
	// unindexed full or index scan.
	MaxScanRows int64 `mapstructure:"max_scan_rows"`
}

// Config bounds every statement the executor runs.
type Config struct {
	// MaxExecutionTimeMS is injected as a MAX_EXECUTION_TIME optimizer hint
	// on SELECT statements. Zero disables the hint.
	MaxExecutionTimeMS int `mapstructure:"max_execution_time_ms"`
	// RowCapCeiling is the global LIMIT ceiling applied to every SELECT,
	// independent of per-intent caps. Zero disables it.
	RowCapCeiling int `mapstructure:"row_cap_ceiling"`
	// MaxResponseRows truncates the fetched result in memory. Zero keeps
	// everything.
	MaxResponseRows int             `mapstructure:"max_response_rows"`
	Admission       AdmissionConfig `mapstructure:"admission"`
}

// DefaultConfig mirrors the store-protection posture used in production.
func DefaultConfig() Config {
	return Config{
		MaxExecutionTimeMS: 8000,
		RowCapCeiling:      5000,
		MaxResponseRows:    2000,
		Admission: AdmissionConfig{
			MaxScanRows: 500000,
		},
	}
}

// Result is a fully fetched, bounded query result.
type Result struct {
	Columns []string
	// Rows is the positional form, Records the keyed form of the same data.
	Rows    [][]any
	Records []map[string]any
	// RowCount is the number of rows returned after truncation; TotalRows is
	// the number fetched from the store.
	RowCount  int
	TotalRows int
	Truncated bool
}

// AdmissionError reports a statement rejected by the EXPLAIN gate. The caller
// can retry with narrower filters; the system never retries on its own.
type AdmissionError struct {
	ScanRows  int64
	Threshold int64
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission rejected: plan estimates %d rows on an unindexed scan (threshold %d)", e.ScanRows, e.Threshold)
}

// ConnectivityError reports that the store could not serve the statement on
// any target.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("store unreachable: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Executor runs statements through a QueryExecutor, typically the
// replica-first failover executor.
type Executor struct {
	store dbexec.QueryExecutor
	cfg   Config
}

// New wires an executor over the given store access.
func New(store dbexec.QueryExecutor, cfg Config) *Executor {
	return &Executor{store: store, cfg: cfg}
}

// Run executes one compiled statement. The caller is expected to bound ctx
// with an overall deadline spanning the admission round trip and both
// failover targets.
func (e *Executor) Run(ctx context.Context, q compiler.Query) (*Result, error) {
	sqlText := q.SQL
	if sqlutil.IsSelect(sqlText) {
		if e.cfg.MaxExecutionTimeMS > 0 {
			sqlText = sqlutil.WithMaxExecutionTime(sqlText, int64(e.cfg.MaxExecutionTimeMS))
		}
		if e.cfg.RowCapCeiling > 0 && q.Shape == intent.ShapeRows {
			sqlText = sqlutil.CapLimit(sqlText, e.cfg.RowCapCeiling)
		}
		if err := e.admit(ctx, sqlText, q.Args); err != nil {
			return nil, err
		}
	}

	rows, err := e.store.QueryContext(ctx, sqlText, q.Args...)
	if err != nil {
		return nil, &ConnectivityError{Err: err}
	}
	defer rows.Close()

	return e.collect(rows)
}

// admit runs the EXPLAIN gate. Plan rows describing an unindexed full-table
// or full-index scan over too many rows reject the statement; every other
// outcome, including a failed EXPLAIN, admits it.
func (e *Executor) admit(ctx context.Context, sqlText string, args []any) error {
	if !e.cfg.Admission.Enabled {
		return nil
	}
	threshold := e.cfg.Admission.MaxScanRows
	if threshold <= 0 {
		return nil
	}

	rows, err := e.store.QueryContext(ctx, "EXPLAIN "+sqlText, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	plan, err := scanRecords(rows)
	if err != nil {
		return nil
	}
	for _, entry := range plan {
		accessType := strings.ToLower(fieldString(entry, "type"))
		if accessType != "all" && accessType != "index" {
			continue
		}
		if fieldString(entry, "key") != "" {
			continue
		}
		if scanRows := fieldInt64(entry, "rows"); scanRows >= threshold {
			return &AdmissionError{ScanRows: scanRows, Threshold: threshold}
		}
	}
	return nil
}

// collect fetches every row and applies the in-memory truncation bound.
func (e *Executor) collect(rows dbexec.Rows) (*Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	records, err := scanAll(rows, columns)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Columns:   columns,
		Records:   records,
		TotalRows: len(records),
	}
	if max := e.cfg.MaxResponseRows; max > 0 && len(records) > max {
		result.Records = records[:max]
		result.Truncated = true
	}
	result.RowCount = len(result.Records)
	result.Rows = rowsFromRecords(columns, result.Records)
	return result, nil
}

func scanAll(rows dbexec.Rows, columns []string) ([]map[string]any, error) {
	var records []map[string]any
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		record := make(map[string]any, len(columns))
		for i, col := range columns {
			record[col] = normalizeValue(values[i])
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading result rows: %w", err)
	}
	return records, nil
}

func scanRecords(rows dbexec.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	return scanAll(rows, columns)
}

// rowsFromRecords rebuilds the positional form in column order.
func rowsFromRecords(columns []string, records []map[string]any) [][]any {
	out := make([][]any, len(records))
	for i, record := range records {
		row := make([]any, len(columns))
		for j, col := range columns {
			row[j] = record[col]
		}
		out[i] = row
	}
	return out
}

// normalizeValue maps driver byte slices to strings so results serialize as
// text instead of base64.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func fieldString(record map[string]any, name string) string {
	for key, value := range record {
		if !strings.EqualFold(key, name) {
			continue
		}
		if value == nil {
			return ""
		}
		return fmt.Sprint(value)
	}
	return ""
}

func fieldInt64(record map[string]any, name string) int64 {
	s := fieldString(record, name)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

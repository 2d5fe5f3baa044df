package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/ferdnandolima/llm-sql-skeleton/internal/compiler"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/dbexec"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/intent"
)

func newMockExecutor(t *testing.T, cfg Config) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(dbexec.NewStandardExecutor(db), cfg), mock
}

func rowQuery(sql string, args ...any) compiler.Query {
	return compiler.Query{SQL: sql, Args: args, Shape: intent.ShapeRows}
}

func TestRunInjectsHintAndGlobalCap(t *testing.T) {
	e, mock := newMockExecutor(t, Config{MaxExecutionTimeMS: 8000, RowCapCeiling: 5000})

	mock.ExpectQuery("SELECT /*+ MAX_EXECUTION_TIME(8000) */ t.ID AS id FROM TABLE t LIMIT 200").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	res, err := e.Run(context.Background(), rowQuery("SELECT t.ID AS id FROM TABLE t LIMIT 200"))
	require.NoError(t, err)
	require.Equal(t, []string{"id"}, res.Columns)
	require.Equal(t, 2, res.RowCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunCapsOversizedLimit(t *testing.T) {
	e, mock := newMockExecutor(t, Config{RowCapCeiling: 100})

	mock.ExpectQuery("SELECT t.ID AS id FROM TABLE t LIMIT 100").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := e.Run(context.Background(), rowQuery("SELECT t.ID AS id FROM TABLE t LIMIT 9999"))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLeavesAggregatesUncapped(t *testing.T) {
	e, mock := newMockExecutor(t, Config{RowCapCeiling: 100})

	mock.ExpectQuery("SELECT SUM(t.VALOR) AS sum_total, COUNT(*) AS total_rows FROM TABLE t").
		WillReturnRows(sqlmock.NewRows([]string{"sum_total", "total_rows"}).AddRow(10.5, 3))

	q := compiler.Query{
		SQL:   "SELECT SUM(t.VALOR) AS sum_total, COUNT(*) AS total_rows FROM TABLE t",
		Shape: intent.ShapeScalar,
	}
	res, err := e.Run(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, 1, res.RowCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunTruncatesResponseRows(t *testing.T) {
	e, mock := newMockExecutor(t, Config{MaxResponseRows: 2})

	rows := sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3).AddRow(4)
	mock.ExpectQuery("SELECT t.ID AS id FROM TABLE t LIMIT 10").WillReturnRows(rows)

	res, err := e.Run(context.Background(), rowQuery("SELECT t.ID AS id FROM TABLE t LIMIT 10"))
	require.NoError(t, err)
	require.Equal(t, 2, res.RowCount)
	require.Equal(t, 4, res.TotalRows)
	require.True(t, res.Truncated)
	require.Len(t, res.Rows, 2)
	require.Len(t, res.Records, 2)
}

func TestRunNormalizesByteSlices(t *testing.T) {
	e, mock := newMockExecutor(t, Config{})

	mock.ExpectQuery("SELECT t.NO_CLI AS name FROM TABLE t LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow([]byte("ACME")))

	res, err := e.Run(context.Background(), rowQuery("SELECT t.NO_CLI AS name FROM TABLE t LIMIT 1"))
	require.NoError(t, err)
	require.Equal(t, "ACME", res.Records[0]["name"])
	require.Equal(t, "ACME", res.Rows[0][0])
}

func TestRunWrapsStoreErrors(t *testing.T) {
	e, mock := newMockExecutor(t, Config{})

	storeErr := errors.New("connection refused")
	mock.ExpectQuery("SELECT t.ID AS id FROM TABLE t LIMIT 1").WillReturnError(storeErr)

	_, err := e.Run(context.Background(), rowQuery("SELECT t.ID AS id FROM TABLE t LIMIT 1"))
	var connErr *ConnectivityError
	require.ErrorAs(t, err, &connErr)
	require.ErrorIs(t, err, storeErr)
}

func explainColumns() []string {
	return []string{"id", "select_type", "table", "type", "possible_keys", "key", "rows", "Extra"}
}

func TestRunAdmissionRejectsWideUnindexedScan(t *testing.T) {
	e, mock := newMockExecutor(t, Config{
		Admission: AdmissionConfig{Enabled: true, MaxScanRows: 500000},
	})

	mock.ExpectQuery("EXPLAIN SELECT t.ID AS id FROM TABLE t LIMIT 200").
		WillReturnRows(sqlmock.NewRows(explainColumns()).
			AddRow(1, "SIMPLE", "TABLE", "ALL", nil, nil, 750000, ""))

	_, err := e.Run(context.Background(), rowQuery("SELECT t.ID AS id FROM TABLE t LIMIT 200"))
	var admErr *AdmissionError
	require.ErrorAs(t, err, &admErr)
	require.Equal(t, int64(750000), admErr.ScanRows)
	require.Equal(t, int64(500000), admErr.Threshold)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunAdmissionAllowsIndexedScan(t *testing.T) {
	e, mock := newMockExecutor(t, Config{
		Admission: AdmissionConfig{Enabled: true, MaxScanRows: 500000},
	})

	mock.ExpectQuery("EXPLAIN SELECT t.ID AS id FROM TABLE t LIMIT 200").
		WillReturnRows(sqlmock.NewRows(explainColumns()).
			AddRow(1, "SIMPLE", "TABLE", "range", "PRIMARY", "PRIMARY", 900000, ""))
	mock.ExpectQuery("SELECT t.ID AS id FROM TABLE t LIMIT 200").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	res, err := e.Run(context.Background(), rowQuery("SELECT t.ID AS id FROM TABLE t LIMIT 200"))
	require.NoError(t, err)
	require.Equal(t, 1, res.RowCount)
}

func TestRunAdmissionFailsOpenWhenExplainErrors(t *testing.T) {
	e, mock := newMockExecutor(t, Config{
		Admission: AdmissionConfig{Enabled: true, MaxScanRows: 500000},
	})

	mock.ExpectQuery("EXPLAIN SELECT t.ID AS id FROM TABLE t LIMIT 200").
		WillReturnError(errors.New("EXPLAIN not supported"))
	mock.ExpectQuery("SELECT t.ID AS id FROM TABLE t LIMIT 200").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	res, err := e.Run(context.Background(), rowQuery("SELECT t.ID AS id FROM TABLE t LIMIT 200"))
	require.NoError(t, err)
	require.Equal(t, 1, res.RowCount)
}

func TestRunAdmissionSkipsSmallScans(t *testing.T) {
	e, mock := newMockExecutor(t, Config{
		Admission: AdmissionConfig{Enabled: true, MaxScanRows: 500000},
	})

	mock.ExpectQuery("EXPLAIN SELECT t.ID AS id FROM TABLE t LIMIT 200").
		WillReturnRows(sqlmock.NewRows(explainColumns()).
			AddRow(1, "SIMPLE", "TABLE", "ALL", nil, nil, 1200, ""))
	mock.ExpectQuery("SELECT t.ID AS id FROM TABLE t LIMIT 200").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	_, err := e.Run(context.Background(), rowQuery("SELECT t.ID AS id FROM TABLE t LIMIT 200"))
	require.NoError(t, err)
}

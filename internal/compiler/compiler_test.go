package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferdnandolima/llm-sql-skeleton/internal/intent"
)

func listSpec() *intent.Spec {
	return &intent.Spec{
		Name:  "orders.list",
		Table: "TABLE",
		Alias: "t",
		Columns: map[string]string{
			"id":    "ID",
			"total": "VALOR",
		},
	}
}

func TestCompilePlainRowSet(t *testing.T) {
	q, err := Compile(listSpec(), nil, Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, "SELECT t.ID AS id, t.VALOR AS total FROM TABLE t LIMIT 200", q.SQL)
	require.Empty(t, q.Args)
	require.Equal(t, intent.ShapeRows, q.Shape)
}

func TestCompileRowCountParameter(t *testing.T) {
	q, err := Compile(listSpec(), map[string]any{"N": 5}, Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, "SELECT t.ID AS id, t.VALOR AS total FROM TABLE t LIMIT 5", q.SQL)
}

func TestCompilePeriodFilter(t *testing.T) {
	spec := listSpec()
	spec.Filters.PeriodColumn = "DT"

	q, err := Compile(spec, map[string]any{
		"data_ini": "2025-01-01 00:00:00",
		"data_fim": "2025-01-31 23:59:59",
	}, Options{}, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "WHERE t.DT BETWEEN ? AND ?")
	require.Equal(t, []any{"2025-01-01 00:00:00", "2025-01-31 23:59:59"}, q.Args)
}

func TestCompilePeriodWidensBareDates(t *testing.T) {
	spec := listSpec()
	spec.Filters.PeriodColumn = "DT"

	q, err := Compile(spec, map[string]any{
		"data_ini": "2025-01-01",
		"data_fim": "2025-01-31",
	}, Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, []any{"2025-01-01 00:00:00", "2025-01-31 23:59:59"}, q.Args)
}

func TestCompilePeriodNeedsBothBounds(t *testing.T) {
	spec := listSpec()
	spec.Filters.PeriodColumn = "DT"

	q, err := Compile(spec, map[string]any{"data_ini": "2025-01-01"}, Options{}, nil)
	require.NoError(t, err)
	require.NotContains(t, q.SQL, "BETWEEN")
}

func TestCompileIdempotent(t *testing.T) {
	spec := listSpec()
	spec.Filters.PeriodColumn = "DT"
	spec.Filters.Equals = map[string]intent.FilterColumn{
		"customer": {Column: "NU_CLI", Coerce: "number"},
		"active":   {Column: "FL_ATIVO", Coerce: "bool"},
	}
	params := map[string]any{
		"data_ini": "2025-01-01",
		"data_fim": "2025-01-31",
		"customer": "42",
		"active":   "yes",
	}

	first, err := Compile(spec, params, Options{}, nil)
	require.NoError(t, err)
	second, err := Compile(spec, params, Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, first.SQL, second.SQL)
	require.Equal(t, first.Args, second.Args)
	// Equality filters are emitted in sorted parameter order.
	require.Less(t, strings.Index(first.SQL, "FL_ATIVO"), strings.Index(first.SQL, "NU_CLI"))
}

func TestCompileNeverEmitsWildcard(t *testing.T) {
	spec := listSpec()
	q, err := Compile(spec, nil, Options{}, nil)
	require.NoError(t, err)
	require.NotContains(t, q.SQL, "*")

	spec.Columns = nil
	_, err = Compile(spec, nil, Options{}, nil)
	var cfgErr *intent.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestCompileSingleLimitOnRecompilation(t *testing.T) {
	q, err := Compile(listSpec(), nil, Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(q.SQL, "LIMIT"))

	again, err := Compile(listSpec(), nil, Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(again.SQL, "LIMIT"))
}

func TestCompileFieldSelection(t *testing.T) {
	q, err := Compile(listSpec(), nil, Options{Fields: []string{"total"}}, nil)
	require.NoError(t, err)
	require.Equal(t, "SELECT t.VALOR AS total FROM TABLE t LIMIT 200", q.SQL)
}

func TestCompileInvalidFieldSelection(t *testing.T) {
	_, err := Compile(listSpec(), nil, Options{Fields: []string{"total", "secret"}}, nil)
	var selErr *SelectionError
	require.ErrorAs(t, err, &selErr)
	require.Equal(t, SelectionFields, selErr.Kind)
	require.Equal(t, []string{"secret"}, selErr.Invalid)
	require.Equal(t, []string{"id", "total"}, selErr.Allowed)
}

func TestCompileJoinOrderAndQualification(t *testing.T) {
	spec := listSpec()
	spec.Joins = []intent.JoinSpec{
		{Table: "CLIENTES", Alias: "c", On: "c.NU_CLI = t.NU_CLI"},
		{Table: "ROTAS", Alias: "r", Kind: "inner", On: "r.ID = t.ID_ROTA"},
	}
	spec.Columns["customer"] = "c.NO_CLI"

	q, err := Compile(spec, nil, Options{}, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "FROM TABLE t LEFT JOIN CLIENTES c ON c.NU_CLI = t.NU_CLI INNER JOIN ROTAS r ON r.ID = t.ID_ROTA")
}

func TestCompileDanglingAliasIsConfigError(t *testing.T) {
	spec := listSpec()
	spec.Columns["customer"] = "c.NO_CLI"

	_, err := Compile(spec, nil, Options{}, nil)
	var cfgErr *intent.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, cfgErr.Reason, "c")
}

func TestCompileJoinWithoutOnIsConfigError(t *testing.T) {
	spec := listSpec()
	spec.Joins = []intent.JoinSpec{{Table: "CLIENTES", Alias: "c"}}

	_, err := Compile(spec, nil, Options{}, nil)
	var cfgErr *intent.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestCompileEqualsLikeInFilters(t *testing.T) {
	spec := listSpec()
	spec.Filters.Equals = map[string]intent.FilterColumn{
		"customer": {Column: "NU_CLI", Coerce: "number"},
	}
	spec.Filters.Like = map[string]intent.FilterColumn{
		"name": {Column: "NO_CLI"},
	}
	spec.Filters.In = map[string]intent.FilterColumn{
		"routes": {Column: "ID_ROTA", Coerce: "number"},
	}

	q, err := Compile(spec, map[string]any{
		"customer": "42",
		"name":     "silva",
		"routes":   "1, 2 3",
		"ignored":  "extra keys are fine",
	}, Options{}, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "t.NU_CLI = ?")
	require.Contains(t, q.SQL, "t.NO_CLI LIKE ?")
	require.Contains(t, q.SQL, "t.ID_ROTA IN (?, ?, ?)")
	require.Equal(t, []any{int64(42), "%silva%", int64(1), int64(2), int64(3)}, q.Args)
}

func TestCompileBoolCoercion(t *testing.T) {
	spec := listSpec()
	spec.Filters.Equals = map[string]intent.FilterColumn{
		"active": {Column: "FL_ATIVO", Coerce: "bool"},
	}

	for give, want := range map[any]any{"yes": "S", "no": "N", true: "S", "0": "N"} {
		q, err := Compile(spec, map[string]any{"active": give}, Options{}, nil)
		require.NoError(t, err)
		require.Equal(t, []any{want}, q.Args, "input %v", give)
	}
}

func TestCompileEnumCoercion(t *testing.T) {
	domains := intent.Domains{
		"order_status": {{Code: 3, Label: "invoiced"}, {Code: 5, Label: "cancelled"}},
	}
	spec := listSpec()
	spec.Filters.Equals = map[string]intent.FilterColumn{
		"status": {Column: "ID_STATUS", Coerce: "enum:order_status"},
	}

	q, err := Compile(spec, map[string]any{"status": "Invoiced"}, Options{}, domains)
	require.NoError(t, err)
	require.Equal(t, []any{3}, q.Args)

	_, err = Compile(spec, map[string]any{"status": "shipped"}, Options{}, domains)
	var selErr *SelectionError
	require.ErrorAs(t, err, &selErr)
	require.Equal(t, SelectionFilters, selErr.Kind)
	require.Equal(t, []string{"cancelled", "invoiced"}, selErr.Allowed)
}

func TestCompilePendingToggle(t *testing.T) {
	spec := listSpec()
	spec.Columns["amount_due"] = "VLR_TITULO"
	spec.Columns["amount_paid"] = "VLR_PAGO"
	spec.Filters.PendingOnly = true

	q, err := Compile(spec, nil, Options{}, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "COALESCE(t.VLR_PAGO,0) < COALESCE(t.VLR_TITULO,0)")
}

func TestCompileSettledToggleFallsBackToStatus(t *testing.T) {
	spec := listSpec()
	spec.Columns["status"] = "DS_STATUS"
	spec.Filters.SettledOnly = true
	spec.Filters.SettledStatus = "QUITADO"

	q, err := Compile(spec, nil, Options{}, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "t.DS_STATUS = ?")
	require.Equal(t, []any{"QUITADO"}, q.Args)
}

func TestCompileOrderDirectionOverride(t *testing.T) {
	spec := listSpec()
	spec.Order.By = []string{"t.DT_PVE DESC", "t.ID_PVE"}

	q, err := Compile(spec, nil, Options{Direction: "asc"}, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "ORDER BY t.DT_PVE ASC, t.ID_PVE ASC")
}

func TestCompileOrderFallbackColumn(t *testing.T) {
	spec := listSpec()
	spec.Order.FallbackColumn = "DT_EMISSAO"

	q, err := Compile(spec, nil, Options{Direction: "DESC"}, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "ORDER BY t.DT_EMISSAO DESC")
}

func TestCompileOrderPrefersPeriodColumn(t *testing.T) {
	spec := listSpec()
	spec.Filters.PeriodColumn = "DT"
	spec.Order.FallbackColumn = "DT_EMISSAO"

	q, err := Compile(spec, nil, Options{Direction: "DESC"}, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "ORDER BY t.DT DESC")
}

func TestCompileInvalidDirection(t *testing.T) {
	_, err := Compile(listSpec(), nil, Options{Direction: "SIDEWAYS"}, nil)
	var selErr *SelectionError
	require.ErrorAs(t, err, &selErr)
	require.Equal(t, SelectionOrdering, selErr.Kind)
}

func TestCompileGroupedShape(t *testing.T) {
	spec := listSpec()
	spec.Shape = intent.ShapeGrouped
	spec.Aggregation = intent.AggregationSpec{
		GroupBy: []string{"ID_ROTA"},
		Sum:     []string{"total"},
	}

	q, err := Compile(spec, nil, Options{}, nil)
	require.NoError(t, err)
	require.Equal(t,
		"SELECT t.ID_ROTA AS ID_ROTA, SUM(t.VALOR) AS sum_total, COUNT(*) AS total_rows FROM TABLE t GROUP BY t.ID_ROTA",
		q.SQL)
	require.Equal(t, intent.ShapeGrouped, q.Shape)
	require.NotContains(t, q.SQL, "LIMIT")
}

func TestCompileScalarShape(t *testing.T) {
	spec := listSpec()
	spec.Shape = intent.ShapeScalar
	spec.Aggregation.Sum = []string{"total"}

	q, err := Compile(spec, nil, Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, "SELECT SUM(t.VALOR) AS sum_total, COUNT(*) AS total_rows FROM TABLE t", q.SQL)
	require.Equal(t, intent.ShapeScalar, q.Shape)
}

func TestCompileLimitOverridePrecedence(t *testing.T) {
	q, err := Compile(listSpec(), map[string]any{"N": 50}, Options{Limit: 10}, nil)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(q.SQL, "LIMIT 10"))
}

func TestCompileLimitClampedToCeiling(t *testing.T) {
	spec := listSpec()
	spec.Rules.MaxLimit = 100

	q, err := Compile(spec, map[string]any{"N": 5000}, Options{}, nil)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(q.SQL, "LIMIT 100"))
}

func TestCompileUnbounded(t *testing.T) {
	spec := listSpec()
	q, err := Compile(spec, nil, Options{Unbounded: true}, nil)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "LIMIT", "unbounded requires intent opt-in")

	spec.Rules.AllowUnbounded = true
	q, err = Compile(spec, nil, Options{Unbounded: true}, nil)
	require.NoError(t, err)
	require.NotContains(t, q.SQL, "LIMIT")
}

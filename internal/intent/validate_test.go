package intent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validSpec() *Spec {
	return &Spec{
		Table: "PEDIDOS",
		Alias: "t",
		Columns: map[string]string{
			"id":    "ID_PVE",
			"total": "t.VLR_TOTAL",
		},
	}
}

func TestValidateAcceptsMinimalSpec(t *testing.T) {
	require.NoError(t, validSpec().Validate("orders.ok"))
}

func TestValidateRejectsEmptyColumns(t *testing.T) {
	spec := validSpec()
	spec.Columns = nil

	err := spec.Validate("orders.bad")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, cfgErr.Reason, "wildcard")
}

func TestValidateRejectsJoinWithoutOn(t *testing.T) {
	spec := validSpec()
	spec.Joins = []JoinSpec{{Table: "CLIENTES", Alias: "c"}}

	err := spec.Validate("orders.bad")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, cfgErr.Reason, "ON condition")
}

func TestValidateRejectsDanglingAlias(t *testing.T) {
	spec := validSpec()
	spec.Columns["customer"] = "c.NO_CLI"

	err := spec.Validate("orders.bad")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, cfgErr.Reason, "c")
	require.Contains(t, cfgErr.Reason, "undeclared aliases")
}

func TestValidateAcceptsDeclaredJoinAlias(t *testing.T) {
	spec := validSpec()
	spec.Joins = []JoinSpec{{Table: "CLIENTES", Alias: "c", On: "c.NU_CLI = t.NU_CLI"}}
	spec.Columns["customer"] = "c.NO_CLI"

	require.NoError(t, spec.Validate("orders.ok"))
}

func TestValidateFilterAliasSoundness(t *testing.T) {
	spec := validSpec()
	spec.Filters.Equals = map[string]FilterColumn{
		"customer": {Column: "x.NU_CLI"},
	}

	err := spec.Validate("orders.bad")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, cfgErr.Reason, "x")
}

func TestValidateRejectsUnknownCoercion(t *testing.T) {
	spec := validSpec()
	spec.Filters.Equals = map[string]FilterColumn{
		"flag": {Column: "FL_ATIVO", Coerce: "tristate"},
	}

	err := spec.Validate("orders.bad")
	require.Error(t, err)
	require.Contains(t, err.Error(), "tristate")
}

func TestValidateRejectsUnknownSumColumn(t *testing.T) {
	spec := validSpec()
	spec.Shape = ShapeScalar
	spec.Aggregation.Sum = []string{"missing"}

	err := spec.Validate("orders.bad")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing")
}

func TestValidateGroupedNeedsGroupBy(t *testing.T) {
	spec := validSpec()
	spec.Shape = ShapeGrouped

	err := spec.Validate("orders.bad")
	require.Error(t, err)
}

func TestNewCatalogFailsFast(t *testing.T) {
	broken := validSpec()
	broken.Columns = nil

	_, err := NewCatalog(map[string]*Spec{
		"a.ok":     validSpec(),
		"b.broken": broken,
	})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "b.broken", cfgErr.Intent)
}

func TestSpecDefaults(t *testing.T) {
	spec := &Spec{Table: "X", Columns: map[string]string{"id": "ID"}}
	require.Equal(t, "t", spec.PrimaryAlias())
	require.Equal(t, ShapeRows, spec.EffectiveShape())
	require.True(t, spec.RequireLimit())
	require.Equal(t, DefaultRowLimit, spec.DefaultLimit())

	off := false
	spec.Rules.RequireLimit = &off
	require.False(t, spec.RequireLimit())
}

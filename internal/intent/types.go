// Package intent holds the declarative query-intent catalog. An intent is the
// only query shape the engine will ever compile: its tables, joins, exposed
// columns, filters, ordering, limits, and masking policy are all declared up
// front and validated at load time.
package intent

import "fmt"

// Shape tags what a compiled intent returns.
type Shape string

const (
	// ShapeRows returns a plain row set projected from the declared columns.
	ShapeRows Shape = "rows"
	// ShapeGrouped returns one aggregate row per declared group.
	ShapeGrouped Shape = "grouped"
	// ShapeScalar returns a single aggregate row with no grouping.
	ShapeScalar Shape = "scalar"
)

// DefaultAlias qualifies bare column references when the spec declares none.
const DefaultAlias = "t"

// JoinSpec declares one join emitted in declaration order.
type JoinSpec struct {
	Table string `mapstructure:"table"`
	Alias string `mapstructure:"alias"`
	// Kind defaults to LEFT when empty.
	Kind string `mapstructure:"kind"`
	On   string `mapstructure:"on"`
}

// FilterColumn binds a parameter name to a physical column, with an optional
// semantic coercion applied to the supplied value.
type FilterColumn struct {
	Column string `mapstructure:"column"`
	// Coerce is one of "", "bool", "number", or "enum:<domain>".
	Coerce string `mapstructure:"coerce"`
}

// FilterSpec declares which parameters may narrow the query and how.
type FilterSpec struct {
	// PeriodColumn receives the inclusive data_ini/data_fim day-bound range.
	PeriodColumn string `mapstructure:"period_column"`

	Equals map[string]FilterColumn `mapstructure:"equals"`
	Like   map[string]FilterColumn `mapstructure:"like"`
	In     map[string]FilterColumn `mapstructure:"in"`

	// PendingOnly and SettledOnly compare the declared amount columns
	// (logical "amount_due" vs "amount_paid") through COALESCE; when the
	// intent lacks those columns the logical "status" column is compared
	// against SettledStatus instead.
	PendingOnly   bool   `mapstructure:"pending_only"`
	SettledOnly   bool   `mapstructure:"settled_only"`
	SettledStatus string `mapstructure:"settled_status"`
}

// AggregationSpec drives the grouped and scalar shapes.
type AggregationSpec struct {
	// GroupBy lists column expressions, qualified or bare.
	GroupBy []string `mapstructure:"group_by"`
	// Sum lists logical column names to aggregate with SUM().
	Sum []string `mapstructure:"sum"`
}

// OrderSpec declares the default ordering and the column used when a caller
// asks for a direction but the intent declares no ordering and no period
// filter. The fallback is per-intent configuration, never a global default.
type OrderSpec struct {
	By             []string `mapstructure:"by"`
	FallbackColumn string   `mapstructure:"fallback_column"`
}

// Rules carries the row-cap policy for an intent.
type Rules struct {
	DefaultLimit   int   `mapstructure:"default_limit"`
	MaxLimit       int   `mapstructure:"max_limit"`
	RequireLimit   *bool `mapstructure:"require_limit"`
	AllowUnbounded bool  `mapstructure:"allow_unbounded"`
}

// DefaultRowLimit applies when a row-set intent declares no default.
const DefaultRowLimit = 200

// Spec is one validated, immutable intent. Values are never mutated after the
// catalog is built; the catalog is shared read-only across request handlers.
type Spec struct {
	Name  string `mapstructure:"name"`
	Table string `mapstructure:"table"`
	Alias string `mapstructure:"alias"`
	Shape Shape  `mapstructure:"returns"`

	Joins   []JoinSpec        `mapstructure:"joins"`
	Columns map[string]string `mapstructure:"columns"`

	Filters     FilterSpec        `mapstructure:"filters"`
	Aggregation AggregationSpec   `mapstructure:"aggregation"`
	Order       OrderSpec         `mapstructure:"order"`
	Rules       Rules             `mapstructure:"rules"`
	Masking     map[string]string `mapstructure:"masking"`

	Enabled *bool `mapstructure:"enabled"`
}

// PrimaryAlias returns the declared alias or the default.
func (s *Spec) PrimaryAlias() string {
	if s.Alias == "" {
		return DefaultAlias
	}
	return s.Alias
}

// EffectiveShape returns the declared shape, defaulting to a row set.
func (s *Spec) EffectiveShape() Shape {
	if s.Shape == "" {
		return ShapeRows
	}
	return s.Shape
}

// RequireLimit reports whether row-set compilation must emit a row cap.
// Defaults to true; only an explicit false disables it.
func (s *Spec) RequireLimit() bool {
	if s.Rules.RequireLimit == nil {
		return s.EffectiveShape() == ShapeRows
	}
	return *s.Rules.RequireLimit
}

// DefaultLimit returns the intent default row cap.
func (s *Spec) DefaultLimit() int {
	if s.Rules.DefaultLimit > 0 {
		return s.Rules.DefaultLimit
	}
	return DefaultRowLimit
}

// ConfigError marks an intent spec as internally broken. Compilation must
// refuse to serve such an intent; the defect is in configuration, not in the
// caller's request.
type ConfigError struct {
	Intent string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("intent %q misconfigured: %s", e.Intent, e.Reason)
}

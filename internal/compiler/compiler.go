// Package compiler turns a validated intent spec plus a parameter map into a
// parameterized SQL statement. Compilation is pure and single-pass: it either
// produces a complete statement with its ordered argument list or fails with
// a typed error, before anything touches the store.
package compiler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/ferdnandolima/llm-sql-skeleton/internal/intent"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/period"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/sqlutil"
)

// Query is a compiled, ready-to-bind statement.
type Query struct {
	SQL   string
	Args  []any
	Shape intent.Shape
}

// Options carries per-request compilation inputs beyond the parameter map.
type Options struct {
	// Fields restricts the projection to a subset of declared logical
	// columns. Empty means all declared columns.
	Fields []string
	// Limit overrides the row cap; it wins over the N parameter and the
	// intent default.
	Limit int
	// Direction overrides the ordering direction (ASC or DESC).
	Direction string
	// Unbounded skips the row cap; honored only when the intent allows it.
	Unbounded bool
}

// Parameter names with engine-level meaning.
const (
	ParamPeriodStart = "data_ini"
	ParamPeriodEnd   = "data_fim"
	ParamRowCount    = "N"
)

var (
	identPattern     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	directionPattern = regexp.MustCompile(`(?i)\b(ASC|DESC)\b`)
	listSplitPattern = regexp.MustCompile(`[,\s]+`)
)

// Compile builds the statement for one intent. Identical inputs always yield
// byte-identical statement text and argument order.
func Compile(spec *intent.Spec, params map[string]any, opts Options, domains intent.Domains) (Query, error) {
	if err := spec.Validate(spec.Name); err != nil {
		return Query{}, err
	}

	shape := spec.EffectiveShape()
	alias := spec.PrimaryAlias()

	selectParts, err := buildProjection(spec, opts.Fields)
	if err != nil {
		return Query{}, err
	}

	builder := sq.Select(selectParts...).From(spec.Table + " " + alias)
	for _, j := range spec.Joins {
		builder = builder.JoinClause(joinClause(j))
	}

	builder, err = applyFilters(builder, spec, params, domains)
	if err != nil {
		return Query{}, err
	}

	if shape == intent.ShapeGrouped {
		groups := make([]string, len(spec.Aggregation.GroupBy))
		for i, g := range spec.Aggregation.GroupBy {
			groups[i] = qualify(alias, g)
		}
		builder = builder.GroupBy(groups...)
	}

	builder, err = applyOrdering(builder, spec, opts.Direction)
	if err != nil {
		return Query{}, err
	}

	sqlText, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return Query{}, fmt.Errorf("statement assembly: %w", err)
	}

	if shape == intent.ShapeRows && spec.RequireLimit() && !(opts.Unbounded && spec.Rules.AllowUnbounded) {
		sqlText = sqlutil.EnsureLimit(sqlText, rowCap(spec, params, opts))
	}

	return Query{SQL: sqlText, Args: args, Shape: shape}, nil
}

// buildProjection emits the SELECT list for the spec's shape. Row sets project
// the declared logical columns (or the caller's subset); aggregate shapes emit
// the group columns, one SUM per declared numeric column, and a count.
func buildProjection(spec *intent.Spec, fields []string) ([]string, error) {
	alias := spec.PrimaryAlias()

	switch spec.EffectiveShape() {
	case intent.ShapeRows:
		logical := sortedKeys(spec.Columns)
		if len(fields) > 0 {
			var invalid []string
			for _, f := range fields {
				if _, ok := spec.Columns[f]; !ok {
					invalid = append(invalid, f)
				}
			}
			if len(invalid) > 0 {
				sort.Strings(invalid)
				return nil, &SelectionError{
					Intent:  spec.Name,
					Kind:    SelectionFields,
					Invalid: invalid,
					Allowed: logical,
				}
			}
			logical = append([]string(nil), fields...)
		}
		parts := make([]string, len(logical))
		for i, name := range logical {
			parts[i] = qualify(alias, spec.Columns[name]) + " AS " + outputAlias(name)
		}
		return parts, nil

	case intent.ShapeGrouped:
		parts := make([]string, 0, len(spec.Aggregation.GroupBy)+len(spec.Aggregation.Sum)+1)
		for _, g := range spec.Aggregation.GroupBy {
			parts = append(parts, qualify(alias, g)+" AS "+outputAlias(baseColumn(g)))
		}
		parts = append(parts, sumProjections(spec)...)
		parts = append(parts, "COUNT(*) AS total_rows")
		return parts, nil

	case intent.ShapeScalar:
		parts := append(sumProjections(spec), "COUNT(*) AS total_rows")
		return parts, nil
	}
	return nil, &intent.ConfigError{Intent: spec.Name, Reason: fmt.Sprintf("unknown return shape %q", spec.Shape)}
}

func sumProjections(spec *intent.Spec) []string {
	alias := spec.PrimaryAlias()
	parts := make([]string, 0, len(spec.Aggregation.Sum))
	for _, logical := range spec.Aggregation.Sum {
		physical := spec.Columns[logical]
		parts = append(parts, "SUM("+qualify(alias, physical)+") AS "+outputAlias("sum_"+logical))
	}
	return parts
}

func joinClause(j intent.JoinSpec) string {
	kind := strings.ToUpper(strings.TrimSpace(j.Kind))
	if kind == "" {
		kind = "LEFT"
	}
	clause := kind + " JOIN " + j.Table
	if j.Alias != "" {
		clause += " " + j.Alias
	}
	return clause + " ON " + j.On
}

// applyFilters assembles the WHERE clause in a fixed order: period range,
// pending/settled toggles, then the equality, LIKE, and IN maps each in
// sorted parameter order. The fixed order keeps compilation deterministic.
func applyFilters(builder sq.SelectBuilder, spec *intent.Spec, params map[string]any, domains intent.Domains) (sq.SelectBuilder, error) {
	alias := spec.PrimaryAlias()

	if col := spec.Filters.PeriodColumn; col != "" {
		start, startOK := stringParam(params, ParamPeriodStart)
		end, endOK := stringParam(params, ParamPeriodEnd)
		if startOK && endOK {
			builder = builder.Where(sq.Expr(
				qualify(alias, col)+" BETWEEN ? AND ?",
				period.NormalizeStart(start), period.NormalizeEnd(end),
			))
		}
	}

	builder = applyBalanceToggles(builder, spec)

	for _, param := range sortedKeys(spec.Filters.Equals) {
		fc := spec.Filters.Equals[param]
		value, ok := presentParam(params, param)
		if !ok {
			continue
		}
		coerced, err := coerceValue(spec, param, fc.Coerce, value, domains)
		if err != nil {
			return builder, err
		}
		builder = builder.Where(sq.Expr(qualify(alias, fc.Column)+" = ?", coerced))
	}

	for _, param := range sortedKeys(spec.Filters.Like) {
		fc := spec.Filters.Like[param]
		value, ok := presentParam(params, param)
		if !ok {
			continue
		}
		needle := strings.TrimSpace(fmt.Sprint(value))
		if needle == "" {
			continue
		}
		builder = builder.Where(sq.Expr(qualify(alias, fc.Column)+" LIKE ?", "%"+needle+"%"))
	}

	for _, param := range sortedKeys(spec.Filters.In) {
		fc := spec.Filters.In[param]
		value, ok := presentParam(params, param)
		if !ok {
			continue
		}
		items := tokenizeList(value)
		if len(items) == 0 {
			continue
		}
		coerced := make([]any, 0, len(items))
		for _, item := range items {
			cv, err := coerceValue(spec, param, fc.Coerce, item, domains)
			if err != nil {
				return builder, err
			}
			coerced = append(coerced, cv)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(coerced)), ", ")
		builder = builder.Where(sq.Expr(
			qualify(alias, fc.Column)+" IN ("+placeholders+")", coerced...,
		))
	}

	return builder, nil
}

// applyBalanceToggles emits the pending/settled comparison. When the intent
// declares both amount columns the toggle compares them through COALESCE;
// otherwise it falls back to an equality test on the status column.
func applyBalanceToggles(builder sq.SelectBuilder, spec *intent.Spec) sq.SelectBuilder {
	if !spec.Filters.PendingOnly && !spec.Filters.SettledOnly {
		return builder
	}
	alias := spec.PrimaryAlias()
	due, hasDue := spec.Columns["amount_due"]
	paid, hasPaid := spec.Columns["amount_paid"]
	status, hasStatus := spec.Columns["status"]

	op := ">="
	cmp := "="
	if spec.Filters.PendingOnly {
		op = "<"
		cmp = "<>"
	}

	if hasDue && hasPaid {
		return builder.Where(sq.Expr(fmt.Sprintf(
			"COALESCE(%s,0) %s COALESCE(%s,0)",
			qualify(alias, paid), op, qualify(alias, due),
		)))
	}
	if hasStatus {
		settled := spec.Filters.SettledStatus
		if settled == "" {
			settled = "PAID"
		}
		return builder.Where(sq.Expr(qualify(alias, status)+" "+cmp+" ?", settled))
	}
	return builder
}

func applyOrdering(builder sq.SelectBuilder, spec *intent.Spec, direction string) (sq.SelectBuilder, error) {
	dir := strings.ToUpper(strings.TrimSpace(direction))
	if dir != "" && dir != "ASC" && dir != "DESC" {
		return builder, &SelectionError{
			Intent:  spec.Name,
			Kind:    SelectionOrdering,
			Invalid: []string{direction},
			Allowed: []string{"ASC", "DESC"},
		}
	}

	if len(spec.Order.By) > 0 {
		entries := make([]string, len(spec.Order.By))
		for i, entry := range spec.Order.By {
			if dir == "" {
				entries[i] = entry
				continue
			}
			if directionPattern.MatchString(entry) {
				entries[i] = directionPattern.ReplaceAllString(entry, dir)
			} else {
				entries[i] = entry + " " + dir
			}
		}
		return builder.OrderBy(entries...), nil
	}

	if dir != "" {
		base := spec.Filters.PeriodColumn
		if base == "" {
			base = spec.Order.FallbackColumn
		}
		if base != "" {
			return builder.OrderBy(qualify(spec.PrimaryAlias(), base) + " " + dir), nil
		}
	}
	return builder, nil
}

// rowCap picks the emitted LIMIT: explicit override, then the N parameter,
// then the intent default, clamped to the intent ceiling when one exists.
func rowCap(spec *intent.Spec, params map[string]any, opts Options) int {
	limit := 0
	if opts.Limit > 0 {
		limit = opts.Limit
	} else if n, ok := intParam(params, ParamRowCount); ok && n > 0 {
		limit = n
	} else {
		limit = spec.DefaultLimit()
	}
	if spec.Rules.MaxLimit > 0 && limit > spec.Rules.MaxLimit {
		limit = spec.Rules.MaxLimit
	}
	return limit
}

func coerceValue(spec *intent.Spec, param, coerce string, value any, domains intent.Domains) (any, error) {
	switch {
	case coerce == "bool":
		return coerceBool(value), nil
	case coerce == "number":
		if n, ok := toInt64(value); ok {
			return n, nil
		}
		return value, nil
	case strings.HasPrefix(coerce, "enum:"):
		domain := strings.TrimPrefix(coerce, "enum:")
		code, ok := domains.Coerce(domain, value)
		if !ok {
			return nil, &SelectionError{
				Intent:  spec.Name,
				Kind:    SelectionFilters,
				Invalid: []string{fmt.Sprintf("%s=%v", param, value)},
				Allowed: domainLabels(domains, domain),
			}
		}
		return code, nil
	default:
		return value, nil
	}
}

var (
	boolTrue  = map[string]struct{}{"s": {}, "sim": {}, "y": {}, "yes": {}, "true": {}, "1": {}}
	boolFalse = map[string]struct{}{"n": {}, "nao": {}, "no": {}, "false": {}, "0": {}}
)

func coerceBool(value any) any {
	if b, ok := value.(bool); ok {
		if b {
			return "S"
		}
		return "N"
	}
	s := strings.ToLower(strings.TrimSpace(fmt.Sprint(value)))
	if _, ok := boolTrue[s]; ok {
		return "S"
	}
	if _, ok := boolFalse[s]; ok {
		return "N"
	}
	if up := strings.ToUpper(s); up == "S" || up == "N" {
		return up
	}
	return value
}

func domainLabels(domains intent.Domains, domain string) []string {
	items := domains[domain]
	labels := make([]string, 0, len(items))
	for _, item := range items {
		labels = append(labels, item.Label)
	}
	sort.Strings(labels)
	return labels
}

// qualify prefixes bare column names with the alias; dotted expressions pass
// through unchanged.
func qualify(alias, column string) string {
	if strings.Contains(column, ".") {
		return column
	}
	return alias + "." + column
}

// outputAlias quotes logical names only when they are not plain identifiers,
// so ordinary projections stay readable.
func outputAlias(name string) string {
	if identPattern.MatchString(name) {
		return name
	}
	return sqlutil.QuoteIdentifier(name)
}

// baseColumn strips an alias prefix from a column expression.
func baseColumn(expr string) string {
	expr = strings.TrimSpace(expr)
	if i := strings.LastIndex(expr, "."); i >= 0 {
		return expr[i+1:]
	}
	return expr
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func presentParam(params map[string]any, name string) (any, bool) {
	value, ok := params[name]
	if !ok || value == nil {
		return nil, false
	}
	if s, isStr := value.(string); isStr && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return value, true
}

func stringParam(params map[string]any, name string) (string, bool) {
	value, ok := presentParam(params, name)
	if !ok {
		return "", false
	}
	return fmt.Sprint(value), true
}

func intParam(params map[string]any, name string) (int, bool) {
	value, ok := presentParam(params, name)
	if !ok {
		return 0, false
	}
	n, ok := toInt64(value)
	return int(n), ok
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		var n int64
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

func tokenizeList(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		var out []any
		for _, tok := range listSplitPattern.Split(strings.TrimSpace(fmt.Sprint(v)), -1) {
			if tok != "" {
				out = append(out, tok)
			}
		}
		return out
	}
}

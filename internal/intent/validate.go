package intent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var aliasRefPattern = regexp.MustCompile(`\b([A-Za-z_]\w*)\.`)

// aliasesIn extracts every "alias." prefix referenced by an expression.
func aliasesIn(expr string, into map[string]struct{}) {
	for _, m := range aliasRefPattern.FindAllStringSubmatch(expr, -1) {
		into[m[1]] = struct{}{}
	}
}

// DeclaredAliases returns the primary alias plus every join alias that carries
// an ON condition. A join alias without ON is not considered declared, so a
// reference to it fails alias soundness instead of reaching the store.
func (s *Spec) DeclaredAliases() map[string]struct{} {
	declared := map[string]struct{}{s.PrimaryAlias(): {}}
	for _, j := range s.Joins {
		if j.Alias != "" && j.Table != "" && j.On != "" {
			declared[j.Alias] = struct{}{}
		}
	}
	return declared
}

// referencedAliases collects every alias used across column, filter, period,
// and ordering expressions.
func (s *Spec) referencedAliases() map[string]struct{} {
	used := make(map[string]struct{})
	for _, expr := range s.Columns {
		aliasesIn(expr, used)
	}
	for _, fc := range s.Filters.Equals {
		aliasesIn(fc.Column, used)
	}
	for _, fc := range s.Filters.Like {
		aliasesIn(fc.Column, used)
	}
	for _, fc := range s.Filters.In {
		aliasesIn(fc.Column, used)
	}
	if s.Filters.PeriodColumn != "" {
		aliasesIn(s.Filters.PeriodColumn, used)
	}
	for _, expr := range s.Order.By {
		aliasesIn(expr, used)
	}
	for _, expr := range s.Aggregation.GroupBy {
		aliasesIn(expr, used)
	}
	return used
}

// Validate checks the spec's internal consistency. Any failure is a
// ConfigError: the intent must not be served until its configuration is fixed.
func (s *Spec) Validate(key string) error {
	if s.Table == "" {
		return &ConfigError{Intent: key, Reason: "missing table"}
	}

	shape := s.EffectiveShape()
	switch shape {
	case ShapeRows, ShapeGrouped, ShapeScalar:
	default:
		return &ConfigError{Intent: key, Reason: fmt.Sprintf("unknown return shape %q", s.Shape)}
	}

	if shape == ShapeRows && len(s.Columns) == 0 {
		return &ConfigError{Intent: key, Reason: "no columns declared (wildcard projection is forbidden)"}
	}
	if shape == ShapeGrouped && len(s.Aggregation.GroupBy) == 0 {
		return &ConfigError{Intent: key, Reason: "grouped shape declares no group_by columns"}
	}

	for _, j := range s.Joins {
		if j.Alias != "" && j.On == "" {
			return &ConfigError{Intent: key, Reason: fmt.Sprintf("join %q has an alias but no ON condition", j.Alias)}
		}
		if j.Table == "" {
			return &ConfigError{Intent: key, Reason: "join declares no table"}
		}
	}

	declared := s.DeclaredAliases()
	var dangling []string
	for alias := range s.referencedAliases() {
		if _, ok := declared[alias]; !ok {
			dangling = append(dangling, alias)
		}
	}
	if len(dangling) > 0 {
		sort.Strings(dangling)
		return &ConfigError{
			Intent: key,
			Reason: fmt.Sprintf("expressions reference undeclared aliases %v", dangling),
		}
	}

	for param, fc := range allFilterColumns(s) {
		if fc.Column == "" {
			return &ConfigError{Intent: key, Reason: fmt.Sprintf("filter %q declares no column", param)}
		}
		if err := validateCoercion(fc.Coerce); err != nil {
			return &ConfigError{Intent: key, Reason: fmt.Sprintf("filter %q: %v", param, err)}
		}
	}

	for _, logical := range s.Aggregation.Sum {
		if _, ok := s.Columns[logical]; !ok {
			return &ConfigError{Intent: key, Reason: fmt.Sprintf("sum column %q is not a declared logical column", logical)}
		}
	}

	if s.Rules.MaxLimit > 0 && s.Rules.DefaultLimit > s.Rules.MaxLimit {
		return &ConfigError{Intent: key, Reason: "default_limit exceeds max_limit"}
	}

	return nil
}

func allFilterColumns(s *Spec) map[string]FilterColumn {
	all := make(map[string]FilterColumn)
	for param, fc := range s.Filters.Equals {
		all["equals."+param] = fc
	}
	for param, fc := range s.Filters.Like {
		all["like."+param] = fc
	}
	for param, fc := range s.Filters.In {
		all["in."+param] = fc
	}
	return all
}

func validateCoercion(coerce string) error {
	switch {
	case coerce == "", coerce == "bool", coerce == "number":
		return nil
	case strings.HasPrefix(coerce, "enum:") && len(coerce) > len("enum:"):
		return nil
	default:
		return fmt.Errorf("unknown coercion class %q", coerce)
	}
}

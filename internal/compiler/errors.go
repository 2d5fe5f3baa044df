package compiler

import (
	"fmt"
	"strings"
)

// SelectionKind identifies which part of the request fell outside the
// intent's declared surface.
type SelectionKind string

const (
	// SelectionFields marks an invalid explicit field selection.
	SelectionFields SelectionKind = "fields"
	// SelectionFilters marks a filter value the intent cannot accept.
	SelectionFilters SelectionKind = "filters"
	// SelectionOrdering marks an invalid ordering request.
	SelectionOrdering SelectionKind = "ordering"
)

// SelectionError is a client-correctable rejection: the caller asked for
// something outside the intent's declared surface. It carries both the
// offending names and the allowed set so callers can self-correct.
type SelectionError struct {
	Intent  string
	Kind    SelectionKind
	Invalid []string
	Allowed []string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("intent %q: invalid %s %v (allowed: %s)",
		e.Intent, e.Kind, e.Invalid, strings.Join(e.Allowed, ", "))
}

package intent

import (
	"fmt"
	"sort"
)

// Catalog is the validated, immutable set of intents for the process. Build
// it once at startup and share it by reference; it is safe for concurrent
// reads because nothing mutates it after construction.
type Catalog struct {
	specs map[string]*Spec
}

// NewCatalog validates every spec eagerly and fails fast on the first broken
// one, so a misconfigured intent can never be served mid-request.
func NewCatalog(specs map[string]*Spec) (*Catalog, error) {
	keys := make([]string, 0, len(specs))
	for key := range specs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		spec := specs[key]
		if spec.Name == "" {
			spec.Name = key
		}
		if err := spec.Validate(key); err != nil {
			return nil, err
		}
	}
	return &Catalog{specs: specs}, nil
}

// Get returns the spec registered under key.
func (c *Catalog) Get(key string) (*Spec, bool) {
	spec, ok := c.specs[key]
	return spec, ok
}

// Keys returns every intent key in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.specs))
	for key := range c.specs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered intents.
func (c *Catalog) Len() int {
	return len(c.specs)
}

// Each calls fn for every intent in sorted key order.
func (c *Catalog) Each(fn func(key string, spec *Spec)) {
	for _, key := range c.Keys() {
		fn(key, c.specs[key])
	}
}

// ErrUnknownIntent reports a request for an intent the catalog does not hold.
type ErrUnknownIntent struct {
	Intent string
	Known  []string
}

func (e *ErrUnknownIntent) Error() string {
	return fmt.Sprintf("unknown intent %q", e.Intent)
}

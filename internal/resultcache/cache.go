// Package resultcache is a small TTL cache for fully masked query results.
// Entries are written only after a complete, successful execution, so a cache
// hit is always safe to serve verbatim.
package resultcache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// evictBatch is how many of the oldest entries are dropped when the cache is
// full. Approximate-oldest is fine here: guarded data is small metadata and
// precision buys nothing.
const evictBatch = 10

// Key derives a stable cache key from the tenant, the statement text, and the
// bind arguments. Identical inputs always produce the same key.
func Key(tenant, sqlText string, args []any) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s||%s||%s", tenant, strings.TrimSpace(sqlText), canonicalArgs(args))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalArgs renders the argument list as compact JSON so equal values
// hash equally regardless of their Go representation.
func canonicalArgs(args []any) string {
	if len(args) == 0 {
		return "[]"
	}
	rendered := make([]string, len(args))
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			rendered[i] = fmt.Sprintf("%q", fmt.Sprint(arg))
			continue
		}
		rendered[i] = string(b)
	}
	return "[" + strings.Join(rendered, ",") + "]"
}

type entry struct {
	expiresAt time.Time
	value     any
}

// Cache is a bounded TTL cache shared by concurrent request handlers. All
// access is serialized behind one mutex.
type Cache struct {
	mu       sync.Mutex
	maxItems int
	ttl      time.Duration
	data     map[string]entry
	now      func() time.Time
}

// New builds a cache holding at most maxItems entries, each living for ttl.
// A non-positive ttl disables the cache entirely.
func New(maxItems int, ttl time.Duration) *Cache {
	if maxItems <= 0 {
		maxItems = 256
	}
	return &Cache{
		maxItems: maxItems,
		ttl:      ttl,
		data:     make(map[string]entry),
		now:      time.Now,
	}
}

// Get returns the cached value for key, or false when the entry is missing or
// expired. Expired entries are removed on access.
func (c *Cache) Get(key string) (any, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		return nil, false
	}
	if e.expiresAt.Before(c.now()) {
		delete(c.data, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. When the cache is full the oldest entries are
// evicted in a batch before the insert.
func (c *Cache) Set(key string, value any) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.data) >= c.maxItems {
		c.evictOldestLocked()
	}
	c.data[key] = entry{expiresAt: c.now().Add(c.ttl), value: value}
}

// Len reports the current entry count, expired entries included.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *Cache) evictOldestLocked() {
	type aged struct {
		key       string
		expiresAt time.Time
	}
	all := make([]aged, 0, len(c.data))
	for key, e := range c.data {
		all = append(all, aged{key: key, expiresAt: e.expiresAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].expiresAt.Before(all[j].expiresAt) })

	n := evictBatch
	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		delete(c.data, a.key)
	}
}

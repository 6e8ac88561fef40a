package module

import (
	"sort"
	"sync"
	"time"

	"github.com/yakovlev-alexey/hot-keeper/internal/pathset"
)

// Record is one loaded source file.
type Record struct {
	Path     string
	Artifact string
	LoadedAt time.Time
}

// Cache maps resolved source file paths to the artifact they were loaded
// from. Invalidation only ever removes records; the loader adds them.
type Cache struct {
	mu      sync.Mutex
	records map[string]Record
	// symbols holds the opened export per artifact so an entry whose records
	// survived invalidation can be served again without rebuilding.
	symbols map[string]any
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		records: make(map[string]Record),
		symbols: make(map[string]any),
	}
}

// Record stores records for the given paths, all pointing at artifact.
func (c *Cache) Record(artifact string, symbol any, loadedAt time.Time, paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		c.records[p] = Record{Path: p, Artifact: artifact, LoadedAt: loadedAt}
	}
	c.symbols[artifact] = symbol
}

// Lookup returns the record for path and the symbol of its artifact.
func (c *Cache) Lookup(path string) (Record, any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[path]
	if !ok {
		return Record{}, nil, false
	}
	sym, ok := c.symbols[r.Artifact]
	return r, sym, ok
}

// Keys returns every recorded path, sorted.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.records))
	for k := range c.records {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Len returns the number of records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Forget removes the given paths and drops symbols no record points at.
// It returns the number of records removed.
func (c *Cache) Forget(paths ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, p := range paths {
		if _, ok := c.records[p]; ok {
			delete(c.records, p)
			removed++
		}
	}

	live := make(map[string]struct{}, len(c.symbols))
	for _, r := range c.records {
		live[r.Artifact] = struct{}{}
	}
	for artifact := range c.symbols {
		if _, ok := live[artifact]; !ok {
			delete(c.symbols, artifact)
		}
	}
	return removed
}

// Invalidate returns the keys that must be forgotten before the next load:
// those under a watch directory and under no exclude directory.
func Invalidate(set pathset.Set, keys []string) []string {
	var out []string
	for _, k := range keys {
		if set.Covers(k) {
			out = append(out, k)
		}
	}
	return out
}

// InvalidateCache applies Invalidate to c and returns the removed keys.
func InvalidateCache(c *Cache, set pathset.Set) []string {
	removed := Invalidate(set, c.Keys())
	c.Forget(removed...)
	return removed
}

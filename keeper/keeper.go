// Package keeper holds values that survive hot reloads.
//
// The supervisor never reloads this package, so anything an application
// stores with Keep is still there after its code has been rebuilt and
// reopened. Import it from application code; it has no dependency on the
// supervisor itself.
package keeper

import (
	"sort"
	"sync"
)

// Store is a keyed map of arbitrary values with no eviction.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{values: make(map[string]any)}
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Get returns the value under key, or def if the key was never set.
func (s *Store) Get(key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok {
		return v
	}
	return def
}

// Has reports whether key was set.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	_, ok := s.values[key]
	s.mu.RUnlock()
	return ok
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// process is created once at package init and lives until the process exits.
var process = NewStore()

// Default returns the process-wide store used by Keep and Kept.
func Default() *Store {
	return process
}

// Keep stores value under key in the process-wide store.
func Keep(key string, value any) {
	process.Set(key, value)
}

// Kept returns the value kept under key, or def if there is none.
func Kept(key string, def any) any {
	return process.Get(key, def)
}

// KeptAs returns the value kept under key when it holds a T, otherwise def.
func KeptAs[T any](key string, def T) T {
	v, ok := process.Get(key, nil).(T)
	if !ok {
		return def
	}
	return v
}

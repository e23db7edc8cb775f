package memory

import (
	"sort"
	"sync"
)

// IdentifierSet is a duplicate-free collection of canonical identifiers. The
// set serializes its own mutation so workers can insert concurrently.
type IdentifierSet struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

// NewIdentifierSet constructs an empty set.
func NewIdentifierSet() *IdentifierSet {
	return &IdentifierSet{
		items: make(map[string]struct{}),
	}
}

// Add inserts id and reports whether it was new. Re-inserting is a no-op.
func (s *IdentifierSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; exists {
		return false
	}
	s.items[id] = struct{}{}
	return true
}

// Contains reports whether id is present.
func (s *IdentifierSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[id]
	return ok
}

// Len returns the number of distinct identifiers.
func (s *IdentifierSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Sorted returns a lexicographically ordered copy of the contents.
func (s *IdentifierSet) Sorted() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.items))
	for id := range s.items {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

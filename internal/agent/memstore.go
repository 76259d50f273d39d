package agent

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is a thread-safe in-memory Store, used for tests and for
// directories loaded from YAML files.
type MemStore struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{defs: make(map[string]Definition)}
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, id string) (Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	if !ok {
		return Definition{}, ErrNotFound
	}
	return def, nil
}

// List implements Store.
func (s *MemStore) List(context.Context) ([]Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Definition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Upsert implements Store.
func (s *MemStore) Upsert(_ context.Context, def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.defs[def.ID]; ok {
		def.CreatedAt = existing.CreatedAt
	} else {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	s.defs[def.ID] = def
	return nil
}

// Delete implements Store.
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.defs, id)
	return nil
}

// Replace swaps the whole directory in one step. Used by the config watcher
// when the YAML definitions change on disk.
func (s *MemStore) Replace(defs []Definition) {
	next := make(map[string]Definition, len(defs))
	now := time.Now()
	for _, def := range defs {
		def.UpdatedAt = now
		next[def.ID] = def
	}
	s.mu.Lock()
	s.defs = next
	s.mu.Unlock()
}

package tablestore

import (
	"context"
	"sync"
)

// MemoryStore is a thread-safe, in-process Store for tests and demos.
type MemoryStore struct {
	mu     sync.RWMutex
	table  Table
	writes int
}

// NewMemoryStore returns a store holding a copy of seed.
func NewMemoryStore(seed Table) *MemoryStore {
	return &MemoryStore{table: cloneTable(seed)}
}

func (s *MemoryStore) ReadAll(_ context.Context) (Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTable(s.table), nil
}

func (s *MemoryStore) WriteAll(_ context.Context, t Table) error {
	s.mu.Lock()
	s.table = cloneTable(t)
	s.writes++
	s.mu.Unlock()
	return nil
}

// Writes returns how many times WriteAll has been called.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func cloneTable(t Table) Table {
	out := Table{Columns: append([]string(nil), t.Columns...)}
	if t.Rows != nil {
		out.Rows = make([]Record, len(t.Rows))
		for i, r := range t.Rows {
			out.Rows[i] = r.Clone()
		}
	}
	return out
}

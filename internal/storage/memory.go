package storage

import (
	"context"
	"sync"

	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// MemoryStore keeps rows in a map. It backs tests and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]types.ProductRow
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]types.ProductRow)}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) ExistsByKey(_ context.Context, article string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[article]
	return ok, nil
}

func (s *MemoryStore) InsertRow(_ context.Context, row types.ProductRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[row.Article]; ok {
		return duplicateErr("memory", row.Article)
	}
	s.rows[row.Article] = row
	return nil
}

// Rows returns a copy of the stored rows.
func (s *MemoryStore) Rows() []types.ProductRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ProductRow, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	return out
}

// Len returns the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *MemoryStore) Close() error { return nil }

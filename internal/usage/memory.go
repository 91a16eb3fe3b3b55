package usage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemStore is an in-memory usage store for tests and single-process
// development runs.
type MemStore struct {
	mu   sync.Mutex
	rows []Row
}

// NewMemStore creates an empty in-memory usage store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Insert writes one usage row.
func (s *MemStore) Insert(ctx context.Context, row *Row) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, *row)
	return nil
}

// Rows returns all inserted rows in insert order.
func (s *MemStore) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, len(s.rows))
	copy(out, s.rows)
	return out
}

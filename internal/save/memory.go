package save

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory Store for tests and single-process dev runs.
type MemStore struct {
	mu    sync.RWMutex
	saves map[string]Save
}

// NewMemStore creates an empty in-memory save store.
func NewMemStore() *MemStore {
	return &MemStore{saves: make(map[string]Save)}
}

func (s *MemStore) GetByID(_ context.Context, id string) (*Save, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sv, ok := s.saves[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := sv
	return &out, nil
}

func (s *MemStore) Create(_ context.Context, id, userID, title string) (*Save, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.saves[id]; ok {
		return nil, fmt.Errorf("save: create %q: already exists", id)
	}
	now := time.Now()
	sv := Save{ID: id, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	s.saves[id] = sv
	out := sv
	return &out, nil
}

func (s *MemStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sv, ok := s.saves[id]
	if !ok || sv.DeletedAt != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := time.Now()
	sv.DeletedAt = &now
	sv.UpdatedAt = now
	s.saves[id] = sv
	return nil
}

// Package save provides the save-ownership lookup the session layer
// consumes. Saves are created and managed by the main application; the
// relay only needs to know who owns a save and whether it still exists.
// A soft-deleted save refuses new sessions but keeps its stream data.
package save

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fablehq/fable-relay/internal/database"
)

// Sentinel errors for save resolution. All three close a connecting
// session with a policy violation.
var (
	ErrNotFound = errors.New("save: not found")
	ErrDeleted  = errors.New("save: deleted")
	ErrNotOwner = errors.New("save: not owned by user")
)

// Save represents a user-owned story session.
type Save struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Store looks up and maintains save rows. The PostgreSQL binding is the
// production one; the memory binding backs tests and the synthetic dev
// setup.
type Store interface {
	// GetByID returns the save, including soft-deleted rows (the caller
	// decides how deletion surfaces). Returns ErrNotFound if no row.
	GetByID(ctx context.Context, id string) (*Save, error)

	// Create inserts a new save owned by userID.
	Create(ctx context.Context, id, userID, title string) (*Save, error)

	// SoftDelete marks a save deleted. Returns ErrNotFound if no row.
	SoftDelete(ctx context.Context, id string) error
}

// PGStore provides save operations backed by PostgreSQL.
type PGStore struct {
	db *database.DB
}

// NewPGStore creates a save store over the shared pool.
func NewPGStore(db *database.DB) *PGStore {
	return &PGStore{db: db}
}

// GetByID returns a save by id. Returns ErrNotFound if no save matches.
func (s *PGStore) GetByID(ctx context.Context, id string) (*Save, error) {
	var sv Save
	err := s.db.Pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at, updated_at, deleted_at
		 FROM saves WHERE id = $1`,
		id,
	).Scan(&sv.ID, &sv.UserID, &sv.Title, &sv.CreatedAt, &sv.UpdatedAt, &sv.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("save: get %q: %w", id, err)
	}
	return &sv, nil
}

// Create inserts a new save.
func (s *PGStore) Create(ctx context.Context, id, userID, title string) (*Save, error) {
	var sv Save
	err := s.db.Pool.QueryRow(ctx,
		`INSERT INTO saves (id, user_id, title) VALUES ($1, $2, $3)
		 RETURNING id, user_id, title, created_at, updated_at, deleted_at`,
		id, userID, title,
	).Scan(&sv.ID, &sv.UserID, &sv.Title, &sv.CreatedAt, &sv.UpdatedAt, &sv.DeletedAt)
	if err != nil {
		return nil, fmt.Errorf("save: create %q: %w", id, err)
	}
	return &sv, nil
}

// SoftDelete marks a save deleted without removing its stream data.
func (s *PGStore) SoftDelete(ctx context.Context, id string) error {
	result, err := s.db.Pool.Exec(ctx,
		`UPDATE saves SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id)
	if err != nil {
		return fmt.Errorf("save: soft delete %q: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

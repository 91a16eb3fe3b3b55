// Package usage records per-stream LLM accounting rows. One row is
// written for every chat stream execution, whether it succeeded, failed
// upstream, or was interrupted. The row is written after the stream
// terminates and before the closing frame goes out on the socket, so
// billing never depends on the client still being connected.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fablehq/fable-relay/internal/database"
)

// Row is one chat stream execution. Token counts are pointers because
// providers report them opportunistically: the synthetic backend never
// does, and vendor streams only in their final chunk.
type Row struct {
	ID               uuid.UUID
	UserID           string
	SaveID           string
	Provider         string
	API              string
	Model            string
	StartedAt        time.Time
	EndedAt          time.Time
	LatencyMs        int64
	TTFTMs           *int64
	OutputChunks     int
	OutputChars      int
	Interrupted      bool
	Error            *string
	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
}

// Store persists usage rows.
type Store interface {
	// Insert writes one row. A zero ID is assigned before the write.
	Insert(ctx context.Context, row *Row) error
}

// PGStore provides usage accounting backed by PostgreSQL.
type PGStore struct {
	db *database.DB
}

// NewPGStore creates a usage store over the shared pool.
func NewPGStore(db *database.DB) *PGStore {
	return &PGStore{db: db}
}

// Insert writes one usage row.
func (s *PGStore) Insert(ctx context.Context, row *Row) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO llm_usage (
		     id, user_id, save_id, provider, api, model,
		     started_at, ended_at, latency_ms, ttft_ms,
		     output_chunks, output_chars, interrupted, error,
		     prompt_tokens, completion_tokens, total_tokens
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		row.ID, row.UserID, row.SaveID, row.Provider, row.API, row.Model,
		row.StartedAt, row.EndedAt, row.LatencyMs, row.TTFTMs,
		row.OutputChunks, row.OutputChars, row.Interrupted, row.Error,
		row.PromptTokens, row.CompletionTokens, row.TotalTokens,
	)
	if err != nil {
		return fmt.Errorf("usage: insert %s/%s: %w", row.UserID, row.SaveID, err)
	}
	return nil
}

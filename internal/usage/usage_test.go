package usage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreInsertAssignsID(t *testing.T) {
	s := NewMemStore()
	row := &Row{
		UserID:    "u1",
		SaveID:    "s1",
		Provider:  "synthetic",
		API:       "synthetic",
		Model:     "synthetic",
		StartedAt: time.Now(),
		EndedAt:   time.Now(),
	}
	require.NoError(t, s.Insert(context.Background(), row))
	assert.NotEqual(t, uuid.Nil, row.ID)

	rows := s.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, row.ID, rows[0].ID)
}

func TestMemStoreKeepsInsertOrder(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	ttft := int64(12)
	errMsg := "upstream status 500"
	prompt, completion, total := 10, 20, 30

	first := &Row{UserID: "u1", SaveID: "s1", Provider: "openai", API: "responses", Model: "gpt-4o-mini",
		LatencyMs: 100, TTFTMs: &ttft, OutputChunks: 5, OutputChars: 42,
		PromptTokens: &prompt, CompletionTokens: &completion, TotalTokens: &total}
	second := &Row{UserID: "u1", SaveID: "s1", Provider: "openai", API: "responses", Model: "gpt-4o-mini",
		Interrupted: true, Error: &errMsg}

	require.NoError(t, s.Insert(ctx, first))
	require.NoError(t, s.Insert(ctx, second))

	rows := s.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, first.ID, rows[0].ID)
	assert.Equal(t, 5, rows[0].OutputChunks)
	require.NotNil(t, rows[0].TTFTMs)
	assert.Equal(t, int64(12), *rows[0].TTFTMs)
	require.NotNil(t, rows[0].TotalTokens)
	assert.Equal(t, 30, *rows[0].TotalTokens)

	assert.True(t, rows[1].Interrupted)
	require.NotNil(t, rows[1].Error)
	assert.Equal(t, "upstream status 500", *rows[1].Error)
	assert.Nil(t, rows[1].PromptTokens)
}

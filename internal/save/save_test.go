package save

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	created, err := store.Create(ctx, "save-1", "user-1", "The Long Road")
	require.NoError(t, err)
	assert.Equal(t, "user-1", created.UserID)
	assert.Nil(t, created.DeletedAt)

	got, err := store.GetByID(ctx, "save-1")
	require.NoError(t, err)
	assert.Equal(t, "The Long Road", got.Title)

	require.NoError(t, store.SoftDelete(ctx, "save-1"))

	got, err = store.GetByID(ctx, "save-1")
	require.NoError(t, err)
	assert.NotNil(t, got.DeletedAt, "soft-deleted saves stay readable")
}

func TestMemStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	_, err := store.GetByID(ctx, "absent")
	require.ErrorIs(t, err, ErrNotFound)

	err = store.SoftDelete(ctx, "absent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreDuplicateCreate(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	_, err := store.Create(ctx, "save-1", "user-1", "")
	require.NoError(t, err)

	_, err = store.Create(ctx, "save-1", "user-2", "")
	require.Error(t, err)
}

func TestMemStoreSoftDeleteTwice(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	_, err := store.Create(ctx, "save-1", "user-1", "")
	require.NoError(t, err)

	require.NoError(t, store.SoftDelete(ctx, "save-1"))
	require.ErrorIs(t, store.SoftDelete(ctx, "save-1"), ErrNotFound)
}

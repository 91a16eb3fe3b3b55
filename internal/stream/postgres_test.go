package stream

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablehq/fable-relay/internal/database"
)

// openTestStore connects to the database named by FABLE_TEST_DATABASE_URL,
// skipping the test when it is unset. Each test isolates itself with
// fresh stream keys, so runs can share a database.
func openTestStore(t *testing.T) *PGStore {
	t.Helper()
	dsn := os.Getenv("FABLE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FABLE_TEST_DATABASE_URL not set")
	}
	db, err := database.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return NewPGStore(db)
}

func freshStream() (string, string) {
	return "u-" + uuid.NewString(), "s-" + uuid.NewString()
}

func TestPGAppendReplayAckTrim(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	user, save := freshStream()

	require.NoError(t, store.EnsureDevice(ctx, user, save, "devA", 10))
	require.NoError(t, store.EnsureDevice(ctx, user, save, "devB", 10))

	payload, err := MarshalCanonical(map[string]any{"room": "cellar", "beat": 1})
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		seq, err := store.AppendEvent(ctx, user, save, FrameEvent, payload, false)
		require.NoError(t, err)
		assert.Equal(t, int64(i), seq)
	}

	events, err := store.EventsAfter(ctx, user, save, 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, string(payload), string(e.Payload), "replayed payload must be byte-identical")
	}

	// A lagging device holds the trim.
	cur, err := store.Ack(ctx, user, save, "devA", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cur)

	events, err = store.EventsAfter(ctx, user, save, 0)
	require.NoError(t, err)
	assert.Len(t, events, 5)

	// Second device catches up; events 1..3 are gone for good.
	_, err = store.Ack(ctx, user, save, "devB", 3)
	require.NoError(t, err)

	events, err = store.EventsAfter(ctx, user, save, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(4), events[0].Seq)

	// Cursor never regresses.
	cur, err = store.Ack(ctx, user, save, "devA", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cur)
}

func TestPGNullPayload(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	user, save := freshStream()

	_, err := store.AppendEvent(ctx, user, save, FrameEvent, nil, false)
	require.NoError(t, err)

	events, err := store.EventsAfter(ctx, user, save, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Payload)
}

func TestPGDeviceCap(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	user, save := freshStream()

	require.NoError(t, store.EnsureDevice(ctx, user, save, "devA", 2))
	require.NoError(t, store.EnsureDevice(ctx, user, save, "devB", 2))
	require.ErrorIs(t, store.EnsureDevice(ctx, user, save, "devC", 2), ErrDeviceLimit)
	require.NoError(t, store.EnsureDevice(ctx, user, save, "devA", 2))

	cur, err := store.DeviceCursor(ctx, user, save, "devA")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cur)
}

func TestPGConcurrentAppendsStayContiguous(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	user, save := freshStream()

	const n = 20
	done := make(chan error, n)
	seqs := make(chan int64, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			payload, err := MarshalCanonical(map[string]any{"n": i})
			if err != nil {
				done <- err
				return
			}
			seq, err := store.AppendEvent(ctx, user, save, FrameEvent, payload, false)
			seqs <- seq
			done <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-done)
	}
	close(seqs)

	seen := make(map[int64]bool, n)
	for seq := range seqs {
		require.False(t, seen[seq], "seq %d assigned twice", seq)
		seen[seq] = true
	}
	for want := int64(1); want <= n; want++ {
		assert.True(t, seen[want], fmt.Sprintf("seq %d missing", want))
	}
}

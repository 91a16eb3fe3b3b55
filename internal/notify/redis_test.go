package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedisPublishReachesSubscriber(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	sub, err := r.Subscribe(ctx, "user-1", "save-1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, r.Publish(ctx, "user-1", "save-1", 42))
	assert.Equal(t, int64(42), waitNotice(t, sub).Seq)
}

func TestRedisStreamsAreIsolated(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	sub, err := r.Subscribe(ctx, "user-1", "save-1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, r.Publish(ctx, "user-1", "save-2", 1))

	select {
	case n := <-sub.Notices():
		t.Fatalf("notice leaked across streams: %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisSubscriptionClose(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	sub, err := r.Subscribe(ctx, "user-1", "save-1")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Notices():
		assert.False(t, ok, "notices channel should close after Close")
	case <-time.After(2 * time.Second):
		t.Fatal("notices channel did not close")
	}
}

func TestRedisConnectFailure(t *testing.T) {
	_, err := NewRedis(context.Background(), "127.0.0.1:1", "", 0)
	require.Error(t, err)
}

// NATS needs a live server; run with FABLE_TEST_NATS_URL=nats://127.0.0.1:4222.
func TestNATSContract(t *testing.T) {
	url := os.Getenv("FABLE_TEST_NATS_URL")
	if url == "" {
		t.Skip("FABLE_TEST_NATS_URL not set")
	}

	ctx := context.Background()
	n, err := NewNATS(url)
	require.NoError(t, err)
	defer n.Close()

	sub, err := n.Subscribe(ctx, "user-1", "save-1")
	require.NoError(t, err)

	require.NoError(t, n.Publish(ctx, "user-1", "save-1", 9))
	assert.Equal(t, int64(9), waitNotice(t, sub).Seq)

	require.NoError(t, sub.Close())
	_, ok := <-sub.Notices()
	assert.False(t, ok)
}

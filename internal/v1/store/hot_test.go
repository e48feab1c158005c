package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHot(t *testing.T) (*Hot, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewHotWithClient(client), mr
}

func TestHotJSONRoundTrip(t *testing.T) {
	hot, _ := newTestHot(t)
	ctx := context.Background()

	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, hot.SetJSON(ctx, "doc:1", doc{Name: "alpha", Count: 3}, 0))

	var got doc
	ok, err := hot.GetJSON(ctx, "doc:1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, doc{Name: "alpha", Count: 3}, got)
}

func TestHotMissIsNotAnError(t *testing.T) {
	hot, _ := newTestHot(t)
	ctx := context.Background()

	var got map[string]any
	ok, err := hot.GetJSON(ctx, "absent", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	val, ok, err := hot.GetString(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, val)
}

// A burst of misses must not trip the breaker: misses are not failures.
func TestHotMissesDoNotTripBreaker(t *testing.T) {
	hot, _ := newTestHot(t)
	ctx := context.Background()

	for range 20 {
		_, ok, err := hot.GetString(ctx, "absent")
		require.NoError(t, err)
		require.False(t, ok)
	}

	require.NoError(t, hot.SetString(ctx, "k", "v", 0))
	val, ok, err := hot.GetString(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", val)
}

func TestHotSetNX(t *testing.T) {
	hot, _ := newTestHot(t)
	ctx := context.Background()

	ok, err := hot.SetNX(ctx, "code:ABC123", "room-1", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hot.SetNX(ctx, "code:ABC123", "room-2", 0)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	val, present, err := hot.GetString(ctx, "code:ABC123")
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, "room-1", val)
}

func TestHotIncrAppliesTTL(t *testing.T) {
	hot, mr := newTestHot(t)
	ctx := context.Background()

	n, err := hot.Incr(ctx, "counter", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = hot.Incr(ctx, "counter", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	mr.FastForward(2 * time.Hour)

	n, err = hot.Incr(ctx, "counter", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "counter restarts after expiry")
}

func TestHotQueueOrdering(t *testing.T) {
	hot, _ := newTestHot(t)
	ctx := context.Background()

	require.NoError(t, hot.RPush(ctx, "q", "a"))
	require.NoError(t, hot.RPush(ctx, "q", "b"))
	require.NoError(t, hot.RPush(ctx, "q", "c"))

	// Head is the oldest entry.
	popped, err := hot.LPopCount(ctx, "q", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, popped)

	// A restore goes back to the head, preserving priority.
	require.NoError(t, hot.LPush(ctx, "q", "b", "a"))
	all, err := hot.LRange(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, all)
}

func TestHotLPopCountEmpty(t *testing.T) {
	hot, _ := newTestHot(t)
	ctx := context.Background()

	popped, err := hot.LPopCount(ctx, "empty", 2)
	require.NoError(t, err)
	assert.Nil(t, popped)
}

func TestHotLRem(t *testing.T) {
	hot, _ := newTestHot(t)
	ctx := context.Background()

	require.NoError(t, hot.RPush(ctx, "q", "a", "b", "a"))

	removed, err := hot.LRem(ctx, "q", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	all, err := hot.LRange(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, all)
}

func TestHotDel(t *testing.T) {
	hot, _ := newTestHot(t)
	ctx := context.Background()

	require.NoError(t, hot.SetString(ctx, "k1", "v", 0))
	require.NoError(t, hot.SetString(ctx, "k2", "v", 0))
	require.NoError(t, hot.Del(ctx, "k1", "k2", "k3"))

	_, ok, err := hot.GetString(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHotDisconnectedTTLExpiry(t *testing.T) {
	hot, mr := newTestHot(t)
	ctx := context.Background()

	require.NoError(t, hot.SetString(ctx, "player:u1:status", "DISCONNECTED", DisconnectedStatusTTL))

	mr.FastForward(DisconnectedStatusTTL + time.Second)

	_, ok, err := hot.GetString(ctx, "player:u1:status")
	require.NoError(t, err)
	assert.False(t, ok, "status key expires with the grace window")
}

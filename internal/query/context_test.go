package query

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContextStore(t *testing.T) (*ContextStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewContextStore(client, testLogger()), mr
}

func TestContextStore_AppendAndGet(t *testing.T) {
	store, _ := newTestContextStore(t)
	ctx := context.Background()

	store.Append(ctx, "s1",
		ContextTurn{Role: "user", Content: "show floats"},
		ContextTurn{Role: "assistant", Content: "12 floats", SQL: "SELECT 1", RowCount: 12},
	)

	turns := store.Get(ctx, "s1")
	require.Len(t, turns, 2)
	assert.Equal(t, "show floats", turns[0].Content)
	assert.Equal(t, 12, turns[1].RowCount)
}

func TestContextStore_TrimsToMaxTurns(t *testing.T) {
	store, _ := newTestContextStore(t)
	store.maxTurns = 3
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.Append(ctx, "s1", ContextTurn{Role: "user", Content: string(rune('a' + i))})
	}

	turns := store.Get(ctx, "s1")
	require.Len(t, turns, 3)
	assert.Equal(t, "c", turns[0].Content)
	assert.Equal(t, "e", turns[2].Content)
}

func TestContextStore_RefreshesTTL(t *testing.T) {
	store, mr := newTestContextStore(t)
	store.ttl = time.Minute
	ctx := context.Background()

	store.Append(ctx, "s1", ContextTurn{Role: "user", Content: "hi"})
	ttl := mr.TTL(contextKey("s1"))
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(30 * time.Second)
	store.Append(ctx, "s1", ContextTurn{Role: "user", Content: "again"})
	assert.Equal(t, time.Minute, mr.TTL(contextKey("s1")))
}

func TestContextStore_ExpiredContextIsEmpty(t *testing.T) {
	store, mr := newTestContextStore(t)
	store.ttl = time.Minute
	ctx := context.Background()

	store.Append(ctx, "s1", ContextTurn{Role: "user", Content: "hi"})
	mr.FastForward(2 * time.Minute)

	assert.Empty(t, store.Get(ctx, "s1"))
}

func TestContextStore_NilClientIsNoOp(t *testing.T) {
	store := NewContextStore(nil, testLogger())
	ctx := context.Background()

	store.Append(ctx, "s1", ContextTurn{Role: "user", Content: "hi"})
	assert.Empty(t, store.Get(ctx, "s1"))
	store.Clear(ctx, "s1")
}

func TestContextStore_RedisDownIsGraceful(t *testing.T) {
	store, mr := newTestContextStore(t)
	ctx := context.Background()

	store.Append(ctx, "s1", ContextTurn{Role: "user", Content: "hi"})
	mr.Close()

	assert.Empty(t, store.Get(ctx, "s1"))
	store.Append(ctx, "s1", ContextTurn{Role: "user", Content: "still fine"})
}

func TestContextStore_Clear(t *testing.T) {
	store, _ := newTestContextStore(t)
	ctx := context.Background()

	store.Append(ctx, "s1", ContextTurn{Role: "user", Content: "hi"})
	store.Clear(ctx, "s1")

	assert.Empty(t, store.Get(ctx, "s1"))
}

package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisStoreCheckAndIncrement(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisStore(client, "test:")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := store.CheckAndIncrement(ctx, "agent-1", time.Minute, 3)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := store.CheckAndIncrement(ctx, "agent-1", time.Minute, 3)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreConcurrency(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisStore(client, "test:")
	ctx := context.Background()

	ok, err := store.AcquireConcurrent(ctx, "agent-1", "tok-1", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.AcquireConcurrent(ctx, "agent-1", "tok-2", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.ReleaseConcurrent(ctx, "agent-1", "tok-1"))

	ok, err = store.AcquireConcurrent(ctx, "agent-1", "tok-2", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRequestLockRepository(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setupMiniredis(t)
	repo := NewRequestLockRepository(rdb, 30*time.Second)

	t.Run("second acquire is refused", func(t *testing.T) {
		token, ok, err := repo.Acquire(ctx, "owner-1:key-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotEmpty(t, token)

		_, ok, err = repo.Acquire(ctx, "owner-1:key-1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, repo.Release(ctx, "owner-1:key-1", token))
		_, ok, err = repo.Acquire(ctx, "owner-1:key-1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("release with foreign token keeps lock", func(t *testing.T) {
		token, ok, err := repo.Acquire(ctx, "owner-2:key-1")
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, repo.Release(ctx, "owner-2:key-1", "someone-else"))
		got, err := mr.Get("purchase_lock:owner-2:key-1")
		require.NoError(t, err)
		assert.Equal(t, token, got)
	})

	t.Run("lock expires after ttl", func(t *testing.T) {
		_, ok, err := repo.Acquire(ctx, "owner-3:key-1")
		require.NoError(t, err)
		require.True(t, ok)

		mr.FastForward(31 * time.Second)

		_, ok, err = repo.Acquire(ctx, "owner-3:key-1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("redis down", func(t *testing.T) {
		mr.Close()
		_, ok, err := repo.Acquire(ctx, "owner-4:key-1")
		assert.Error(t, err)
		assert.False(t, ok)
	})
}

package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/catalog/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func newTestRedisIndex(t *testing.T) (*RedisIndex, *redis.Client) {
	client := getRedisClient(t)
	prefix := "test:search:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})
	return NewRedisIndex(client, prefix), client
}

func TestRedisIndex(t *testing.T) {
	idx, _ := newTestRedisIndex(t)
	exerciseIndex(t, idx)
}

func TestRedisIndex_UpsertMaintainsGrams(t *testing.T) {
	idx, client := newTestRedisIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, domain.SearchDocument{ID: 7, Name: "Beanie", Description: "Warm"}))
	members, err := client.SMembers(ctx, idx.gramKey("be")).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, members)

	require.NoError(t, idx.Upsert(ctx, domain.SearchDocument{ID: 7, Name: "Mitten", Description: "Warm"}))
	exists, err := client.Exists(ctx, idx.gramKey("be")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "stale gram set should be gone")

	require.NoError(t, idx.Delete(ctx, 7))
	n, err := client.SCard(ctx, idx.idsKey()).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisIndex_UnavailableIsReported(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	idx := NewRedisIndex(client, "")

	_, err := idx.Query(context.Background(), "warm")
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)

	err = idx.Upsert(context.Background(), domain.SearchDocument{ID: 1, Name: "a", Description: "b"})
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}

package data

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResponseCacheSelectsBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	withRedis := NewResponseCache(&Data{redisClient: client}, log.DefaultLogger)
	assert.IsType(t, &redisResponseCache{}, withRedis)

	withoutRedis := NewResponseCache(&Data{}, log.DefaultLogger)
	assert.IsType(t, &memoryResponseCache{}, withoutRedis)
}

func TestRedisResponseCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := &redisResponseCache{client: client}
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "resp:web_search:abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "resp:web_search:abc", []byte(`{"hits":1}`), time.Minute))

	data, ok, err := cache.Get(ctx, "resp:web_search:abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"hits":1}`, string(data))
}

func TestRedisResponseCacheTTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := &redisResponseCache{client: client}
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "url:fetch_page:http://example.com", []byte("page"), time.Minute))

	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.Get(ctx, "url:fetch_page:http://example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisResponseCacheStats(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := &redisResponseCache{client: client}
	require.NoError(t, cache.Set(context.Background(), "k", []byte("v"), time.Minute))

	stats := cache.Stats(context.Background())
	assert.Equal(t, "redis", stats["backend"])
	assert.EqualValues(t, 1, stats["keys"])
}

func TestMemoryResponseCacheRoundTrip(t *testing.T) {
	cache := newMemoryResponseCache()
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Minute))
	data, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), data)
}

func TestMemoryResponseCacheExpiry(t *testing.T) {
	cache := newMemoryResponseCache()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	_, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	stats := cache.Stats(ctx)
	assert.Equal(t, "memory", stats["backend"])
	// lazy eviction removed the expired entry during the read
	assert.Equal(t, 0, stats["entries"])
}

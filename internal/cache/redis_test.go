package cache

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahirjain10/go-resizer/internal/types"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache("redis://"+mr.Addr(), 200*time.Millisecond, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCachePutGet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	payload := []byte{0xff, 0xd8, 0x00, 0x01}

	c.Put(ctx, "k1", payload, types.CacheTTL)

	got, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, payload, got)

	stored, err := mr.Get("k1")
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), stored)
	assert.Equal(t, time.Hour, mr.TTL("k1"))
}

func TestRedisCacheMiss(t *testing.T) {
	c, _ := newTestCache(t)
	_, ok := c.Get(context.Background(), "absent")
	assert.False(t, ok)
}

func TestRedisCacheExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	c.Put(ctx, "k", []byte("v"), types.CacheTTL)
	mr.FastForward(types.CacheTTL + time.Second)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisCacheDegradesOnServerError(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	c.Put(ctx, "k", []byte("v"), types.CacheTTL)

	mr.SetError("LOADING server is loading")
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.NotPanics(t, func() { c.Put(ctx, "k2", []byte("v"), types.CacheTTL) })
}

func TestRedisCacheDegradesWhenServerGone(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	start := time.Now()
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRedisCacheDiscardsCorruptEntry(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set("bad", "%%% not base64"))
	_, ok := c.Get(context.Background(), "bad")
	assert.False(t, ok)
}

func TestNilRedisCache(t *testing.T) {
	var c *RedisCache
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	c.Put(context.Background(), "k", nil, time.Second)
	assert.NoError(t, c.Close())
}

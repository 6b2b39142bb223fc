package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("CRATESTATUS_REDIS_ADDR")
	if addr == "" {
		t.Skip("CRATESTATUS_REDIS_ADDR not set")
	}
	ctx := context.Background()

	c, err := NewRedisCache(ctx, RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer c.Close()

	key := NewScopedKeyer(nil, "cratestatus:test:").HTTPKey("redis", t.Name())
	t.Cleanup(func() { _ = c.Delete(ctx, key) })

	_, hit, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, key, []byte("payload"), time.Minute))
	data, hit, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, c.Delete(ctx, key))
	_, hit, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, hit)
}

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only when CACHE_TEST_REDIS_ADDR points at a disposable server.
func TestRedis_RoundTrip(t *testing.T) {
	addr := os.Getenv("CACHE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CACHE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	c, err := NewRedis(ctx, RedisConfig{Addr: addr, KeyPrefix: "test-" + uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

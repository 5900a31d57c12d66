package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemory(t *testing.T) (*Memory, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := NewMemory(time.Hour)
	c.now = clock.now
	t.Cleanup(func() { c.Close() })
	return c, clock
}

func TestMemory_SetGet(t *testing.T) {
	c, _ := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestMemory_ValueIsCopied(t *testing.T) {
	c, _ := newTestMemory(t)
	ctx := context.Background()

	buf := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'z'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	got[1] = 'z'
	again, _ := c.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemory_Expiry(t *testing.T) {
	// GIVEN: a key with a one minute TTL
	c, clock := newTestMemory(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	// WHEN: the TTL elapses
	clock.advance(time.Minute)

	// THEN: the key is a miss and the sweep drops it
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	c.removeExpired()
	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Empty(t, c.entries)
}

func TestMemory_Delete(t *testing.T) {
	c, _ := newTestMemory(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))

	require.NoError(t, c.Delete(ctx, "a", "b", "missing"))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestGetOrSet_ComputesOnce(t *testing.T) {
	c, _ := newTestMemory(t)
	ctx := context.Background()

	calls := 0
	fn := func() ([]byte, error) {
		calls++
		return []byte("computed"), nil
	}

	v1, err := GetOrSet(ctx, c, "k", time.Minute, fn)
	require.NoError(t, err)
	v2, err := GetOrSet(ctx, c, "k", time.Minute, fn)
	require.NoError(t, err)

	assert.Equal(t, "computed", string(v1))
	assert.Equal(t, "computed", string(v2))
	assert.Equal(t, 1, calls)
}

func TestMemory_CloseTwice(t *testing.T) {
	c := NewMemory(time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

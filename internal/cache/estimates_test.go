package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time                         { return c.now }
func (c *fakeClock) After(d time.Duration) <-chan time.Time { return time.After(0) }
func (c *fakeClock) Sleep(d time.Duration)                  {}

func TestMemoryCache_PutGet(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(time.Minute, clock)
	ctx := context.Background()

	_, ok := c.Get(ctx, "proj-1", "recover_abandoned_checkout")
	assert.False(t, ok)

	c.Put(ctx, "proj-1", "recover_abandoned_checkout", 42)
	count, ok := c.Get(ctx, "proj-1", "recover_abandoned_checkout")
	assert.True(t, ok)
	assert.Equal(t, 42, count)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(time.Minute, clock)
	ctx := context.Background()

	c.Put(ctx, "proj-1", "send_promo", 10)

	clock.now = clock.now.Add(59 * time.Second)
	_, ok := c.Get(ctx, "proj-1", "send_promo")
	assert.True(t, ok, "entry still fresh just before the TTL")

	clock.now = clock.now.Add(2 * time.Second)
	_, ok = c.Get(ctx, "proj-1", "send_promo")
	assert.False(t, ok, "entry expired past the TTL")
}

func TestMemoryCache_KeysAreScoped(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(time.Minute, clock)
	ctx := context.Background()

	c.Put(ctx, "proj-1", "send_promo", 10)
	c.Put(ctx, "proj-2", "send_promo", 20)
	c.Put(ctx, "proj-1", "winback_lapsed", 30)

	count, ok := c.Get(ctx, "proj-1", "send_promo")
	assert.True(t, ok)
	assert.Equal(t, 10, count)

	count, ok = c.Get(ctx, "proj-2", "send_promo")
	assert.True(t, ok)
	assert.Equal(t, 20, count)

	count, ok = c.Get(ctx, "proj-1", "winback_lapsed")
	assert.True(t, ok)
	assert.Equal(t, 30, count)
}

func TestMemoryCache_PutOverwrites(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(time.Minute, clock)
	ctx := context.Background()

	c.Put(ctx, "proj-1", "send_promo", 10)
	clock.now = clock.now.Add(50 * time.Second)
	c.Put(ctx, "proj-1", "send_promo", 99)

	// The rewrite restarts the TTL from its own write time.
	clock.now = clock.now.Add(50 * time.Second)
	count, ok := c.Get(ctx, "proj-1", "send_promo")
	assert.True(t, ok)
	assert.Equal(t, 99, count)
}

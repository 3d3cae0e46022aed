package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := NewMemory[string](0).WithClock(clock.Now)

	m.Set("a", "one", time.Minute)
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, "one", v)

	clock.Advance(time.Minute)
	_, ok = m.Get("a")
	assert.False(t, ok)
}

func TestMemorySetIfAbsent(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := NewMemory[int](0).WithClock(clock.Now)

	assert.True(t, m.SetIfAbsent("k", 1, time.Second))
	assert.False(t, m.SetIfAbsent("k", 2, time.Second))
	clock.Advance(time.Second)
	assert.True(t, m.SetIfAbsent("k", 3, time.Second))
	v, _ := m.Get("k")
	assert.Equal(t, 3, v)
}

func TestMemoryEvictsWhenFull(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := NewMemory[int](2).WithClock(clock.Now)

	m.Set("a", 1, time.Minute)
	m.Set("b", 2, 2*time.Minute)
	m.Set("c", 3, 3*time.Minute)

	assert.Equal(t, 2, m.Len())
	_, ok := m.Get("a")
	assert.False(t, ok)
	_, ok = m.Get("c")
	assert.True(t, ok)
}

func TestMemoryLimiterWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewMemoryLimiter(0).WithClock(clock.Now)
	ctx := context.Background()

	ok, err := l.Allow(ctx, "withdraw_created:m1", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = l.Allow(ctx, "withdraw_created:m1", 5*time.Minute)
	assert.False(t, ok)
	ok, _ = l.Allow(ctx, "withdraw_created:m2", 5*time.Minute)
	assert.True(t, ok, "other merchants have their own window")

	clock.Advance(5 * time.Minute)
	ok, _ = l.Allow(ctx, "withdraw_created:m1", 5*time.Minute)
	assert.True(t, ok)
}

func TestMemoryLimiterRelease(t *testing.T) {
	l := NewMemoryLimiter(0)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "order_resolved:m1", time.Hour)
	require.True(t, ok)
	require.NoError(t, l.Release(ctx, "order_resolved:m1"))

	ok, _ = l.Allow(ctx, "order_resolved:m1", time.Hour)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "order_resolved:m1", time.Hour)
	assert.False(t, ok)
	assert.NoError(t, l.Release(ctx, "never-seen"))
}

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, max int, win time.Duration) (*MemoryLimiter, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(max, win)
	l.now = clk.Now
	t.Cleanup(l.Stop)
	return l, clk
}

func TestMemoryLimiter_AllowsUpToMax(t *testing.T) {
	l, _ := newTestLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "attempt %d", i+1)
		assert.Equal(t, 4-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	d, _ := l.Allow(ctx, "a")
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "a")
	assert.False(t, d.Allowed)

	d, _ = l.Allow(ctx, "b")
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_WindowResets(t *testing.T) {
	l, clk := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	l.Allow(ctx, "k")
	l.Allow(ctx, "k")

	clk.Advance(45 * time.Second)
	d, _ := l.Allow(ctx, "k")
	assert.False(t, d.Allowed)
	assert.Equal(t, 15*time.Second, d.RetryAfter)

	clk.Advance(15 * time.Second)
	d, _ = l.Allow(ctx, "k")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestMemoryLimiter_Evict(t *testing.T) {
	l, clk := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	l.Allow(ctx, "old")
	clk.Advance(30 * time.Second)
	l.Allow(ctx, "new")
	clk.Advance(40 * time.Second)

	l.evict()
	assert.Equal(t, 1, l.size())
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(t, 50, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(ctx, "shared")
			assert.NoError(t, err)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestMemoryLimiter_StopIsIdempotent(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	l.Stop()
	l.Stop()
}

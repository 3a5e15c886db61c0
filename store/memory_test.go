package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iwanhae/tcp-guard/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemory_SetExExpires(t *testing.T) {
	clock := newFakeClock()
	m := store.NewMemoryWithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, m.SetEx(ctx, "blocked:1.2.3.4", "1", 60*time.Second))
	ok, err := m.Exists(ctx, "blocked:1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)

	ttl, err := m.TTL(ctx, "blocked:1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, 60*time.Second, ttl)

	clock.Advance(59 * time.Second)
	ok, _ = m.Exists(ctx, "blocked:1.2.3.4")
	require.True(t, ok)

	clock.Advance(time.Second)
	ok, _ = m.Exists(ctx, "blocked:1.2.3.4")
	require.False(t, ok)
}

func TestMemory_SetExOverwritesTTL(t *testing.T) {
	clock := newFakeClock()
	m := store.NewMemoryWithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, m.SetEx(ctx, "k", "1", 60*time.Second))
	clock.Advance(30 * time.Second)
	require.NoError(t, m.SetEx(ctx, "k", "1", 10*time.Second))

	ttl, err := m.TTL(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, ttl)
}

func TestMemory_IncrByAndTTL(t *testing.T) {
	clock := newFakeClock()
	m := store.NewMemoryWithClock(clock.Now)
	ctx := context.Background()

	ttl, err := m.TTL(ctx, "traffic:a")
	require.NoError(t, err)
	require.Equal(t, store.Missing, ttl)

	n, err := m.IncrBy(ctx, "traffic:a", 60)
	require.NoError(t, err)
	require.Equal(t, int64(60), n)

	ttl, _ = m.TTL(ctx, "traffic:a")
	require.Equal(t, store.NoExpiry, ttl)

	require.NoError(t, m.Expire(ctx, "traffic:a", time.Second))
	n, _ = m.IncrBy(ctx, "traffic:a", 50)
	require.Equal(t, int64(110), n)

	clock.Advance(time.Second)
	n, _ = m.IncrBy(ctx, "traffic:a", 5)
	require.Equal(t, int64(5), n)
}

func TestMemory_ExpireMissingKeyIsNoop(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Expire(ctx, "nope", time.Second))
	ok, err := m.Exists(ctx, "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemory_WrongType(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.ZAdd(ctx, "z", 1, "a"))
	_, err := m.IncrBy(ctx, "z", 1)
	require.ErrorIs(t, err, store.ErrWrongType)

	_, err = m.IncrBy(ctx, "c", 1)
	require.NoError(t, err)
	_, err = m.ZCard(ctx, "c")
	require.ErrorIs(t, err, store.ErrWrongType)
}

func TestMemory_SortedSetOps(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	for _, s := range []float64{5, 1, 3, 2, 4} {
		require.NoError(t, m.ZAdd(ctx, "z", s, ""))
	}
	n, err := m.ZCard(ctx, "z")
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	require.NoError(t, m.ZRemRangeByScore(ctx, "z", 3))
	n, _ = m.ZCard(ctx, "z")
	require.Equal(t, int64(2), n)

	require.NoError(t, m.ZRemRangeByScore(ctx, "z", 10))
	n, _ = m.ZCard(ctx, "z")
	require.Equal(t, int64(0), n)
}

func TestMemory_SlideWindow(t *testing.T) {
	clock := newFakeClock()
	m := store.NewMemoryWithClock(clock.Now)
	ctx := context.Background()
	window := 5 * time.Second

	t0 := clock.Now()
	for i := 0; i < 3; i++ {
		count, ok, err := m.SlideWindow(ctx, "connections:a", clock.Now(), window, 3)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int64(i+1), count)
		clock.Advance(time.Second)
	}

	count, ok, err := m.SlideWindow(ctx, "connections:a", clock.Now(), window, 3)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(3), count)

	// exactly one window after t0, the first attempt has expired
	clock.Advance(t0.Add(window).Sub(clock.Now()))
	count, ok, err = m.SlideWindow(ctx, "connections:a", clock.Now(), window, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), count)
}

func TestMemory_SlideWindowConcurrent(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := m.SlideWindow(ctx, "connections:a", time.Now(), time.Minute, 10)
			if err == nil && ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(10), admitted.Load())
}

func TestMemory_Closed(t *testing.T) {
	m := store.NewMemory()
	require.NoError(t, m.Close())
	require.Error(t, m.Ping(context.Background()))
	_, err := m.Exists(context.Background(), "k")
	require.Error(t, err)
}

func TestKeys(t *testing.T) {
	require.Equal(t, "connections:10.0.0.1", store.ConnectionsKey("10.0.0.1"))
	require.Equal(t, "traffic:10.0.0.1", store.TrafficKey("10.0.0.1"))
	require.Equal(t, "blocked:10.0.0.1", store.BlockedKey("10.0.0.1"))
}

package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openlexbr/douflow/internal/pipeline"
)

// fakeClock lets tests advance time manually.
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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func pageKey(page int) pipeline.PageKey {
	return pipeline.PageKey{Date: "2025-04-07", Section: pipeline.Section3, Page: page}
}

func TestMemoryRoundTrip(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewMemory(clock)

	c.Put(pageKey(1), []byte("conteudo"), time.Hour)
	entry, ok := c.Get(pageKey(1))
	require.True(t, ok)
	assert.Equal(t, []byte("conteudo"), entry.Content)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(0), misses)
}

func TestMemoryLazyExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewMemory(clock)

	c.Put(pageKey(1), []byte("x"), time.Minute)
	clock.Advance(2 * time.Minute)

	_, ok := c.Get(pageKey(1))
	assert.False(t, ok)
}

func TestMemoryLastWriterWins(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewMemory(clock)

	c.Put(pageKey(1), []byte("first"), time.Hour)
	c.Put(pageKey(1), []byte("second"), time.Hour)

	entry, ok := c.Get(pageKey(1))
	require.True(t, ok)
	assert.Equal(t, []byte("second"), entry.Content)
}

func TestMemoryCopiesContent(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewMemory(clock)

	buf := []byte("original")
	c.Put(pageKey(1), buf, time.Hour)
	buf[0] = 'X'

	entry, ok := c.Get(pageKey(1))
	require.True(t, ok)
	assert.Equal(t, []byte("original"), entry.Content)
}

func TestMemoryInvalidate(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewMemory(clock)

	c.Put(pageKey(1), []byte("x"), time.Hour)
	c.Invalidate(pageKey(1))

	_, ok := c.Get(pageKey(1))
	assert.False(t, ok)
}

func TestMemoryConcurrentAccess(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewMemory(clock)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := pageKey(n % 4)
			c.Put(key, []byte{byte(n)}, time.Hour)
			c.Get(key)
		}(i)
	}
	wg.Wait()

	for p := 0; p < 4; p++ {
		_, ok := c.Get(pageKey(p))
		assert.True(t, ok, "page %d", p)
	}
}

func TestFSRoundTripAndExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	c, err := NewFS(t.TempDir(), clock, zap.NewNop())
	require.NoError(t, err)

	c.Put(pageKey(1), []byte("pagina um"), time.Hour)
	entry, ok := c.Get(pageKey(1))
	require.True(t, ok)
	assert.Equal(t, []byte("pagina um"), entry.Content)

	clock.Advance(2 * time.Hour)
	_, ok = c.Get(pageKey(1))
	assert.False(t, ok)
}

func TestFSSupersedesOldGenerations(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	c, err := NewFS(t.TempDir(), clock, zap.NewNop())
	require.NoError(t, err)

	c.Put(pageKey(2), []byte("velho"), time.Hour)
	clock.Advance(time.Second)
	c.Put(pageKey(2), []byte("novo"), time.Hour)

	entry, ok := c.Get(pageKey(2))
	require.True(t, ok)
	assert.Equal(t, []byte("novo"), entry.Content)
}

func TestFSInvalidate(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	c, err := NewFS(t.TempDir(), clock, zap.NewNop())
	require.NoError(t, err)

	c.Put(pageKey(3), []byte("x"), time.Hour)
	c.Invalidate(pageKey(3))

	_, ok := c.Get(pageKey(3))
	assert.False(t, ok)
}

func TestFSSweepRemovesExpired(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	c, err := NewFS(t.TempDir(), clock, zap.NewNop())
	require.NoError(t, err)

	c.Put(pageKey(1), []byte("a"), time.Minute)
	clock.Advance(time.Second)
	c.Put(pageKey(2), []byte("b"), time.Hour)
	clock.Advance(10 * time.Minute)

	removed := c.Sweep()
	assert.Equal(t, 1, removed)

	_, ok := c.Get(pageKey(2))
	assert.True(t, ok)
}

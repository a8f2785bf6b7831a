package cache

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/seisgo/resource"
)

func TestGetOrLoadHitMiss(t *testing.T) {
	c := NewLRU[int](4)
	calls := 0
	load := func() (int, error) {
		calls++
		return 42, nil
	}

	v, err := c.GetOrLoad(MustKey("a"), load)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = c.GetOrLoad(MustKey("a"), load)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls, "second call must be served from cache")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestEviction(t *testing.T) {
	c := NewLRU(2, func(o *Options[int]) {
		o.SizeOf = func(int) int64 { return 8 }
	})

	c.Put(MustKey(1), 1)
	c.Put(MustKey(2), 2)
	c.Put(MustKey(3), 3) // evicts key 1

	_, ok := c.Get(MustKey(1))
	assert.False(t, ok)
	_, ok = c.Get(MustKey(3))
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(16), c.Bytes())
}

func TestLRUOrderOnHit(t *testing.T) {
	c := NewLRU[int](2)

	c.Put(MustKey(1), 1)
	c.Put(MustKey(2), 2)
	_, ok := c.Get(MustKey(1)) // refresh key 1
	require.True(t, ok)

	c.Put(MustKey(3), 3) // must evict key 2, not key 1
	_, ok = c.Get(MustKey(1))
	assert.True(t, ok)
	_, ok = c.Get(MustKey(2))
	assert.False(t, ok)
}

func TestBypass(t *testing.T) {
	c := NewLRU[int](4)
	calls := 0
	load := func() (int, error) {
		calls++
		return 7, nil
	}

	for range 3 {
		v, err := c.GetOrLoad(MustKey("k"), load, Bypass)
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, c.Len(), "bypassed calls never populate the cache")

	stats := c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
}

func TestGlobalDisable(t *testing.T) {
	Disable()
	defer Enable()
	require.True(t, Disabled())

	c := NewLRU[int](4)
	calls := 0
	for range 2 {
		_, err := c.GetOrLoad(MustKey("k"), func() (int, error) {
			calls++
			return 1, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, c.Len())
}

func TestLoadErrorNotCached(t *testing.T) {
	c := NewLRU[int](4)
	boom := errors.New("boom")

	_, err := c.GetOrLoad(MustKey("k"), func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, err := c.GetOrLoad(MustKey("k"), func() (int, error) { return 5, nil })
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestCopyOnReturn(t *testing.T) {
	c := NewLRU(4, func(o *Options[[]float32]) {
		o.Clone = func(v []float32) []float32 { return append([]float32(nil), v...) }
		o.CopyOnReturn = true
	})

	first, err := c.GetOrLoad(MustKey("k"), func() ([]float32, error) {
		return []float32{1, 2, 3}, nil
	})
	require.NoError(t, err)
	first[0] = 99 // mutating the returned copy must not poison the cache

	second, ok := c.Get(MustKey("k"))
	require.True(t, ok)
	assert.Equal(t, float32(1), second[0])
}

func TestConcurrentMissesLastWriteWins(t *testing.T) {
	c := NewLRU[int](4)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrLoad(MustKey("k"), func() (int, error) { return 1, nil })
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Racing misses all execute; exactly one entry survives.
	assert.Equal(t, 1, c.Len())
	stats := c.Stats()
	assert.Equal(t, int64(8), stats.Hits+stats.Misses)
}

func TestControllerDenialSkipsStore(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 10})
	c := NewLRU(4, func(o *Options[[]byte]) {
		o.SizeOf = func(v []byte) int64 { return int64(len(v)) }
		o.Controller = rc
	})

	// Over budget: value is returned but never stored.
	v, err := c.GetOrLoad(MustKey("big"), func() ([]byte, error) {
		return make([]byte, 64), nil
	})
	require.NoError(t, err)
	assert.Len(t, v, 64)
	assert.Equal(t, 0, c.Len())
	assert.Zero(t, rc.MemoryUsage())

	// Within budget stores and accounts.
	_, err = c.GetOrLoad(MustKey("small"), func() ([]byte, error) {
		return make([]byte, 8), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(8), rc.MemoryUsage())

	c.Reset()
	assert.Zero(t, rc.MemoryUsage(), "reset releases the memory budget")
}

func TestControllerOverwriteReconciles(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 64})
	c := NewLRU(4, func(o *Options[[]byte]) {
		o.SizeOf = func(v []byte) int64 { return int64(len(v)) }
		o.Controller = rc
	})

	// Overwriting the same key tracks the size delta in both directions.
	c.Put(MustKey("k"), make([]byte, 8))
	assert.Equal(t, int64(8), rc.MemoryUsage())

	c.Put(MustKey("k"), make([]byte, 24))
	assert.Equal(t, int64(24), rc.MemoryUsage())
	assert.Equal(t, int64(24), c.Bytes())

	c.Put(MustKey("k"), make([]byte, 4))
	assert.Equal(t, int64(4), rc.MemoryUsage())
	assert.Equal(t, int64(4), c.Bytes())

	// A growth the budget cannot cover drops the entry entirely.
	c.Put(MustKey("k"), make([]byte, 128))
	assert.Equal(t, 0, c.Len())
	assert.Zero(t, rc.MemoryUsage())
	assert.Zero(t, c.Bytes())
}

func TestEnvDisable(t *testing.T) {
	t.Setenv(EnvDisable, "1")
	refreshDisableFromEnv()
	t.Cleanup(Enable)
	require.True(t, Disabled())

	c := NewLRU[int](4)
	calls := 0
	for range 2 {
		_, err := c.GetOrLoad(MustKey("k"), func() (int, error) {
			calls++
			return 1, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, c.Len(), "env-disabled caches never populate")
}

func TestReset(t *testing.T) {
	c := NewLRU[int](4)
	c.Put(MustKey(1), 1)
	_, _ = c.Get(MustKey(1))

	c.Reset()
	assert.Equal(t, 0, c.Len())
	assert.Zero(t, c.Stats().Hits)
	assert.Zero(t, c.Stats().Misses)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := NewLRU[int](4)
	b := NewLRU[int](4)
	r.Register("slides", a)
	r.Register("quantiles", b)

	a.Put(MustKey(1), 1)
	b.Put(MustKey(2), 2)
	b.Put(MustKey(3), 3)

	assert.Equal(t, []string{"slides", "quantiles"}, r.Names())

	entries, _ := r.Totals()
	assert.Equal(t, 3, entries)

	stats := r.Stats()
	assert.Equal(t, 1, stats["slides"].Entries)
	assert.Equal(t, 2, stats["quantiles"].Entries)

	r.Reset()
	entries, bytes := r.Totals()
	assert.Zero(t, entries)
	assert.Zero(t, bytes)
}

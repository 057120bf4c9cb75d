package schema

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDiscovery(delay time.Duration) (*Discovery, *fakeSampler) {
	sampler := newFakeSampler(delay)
	return NewDiscovery(sampler, DiscoveryConfig{Enabled: true, MaxConcurrent: 4}, nil), sampler
}

func TestLazyLoader_ImmediateBlocksAndPopulatesCache(t *testing.T) {
	d, _ := newTestDiscovery(0)
	l := NewLazyLoader(d, LazyConfig{Strategy: StrategyImmediate, MaxCacheSize: 10, TTL: time.Hour}, nil)

	cols, err := l.Get(context.Background(), "Orders", SamplePolicy{})
	require.NoError(t, err)
	assert.NotNil(t, cols)
	assert.Equal(t, 1, l.Size())
}

func TestLazyLoader_CachedOnlyNeverTriggersDiscovery(t *testing.T) {
	d, sampler := newTestDiscovery(0)
	l := NewLazyLoader(d, LazyConfig{Strategy: StrategyCachedOnly, MaxCacheSize: 10, TTL: time.Hour}, nil)

	cols, err := l.Get(context.Background(), "Orders", SamplePolicy{})
	require.NoError(t, err)
	assert.Nil(t, cols)
	assert.Equal(t, int32(0), sampler.calls)
}

func TestLazyLoader_BackgroundReturnsEmptyThenPopulatesAsync(t *testing.T) {
	d, _ := newTestDiscovery(20 * time.Millisecond)
	l := NewLazyLoader(d, LazyConfig{Strategy: StrategyBackground, MaxCacheSize: 10, TTL: time.Hour}, nil)

	cols, err := l.Get(context.Background(), "Orders", SamplePolicy{})
	require.NoError(t, err)
	assert.Nil(t, cols, "background strategy returns nothing on the triggering call")

	require.Eventually(t, func() bool {
		return l.Size() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestLazyLoader_LRUEvictionAtCapacity(t *testing.T) {
	d, _ := newTestDiscovery(0)
	l := NewLazyLoader(d, LazyConfig{Strategy: StrategyImmediate, MaxCacheSize: 3, TTL: time.Hour}, nil)

	for _, table := range []string{"A", "B", "C"} {
		_, err := l.Get(context.Background(), table, SamplePolicy{})
		require.NoError(t, err)
		time.Sleep(time.Millisecond) // ensure distinct lastAccessAt
	}
	// Touch A so it is no longer the least-recently-used entry.
	_, err := l.Get(context.Background(), "A", SamplePolicy{})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	_, err = l.Get(context.Background(), "D", SamplePolicy{}) // forces eviction at N+1
	require.NoError(t, err)

	assert.Equal(t, 3, l.Size())
	l.mu.Lock()
	_, bPresent := l.entries["B"]
	_, aPresent := l.entries["A"]
	l.mu.Unlock()
	assert.False(t, bPresent, "B was least recently accessed and should have been evicted")
	assert.True(t, aPresent, "A was re-accessed and should survive eviction")
}

func TestLazyLoader_InvalidateForcesRediscovery(t *testing.T) {
	d, sampler := newTestDiscovery(0)
	l := NewLazyLoader(d, LazyConfig{Strategy: StrategyImmediate, MaxCacheSize: 10, TTL: time.Hour}, nil)

	_, err := l.Get(context.Background(), "Orders", SamplePolicy{})
	require.NoError(t, err)
	l.Invalidate("Orders")
	_, err = l.Get(context.Background(), "Orders", SamplePolicy{})
	require.NoError(t, err)

	assert.Equal(t, int32(2), sampler.calls)
}

package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_MissThenPutBecomesHit(t *testing.T) {
	c := NewCache(newFakeSampler(0), nil, DefaultCacheConfig(), nil, nil)
	defer c.Close()

	_, ok := c.Get("Orders")
	assert.False(t, ok)

	c.Put("Orders", ColumnMap{"id": {ColumnName: "id"}}, true)
	cols, ok := c.Get("Orders")
	require.True(t, ok)
	assert.Contains(t, cols, "id")
}

func TestCache_EnhancedPreferredOverBasic(t *testing.T) {
	c := NewCache(newFakeSampler(0), nil, DefaultCacheConfig(), nil, nil)
	defer c.Close()

	c.Put("Orders", ColumnMap{"id": {ColumnName: "id", DiscoverySource: "declared-key"}}, false)
	c.Put("Orders", ColumnMap{"id": {ColumnName: "id", DiscoverySource: "sampling"}}, true)

	cols, ok := c.Get("Orders")
	require.True(t, ok)
	assert.Equal(t, "sampling", cols["id"].DiscoverySource)
}

func TestCache_ExpirationSweepRemovesStaleEntries(t *testing.T) {
	cfg := CacheConfig{RefreshInterval: time.Hour, TTL: 20 * time.Millisecond}
	c := NewCache(newFakeSampler(0), nil, cfg, nil, nil)
	defer c.Close()

	c.Put("Orders", ColumnMap{"id": {}}, true)
	time.Sleep(30 * time.Millisecond)
	c.sweepExpired()

	_, ok := c.Get("Orders")
	assert.False(t, ok)
}

func TestCache_StatsReportsEnhancedCount(t *testing.T) {
	c := NewCache(newFakeSampler(0), nil, DefaultCacheConfig(), nil, nil)
	defer c.Close()

	c.Put("A", ColumnMap{"id": {}}, false)
	c.Put("B", ColumnMap{"id": {}}, true)

	total, enhanced := c.Stats()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, enhanced)
}

func TestCache_RefreshOneUpdatesEntry(t *testing.T) {
	sampler := newFakeSampler(0)
	c := NewCache(sampler, nil, DefaultCacheConfig(), nil, nil)
	defer c.Close()

	c.Put("Orders", ColumnMap{"stale": {}}, false)
	c.refreshOne("Orders")

	cols, ok := c.Get("Orders")
	require.True(t, ok)
	assert.Contains(t, cols, "id")
}

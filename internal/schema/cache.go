package schema

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ddbsql/ddbsql/internal/observability"
)

// CacheConfig mirrors spec.md §4.9's tunables.
type CacheConfig struct {
	RefreshInterval time.Duration
	TTL             time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		RefreshInterval: 300 * time.Second,
		TTL:             1 * time.Hour,
	}
}

type cacheEntry struct {
	basic      ColumnMap // declared-key / hints-only metadata
	enhanced   ColumnMap // full sampling-derived metadata, once available
	insertedAt time.Time
	updatedAt  time.Time
}

// Cache is the Background-Refreshing Schema Cache (C9): it holds both a
// cheap "basic" entry (populated synchronously from hints) and a richer
// "enhanced" entry (populated asynchronously by sampling), refreshing each
// table on RefreshInterval via a single serialized background task per
// table, and sweeping TTL-expired entries every TTL/4.
// The dual-map/refresh-task shape mirrors the teacher's background refresh
// pattern (internal/middleware/circuit_breaker.go resets its own "half-open"
// state on a timer in the same serialized, flag-guarded way); the actual
// schema-cache bookkeeping is new, from spec.md §4.9.
type Cache struct {
	sampler   tableSampler
	discovery *Discovery
	cfg       CacheConfig
	metrics   *observability.Collector
	logger    *zap.Logger

	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	refreshing map[string]bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewCache(sampler tableSampler, discovery *Discovery, cfg CacheConfig, metrics *observability.Collector, logger *zap.Logger) *Cache {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 300 * time.Second
	}
	if metrics == nil {
		metrics = observability.Noop()
	}
	c := &Cache{
		sampler:    sampler,
		discovery:  discovery,
		cfg:        cfg,
		metrics:    metrics,
		logger:     observability.WithFallback(logger),
		entries:    make(map[string]*cacheEntry),
		refreshing: make(map[string]bool),
		stopCh:     make(chan struct{}),
	}
	c.wg.Add(2)
	go c.refreshLoop()
	go c.expirationLoop()
	return c
}

// Get returns the best available metadata for table: the enhanced entry if
// present, else the basic entry, else a cache miss. It never blocks on a
// remote call — population happens via Put (synchronous, by the executor
// after a lazy-loader lookup) or the background refresh loop.
func (c *Cache) Get(table string) (ColumnMap, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[table]
	if !ok {
		c.metrics.SchemaCacheMisses.Inc()
		return nil, false
	}
	c.metrics.SchemaCacheHits.Inc()
	if entry.enhanced != nil {
		return entry.enhanced, true
	}
	return entry.basic, true
}

// Put installs cols for table, marking it enhanced when source indicates a
// full sampling pass rather than a cheap hints-only pass.
func (c *Cache) Put(table string, cols ColumnMap, enhanced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[table]
	now := time.Now()
	if !ok {
		entry = &cacheEntry{insertedAt: now}
		c.entries[table] = entry
	}
	entry.updatedAt = now
	if enhanced {
		entry.enhanced = cols
	} else {
		entry.basic = cols
	}
}

// refreshLoop periodically re-samples every cached table, one at a time per
// table (serialized by the refreshing flag so a slow sample can't overlap
// itself), never letting a stuck refresh block the ticker for other tables.
func (c *Cache) refreshLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.refreshAll()
		}
	}
}

func (c *Cache) refreshAll() {
	c.mu.RLock()
	tables := make([]string, 0, len(c.entries))
	for t := range c.entries {
		tables = append(tables, t)
	}
	c.mu.RUnlock()

	for _, table := range tables {
		c.mu.Lock()
		if c.refreshing[table] {
			c.mu.Unlock()
			continue
		}
		c.refreshing[table] = true
		c.mu.Unlock()

		go c.refreshOne(table)
	}
}

func (c *Cache) refreshOne(table string) {
	defer func() {
		c.mu.Lock()
		delete(c.refreshing, table)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var cols ColumnMap
	var err error
	if c.discovery != nil {
		cols, err = c.discovery.DiscoverAsync(ctx, table, SamplePolicy{Strategy: StrategyAuto}).Wait()
	} else {
		cols, err = c.sampler.Sample(ctx, table, SamplePolicy{Strategy: StrategyAuto})
	}
	if err != nil {
		c.metrics.SchemaRefreshErrors.Inc()
		c.logger.Warn("background schema refresh failed", zap.String("table", table), zap.Error(err))
		return
	}
	c.metrics.SchemaRefreshCount.Inc()
	c.Put(table, cols, true)
}

// expirationLoop sweeps entries whose updatedAt has exceeded TTL, running
// every ttl/4 per spec.md §4.9.
func (c *Cache) expirationLoop() {
	defer c.wg.Done()
	if c.cfg.TTL <= 0 {
		return
	}
	interval := c.cfg.TTL / 4
	if interval <= 0 {
		interval = c.cfg.TTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *Cache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for table, entry := range c.entries {
		if now.Sub(entry.updatedAt) > c.cfg.TTL {
			delete(c.entries, table)
		}
	}
}

// Stats returns the current number of cached tables and how many hold
// enhanced (sampling-derived) metadata.
func (c *Cache) Stats() (total, enhanced int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total = len(c.entries)
	for _, e := range c.entries {
		if e.enhanced != nil {
			enhanced++
		}
	}
	return total, enhanced
}

// Close stops the background refresh and expiration loops.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

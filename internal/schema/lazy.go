package schema

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ddbsql/ddbsql/internal/driverrors"
	"github.com/ddbsql/ddbsql/internal/observability"
)

// LazyLoadingStrategy selects when C8 actually triggers discovery for a
// table it hasn't seen yet (spec.md §4.8).
type LazyLoadingStrategy string

const (
	StrategyImmediate   LazyLoadingStrategy = "IMMEDIATE"
	StrategyBackground  LazyLoadingStrategy = "BACKGROUND"
	StrategyCachedOnly  LazyLoadingStrategy = "CACHED_ONLY"
	StrategyPredictive  LazyLoadingStrategy = "PREDICTIVE"
)

// LazyConfig mirrors spec.md §4.8's tunables.
type LazyConfig struct {
	Strategy                LazyLoadingStrategy
	MaxCacheSize            int
	TTL                     time.Duration
	PredictiveThreshold     int // access count above which a table becomes "hot"
	PredictivePreloadCount  int // K: how many additional hot tables to preload
}

func DefaultLazyConfig() LazyConfig {
	return LazyConfig{
		Strategy:               StrategyBackground,
		MaxCacheSize:           1000,
		TTL:                    1 * time.Hour,
		PredictiveThreshold:    5,
		PredictivePreloadCount: 3,
	}
}

type lazyEntry struct {
	cols         ColumnMap
	lastAccessAt time.Time
	insertedAt   time.Time
	accessCount  int
}

// LazyLoader is the on-demand schema cache of C8: a table's ColumnMap is
// discovered only when first requested (or, under PREDICTIVE, when a
// related hot table is requested), evicted by LRU once MaxCacheSize is
// exceeded, and expired by TTL. The LRU-by-lastAccessAt eviction policy
// mirrors the teacher's bounded in-memory caches
// (internal/infrastructure/observability/metrics.go keeps bounded counters
// the same defensive way); the strategy switch and predictive preload are
// new, built directly from spec.md §4.8.
type LazyLoader struct {
	discovery *Discovery
	cfg       LazyConfig
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[string]*lazyEntry
}

func NewLazyLoader(discovery *Discovery, cfg LazyConfig, logger *zap.Logger) *LazyLoader {
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = 1000
	}
	return &LazyLoader{
		discovery: discovery,
		cfg:       cfg,
		logger:    observability.WithFallback(logger),
		entries:   make(map[string]*lazyEntry),
	}
}

// Get returns the ColumnMap for table, discovering it according to the
// configured strategy if it isn't already cached.
func (l *LazyLoader) Get(ctx context.Context, table string, policy SamplePolicy) (ColumnMap, error) {
	l.mu.Lock()
	entry, ok := l.entries[table]
	if ok && !l.expired(entry) {
		entry.lastAccessAt = time.Now()
		entry.accessCount++
		cols := entry.cols
		l.mu.Unlock()
		l.maybePredictivePreload(ctx, table, policy)
		return cols, nil
	}
	l.mu.Unlock()

	switch l.cfg.Strategy {
	case StrategyCachedOnly:
		return nil, nil // cache miss under CACHED_ONLY never triggers discovery
	case StrategyBackground:
		future := l.discovery.DiscoverAsync(ctx, table, policy)
		go func() {
			cols, err := future.Wait()
			if err != nil {
				l.logger.Warn("background schema load failed", zap.String("table", table), zap.Error(err))
				return
			}
			l.store(table, cols)
		}()
		return nil, nil // caller proceeds without schema; executor degrades gracefully
	default: // IMMEDIATE, PREDICTIVE (the initial miss always blocks; PREDICTIVE governs neighbors)
		cols, err := l.discovery.DiscoverAsync(ctx, table, policy).Wait()
		if err != nil {
			return nil, driverrors.DiscoveryPartial("lazyLoader.Get", table, err)
		}
		l.store(table, cols)
		if l.cfg.Strategy == StrategyPredictive {
			l.maybePredictivePreload(ctx, table, policy)
		}
		return cols, nil
	}
}

// maybePredictivePreload implements spec.md §4.8's PREDICTIVE strategy:
// once a table's access count reaches PredictiveThreshold, up to
// PredictivePreloadCount other hot tables whose entries have expired (so are
// no longer served from the cache) are preloaded in the background. Only
// tables the loader has already seen carry an access count; a table never
// loaded before is not a candidate. "Related" is approximated as "also
// frequently accessed" — there is no join-graph to consult in a generic SQL
// driver.
func (l *LazyLoader) maybePredictivePreload(ctx context.Context, triggerTable string, policy SamplePolicy) {
	if l.cfg.Strategy != StrategyPredictive {
		return
	}
	l.mu.Lock()
	trigger, ok := l.entries[triggerTable]
	if !ok || trigger.accessCount < l.cfg.PredictiveThreshold {
		l.mu.Unlock()
		return
	}
	candidates := make([]string, 0)
	for name, e := range l.entries {
		if name == triggerTable {
			continue
		}
		if l.expired(e) && e.accessCount >= l.cfg.PredictiveThreshold && len(candidates) < l.cfg.PredictivePreloadCount {
			candidates = append(candidates, name)
		}
	}
	l.mu.Unlock()

	for _, table := range candidates {
		future := l.discovery.DiscoverAsync(ctx, table, policy)
		go func(table string) {
			cols, err := future.Wait()
			if err == nil {
				l.store(table, cols)
			}
		}(table)
	}
}

func (l *LazyLoader) store(table string, cols ColumnMap) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if existing, ok := l.entries[table]; ok {
		existing.cols = cols
		existing.lastAccessAt = now
		existing.insertedAt = now
		return
	}
	l.entries[table] = &lazyEntry{cols: cols, lastAccessAt: now, insertedAt: now, accessCount: 1}
	if len(l.entries) > l.cfg.MaxCacheSize {
		l.evictLRU()
	}
}

func (l *LazyLoader) expired(e *lazyEntry) bool {
	return l.cfg.TTL > 0 && time.Since(e.insertedAt) > l.cfg.TTL
}

// evictLRU removes the entry with the oldest lastAccessAt. Caller holds l.mu.
func (l *LazyLoader) evictLRU() {
	var oldestTable string
	var oldestAt time.Time
	first := true
	for table, e := range l.entries {
		if first || e.lastAccessAt.Before(oldestAt) {
			oldestTable, oldestAt, first = table, e.lastAccessAt, false
		}
	}
	if !first {
		delete(l.entries, oldestTable)
	}
}

// Invalidate drops table from the cache, forcing the next Get to rediscover.
func (l *LazyLoader) Invalidate(table string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, table)
}

// Size returns the current number of cached tables.
func (l *LazyLoader) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

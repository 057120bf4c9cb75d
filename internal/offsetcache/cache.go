// Package offsetcache implements the Offset-Token Cache (C3): for each SQL
// fingerprint, an ordered map from scan position to the continuation token
// observed there, so a large-OFFSET query can resume near its target instead
// of re-scanning from zero. Grounded on the teacher's cursor/token helpers in
// internal/repository/pagination.go (EncodeCursor/DecodeCursor,
// LastEvaluatedKey) for the "token is an opaque, serializable value" idiom,
// with the per-fingerprint ordering and LRU/TTL eviction this spec adds.
package offsetcache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/ddbsql/ddbsql/internal/observability"
)

// Entry is one cached (position -> token) mapping for a fingerprint.
type Entry struct {
	Position   int
	Token      string
	InsertedAt time.Time
}

// Config mirrors spec.md §4.3 defaults.
type Config struct {
	Interval int           // shouldCache(position) granularity, default 100
	Size     int           // max total entries across all fingerprints, default 100
	TTL      time.Duration // default 3600s
}

func DefaultConfig() Config {
	return Config{Interval: 100, Size: 100, TTL: time.Hour}
}

// Cache is the offset-token cache. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string][]Entry // fingerprint -> entries, sorted by Position ascending
	count   int
	metrics *observability.Collector
	now     func() time.Time
}

func New(cfg Config, metrics *observability.Collector) *Cache {
	if cfg.Interval <= 0 {
		cfg.Interval = 100
	}
	if cfg.Size <= 0 {
		cfg.Size = 100
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if metrics == nil {
		metrics = observability.Noop()
	}
	return &Cache{cfg: cfg, entries: make(map[string][]Entry), metrics: metrics, now: time.Now}
}

// Fingerprint derives the cache key from SQL text (spec.md glossary).
func Fingerprint(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:16])
}

// ShouldCache reports whether position is a caching checkpoint.
func (c *Cache) ShouldCache(position int) bool {
	return position%c.cfg.Interval == 0
}

// Get returns the entry with the largest Position <= target for sql, or
// false if no usable (non-expired) entry exists. O(log n) per fingerprint
// via binary search over the sorted slice.
func (c *Cache) Get(sql string, target int) (Entry, bool) {
	fp := Fingerprint(sql)

	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.entries[fp]
	if len(list) == 0 {
		c.metrics.OffsetCacheMisses.Inc()
		return Entry{}, false
	}

	// list is sorted ascending by Position; find the rightmost entry with
	// Position <= target.
	idx := sort.Search(len(list), func(i int) bool { return list[i].Position > target }) - 1
	now := c.now()
	for idx >= 0 {
		e := list[idx]
		if now.Sub(e.InsertedAt) <= c.cfg.TTL {
			c.metrics.OffsetCacheHits.Inc()
			return e, true
		}
		idx--
	}
	c.metrics.OffsetCacheMisses.Inc()
	return Entry{}, false
}

// Put inserts a (position, token) pair for sql, evicting the globally oldest
// entry (by InsertedAt) if the total count would exceed cfg.Size.
func (c *Cache) Put(sql string, position int, token string) {
	fp := Fingerprint(sql)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.entries[fp]
	// Keep entries sorted and unique by Position (last write wins).
	idx := sort.Search(len(list), func(i int) bool { return list[i].Position >= position })
	if idx < len(list) && list[idx].Position == position {
		list[idx] = Entry{Position: position, Token: token, InsertedAt: now}
	} else {
		list = append(list, Entry{})
		copy(list[idx+1:], list[idx:])
		list[idx] = Entry{Position: position, Token: token, InsertedAt: now}
		c.count++
	}
	c.entries[fp] = list

	if c.count > c.cfg.Size {
		c.evictOldest()
	}
}

// evictOldest removes the single globally oldest entry by InsertedAt.
// Caller must hold c.mu.
func (c *Cache) evictOldest() {
	var oldestFP string
	oldestIdx := -1
	var oldestTime time.Time

	for fp, list := range c.entries {
		for i, e := range list {
			if oldestIdx == -1 || e.InsertedAt.Before(oldestTime) {
				oldestFP, oldestIdx, oldestTime = fp, i, e.InsertedAt
			}
		}
	}
	if oldestIdx == -1 {
		return
	}
	list := c.entries[oldestFP]
	c.entries[oldestFP] = append(list[:oldestIdx], list[oldestIdx+1:]...)
	if len(c.entries[oldestFP]) == 0 {
		delete(c.entries, oldestFP)
	}
	c.count--
	c.metrics.OffsetCacheEvictions.Inc()
}

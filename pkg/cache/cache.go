// Package cache caches analysis log records by query id. Records are
// immutable once written, so entries never need invalidation on update.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/TFMV/duckprof/pkg/models"
)

// Cache defines the interface for caching query records.
type Cache interface {
	// Get returns the record and whether it was cached.
	Get(ctx context.Context, id int64) (*models.QueryRecord, bool, error)
	// Put stores a record under its query id.
	Put(ctx context.Context, rec *models.QueryRecord) error
	// Clear removes all entries.
	Clear(ctx context.Context) error
	// Stats returns hit/miss statistics of this process.
	Stats() Stats
	// Close releases any resources held by the cache.
	Close() error
}

// cacheEntry is a single cache entry with metadata.
type cacheEntry struct {
	record    models.QueryRecord
	createdAt time.Time
	lastUsed  time.Time
}

// MemoryCache implements Cache in process memory with LRU eviction.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[int64]*cacheEntry
	maxEntries int
	ttl        time.Duration
	stats      *StatsCollector
	now        func() time.Time
}

// NewMemoryCache creates a memory cache holding at most maxEntries records.
// A zero ttl keeps entries until evicted.
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultConfig().MaxEntries
	}
	return &MemoryCache{
		entries:    make(map[int64]*cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		stats:      NewStatsCollector(),
		now:        time.Now,
	}
}

// Get returns a copy of the cached record.
func (c *MemoryCache) Get(ctx context.Context, id int64) (*models.QueryRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if ok && c.expired(entry) {
		delete(c.entries, id)
		c.stats.RecordEviction()
		c.stats.UpdateSize(int64(len(c.entries)))
		ok = false
	}
	if !ok {
		c.stats.RecordMiss()
		return nil, false, nil
	}

	entry.lastUsed = c.now()
	c.stats.RecordHit()
	return cloneRecord(&entry.record), true, nil
}

// Put stores a copy of rec.
func (c *MemoryCache) Put(ctx context.Context, rec *models.QueryRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[rec.QueryID]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	now := c.now()
	c.entries[rec.QueryID] = &cacheEntry{
		record:    *cloneRecord(rec),
		createdAt: now,
		lastUsed:  now,
	}
	c.stats.UpdateSize(int64(len(c.entries)))
	return nil
}

// Clear removes all entries.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[int64]*cacheEntry)
	c.stats.UpdateSize(0)
	return nil
}

// Stats returns the cache statistics.
func (c *MemoryCache) Stats() Stats {
	return c.stats.GetStats()
}

// Close releases any resources held by the cache.
func (c *MemoryCache) Close() error {
	return c.Clear(context.Background())
}

func (c *MemoryCache) expired(e *cacheEntry) bool {
	return c.ttl > 0 && c.now().Sub(e.createdAt) > c.ttl
}

// evictOldest removes the least recently used entry.
func (c *MemoryCache) evictOldest() {
	var oldestID int64
	var oldest *cacheEntry

	for id, entry := range c.entries {
		if oldest == nil || entry.lastUsed.Before(oldest.lastUsed) {
			oldestID = id
			oldest = entry
		}
	}

	if oldest != nil {
		delete(c.entries, oldestID)
		c.stats.RecordEviction()
	}
}

func cloneRecord(rec *models.QueryRecord) *models.QueryRecord {
	out := *rec
	if rec.RecommendationSnippets != nil {
		out.RecommendationSnippets = append([]string(nil), rec.RecommendationSnippets...)
	}
	return &out
}

// Package modelcache provides a bounded, TTL-aware cache of loaded model
// handles keyed by (model id, version id), with strict LRU eviction.
package modelcache

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// Handle is an opaque loaded artifact owned by the cache. The cache closes a
// handle when its entry is evicted, expired, or removed; callers must not
// retain handles beyond the call that returned them.
type Handle interface {
	Close() error
}

// key identifies one cached entry.
type key struct {
	modelID   string
	versionID string
}

// entry is one loaded resource plus its bookkeeping.
type entry struct {
	handle     Handle
	sourcePath string
	loadedAt   time.Time
	lastUsedAt time.Time
	useCount   int
	seq        uint64 // insertion order, breaks lastUsedAt ties deterministically
}

// Cache is a thread-safe, capacity- and TTL-bounded model handle cache.
type Cache struct {
	mu       sync.Mutex
	entries  map[key]*entry
	capacity int
	ttl      time.Duration
	nextSeq  uint64
	logger   *slog.Logger

	// statFile is swappable for tests; defaults to os.Stat.
	statFile func(path string) (os.FileInfo, error)
}

// New creates a cache holding at most capacity entries, expiring entries
// unused for longer than ttl. A non-positive capacity defaults to 1.
func New(capacity int, ttl time.Duration, logger *slog.Logger) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		entries:  make(map[key]*entry),
		capacity: capacity,
		ttl:      ttl,
		logger:   logger,
		statFile: os.Stat,
	}
}

// Get returns the cached handle for (modelID, versionID) and refreshes its
// last-use bookkeeping. It returns nil, false when there is no entry, when
// the entry's idle time exceeded the TTL, or when the backing artifact no
// longer exists; stale entries are removed (and closed) on the way out.
func (c *Cache) Get(modelID, versionID string) (Handle, bool) {
	k := key{modelID, versionID}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		cacheMisses.Inc()
		return nil, false
	}

	if c.ttl > 0 && now.Sub(e.lastUsedAt) > c.ttl {
		c.removeLocked(k, reasonExpired)
		cacheMisses.Inc()
		return nil, false
	}

	if _, err := c.statFile(e.sourcePath); err != nil {
		c.logger.Info("evicting cache entry with missing artifact",
			"model_id", modelID, "version_id", versionID, "source_path", e.sourcePath)
		c.removeLocked(k, reasonStale)
		cacheMisses.Inc()
		return nil, false
	}

	e.lastUsedAt = now
	e.useCount++
	cacheHits.Inc()
	return e.handle, true
}

// Put inserts or replaces the entry for (modelID, versionID). When the key
// is new and the cache is full, the least-recently-used entry is evicted
// first, so the cache never exceeds its capacity.
func (c *Cache) Put(modelID, versionID, sourcePath string, handle Handle) {
	k := key{modelID, versionID}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[k]; exists {
		// Replace in place: the old handle is released.
		c.removeLocked(k, reasonReplaced)
	} else if len(c.entries) >= c.capacity {
		c.evictLRULocked()
	}

	c.entries[k] = &entry{
		handle:     handle,
		sourcePath: sourcePath,
		loadedAt:   now,
		lastUsedAt: now,
		seq:        c.nextSeq,
	}
	c.nextSeq++
	cacheSize.Set(float64(len(c.entries)))
}

// Remove drops one version of a model. It reports whether an entry existed.
func (c *Cache) Remove(modelID, versionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{modelID, versionID}
	if _, ok := c.entries[k]; !ok {
		return false
	}
	c.removeLocked(k, reasonExplicit)
	return true
}

// RemoveModel drops every cached version of a model and returns how many
// entries were removed.
func (c *Cache) RemoveModel(modelID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if k.modelID == modelID {
			c.removeLocked(k, reasonExplicit)
			removed++
		}
	}
	return removed
}

// Clear drops every entry, closing all handles.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		c.removeLocked(k, reasonExplicit)
	}
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLRULocked removes the entry with the oldest lastUsedAt, breaking ties
// by insertion order. Callers must hold c.mu.
func (c *Cache) evictLRULocked() {
	var victim key
	var victimEntry *entry
	for k, e := range c.entries {
		if victimEntry == nil ||
			e.lastUsedAt.Before(victimEntry.lastUsedAt) ||
			(e.lastUsedAt.Equal(victimEntry.lastUsedAt) && e.seq < victimEntry.seq) {
			victim = k
			victimEntry = e
		}
	}
	if victimEntry != nil {
		c.logger.Debug("evicting least-recently-used cache entry",
			"model_id", victim.modelID, "version_id", victim.versionID)
		c.removeLocked(victim, reasonCapacity)
	}
}

// removeLocked deletes an entry and closes its handle. Callers must hold c.mu.
func (c *Cache) removeLocked(k key, reason string) {
	e, ok := c.entries[k]
	if !ok {
		return
	}
	delete(c.entries, k)
	cacheEvictions.WithLabelValues(reason).Inc()
	cacheSize.Set(float64(len(c.entries)))

	if e.handle != nil {
		if err := e.handle.Close(); err != nil {
			c.logger.Warn("closing evicted model handle failed",
				"model_id", k.modelID, "version_id", k.versionID, "error", err)
		}
	}
}

package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"anime-recs-api/logcolors"
	"anime-recs-api/utils"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultTTL     = time.Hour
	DefaultMaxSize = 1000
)

// Cache is a bounded in-memory key/value store with TTL expiry.
// Every operation holds a single mutex, so callers never observe a
// half-cleaned map.
type Cache struct {
	mu                 sync.Mutex
	entries            map[string]Entry
	ttl                time.Duration
	maxSize            int
	compressionEnabled bool
	now                func() time.Time
}

// Entry is a cached value and the time it was inserted.
// Value is gzip+base64 encoded when compression is enabled.
type Entry struct {
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats describes the cache's current occupancy and limits.
type Stats struct {
	Size       int `json:"size"`
	MaxSize    int `json:"max_size"`
	TTLSeconds int `json:"ttl"`
}

// New creates a cache. Non-positive ttl or maxSize fall back to the defaults.
func New(ttl time.Duration, maxSize int, compressionEnabled bool) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	return &Cache{
		entries:            make(map[string]Entry),
		ttl:                ttl,
		maxSize:            maxSize,
		compressionEnabled: compressionEnabled,
		now:                time.Now,
	}
}

func (c *Cache) expired(e Entry, now time.Time) bool {
	return now.Sub(e.Timestamp) > c.ttl
}

// Get returns the value for key. Expired entries are evicted and reported
// as absent. A value that cannot be decoded is dropped and returned as an
// *OperationError.
func (c *Cache) Get(key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}

	if c.expired(entry, c.now()) {
		delete(c.entries, key)
		return "", false, nil
	}

	if !c.compressionEnabled {
		return entry.Value, true, nil
	}

	value, err := utils.DecompressString(entry.Value)
	if err != nil {
		delete(c.entries, key)
		log.Errorf("%s Error decompressing cache value for key %s: %v", logcolors.LogCache, key, err)
		return "", false, &OperationError{Op: "get", Key: key, Err: err}
	}
	return value, true, nil
}

// Set stores value under key with the current timestamp. Expired entries
// are dropped first; if the cache is still full the oldest entries are
// evicted so the size never exceeds maxSize.
func (c *Cache) Set(key, value string) error {
	stored := value
	if c.compressionEnabled {
		compressed, err := utils.CompressString(value)
		if err != nil {
			log.Errorf("%s Error compressing cache value for key %s: %v", logcolors.LogCache, key, err)
			return &OperationError{Op: "set", Key: key, Err: err}
		}
		stored = compressed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.cleanupLocked(now, key)
	c.entries[key] = Entry{Value: stored, Timestamp: now}
	return nil
}

// cleanupLocked removes expired entries and then evicts the oldest entries
// until there is room for incoming. Caller holds c.mu.
func (c *Cache) cleanupLocked(now time.Time, incoming string) int {
	removed := 0
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			removed++
		}
	}

	limit := c.maxSize
	if _, exists := c.entries[incoming]; !exists {
		limit--
	}
	if len(c.entries) <= limit {
		return removed
	}

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].Timestamp.Before(c.entries[keys[j]].Timestamp)
	})

	for _, k := range keys[:len(c.entries)-limit] {
		delete(c.entries, k)
		removed++
	}
	return removed
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

// DeleteExpired drops every expired entry and returns how many were removed.
func (c *Cache) DeleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Stats returns size, capacity and TTL.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:       len(c.entries),
		MaxSize:    c.maxSize,
		TTLSeconds: int(c.ttl / time.Second),
	}
}

// Keys returns the live keys in insertion order, oldest first.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		if !c.expired(e, now) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, tj := c.entries[keys[i]].Timestamp, c.entries[keys[j]].Timestamp
		if ti.Equal(tj) {
			return keys[i] < keys[j]
		}
		return ti.Before(tj)
	})
	return keys
}

// StartJanitor sweeps expired entries every interval until ctx is done.
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	log.Infof("%s Starting cache janitor (interval: %v)", logcolors.LogCacheJanitor, interval)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := c.DeleteExpired(); n > 0 {
					log.Debugf("%s Removed %d expired entries", logcolors.LogCacheJanitor, n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

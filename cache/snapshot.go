package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"anime-recs-api/logcolors"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var (
	entriesBucket  = []byte("entries")
	metaBucket     = []byte("meta")
	compressionKey = []byte("compressed")
)

// SaveSnapshot writes every live entry to a bbolt file at path, replacing
// whatever an earlier snapshot held. It returns the number of entries written.
func (c *Cache) SaveSnapshot(path string) (int, error) {
	c.mu.Lock()
	now := c.now()
	live := make(map[string]Entry, len(c.entries))
	for k, e := range c.entries {
		if !c.expired(e, now) {
			live[k] = e
		}
	}
	compressed := c.compressionEnabled
	c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return 0, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(entriesBucket) != nil {
			if err := tx.DeleteBucket(entriesBucket); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(entriesBucket)
		if err != nil {
			return err
		}
		for k, e := range live {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(k), data); err != nil {
				return err
			}
		}

		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		flag := []byte("0")
		if compressed {
			flag = []byte("1")
		}
		return meta.Put(compressionKey, flag)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write snapshot: %w", err)
	}

	log.Infof("%s Saved %d entries to %s", logcolors.LogCacheSnapshot, len(live), path)
	return len(live), nil
}

// LoadSnapshot merges entries from a snapshot at path into the cache and
// returns how many were restored. Entries keep their original timestamps, so
// anything older than the TTL is skipped. When the cache would overflow, the
// newest entries win. A missing file is not an error. A snapshot written with
// a different compression setting is ignored.
func (c *Cache) LoadSnapshot(path string) (int, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return 0, nil
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return 0, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer db.Close()

	loaded := make(map[string]Entry)
	compressed := false
	err = db.View(func(tx *bolt.Tx) error {
		if meta := tx.Bucket(metaBucket); meta != nil {
			compressed = string(meta.Get(compressionKey)) == "1"
		}
		b := tx.Bucket(entriesBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				log.Warnf("%s Skipping unreadable entry %s: %v", logcolors.LogCacheSnapshot, k, err)
				return nil
			}
			loaded[string(k)] = e
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if compressed != c.compressionEnabled {
		log.Warnf("%s Ignoring %s: written with compression=%v", logcolors.LogCacheSnapshot, path, compressed)
		return 0, nil
	}

	now := c.now()
	restored := 0
	for k, e := range loaded {
		// a snapshot from a clock running ahead must not outlive the TTL
		if e.Timestamp.After(now) {
			e.Timestamp = now
			loaded[k] = e
		}
		if c.expired(e, now) {
			continue
		}
		if cur, ok := c.entries[k]; ok && !cur.Timestamp.Before(e.Timestamp) {
			continue
		}
		c.entries[k] = e
		restored++
	}
	restored -= c.trimLocked(loaded)

	log.Infof("%s Restored %d entries from %s", logcolors.LogCacheSnapshot, restored, path)
	return restored, nil
}

// trimLocked evicts the oldest entries until the cache fits maxSize and
// returns how many of the evicted keys came from restored. Caller holds c.mu.
func (c *Cache) trimLocked(restored map[string]Entry) int {
	if len(c.entries) <= c.maxSize {
		return 0
	}

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].Timestamp.Before(c.entries[keys[j]].Timestamp)
	})

	dropped := 0
	for _, k := range keys[:len(c.entries)-c.maxSize] {
		if e, ok := restored[k]; ok && e.Timestamp.Equal(c.entries[k].Timestamp) {
			dropped++
		}
		delete(c.entries, k)
	}
	return dropped
}

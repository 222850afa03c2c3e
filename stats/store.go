package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"anime-recs-api/logcolors"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	statsBucketName = "stats"
	statsKey        = "server_stats"
)

// Store handles persistent storage for stats
type Store struct {
	db       *bolt.DB
	dbPath   string
	stats    *Stats
	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// PersistedStats represents the stats data that gets persisted to disk
type PersistedStats struct {
	// Cumulative counters (these accumulate across restarts)
	TotalRequests     int64 `json:"total_requests"`
	RecommendRequests int64 `json:"recommend_requests"`
	GenreRequests     int64 `json:"genre_requests"`
	AdminRequests     int64 `json:"admin_requests"`
	HealthRequests    int64 `json:"health_requests"`
	OtherRequests     int64 `json:"other_requests"`
	CacheHits         int64 `json:"cache_hits"`
	CacheMisses       int64 `json:"cache_misses"`
	CacheErrors       int64 `json:"cache_errors"`
	UpstreamQueries   int64 `json:"upstream_queries"`
	UpstreamFailures  int64 `json:"upstream_failures"`
	EmptyResults      int64 `json:"empty_results"`
	RateLimitAllowed  int64 `json:"rate_limit_allowed"`
	RateLimitExceeded int64 `json:"rate_limit_exceeded"`
	RateLimitFailOpen int64 `json:"rate_limit_fail_open"`
	RateLimitBypass   int64 `json:"rate_limit_bypass"`
	Status2xx         int64 `json:"status_2xx"`
	Status4xx         int64 `json:"status_4xx"`
	Status5xx         int64 `json:"status_5xx"`

	// Response time tracking
	TotalResponseTime      int64 `json:"total_response_time"`
	ResponseCount          int64 `json:"response_count"`
	MinResponseTime        int64 `json:"min_response_time"`
	MaxResponseTime        int64 `json:"max_response_time"`
	RecommendResponseTime  int64 `json:"recommend_response_time"`
	RecommendResponseCount int64 `json:"recommend_response_count"`

	GenreUsage map[string]int64 `json:"genre_usage"`

	// Metadata
	LastSaved    time.Time `json:"last_saved"`
	FirstStarted time.Time `json:"first_started"`
}

// NewStore creates a new stats store with a dedicated BoltDB file.
// A nil stats uses the global instance.
func NewStore(dbPath string, s *Stats) (*Store, error) {
	if s == nil {
		s = Get()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create stats directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open stats database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(statsBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create stats bucket: %w", err)
	}

	store := &Store{
		db:       db,
		dbPath:   dbPath,
		stats:    s,
		stopChan: make(chan struct{}),
	}

	log.Infof("%s Stats store initialized at %s", logcolors.LogStats, dbPath)
	return store, nil
}

// Load reads persisted stats from disk and applies them to the store's stats
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var persisted PersistedStats
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(statsBucketName))
		if b == nil {
			return nil
		}

		data := b.Get([]byte(statsKey))
		if data == nil {
			return nil // No persisted stats yet
		}

		found = true
		return json.Unmarshal(data, &persisted)
	})
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}
	if !found {
		return nil
	}

	stats := s.stats

	stats.TotalRequests.Store(persisted.TotalRequests)
	stats.RecommendRequests.Store(persisted.RecommendRequests)
	stats.GenreRequests.Store(persisted.GenreRequests)
	stats.AdminRequests.Store(persisted.AdminRequests)
	stats.HealthRequests.Store(persisted.HealthRequests)
	stats.OtherRequests.Store(persisted.OtherRequests)
	stats.CacheHits.Store(persisted.CacheHits)
	stats.CacheMisses.Store(persisted.CacheMisses)
	stats.CacheErrors.Store(persisted.CacheErrors)
	stats.UpstreamQueries.Store(persisted.UpstreamQueries)
	stats.UpstreamFailures.Store(persisted.UpstreamFailures)
	stats.EmptyResults.Store(persisted.EmptyResults)
	stats.RateLimitAllowed.Store(persisted.RateLimitAllowed)
	stats.RateLimitExceeded.Store(persisted.RateLimitExceeded)
	stats.RateLimitFailOpen.Store(persisted.RateLimitFailOpen)
	stats.RateLimitBypass.Store(persisted.RateLimitBypass)
	stats.Status2xx.Store(persisted.Status2xx)
	stats.Status4xx.Store(persisted.Status4xx)
	stats.Status5xx.Store(persisted.Status5xx)
	stats.totalResponseTime.Store(persisted.TotalResponseTime)
	stats.responseCount.Store(persisted.ResponseCount)
	stats.recommendResponseTime.Store(persisted.RecommendResponseTime)
	stats.recommendResponseCount.Store(persisted.RecommendResponseCount)

	// Only update min/max if we have valid persisted values
	if persisted.MinResponseTime > 0 && persisted.MinResponseTime < maxInt64 {
		stats.minResponseTime.Store(persisted.MinResponseTime)
	}
	if persisted.MaxResponseTime > 0 {
		stats.maxResponseTime.Store(persisted.MaxResponseTime)
	}

	for genre, count := range persisted.GenreUsage {
		counter := &atomic.Int64{}
		counter.Store(count)
		stats.genreUsage.Store(genre, counter)
	}

	// Preserve the original first start time if available
	if !persisted.FirstStarted.IsZero() {
		stats.StartTime = persisted.FirstStarted
	}

	log.Infof("%s Loaded persisted stats (total requests: %d, first started: %s)",
		logcolors.LogStats, persisted.TotalRequests, persisted.FirstStarted.Format(time.RFC3339))

	return nil
}

// Save persists current stats to disk
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats

	persisted := PersistedStats{
		TotalRequests:          stats.TotalRequests.Load(),
		RecommendRequests:      stats.RecommendRequests.Load(),
		GenreRequests:          stats.GenreRequests.Load(),
		AdminRequests:          stats.AdminRequests.Load(),
		HealthRequests:         stats.HealthRequests.Load(),
		OtherRequests:          stats.OtherRequests.Load(),
		CacheHits:              stats.CacheHits.Load(),
		CacheMisses:            stats.CacheMisses.Load(),
		CacheErrors:            stats.CacheErrors.Load(),
		UpstreamQueries:        stats.UpstreamQueries.Load(),
		UpstreamFailures:       stats.UpstreamFailures.Load(),
		EmptyResults:           stats.EmptyResults.Load(),
		RateLimitAllowed:       stats.RateLimitAllowed.Load(),
		RateLimitExceeded:      stats.RateLimitExceeded.Load(),
		RateLimitFailOpen:      stats.RateLimitFailOpen.Load(),
		RateLimitBypass:        stats.RateLimitBypass.Load(),
		Status2xx:              stats.Status2xx.Load(),
		Status4xx:              stats.Status4xx.Load(),
		Status5xx:              stats.Status5xx.Load(),
		TotalResponseTime:      stats.totalResponseTime.Load(),
		ResponseCount:          stats.responseCount.Load(),
		MinResponseTime:        stats.minResponseTime.Load(),
		MaxResponseTime:        stats.maxResponseTime.Load(),
		RecommendResponseTime:  stats.recommendResponseTime.Load(),
		RecommendResponseCount: stats.recommendResponseCount.Load(),
		GenreUsage:             stats.GenreUsageSnapshot(),
		LastSaved:              time.Now(),
		FirstStarted:           stats.StartTime,
	}

	data, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(statsBucketName))
		if b == nil {
			return fmt.Errorf("stats bucket not found")
		}
		return b.Put([]byte(statsKey), data)
	})

	if err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}

	return nil
}

// StartAutoSave begins periodic saving of stats
func (s *Store) StartAutoSave(interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.Save(); err != nil {
					log.Warnf("%s Failed to auto-save stats: %v", logcolors.LogStats, err)
				}
			case <-s.stopChan:
				return
			}
		}
	}()
	log.Infof("%s Started auto-save with interval %v", logcolors.LogStats, interval)
}

// Close saves stats and closes the database
func (s *Store) Close() error {
	close(s.stopChan)
	s.wg.Wait()

	if err := s.Save(); err != nil {
		log.Warnf("%s Failed to save stats on close: %v", logcolors.LogStats, err)
	} else {
		log.Infof("%s Stats saved on shutdown", logcolors.LogStats)
	}

	return s.db.Close()
}

package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds all server statistics with atomic counters
type Stats struct {
	// Server info
	StartTime time.Time

	// Request counters
	TotalRequests     atomic.Int64
	RecommendRequests atomic.Int64
	GenreRequests     atomic.Int64
	AdminRequests     atomic.Int64
	HealthRequests    atomic.Int64
	OtherRequests     atomic.Int64

	// Cache performance
	CacheHits   atomic.Int64
	CacheMisses atomic.Int64
	CacheErrors atomic.Int64 // failures treated as forced misses

	// Catalog upstream
	UpstreamQueries  atomic.Int64
	UpstreamFailures atomic.Int64
	EmptyResults     atomic.Int64 // requests answered with "no recommendations"

	// Rate limiting
	RateLimitAllowed  atomic.Int64
	RateLimitExceeded atomic.Int64 // Requests rejected (429)
	RateLimitFailOpen atomic.Int64 // Requests admitted because the limiter faulted
	RateLimitBypass   atomic.Int64 // Requests with a valid API key

	// Response status codes
	Status2xx atomic.Int64
	Status4xx atomic.Int64
	Status5xx atomic.Int64

	// Response time tracking (in microseconds for precision)
	totalResponseTime atomic.Int64
	responseCount     atomic.Int64
	minResponseTime   atomic.Int64
	maxResponseTime   atomic.Int64

	// Endpoint response times (microseconds)
	recommendResponseTime  atomic.Int64
	recommendResponseCount atomic.Int64

	// genre label -> *atomic.Int64, how often each genre was queried
	genreUsage sync.Map
}

const maxInt64 = int64(^uint64(0) >> 1)

// Global stats instance
var global = New()

// New returns an empty Stats starting now.
func New() *Stats {
	s := &Stats{StartTime: time.Now()}
	s.minResponseTime.Store(maxInt64)
	return s
}

// Get returns the global stats instance
func Get() *Stats {
	return global
}

// RecordRequest records a request to a specific endpoint
func (s *Stats) RecordRequest(endpoint string) {
	s.TotalRequests.Add(1)
	switch endpoint {
	case "/recommendations":
		s.RecommendRequests.Add(1)
	case "/genres":
		s.GenreRequests.Add(1)
	case "/cache", "/ratelimit", "/circuit-breaker", "/stats":
		s.AdminRequests.Add(1)
	case "/health":
		s.HealthRequests.Add(1)
	default:
		s.OtherRequests.Add(1)
	}
}

// RecordCacheHit records a cache hit
func (s *Stats) RecordCacheHit() {
	s.CacheHits.Add(1)
}

// RecordCacheMiss records a cache miss
func (s *Stats) RecordCacheMiss() {
	s.CacheMisses.Add(1)
}

// RecordCacheError records a cache failure that was downgraded to a miss
func (s *Stats) RecordCacheError() {
	s.CacheErrors.Add(1)
}

// RecordUpstreamQuery records one catalog query for a genre and whether it failed
func (s *Stats) RecordUpstreamQuery(genre string, failed bool) {
	s.UpstreamQueries.Add(1)
	if failed {
		s.UpstreamFailures.Add(1)
	}

	counter, _ := s.genreUsage.LoadOrStore(genre, &atomic.Int64{})
	counter.(*atomic.Int64).Add(1)
}

// RecordEmptyResult records a request that produced no recommendations
func (s *Stats) RecordEmptyResult() {
	s.EmptyResults.Add(1)
}

// RecordRateLimit records a rate limit decision
func (s *Stats) RecordRateLimit(decision string) {
	switch decision {
	case "allowed":
		s.RateLimitAllowed.Add(1)
	case "exceeded":
		s.RateLimitExceeded.Add(1)
	case "fail_open":
		s.RateLimitFailOpen.Add(1)
	case "bypass":
		s.RateLimitBypass.Add(1)
	}
}

// RecordStatusCode records a response status code
func (s *Stats) RecordStatusCode(code int) {
	switch {
	case code >= 200 && code < 300:
		s.Status2xx.Add(1)
	case code >= 400 && code < 500:
		s.Status4xx.Add(1)
	case code >= 500:
		s.Status5xx.Add(1)
	}
}

// RecordResponseTime records a response time
func (s *Stats) RecordResponseTime(duration time.Duration, endpoint string) {
	us := duration.Microseconds()

	s.totalResponseTime.Add(us)
	s.responseCount.Add(1)

	for {
		current := s.minResponseTime.Load()
		if us >= current || s.minResponseTime.CompareAndSwap(current, us) {
			break
		}
	}
	for {
		current := s.maxResponseTime.Load()
		if us <= current || s.maxResponseTime.CompareAndSwap(current, us) {
			break
		}
	}

	if endpoint == "/recommendations" {
		s.recommendResponseTime.Add(us)
		s.recommendResponseCount.Add(1)
	}
}

// Uptime returns the server uptime
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// CacheHitRate returns the cache hit rate as a percentage
func (s *Stats) CacheHitRate() float64 {
	hits := s.CacheHits.Load()
	misses := s.CacheMisses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// UpstreamFailureRate returns the share of failed catalog queries as a percentage
func (s *Stats) UpstreamFailureRate() float64 {
	total := s.UpstreamQueries.Load()
	if total == 0 {
		return 0
	}
	return float64(s.UpstreamFailures.Load()) / float64(total) * 100
}

// AvgResponseTime returns the average response time
func (s *Stats) AvgResponseTime() time.Duration {
	count := s.responseCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.totalResponseTime.Load()/count) * time.Microsecond
}

// MinResponseTime returns the minimum response time
func (s *Stats) MinResponseTime() time.Duration {
	min := s.minResponseTime.Load()
	if min == maxInt64 {
		return 0
	}
	return time.Duration(min) * time.Microsecond
}

// MaxResponseTime returns the maximum response time
func (s *Stats) MaxResponseTime() time.Duration {
	return time.Duration(s.maxResponseTime.Load()) * time.Microsecond
}

// AvgRecommendResponseTime returns the average response time for recommendation requests
func (s *Stats) AvgRecommendResponseTime() time.Duration {
	count := s.recommendResponseCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.recommendResponseTime.Load()/count) * time.Microsecond
}

// GenreUsageSnapshot returns how often each genre was queried
func (s *Stats) GenreUsageSnapshot() map[string]int64 {
	out := make(map[string]int64)
	s.genreUsage.Range(func(k, v interface{}) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// TopGenres returns up to n genres ordered by query count
func (s *Stats) TopGenres(n int) []string {
	usage := s.GenreUsageSnapshot()
	genres := make([]string, 0, len(usage))
	for g := range usage {
		genres = append(genres, g)
	}
	sort.Slice(genres, func(i, j int) bool {
		if usage[genres[i]] == usage[genres[j]] {
			return genres[i] < genres[j]
		}
		return usage[genres[i]] > usage[genres[j]]
	})
	if n > 0 && len(genres) > n {
		genres = genres[:n]
	}
	return genres
}

// Snapshot returns a point-in-time snapshot of all stats
func (s *Stats) Snapshot() map[string]interface{} {
	uptime := s.Uptime()

	return map[string]interface{}{
		"server": map[string]interface{}{
			"start_time":     s.StartTime.Format(time.RFC3339),
			"uptime":         uptime.String(),
			"uptime_seconds": int64(uptime.Seconds()),
		},
		"requests": map[string]interface{}{
			"total":           s.TotalRequests.Load(),
			"recommendations": s.RecommendRequests.Load(),
			"genres":          s.GenreRequests.Load(),
			"admin":           s.AdminRequests.Load(),
			"health":          s.HealthRequests.Load(),
			"other":           s.OtherRequests.Load(),
		},
		"cache": map[string]interface{}{
			"hits":     s.CacheHits.Load(),
			"misses":   s.CacheMisses.Load(),
			"errors":   s.CacheErrors.Load(),
			"hit_rate": s.CacheHitRate(),
		},
		"upstream": map[string]interface{}{
			"queries":       s.UpstreamQueries.Load(),
			"failures":      s.UpstreamFailures.Load(),
			"failure_rate":  s.UpstreamFailureRate(),
			"empty_results": s.EmptyResults.Load(),
			"genre_usage":   s.GenreUsageSnapshot(),
		},
		"rate_limiting": map[string]interface{}{
			"allowed":   s.RateLimitAllowed.Load(),
			"exceeded":  s.RateLimitExceeded.Load(),
			"fail_open": s.RateLimitFailOpen.Load(),
			"bypass":    s.RateLimitBypass.Load(),
		},
		"responses": map[string]interface{}{
			"2xx": s.Status2xx.Load(),
			"4xx": s.Status4xx.Load(),
			"5xx": s.Status5xx.Load(),
		},
		"response_times": map[string]interface{}{
			"avg":                 s.AvgResponseTime().String(),
			"min":                 s.MinResponseTime().String(),
			"max":                 s.MaxResponseTime().String(),
			"avg_recommendations": s.AvgRecommendResponseTime().String(),
		},
	}
}

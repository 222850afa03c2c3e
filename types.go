package main

import (
	"anime-recs-api/cache"
	"anime-recs-api/circuitbreaker"
	"anime-recs-api/config"
	"anime-recs-api/middleware"
	"anime-recs-api/services/genre"
	"anime-recs-api/services/notifier"
	"anime-recs-api/services/recommend"
	"anime-recs-api/stats"
)

// server holds the long-lived components the handlers share.
type server struct {
	conf        config.Config
	recommender *recommend.Service
	scorer      *genre.Scorer
	cache       *cache.Cache
	clients     *middleware.SlidingWindowLimiter
	users       *middleware.SlidingWindowLimiter
	breaker     *circuitbreaker.CircuitBreaker
	statsStore  *stats.Store
	events      *notifier.EventBus
}

// recommendRequest is the POST /recommendations body. Query string
// parameters use the same names.
type recommendRequest struct {
	Text    string `json:"text"`
	Query   string `json:"q"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
}

func (r recommendRequest) text() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Query
}

// GenreExplanation is the /genres response.
type GenreExplanation struct {
	Text      string              `json:"text"`
	Terms     []string            `json:"terms"`
	Selected  []string            `json:"selected"`
	Scores    []genre.Score       `json:"scores"`
	Matched   map[string][]string `json:"matched"` // genre -> keywords found in terms
	Threshold float64             `json:"threshold"`
	Fallback  string              `json:"fallback"`
	Embedding string              `json:"embedding"`
}

// CacheDumpResponse is the response format for the /cache endpoint.
type CacheDumpResponse struct {
	Stats       cache.Stats      `json:"stats"`
	Performance CachePerformance `json:"performance"`
	Keys        []string         `json:"keys"`
}

// CachePerformance contains cache hit/miss statistics
type CachePerformance struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate_percent"`
}

// RateLimitStatus describes one client's window for the admin surface.
type RateLimitStatus struct {
	Client        string `json:"client"`
	Limiter       string `json:"limiter"`
	Limit         int    `json:"limit"`
	DefaultLimit  int    `json:"default_limit"`
	Remaining     int    `json:"remaining"`
	WindowSeconds int    `json:"window_seconds"`
}

// rateLimitUpdate is the PUT /ratelimit/{client} body.
type rateLimitUpdate struct {
	Limit *int `json:"limit"`
}

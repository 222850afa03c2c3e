package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"anime-recs-api/circuitbreaker"
	"anime-recs-api/logcolors"
	"anime-recs-api/metrics"
	"anime-recs-api/middleware"
	"anime-recs-api/services/genre"
	"anime-recs-api/services/nlp"
	"anime-recs-api/stats"
	"anime-recs-api/utils"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const maxRequestBodyBytes = 64 << 10

func (s *server) getRecommendations(w http.ResponseWriter, r *http.Request) {
	req, err := parseRecommendRequest(w, r)
	if err != nil {
		Respond(w, r).ErrorMessage(http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	text := strings.TrimSpace(req.text())
	if text == "" {
		Respond(w, r).ErrorMessage(http.StatusUnprocessableEntity, "Text describing what you want to watch is required (q or text)")
		return
	}

	resp, err := s.recommender.Recommend(r.Context(), text, req.Page, req.PerPage)
	switch {
	case errors.Is(err, nlp.ErrEmptyInput):
		Respond(w, r).ErrorMessage(http.StatusUnprocessableEntity, "Text describing what you want to watch is required (q or text)")
		return
	case err != nil:
		log.Warnf("%s Request for %q abandoned: %v", logcolors.LogRequest, utils.Truncate(text, 80), err)
		Respond(w, r).ErrorMessage(http.StatusServiceUnavailable, "Request cancelled")
		return
	}

	if resp.Error != "" {
		log.Errorf("%s %s", logcolors.LogRecommend, resp.Error)
	}

	Respond(w, r).
		SetCacheStatus(resp.CacheStatus).
		SetGenres(resp.Genres).
		JSON(resp.Payload())
}

// parseRecommendRequest reads q/text, page and per_page from the query
// string, or from a JSON body on POST. Unparseable numbers fall back to
// the defaults.
func parseRecommendRequest(w http.ResponseWriter, r *http.Request) (recommendRequest, error) {
	var req recommendRequest

	if r.Method == http.MethodPost && r.Body != nil {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, err
		}
	}

	q := r.URL.Query()
	if req.text() == "" {
		req.Text = q.Get("text")
		req.Query = q.Get("q")
	}
	if req.Page == 0 {
		req.Page = intParam(q.Get("page"))
	}
	if req.PerPage == 0 {
		req.PerPage = intParam(q.Get("per_page"))
	}
	return req, nil
}

func intParam(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

func (s *server) getGenres(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("q"))
	if text == "" {
		text = strings.TrimSpace(q.Get("text"))
	}
	if text == "" {
		Respond(w, r).ErrorMessage(http.StatusUnprocessableEntity, "Query parameter q is required")
		return
	}

	terms, scores, selected, err := s.recommender.Explain(text)
	if err != nil {
		Respond(w, r).ErrorMessage(http.StatusUnprocessableEntity, err.Error())
		return
	}

	Respond(w, r).SetGenres(selected).JSON(GenreExplanation{
		Text:      text,
		Terms:     terms.Terms(),
		Selected:  selected,
		Scores:    scores,
		Matched:   s.scorer.Matches(terms),
		Threshold: s.scorer.Threshold(),
		Fallback:  s.scorer.Fallback(),
		Embedding: genre.EmbeddingVersion,
	})
}

func (s *server) getHealthStatus(w http.ResponseWriter, r *http.Request) {
	cb := s.breaker.Status()

	health := map[string]interface{}{
		"status":          "ok",
		"genres":          s.scorer.Table().Len(),
		"embedding":       genre.EmbeddingVersion,
		"cache":           s.cache.Stats(),
		"circuit_breaker": cb.State,
		"uptime":          stats.Get().Uptime().Round(time.Second).String(),
	}

	// An open breaker means every catalog query is refused.
	if cb.State == circuitbreaker.StateOpen.String() {
		health["status"] = "degraded"
		health["circuit_breaker_retry_in"] = cb.RetryAfterSeconds
	}

	Respond(w, r).JSON(health)
}

func (s *server) getStats(w http.ResponseWriter, r *http.Request) {
	st := stats.Get()
	snapshot := st.Snapshot()

	snapshot["cache_storage"] = s.cache.Stats()
	snapshot["circuit_breaker"] = s.breaker.Status()
	snapshot["top_genres"] = st.TopGenres(5)
	snapshot["rate_limit_clients"] = s.clients.Clients()
	snapshot["rate_limit_users"] = s.users.Clients()

	if r.URL.Query().Get("by") == "genre" {
		snapshot["genre_usage"] = st.GenreUsageSnapshot()
	}

	Respond(w, r).JSON(snapshot)
}

func (s *server) getCacheDump(w http.ResponseWriter, r *http.Request) {
	st := stats.Get()
	Respond(w, r).JSON(CacheDumpResponse{
		Stats: s.cache.Stats(),
		Performance: CachePerformance{
			Hits:    st.CacheHits.Load(),
			Misses:  st.CacheMisses.Load(),
			Errors:  st.CacheErrors.Load(),
			HitRate: st.CacheHitRate(),
		},
		Keys: s.cache.Keys(),
	})
}

func (s *server) clearCache(w http.ResponseWriter, r *http.Request) {
	cleared := s.cache.Stats().Size
	s.cache.Clear()
	metrics.CacheEntries.Set(0)

	s.events.PublishCacheCleared(cleared)

	log.Infof("%s Cleared %d entries", logcolors.LogCacheClear, cleared)
	Respond(w, r).JSON(map[string]interface{}{
		"message": "Cache cleared successfully",
		"cleared": cleared,
	})
}

func (s *server) deleteCacheKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if _, ok, _ := s.cache.Get(key); !ok {
		Respond(w, r).ErrorMessage(http.StatusNotFound, "Key not found")
		return
	}

	s.cache.Delete(key)
	metrics.CacheEntries.Set(float64(s.cache.Stats().Size))

	log.Infof("%s Deleted key %s", logcolors.LogCacheClear, key)
	Respond(w, r).JSON(map[string]string{
		"message": "Key deleted",
		"key":     key,
	})
}

func (s *server) snapshotCache(w http.ResponseWriter, r *http.Request) {
	saved, err := s.saveCacheSnapshot()
	switch {
	case errors.Is(err, errSnapshotDisabled):
		Respond(w, r).ErrorMessage(http.StatusConflict, err.Error())
		return
	case err != nil:
		Respond(w, r).ErrorMessage(http.StatusInternalServerError, "Failed to save cache snapshot: "+err.Error())
		return
	}

	Respond(w, r).JSON(map[string]interface{}{
		"message": "Cache snapshot saved",
		"path":    s.conf.Configuration.CacheSnapshotPath,
		"entries": saved,
	})
}

// limiterFor picks the user or client limiter from ?type=.
func (s *server) limiterFor(r *http.Request) (*middleware.SlidingWindowLimiter, string) {
	if r.URL.Query().Get("type") == "user" {
		return s.users, "user"
	}
	return s.clients, "client"
}

func (s *server) rateLimitStatus(r *http.Request, client string) RateLimitStatus {
	limiter, name := s.limiterFor(r)
	d := limiter.Admit(client)
	return RateLimitStatus{
		Client:        client,
		Limiter:       name,
		Limit:         limiter.Limit(client),
		DefaultLimit:  limiter.DefaultLimit(),
		Remaining:     d.Remaining,
		WindowSeconds: int(limiter.Window().Seconds()),
	}
}

func (s *server) getRateLimit(w http.ResponseWriter, r *http.Request) {
	client := mux.Vars(r)["client"]
	Respond(w, r).JSON(s.rateLimitStatus(r, client))
}

func (s *server) setRateLimit(w http.ResponseWriter, r *http.Request) {
	client := mux.Vars(r)["client"]

	var body rateLimitUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&body); err != nil || body.Limit == nil {
		Respond(w, r).ErrorMessage(http.StatusBadRequest, `Body must be {"limit": <requests per window>}`)
		return
	}

	limiter, name := s.limiterFor(r)
	if err := limiter.SetLimit(client, *body.Limit); err != nil {
		Respond(w, r).ErrorMessage(http.StatusBadRequest, err.Error())
		return
	}

	log.Infof("%s Set %s limit for %s to %d", logcolors.LogAdmin, name, client, *body.Limit)
	Respond(w, r).JSON(s.rateLimitStatus(r, client))
}

func (s *server) resetRateLimit(w http.ResponseWriter, r *http.Request) {
	client := mux.Vars(r)["client"]
	limiter, name := s.limiterFor(r)
	limiter.ResetLimit(client)

	log.Infof("%s Reset %s limit for %s", logcolors.LogAdmin, name, client)
	Respond(w, r).JSON(s.rateLimitStatus(r, client))
}

func (s *server) getCircuitBreakerStatus(w http.ResponseWriter, r *http.Request) {
	Respond(w, r).JSON(s.breaker.Status())
}

func (s *server) resetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	s.breaker.Reset()
	log.Infof("%s Circuit breaker reset by admin", logcolors.LogAdmin)
	Respond(w, r).JSON(map[string]interface{}{
		"message": "Circuit breaker reset",
		"status":  s.breaker.Status(),
	})
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	Respond(w, r).JSON(map[string]interface{}{
		"help": "Describe what you feel like watching and get anime recommendations. Example: /recommendations?q=fast-paced%20battle%20anime%20with%20explosions",
		"endpoints": map[string]string{
			"GET|POST /recommendations": "Recommendations for q/text (page, per_page optional)",
			"GET /genres":               "Terms and genre scores for q",
			"GET /health":               "Service health",
			"GET /stats":                "Usage statistics",
			"GET /metrics":              "Prometheus metrics",
		},
	})
}

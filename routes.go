package main

import (
	"net/http"

	"anime-recs-api/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes for the API
func setupRoutes(router *mux.Router, s *server) {
	router.Use(middleware.LoggingMiddleware)

	limited := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Clients:        s.clients,
		Users:          s.users,
		APIKey:         s.conf.Configuration.APIKey,
		CountCacheHits: s.conf.FeatureFlags.CountCacheHits,
	})
	admin := middleware.AdminTokenMiddleware(s.conf.Configuration.AdminToken)

	// Recommendation endpoints, rate limited per client
	router.Handle("/recommendations", limited(http.HandlerFunc(s.getRecommendations))).Methods(http.MethodGet, http.MethodPost)
	router.Handle("/genres", limited(http.HandlerFunc(s.getGenres))).Methods(http.MethodGet)

	// Health, stats and metrics endpoints
	router.HandleFunc("/health", s.getHealthStatus).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.getStats).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Cache management endpoints
	router.Handle("/cache", admin(http.HandlerFunc(s.getCacheDump))).Methods(http.MethodGet)
	router.Handle("/cache/clear", admin(http.HandlerFunc(s.clearCache))).Methods(http.MethodPost)
	router.Handle("/cache/snapshot", admin(http.HandlerFunc(s.snapshotCache))).Methods(http.MethodPost)
	router.Handle("/cache/{key:.+}", admin(http.HandlerFunc(s.deleteCacheKey))).Methods(http.MethodDelete)

	// Per-client rate limit overrides
	router.Handle("/ratelimit/{client}", admin(http.HandlerFunc(s.getRateLimit))).Methods(http.MethodGet)
	router.Handle("/ratelimit/{client}", admin(http.HandlerFunc(s.setRateLimit))).Methods(http.MethodPut)
	router.Handle("/ratelimit/{client}", admin(http.HandlerFunc(s.resetRateLimit))).Methods(http.MethodDelete)

	// Circuit breaker endpoints
	router.Handle("/circuit-breaker", admin(http.HandlerFunc(s.getCircuitBreakerStatus))).Methods(http.MethodGet)
	router.Handle("/circuit-breaker/reset", admin(http.HandlerFunc(s.resetCircuitBreaker))).Methods(http.MethodPost)

	// Help endpoint
	router.HandleFunc("/", helpHandler)
}

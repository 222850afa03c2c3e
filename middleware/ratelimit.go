package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"anime-recs-api/logcolors"
	"anime-recs-api/metrics"
	"anime-recs-api/stats"

	log "github.com/sirupsen/logrus"
)

// RateLimitConfig wires the limiters into RateLimitMiddleware.
type RateLimitConfig struct {
	Clients *SlidingWindowLimiter // keyed by client IP
	Users   *SlidingWindowLimiter // keyed by X-User-ID
	APIKey  string                // X-API-Key value that skips limiting

	// CountCacheHits controls whether responses served from the cache
	// (X-Cache-Status: HIT) are recorded against the window.
	CountCacheHits bool
}

// ClientIP returns the host part of the request's remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware admits or rejects each request against a sliding
// window. Admission reserves the slot, so a burst of slow concurrent
// requests cannot overrun the limit.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get("X-API-Key"); key != "" && cfg.APIKey != "" && key == cfg.APIKey {
				stats.Get().RecordRateLimit("bypass")
				metrics.RecordRateLimit("api_key", "bypass")
				w.Header().Set("X-RateLimit-Bypass", "true")
				next.ServeHTTP(w, r)
				return
			}

			// The client IP is always charged. X-User-ID is unauthenticated,
			// so the user limiter only ever narrows admission.
			limiter, limiterName, key := cfg.Clients, "client", ClientIP(r)
			decision, release := limiter.Reserve(key)

			if userID := r.Header.Get("X-User-ID"); userID != "" && cfg.Users != nil && decision.Allowed {
				userDecision, releaseUser := cfg.Users.Reserve(userID)
				switch {
				case !userDecision.Allowed:
					release()
					limiter, limiterName, key, decision = cfg.Users, "user", userID, userDecision
				default:
					releaseClient := release
					release = func() {
						releaseClient()
						releaseUser()
					}
					if !userDecision.FailOpen && (decision.FailOpen || userDecision.Remaining < decision.Remaining) {
						limiter, limiterName, key, decision = cfg.Users, "user", userID, userDecision
					}
				}
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Type", limiterName)

			if !decision.Allowed {
				retryAfter := int(math.Ceil(limiter.RetryAfter(key).Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}

				stats.Get().RecordRateLimit("exceeded")
				metrics.RecordRateLimit(limiterName, "exceeded")
				log.Warnf("%s %s %s exceeded %d requests per %v", logcolors.LogRateLimit, limiterName, key, decision.Limit, limiter.Window())

				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"Rate limit exceeded. Please try again later."}`))
				return
			}

			result := "allowed"
			if decision.FailOpen {
				result = "fail_open"
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Limit))
			} else {
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining-1))
			}
			stats.Get().RecordRateLimit(result)
			metrics.RecordRateLimit(limiterName, result)

			rec := NewResponseRecorder(w)
			next.ServeHTTP(rec, r)

			// the slot was taken at admission; uncounted hits hand it back
			if !cfg.CountCacheHits && rec.Header().Get("X-Cache-Status") == "HIT" {
				release()
			}
		})
	}
}

// StartLimiterJanitor periodically forgets clients whose windows are empty.
func StartLimiterJanitor(ctx context.Context, interval time.Duration, limiters ...*SlidingWindowLimiter) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				removed := 0
				for _, l := range limiters {
					removed += l.Sweep()
				}
				if removed > 0 {
					log.Debugf("%s Forgot %d idle clients", logcolors.LogRateLimit, removed)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

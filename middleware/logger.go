package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"anime-recs-api/logcolors"
	"anime-recs-api/metrics"
	"anime-recs-api/stats"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// ResponseRecorder wraps http.ResponseWriter to capture the status code and body size
type ResponseRecorder struct {
	http.ResponseWriter
	StatusCode int
	BodySize   int
}

// NewResponseRecorder creates a recorder that defaults to 200 OK
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (rec *ResponseRecorder) WriteHeader(code int) {
	rec.StatusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *ResponseRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.BodySize += n
	return n, err
}

// RequestID returns the id assigned to the request by LoggingMiddleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func getStatusColor(status int) string {
	switch {
	case status >= 200 && status < 300:
		return logcolors.Green
	case status >= 300 && status < 400:
		return logcolors.Cyan
	case status >= 400 && status < 500:
		return logcolors.Yellow
	case status >= 500:
		return logcolors.Red
	default:
		return logcolors.Reset
	}
}

// routeName returns the route template when the request went through a
// mux router, so metrics labels stay bounded.
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// endpointGroup folds parameterized admin paths onto their stats bucket.
func endpointGroup(path string) string {
	for _, prefix := range []string{"/cache", "/ratelimit", "/circuit-breaker"} {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return prefix
		}
	}
	return path
}

// LoggingMiddleware assigns a request id, logs each request once it is
// served and feeds the stats counters and Prometheus metrics.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID))

		rec := NewResponseRecorder(w)
		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		endpoint := endpointGroup(r.URL.Path)

		s := stats.Get()
		s.RecordRequest(endpoint)
		s.RecordStatusCode(rec.StatusCode)
		s.RecordResponseTime(duration, endpoint)
		metrics.RecordHTTPRequest(r.Method, routeName(r), rec.StatusCode, duration)

		log.WithFields(log.Fields{
			"request_id": requestID,
			"bytes":      rec.BodySize,
		}).Infof("%s %s %s %s%d%s %v",
			logcolors.LogHTTP, r.Method, r.URL.Path,
			getStatusColor(rec.StatusCode), rec.StatusCode, logcolors.Reset, duration)
	})
}

package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"anime-recs-api/logcolors"

	log "github.com/sirupsen/logrus"
)

// AdminTokenMiddleware guards operational endpoints behind the Authorization
// header. A bare token and "Bearer <token>" are both accepted. With no token
// configured every request is refused.
func AdminTokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				log.Warnf("%s Admin request to %s refused, ADMIN_TOKEN not configured", logcolors.LogAdmin, r.URL.Path)
				writeJSONError(w, http.StatusForbidden, "Admin endpoints are disabled")
				return
			}

			provided := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			if provided == "" {
				log.Warnf("%s Missing admin token from %s for %s", logcolors.LogAdmin, ClientIP(r), r.URL.Path)
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				log.Warnf("%s Invalid admin token from %s for %s", logcolors.LogAdmin, ClientIP(r), r.URL.Path)
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}

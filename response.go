package main

import (
	"encoding/json"
	"net/http"
	"strings"
)

// APIResponse handles consistent header setting and JSON responses.
// It centralizes the X-Cache-Status and X-Genres headers so every handler
// reports them the same way.
type APIResponse struct {
	w           http.ResponseWriter
	r           *http.Request
	cacheStatus string
	genres      []string
}

// Respond creates a response helper for the request
func Respond(w http.ResponseWriter, r *http.Request) *APIResponse {
	return &APIResponse{w: w, r: r}
}

// SetCacheStatus sets the X-Cache-Status header value
func (a *APIResponse) SetCacheStatus(status string) *APIResponse {
	a.cacheStatus = status
	return a
}

// SetGenres sets the X-Genres header value
func (a *APIResponse) SetGenres(genres []string) *APIResponse {
	a.genres = genres
	return a
}

func (a *APIResponse) writeHeaders() {
	a.w.Header().Set("Content-Type", "application/json")

	if a.cacheStatus != "" {
		a.w.Header().Set("X-Cache-Status", a.cacheStatus)
	}
	if len(a.genres) > 0 {
		a.w.Header().Set("X-Genres", strings.Join(a.genres, ","))
	}
}

// JSON writes headers and encodes data as JSON (200 OK)
func (a *APIResponse) JSON(data interface{}) error {
	a.writeHeaders()
	return json.NewEncoder(a.w).Encode(data)
}

// Error writes headers, sets status code, and encodes error response
func (a *APIResponse) Error(statusCode int, data interface{}) error {
	a.writeHeaders()
	a.w.WriteHeader(statusCode)
	return json.NewEncoder(a.w).Encode(data)
}

// ErrorMessage is Error with the usual {"error": message} body.
func (a *APIResponse) ErrorMessage(statusCode int, message string) error {
	return a.Error(statusCode, map[string]string{"error": message})
}

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"anime-recs-api/circuitbreaker"
)

const samplePage = `{
  "data": {
    "Page": {
      "media": [
        {
          "id": 16498,
          "title": {"romaji": "Shingeki no Kyojin", "english": "Attack on Titan"},
          "description": "Humans fight titans.",
          "coverImage": {"large": "https://img/large.jpg", "medium": "https://img/medium.jpg"},
          "averageScore": 85,
          "genres": ["Action", "Drama"],
          "popularity": 900000,
          "status": "FINISHED"
        },
        {
          "id": 1,
          "title": {"romaji": "Unrated Show", "english": null},
          "description": null,
          "coverImage": {"large": "", "medium": ""},
          "averageScore": null,
          "genres": ["Action"],
          "popularity": 10,
          "status": "RELEASING"
        }
      ]
    }
  }
}`

func newTestClient(url string, breaker *circuitbreaker.CircuitBreaker) *AniListClient {
	return NewAniListClient(ClientConfig{
		Endpoint:      url,
		Timeout:       time.Second,
		RatePerMinute: 6000,
		Breaker:       breaker,
	})
}

func TestQueryGenre_Success(t *testing.T) {
	var received graphQLRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.Write([]byte(samplePage))
	}))
	defer server.Close()

	items, err := newTestClient(server.URL, nil).QueryGenre(context.Background(), Query{Genre: "Action", Page: 2, PerPage: 5})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if received.Variables.Genre != "Action" || received.Variables.Page != 2 || received.Variables.PerPage != 5 {
		t.Errorf("Unexpected variables: %+v", received.Variables)
	}
	if !strings.Contains(received.Query, "sort: POPULARITY_DESC") {
		t.Error("Expected the query to request popularity ordering")
	}

	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	first := items[0]
	if first.ID != 16498 || first.DisplayTitle() != "Attack on Titan" || first.CoverImage.Large != "https://img/large.jpg" {
		t.Errorf("Unexpected first item: %+v", first)
	}
	if first.AverageScore == nil || *first.AverageScore != 85 {
		t.Errorf("Expected averageScore 85, got %v", first.AverageScore)
	}
	if items[1].AverageScore != nil {
		t.Errorf("Expected nil averageScore, got %v", *items[1].AverageScore)
	}
	if items[1].DisplayTitle() != "Unrated Show" {
		t.Errorf("Expected romaji fallback, got %q", items[1].DisplayTitle())
	}
}

func TestQueryGenre_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"server error", http.StatusInternalServerError, `{}`, "status 500"},
		{"rate limited", http.StatusTooManyRequests, `{}`, "status 429"},
		{"malformed body", http.StatusOK, `{"data": [`, "failed to parse response"},
		{"graphql errors", http.StatusOK, `{"data": null, "errors": [{"message": "Invalid genre", "status": 400}]}`, "Invalid genre"},
		{"missing page", http.StatusOK, `{"data": {}}`, "no page data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL, nil).QueryGenre(context.Background(), Query{Genre: "Action", Page: 1, PerPage: 10})

			var qe *QueryError
			if !errors.As(err, &qe) {
				t.Fatalf("Expected *QueryError, got %T (%v)", err, err)
			}
			if qe.Genre != "Action" {
				t.Errorf("Expected genre Action, got %q", qe.Genre)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected %q in %q", tt.wantMsg, err.Error())
			}
		})
	}
}

func TestQueryGenre_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(url, nil).QueryGenre(context.Background(), Query{Genre: "Drama", Page: 1, PerPage: 1})
	var qe *QueryError
	if !errors.As(err, &qe) || qe.Message != "request failed" {
		t.Errorf("Expected a request failure, got %v", err)
	}
}

func TestQueryGenre_CircuitBreaker(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "catalog", Threshold: 2, Cooldown: time.Minute})
	client := newTestClient(server.URL, breaker)
	q := Query{Genre: "Action", Page: 1, PerPage: 10}

	client.QueryGenre(context.Background(), q)
	client.QueryGenre(context.Background(), q)

	if breaker.State() != circuitbreaker.StateOpen {
		t.Fatalf("Expected breaker to open after 2 failures, got %s", breaker.State())
	}

	_, err := client.QueryGenre(context.Background(), q)
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("Expected no request while open, server saw %d", hits.Load())
	}
}

func TestQueryGenre_SuccessResetsBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePage))
	}))
	defer server.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{Threshold: 3})
	breaker.RecordFailure()
	breaker.RecordFailure()

	if _, err := newTestClient(server.URL, breaker).QueryGenre(context.Background(), Query{Genre: "Action", Page: 1, PerPage: 10}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if breaker.Failures() != 0 {
		t.Errorf("Expected failures reset after success, got %d", breaker.Failures())
	}
}

func TestQueryGenre_CancelledContext(t *testing.T) {
	arrived := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-r.Context().Done()
	}))
	defer server.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{Threshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-arrived
		cancel()
	}()
	defer cancel()

	_, err := newTestClient(server.URL, breaker).QueryGenre(ctx, Query{Genre: "Action", Page: 1, PerPage: 10})
	if err == nil {
		t.Fatal("Expected an error for a cancelled request")
	}
	if breaker.State() != circuitbreaker.StateClosed {
		t.Error("Caller cancellation must not trip the breaker")
	}
	if breaker.Failures() != 0 {
		t.Errorf("Expected no failures recorded, got %d", breaker.Failures())
	}
}

func TestQueryGenre_TimeoutTripsBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{Threshold: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestClient(server.URL, breaker).QueryGenre(ctx, Query{Genre: "Action", Page: 1, PerPage: 10})
	if err == nil {
		t.Fatal("Expected an error for a timed-out request")
	}
	if breaker.State() != circuitbreaker.StateOpen {
		t.Errorf("Expected a hung upstream to trip the breaker, got %v", breaker.State())
	}
}

func TestAggregator_HungCatalogOpensBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{Threshold: 2})
	agg := NewAggregator(newTestClient(server.URL, breaker), AggregatorConfig{Timeout: 20 * time.Millisecond})

	res, err := agg.Fetch(context.Background(), []string{"Action", "Drama"}, 1, 10)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(res.Failed) != 2 {
		t.Fatalf("Expected both genres to time out, got %+v", res)
	}
	if breaker.State() != circuitbreaker.StateOpen {
		t.Errorf("Expected per-query timeouts to open the breaker, got %v", breaker.State())
	}
}

func TestQueryGenre_RateLimiterHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePage))
	}))
	defer server.Close()

	client := NewAniListClient(ClientConfig{Endpoint: server.URL, RatePerMinute: 1})
	q := Query{Genre: "Action", Page: 1, PerPage: 10}

	if _, err := client.QueryGenre(context.Background(), q); err != nil {
		t.Fatalf("Expected the first call to use the burst, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := client.QueryGenre(ctx, q); err == nil {
		t.Error("Expected the second call to give up waiting for the pacer")
	}
}

func TestNewAniListClient_Defaults(t *testing.T) {
	c := NewAniListClient(ClientConfig{})
	if c.endpoint != DefaultEndpoint {
		t.Errorf("Expected default endpoint, got %q", c.endpoint)
	}
	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("Expected default timeout, got %v", c.httpClient.Timeout)
	}
	if c.Name() != "anilist" {
		t.Errorf("Expected name anilist, got %q", c.Name())
	}
}

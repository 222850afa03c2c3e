package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"anime-recs-api/circuitbreaker"
	"anime-recs-api/logcolors"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultEndpoint      = "https://graphql.anilist.co"
	DefaultTimeout       = 30 * time.Second
	DefaultRatePerMinute = 90

	maxResponseBytes = 5 << 20
	userAgent        = "anime-recs-api/1.0"
)

// Source answers one genre query. Implementations must honor ctx.
type Source interface {
	Name() string
	QueryGenre(ctx context.Context, q Query) ([]Item, error)
}

// ClientConfig configures an AniListClient.
type ClientConfig struct {
	Endpoint      string
	Timeout       time.Duration // applied by the http.Client as a backstop
	RatePerMinute int           // outbound request budget, 0 uses the default
	Breaker       *circuitbreaker.CircuitBreaker
	HTTPClient    *http.Client
}

// AniListClient queries an AniList-compatible GraphQL endpoint.
type AniListClient struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
}

// NewAniListClient creates a client. A nil breaker disables circuit breaking.
func NewAniListClient(cfg ClientConfig) *AniListClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = DefaultRatePerMinute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	burst := cfg.RatePerMinute / 10
	if burst < 1 {
		burst = 1
	}

	return &AniListClient{
		endpoint:   cfg.Endpoint,
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), burst),
		breaker:    cfg.Breaker,
	}
}

func (c *AniListClient) Name() string {
	return "anilist"
}

// QueryGenre fetches one page of anime in a genre, most popular first.
func (c *AniListClient) QueryGenre(ctx context.Context, q Query) ([]Item, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, NewQueryError(q.Genre, "circuit breaker open", circuitbreaker.ErrCircuitOpen)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, NewQueryError(q.Genre, "waiting for rate limiter", err)
	}

	items, err := c.do(ctx, q)
	if c.breaker != nil {
		switch {
		case err == nil:
			c.breaker.RecordSuccess()
		case !errors.Is(ctx.Err(), context.Canceled):
			// a blown deadline counts against upstream; a caller that went away does not
			c.breaker.RecordFailure()
		}
	}
	return items, err
}

func (c *AniListClient) do(ctx context.Context, q Query) ([]Item, error) {
	body, err := json.Marshal(graphQLRequest{Query: mediaByGenreQuery, Variables: q})
	if err != nil {
		return nil, NewQueryError(q.Genre, "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewQueryError(q.Genre, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	log.Debugf("%s Querying %s page %d (%d per page)", logcolors.LogCatalog, logcolors.Genre(q.Genre), q.Page, q.PerPage)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewQueryError(q.Genre, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewQueryError(q.Genre, "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewQueryError(q.Genre, fmt.Sprintf("catalog returned status %d", resp.StatusCode), nil)
	}

	var parsed graphQLResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, NewQueryError(q.Genre, "failed to parse response", err)
	}

	if len(parsed.Errors) > 0 {
		messages := make([]string, len(parsed.Errors))
		for i, e := range parsed.Errors {
			messages[i] = e.Message
		}
		return nil, NewQueryError(q.Genre, "catalog error: "+strings.Join(messages, "; "), nil)
	}

	if parsed.Data == nil || parsed.Data.Page == nil {
		return nil, NewQueryError(q.Genre, "response has no page data", nil)
	}

	return parsed.Data.Page.Media, nil
}

package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"anime-recs-api/cache"
	"anime-recs-api/logcolors"
	"anime-recs-api/metrics"
	"anime-recs-api/services/catalog"
	"anime-recs-api/services/genre"
	"anime-recs-api/services/nlp"
	"anime-recs-api/stats"
	"anime-recs-api/utils"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultPerPage = 10
	MaxPerPage     = 50

	cacheKeyVersion = "v1"

	logTextLimit = 80
)

// Config wires a Service. Cache may be nil, in which case every response
// reports BYPASS. OnOutage, when set, is called after a request in which
// every genre query failed.
type Config struct {
	Extractor      *nlp.Extractor
	Scorer         *genre.Scorer
	Aggregator     *catalog.Aggregator
	Cache          *cache.Cache
	Threshold      float64
	DefaultPerPage int
	MaxPerPage     int
	OnOutage       func(text string, failed []*catalog.QueryError)
}

// Service runs the recommendation pipeline: text to terms to genres to a
// merged catalog page, with results cached by normalized text and page.
type Service struct {
	extractor      *nlp.Extractor
	scorer         *genre.Scorer
	aggregator     *catalog.Aggregator
	cache          *cache.Cache
	threshold      float64
	defaultPerPage int
	maxPerPage     int
	onOutage       func(text string, failed []*catalog.QueryError)

	inFlight singleflight.Group
}

// cachedPage is the JSON stored in the response cache.
type cachedPage struct {
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Message         string           `json:"message,omitempty"`
	Genres          []string         `json:"genres"`
	Terms           []string         `json:"terms"`
}

func New(cfg Config) (*Service, error) {
	if cfg.Extractor == nil || cfg.Scorer == nil || cfg.Aggregator == nil {
		return nil, errors.New("recommend: extractor, scorer and aggregator are required")
	}
	if cfg.DefaultPerPage <= 0 {
		cfg.DefaultPerPage = DefaultPerPage
	}
	if cfg.MaxPerPage <= 0 {
		cfg.MaxPerPage = MaxPerPage
	}
	if cfg.DefaultPerPage > cfg.MaxPerPage {
		cfg.DefaultPerPage = cfg.MaxPerPage
	}

	return &Service{
		extractor:      cfg.Extractor,
		scorer:         cfg.Scorer,
		aggregator:     cfg.Aggregator,
		cache:          cfg.Cache,
		threshold:      cfg.Threshold,
		defaultPerPage: cfg.DefaultPerPage,
		maxPerPage:     cfg.MaxPerPage,
		onOutage:       cfg.OnOutage,
	}, nil
}

// CacheKey builds the response cache key for a request.
func CacheKey(text string, page, perPage int) string {
	return fmt.Sprintf("recs:%s:%s:p%d:n%d", cacheKeyVersion, utils.NormalizeText(text), page, perPage)
}

// Paging applies the defaults and bounds used by Recommend.
func (s *Service) Paging(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = s.defaultPerPage
	}
	if perPage > s.maxPerPage {
		perPage = s.maxPerPage
	}
	return page, perPage
}

// Recommend returns recommendations for free text. The only errors are
// nlp.ErrEmptyInput for blank text and ctx's own error when the caller
// goes away; every other failure is reported in the Response.
func (s *Service) Recommend(ctx context.Context, text string, page, perPage int) (Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Response{}, nlp.ErrEmptyInput
	}
	page, perPage = s.Paging(page, perPage)
	key := CacheKey(text, page, perPage)

	if resp, ok := s.lookup(key); ok {
		return resp, nil
	}

	v, err, shared := s.inFlight.Do(key, func() (interface{}, error) {
		return s.run(ctx, text, key, page, perPage)
	})
	if shared && err != nil && ctx.Err() == nil && isContextError(err) {
		// the request we joined was cancelled, ours is still live
		v, err = s.run(ctx, text, key, page, perPage)
	}
	if err != nil {
		return Response{}, err
	}

	resp := v.(Response)
	if shared {
		log.Debugf("%s Joined in-flight request for %q", logcolors.LogRecommend, utils.Truncate(text, logTextLimit))
	}
	return resp, nil
}

// run computes one page for key. The response and the outage hook see the
// normalized text, since every caller sharing key shares the result.
func (s *Service) run(ctx context.Context, text, key string, page, perPage int) (resp Response, err error) {
	query := utils.NormalizeText(text)
	logText := utils.Truncate(query, logTextLimit)

	defer func() {
		if p := recover(); p != nil {
			log.Errorf("%s Pipeline panic for %q: %v", logcolors.LogRecommend, logText, p)
			resp = Response{Error: fmt.Sprintf("Failed to get recommendations: %v", p), CacheStatus: s.missStatus()}
			err = nil
		}
	}()

	terms, err := s.extractor.Extract(text)
	if err != nil {
		return Response{}, err
	}

	labels, fallback := s.scorer.Pick(terms, s.threshold)
	metrics.RecordGenres(labels, fallback)
	log.Infof("%s %q -> terms [%s] -> genres %v", logcolors.LogRecommend, logText, terms.String(), labels)

	result, err := s.aggregator.Fetch(ctx, s.catalogNames(labels), page, perPage)
	if err != nil {
		return Response{}, err
	}

	out := cachedPage{Genres: labels, Terms: terms.Terms()}
	if len(result.Items) == 0 {
		stats.Get().RecordEmptyResult()
		out.Message = "No recommendations found for: " + query
	} else {
		out.Recommendations = make([]Recommendation, len(result.Items))
		for i, it := range result.Items {
			out.Recommendations[i] = FromItem(it)
		}
	}

	// an outage is not an answer
	if len(result.Succeeded) > 0 {
		s.store(key, out)
	} else {
		log.Warnf("%s Every genre query failed for %q, not caching", logcolors.LogCacheRecs, logText)
		if s.onOutage != nil && len(result.Failed) > 0 {
			s.onOutage(query, result.Failed)
		}
	}

	return out.response(s.missStatus()), nil
}

// Explain runs the first two pipeline stages without touching the catalog:
// the extracted terms, every genre's score and the genres Recommend would
// query.
func (s *Service) Explain(text string) (nlp.TermSet, []genre.Score, []string, error) {
	terms, err := s.extractor.Extract(text)
	if err != nil {
		return nlp.TermSet{}, nil, nil, err
	}
	labels, _ := s.scorer.Pick(terms, s.threshold)
	return terms, s.scorer.Rank(terms), labels, nil
}

// catalogNames maps labels to catalog genre names, dropping repeats so that
// labels sharing a catalog genre cost one query.
func (s *Service) catalogNames(labels []string) []string {
	table := s.scorer.Table()
	seen := make(map[string]bool, len(labels))
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		name := table.CatalogName(l)
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

func (s *Service) missStatus() string {
	if s.cache == nil {
		return CacheBypass
	}
	return CacheMiss
}

// lookup reads a cached page. Cache faults and undecodable values count as
// misses.
func (s *Service) lookup(key string) (Response, bool) {
	if s.cache == nil {
		return Response{}, false
	}

	value, ok, err := s.cache.Get(key)
	if err != nil {
		s.cacheFault("get", key, err)
		return Response{}, false
	}
	if !ok {
		stats.Get().RecordCacheMiss()
		metrics.CacheMisses.Inc()
		return Response{}, false
	}

	var page cachedPage
	if err := json.Unmarshal([]byte(value), &page); err != nil {
		s.cache.Delete(key)
		s.cacheFault("decode", key, err)
		return Response{}, false
	}

	stats.Get().RecordCacheHit()
	metrics.CacheHits.Inc()
	log.Infof("%s Serving cached recommendations for %s", logcolors.LogCacheRecs, key)
	return page.response(CacheHit), true
}

func (s *Service) store(key string, page cachedPage) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(page)
	if err != nil {
		s.cacheFault("encode", key, err)
		return
	}
	if err := s.cache.Set(key, string(data)); err != nil {
		s.cacheFault("set", key, err)
		return
	}
	metrics.CacheEntries.Set(float64(s.cache.Stats().Size))
	log.Debugf("%s Cached %s", logcolors.LogCacheRecs, key)
}

func (s *Service) cacheFault(op, key string, err error) {
	stats.Get().RecordCacheError()
	metrics.CacheErrors.WithLabelValues(op).Inc()
	log.Warnf("%s Cache %s failed for %s, treating as miss: %v", logcolors.LogCacheRecs, op, key, err)
}

func (p cachedPage) response(status string) Response {
	return Response{
		Recommendations: p.Recommendations,
		Message:         p.Message,
		Genres:          p.Genres,
		Terms:           p.Terms,
		CacheStatus:     status,
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

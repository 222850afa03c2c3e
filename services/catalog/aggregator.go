package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"anime-recs-api/logcolors"
	"anime-recs-api/metrics"
	"anime-recs-api/stats"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxConcurrency = 4

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	Timeout        time.Duration // per genre query
	MaxConcurrency int           // genre queries in flight per Fetch
}

// Aggregator fans a request out to one catalog query per genre and merges
// the answers into a single page.
type Aggregator struct {
	source         Source
	timeout        time.Duration
	maxConcurrency int
}

// Result is a merged page plus which genre queries succeeded or failed.
type Result struct {
	Items     []Item
	Succeeded []string
	Failed    []*QueryError
}

func NewAggregator(source Source, cfg AggregatorConfig) *Aggregator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Aggregator{
		source:         source,
		timeout:        cfg.Timeout,
		maxConcurrency: cfg.MaxConcurrency,
	}
}

type genreResult struct {
	items []Item
	err   *QueryError
}

// Fetch queries every genre concurrently, then merges in genre order,
// drops repeated ids keeping the first, sorts by popularity (stable) and
// truncates to pageSize. Failed genres are logged and skipped; if all of
// them fail the result is empty. The only error is ctx's own, in which
// case nothing partial is returned.
func (a *Aggregator) Fetch(ctx context.Context, genres []string, page, pageSize int) (Result, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || len(genres) == 0 {
		return Result{}, nil
	}

	results := make([]genreResult, len(genres))

	var g errgroup.Group
	g.SetLimit(a.maxConcurrency)
	for i, genre := range genres {
		g.Go(func() error {
			results[i] = a.query(ctx, Query{Genre: genre, Page: page, PerPage: pageSize})
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		log.Debugf("%s Request cancelled, discarding %d genre results", logcolors.LogAggregate, len(genres))
		return Result{}, err
	}

	var res Result
	var all []Item
	for i, r := range results {
		if r.err != nil {
			res.Failed = append(res.Failed, r.err)
			continue
		}
		res.Succeeded = append(res.Succeeded, genres[i])
		all = append(all, r.items...)
	}

	res.Items = Merge(all, pageSize)
	log.Infof("%s %d genres ok, %d failed, %d unique items -> %d returned",
		logcolors.LogAggregate, len(res.Succeeded), len(res.Failed), countUnique(all), len(res.Items))
	return res, nil
}

func (a *Aggregator) query(ctx context.Context, q Query) (r genreResult) {
	qctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r = genreResult{err: NewQueryError(q.Genre, "panic in catalog source", fmt.Errorf("%v", p))}
		}

		var err error
		if r.err != nil {
			err = r.err
			log.Warnf("%s %s query failed: %v", logcolors.LogCatalog, logcolors.Genre(q.Genre), r.err)
		}
		metrics.RecordCatalogQuery(q.Genre, err, time.Since(start))
		stats.Get().RecordUpstreamQuery(q.Genre, err != nil)
	}()

	items, err := a.source.QueryGenre(qctx, q)
	if err != nil {
		var qe *QueryError
		if !errors.As(err, &qe) {
			qe = NewQueryError(q.Genre, a.source.Name()+" query failed", err)
		}
		return genreResult{err: qe}
	}
	return genreResult{items: items}
}

// Merge deduplicates items by id keeping the first occurrence, sorts by
// popularity descending with ties in first-seen order, and keeps at most
// limit items.
func Merge(items []Item, limit int) []Item {
	seen := make(map[int]struct{}, len(items))
	unique := make([]Item, 0, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		unique = append(unique, it)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].Popularity > unique[j].Popularity
	})

	if limit >= 0 && len(unique) > limit {
		unique = unique[:limit]
	}
	return unique
}

func countUnique(items []Item) int {
	seen := make(map[int]struct{}, len(items))
	for _, it := range items {
		seen[it.ID] = struct{}{}
	}
	return len(seen)
}

package genre

import (
	"fmt"
	"sort"
	"strings"

	"anime-recs-api/logcolors"
	"anime-recs-api/services/nlp"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultThreshold = 0.3
	DefaultFallback  = "action"
	MaxGenres        = 3
)

// Score is one genre's similarity to a term set.
type Score struct {
	Genre      string  `json:"genre"`
	Similarity float64 `json:"similarity"`
}

// Scorer ranks genres against extracted terms. Genre vectors are built
// once at construction.
type Scorer struct {
	table     *Table
	vectors   []Vector
	threshold float64
	fallback  string
}

// NewScorer prepares a scorer. The fallback label must exist in the table.
func NewScorer(table *Table, threshold float64, fallback string) (*Scorer, error) {
	if table == nil {
		return nil, fmt.Errorf("genre table is nil")
	}
	if fallback == "" {
		fallback = DefaultFallback
	}
	fallback = strings.ToLower(fallback)
	if !table.Has(fallback) {
		return nil, fmt.Errorf("fallback genre %q is not in the genre table", fallback)
	}

	s := &Scorer{
		table:     table,
		vectors:   make([]Vector, table.Len()),
		threshold: threshold,
		fallback:  fallback,
	}
	for i, g := range table.genres {
		s.vectors[i] = Embed(strings.Join(g.Keywords, " "))
	}

	log.Infof("%s Prepared %d genre vectors (%s, threshold %.2f, fallback %s)",
		logcolors.LogGenre, len(s.vectors), EmbeddingVersion, threshold, logcolors.Genre(fallback))
	return s, nil
}

func (s *Scorer) Table() *Table {
	return s.table
}

func (s *Scorer) Threshold() float64 {
	return s.threshold
}

func (s *Scorer) Fallback() string {
	return s.fallback
}

// Rank returns every genre's similarity to terms, highest first. Ties keep
// table order.
func (s *Scorer) Rank(terms nlp.TermSet) []Score {
	termVec := Embed(terms.String())

	scores := make([]Score, len(s.vectors))
	for i, gv := range s.vectors {
		scores[i] = Score{Genre: s.table.genres[i].Label, Similarity: CosineSimilarity(termVec, gv)}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Similarity > scores[j].Similarity
	})
	return scores
}

// Matches returns, per genre label, the keywords present in terms. Genres
// with no matching keyword are left out.
func (s *Scorer) Matches(terms nlp.TermSet) map[string][]string {
	matched := make(map[string][]string)
	for _, g := range s.table.Genres() {
		for _, kw := range g.Keywords {
			if terms.Contains(kw) {
				matched[g.Label] = append(matched[g.Label], kw)
			}
		}
	}
	return matched
}

// Score returns up to MaxGenres labels whose similarity is at least
// threshold, highest first. It never returns an empty list: when nothing
// qualifies the fallback genre is returned alone.
func (s *Scorer) Score(terms nlp.TermSet, threshold float64) []string {
	labels, _ := s.Pick(terms, threshold)
	return labels
}

// Pick is Score that also reports whether the fallback was used.
func (s *Scorer) Pick(terms nlp.TermSet, threshold float64) ([]string, bool) {
	if terms.Empty() {
		return []string{s.fallback}, true
	}

	var labels []string
	for _, sc := range s.Rank(terms) {
		if sc.Similarity < threshold || len(labels) == MaxGenres {
			break
		}
		labels = append(labels, sc.Genre)
	}

	if len(labels) == 0 {
		log.Debugf("%s No genre reached %.2f for %q, using %s", logcolors.LogGenre, threshold, terms.String(), logcolors.Genre(s.fallback))
		return []string{s.fallback}, true
	}
	return labels, false
}

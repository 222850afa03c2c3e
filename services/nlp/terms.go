package nlp

import (
	"sort"
	"strings"
)

// TermSet is an immutable set of normalized terms. Terms are kept sorted so
// two sets with the same members always render the same string.
type TermSet struct {
	terms []string
}

// NewTermSet lower-cases, trims and deduplicates terms. Empty strings are dropped.
func NewTermSet(terms ...string) TermSet {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return TermSet{terms: out}
}

func (s TermSet) Len() int {
	return len(s.terms)
}

func (s TermSet) Empty() bool {
	return len(s.terms) == 0
}

func (s TermSet) Contains(term string) bool {
	i := sort.SearchStrings(s.terms, term)
	return i < len(s.terms) && s.terms[i] == term
}

// Terms returns a copy of the sorted terms.
func (s TermSet) Terms() []string {
	out := make([]string, len(s.terms))
	copy(out, s.terms)
	return out
}

// String joins the terms with single spaces.
func (s TermSet) String() string {
	return strings.Join(s.terms, " ")
}

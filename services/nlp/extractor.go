package nlp

import (
	"errors"
	"regexp"
	"strings"

	"anime-recs-api/logcolors"

	log "github.com/sirupsen/logrus"
)

// ErrEmptyInput is returned for empty or whitespace-only text.
var ErrEmptyInput = errors.New("input text cannot be empty")

// wordPattern matches words with inner hyphens or apostrophes, e.g. "fast-paced".
var wordPattern = regexp.MustCompile(`[a-z0-9]+(?:['-][a-z0-9]+)*`)

// Extractor turns free text into the set of terms worth scoring: nouns,
// adjectives and any word from the genre vocabulary.
type Extractor struct {
	vocabulary map[string]struct{}
	phrases    []string
	tagger     Tagger
}

// NewExtractor builds an extractor over a keyword vocabulary. Multi-word
// keywords are matched as phrases. A nil tagger uses the prose tagger.
func NewExtractor(vocabulary []string, tagger Tagger) *Extractor {
	if tagger == nil {
		tagger = ProseTagger{}
	}

	e := &Extractor{
		vocabulary: make(map[string]struct{}, len(vocabulary)),
		tagger:     tagger,
	}
	for _, kw := range vocabulary {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(kw, " ") {
			e.phrases = append(e.phrases, kw)
			continue
		}
		e.vocabulary[kw] = struct{}{}
	}
	return e
}

// Extract returns the terms of text. It never returns an empty set for
// non-blank input: when nothing qualifies, the whitespace-split words of
// the lower-cased text are returned instead.
func (e *Extractor) Extract(text string) (TermSet, error) {
	if strings.TrimSpace(text) == "" {
		return TermSet{}, ErrEmptyInput
	}

	lower := strings.ToLower(text)
	words := wordPattern.FindAllString(lower, -1)

	tags, err := e.tagger.Tag(lower)
	if err != nil {
		log.Warnf("%s Tagging failed, using vocabulary matches only: %v", logcolors.LogExtract, err)
	}

	var terms []string
	for _, w := range words {
		if _, ok := e.vocabulary[w]; ok || isContentWord(w, tags) {
			terms = append(terms, w)
		}
	}

	normalized := " " + strings.Join(words, " ") + " "
	for _, phrase := range e.phrases {
		if strings.Contains(normalized, " "+phrase+" ") {
			terms = append(terms, phrase)
		}
	}

	set := NewTermSet(terms...)
	if set.Empty() {
		set = NewTermSet(strings.Fields(lower)...)
		log.Debugf("%s No content words found, falling back to %d raw tokens", logcolors.LogExtract, set.Len())
	}
	return set, nil
}

// isContentWord reports whether w was tagged as a noun or adjective. A
// hyphenated word the tagger split apart qualifies through any of its parts.
func isContentWord(w string, tags map[string]string) bool {
	if isNounOrAdjective(tags[w]) {
		return true
	}
	if !strings.Contains(w, "-") {
		return false
	}
	for _, part := range strings.Split(w, "-") {
		if isNounOrAdjective(tags[part]) {
			return true
		}
	}
	return false
}

// isNounOrAdjective matches Penn Treebank JJ, JJR, JJS, NN, NNS, NNP, NNPS.
func isNounOrAdjective(tag string) bool {
	return strings.HasPrefix(tag, "JJ") || strings.HasPrefix(tag, "NN")
}

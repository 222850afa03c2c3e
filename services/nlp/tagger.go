package nlp

import (
	"fmt"

	"github.com/jdkato/prose/v2"
)

// Tagger assigns Penn Treebank part-of-speech tags to the words of a text.
// The result maps each token to its tag; a token seen twice keeps the
// first noun or adjective tag it received.
type Tagger interface {
	Tag(text string) (map[string]string, error)
}

// ProseTagger tags with prose's averaged perceptron model.
type ProseTagger struct{}

func (ProseTagger) Tag(text string) (map[string]string, error) {
	doc, err := prose.NewDocument(text,
		prose.WithExtraction(false),
		prose.WithSegmentation(false))
	if err != nil {
		return nil, fmt.Errorf("pos tagging: %w", err)
	}

	tags := make(map[string]string)
	for _, tok := range doc.Tokens() {
		if prev, ok := tags[tok.Text]; ok && isNounOrAdjective(prev) {
			continue
		}
		tags[tok.Text] = tok.Tag
	}
	return tags, nil
}

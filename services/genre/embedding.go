package genre

import (
	"math"
	"strings"

	"github.com/blevesearch/go-porterstemmer"
	"github.com/cespare/xxhash/v2"
)

const (
	// Dimensions is the length of every embedding vector.
	Dimensions = 1024

	// EmbeddingVersion changes whenever the feature set or weights change,
	// so cached results keyed on old genre picks can be told apart.
	EmbeddingVersion = "hash-v1"

	stemWeight    = 1.0
	trigramWeight = 0.25
)

// Vector is a dense embedding.
type Vector []float64

// Embed maps text to a deterministic hashed bag-of-features vector. Each
// word contributes its Porter stem and, at a lower weight, the character
// trigrams of the boundary-marked word, so inflections and near spellings
// land close together.
func Embed(text string) Vector {
	v := make(Vector, Dimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		addFeature(v, "w:"+porterstemmer.StemString(word), stemWeight)

		marked := []rune("^" + word + "$")
		for i := 0; i+3 <= len(marked); i++ {
			addFeature(v, "c:"+string(marked[i:i+3]), trigramWeight)
		}
	}
	return v
}

// addFeature adds weight to the feature's bucket. The top hash bit picks
// the sign so unrelated collisions tend to cancel.
func addFeature(v Vector, feature string, weight float64) {
	h := xxhash.Sum64String(feature)
	idx := h % Dimensions
	if h>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector is zero or the lengths differ.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

package recommend

import "anime-recs-api/services/catalog"

// Cache status values reported with every response.
const (
	CacheHit    = "HIT"
	CacheMiss   = "MISS"
	CacheBypass = "BYPASS"
)

// Recommendation is one anime as returned to clients.
type Recommendation struct {
	AnimeID     int      `json:"anime_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	CoverImage  string   `json:"cover_image"`
	Rating      *float64 `json:"rating"`
	Genres      []string `json:"genres"`
	Popularity  int      `json:"popularity"`
}

// Response is the outcome of one pipeline run. Exactly one of
// Recommendations, Message and Error is set.
type Response struct {
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Message         string           `json:"message,omitempty"`
	Error           string           `json:"error,omitempty"`
	Genres          []string         `json:"genres,omitempty"`
	Terms           []string         `json:"terms,omitempty"`
	CacheStatus     string           `json:"-"`
}

// Payload is what clients receive: the recommendations, or a single
// {message} / {error} element.
func (r Response) Payload() []interface{} {
	switch {
	case r.Error != "":
		return []interface{}{map[string]string{"error": r.Error}}
	case r.Message != "":
		return []interface{}{map[string]string{"message": r.Message}}
	}
	out := make([]interface{}, len(r.Recommendations))
	for i, rec := range r.Recommendations {
		out[i] = rec
	}
	return out
}

// FromItem converts a catalog item. Ratings are on a 0-10 scale; a missing
// or zero score has no rating.
func FromItem(it catalog.Item) Recommendation {
	var rating *float64
	if it.AverageScore != nil && *it.AverageScore != 0 {
		r := float64(*it.AverageScore) / 10
		rating = &r
	}

	genres := it.Genres
	if genres == nil {
		genres = []string{}
	}

	return Recommendation{
		AnimeID:     it.ID,
		Title:       it.DisplayTitle(),
		Description: it.Description,
		CoverImage:  it.CoverImage.Large,
		Rating:      rating,
		Genres:      genres,
		Popularity:  it.Popularity,
	}
}

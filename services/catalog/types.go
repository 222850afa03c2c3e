package catalog

// Title holds the catalog's title variants.
type Title struct {
	Romaji  string `json:"romaji"`
	English string `json:"english"`
}

// CoverImage holds cover image URLs.
type CoverImage struct {
	Large  string `json:"large"`
	Medium string `json:"medium"`
}

// Item is one anime as returned by the catalog. Two items with the same ID
// are the same anime no matter which genre query returned them.
type Item struct {
	ID           int        `json:"id"`
	Title        Title      `json:"title"`
	Description  string     `json:"description"`
	CoverImage   CoverImage `json:"coverImage"`
	AverageScore *int       `json:"averageScore"` // 0-100, nil when unrated
	Genres       []string   `json:"genres"`
	Popularity   int        `json:"popularity"`
	Status       string     `json:"status"`
}

// DisplayTitle prefers the English title and falls back to romaji.
func (i Item) DisplayTitle() string {
	if i.Title.English != "" {
		return i.Title.English
	}
	return i.Title.Romaji
}

// Query is a single genre page request.
type Query struct {
	Genre   string `json:"genre"`
	Page    int    `json:"page"`
	PerPage int    `json:"perPage"`
}

// graphQLRequest is the POST body sent to the catalog.
type graphQLRequest struct {
	Query     string `json:"query"`
	Variables Query  `json:"variables"`
}

// graphQLResponse mirrors the parts of the catalog response we read.
type graphQLResponse struct {
	Data *struct {
		Page *struct {
			Media []Item `json:"media"`
		} `json:"Page"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type graphQLError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

const mediaByGenreQuery = `
query ($genre: String, $page: Int, $perPage: Int) {
  Page(page: $page, perPage: $perPage) {
    media(genre: $genre, type: ANIME, sort: POPULARITY_DESC) {
      id
      title {
        romaji
        english
      }
      description
      coverImage {
        large
        medium
      }
      averageScore
      genres
      popularity
      status
    }
  }
}`

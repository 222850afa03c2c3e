package genre

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Genre is one row of the genre table.
type Genre struct {
	Label    string   `yaml:"label" json:"label"`
	Catalog  string   `yaml:"catalog,omitempty" json:"catalog"` // genre name sent to the catalog
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Table is the closed, ordered set of genres. It is read-only after construction.
type Table struct {
	genres []Genre
	index  map[string]int
}

type tableFile struct {
	Genres []Genre `yaml:"genres"`
}

// NewTable validates genres and builds a table. Labels and keywords are
// lower-cased; Catalog defaults to the label.
func NewTable(genres []Genre) (*Table, error) {
	if len(genres) == 0 {
		return nil, fmt.Errorf("genre table is empty")
	}

	t := &Table{
		genres: make([]Genre, 0, len(genres)),
		index:  make(map[string]int, len(genres)),
	}

	for i, g := range genres {
		label := strings.ToLower(strings.TrimSpace(g.Label))
		if label == "" {
			return nil, fmt.Errorf("genre #%d has no label", i)
		}
		if _, dup := t.index[label]; dup {
			return nil, fmt.Errorf("duplicate genre label %q", label)
		}

		keywords := make([]string, 0, len(g.Keywords))
		for _, kw := range g.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				keywords = append(keywords, kw)
			}
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("genre %q has no keywords", label)
		}

		catalog := strings.TrimSpace(g.Catalog)
		if catalog == "" {
			catalog = label
		}

		t.index[label] = len(t.genres)
		t.genres = append(t.genres, Genre{Label: label, Catalog: catalog, Keywords: keywords})
	}

	return t, nil
}

// LoadTable reads a YAML file of the form:
//
//	genres:
//	  - label: action
//	    catalog: Action
//	    keywords: [battle, fight]
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genre table: %w", err)
	}

	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing genre table %s: %w", path, err)
	}

	t, err := NewTable(file.Genres)
	if err != nil {
		return nil, fmt.Errorf("genre table %s: %w", path, err)
	}
	return t, nil
}

func (t *Table) Len() int {
	return len(t.genres)
}

// Has reports whether label is a known genre.
func (t *Table) Has(label string) bool {
	_, ok := t.index[label]
	return ok
}

// Lookup returns the genre for label.
func (t *Table) Lookup(label string) (Genre, bool) {
	i, ok := t.index[label]
	if !ok {
		return Genre{}, false
	}
	return t.genres[i], true
}

// Genres returns the genres in declaration order.
func (t *Table) Genres() []Genre {
	out := make([]Genre, len(t.genres))
	copy(out, t.genres)
	return out
}

// Labels returns the genre labels in declaration order.
func (t *Table) Labels() []string {
	labels := make([]string, len(t.genres))
	for i, g := range t.genres {
		labels[i] = g.Label
	}
	return labels
}

// Vocabulary returns every distinct keyword across all genres.
func (t *Table) Vocabulary() []string {
	seen := make(map[string]struct{})
	var vocab []string
	for _, g := range t.genres {
		for _, kw := range g.Keywords {
			if _, ok := seen[kw]; ok {
				continue
			}
			seen[kw] = struct{}{}
			vocab = append(vocab, kw)
		}
	}
	return vocab
}

// CatalogName maps a label to the name the catalog knows it by.
func (t *Table) CatalogName(label string) string {
	if g, ok := t.Lookup(label); ok {
		return g.Catalog
	}
	return label
}

// DefaultTable returns the built-in genre table.
func DefaultTable() *Table {
	t, err := NewTable(defaultGenres)
	if err != nil {
		panic("genre: invalid built-in table: " + err.Error())
	}
	return t
}

var defaultGenres = []Genre{
	{Label: "action", Catalog: "Action", Keywords: []string{"fast-paced", "battle", "combat", "war", "hero", "explosions", "fight"}},
	{Label: "romance", Catalog: "Romance", Keywords: []string{"love", "relationship", "heartfelt", "emotion", "affection", "couple", "drama"}},
	{Label: "fantasy", Catalog: "Fantasy", Keywords: []string{"magic", "myth", "dragons", "adventure", "kingdom", "elf", "wizard", "supernatural"}},
	{Label: "sci-fi", Catalog: "Sci-Fi", Keywords: []string{"futuristic", "space", "technology", "ai", "robot", "cyber", "dystopian"}},
	{Label: "slice_of_life", Catalog: "Slice of Life", Keywords: []string{"everyday", "school", "realistic", "ordinary", "friendship", "daily", "nostalgic"}},
	{Label: "sports", Catalog: "Sports", Keywords: []string{"competition", "team", "athletic", "training", "victory", "tournament"}},
	{Label: "thriller", Catalog: "Thriller", Keywords: []string{"suspense", "intense", "dark", "mystery", "chase", "crime", "danger"}},
	{Label: "mystery", Catalog: "Mystery", Keywords: []string{"detective", "investigation", "crime", "riddle", "twist", "unknown"}},
	{Label: "psychological", Catalog: "Psychological", Keywords: []string{"mindgame", "mental", "strategy", "complex", "unsettling", "dark"}},
	{Label: "supernatural", Catalog: "Supernatural", Keywords: []string{"ghost", "paranormal", "spirit", "otherworldly", "mystical", "unknown"}},
	{Label: "magic", Catalog: "Mahou Shoujo", Keywords: []string{"wizard", "spell", "enchantment", "arcane", "sorcery", "alchemy"}},
	{Label: "mecha", Catalog: "Mecha", Keywords: []string{"robot", "mechanical", "giant", "powerful", "engineered", "cyborg"}},
	{Label: "isekai", Catalog: "Fantasy", Keywords: []string{"other world", "reincarnation", "parallel universe", "fantasy realm"}},
	{Label: "historical", Catalog: "Drama", Keywords: []string{"past", "samurai", "tradition", "warrior", "dynasty", "legend"}},
	{Label: "shounen", Catalog: "Action", Keywords: []string{"young male", "action-packed", "heroic", "growth", "adventure", "fighting"}},
	{Label: "shoujo", Catalog: "Romance", Keywords: []string{"young female", "romance", "drama", "sweet", "emotional", "friendship"}},
	{Label: "seinen", Catalog: "Psychological", Keywords: []string{"mature male", "complex", "gritty", "psychological", "dark", "intense"}},
	{Label: "josei", Catalog: "Drama", Keywords: []string{"mature female", "realistic", "romance", "life", "work", "relationships"}},
}

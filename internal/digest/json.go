package digest

import (
	"encoding/json"
	"io"
	"time"

	"github.com/ppiankov/boorupan/internal/rank"
)

type jsonDigest struct {
	Meta   jsonMeta    `json:"meta"`
	Items  []jsonItem  `json:"items"`
	BySite []siteCount `json:"by_site"`
}

type jsonMeta struct {
	Mode   string `json:"mode"`
	Query  string `json:"query,omitempty"`
	Sites  int    `json:"sites"`
	Posts  int    `json:"posts"`
	Cycles int    `json:"cycles"`
}

type jsonItem struct {
	Key        string          `json:"key"`
	Site       string          `json:"site"`
	ID         string          `json:"id"`
	URL        string          `json:"url,omitempty"`
	FileURL    string          `json:"file_url,omitempty"`
	PreviewURL string          `json:"preview_url,omitempty"`
	CreatedAt  string          `json:"created_at,omitempty"`
	Score      int             `json:"score"`
	Favorites  int             `json:"favorites"`
	Rating     string          `json:"rating,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	Rank       *rank.Breakdown `json:"rank,omitempty"`
	Favorited  bool            `json:"favorited"`
	AddedAt    string          `json:"added_at,omitempty"`
}

// JSONFormatter formats a listing as JSON.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// Format writes the listing as JSON to w.
func (f *JSONFormatter) Format(w io.Writer, input Input) error {
	out := jsonDigest{
		Meta: jsonMeta{
			Mode:   input.Mode,
			Query:  input.Query,
			Sites:  input.Sites,
			Posts:  len(input.Items),
			Cycles: input.Cycles,
		},
		Items:  toJSONItems(input.Items),
		BySite: countBySite(input.Items),
	}
	if out.BySite == nil {
		out.BySite = []siteCount{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func toJSONItems(items []Item) []jsonItem {
	result := make([]jsonItem, 0, len(items))
	for _, item := range items {
		p := item.Post
		ji := jsonItem{
			Key:        p.Key(),
			Site:       p.Site.Name,
			ID:         p.ID,
			URL:        p.PostURL,
			FileURL:    p.FileURL,
			PreviewURL: p.PreviewURL,
			Score:      p.Score,
			Favorites:  p.Favorites,
			Rating:     p.Rating,
			Tags:       p.Tags,
			Rank:       item.Rank,
			Favorited:  item.Favorited,
		}
		if p.CreatedAt != nil {
			ji.CreatedAt = p.CreatedAt.UTC().Format(time.RFC3339)
		}
		if item.AddedAt > 0 {
			ji.AddedAt = time.UnixMilli(item.AddedAt).UTC().Format(time.RFC3339)
		}
		result = append(result, ji)
	}
	return result
}

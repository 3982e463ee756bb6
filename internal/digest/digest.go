// Package digest renders a feed page or a favorites listing.
package digest

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/boorupan/internal/rank"
	"github.com/ppiankov/boorupan/internal/source"
)

// Item is one rendered post.
type Item struct {
	Post source.Post
	// Rank is set in popular mode.
	Rank      *rank.Breakdown
	Favorited bool
	// AddedAt is the favorite timestamp in epoch ms, 0 when not a favorite.
	AddedAt int64
}

// Input is the full input for a formatter.
type Input struct {
	Mode   string
	Query  string
	Sites  int // number of sites queried
	Cycles int // pages merged so far
	Items  []Item
	Now    time.Time
}

// Formatter writes a formatted listing to w.
type Formatter interface {
	Format(w io.Writer, input Input) error
}

// New returns the formatter for a format name.
func New(format string, color bool) (Formatter, error) {
	switch format {
	case "json":
		return NewJSON(), nil
	case "markdown", "md":
		return NewMarkdown(), nil
	case "terminal", "":
		return NewTerminal(color), nil
	}
	return nil, fmt.Errorf("unknown format %q (want terminal, json, or markdown)", format)
}

// Build pairs posts with their popularity breakdown and favorite state.
// ranks and added may be nil.
func Build(posts []source.Post, ranks map[string]rank.Breakdown, added map[string]int64) []Item {
	items := make([]Item, 0, len(posts))
	for _, p := range posts {
		key := p.Key()
		it := Item{Post: p}
		if b, ok := ranks[key]; ok {
			it.Rank = &b
		}
		if at, ok := added[key]; ok {
			it.Favorited = true
			it.AddedAt = at
		}
		items = append(items, it)
	}
	return items
}

type siteCount struct {
	Name  string `json:"name"`
	Posts int    `json:"posts"`
}

// countBySite tallies items per site name, largest first.
func countBySite(items []Item) []siteCount {
	idx := make(map[string]int)
	var out []siteCount
	for _, it := range items {
		name := it.Post.Site.Name
		if name == "" {
			name = it.Post.Site.BaseURL
		}
		i, ok := idx[name]
		if !ok {
			i = len(out)
			idx[name] = i
			out = append(out, siteCount{Name: name})
		}
		out[i].Posts++
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Posts > out[j].Posts })
	return out
}

func title(p source.Post) string {
	name := p.Site.Name
	if name == "" {
		name = p.Site.BaseURL
	}
	return name + " #" + p.ID
}

func link(p source.Post) string {
	if p.PostURL != "" {
		return p.PostURL
	}
	return p.FileURL
}

// tagLine joins up to max tags and notes how many were cut.
func tagLine(tags []string, max int) string {
	if len(tags) <= max {
		return strings.Join(tags, " ")
	}
	return fmt.Sprintf("%s +%d more", strings.Join(tags[:max], " "), len(tags)-max)
}

func nowOf(input Input) time.Time {
	if input.Now.IsZero() {
		return time.Now()
	}
	return input.Now
}

// Package favorites keeps the local favorites set and mirrors toggles to a remote.
package favorites

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/boorupan/internal/source"
)

// ErrInvalidPost is returned for a post that cannot be favorited.
var ErrInvalidPost = errors.New("invalid post")

const (
	maxURLLen    = 2048
	maxTags      = 256
	maxTagLen    = 128
	maxRatingLen = 32
	maxNameLen   = 256
	maxIDLen     = 128
)

// Entry is one favorited post.
type Entry struct {
	Key     string      `json:"key"`
	AddedAt int64       `json:"added_at"`
	Post    source.Post `json:"post"`
}

// Snapshot validates p and clamps its fields to storage-safe sizes.
func Snapshot(p source.Post) (source.Post, error) {
	if strings.TrimSpace(p.ID) == "" {
		return source.Post{}, fmt.Errorf("%w: id is required", ErrInvalidPost)
	}
	if strings.TrimSpace(p.Site.BaseURL) == "" {
		return source.Post{}, fmt.Errorf("%w: site base url is required", ErrInvalidPost)
	}
	if len(p.ID) > maxIDLen {
		return source.Post{}, fmt.Errorf("%w: id too long", ErrInvalidPost)
	}

	out := p
	out.Site.Name = clamp(p.Site.Name, maxNameLen)
	out.PreviewURL = clamp(p.PreviewURL, maxURLLen)
	out.SampleURL = clamp(p.SampleURL, maxURLLen)
	out.FileURL = clamp(p.FileURL, maxURLLen)
	out.PostURL = clamp(p.PostURL, maxURLLen)
	out.Source = clamp(p.Source, maxURLLen)
	out.Rating = clamp(p.Rating, maxRatingLen)

	n := len(p.Tags)
	if n > maxTags {
		n = maxTags
	}
	out.Tags = make([]string, 0, n)
	for _, tag := range p.Tags[:n] {
		out.Tags = append(out.Tags, clamp(tag, maxTagLen))
	}
	if p.CreatedAt != nil {
		t := *p.CreatedAt
		out.CreatedAt = &t
	}
	if p.Width != nil {
		w := *p.Width
		out.Width = &w
	}
	if p.Height != nil {
		h := *p.Height
		out.Height = &h
	}
	return out, nil
}

// clamp cuts s to at most n bytes without splitting a rune.
func clamp(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// SiteStats holds favorite counts for one site.
type SiteStats struct {
	Name      string
	BaseURL   string
	Total     int
	FirstSeen time.Time
	LastSeen  time.Time
}

// StatsBySite groups entries by site base URL, largest group first.
func StatsBySite(entries []Entry) []SiteStats {
	idx := make(map[string]int)
	var out []SiteStats
	for _, e := range entries {
		base := e.Post.Site.BaseURL
		i, ok := idx[base]
		if !ok {
			i = len(out)
			idx[base] = i
			out = append(out, SiteStats{Name: e.Post.Site.Name, BaseURL: base, FirstSeen: time.UnixMilli(e.AddedAt).UTC(), LastSeen: time.UnixMilli(e.AddedAt).UTC()})
		}
		st := &out[i]
		st.Total++
		at := time.UnixMilli(e.AddedAt).UTC()
		if at.Before(st.FirstSeen) {
			st.FirstSeen = at
		}
		if at.After(st.LastSeen) {
			st.LastSeen = at
		}
		if st.Name < e.Post.Site.Name {
			st.Name = e.Post.Site.Name
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].BaseURL < out[j].BaseURL
	})
	return out
}

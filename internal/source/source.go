// Package source normalizes booru listing APIs into canonical posts.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/boorupan/internal/transport"
)

// SiteType names an adapter implementation.
type SiteType string

const (
	Danbooru  SiteType = "danbooru"
	Gelbooru  SiteType = "gelbooru"
	Moebooru  SiteType = "moebooru"
	E621      SiteType = "e621"
	Philomena SiteType = "philomena"
)

// ErrUnknownType is returned for a site type with no adapter.
var ErrUnknownType = errors.New("unknown site type")

// Cursor is an adapter-owned page position. Empty means "start".
type Cursor string

// SiteRef is the site stamp carried by every post.
type SiteRef struct {
	Name    string   `json:"name"`
	Type    SiteType `json:"type"`
	BaseURL string   `json:"baseUrl"`
}

// Post is the canonical record every adapter produces.
type Post struct {
	ID         string     `json:"id"`
	Site       SiteRef    `json:"site"`
	CreatedAt  *time.Time `json:"created_at"`
	Score      int        `json:"score"`
	Favorites  int        `json:"favorites"`
	PreviewURL string     `json:"preview_url,omitempty"`
	SampleURL  string     `json:"sample_url,omitempty"`
	FileURL    string     `json:"file_url,omitempty"`
	Width      *int       `json:"width"`
	Height     *int       `json:"height"`
	Tags       []string   `json:"tags"`
	Rating     string     `json:"rating,omitempty"`
	Source     string     `json:"source,omitempty"`
	PostURL    string     `json:"post_url,omitempty"`
}

// Key returns the canonical key: site base URL, "#", post id.
func (p Post) Key() string {
	return Key(p.Site.BaseURL, p.ID)
}

// Key builds a canonical key from its parts.
func Key(baseURL, id string) string {
	return baseURL + "#" + id
}

// Site is one configured content source.
type Site struct {
	Name        string            `json:"name" yaml:"name"`
	Type        SiteType          `json:"type" yaml:"type"`
	BaseURL     string            `json:"baseUrl" yaml:"base_url"`
	Rating      string            `json:"rating,omitempty" yaml:"rating"`
	Tags        string            `json:"tags,omitempty" yaml:"tags"`
	Credentials map[string]string `json:"credentials,omitempty" yaml:"-"`
	OrderIndex  int               `json:"order_index" yaml:"-"`
}

// Ref returns the stamp copied into posts from this site.
func (s Site) Ref() SiteRef {
	return SiteRef{Name: s.Name, Type: s.Type, BaseURL: NormalizeBaseURL(s.BaseURL)}
}

// Identity is the reconciliation key: lowercased type and normalized base URL.
func (s Site) Identity() string {
	return Identity(s.Type, s.BaseURL)
}

// Identity builds a site identity from its parts.
func Identity(t SiteType, baseURL string) string {
	return strings.ToLower(string(t)) + "|" + NormalizeBaseURL(baseURL)
}

// Credential returns a trimmed credential value.
func (s Site) Credential(name string) string {
	return strings.TrimSpace(s.Credentials[name])
}

// Validate checks the fields adapters rely on.
func (s Site) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("site name is required")
	}
	if !KnownType(s.Type) {
		return fmt.Errorf("site %s: %w %q", s.Name, ErrUnknownType, s.Type)
	}
	if NormalizeBaseURL(s.BaseURL) == "" {
		return fmt.Errorf("site %s: base url is required", s.Name)
	}
	switch s.Rating {
	case "", "all", "safe", "sensitive", "questionable", "explicit":
	default:
		return fmt.Errorf("site %s: unknown rating %q", s.Name, s.Rating)
	}
	return nil
}

// Request is one page request.
type Request struct {
	Cursor Cursor
	Limit  int
	Search string
}

// Page is one page of results.
type Page struct {
	Posts []Post
	Next  Cursor
}

// Adapter fetches listings from one kind of site.
type Adapter interface {
	Type() SiteType
	FetchNew(ctx context.Context, site Site, req Request) (Page, error)
	FetchPopular(ctx context.Context, site Site, req Request) (Page, error)
}

// Favoriter is implemented by adapters that can mirror a favorite on the site itself.
type Favoriter interface {
	Favorite(ctx context.Context, site Site, postID string, add bool) error
}

// AuthChecker is implemented by adapters that can verify site credentials.
type AuthChecker interface {
	AuthCheck(ctx context.Context, site Site) error
}

// DefaultLimit is used when a request carries no limit.
const DefaultLimit = 40

var constructors = map[SiteType]func(transport.Client) Adapter{
	Danbooru:  func(c transport.Client) Adapter { return NewDanbooru(c) },
	Gelbooru:  func(c transport.Client) Adapter { return NewGelbooru(c) },
	Moebooru:  func(c transport.Client) Adapter { return NewMoebooru(c) },
	E621:      func(c transport.Client) Adapter { return NewE621(c) },
	Philomena: func(c transport.Client) Adapter { return NewPhilomena(c) },
}

// New returns the adapter for t.
func New(t SiteType, c transport.Client) (Adapter, error) {
	ctor, ok := constructors[SiteType(strings.ToLower(string(t)))]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownType, t)
	}
	if c == nil {
		return nil, errors.New("transport client is required")
	}
	return ctor(c), nil
}

// KnownType reports whether t has an adapter.
func KnownType(t SiteType) bool {
	_, ok := constructors[SiteType(strings.ToLower(string(t)))]
	return ok
}

// Types lists supported site types in name order.
func Types() []SiteType {
	out := make([]SiteType, 0, len(constructors))
	for t := range constructors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

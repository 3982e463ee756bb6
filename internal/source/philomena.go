package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ppiankov/boorupan/internal/transport"
)

// PhilomenaAdapter reads the Philomena search API (derpibooru, furbooru).
type PhilomenaAdapter struct {
	client transport.Client
}

// NewPhilomena creates a Philomena adapter.
func NewPhilomena(c transport.Client) *PhilomenaAdapter {
	return &PhilomenaAdapter{client: c}
}

func (a *PhilomenaAdapter) Type() SiteType { return Philomena }

func (a *PhilomenaAdapter) FetchNew(ctx context.Context, site Site, req Request) (Page, error) {
	return a.fetch(ctx, site, req, "created_at", "id")
}

func (a *PhilomenaAdapter) FetchPopular(ctx context.Context, site Site, req Request) (Page, error) {
	return a.fetch(ctx, site, req, "score", "wilson_score")
}

func (a *PhilomenaAdapter) fetch(ctx context.Context, site Site, req Request, sortField, altSortField string) (Page, error) {
	page := pageNumber(req.Cursor)
	query := philomenaQuery(BuildTags(req.Search, site.Tags, RatingTag(Philomena, site.Rating)))
	limit := limitOf(req)

	posts, err := withFallback(ctx, req.Search,
		func(ctx context.Context) ([]Post, error) { return a.search(ctx, site, query, sortField, page, limit) },
		func(ctx context.Context) ([]Post, error) { return a.search(ctx, site, query, altSortField, page, limit) },
	)
	if err != nil {
		return Page{}, err
	}
	return Page{Posts: posts, Next: nextPage(page)}, nil
}

// philomenaQuery joins tags with commas; "*" matches everything.
func philomenaQuery(tags []string) string {
	if len(tags) == 0 {
		return "*"
	}
	return strings.Join(tags, ", ")
}

func (a *PhilomenaAdapter) search(ctx context.Context, site Site, query, sortField string, page, limit int) ([]Post, error) {
	q := philomenaAuth(site)
	q.Set("q", query)
	q.Set("per_page", strconv.Itoa(limit))
	q.Set("page", strconv.Itoa(page))
	q.Set("sf", sortField)
	q.Set("sd", "desc")

	var resp struct {
		Images []philomenaImage `json:"images"`
	}
	if err := a.client.GetJSON(ctx, buildURL(site.BaseURL, "/api/v1/json/search/images", q), &resp); err != nil {
		return nil, fmt.Errorf("philomena: %w", err)
	}

	ref := site.Ref()
	posts := make([]Post, 0, len(resp.Images))
	for _, img := range resp.Images {
		if img.HiddenFromUsers || img.DeletionReason != "" || img.DuplicateOf != 0 {
			continue
		}
		p := img.toPost(ref)
		if !viewable(p) {
			continue
		}
		fillURLs(&p)
		posts = append(posts, p)
	}
	return posts, nil
}

// AuthCheck searches the account's own favorites, which needs a valid key.
func (a *PhilomenaAdapter) AuthCheck(ctx context.Context, site Site) error {
	if site.Credential("key") == "" {
		return errors.New("philomena: key is required")
	}
	q := philomenaAuth(site)
	q.Set("q", "my:faves")
	q.Set("per_page", "1")
	var resp struct {
		Total int `json:"total"`
	}
	if err := a.client.GetJSON(ctx, buildURL(site.BaseURL, "/api/v1/json/search/images", q), &resp); err != nil {
		return fmt.Errorf("philomena: auth check: %w", err)
	}
	return nil
}

func philomenaAuth(site Site) url.Values {
	q := url.Values{}
	if key := site.Credential("key"); key != "" {
		q.Set("key", key)
	}
	return q
}

type philomenaImage struct {
	ID              flexID   `json:"id"`
	CreatedAt       flexTime `json:"created_at"`
	Score           flexInt  `json:"score"`
	Faves           flexInt  `json:"faves"`
	Width           flexInt  `json:"width"`
	Height          flexInt  `json:"height"`
	Tags            []string `json:"tags"`
	SourceURL       string   `json:"source_url"`
	ViewURL         string   `json:"view_url"`
	HiddenFromUsers bool     `json:"hidden_from_users"`
	DeletionReason  string   `json:"deletion_reason"`
	DuplicateOf     int64    `json:"duplicate_of"`
	Representations struct {
		Thumb  string `json:"thumb"`
		Medium string `json:"medium"`
		Large  string `json:"large"`
		Full   string `json:"full"`
	} `json:"representations"`
}

var philomenaRatings = map[string]bool{
	"safe": true, "suggestive": true, "questionable": true, "explicit": true,
	"semi-grimdark": true, "grimdark": true,
}

func (img philomenaImage) toPost(ref SiteRef) Post {
	id := string(img.ID)
	rating := ""
	for _, tag := range img.Tags {
		if philomenaRatings[tag] {
			rating = tag
			break
		}
	}
	return Post{
		ID:         id,
		Site:       ref,
		CreatedAt:  img.CreatedAt.t,
		Score:      int(img.Score),
		Favorites:  int(img.Faves),
		PreviewURL: AbsoluteURL(ref.BaseURL, img.Representations.Thumb),
		SampleURL:  AbsoluteURL(ref.BaseURL, firstString(img.Representations.Large, img.Representations.Medium)),
		FileURL:    AbsoluteURL(ref.BaseURL, firstString(img.ViewURL, img.Representations.Full)),
		Width:      intPtr(int(img.Width)),
		Height:     intPtr(int(img.Height)),
		Tags:       img.Tags,
		Rating:     rating,
		Source:     img.SourceURL,
		PostURL:    AbsoluteURL(ref.BaseURL, "/images/"+id),
	}
}

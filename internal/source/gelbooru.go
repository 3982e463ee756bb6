package source

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ppiankov/boorupan/internal/transport"
)

// GelbooruAdapter reads the Gelbooru dapi in JSON and XML form.
type GelbooruAdapter struct {
	client transport.Client
}

// NewGelbooru creates a Gelbooru adapter.
func NewGelbooru(c transport.Client) *GelbooruAdapter {
	return &GelbooruAdapter{client: c}
}

func (a *GelbooruAdapter) Type() SiteType { return Gelbooru }

func (a *GelbooruAdapter) FetchNew(ctx context.Context, site Site, req Request) (Page, error) {
	return a.fetch(ctx, site, req, "")
}

func (a *GelbooruAdapter) FetchPopular(ctx context.Context, site Site, req Request) (Page, error) {
	return a.fetch(ctx, site, req, "sort:score:desc")
}

func (a *GelbooruAdapter) fetch(ctx context.Context, site Site, req Request, order string) (Page, error) {
	pid := pidOf(req.Cursor)
	tags := withOrder(BuildTags(req.Search, site.Tags, RatingTag(Gelbooru, site.Rating)), order)
	limit := limitOf(req)

	posts, err := withFallback(ctx, req.Search,
		func(ctx context.Context) ([]Post, error) { return a.listJSON(ctx, site, tags, pid, limit) },
		func(ctx context.Context) ([]Post, error) { return a.listXML(ctx, site, tags, pid, limit) },
	)
	if err != nil {
		return Page{}, err
	}
	return Page{Posts: posts, Next: Cursor(strconv.Itoa(pid + 1))}, nil
}

func (a *GelbooruAdapter) query(site Site, tags []string, pid, limit int, asJSON bool) string {
	q := gelbooruAuth(site)
	q.Set("page", "dapi")
	q.Set("s", "post")
	q.Set("q", "index")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("pid", strconv.Itoa(pid))
	q.Set("tags", strings.Join(tags, " "))
	if asJSON {
		q.Set("json", "1")
	}
	return buildURL(site.BaseURL, "/index.php", q)
}

func (a *GelbooruAdapter) listJSON(ctx context.Context, site Site, tags []string, pid, limit int) ([]Post, error) {
	var raw json.RawMessage
	if err := a.client.GetJSON(ctx, a.query(site, tags, pid, limit, true), &raw); err != nil {
		return nil, fmt.Errorf("gelbooru: %w", err)
	}

	var items []gelbooruPost
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0:
	case trimmed[0] == '[':
		// Older installs return a bare array.
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("gelbooru: decode: %w", err)
		}
	default:
		var envelope struct {
			Post []gelbooruPost `json:"post"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("gelbooru: decode: %w", err)
		}
		items = envelope.Post
	}

	return gelbooruPosts(site, items), nil
}

func (a *GelbooruAdapter) listXML(ctx context.Context, site Site, tags []string, pid, limit int) ([]Post, error) {
	body, err := a.client.GetText(ctx, a.query(site, tags, pid, limit, false))
	if err != nil {
		return nil, fmt.Errorf("gelbooru xml: %w", err)
	}
	var doc struct {
		Posts []booruXMLPost `xml:"post"`
	}
	if err := xml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("gelbooru xml: decode: %w", err)
	}

	items := make([]gelbooruPost, 0, len(doc.Posts))
	for _, xp := range doc.Posts {
		items = append(items, xp.gelbooru())
	}
	return gelbooruPosts(site, items), nil
}

// AuthCheck issues a one-post request with the configured api_key and user_id.
func (a *GelbooruAdapter) AuthCheck(ctx context.Context, site Site) error {
	if site.Credential("api_key") == "" || site.Credential("user_id") == "" {
		return errors.New("gelbooru: api_key and user_id are required")
	}
	var raw json.RawMessage
	if err := a.client.GetJSON(ctx, a.query(site, nil, 0, 1, true), &raw); err != nil {
		return fmt.Errorf("gelbooru: auth check: %w", err)
	}
	return nil
}

func gelbooruAuth(site Site) url.Values {
	q := url.Values{}
	if key, uid := site.Credential("api_key"), site.Credential("user_id"); key != "" && uid != "" {
		q.Set("api_key", key)
		q.Set("user_id", uid)
	}
	return q
}

func pidOf(c Cursor) int {
	n, err := strconv.Atoi(strings.TrimSpace(string(c)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

type gelbooruPost struct {
	ID         flexID   `json:"id"`
	CreatedAt  flexTime `json:"created_at"`
	Score      flexInt  `json:"score"`
	FileURL    string   `json:"file_url"`
	SampleURL  string   `json:"sample_url"`
	PreviewURL string   `json:"preview_url"`
	Width      flexInt  `json:"width"`
	Height     flexInt  `json:"height"`
	Tags       string   `json:"tags"`
	Rating     string   `json:"rating"`
	Source     string   `json:"source"`
	Status     string   `json:"status"`
}

func gelbooruPosts(site Site, items []gelbooruPost) []Post {
	ref := site.Ref()
	posts := make([]Post, 0, len(items))
	for _, gp := range items {
		if gp.Status == "deleted" {
			continue
		}
		id := string(gp.ID)
		p := Post{
			ID:         id,
			Site:       ref,
			CreatedAt:  gp.CreatedAt.t,
			Score:      int(gp.Score),
			PreviewURL: AbsoluteURL(ref.BaseURL, gp.PreviewURL),
			SampleURL:  AbsoluteURL(ref.BaseURL, gp.SampleURL),
			FileURL:    AbsoluteURL(ref.BaseURL, gp.FileURL),
			Width:      intPtr(int(gp.Width)),
			Height:     intPtr(int(gp.Height)),
			Tags:       strings.Fields(gp.Tags),
			Rating:     ratingName(gp.Rating),
			Source:     gp.Source,
			PostURL:    AbsoluteURL(ref.BaseURL, "/index.php?page=post&s=view&id="+id),
		}
		if !viewable(p) {
			continue
		}
		fillURLs(&p)
		posts = append(posts, p)
	}
	return posts
}

// booruXMLPost reads both attribute-style (<post id="1" .../>) and
// element-style (<post><id>1</id>...</post>) XML listings.
type booruXMLPost struct {
	IDAttr         string `xml:"id,attr"`
	CreatedAtAttr  string `xml:"created_at,attr"`
	ScoreAttr      string `xml:"score,attr"`
	FavCountAttr   string `xml:"fav_count,attr"`
	FileURLAttr    string `xml:"file_url,attr"`
	SampleURLAttr  string `xml:"sample_url,attr"`
	PreviewURLAttr string `xml:"preview_url,attr"`
	WidthAttr      string `xml:"width,attr"`
	HeightAttr     string `xml:"height,attr"`
	TagsAttr       string `xml:"tags,attr"`
	RatingAttr     string `xml:"rating,attr"`
	SourceAttr     string `xml:"source,attr"`
	StatusAttr     string `xml:"status,attr"`

	ID         string `xml:"id"`
	CreatedAt  string `xml:"created_at"`
	Score      string `xml:"score"`
	FileURL    string `xml:"file_url"`
	SampleURL  string `xml:"sample_url"`
	PreviewURL string `xml:"preview_url"`
	Width      string `xml:"width"`
	Height     string `xml:"height"`
	Tags       string `xml:"tags"`
	Rating     string `xml:"rating"`
	Source     string `xml:"source"`
	Status     string `xml:"status"`
}

func (xp booruXMLPost) gelbooru() gelbooruPost {
	return gelbooruPost{
		ID:         flexID(firstString(xp.IDAttr, xp.ID)),
		CreatedAt:  flexTime{t: parseTimeString(firstString(xp.CreatedAtAttr, xp.CreatedAt))},
		Score:      flexInt(atoi(firstString(xp.ScoreAttr, xp.Score))),
		FileURL:    firstString(xp.FileURLAttr, xp.FileURL),
		SampleURL:  firstString(xp.SampleURLAttr, xp.SampleURL),
		PreviewURL: firstString(xp.PreviewURLAttr, xp.PreviewURL),
		Width:      flexInt(atoi(firstString(xp.WidthAttr, xp.Width))),
		Height:     flexInt(atoi(firstString(xp.HeightAttr, xp.Height))),
		Tags:       firstString(xp.TagsAttr, xp.Tags),
		Rating:     firstString(xp.RatingAttr, xp.Rating),
		Source:     firstString(xp.SourceAttr, xp.Source),
		Status:     firstString(xp.StatusAttr, xp.Status),
	}
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

package source

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ppiankov/boorupan/internal/transport"
)

// MoebooruAdapter reads post.json / post.xml from Moebooru sites (yande.re, konachan).
type MoebooruAdapter struct {
	client transport.Client
}

// NewMoebooru creates a Moebooru adapter.
func NewMoebooru(c transport.Client) *MoebooruAdapter {
	return &MoebooruAdapter{client: c}
}

func (a *MoebooruAdapter) Type() SiteType { return Moebooru }

func (a *MoebooruAdapter) FetchNew(ctx context.Context, site Site, req Request) (Page, error) {
	return a.fetch(ctx, site, req, "")
}

func (a *MoebooruAdapter) FetchPopular(ctx context.Context, site Site, req Request) (Page, error) {
	return a.fetch(ctx, site, req, "order:score")
}

func (a *MoebooruAdapter) fetch(ctx context.Context, site Site, req Request, order string) (Page, error) {
	page := pageNumber(req.Cursor)
	tags := withOrder(BuildTags(req.Search, site.Tags, RatingTag(Moebooru, site.Rating)), order)
	limit := limitOf(req)

	posts, err := withFallback(ctx, req.Search,
		func(ctx context.Context) ([]Post, error) { return a.listJSON(ctx, site, tags, page, limit) },
		func(ctx context.Context) ([]Post, error) { return a.listXML(ctx, site, tags, page, limit) },
	)
	if err != nil {
		return Page{}, err
	}
	return Page{Posts: posts, Next: nextPage(page)}, nil
}

func (a *MoebooruAdapter) listURL(site Site, path string, tags []string, page, limit int) string {
	q := moebooruAuth(site)
	q.Set("tags", strings.Join(tags, " "))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("page", strconv.Itoa(page))
	return buildURL(site.BaseURL, path, q)
}

func (a *MoebooruAdapter) listJSON(ctx context.Context, site Site, tags []string, page, limit int) ([]Post, error) {
	var raw []moebooruPost
	if err := a.client.GetJSON(ctx, a.listURL(site, "/post.json", tags, page, limit), &raw); err != nil {
		return nil, fmt.Errorf("moebooru: %w", err)
	}
	return moebooruPosts(site, raw), nil
}

func (a *MoebooruAdapter) listXML(ctx context.Context, site Site, tags []string, page, limit int) ([]Post, error) {
	body, err := a.client.GetText(ctx, a.listURL(site, "/post.xml", tags, page, limit))
	if err != nil {
		return nil, fmt.Errorf("moebooru xml: %w", err)
	}
	var doc struct {
		Posts []booruXMLPost `xml:"post"`
	}
	if err := xml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("moebooru xml: decode: %w", err)
	}
	raw := make([]moebooruPost, 0, len(doc.Posts))
	for _, xp := range doc.Posts {
		g := xp.gelbooru()
		raw = append(raw, moebooruPost{
			ID:         g.ID,
			CreatedAt:  g.CreatedAt,
			Score:      g.Score,
			FavCount:   flexInt(atoi(xp.FavCountAttr)),
			FileURL:    g.FileURL,
			SampleURL:  g.SampleURL,
			PreviewURL: g.PreviewURL,
			Width:      g.Width,
			Height:     g.Height,
			Tags:       g.Tags,
			Rating:     g.Rating,
			Source:     g.Source,
			Status:     g.Status,
		})
	}
	return moebooruPosts(site, raw), nil
}

// Favorite votes 3 (favorite) or 0 (clear) on the post.
func (a *MoebooruAdapter) Favorite(ctx context.Context, site Site, postID string, add bool) error {
	q := moebooruAuth(site)
	if len(q) == 0 {
		return errors.New("moebooru: favorite requires login and password_hash")
	}
	score := "0"
	if add {
		score = "3"
	}
	form := url.Values{"id": {postID}, "score": {score}}
	return a.client.PostForm(ctx, buildURL(site.BaseURL, "/post/vote.json", q), form, nil)
}

// AuthCheck looks the configured login up on /user.json.
func (a *MoebooruAdapter) AuthCheck(ctx context.Context, site Site) error {
	q := moebooruAuth(site)
	if len(q) == 0 {
		return errors.New("moebooru: login and password_hash are required")
	}
	q.Set("name", site.Credential("login"))
	var users []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	if err := a.client.GetJSON(ctx, buildURL(site.BaseURL, "/user.json", q), &users); err != nil {
		return fmt.Errorf("moebooru: auth check: %w", err)
	}
	if len(users) == 0 {
		return fmt.Errorf("moebooru: auth check: user %q not found", site.Credential("login"))
	}
	return nil
}

func moebooruAuth(site Site) url.Values {
	q := url.Values{}
	if login, hash := site.Credential("login"), site.Credential("password_hash"); login != "" && hash != "" {
		q.Set("login", login)
		q.Set("password_hash", hash)
	}
	return q
}

type moebooruPost struct {
	ID         flexID   `json:"id"`
	CreatedAt  flexTime `json:"created_at"`
	Score      flexInt  `json:"score"`
	FavCount   flexInt  `json:"fav_count"`
	FileURL    string   `json:"file_url"`
	JPEGURL    string   `json:"jpeg_url"`
	SampleURL  string   `json:"sample_url"`
	PreviewURL string   `json:"preview_url"`
	Width      flexInt  `json:"width"`
	Height     flexInt  `json:"height"`
	Tags       string   `json:"tags"`
	Rating     string   `json:"rating"`
	Source     string   `json:"source"`
	Status     string   `json:"status"`
}

func moebooruPosts(site Site, raw []moebooruPost) []Post {
	ref := site.Ref()
	posts := make([]Post, 0, len(raw))
	for _, mp := range raw {
		if mp.Status == "deleted" {
			continue
		}
		id := string(mp.ID)
		p := Post{
			ID:         id,
			Site:       ref,
			CreatedAt:  mp.CreatedAt.t,
			Score:      int(mp.Score),
			Favorites:  int(mp.FavCount),
			PreviewURL: AbsoluteURL(ref.BaseURL, mp.PreviewURL),
			SampleURL:  AbsoluteURL(ref.BaseURL, firstString(mp.SampleURL, mp.JPEGURL)),
			FileURL:    AbsoluteURL(ref.BaseURL, mp.FileURL),
			Width:      intPtr(int(mp.Width)),
			Height:     intPtr(int(mp.Height)),
			Tags:       strings.Fields(mp.Tags),
			Rating:     ratingName(mp.Rating),
			Source:     mp.Source,
			PostURL:    AbsoluteURL(ref.BaseURL, "/post/show/"+id),
		}
		if !viewable(p) {
			continue
		}
		fillURLs(&p)
		posts = append(posts, p)
	}
	return posts
}

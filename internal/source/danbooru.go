package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/ppiankov/boorupan/internal/transport"
)

// DanbooruAdapter reads Danbooru's posts.json API.
type DanbooruAdapter struct {
	client transport.Client
}

// NewDanbooru creates a Danbooru adapter.
func NewDanbooru(c transport.Client) *DanbooruAdapter {
	return &DanbooruAdapter{client: c}
}

func (a *DanbooruAdapter) Type() SiteType { return Danbooru }

func (a *DanbooruAdapter) FetchNew(ctx context.Context, site Site, req Request) (Page, error) {
	return a.fetch(ctx, site, req, "", "")
}

func (a *DanbooruAdapter) FetchPopular(ctx context.Context, site Site, req Request) (Page, error) {
	return a.fetch(ctx, site, req, "order:rank", "order:score")
}

func (a *DanbooruAdapter) fetch(ctx context.Context, site Site, req Request, order, altOrder string) (Page, error) {
	page := pageNumber(req.Cursor)
	tags := BuildTags(req.Search, site.Tags, RatingTag(Danbooru, site.Rating))

	primary := func(ctx context.Context) ([]Post, error) {
		return a.list(ctx, site, withOrder(tags, order), page, limitOf(req))
	}
	var alternates []attempt
	if altOrder != "" {
		alternates = append(alternates, func(ctx context.Context) ([]Post, error) {
			return a.list(ctx, site, withOrder(tags, altOrder), page, limitOf(req))
		})
	}
	alternates = append(alternates, func(ctx context.Context) ([]Post, error) {
		return a.atom(ctx, site, withOrder(tags, order), page, limitOf(req))
	})

	posts, err := withFallback(ctx, req.Search, primary, alternates...)
	if err != nil {
		return Page{}, err
	}
	return Page{Posts: posts, Next: nextPage(page)}, nil
}

func (a *DanbooruAdapter) list(ctx context.Context, site Site, tags []string, page, limit int) ([]Post, error) {
	q := danbooruAuth(site)
	q.Set("tags", strings.Join(tags, " "))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("page", strconv.Itoa(page))

	var raw []danbooruPost
	if err := a.client.GetJSON(ctx, buildURL(site.BaseURL, "/posts.json", q), &raw); err != nil {
		return nil, fmt.Errorf("danbooru: %w", err)
	}

	posts := make([]Post, 0, len(raw))
	for _, rp := range raw {
		if rp.IsDeleted || rp.IsBanned {
			continue
		}
		p := rp.toPost(site)
		if !viewable(p) {
			continue
		}
		fillURLs(&p)
		posts = append(posts, p)
	}
	return posts, nil
}

var danbooruPostPathRe = regexp.MustCompile(`/posts/(\d+)`)
var htmlImgRe = regexp.MustCompile(`<img[^>]+src="([^"]+)"`)

// atom reads the posts.atom feed, used when the JSON API returns nothing.
func (a *DanbooruAdapter) atom(ctx context.Context, site Site, tags []string, page, limit int) ([]Post, error) {
	q := danbooruAuth(site)
	q.Set("tags", strings.Join(tags, " "))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("page", strconv.Itoa(page))

	body, err := a.client.GetText(ctx, buildURL(site.BaseURL, "/posts.atom", q))
	if err != nil {
		return nil, fmt.Errorf("danbooru atom: %w", err)
	}
	feed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("danbooru atom: parse: %w", err)
	}

	ref := site.Ref()
	var posts []Post
	for _, item := range feed.Items {
		m := danbooruPostPathRe.FindStringSubmatch(item.Link)
		if m == nil {
			continue
		}
		img := ""
		if item.Image != nil {
			img = item.Image.URL
		}
		for _, enc := range item.Enclosures {
			if img == "" && enc != nil {
				img = enc.URL
			}
		}
		if img == "" {
			if mm := htmlImgRe.FindStringSubmatch(item.Content + item.Description); mm != nil {
				img = mm[1]
			}
		}
		p := Post{
			ID:      m[1],
			Site:    ref,
			FileURL: AbsoluteURL(ref.BaseURL, img),
			Tags:    strings.Fields(item.Title),
			PostURL: AbsoluteURL(ref.BaseURL, "/posts/"+m[1]),
		}
		if item.PublishedParsed != nil {
			t := item.PublishedParsed.UTC()
			p.CreatedAt = &t
		} else if item.UpdatedParsed != nil {
			t := item.UpdatedParsed.UTC()
			p.CreatedAt = &t
		}
		if !viewable(p) {
			continue
		}
		fillURLs(&p)
		posts = append(posts, p)
	}
	return posts, nil
}

// Favorite adds or removes the post from the account's favorites on the site.
func (a *DanbooruAdapter) Favorite(ctx context.Context, site Site, postID string, add bool) error {
	if site.Credential("login") == "" || site.Credential("api_key") == "" {
		return errors.New("danbooru: favorite requires login and api_key")
	}
	q := danbooruAuth(site)
	if add {
		form := url.Values{"post_id": {postID}}
		return a.client.PostForm(ctx, buildURL(site.BaseURL, "/favorites.json", q), form, nil)
	}
	return a.client.Delete(ctx, buildURL(site.BaseURL, "/favorites/"+url.PathEscape(postID)+".json", q))
}

// AuthCheck verifies login and api_key against the profile endpoint.
func (a *DanbooruAdapter) AuthCheck(ctx context.Context, site Site) error {
	if site.Credential("login") == "" || site.Credential("api_key") == "" {
		return errors.New("danbooru: login and api_key are required")
	}
	var profile struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	if err := a.client.GetJSON(ctx, buildURL(site.BaseURL, "/profile.json", danbooruAuth(site)), &profile); err != nil {
		return fmt.Errorf("danbooru: auth check: %w", err)
	}
	if profile.ID == 0 {
		return errors.New("danbooru: auth check: anonymous profile")
	}
	return nil
}

func danbooruAuth(site Site) url.Values {
	q := url.Values{}
	if login, key := site.Credential("login"), site.Credential("api_key"); login != "" && key != "" {
		q.Set("login", login)
		q.Set("api_key", key)
	}
	return q
}

type danbooruPost struct {
	ID           flexID   `json:"id"`
	CreatedAt    flexTime `json:"created_at"`
	Score        flexInt  `json:"score"`
	FavCount     flexInt  `json:"fav_count"`
	PreviewURL   string   `json:"preview_file_url"`
	LargeFileURL string   `json:"large_file_url"`
	FileURL      string   `json:"file_url"`
	ImageWidth   flexInt  `json:"image_width"`
	ImageHeight  flexInt  `json:"image_height"`
	TagString    string   `json:"tag_string"`
	Rating       string   `json:"rating"`
	Source       string   `json:"source"`
	IsDeleted    bool     `json:"is_deleted"`
	IsBanned     bool     `json:"is_banned"`
}

func (rp danbooruPost) toPost(site Site) Post {
	ref := site.Ref()
	id := string(rp.ID)
	return Post{
		ID:         id,
		Site:       ref,
		CreatedAt:  rp.CreatedAt.t,
		Score:      int(rp.Score),
		Favorites:  int(rp.FavCount),
		PreviewURL: AbsoluteURL(ref.BaseURL, rp.PreviewURL),
		SampleURL:  AbsoluteURL(ref.BaseURL, rp.LargeFileURL),
		FileURL:    AbsoluteURL(ref.BaseURL, rp.FileURL),
		Width:      intPtr(int(rp.ImageWidth)),
		Height:     intPtr(int(rp.ImageHeight)),
		Tags:       strings.Fields(rp.TagString),
		Rating:     ratingName(rp.Rating),
		Source:     rp.Source,
		PostURL:    AbsoluteURL(ref.BaseURL, "/posts/"+id),
	}
}

func withOrder(tags []string, order string) []string {
	if order == "" {
		return tags
	}
	out := make([]string, 0, len(tags)+1)
	out = append(out, tags...)
	return append(out, order)
}

func buildURL(base, path string, q url.Values) string {
	u := NormalizeBaseURL(base) + path
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

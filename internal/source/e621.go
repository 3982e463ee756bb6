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

// E621Adapter reads e621-style posts.json listings.
type E621Adapter struct {
	client transport.Client
}

// NewE621 creates an e621 adapter.
func NewE621(c transport.Client) *E621Adapter {
	return &E621Adapter{client: c}
}

func (a *E621Adapter) Type() SiteType { return E621 }

// FetchNew pages with "b<id>" cursors: the next page holds posts below the
// lowest id seen on this one. An empty search result is retried with an
// explicit id order under the same cursor.
func (a *E621Adapter) FetchNew(ctx context.Context, site Site, req Request) (Page, error) {
	tags := BuildTags(req.Search, site.Tags, RatingTag(E621, site.Rating))
	cursor, limit := string(req.Cursor), limitOf(req)

	var minID int64
	posts, err := withFallback(ctx, req.Search,
		func(ctx context.Context) ([]Post, error) {
			posts, low, err := a.list(ctx, site, tags, cursor, limit)
			minID = low
			return posts, err
		},
		func(ctx context.Context) ([]Post, error) {
			posts, low, err := a.list(ctx, site, withOrder(tags, "order:id_desc"), cursor, limit)
			if err == nil && len(posts) > 0 {
				minID = low
			}
			return posts, err
		},
	)
	if err != nil {
		return Page{}, err
	}
	page := Page{Posts: posts}
	if minID > 0 {
		page.Next = Cursor("b" + strconv.FormatInt(minID, 10))
	}
	return page, nil
}

func (a *E621Adapter) FetchPopular(ctx context.Context, site Site, req Request) (Page, error) {
	page := pageNumber(req.Cursor)
	tags := BuildTags(req.Search, site.Tags, RatingTag(E621, site.Rating))
	limit := limitOf(req)
	pageParam := strconv.Itoa(page)

	posts, err := withFallback(ctx, req.Search,
		func(ctx context.Context) ([]Post, error) {
			posts, _, err := a.list(ctx, site, withOrder(tags, "order:score"), pageParam, limit)
			return posts, err
		},
		func(ctx context.Context) ([]Post, error) {
			posts, _, err := a.list(ctx, site, withOrder(tags, "order:favcount"), pageParam, limit)
			return posts, err
		},
	)
	if err != nil {
		return Page{}, err
	}
	return Page{Posts: posts, Next: nextPage(page)}, nil
}

func (a *E621Adapter) list(ctx context.Context, site Site, tags []string, page string, limit int) ([]Post, int64, error) {
	q := e621Auth(site)
	q.Set("tags", strings.Join(tags, " "))
	q.Set("limit", strconv.Itoa(limit))
	if page != "" {
		q.Set("page", page)
	}

	var resp struct {
		Posts []e621Post `json:"posts"`
	}
	if err := a.client.GetJSON(ctx, buildURL(site.BaseURL, "/posts.json", q), &resp); err != nil {
		return nil, 0, fmt.Errorf("e621: %w", err)
	}

	ref := site.Ref()
	var minID int64
	posts := make([]Post, 0, len(resp.Posts))
	for _, ep := range resp.Posts {
		if id, err := strconv.ParseInt(string(ep.ID), 10, 64); err == nil && (minID == 0 || id < minID) {
			minID = id
		}
		if ep.Flags.Deleted {
			continue
		}
		p := ep.toPost(ref)
		// file.url is null for posts hidden from the current account.
		if !viewable(p) {
			continue
		}
		fillURLs(&p)
		posts = append(posts, p)
	}
	return posts, minID, nil
}

func (a *E621Adapter) Favorite(ctx context.Context, site Site, postID string, add bool) error {
	q := e621Auth(site)
	if len(q) == 0 {
		return errors.New("e621: favorite requires login and api_key")
	}
	if add {
		return a.client.PostForm(ctx, buildURL(site.BaseURL, "/favorites.json", q), url.Values{"post_id": {postID}}, nil)
	}
	return a.client.Delete(ctx, buildURL(site.BaseURL, "/favorites/"+url.PathEscape(postID)+".json", q))
}

// AuthCheck lists one favorite, which requires a valid login.
func (a *E621Adapter) AuthCheck(ctx context.Context, site Site) error {
	q := e621Auth(site)
	if len(q) == 0 {
		return errors.New("e621: login and api_key are required")
	}
	q.Set("limit", "1")
	var resp struct {
		Posts []e621Post `json:"posts"`
	}
	if err := a.client.GetJSON(ctx, buildURL(site.BaseURL, "/favorites.json", q), &resp); err != nil {
		return fmt.Errorf("e621: auth check: %w", err)
	}
	return nil
}

func e621Auth(site Site) url.Values {
	q := url.Values{}
	if login, key := site.Credential("login"), site.Credential("api_key"); login != "" && key != "" {
		q.Set("login", login)
		q.Set("api_key", key)
	}
	return q
}

type e621Post struct {
	ID        flexID   `json:"id"`
	CreatedAt flexTime `json:"created_at"`
	Score     struct {
		Total flexInt `json:"total"`
	} `json:"score"`
	FavCount flexInt `json:"fav_count"`
	File     struct {
		Width  flexInt `json:"width"`
		Height flexInt `json:"height"`
		URL    string  `json:"url"`
	} `json:"file"`
	Preview struct {
		URL string `json:"url"`
	} `json:"preview"`
	Sample struct {
		Has bool   `json:"has"`
		URL string `json:"url"`
	} `json:"sample"`
	Tags    map[string][]string `json:"tags"`
	Rating  string              `json:"rating"`
	Sources []string            `json:"sources"`
	Flags   struct {
		Deleted bool `json:"deleted"`
	} `json:"flags"`
}

// e621TagGroups fixes the order tag categories are flattened in.
var e621TagGroups = []string{"artist", "copyright", "character", "species", "general", "lore", "meta"}

func (ep e621Post) toPost(ref SiteRef) Post {
	id := string(ep.ID)
	var tags []string
	for _, group := range e621TagGroups {
		tags = append(tags, ep.Tags[group]...)
	}
	sample := ""
	if ep.Sample.Has {
		sample = ep.Sample.URL
	}
	src := ""
	if len(ep.Sources) > 0 {
		src = ep.Sources[0]
	}
	return Post{
		ID:         id,
		Site:       ref,
		CreatedAt:  ep.CreatedAt.t,
		Score:      int(ep.Score.Total),
		Favorites:  int(ep.FavCount),
		PreviewURL: AbsoluteURL(ref.BaseURL, ep.Preview.URL),
		SampleURL:  AbsoluteURL(ref.BaseURL, sample),
		FileURL:    AbsoluteURL(ref.BaseURL, ep.File.URL),
		Width:      intPtr(int(ep.File.Width)),
		Height:     intPtr(int(ep.File.Height)),
		Tags:       tags,
		Rating:     ratingName(ep.Rating),
		Source:     src,
		PostURL:    AbsoluteURL(ref.BaseURL, "/posts/"+id),
	}
}

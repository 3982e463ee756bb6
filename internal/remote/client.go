// Package remote is the client for the favorites sync service.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/ppiankov/boorupan/internal/favorites"
	"github.com/ppiankov/boorupan/internal/source"
	"github.com/ppiankov/boorupan/internal/transport"
)

// Item is a favorite on the wire. Post is a pointer so a missing post is
// distinguishable from an empty one.
type Item struct {
	Key     string       `json:"key"`
	AddedAt int64        `json:"added_at"`
	Post    *source.Post `json:"post"`
}

type itemsBody struct {
	Items []Item `json:"items"`
}

type upsertBody struct {
	Post    source.Post `json:"post"`
	AddedAt int64       `json:"added_at"`
}

type sitesBody struct {
	Sites []source.Site `json:"sites"`
}

// Client talks to {base}/api over a transport that adds the bearer token.
type Client struct {
	base string
	http transport.Client
}

// New creates a client for base.
func New(base string, c transport.Client) (*Client, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil, errors.New("remote: server base url is required")
	}
	if c == nil {
		return nil, errors.New("remote: transport is required")
	}
	return &Client{base: base, http: c}, nil
}

// Base returns the server base URL.
func (c *Client) Base() string { return c.base }

func (c *Client) favouriteURL(key string) string {
	return c.base + "/api/favourites/" + url.PathEscape(key)
}

// ListFavorites fetches every remote favorite. Items with no key or no post
// are dropped.
func (c *Client) ListFavorites(ctx context.Context) ([]favorites.Entry, error) {
	var body itemsBody
	if err := c.http.GetJSON(ctx, c.base+"/api/favourites", &body); err != nil {
		return nil, fmt.Errorf("list favourites: %w", err)
	}
	out := make([]favorites.Entry, 0, len(body.Items))
	for _, it := range body.Items {
		if it.Key == "" || it.Post == nil {
			continue
		}
		out = append(out, favorites.Entry{Key: it.Key, AddedAt: it.AddedAt, Post: *it.Post})
	}
	return out, nil
}

func (c *Client) UpsertFavorite(ctx context.Context, e favorites.Entry) error {
	if err := c.http.PutJSON(ctx, c.favouriteURL(e.Key), upsertBody{Post: e.Post, AddedAt: e.AddedAt}, nil); err != nil {
		return fmt.Errorf("upsert favourite: %w", err)
	}
	return nil
}

func (c *Client) DeleteFavorite(ctx context.Context, key string) error {
	if err := c.http.Delete(ctx, c.favouriteURL(key)); err != nil {
		return fmt.Errorf("delete favourite: %w", err)
	}
	return nil
}

// BulkUpsert sends all entries in a single call.
func (c *Client) BulkUpsert(ctx context.Context, entries []favorites.Entry) error {
	body := itemsBody{Items: make([]Item, 0, len(entries))}
	for _, e := range entries {
		p := e.Post
		body.Items = append(body.Items, Item{Key: e.Key, AddedAt: e.AddedAt, Post: &p})
	}
	if err := c.http.PostJSON(ctx, c.base+"/api/favourites/bulk_upsert", body, nil); err != nil {
		return fmt.Errorf("bulk upsert favourites: %w", err)
	}
	return nil
}

func (c *Client) ListSites(ctx context.Context) ([]source.Site, error) {
	var body sitesBody
	if err := c.http.GetJSON(ctx, c.base+"/api/sites", &body); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return body.Sites, nil
}

func (c *Client) PutSites(ctx context.Context, list []source.Site) error {
	if list == nil {
		list = []source.Site{}
	}
	if err := c.http.PutJSON(ctx, c.base+"/api/sites", sitesBody{Sites: list}, nil); err != nil {
		return fmt.Errorf("put sites: %w", err)
	}
	return nil
}

// Stream opens the live event stream.
func (c *Client) Stream(ctx context.Context) (io.ReadCloser, error) {
	body, err := c.http.Stream(ctx, c.base+"/api/stream")
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return body, nil
}

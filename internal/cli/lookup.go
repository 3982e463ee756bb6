package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/boorupan/internal/source"
)

// findSite resolves a site by name, identity or base URL.
func (a *app) findSite(ref string) (source.Site, error) {
	if s, ok := a.sites.Find(ref); ok {
		return s, nil
	}
	base := source.NormalizeBaseURL(ref)
	for _, s := range a.sites.List() {
		if source.NormalizeBaseURL(s.BaseURL) == base || strings.EqualFold(s.Name, ref) {
			return s, nil
		}
	}
	return source.Site{}, fmt.Errorf("site %q not configured", ref)
}

// lookupPost finds one post: a stored favorite first, then an id: search
// against the site.
func (a *app) lookupPost(ctx context.Context, site source.Site, id string) (source.Post, error) {
	key := source.Key(site.Ref().BaseURL, id)
	for _, e := range a.favs.List() {
		if e.Key == key {
			return e.Post, nil
		}
	}

	adapter, err := a.resolve(site)
	if err != nil {
		return source.Post{}, err
	}
	page, err := adapter.FetchNew(ctx, site, source.Request{Search: "id:" + id, Limit: 5})
	if err != nil {
		return source.Post{}, fmt.Errorf("look up %s #%s: %w", site.Name, id, err)
	}
	for _, p := range page.Posts {
		if p.ID == id {
			return p, nil
		}
	}
	return source.Post{}, fmt.Errorf("post %s #%s not found", site.Name, id)
}

package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/boorupan/internal/favorites"
	"github.com/ppiankov/boorupan/internal/rank"
	"github.com/ppiankov/boorupan/internal/source"
)

// SiteLister returns the configured sites in display order.
type SiteLister interface {
	List() []source.Site
}

// FavoritesLister returns the local favorites.
type FavoritesLister interface {
	List() []favorites.Entry
}

// Resolver returns the adapter for a site.
type Resolver func(site source.Site) (source.Adapter, error)

// Config wires an Aggregator.
type Config struct {
	Sites     SiteLister
	Resolve   Resolver
	Favorites FavoritesLister
	PageSize  int
	// MaxConcurrent bounds in-flight site requests; 0 means one per site.
	MaxConcurrent int
	Logger        logrus.FieldLogger
	Now           func() time.Time
}

// Aggregator runs fetch cycles over every configured site.
type Aggregator struct {
	sites     SiteLister
	resolve   Resolver
	favorites FavoritesLister
	pageSize  int
	limit     int
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewAggregator validates cfg and returns an Aggregator.
func NewAggregator(cfg Config) (*Aggregator, error) {
	if cfg.Sites == nil {
		return nil, errors.New("feed: site list is required")
	}
	if cfg.Resolve == nil {
		return nil, errors.New("feed: adapter resolver is required")
	}
	a := &Aggregator{
		sites:     cfg.Sites,
		resolve:   cfg.Resolve,
		favorites: cfg.Favorites,
		pageSize:  cfg.PageSize,
		limit:     cfg.MaxConcurrent,
		log:       cfg.Logger,
		now:       cfg.Now,
	}
	if a.pageSize <= 0 {
		a.pageSize = source.DefaultLimit
	}
	if a.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		a.log = l
	}
	a.log = a.log.WithField("component", "feed")
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// siteResult is one site's contribution to a cycle.
type siteResult struct {
	site  source.Site
	posts []source.Post
	next  source.Cursor
	err   error
}

// Cycle fetches one page from every site and merges it into st. Site
// failures never fail the cycle; the affected site keeps its cursor.
func (a *Aggregator) Cycle(ctx context.Context, st *State) error {
	if st.mode == ModeFavorites {
		a.renderFavorites(st)
		return nil
	}

	sites := a.sites.List()
	st.mu.Lock()
	cursors := make([]source.Cursor, len(sites))
	for i, site := range sites {
		cursors[i] = st.cursors[site.Identity()]
	}
	st.mu.Unlock()

	results := make([]siteResult, len(sites))
	var g errgroup.Group
	if a.limit > 0 {
		g.SetLimit(a.limit)
	}
	for i, site := range sites {
		g.Go(func() error {
			results[i] = a.fetchSite(ctx, st, site, cursors[i])
			return nil
		})
	}
	_ = g.Wait()

	st.mu.Lock()
	defer st.mu.Unlock()
	for _, r := range results {
		if r.err != nil {
			continue
		}
		if r.next != "" {
			st.cursors[r.site.Identity()] = r.next
		}
	}
	if st.Searching() {
		a.mergeSearch(st, sites, results)
	} else {
		a.mergeGlobal(st, results)
	}
	st.cycles++
	return nil
}

// fetchSite calls one adapter. Errors and panics become an empty result.
func (a *Aggregator) fetchSite(ctx context.Context, st *State, site source.Site, cursor source.Cursor) (res siteResult) {
	res.site = site
	log := a.log.WithFields(logrus.Fields{"site": site.Name, "mode": string(st.mode)})
	defer func() {
		if rec := recover(); rec != nil {
			res = siteResult{site: site, err: fmt.Errorf("adapter panic: %v", rec)}
			log.WithField("panic", rec).Error("adapter panicked")
		}
	}()

	adapter, err := a.resolve(site)
	if err != nil {
		log.WithError(err).Warn("no adapter for site")
		return siteResult{site: site, err: err}
	}

	req := source.Request{Cursor: cursor, Limit: a.pageSize, Search: st.query}
	var page source.Page
	if st.mode == ModePopular && !st.Searching() {
		page, err = adapter.FetchPopular(ctx, site, req)
	} else {
		page, err = adapter.FetchNew(ctx, site, req)
	}
	if err != nil {
		log.WithError(err).Warn("site fetch failed")
		return siteResult{site: site, err: err}
	}
	log.WithFields(logrus.Fields{"posts": len(page.Posts), "cursor": string(cursor), "next": string(page.Next)}).Debug("site page fetched")
	return siteResult{site: site, posts: page.Posts, next: page.Next}
}

func (a *Aggregator) mergeGlobal(st *State, results []siteResult) {
	for _, r := range results {
		for _, p := range r.posts {
			st.accumulated[p.Key()] = p
		}
	}
	items := make([]source.Post, 0, len(st.accumulated))
	for _, p := range st.accumulated {
		items = append(items, p)
	}
	if st.mode == ModePopular {
		rank.SortPopular(items, a.now())
	} else {
		rank.SortNew(items)
	}
	st.items = items
}

func (a *Aggregator) mergeSearch(st *State, sites []source.Site, results []siteResult) {
	for _, r := range results {
		id := r.site.Identity()
		for _, p := range r.posts {
			key := p.Key()
			if st.seen[key] {
				continue
			}
			st.seen[key] = true
			st.buckets[id] = append(st.buckets[id], p)
		}
	}
	ordered := make([][]source.Post, 0, len(sites))
	for _, site := range sites {
		ordered = append(ordered, st.buckets[site.Identity()])
	}
	st.items = Interleave(ordered)
}

// renderFavorites lists local favorites, filtered by every query tag.
func (a *Aggregator) renderFavorites(st *State) {
	var entries []favorites.Entry
	if a.favorites != nil {
		entries = a.favorites.List()
	}
	want := strings.Fields(strings.ToLower(st.query))

	posts := make([]source.Post, 0, len(entries))
	added := make(map[string]int64, len(entries))
	for _, e := range entries {
		if !hasAllTags(e.Post.Tags, want) {
			continue
		}
		posts = append(posts, e.Post)
		added[e.Post.Key()] = e.AddedAt
	}
	rank.SortFavorites(posts, added)

	st.mu.Lock()
	st.items = posts
	st.cycles++
	st.mu.Unlock()
}

func hasAllTags(tags, want []string) bool {
	if len(want) == 0 {
		return true
	}
	have := make(map[string]bool, len(tags))
	for _, t := range tags {
		have[strings.ToLower(t)] = true
	}
	for _, w := range want {
		if !have[w] {
			return false
		}
	}
	return true
}

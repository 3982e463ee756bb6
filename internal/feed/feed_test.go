package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/boorupan/internal/favorites"
	"github.com/ppiankov/boorupan/internal/source"
)

type staticSites []source.Site

func (s staticSites) List() []source.Site { return s }

// scriptedAdapter serves pages keyed by cursor string.
type scriptedAdapter struct {
	mu      sync.Mutex
	pages   map[source.Cursor]source.Page
	err     error
	block   chan struct{}
	panics  bool
	calls   []source.Request
	popular int
}

func (a *scriptedAdapter) Type() source.SiteType { return source.Danbooru }

func (a *scriptedAdapter) FetchNew(_ context.Context, _ source.Site, req source.Request) (source.Page, error) {
	return a.serve(req, false)
}

func (a *scriptedAdapter) FetchPopular(_ context.Context, _ source.Site, req source.Request) (source.Page, error) {
	return a.serve(req, true)
}

func (a *scriptedAdapter) serve(req source.Request, popular bool) (source.Page, error) {
	if a.block != nil {
		<-a.block
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, req)
	if popular {
		a.popular++
	}
	if a.panics {
		panic("boom")
	}
	if a.err != nil {
		return source.Page{}, a.err
	}
	return a.pages[req.Cursor], nil
}

func site(name string) source.Site {
	return source.Site{Name: name, Type: source.Danbooru, BaseURL: "https://" + name + ".test"}
}

func mkPost(s source.Site, id string, created time.Time) source.Post {
	return source.Post{ID: id, Site: s.Ref(), CreatedAt: &created, FileURL: s.BaseURL + "/" + id}
}

func setup(t *testing.T, sites []source.Site, adapters map[string]*scriptedAdapter) *Aggregator {
	t.Helper()
	agg, err := NewAggregator(Config{
		Sites: staticSites(sites),
		Resolve: func(s source.Site) (source.Adapter, error) {
			a, ok := adapters[s.Name]
			if !ok {
				return nil, fmt.Errorf("no adapter for %s", s.Name)
			}
			return a, nil
		},
		PageSize: 10,
	})
	require.NoError(t, err)
	return agg
}

func keys(posts []source.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.Key()
	}
	return out
}

func TestInterleave_RoundRobin(t *testing.T) {
	x, y, z := site("x"), site("y"), site("z")
	t0 := time.Now()
	buckets := [][]source.Post{
		{mkPost(x, "0", t0), mkPost(x, "1", t0), mkPost(x, "2", t0)},
		{mkPost(y, "0", t0)},
		{mkPost(z, "0", t0), mkPost(z, "1", t0)},
	}
	got := keys(Interleave(buckets))
	want := []string{
		"https://x.test#0", "https://y.test#0", "https://z.test#0",
		"https://x.test#1", "https://z.test#1", "https://x.test#2",
	}
	assert.Equal(t, want, got)
	assert.Empty(t, Interleave(nil))
}

func TestSearchCycle_InterleavesBucketsInSiteOrder(t *testing.T) {
	x, y, z := site("x"), site("y"), site("z")
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	adapters := map[string]*scriptedAdapter{
		"x": {pages: map[source.Cursor]source.Page{"": {Posts: []source.Post{mkPost(x, "0", t0), mkPost(x, "1", t0), mkPost(x, "2", t0)}, Next: "2"}}},
		"y": {pages: map[source.Cursor]source.Page{"": {Posts: []source.Post{mkPost(y, "0", t0)}, Next: "2"}}},
		"z": {pages: map[source.Cursor]source.Page{"": {Posts: []source.Post{mkPost(z, "0", t0), mkPost(z, "1", t0)}, Next: "2"}}},
	}
	agg := setup(t, []source.Site{x, y, z}, adapters)

	st := NewState(ModePopular, "cat")
	require.True(t, st.Searching())
	require.NoError(t, agg.Cycle(context.Background(), st))

	want := []string{
		"https://x.test#0", "https://y.test#0", "https://z.test#0",
		"https://x.test#1", "https://z.test#1", "https://x.test#2",
	}
	assert.Equal(t, want, keys(st.Items()))
	for _, a := range adapters {
		assert.Zero(t, a.popular, "search uses native ordering")
		assert.Equal(t, "cat", a.calls[0].Search)
	}
}

func TestSearchCycle_SkipsSeenKeys(t *testing.T) {
	x := site("x")
	t0 := time.Now()
	adapters := map[string]*scriptedAdapter{
		"x": {pages: map[source.Cursor]source.Page{
			"":  {Posts: []source.Post{mkPost(x, "1", t0), mkPost(x, "2", t0)}, Next: "2"},
			"2": {Posts: []source.Post{mkPost(x, "2", t0), mkPost(x, "3", t0)}, Next: "3"},
		}},
	}
	agg := setup(t, []source.Site{x}, adapters)
	st := NewState(ModeNew, "cat")

	require.NoError(t, agg.Cycle(context.Background(), st))
	require.NoError(t, agg.Cycle(context.Background(), st))
	assert.Equal(t, []string{"https://x.test#1", "https://x.test#2", "https://x.test#3"}, keys(st.Items()))
}

func TestGlobalNewFeed_Monotonic(t *testing.T) {
	a, b := site("a"), site("b")
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	page := func(s source.Site, from int) source.Page {
		var posts []source.Post
		for i := from; i > from-3; i-- {
			posts = append(posts, mkPost(s, strconv.Itoa(i), base.Add(time.Duration(i)*time.Minute)))
		}
		return source.Page{Posts: posts, Next: source.Cursor(strconv.Itoa(from - 3))}
	}
	adapters := map[string]*scriptedAdapter{
		"a": {pages: map[source.Cursor]source.Page{"": page(a, 30), "27": page(a, 27), "24": page(a, 24)}},
		"b": {pages: map[source.Cursor]source.Page{"": page(b, 29), "26": page(b, 26), "23": page(b, 23)}},
	}
	agg := setup(t, []source.Site{a, b}, adapters)
	st := NewState(ModeNew, "")

	var prev map[string]bool
	for cycle := 0; cycle < 3; cycle++ {
		require.NoError(t, agg.Cycle(context.Background(), st))
		items := st.Items()
		cur := make(map[string]bool, len(items))
		for _, p := range items {
			cur[p.Key()] = true
		}
		for k := range prev {
			assert.True(t, cur[k], "cycle %d dropped %s", cycle, k)
		}
		for i := 1; i < len(items); i++ {
			assert.False(t, items[i].CreatedAt.After(*items[i-1].CreatedAt), "cycle %d out of order at %d", cycle, i)
		}
		prev = cur
	}
	assert.Len(t, prev, 18)
}

func TestGlobalCycle_FailureKeepsCursor(t *testing.T) {
	a, b := site("a"), site("b")
	t0 := time.Now()
	okAdapter := &scriptedAdapter{pages: map[source.Cursor]source.Page{
		"":  {Posts: []source.Post{mkPost(a, "1", t0)}, Next: "2"},
		"2": {Posts: []source.Post{mkPost(a, "2", t0)}},
	}}
	badAdapter := &scriptedAdapter{err: errors.New("timeout")}
	agg := setup(t, []source.Site{a, b}, map[string]*scriptedAdapter{"a": okAdapter, "b": badAdapter})
	st := NewState(ModePopular, "")

	require.NoError(t, agg.Cycle(context.Background(), st))
	assert.Equal(t, source.Cursor("2"), st.Cursor(a.Identity()))
	assert.Equal(t, source.Cursor(""), st.Cursor(b.Identity()))
	assert.Len(t, st.Items(), 1)
	assert.Equal(t, 1, okAdapter.popular)

	// Empty next keeps the previous cursor.
	require.NoError(t, agg.Cycle(context.Background(), st))
	assert.Equal(t, source.Cursor("2"), st.Cursor(a.Identity()))
	assert.Len(t, st.Items(), 2)
	assert.Equal(t, source.Cursor("2"), okAdapter.calls[1].Cursor)
}

func TestGlobalCycle_PanicAndMissingAdapterIsolated(t *testing.T) {
	a, b, c := site("a"), site("b"), site("c")
	t0 := time.Now()
	agg := setup(t, []source.Site{a, b, c}, map[string]*scriptedAdapter{
		"a": {pages: map[source.Cursor]source.Page{"": {Posts: []source.Post{mkPost(a, "1", t0)}, Next: "2"}}},
		"b": {panics: true},
	})
	st := NewState(ModeNew, "")
	require.NoError(t, agg.Cycle(context.Background(), st))
	assert.Equal(t, []string{"https://a.test#1"}, keys(st.Items()))
}

func TestLoadMore_SingleFlight(t *testing.T) {
	a := site("a")
	release := make(chan struct{})
	adapter := &scriptedAdapter{block: release, pages: map[source.Cursor]source.Page{}}
	f := New(setup(t, []source.Site{a}, map[string]*scriptedAdapter{"a": adapter}), 5)

	done := make(chan bool)
	go func() {
		ran, _ := f.LoadMore(context.Background())
		done <- ran
	}()
	require.Eventually(t, f.Busy, time.Second, time.Millisecond)

	ran, err := f.LoadMore(context.Background())
	require.NoError(t, err)
	assert.False(t, ran, "trigger during an in-flight cycle is dropped")

	close(release)
	assert.True(t, <-done)
	assert.Len(t, adapter.calls, 1)

	ran, err = f.LoadMore(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestSetMode_ResetsState(t *testing.T) {
	a := site("a")
	t0 := time.Now()
	adapter := &scriptedAdapter{pages: map[source.Cursor]source.Page{
		"": {Posts: []source.Post{mkPost(a, "1", t0)}, Next: "2"},
	}}
	f := New(setup(t, []source.Site{a}, map[string]*scriptedAdapter{"a": adapter}), 5)

	_, err := f.LoadMore(context.Background())
	require.NoError(t, err)
	require.Len(t, f.Items(), 1)

	assert.False(t, f.SetMode(ModeNew, "  "), "same mode and query")
	assert.Len(t, f.Items(), 1)

	assert.True(t, f.SetMode(ModeNew, "cat"))
	assert.Empty(t, f.Items())
	assert.Equal(t, source.Cursor(""), f.State().Cursor(a.Identity()))
}

func TestNearEnd(t *testing.T) {
	a := site("a")
	t0 := time.Now()
	var posts []source.Post
	for i := 0; i < 20; i++ {
		posts = append(posts, mkPost(a, strconv.Itoa(i), t0.Add(time.Duration(i)*time.Second)))
	}
	adapter := &scriptedAdapter{pages: map[source.Cursor]source.Page{"": {Posts: posts, Next: "2"}}}
	f := New(setup(t, []source.Site{a}, map[string]*scriptedAdapter{"a": adapter}), 5)
	_, err := f.LoadMore(context.Background())
	require.NoError(t, err)

	assert.False(t, f.NearEnd(3))
	assert.True(t, f.NearEnd(15))

	ran, err := f.Scrolled(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, ran)
	ran, err = f.Scrolled(context.Background(), 18)
	require.NoError(t, err)
	assert.True(t, ran)
}

type favList []favorites.Entry

func (f favList) List() []favorites.Entry { return f }

func TestFavoritesMode_SortsAndFilters(t *testing.T) {
	a := site("a")
	t0 := time.Now()
	cat := mkPost(a, "1", t0)
	cat.Tags = []string{"cat", "solo"}
	dog := mkPost(a, "2", t0)
	dog.Tags = []string{"dog"}
	cat2 := mkPost(a, "3", t0)
	cat2.Tags = []string{"Cat"}

	agg, err := NewAggregator(Config{
		Sites:   staticSites{a},
		Resolve: func(source.Site) (source.Adapter, error) { return nil, errors.New("unused") },
		Favorites: favList{
			{Key: cat.Key(), AddedAt: 100, Post: cat},
			{Key: dog.Key(), AddedAt: 300, Post: dog},
			{Key: cat2.Key(), AddedAt: 200, Post: cat2},
		},
	})
	require.NoError(t, err)

	st := NewState(ModeFavorites, "")
	require.NoError(t, agg.Cycle(context.Background(), st))
	assert.Equal(t, []string{dog.Key(), cat2.Key(), cat.Key()}, keys(st.Items()))

	st = NewState(ModeFavorites, "cat")
	assert.False(t, st.Searching())
	require.NoError(t, agg.Cycle(context.Background(), st))
	assert.Equal(t, []string{cat2.Key(), cat.Key()}, keys(st.Items()))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Popular")
	require.NoError(t, err)
	assert.Equal(t, ModePopular, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeNew, m)
	_, err = ParseMode("search")
	assert.Error(t, err)
}

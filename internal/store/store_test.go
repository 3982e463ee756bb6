package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/boorupan/internal/favorites"
	"github.com/ppiankov/boorupan/internal/sites"
	"github.com/ppiankov/boorupan/internal/source"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "boorupan.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st, path
}

func fav(site source.SiteRef, id string, addedAt int64) favorites.Entry {
	p := source.Post{ID: id, Site: site, FileURL: site.BaseURL + "/" + id + ".png", Tags: []string{"tag_a"}}
	return favorites.Entry{Key: p.Key(), AddedAt: addedAt, Post: p}
}

var (
	e621Ref    = source.SiteRef{Name: "e621", Type: source.E621, BaseURL: "https://e621.net"}
	yandereRef = source.SiteRef{Name: "yande.re", Type: source.Moebooru, BaseURL: "https://yande.re"}
)

func TestOpenAndMigrate(t *testing.T) {
	st, path := openTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	var version string
	if err := st.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestReopenKeepsData(t *testing.T) {
	st, path := openTestStore(t)
	ctx := context.Background()
	if err := st.SaveFavorites(ctx, []favorites.Entry{fav(e621Ref, "1", 10)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = st.Close()

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = again.Close() }()
	got, err := again.LoadFavorites(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Key != "https://e621.net#1" {
		t.Fatalf("unexpected favorites after reopen: %+v", got)
	}
}

func TestSaveFavoritesReplacesAndOrders(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	first := []favorites.Entry{fav(e621Ref, "1", 10), fav(e621Ref, "2", 30), fav(yandereRef, "3", 20)}
	if err := st.SaveFavorites(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := st.LoadFavorites(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 favorites, got %d", len(got))
	}
	if got[0].AddedAt != 30 || got[2].AddedAt != 10 {
		t.Fatalf("expected newest first, got %d..%d", got[0].AddedAt, got[2].AddedAt)
	}
	if got[0].Post.Site.Type != source.E621 || len(got[0].Post.Tags) != 1 {
		t.Fatalf("post not round-tripped: %+v", got[0].Post)
	}

	if err := st.SaveFavorites(ctx, first[:1]); err != nil {
		t.Fatalf("save subset: %v", err)
	}
	got, _ = st.LoadFavorites(ctx)
	if len(got) != 1 {
		t.Fatalf("expected replace to leave 1 favorite, got %d", len(got))
	}
}

func TestSaveFavoritesRejectsEmptyKey(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	if err := st.SaveFavorites(ctx, []favorites.Entry{fav(e621Ref, "1", 1)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.SaveFavorites(ctx, []favorites.Entry{{AddedAt: 1}}); err == nil {
		t.Fatal("expected error for empty key")
	}
	got, _ := st.LoadFavorites(ctx)
	if len(got) != 1 {
		t.Fatalf("failed save must roll back, got %d favorites", len(got))
	}
}

func TestStoreBacksFavoritesStore(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	fs, err := favorites.NewStore(st)
	if err != nil {
		t.Fatalf("new favorites store: %v", err)
	}
	p := fav(e621Ref, "7", 0).Post
	on, err := fs.Toggle(ctx, p)
	if err != nil || !on {
		t.Fatalf("toggle on: %v %v", on, err)
	}

	reloaded, _ := favorites.NewStore(st)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reloaded.Has(p.Key()) {
		t.Fatal("favorite not persisted")
	}
}

func TestSitesRoundTrip(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	reg, err := sites.NewRegistry(st)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	seed := []source.Site{
		{Name: "Danbooru", Type: source.Danbooru, BaseURL: "https://danbooru.donmai.us/", Rating: "safe",
			Credentials: map[string]string{"login": "me", "api_key": "secret"}},
		{Name: "Derpibooru", Type: source.Philomena, BaseURL: "https://derpibooru.org"},
	}
	if err := reg.Load(ctx, seed); err != nil {
		t.Fatalf("load seed: %v", err)
	}

	got, err := st.LoadSites(ctx)
	if err != nil {
		t.Fatalf("load sites: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 sites, got %d", len(got))
	}
	if got[0].BaseURL != "https://danbooru.donmai.us" || got[0].Credentials["api_key"] != "secret" {
		t.Fatalf("unexpected first site: %+v", got[0])
	}
	if got[1].OrderIndex != 1 {
		t.Fatalf("unexpected order index: %d", got[1].OrderIndex)
	}

	if err := st.SaveSites(ctx, nil); err != nil {
		t.Fatalf("clear sites: %v", err)
	}
	got, _ = st.LoadSites(ctx)
	if len(got) != 0 {
		t.Fatalf("expected no sites, got %d", len(got))
	}
}

func TestSaveSitesRejectsDuplicateIdentity(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	dup := []source.Site{
		{Name: "a", Type: source.E621, BaseURL: "https://e621.net"},
		{Name: "b", Type: "E621", BaseURL: "https://e621.net/"},
	}
	if err := st.SaveSites(ctx, dup); err == nil {
		t.Fatal("expected unique identity violation")
	}
}

func TestMetadataValues(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if v, err := st.GetValue(ctx, "sync.server"); err != nil || v != "" {
		t.Fatalf("expected empty value, got %q %v", v, err)
	}
	if err := st.SetValue(ctx, "sync.server", "http://localhost:8787"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := st.SetValue(ctx, "sync.server", "http://other"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, _ := st.GetValue(ctx, "sync.server"); v != "http://other" {
		t.Fatalf("unexpected value: %q", v)
	}
	if err := st.SetValue(ctx, "sync.server", ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if v, _ := st.GetValue(ctx, "sync.server"); v != "" {
		t.Fatalf("expected deleted value, got %q", v)
	}
	if err := st.SetValue(ctx, "schema_version", "9"); err == nil {
		t.Fatal("expected schema_version to be reserved")
	}
}

func TestFavoriteStats(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	entries := []favorites.Entry{
		fav(e621Ref, "1", 1000),
		fav(e621Ref, "2", 3000),
		fav(yandereRef, "3", 2000),
	}
	if err := st.SaveFavorites(ctx, entries); err != nil {
		t.Fatalf("save: %v", err)
	}

	stats, err := st.FavoriteStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 sites, got %d", len(stats))
	}
	if stats[0].BaseURL != "https://e621.net" || stats[0].Total != 2 {
		t.Fatalf("unexpected first stats row: %+v", stats[0])
	}
	if stats[0].LastSeen.UnixMilli() != 3000 || stats[0].FirstSeen.UnixMilli() != 1000 {
		t.Fatalf("unexpected time range: %v..%v", stats[0].FirstSeen, stats[0].LastSeen)
	}
}

func TestNilStore(t *testing.T) {
	var st *Store
	if _, err := st.LoadFavorites(context.Background()); err == nil {
		t.Fatal("expected error from nil store")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close nil store: %v", err)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	st, path := openTestStore(t)
	if _, err := st.db.Exec("UPDATE metadata SET value = '99' WHERE key = 'schema_version'"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = st.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected error opening a database from a newer release")
	}
}

package cli

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/boorupan/internal/config"
	"github.com/ppiankov/boorupan/internal/devserver"
	"github.com/ppiankov/boorupan/internal/logging"
)

type feedJSON struct {
	Meta struct {
		Mode   string `json:"mode"`
		Query  string `json:"query"`
		Sites  int    `json:"sites"`
		Posts  int    `json:"posts"`
		Cycles int    `json:"cycles"`
	} `json:"meta"`
	Items []struct {
		Key       string `json:"key"`
		ID        string `json:"id"`
		Favorited bool   `json:"favorited"`
		Rank      *struct {
			Popularity float64 `json:"popularity"`
		} `json:"rank"`
	} `json:"items"`
}

func decodeFeed(t *testing.T, out string) feedJSON {
	t.Helper()
	var doc feedJSON
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode feed json: %v\n%s", err, out)
	}
	return doc
}

func TestInit_WritesLoadableConfigOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cfg")
	ws := &workspace{dir: dir}

	out := ws.mustRun(t, "init")
	requireContains(t, out, "created:")

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if len(cfg.Sites) != 3 {
		t.Errorf("example config has %d sites, want 3", len(cfg.Sites))
	}

	out = ws.mustRun(t, "init")
	requireContains(t, out, "already initialized")
}

func TestFeedNew_JSON(t *testing.T) {
	srv := fakeDanbooru(t)
	ws := newWorkspace(t, srv.URL, "sqlite")

	out := ws.mustRun(t, "feed", "new", "--format", "json", "--pages", "2")
	doc := decodeFeed(t, out)

	if doc.Meta.Mode != "new" || doc.Meta.Sites != 1 || doc.Meta.Posts != 3 {
		t.Fatalf("meta = %+v", doc.Meta)
	}
	want := []string{"3", "2", "1"}
	for i, item := range doc.Items {
		if item.ID != want[i] {
			t.Errorf("items[%d] = %s, want %s", i, item.ID, want[i])
		}
		if item.Rank != nil {
			t.Errorf("items[%d] carries a rank in new mode", i)
		}
	}
}

func TestFeedPopular_TerminalWithLimit(t *testing.T) {
	srv := fakeDanbooru(t)
	ws := newWorkspace(t, srv.URL, "sqlite")

	out := ws.mustRun(t, "feed", "popular", "--no-color", "--limit", "2")
	requireContains(t, out, "boorupan popular, 1 sites, 2 posts")
	requireContains(t, out, "Test #3")
	requireContains(t, out, "pop ")
	if strings.Contains(out, "Test #1") {
		t.Errorf("limit 2 should drop the third post:\n%s", out)
	}
}

func TestFeed_RejectsUnknownModeAndFormat(t *testing.T) {
	srv := fakeDanbooru(t)
	ws := newWorkspace(t, srv.URL, "sqlite")

	if _, err := ws.run(t, "feed", "hot"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := ws.run(t, "feed", "--format", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestFavToggle_ListAndStats(t *testing.T) {
	for _, backend := range []string{"sqlite", "badger"} {
		t.Run(backend, func(t *testing.T) {
			srv := fakeDanbooru(t)
			ws := newWorkspace(t, srv.URL, backend)

			out := ws.mustRun(t, "fav", "toggle", "Test", "2")
			requireContains(t, out, "Test #2 added to favorites")
			requireContains(t, out, "not synced")

			out = ws.mustRun(t, "fav", "list")
			requireContains(t, out, "1 favorites")
			requireContains(t, out, "Test #2")

			out = ws.mustRun(t, "feed", "favorites", "--format", "json")
			doc := decodeFeed(t, out)
			if len(doc.Items) != 1 || doc.Items[0].ID != "2" || !doc.Items[0].Favorited {
				t.Fatalf("favorites feed = %+v", doc.Items)
			}

			out = ws.mustRun(t, "stats")
			requireContains(t, out, "1 favorites from 1 sites")

			out = ws.mustRun(t, "fav", "toggle", srv.URL, "2")
			requireContains(t, out, "removed from favorites")

			out = ws.mustRun(t, "fav", "list")
			requireContains(t, out, "No favorites yet.")
		})
	}
}

func TestFavToggle_UnknownPost(t *testing.T) {
	srv := fakeDanbooru(t)
	ws := newWorkspace(t, srv.URL, "sqlite")

	_, err := ws.run(t, "fav", "toggle", "Test", "99")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want not found", err)
	}
	if _, err := ws.run(t, "fav", "toggle", "Nowhere", "1"); err == nil {
		t.Error("expected error for unknown site")
	}
}

func TestFavExportImport_AcrossWorkspaces(t *testing.T) {
	srv := fakeDanbooru(t)
	src := newWorkspace(t, srv.URL, "sqlite")
	src.mustRun(t, "fav", "toggle", "Test", "3")
	src.mustRun(t, "fav", "toggle", "Test", "1")

	file := filepath.Join(t.TempDir(), "favs.json")
	out := src.mustRun(t, "fav", "export", "-o", file)
	requireContains(t, out, "Exported 2 favorites")

	dst := newWorkspace(t, srv.URL, "badger")
	dst.mustRun(t, "fav", "toggle", "Test", "3")

	out = dst.mustRun(t, "fav", "import", file, "--dry-run")
	requireContains(t, out, "Would add 1 favorites")

	out = dst.mustRun(t, "fav", "import", file)
	requireContains(t, out, "Added 1 favorites, skipped 1.")

	out = dst.mustRun(t, "fav", "list")
	requireContains(t, out, "2 favorites")
}

func TestSitesAddListRemove(t *testing.T) {
	srv := fakeDanbooru(t)
	ws := newWorkspace(t, srv.URL, "sqlite")

	out := ws.mustRun(t, "sites", "add", "https://yande.re/", "--type", "moebooru", "--rating", "safe")
	requireContains(t, out, "2 sites configured")

	out = ws.mustRun(t, "sites", "list")
	requireContains(t, out, "1. Test")
	requireContains(t, out, "2. yande.re")
	requireContains(t, out, "rating=safe")

	if _, err := ws.run(t, "sites", "add", "https://x.test", "--type", "pixiv"); err == nil {
		t.Error("expected error for unsupported type")
	}
	if _, err := ws.run(t, "sites", "add", "https://x.test", "--type", "danbooru", "--cred", "novalue"); err == nil {
		t.Error("expected error for malformed credential")
	}

	out = ws.mustRun(t, "sites", "remove", "yande.re")
	requireContains(t, out, "Removed yande.re.")
	if _, err := ws.run(t, "sites", "remove", "yande.re"); err == nil {
		t.Error("expected error removing a missing site")
	}
}

func TestSitesCheck(t *testing.T) {
	srv := fakeDanbooru(t)
	ws := newWorkspace(t, srv.URL, "sqlite")

	out := ws.mustRun(t, "sites", "check")
	requireContains(t, out, "[ OK ] Test: listing (1 posts)")
	requireContains(t, out, "Test: no credentials")
}

func TestSitesImport_SeedsConfig(t *testing.T) {
	srv := fakeDanbooru(t)
	ws := newWorkspace(t, srv.URL, "sqlite")

	file := filepath.Join(t.TempDir(), "sites.yaml")
	data := `sites:
  - name: Test
    type: danbooru
    base_url: ` + srv.URL + `/
  - name: e621
    type: e621
    base_url: https://e621.net
`
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	out := ws.mustRun(t, "sites", "import", file, "--dry-run")
	requireContains(t, out, "Would add 1 sites (skipping 1 duplicates)")

	out = ws.mustRun(t, "sites", "import", file, "--seed")
	requireContains(t, out, "Added 1 sites, skipped 1 duplicates.")

	cfg, err := config.Load(ws.dir)
	if err != nil {
		t.Fatalf("config after seeding: %v", err)
	}
	if len(cfg.Sites) != 2 || cfg.Sites[1].Name != "e621" {
		t.Errorf("seed sites = %+v", cfg.Sites)
	}
}

func TestExplain(t *testing.T) {
	srv := fakeDanbooru(t)
	ws := newWorkspace(t, srv.URL, "sqlite")

	out := ws.mustRun(t, "explain", "Test", "3")
	requireContains(t, out, "Post Test #3")
	requireContains(t, out, "3 sampled posts")
	requireContains(t, out, "favorites p95:")
	requireContains(t, out, "Popularity:")
}

func TestSyncLogin_MovesFavoritesBetweenDevices(t *testing.T) {
	srv := fakeDanbooru(t)
	devSrv, err := devserver.New(devserver.Config{Secret: "test-secret", Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	hub := httptest.NewServer(devSrv.Handler())
	t.Cleanup(hub.Close)

	laptop := newWorkspace(t, srv.URL, "sqlite")
	laptop.mustRun(t, "fav", "toggle", "Test", "3")

	out := laptop.mustRun(t, "sync", "login", "--server", hub.URL, "--user", "alice")
	requireContains(t, out, "Logged in to "+hub.URL)
	requireContains(t, out, "pushed 1 local favorites, now 1 after pull")

	// The stored session mirrors later toggles.
	out = laptop.mustRun(t, "fav", "toggle", "Test", "2")
	if strings.Contains(out, "not synced") {
		t.Errorf("toggle after login was not mirrored:\n%s", out)
	}

	phone := newWorkspace(t, srv.URL, "badger")
	out = phone.mustRun(t, "sync", "login", "--server", hub.URL, "--user", "alice")
	requireContains(t, out, "now 2 after pull")

	out = phone.mustRun(t, "sync", "pull")
	requireContains(t, out, "Pulled 2 favorites")

	out = phone.mustRun(t, "sync", "logout")
	requireContains(t, out, "Session cleared")
	if _, err := phone.run(t, "sync", "pull"); err == nil {
		t.Error("pull after logout should need a session")
	}
}

func TestStoredSession_PullsRemoteDeletions(t *testing.T) {
	srv := fakeDanbooru(t)
	devSrv, err := devserver.New(devserver.Config{Secret: "test-secret", Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	hub := httptest.NewServer(devSrv.Handler())
	t.Cleanup(hub.Close)

	laptop := newWorkspace(t, srv.URL, "sqlite")
	laptop.mustRun(t, "fav", "toggle", "Test", "3")
	laptop.mustRun(t, "sync", "login", "--server", hub.URL, "--user", "bob")

	phone := newWorkspace(t, srv.URL, "badger")
	phone.mustRun(t, "sync", "login", "--server", hub.URL, "--user", "bob")
	out := phone.mustRun(t, "fav", "toggle", "Test", "3")
	requireContains(t, out, "removed from favorites")

	out = laptop.mustRun(t, "fav", "list")
	requireContains(t, out, "No favorites yet.")

	out = laptop.mustRun(t, "feed", "favorites", "--format", "json")
	if doc := decodeFeed(t, out); len(doc.Items) != 0 {
		t.Errorf("favorites feed still shows %+v", doc.Items)
	}

	// The toggle decides against the pulled set, so this adds again.
	out = laptop.mustRun(t, "fav", "toggle", "Test", "3")
	requireContains(t, out, "added to favorites")
}

func TestSyncLogin_NeedsServer(t *testing.T) {
	srv := fakeDanbooru(t)
	ws := newWorkspace(t, srv.URL, "sqlite")

	_, err := ws.run(t, "sync", "login", "--user", "alice")
	if err == nil || !strings.Contains(err.Error(), "no sync server") {
		t.Fatalf("err = %v", err)
	}
}

func TestDoctor(t *testing.T) {
	srv := fakeDanbooru(t)
	ws := newWorkspace(t, srv.URL, "sqlite")

	out := ws.mustRun(t, "doctor")
	requireContains(t, out, "[ OK ] config.yaml (1 seed sites")
	requireContains(t, out, "sync: no server configured")
	requireContains(t, out, "All checks passed.")
}

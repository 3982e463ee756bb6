package cli

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = writer

	done := make(chan []byte)
	go func() {
		out, _ := io.ReadAll(reader)
		done <- out
	}()

	runErr := fn()
	_ = writer.Close()
	os.Stdout = oldStdout
	out := <-done
	_ = reader.Close()

	return string(out), runErr
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, got)
	}
}

// resetFlags puts every flag in the command tree back to its default so
// runs in one test binary do not leak into each other.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// workspace is a config directory with its own storage.
type workspace struct {
	dir string
}

func newWorkspace(t *testing.T, siteURL, backend string) *workspace {
	t.Helper()
	for _, k := range []string{"BOORUPAN_SERVER", "BOORUPAN_TOKEN", "BOORUPAN_STORAGE", "BOORUPAN_LOG_LEVEL", "BOORUPAN_CONFIG"} {
		t.Setenv(k, "")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "boorupan.db")
	if backend == "badger" {
		path = filepath.Join(dir, "badger")
	}
	cfg := fmt.Sprintf(`sites:
  - name: Test
    type: danbooru
    base_url: %s
storage:
  backend: %s
  path: %s
feed:
  page_size: 10
  requests_per_second: -1
log:
  level: error
`, siteURL, backend, path)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &workspace{dir: dir}
}

func (ws *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() {
		resetFlags(rootCmd)
		configDir = defaultConfigDir
	})
	rootCmd.SetArgs(append([]string{"--config", ws.dir}, args...))
	return captureStdout(t, rootCmd.Execute)
}

func (ws *workspace) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := ws.run(t, args...)
	if err != nil {
		t.Fatalf("%s: %v\noutput:\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

// fakeDanbooru serves three posts on page 1 and honours limit and id:
// searches.
func fakeDanbooru(t *testing.T) *httptest.Server {
	t.Helper()
	posts := map[string]string{
		"3": `{"id":3,"created_at":"2026-03-01T10:00:00.000Z","score":40,"fav_count":90,
			"file_url":"https://cdn.test/3.png","preview_file_url":"https://cdn.test/3p.jpg",
			"tag_string":"cat solo","rating":"g"}`,
		"2": `{"id":2,"created_at":"2026-03-01T09:00:00.000Z","score":5,"fav_count":12,
			"file_url":"https://cdn.test/2.png","tag_string":"dog","rating":"g"}`,
		"1": `{"id":1,"created_at":"2026-03-01T08:00:00.000Z","score":1,"fav_count":2,
			"file_url":"https://cdn.test/1.png","tag_string":"scenery","rating":"s"}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/posts.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if page := r.URL.Query().Get("page"); page != "" && page != "1" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		for _, tag := range strings.Fields(r.URL.Query().Get("tags")) {
			if id, ok := strings.CutPrefix(tag, "id:"); ok {
				if p, found := posts[id]; found {
					_, _ = w.Write([]byte("[" + p + "]"))
				} else {
					_, _ = w.Write([]byte(`[]`))
				}
				return
			}
		}
		list := []string{posts["3"], posts["2"], posts["1"]}
		if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n < len(list) {
			list = list[:n]
		}
		_, _ = w.Write([]byte("[" + strings.Join(list, ",") + "]"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

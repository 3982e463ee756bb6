package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/boorupan/internal/config"
	"github.com/ppiankov/boorupan/internal/source"
)

func TestFindSitesNode(t *testing.T) {
	yamlContent := `sites:
  - name: Danbooru
    type: danbooru
    base_url: https://danbooru.donmai.us
storage:
  backend: sqlite
`
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(yamlContent), &doc); err != nil {
		t.Fatal(err)
	}

	node := findSitesNode(&doc)
	if node == nil {
		t.Fatal("sites node not found")
	}
	if node.Kind != yaml.SequenceNode {
		t.Errorf("expected sequence node, got %d", node.Kind)
	}
	if len(node.Content) != 1 {
		t.Errorf("expected 1 site, got %d", len(node.Content))
	}
}

func TestFindSitesNode_MissingOrNull(t *testing.T) {
	for name, content := range map[string]string{
		"missing": "storage:\n  backend: sqlite\n",
		"null":    "sites:\nstorage:\n  backend: sqlite\n",
	} {
		t.Run(name, func(t *testing.T) {
			var doc yaml.Node
			if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
				t.Fatal(err)
			}
			node := findSitesNode(&doc)
			if node == nil || node.Kind != yaml.SequenceNode {
				t.Fatalf("expected an empty sequence, got %+v", node)
			}
			if len(node.Content) != 0 {
				t.Errorf("expected no sites, got %d", len(node.Content))
			}
		})
	}
}

func TestFindSitesNode_WrongKind(t *testing.T) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte("sites: danbooru\n"), &doc); err != nil {
		t.Fatal(err)
	}
	if node := findSitesNode(&doc); node != nil {
		t.Error("expected nil for a scalar sites value")
	}
}

func TestMergeSeedSites_PreservesComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultConfigFile)
	original := `# my boorupan config
sites:
  - name: Danbooru
    type: danbooru
    base_url: https://danbooru.donmai.us
log:
  level: debug # noisy
`
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	fresh := []config.SiteConfig{{
		Site:           source.Site{Name: "e621", Type: source.E621, BaseURL: "https://e621.net", Rating: "safe"},
		CredentialsEnv: map[string]string{"api_key": "E621_KEY"},
	}}
	if err := mergeSeedSites(path, fresh); err != nil {
		t.Fatalf("merge: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"# my boorupan config", "# noisy", "name: e621", "credentials_env:", "api_key: E621_KEY"} {
		if !strings.Contains(out, want) {
			t.Errorf("merged config missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "tags:") {
		t.Error("empty tags should be omitted")
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("merged config does not load: %v", err)
	}
	if len(cfg.Sites) != 2 || cfg.Sites[1].Type != source.E621 {
		t.Errorf("sites = %+v", cfg.Sites)
	}
}

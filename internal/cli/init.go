package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/boorupan/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with an example config",
	RunE:  initAction,
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig))
	if err != nil {
		return err
	}

	if !wrote {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Printf("Initialized %s. Edit %s, then run 'boorupan feed'.\n", configDir, config.DefaultConfigFile)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# boorupan configuration

# Seed sites, used until a site list is saved locally or pulled from sync.
sites:
  - name: Danbooru
    type: danbooru
    base_url: https://danbooru.donmai.us
    rating: safe
    # credentials_env:
    #   login: DANBOORU_LOGIN
    #   api_key: DANBOORU_API_KEY
  - name: yande.re
    type: moebooru
    base_url: https://yande.re
    rating: safe
  - name: e621
    type: e621
    base_url: https://e621.net
    rating: safe

storage:
  backend: sqlite  # or badger
  path: .boorupan/boorupan.db

feed:
  page_size: 40
  prefetch_threshold: 10
  http_timeout: 30s
  requests_per_second: 2

sync:
  server: ""
  token_env: BOORUPAN_TOKEN
  reconnect_delay: 5s

dev_server:
  addr: 127.0.0.1:8787
  secret_env: BOORUPAN_DEV_SECRET

log:
  level: info
  format: text

privacy:
  redact:
    enabled: false
    patterns: []
`

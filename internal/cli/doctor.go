package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/boorupan/internal/config"
	"github.com/ppiankov/boorupan/internal/logging"
	"github.com/ppiankov/boorupan/internal/transport"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, storage and sync server",
	RunE:  doctorAction,
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true
	ctx := cmd.Context()

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := loadConfig()
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config.yaml (%d seed sites, log %s/%s)", len(cfg.Sites), cfg.Log.Level, cfg.Log.Format)

	// Storage
	db, err := openBackend(cfg, logging.Discard())
	if err != nil {
		printCheck(false, "storage %s: %v", cfg.Storage.Backend, err)
		return fmt.Errorf("some checks failed")
	}
	defer func() { _ = db.Close() }()
	printCheck(true, "storage %s at %s", cfg.Storage.Backend, cfg.Storage.Path)

	favs, err := db.LoadFavorites(ctx)
	if err != nil {
		printCheck(false, "favorites: %v", err)
		ok = false
	} else {
		printCheck(true, "favorites (%d stored)", len(favs))
	}

	stored, err := db.LoadSites(ctx)
	if err != nil {
		printCheck(false, "sites: %v", err)
		ok = false
	} else if len(stored) == 0 && len(cfg.Sites) == 0 {
		printCheck(false, "no sites configured (add one with 'boorupan sites add')")
		ok = false
	} else {
		printCheck(true, "sites (%d stored, %d seed)", len(stored), len(cfg.Sites))
	}

	// Sync server
	server := cfg.Sync.Server
	if server == "" {
		server, _ = db.GetValue(ctx, metaServer)
	}
	token := cfg.Sync.Token
	if token == "" {
		token, _ = db.GetValue(ctx, metaToken)
	}
	if server == "" {
		printInfo("sync: no server configured")
	} else {
		checkServer(ctx, cfg, server, token)
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

// checkServer probes the sync server. Failures are informational.
func checkServer(ctx context.Context, cfg *config.Config, server, token string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := transport.New(
		transport.WithTimeout(cfg.Feed.HTTPTimeout.Duration),
		transport.WithBearer(func() string { return token }),
	)
	base := strings.TrimRight(server, "/")
	var health map[string]any
	if err := client.GetJSON(ctx, base+"/health", &health); err != nil {
		printInfo("sync: %s has no /health endpoint (%v)", server, err)
	} else {
		printCheck(true, "sync server %s", server)
	}
	if token == "" {
		printInfo("sync: no token, run 'boorupan sync login'")
		return
	}
	var items map[string]any
	if err := client.GetJSON(ctx, base+"/api/favourites", &items); err != nil {
		printInfo("sync: token rejected or server unreachable (%v)", err)
		return
	}
	printCheck(true, "sync token")
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}

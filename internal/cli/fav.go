package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/boorupan/internal/favorites"
	"github.com/ppiankov/boorupan/internal/source"
)

var (
	favListSite string
	favMirror   bool
	favOutput   string
	favDryRun   bool
)

var favCmd = &cobra.Command{
	Use:   "fav",
	Short: "Manage local favorites",
}

var favListCmd = &cobra.Command{
	Use:   "list",
	Short: "List favorites, newest first",
	Args:  cobra.NoArgs,
	RunE:  favListAction,
}

var favToggleCmd = &cobra.Command{
	Use:   "toggle <site> <post-id>",
	Short: "Add or remove a favorite",
	Args:  cobra.ExactArgs(2),
	RunE:  favToggleAction,
}

var favExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write favorites as JSON",
	Args:  cobra.NoArgs,
	RunE:  favExportAction,
}

var favImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Add favorites from an export file, keeping existing ones",
	Args:  cobra.ExactArgs(1),
	RunE:  favImportAction,
}

func init() {
	favListCmd.Flags().StringVar(&favListSite, "site", "", "only show favorites from this site")
	favToggleCmd.Flags().BoolVar(&favMirror, "mirror", false, "also favorite on the site itself (needs credentials)")
	favExportCmd.Flags().StringVarP(&favOutput, "output", "o", "", "output file (default stdout)")
	favImportCmd.Flags().BoolVar(&favDryRun, "dry-run", false, "show what would be added without saving")
	favCmd.AddCommand(favListCmd, favToggleCmd, favExportCmd, favImportCmd)
}

// favExport is the portable favorites file.
type favExport struct {
	Exported string            `json:"exported_at"`
	Items    []favorites.Entry `json:"items"`
}

func favListAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	eng, err := a.resumeSession(ctx)
	if err != nil {
		return err
	}
	if eng != nil {
		defer eng.EndSession()
	}

	entries := a.favs.List()
	if favListSite != "" {
		site, err := a.findSite(favListSite)
		if err != nil {
			return err
		}
		base := site.Ref().BaseURL
		filtered := entries[:0]
		for _, e := range entries {
			if e.Post.Site.BaseURL == base {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	printFavorites(os.Stdout, entries, time.Now())
	return nil
}

func printFavorites(w io.Writer, entries []favorites.Entry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No favorites yet.")
		return
	}
	fmt.Fprintf(w, "%s favorites\n\n", humanize.Comma(int64(len(entries))))
	for _, e := range entries {
		p := e.Post
		added := humanize.RelTime(time.UnixMilli(e.AddedAt), now, "ago", "from now")
		fmt.Fprintf(w, "  %-14s  %-16s  fav %-6s  %s\n", added, p.Site.Name+" #"+p.ID, humanize.Comma(int64(p.Favorites)), tagSummary(p.Tags, 6))
	}
}

func tagSummary(tags []string, n int) string {
	if len(tags) <= n {
		return strings.Join(tags, " ")
	}
	return strings.Join(tags[:n], " ") + " ..."
}

func favToggleAction(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	site, err := a.findSite(args[0])
	if err != nil {
		return err
	}

	// Pull first so add-or-remove is decided against the remote set.
	eng, err := a.resumeSession(ctx)
	if err != nil {
		return err
	}
	if eng != nil {
		defer eng.EndSession()
	}

	post, err := a.lookupPost(ctx, site, args[1])
	if err != nil {
		return err
	}

	on, err := a.favs.Toggle(ctx, post)
	if err != nil {
		return fmt.Errorf("toggle favorite: %w", err)
	}
	// Toggle mirrors asynchronously; wait before the session is detached.
	a.favs.Wait()

	if favMirror {
		if err := mirrorFavorite(ctx, a, site, post.ID, on); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}

	state := "removed from"
	if on {
		state = "added to"
	}
	fmt.Printf("%s #%s %s favorites.\n", site.Name, post.ID, state)
	if eng == nil {
		fmt.Println("  (not synced: no session, run 'boorupan sync login')")
	}
	return nil
}

func mirrorFavorite(ctx context.Context, a *app, site source.Site, id string, add bool) error {
	adapter, err := a.resolve(site)
	if err != nil {
		return err
	}
	fav, ok := adapter.(source.Favoriter)
	if !ok {
		return fmt.Errorf("%s does not support site favorites", site.Type)
	}
	if err := fav.Favorite(ctx, site, id, add); err != nil {
		return fmt.Errorf("mirror to %s: %w", site.Name, err)
	}
	return nil
}

func favExportAction(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := favExport{
		Exported: time.Now().UTC().Format(time.RFC3339),
		Items:    a.favs.List(),
	}
	var w io.Writer = os.Stdout
	if favOutput != "" {
		f, err := os.Create(favOutput)
		if err != nil {
			return fmt.Errorf("create %s: %w", favOutput, err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if favOutput != "" {
		fmt.Printf("Exported %d favorites to %s.\n", len(out.Items), favOutput)
	}
	return nil
}

func readFavExport(path string) ([]favorites.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc favExport
	if err := json.Unmarshal(data, &doc); err != nil {
		// A bare list is accepted too.
		var list []favorites.Entry
		if err2 := json.Unmarshal(data, &list); err2 != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return list, nil
	}
	if doc.Items == nil {
		return nil, errors.New("export file has no items")
	}
	return doc.Items, nil
}

func favImportAction(cmd *cobra.Command, args []string) error {
	entries, err := readFavExport(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if favDryRun {
		fresh := 0
		for _, e := range entries {
			if e.Key != "" && !a.favs.Has(e.Key) {
				fresh++
			}
		}
		fmt.Printf("Would add %d favorites (skipping %d present or invalid).\n", fresh, len(entries)-fresh)
		return nil
	}

	n, err := a.favs.Merge(ctx, entries)
	if err != nil {
		return fmt.Errorf("import favorites: %w", err)
	}
	fmt.Printf("Added %d favorites, skipped %d.\n", n, len(entries)-n)
	if n > 0 {
		fmt.Println("  run 'boorupan sync push' to upload them")
	}
	return nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/boorupan/internal/favorites"
)

var statsFormat string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show favorites per site",
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().StringVar(&statsFormat, "format", "terminal", "output format: terminal, json")
}

// staleDays marks a site whose newest favorite is older than this.
const staleDays = 30

func statsAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	stats, err := a.db.FavoriteStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	if len(stats) == 0 {
		if statsFormat == "json" {
			fmt.Fprintln(os.Stdout, `{"sites":[],"total":0}`)
			return nil
		}
		fmt.Fprintln(os.Stdout, "No favorites yet. Toggle some with 'boorupan fav toggle'.")
		return nil
	}

	switch statsFormat {
	case "json":
		return printStatsJSON(os.Stdout, stats)
	case "terminal", "":
		printStats(os.Stdout, stats, time.Now())
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", statsFormat)
	}
}

type jsonStatsOutput struct {
	Sites []jsonSiteStats `json:"sites"`
	Total int             `json:"total"`
}

type jsonSiteStats struct {
	Name      string  `json:"name"`
	BaseURL   string  `json:"base_url"`
	Total     int     `json:"total"`
	Share     float64 `json:"share_pct"`
	FirstSeen string  `json:"first_added"`
	LastSeen  string  `json:"last_added"`
}

func printStatsJSON(w io.Writer, stats []favorites.SiteStats) error {
	total := 0
	for _, s := range stats {
		total += s.Total
	}
	out := jsonStatsOutput{Sites: make([]jsonSiteStats, 0, len(stats)), Total: total}
	for _, s := range stats {
		out.Sites = append(out.Sites, jsonSiteStats{
			Name:      s.Name,
			BaseURL:   s.BaseURL,
			Total:     s.Total,
			Share:     pct(s.Total, total),
			FirstSeen: s.FirstSeen.UTC().Format(time.RFC3339),
			LastSeen:  s.LastSeen.UTC().Format(time.RFC3339),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printStats(w io.Writer, stats []favorites.SiteStats, now time.Time) {
	total := 0
	maxName := 4 // minimum "Site"
	for _, s := range stats {
		total += s.Total
		if len(s.Name) > maxName {
			maxName = len(s.Name)
		}
	}
	if maxName > 32 {
		maxName = 32
	}

	fmt.Fprintf(w, "boorupan stats: %s favorites from %d sites\n\n", humanize.Comma(int64(total)), len(stats))
	fmt.Fprintln(w, "--- Favorites by Site ---")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-*s  %6s  %6s  %s\n", maxName, "Site", "Count", "Share", "Last added")
	for _, s := range stats {
		name := s.Name
		if len(name) > maxName {
			name = name[:maxName-1] + "…"
		}
		fmt.Fprintf(w, "  %-*s  %6d  %5.1f%%  %s\n", maxName, name, s.Total, pct(s.Total, total),
			humanize.RelTime(s.LastSeen, now, "ago", "from now"))
	}
	fmt.Fprintln(w)

	threshold := now.AddDate(0, 0, -staleDays)
	var stale []favorites.SiteStats
	for _, s := range stats {
		if s.LastSeen.Before(threshold) {
			stale = append(stale, s)
		}
	}
	if len(stale) > 0 {
		fmt.Fprintf(w, "--- Quiet Sites (nothing added in %d+ days) ---\n\n", staleDays)
		for _, s := range stale {
			fmt.Fprintf(w, "  %s, last favorite %s\n", s.Name, humanize.RelTime(s.LastSeen, now, "ago", "from now"))
		}
		fmt.Fprintln(w)
	}
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

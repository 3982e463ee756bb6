package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/boorupan/internal/feed"
	"github.com/ppiankov/boorupan/internal/rank"
	"github.com/ppiankov/boorupan/internal/source"
)

var explainPages int

var explainCmd = &cobra.Command{
	Use:   "explain <site> <post-id>",
	Short: "Show the popularity breakdown for a post",
	Long:  "explain loads the popular feed, adds the post if it is not on it, and prints how its popularity score was built against the sampled posts of its site.",
	Args:  cobra.ExactArgs(2),
	RunE:  explainAction,
}

func init() {
	explainCmd.Flags().IntVar(&explainPages, "pages", 1, "popular pages to sample for normalization")
}

func explainAction(cmd *cobra.Command, args []string) error {
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
	post, err := a.lookupPost(ctx, site, args[1])
	if err != nil {
		return err
	}

	agg, err := a.aggregator()
	if err != nil {
		return err
	}
	st := feed.NewState(feed.ModePopular, "")
	for i := 0; i < explainPages; i++ {
		if err := agg.Cycle(ctx, st); err != nil {
			return fmt.Errorf("load popular feed: %w", err)
		}
	}

	sample := st.Items()
	found := false
	for _, p := range sample {
		if p.Key() == post.Key() {
			found = true
			break
		}
	}
	if !found {
		sample = append(sample, post)
	}

	now := time.Now()
	printExplain(os.Stdout, post, sample, now)
	return nil
}

func printExplain(w io.Writer, post source.Post, sample []source.Post, now time.Time) {
	stats := rank.Stats(sample)
	siteStats := stats[source.Identity(post.Site.Type, post.Site.BaseURL)]
	b := rank.Score(post, siteStats, now)

	fmt.Fprintf(w, "Post %s #%s\n", post.Site.Name, post.ID)
	if post.PostURL != "" {
		fmt.Fprintf(w, "  URL:       %s\n", post.PostURL)
	}
	if post.CreatedAt != nil {
		fmt.Fprintf(w, "  Created:   %s (%s)\n", post.CreatedAt.UTC().Format(time.RFC3339), humanize.RelTime(*post.CreatedAt, now, "ago", "from now"))
	} else {
		fmt.Fprintln(w, "  Created:   unknown")
	}
	fmt.Fprintf(w, "  Favorites: %d  Score: %d\n", post.Favorites, post.Score)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Normalizers (%s, %d sampled posts):\n", post.Site.Name, countSite(sample, post))
	fmt.Fprintf(w, "  favorites p95: %.2f\n", siteStats.FavP95)
	fmt.Fprintf(w, "  score p95:     %.2f\n", siteStats.ScoreP95)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Popularity: %.4f\n", b.Popularity)
	fmt.Fprintln(w, "Breakdown:")
	fmt.Fprintf(w, "  %.2f x favorites  %.4f = %.4f\n", rank.FavWeight, b.FavNorm, rank.FavWeight*b.FavNorm)
	fmt.Fprintf(w, "  %.2f x score      %.4f = %.4f\n", rank.ScoreWeight, b.ScoreNorm, rank.ScoreWeight*b.ScoreNorm)
	fmt.Fprintf(w, "  %.2f x recency    %.4f = %.4f\n", rank.RecencyWeight, b.Recency, rank.RecencyWeight*b.Recency)
}

func countSite(sample []source.Post, post source.Post) int {
	id := source.Identity(post.Site.Type, post.Site.BaseURL)
	n := 0
	for _, p := range sample {
		if source.Identity(p.Site.Type, p.Site.BaseURL) == id {
			n++
		}
	}
	return n
}

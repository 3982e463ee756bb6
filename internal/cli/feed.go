package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/boorupan/internal/digest"
	"github.com/ppiankov/boorupan/internal/feed"
	"github.com/ppiankov/boorupan/internal/rank"
)

var (
	feedSearch string
	feedPages  int
	feedLimit  int
	feedFormat string
	noColor    bool
)

var feedCmd = &cobra.Command{
	Use:   "feed [new|popular|favorites]",
	Short: "Fetch and display the merged feed",
	Args:  cobra.MaximumNArgs(1),
	RunE:  feedAction,
}

func init() {
	feedCmd.Flags().StringVarP(&feedSearch, "search", "s", "", "search tags, space separated")
	feedCmd.Flags().IntVar(&feedPages, "pages", 1, "pages to load from every site")
	feedCmd.Flags().IntVar(&feedLimit, "limit", 0, "show at most this many posts (0 shows all)")
	feedCmd.Flags().StringVar(&feedFormat, "format", "", "output format: terminal, json, markdown")
	feedCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
}

func feedAction(cmd *cobra.Command, args []string) error {
	modeName := ""
	if len(args) > 0 {
		modeName = args[0]
	}
	mode, err := feed.ParseMode(modeName)
	if err != nil {
		return err
	}
	if feedPages < 1 {
		return fmt.Errorf("--pages must be at least 1")
	}
	formatter, err := digest.New(feedFormat, !noColor)
	if err != nil {
		return err
	}

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

	agg, err := a.aggregator()
	if err != nil {
		return err
	}
	f := feed.New(agg, a.cfg.Feed.PrefetchThreshold)
	f.SetMode(mode, feedSearch)

	if _, err := f.LoadMore(ctx); err != nil {
		return fmt.Errorf("load feed: %w", err)
	}
	// Later pages go through the scroll hook as if the reader hit the end.
	for page := 1; page < feedPages && mode != feed.ModeFavorites; page++ {
		before := f.State().Len()
		if _, err := f.Scrolled(ctx, before-1); err != nil {
			return fmt.Errorf("load feed: %w", err)
		}
		if f.State().Len() == before {
			break
		}
	}

	st := f.State()
	posts := st.Items()
	now := time.Now()

	var ranks map[string]rank.Breakdown
	if mode == feed.ModePopular {
		ranks = rank.Popularity(posts, now)
	}
	added := make(map[string]int64)
	for _, e := range a.favs.List() {
		added[e.Key] = e.AddedAt
	}
	if feedLimit > 0 && len(posts) > feedLimit {
		posts = posts[:feedLimit]
	}

	return formatter.Format(os.Stdout, digest.Input{
		Mode:   string(mode),
		Query:  st.Query(),
		Sites:  len(a.sites.List()),
		Cycles: st.Cycles(),
		Items:  digest.Build(posts, ranks, added),
		Now:    now,
	})
}

package digest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const terminalTags = 8

// TerminalFormatter formats a listing for terminal output.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

// Format writes the listing to w in rendered order.
func (f *TerminalFormatter) Format(w io.Writer, input Input) error {
	now := nowOf(input)

	header := fmt.Sprintf("boorupan %s, %d sites, %d posts, %d pages",
		input.Mode, input.Sites, len(input.Items), input.Cycles)
	fmt.Fprintln(w, f.bold(header))
	if input.Query != "" {
		fmt.Fprintln(w, f.dim("search: "+input.Query))
	}
	fmt.Fprintln(w)

	if len(input.Items) == 0 {
		fmt.Fprintln(w, "No posts found.")
		return nil
	}

	for i, item := range input.Items {
		f.writeItem(w, i+1, item, now)
	}

	counts := countBySite(input.Items)
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s %d", c.Name, c.Posts))
	}
	fmt.Fprintln(w, f.dim("by site: "+strings.Join(parts, ", ")))
	return nil
}

func (f *TerminalFormatter) writeItem(w io.Writer, n int, item Item, now time.Time) {
	p := item.Post
	mark := " "
	if item.Favorited {
		mark = f.yellow("*")
	}

	stats := fmt.Sprintf("fav %d  score %d", p.Favorites, p.Score)
	if item.Rank != nil {
		stats = fmt.Sprintf("pop %.2f  %s", item.Rank.Popularity, stats)
	}
	age := ""
	if p.CreatedAt != nil {
		age = "  " + humanize.RelTime(*p.CreatedAt, now, "ago", "from now")
	}

	fmt.Fprintf(w, "%s%s %s  %s%s\n", mark, f.bold(fmt.Sprintf("[%d]", n)), title(p), f.green(stats), f.dim(age))
	if len(p.Tags) > 0 {
		fmt.Fprintf(w, "      %s\n", f.dim(tagLine(p.Tags, terminalTags)))
	}
	if item.AddedAt > 0 {
		added := time.UnixMilli(item.AddedAt)
		fmt.Fprintf(w, "      %s\n", f.dim("favorited "+humanize.RelTime(added, now, "ago", "from now")))
	}
	if u := link(p); u != "" {
		fmt.Fprintf(w, "      %s\n", f.dim(u))
	}
}

// ANSI helpers, no-op when color=false.

func (f *TerminalFormatter) bold(s string) string {
	if !f.color {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func (f *TerminalFormatter) green(s string) string {
	if !f.color {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func (f *TerminalFormatter) yellow(s string) string {
	if !f.color {
		return s
	}
	return "\033[33m" + s + "\033[0m"
}

func (f *TerminalFormatter) dim(s string) string {
	if !f.color {
		return s
	}
	return "\033[2m" + s + "\033[0m"
}

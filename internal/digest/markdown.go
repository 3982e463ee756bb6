package digest

import (
	"fmt"
	"io"
	"strings"
)

const markdownTags = 12

// MarkdownFormatter formats a listing as Markdown.
type MarkdownFormatter struct{}

// NewMarkdown creates a Markdown formatter.
func NewMarkdown() *MarkdownFormatter {
	return &MarkdownFormatter{}
}

// Format writes the listing as Markdown to w, one section per site.
func (f *MarkdownFormatter) Format(w io.Writer, input Input) error {
	fmt.Fprintf(w, "# boorupan %s\n\n", input.Mode)
	if input.Query != "" {
		fmt.Fprintf(w, "Search: `%s`\n\n", input.Query)
	}
	fmt.Fprintf(w, "%d sites, %d posts, %d pages\n\n", input.Sites, len(input.Items), input.Cycles)

	if len(input.Items) == 0 {
		fmt.Fprintln(w, "No posts found.")
		return nil
	}

	for _, sc := range countBySite(input.Items) {
		fmt.Fprintf(w, "## %s (%d)\n\n", sc.Name, sc.Posts)
		for _, item := range input.Items {
			name := item.Post.Site.Name
			if name == "" {
				name = item.Post.Site.BaseURL
			}
			if name == sc.Name {
				f.writeItem(w, item)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

func (f *MarkdownFormatter) writeItem(w io.Writer, item Item) {
	p := item.Post
	head := "#" + p.ID
	if u := link(p); u != "" {
		head = fmt.Sprintf("[#%s](%s)", p.ID, u)
	}
	star := ""
	if item.Favorited {
		star = " ★"
	}
	pop := ""
	if item.Rank != nil {
		pop = fmt.Sprintf(" pop %.2f,", item.Rank.Popularity)
	}

	fmt.Fprintf(w, "- **%s**%s%s fav %d, score %d", head, star, pop, p.Favorites, p.Score)
	if len(p.Tags) > 0 {
		shown := p.Tags
		if len(shown) > markdownTags {
			shown = shown[:markdownTags]
		}
		parts := make([]string, len(shown))
		for i, t := range shown {
			parts[i] = "`" + t + "`"
		}
		fmt.Fprintf(w, ": %s", strings.Join(parts, " "))
		if extra := len(p.Tags) - len(shown); extra > 0 {
			fmt.Fprintf(w, " +%d more", extra)
		}
	}
	fmt.Fprintln(w)
}

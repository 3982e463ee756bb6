package source

import "context"

// attempt fetches one page position with one query construction.
type attempt func(ctx context.Context) ([]Post, error)

// withFallback runs primary and, when a search is active and primary came
// back empty, each alternate in order against the same page position. The
// first non-empty result wins. Errors from alternates never hide a primary
// error: when nothing yields posts, the primary error (if any) is returned.
func withFallback(ctx context.Context, search string, primary attempt, alternates ...attempt) ([]Post, error) {
	posts, primaryErr := primary(ctx)
	if len(posts) > 0 || search == "" {
		return posts, primaryErr
	}
	for _, alt := range alternates {
		if ctx.Err() != nil {
			break
		}
		posts, err := alt(ctx)
		if err == nil && len(posts) > 0 {
			return posts, nil
		}
	}
	return nil, primaryErr
}

// Package rank normalizes popularity across sites and orders feeds.
package rank

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/ppiankov/boorupan/internal/source"
)

const (
	FavWeight     = 1.0
	ScoreWeight   = 0.6
	RecencyWeight = 0.15

	// RecencyTau is the decay constant of the recency boost, in hours.
	RecencyTau = 48.0

	// NormPercentile is the per-site percentile raw counts are divided by.
	NormPercentile = 0.95
)

// Breakdown is the popularity of one post and its parts.
type Breakdown struct {
	FavNorm    float64 `json:"fav_norm"`
	ScoreNorm  float64 `json:"score_norm"`
	Recency    float64 `json:"recency"`
	Popularity float64 `json:"popularity"`
}

// SiteStats holds the per-site normalizers.
type SiteStats struct {
	FavP95   float64 `json:"fav_p95"`
	ScoreP95 float64 `json:"score_p95"`
}

// Percentile returns the p-th percentile of values using linear
// interpolation between the two bracketing order statistics. Empty input is 0.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Stats computes normalizers per site identity over posts.
func Stats(posts []source.Post) map[string]SiteStats {
	favs := make(map[string][]float64)
	scores := make(map[string][]float64)
	ids := make(map[string]bool)
	for _, p := range posts {
		id := source.Identity(p.Site.Type, p.Site.BaseURL)
		ids[id] = true
		if p.Favorites > 0 {
			favs[id] = append(favs[id], float64(p.Favorites))
		}
		if p.Score != 0 {
			scores[id] = append(scores[id], float64(p.Score))
		}
	}
	out := make(map[string]SiteStats, len(ids))
	for id := range ids {
		out[id] = SiteStats{
			FavP95:   Percentile(favs[id], NormPercentile),
			ScoreP95: Percentile(scores[id], NormPercentile),
		}
	}
	return out
}

// Score computes the breakdown of p given its site's normalizers.
func Score(p source.Post, st SiteStats, now time.Time) Breakdown {
	var b Breakdown
	if st.FavP95 > 0 {
		b.FavNorm = math.Min(1, float64(p.Favorites)/st.FavP95)
	}
	if st.ScoreP95 > 0 {
		b.ScoreNorm = math.Min(1, math.Max(0, float64(p.Score))/st.ScoreP95)
	}
	b.Recency = Recency(p, now)
	b.Popularity = FavWeight*b.FavNorm + ScoreWeight*b.ScoreNorm + RecencyWeight*b.Recency
	return b
}

// Popularity scores every post, keyed by canonical key.
func Popularity(posts []source.Post, now time.Time) map[string]Breakdown {
	stats := Stats(posts)
	out := make(map[string]Breakdown, len(posts))
	for _, p := range posts {
		out[p.Key()] = Score(p, stats[source.Identity(p.Site.Type, p.Site.BaseURL)], now)
	}
	return out
}

// Recency is exp(-ageHours/48) over the post's time key. Posts with no
// time signal get 0; future timestamps count as age 0.
func Recency(p source.Post, now time.Time) float64 {
	tk := TimeKey(p)
	if tk <= 0 {
		return 0
	}
	age := float64(now.UnixMilli()-tk) / float64(time.Hour/time.Millisecond)
	if age < 0 {
		age = 0
	}
	return math.Exp(-age / RecencyTau)
}

// TimeKey orders posts in time: created_at in unix ms, else the numeric
// post id, else 0.
func TimeKey(p source.Post) int64 {
	if p.CreatedAt != nil && !p.CreatedAt.IsZero() {
		return p.CreatedAt.UnixMilli()
	}
	if n, err := strconv.ParseInt(p.ID, 10, 64); err == nil && n > 0 {
		return n
	}
	return 0
}

// SortPopular orders by popularity, favorites, score, time key, then key.
func SortPopular(posts []source.Post, now time.Time) {
	pop := Popularity(posts, now)
	sort.SliceStable(posts, func(i, j int) bool {
		a, b := posts[i], posts[j]
		ka, kb := a.Key(), b.Key()
		if pa, pb := pop[ka].Popularity, pop[kb].Popularity; pa != pb {
			return pa > pb
		}
		if a.Favorites != b.Favorites {
			return a.Favorites > b.Favorites
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ta, tb := TimeKey(a), TimeKey(b); ta != tb {
			return ta > tb
		}
		return ka < kb
	})
}

// SortNew orders by time key, favorites, score, then key.
func SortNew(posts []source.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		a, b := posts[i], posts[j]
		if ta, tb := TimeKey(a), TimeKey(b); ta != tb {
			return ta > tb
		}
		if a.Favorites != b.Favorites {
			return a.Favorites > b.Favorites
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Key() < b.Key()
	})
}

// SortFavorites orders by when the post was favorited, then time key, then key.
// addedAt maps canonical key to epoch ms.
func SortFavorites(posts []source.Post, addedAt map[string]int64) {
	sort.SliceStable(posts, func(i, j int) bool {
		a, b := posts[i], posts[j]
		ka, kb := a.Key(), b.Key()
		if aa, ab := addedAt[ka], addedAt[kb]; aa != ab {
			return aa > ab
		}
		if ta, tb := TimeKey(a), TimeKey(b); ta != tb {
			return ta > tb
		}
		return ka < kb
	})
}

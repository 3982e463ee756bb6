// Package feed merges per-site pages into one rendered list per mode.
package feed

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ppiankov/boorupan/internal/source"
)

// Mode selects what the feed shows.
type Mode string

const (
	ModeNew       Mode = "new"
	ModePopular   Mode = "popular"
	ModeFavorites Mode = "favorites"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeNew, ModePopular, ModeFavorites:
		return m, nil
	case "":
		return ModeNew, nil
	}
	return "", fmt.Errorf("unknown feed mode %q (want new, popular or favorites)", s)
}

// State is everything one mode accumulates between cycles. A mode or query
// change starts a fresh State.
type State struct {
	mode  Mode
	query string

	mu          sync.Mutex
	cursors     map[string]source.Cursor
	accumulated map[string]source.Post
	buckets     map[string][]source.Post
	seen        map[string]bool
	items       []source.Post
	cycles      int
}

// NewState creates empty state for mode and query.
func NewState(mode Mode, query string) *State {
	return &State{
		mode:        mode,
		query:       strings.TrimSpace(query),
		cursors:     make(map[string]source.Cursor),
		accumulated: make(map[string]source.Post),
		buckets:     make(map[string][]source.Post),
		seen:        make(map[string]bool),
	}
}

func (s *State) Mode() Mode    { return s.mode }
func (s *State) Query() string { return s.query }

// Searching reports whether the state interleaves per-site buckets.
func (s *State) Searching() bool {
	return s.query != "" && s.mode != ModeFavorites
}

// Items returns a copy of the rendered list.
func (s *State) Items() []source.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]source.Post(nil), s.items...)
}

// Len returns the rendered list length.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Cursor returns the stored cursor of a site identity.
func (s *State) Cursor(identity string) source.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[identity]
}

// Cycles returns how many cycles have been merged.
func (s *State) Cycles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

// Interleave emits the first item of every bucket, then the second, and so
// on, skipping exhausted buckets.
func Interleave(buckets [][]source.Post) []source.Post {
	total := 0
	for _, b := range buckets {
		total += len(b)
	}
	out := make([]source.Post, 0, total)
	for round := 0; len(out) < total; round++ {
		for _, b := range buckets {
			if round < len(b) {
				out = append(out, b[round])
			}
		}
	}
	return out
}

package feed

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ppiankov/boorupan/internal/source"
)

// DefaultPrefetchThreshold is how close to the end a position must be to
// trigger the next cycle.
const DefaultPrefetchThreshold = 10

// Feed owns the active mode's state and enforces one cycle at a time.
type Feed struct {
	agg       *Aggregator
	threshold int

	mu    sync.Mutex
	state *State
	busy  atomic.Bool
}

// New creates a feed starting in ModeNew with no query.
func New(agg *Aggregator, prefetchThreshold int) *Feed {
	if prefetchThreshold <= 0 {
		prefetchThreshold = DefaultPrefetchThreshold
	}
	return &Feed{agg: agg, threshold: prefetchThreshold, state: NewState(ModeNew, "")}
}

// SetMode switches mode and query. Any change discards all accumulated
// state; it reports whether a reset happened.
func (f *Feed) SetMode(mode Mode, query string) bool {
	query = strings.TrimSpace(query)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.mode == mode && f.state.query == query {
		return false
	}
	f.state = NewState(mode, query)
	return true
}

// State returns the active state.
func (f *Feed) State() *State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// LoadMore runs one cycle unless one is already in flight, in which case
// the trigger is dropped and ran is false.
func (f *Feed) LoadMore(ctx context.Context) (ran bool, err error) {
	if !f.busy.CompareAndSwap(false, true) {
		return false, nil
	}
	defer f.busy.Store(false)
	return true, f.agg.Cycle(ctx, f.State())
}

// Busy reports whether a cycle is in flight.
func (f *Feed) Busy() bool {
	return f.busy.Load()
}

// Items returns the rendered list of the active state.
func (f *Feed) Items() []source.Post {
	return f.State().Items()
}

// NearEnd reports whether position is within the prefetch threshold of the
// end of the rendered list.
func (f *Feed) NearEnd(position int) bool {
	return position >= f.State().Len()-f.threshold
}

// Scrolled is the infinite-scroll hook: it starts a cycle when position is
// near the end. The result follows LoadMore.
func (f *Feed) Scrolled(ctx context.Context, position int) (bool, error) {
	if !f.NearEnd(position) {
		return false, nil
	}
	return f.LoadMore(ctx)
}

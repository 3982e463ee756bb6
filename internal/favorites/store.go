package favorites

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/boorupan/internal/source"
)

// Persister loads and saves the whole favorites list.
type Persister interface {
	LoadFavorites(ctx context.Context) ([]Entry, error)
	SaveFavorites(ctx context.Context, entries []Entry) error
}

// Remote receives fire-and-forget mirrors of local toggles.
type Remote interface {
	UpsertFavorite(ctx context.Context, e Entry) error
	DeleteFavorite(ctx context.Context, key string) error
}

// Store is the local favorites set. Writes are persisted before they return;
// remote mirroring happens afterwards on its own goroutine and is never
// rolled back into local state.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	persist Persister
	remote  Remote

	pending sync.WaitGroup
	log     logrus.FieldLogger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for added_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger for remote failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l.WithField("component", "favorites") }
}

// NewStore creates an empty store backed by p. Call Load to read persisted state.
func NewStore(p Persister, opts ...Option) (*Store, error) {
	if p == nil {
		return nil, errors.New("favorites persister is required")
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	s := &Store{
		entries: make(map[string]Entry),
		persist: p,
		log:     discard,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetRemote sets or clears (nil) the remote mirror.
func (s *Store) SetRemote(r Remote) {
	s.mu.Lock()
	s.remote = r
	s.mu.Unlock()
}

// Load replaces in-memory state with the persisted list.
func (s *Store) Load(ctx context.Context) error {
	entries, err := s.persist.LoadFavorites(ctx)
	if err != nil {
		return fmt.Errorf("load favorites: %w", err)
	}
	next := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if e.Key == "" {
			continue
		}
		next[e.Key] = e
	}
	s.mu.Lock()
	s.entries = next
	s.mu.Unlock()
	return nil
}

// Toggle removes p if favorited, otherwise adds it. It reports whether p is
// favorited afterwards.
func (s *Store) Toggle(ctx context.Context, p source.Post) (bool, error) {
	snap, err := Snapshot(p)
	if err != nil {
		return false, err
	}
	key := snap.Key()

	s.mu.Lock()
	prev, existed := s.entries[key]
	var added Entry
	if existed {
		delete(s.entries, key)
	} else {
		added = Entry{Key: key, AddedAt: s.now().UnixMilli(), Post: snap}
		s.entries[key] = added
	}
	if err := s.saveLocked(ctx); err != nil {
		if existed {
			s.entries[key] = prev
		} else {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return existed, err
	}
	remote := s.remote
	s.mu.Unlock()

	if remote != nil {
		if existed {
			s.dispatch(ctx, "delete", key, func(ctx context.Context) error { return remote.DeleteFavorite(ctx, key) })
		} else {
			s.dispatch(ctx, "upsert", key, func(ctx context.Context) error { return remote.UpsertFavorite(ctx, added) })
		}
	}
	return !existed, nil
}

// dispatch runs a remote call after the local write has committed.
func (s *Store) dispatch(ctx context.Context, op, key string, call func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := call(ctx); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"op": op, "key": key}).Warn("remote favorite sync failed")
		}
	}()
}

// Wait blocks until every dispatched remote call has returned.
func (s *Store) Wait() {
	s.pending.Wait()
}

// Replace swaps the whole local set for entries. Entries with no key or no
// post are dropped. It returns the number kept.
func (s *Store) Replace(ctx context.Context, entries []Entry) (int, error) {
	next := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if e.Key == "" {
			continue
		}
		snap, err := Snapshot(e.Post)
		if err != nil {
			continue
		}
		e.Post = snap
		next[e.Key] = e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.entries
	s.entries = next
	if err := s.saveLocked(ctx); err != nil {
		s.entries = prev
		return 0, err
	}
	return len(next), nil
}

// Remove deletes key locally without touching the remote. Missing keys are a no-op.
func (s *Store) Remove(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	delete(s.entries, key)
	if err := s.saveLocked(ctx); err != nil {
		s.entries[key] = prev
		return false, err
	}
	return true, nil
}

// Merge adds entries whose keys are not yet present, keeping existing ones.
// It returns the number added. Nothing is sent to the remote.
func (s *Store) Merge(ctx context.Context, entries []Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []string
	for _, e := range entries {
		if e.Key == "" {
			continue
		}
		if _, ok := s.entries[e.Key]; ok {
			continue
		}
		snap, err := Snapshot(e.Post)
		if err != nil {
			continue
		}
		if e.AddedAt == 0 {
			e.AddedAt = s.now().UnixMilli()
		}
		e.Post = snap
		s.entries[e.Key] = e
		added = append(added, e.Key)
	}
	if len(added) == 0 {
		return 0, nil
	}
	if err := s.saveLocked(ctx); err != nil {
		for _, k := range added {
			delete(s.entries, k)
		}
		return 0, err
	}
	return len(added), nil
}

// Has reports whether key is favorited.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Len returns the number of favorites.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// List returns entries newest first, ties broken by key.
func (s *Store) List() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sortEntries(out)
	return out
}

func (s *Store) saveLocked(ctx context.Context) error {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sortEntries(out)
	if err := s.persist.SaveFavorites(ctx, out); err != nil {
		return fmt.Errorf("save favorites: %w", err)
	}
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AddedAt != entries[j].AddedAt {
			return entries[i].AddedAt > entries[j].AddedAt
		}
		return entries[i].Key < entries[j].Key
	})
}

// Package sites holds the ordered site configuration list.
package sites

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ppiankov/boorupan/internal/source"
)

// Persister loads and saves the whole site list.
type Persister interface {
	LoadSites(ctx context.Context) ([]source.Site, error)
	SaveSites(ctx context.Context, sites []source.Site) error
}

// Registry is the in-memory site list, saved through a Persister on change.
type Registry struct {
	mu      sync.RWMutex
	sites   []source.Site
	persist Persister
}

// NewRegistry creates an empty registry.
func NewRegistry(p Persister) (*Registry, error) {
	if p == nil {
		return nil, errors.New("sites persister is required")
	}
	return &Registry{persist: p}, nil
}

// Load reads the persisted list. When nothing is persisted, seed is saved
// and used instead.
func (r *Registry) Load(ctx context.Context, seed []source.Site) error {
	loaded, err := r.persist.LoadSites(ctx)
	if err != nil {
		return fmt.Errorf("load sites: %w", err)
	}
	if len(loaded) == 0 && len(seed) > 0 {
		return r.Replace(ctx, seed)
	}
	r.mu.Lock()
	r.sites = Reindex(loaded)
	r.mu.Unlock()
	return nil
}

// List returns a copy of the sites in order.
func (r *Registry) List() []source.Site {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAll(r.sites)
}

// Find returns the site with the given name or identity.
func (r *Registry) Find(nameOrIdentity string) (source.Site, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sites {
		if s.Name == nameOrIdentity || s.Identity() == nameOrIdentity {
			return clone(s), true
		}
	}
	return source.Site{}, false
}

// Replace validates and stores list, reassigning order_index by position.
func (r *Registry) Replace(ctx context.Context, list []source.Site) error {
	for _, s := range list {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	next := Reindex(list)
	if err := r.persist.SaveSites(ctx, next); err != nil {
		return fmt.Errorf("save sites: %w", err)
	}
	r.mu.Lock()
	r.sites = next
	r.mu.Unlock()
	return nil
}

// Add appends s, or replaces the site with the same identity in place.
func (r *Registry) Add(ctx context.Context, s source.Site) error {
	list := r.List()
	replaced := false
	for i := range list {
		if list[i].Identity() == s.Identity() {
			list[i] = s
			replaced = true
		}
	}
	if !replaced {
		list = append(list, s)
	}
	return r.Replace(ctx, list)
}

// Remove drops the site with the given name or identity.
func (r *Registry) Remove(ctx context.Context, nameOrIdentity string) (bool, error) {
	list := r.List()
	out := list[:0]
	for _, s := range list {
		if s.Name == nameOrIdentity || s.Identity() == nameOrIdentity {
			continue
		}
		out = append(out, s)
	}
	if len(out) == len(list) {
		return false, nil
	}
	return true, r.Replace(ctx, out)
}

// Union merges login-time site lists: remote entries first and winning on an
// identity collision, then local-only entries in their existing order. The
// result carries a dense zero-based order_index.
func Union(remote, local []source.Site) []source.Site {
	seen := make(map[string]bool, len(remote)+len(local))
	out := make([]source.Site, 0, len(remote)+len(local))
	for _, s := range remote {
		id := s.Identity()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, clone(s))
	}
	for _, s := range local {
		id := s.Identity()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, clone(s))
	}
	return Reindex(out)
}

// Reindex copies list with base URLs normalized and order_index set to position.
func Reindex(list []source.Site) []source.Site {
	out := cloneAll(list)
	for i := range out {
		out[i].BaseURL = source.NormalizeBaseURL(out[i].BaseURL)
		out[i].OrderIndex = i
	}
	return out
}

func cloneAll(list []source.Site) []source.Site {
	out := make([]source.Site, len(list))
	for i, s := range list {
		out[i] = clone(s)
	}
	return out
}

func clone(s source.Site) source.Site {
	if s.Credentials != nil {
		creds := make(map[string]string, len(s.Credentials))
		for k, v := range s.Credentials {
			creds[k] = v
		}
		s.Credentials = creds
	}
	return s
}

// Memory is a Persister that keeps the list in memory.
type Memory struct {
	mu    sync.Mutex
	sites []source.Site
}

func (m *Memory) LoadSites(_ context.Context) ([]source.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAll(m.sites), nil
}

func (m *Memory) SaveSites(_ context.Context, list []source.Site) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sites = cloneAll(list)
	return nil
}

package favorites

import (
	"context"
	"sync"
)

// Memory is a Persister that keeps the list in memory.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	saves   int
}

func (m *Memory) LoadFavorites(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...), nil
}

func (m *Memory) SaveFavorites(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append([]Entry(nil), entries...)
	m.saves++
	return nil
}

// Saves returns how many times the list was written.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

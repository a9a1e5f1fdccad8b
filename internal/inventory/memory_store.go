package inventory

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	assets map[string]*Asset
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assets: make(map[string]*Asset)}
}

func (m *MemoryStore) List(_ context.Context, category string) ([]*Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Asset
	for _, a := range m.assets {
		if category != "" && a.Category != category {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) Upsert(_ context.Context, a *Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *a
	m.assets[a.ID] = &cp
	return nil
}

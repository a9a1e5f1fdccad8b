package users

import (
	"context"
	"sync"
)

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewMemoryStore creates an empty in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

func (m *MemoryStore) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[u.Subject]; exists {
		return ErrSubjectTaken
	}
	cp := *u
	m.users[u.Subject] = &cp
	return nil
}

func (m *MemoryStore) GetBySubject(_ context.Context, subject string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[subject]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

package prefs

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process preferences store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Preferences
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Preferences)}
}

func (s *InMemoryStore) Save(_ context.Context, p Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	s.records[p.UserID] = p
	return nil
}

// Get returns the stored preferences, or defaults when the user has none.
func (s *InMemoryStore) Get(_ context.Context, userID string) (Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.records[userID]; ok {
		return p, nil
	}
	return Defaults(userID), nil
}

func (s *InMemoryStore) Close() error { return nil }

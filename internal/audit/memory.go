package audit

import (
	"context"
	"sync"
)

// InMemoryStore keeps events per identity. It is the default sink when no
// durable audit backend is configured, and the read path for tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[string][]Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.IdentityKey] = append(s.events[event.IdentityKey], event)
	return nil
}

func (s *InMemoryStore) ListByIdentity(_ context.Context, identityKey string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[identityKey]...), nil
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string][]Event)
}

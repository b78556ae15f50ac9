package session

import (
	"context"
	"sync"
)

// memrepo is a development-only in-memory Durable implementation used when
// no database is configured, and the durable fake in tests.
type memrepo struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryRepository() Durable {
	return &memrepo{sessions: make(map[string]*Session)}
}

func (m *memrepo) CreateSession(_ context.Context, s *Session) error {
	return m.put(s)
}

func (m *memrepo) SaveSession(_ context.Context, s *Session) error {
	return m.put(s)
}

func (m *memrepo) FinalizeSession(_ context.Context, s *Session) error {
	return m.put(s)
}

func (m *memrepo) LoadSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (m *memrepo) Close() error { return nil }

func (m *memrepo) put(s *Session) error {
	if s == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	byIdent  map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]Session{},
		byIdent:  map[string]map[string]struct{}{},
	}
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.Token]; ok {
		return ErrTokenExists
	}
	m.sessions[s.Token] = *s
	idx, ok := m.byIdent[s.Identifier]
	if !ok {
		idx = map[string]struct{}{}
		m.byIdent[s.Identifier] = idx
	}
	idx[s.Token] = struct{}{}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(token)
	return nil
}

func (m *MemoryStore) DeleteByIdentifier(_ context.Context, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token := range m.byIdent[identifier] {
		delete(m.sessions, token)
	}
	delete(m.byIdent, identifier)
	return nil
}

func (m *MemoryStore) Extend(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.Token]
	if !ok {
		return nil
	}
	cur.ExpiresAt = s.ExpiresAt
	m.sessions[s.Token] = cur
	return nil
}

func (m *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, s := range m.sessions {
		if s.Expired(now) {
			m.deleteLocked(token)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemoryStore) deleteLocked(token string) {
	s, ok := m.sessions[token]
	if !ok {
		return
	}
	delete(m.sessions, token)
	if idx, ok := m.byIdent[s.Identifier]; ok {
		delete(idx, token)
		if len(idx) == 0 {
			delete(m.byIdent, s.Identifier)
		}
	}
}

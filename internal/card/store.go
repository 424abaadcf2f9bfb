package card

import (
	"errors"
	"sort"
	"sync"
)

// ErrSessionNotFound is returned for an unknown session ID
var ErrSessionNotFound = errors.New("session not found")

// Store defines the interface for session storage
type Store interface {
	// Save creates or replaces a session
	Save(session *Session) error

	// Get retrieves a session by ID
	Get(id string) (*Session, error)

	// List returns all sessions, oldest first
	List() ([]*Session, error)

	// Delete removes a session
	Delete(id string) error
}

// MemoryStore implements the Store interface in process memory. Sessions do
// not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
	}
}

// Save stores a copy of session
func (m *MemoryStore) Save(session *Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session ID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session.clone()
	return nil
}

// Get returns a copy of the session; callers must Save to persist changes
func (m *MemoryStore) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.clone(), nil
}

// List returns copies of all sessions ordered by creation time
func (m *MemoryStore) List() ([]*Session, error) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s.clone())
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Delete removes a session
func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentrun/core"
)

// InMemoryStore is a volatile StorageAdapter storing sessions in a process
// local map. It is safe for concurrent access and best suited for tests or
// ephemeral demo servers. Sessions are cloned on the way in and out to
// prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewInMemoryStore constructs an empty in‑memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// Create is a no-op; the map is allocated by the constructor.
func (s *InMemoryStore) Create(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string]*core.Session)
	}
	return nil
}

// Read returns a clone of the stored session or (nil, nil).
func (s *InMemoryStore) Read(_ context.Context, sessionID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if session, ok := s.sessions[sessionID]; ok {
		return session.Clone(), nil
	}
	return nil, nil
}

// Upsert stores a clone of the provided session.
func (s *InMemoryStore) Upsert(_ context.Context, session *core.Session) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string]*core.Session)
	}
	stored := session.Clone()
	if stored.Updated.IsZero() {
		stored.Updated = time.Now()
	}
	s.sessions[stored.ID] = stored
	return stored.Clone(), nil
}

// Delete removes the session; missing ids are ignored.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// ListIDs returns matching session ids, most recently updated first.
func (s *InMemoryStore) ListIDs(_ context.Context, userID, ownerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]*core.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if userID != "" && sess.UserID != userID {
			continue
		}
		if ownerID != "" && sess.OwnerID != ownerID {
			continue
		}
		matches = append(matches, sess)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Updated.Equal(matches[j].Updated) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Updated.After(matches[j].Updated)
	})

	ids := make([]string, len(matches))
	for i, sess := range matches {
		ids[i] = sess.ID
	}
	return ids, nil
}

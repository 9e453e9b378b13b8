package session

import (
	"sort"
	"sync"

	"reasond/internal/core"
)

// Store is the in-memory metadata index. All methods are safe for
// concurrent use; values go in and out by copy.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]Metadata
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]Metadata)}
}

// Insert adds a new session. A duplicate ID is an error.
func (s *Store) Insert(m Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[m.ID]; exists {
		return core.NewError(core.KindSessionAlreadyExists, "session %s already exists", m.ID)
	}
	s.sessions[m.ID] = m
	return nil
}

// Get returns a copy of the session metadata.
func (s *Store) Get(id string) (Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.sessions[id]
	return m, ok
}

// Update applies fn to the stored metadata under the write lock.
func (s *Store) Update(id string, fn func(*Metadata)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sessions[id]
	if !ok {
		return false
	}
	fn(&m)
	s.sessions[id] = m
	return true
}

// Remove deletes a session.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// CountActive counts sessions that have not terminated.
func (s *Store) CountActive() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.sessions {
		if m.Status != StatusTerminated {
			n++
		}
	}
	return n
}

// CountForPrincipal counts a principal's non-terminated sessions.
func (s *Store) CountForPrincipal(principal string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.sessions {
		if m.Principal == principal && m.Status != StatusTerminated {
			n++
		}
	}
	return n
}

// ListForPrincipal returns a principal's sessions ordered by start time.
func (s *Store) ListForPrincipal(principal string) []Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Metadata
	for _, m := range s.sessions {
		if m.Principal == principal {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// All returns every session ordered by start time.
func (s *Store) All() []Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Metadata, 0, len(s.sessions))
	for _, m := range s.sessions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Package memory implements identity.PersistentStore entirely in
// process memory, mirroring the map-behind-a-mutex shape of the
// teacher's in-memory store — the default backend when no database is
// configured, so durability is opt-in rather than required.
package memory

import (
	"context"
	"sync"

	"github.com/redpesk-core/go-binder/identity"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]identity.SessionRecord
	tokens   map[string]identity.TokenRecord
}

func New() *Store {
	return &Store{
		sessions: make(map[string]identity.SessionRecord),
		tokens:   make(map[string]identity.TokenRecord),
	}
}

func (s *Store) Close() {}

func (s *Store) UpsertSession(_ context.Context, rec identity.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.UUID] = rec
	return nil
}

func (s *Store) DeleteSession(_ context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, uuid)
	return nil
}

func (s *Store) ListSessions(_ context.Context) ([]identity.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]identity.SessionRecord, 0, len(s.sessions))
	for _, r := range s.sessions {
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) UpsertToken(_ context.Context, rec identity.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[rec.Text] = rec
	return nil
}

func (s *Store) DeleteToken(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, text)
	return nil
}

func (s *Store) ListTokens(_ context.Context) ([]identity.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]identity.TokenRecord, 0, len(s.tokens))
	for _, r := range s.tokens {
		out = append(out, r)
	}
	return out, nil
}

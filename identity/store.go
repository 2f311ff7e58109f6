package identity

import (
	"context"
	"time"
)

// SessionRecord is the durable projection of a Session: its UUID, LOAs
// and lifetime. Cookies are not persisted; they are process-local.
type SessionRecord struct {
	UUID      string
	LOAs      map[string]int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TokenRecord is the durable projection of an interned Token.
type TokenRecord struct {
	Text      string
	CreatedAt time.Time
}

// PersistentStore is the optional durability backend for sessions and
// tokens. The in-process stores (SessionStore, TokenStore) work without
// one, as pure in-memory tables; a PersistentStore lets a deployment
// survive a restart without forcing every client to re-authenticate.
type PersistentStore interface {
	Close()

	UpsertSession(ctx context.Context, rec SessionRecord) error
	DeleteSession(ctx context.Context, uuid string) error
	ListSessions(ctx context.Context) ([]SessionRecord, error)

	UpsertToken(ctx context.Context, rec TokenRecord) error
	DeleteToken(ctx context.Context, text string) error
	ListTokens(ctx context.Context) ([]TokenRecord, error)
}

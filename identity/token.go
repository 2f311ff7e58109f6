package identity

import (
	"sync"
	"sync/atomic"

	"github.com/redpesk-core/go-binder/status"
)

// Token is a bearer credential interned by string: identical strings
// always resolve to the same Token and share its local ID and refcount,
// matching afb-token.c's pure string-interning table.
type Token struct {
	text     string
	localID  uint16
	refcount int32 // atomic
}

// Text returns the token's bearer string.
func (t *Token) Text() string { return t.text }

// LocalID returns the token's process-local 16-bit ID.
func (t *Token) LocalID() uint16 { return t.localID }

// AddRef increments the token's reference count.
func (t *Token) AddRef() *Token {
	atomic.AddInt32(&t.refcount, 1)
	return t
}

// Unref decrements the reference count. The interning table that
// created the token owns removing it from its index once the count
// reaches zero; call TokenStore.Release instead of relying on GC.
func (t *Token) Unref() bool {
	return atomic.AddInt32(&t.refcount, -1) == 0
}

// TokenStore is the process-wide string-interning table of Tokens.
type TokenStore struct {
	mu     sync.Mutex
	byText map[string]*Token
	byID   map[uint16]*Token
	nextID uint16
}

// NewTokenStore creates an empty token table.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		byText: make(map[string]*Token),
		byID:   make(map[uint16]*Token),
		nextID: 1,
	}
}

// Intern returns the Token for text, creating and assigning it a fresh
// local ID on first use.
func (s *TokenStore) Intern(text string) *Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.byText[text]; ok {
		return t.AddRef()
	}
	t := &Token{text: text, localID: s.nextID, refcount: 1}
	s.nextID++
	s.byText[text] = t
	s.byID[t.localID] = t
	return t
}

// Get looks up an existing token by its text without interning it.
func (s *TokenStore) Get(text string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byText[text]
	if !ok {
		return nil, status.New(status.NotFound, "identity.TokenStore.Get")
	}
	return t.AddRef(), nil
}

// GetByLocalID resolves a token by its process-local ID.
func (s *TokenStore) GetByLocalID(id uint16) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, status.New(status.NotFound, "identity.TokenStore.GetByLocalID")
	}
	return t.AddRef(), nil
}

// Release drops one reference, removing the token from the interning
// table once its count reaches zero.
func (s *TokenStore) Release(t *Token) {
	if !t.Unref() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byText[t.text]; ok && cur == t {
		delete(s.byText, t.text)
		delete(s.byID, t.localID)
	}
}

// Len reports the number of currently interned tokens.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byText)
}

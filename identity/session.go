// Package identity implements the process-wide session, token and
// credential stores that requests carry with them: a fixed-capacity,
// LRU-evicting session table keyed by UUID, a string-interning token
// table, and portable credential import/export.
package identity

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/redpesk-core/go-binder/status"
)

// DisposeFunc releases a cookie's value when it is dropped or its
// session closes.
type DisposeFunc func(value any)

type cookie struct {
	value   any
	dispose DisposeFunc
}

// Session is a client-identified container of per-API cookies and
// levels of assurance, refcounted and subject to an idle timeout.
type Session struct {
	uuid    string
	localID uint16

	refcount int32 // atomic

	mu      sync.Mutex
	cookies map[string]*cookie
	loas    map[string]int

	timeout  time.Duration
	lastUsed atomic.Int64 // unix nano
	closing  atomic.Bool
	closed   atomic.Bool
}

// UUID returns the session's identifying UUID string.
func (s *Session) UUID() string { return s.uuid }

// LocalID returns the session's process-local 16-bit ID.
func (s *Session) LocalID() uint16 { return s.localID }

// AddRef increments the session's reference count.
func (s *Session) AddRef() *Session {
	atomic.AddInt32(&s.refcount, 1)
	return s
}

// Unref decrements the reference count; at zero all cookies are
// disposed exactly once.
func (s *Session) Unref() {
	if atomic.AddInt32(&s.refcount, -1) > 0 {
		return
	}
	s.disposeAll()
}

func (s *Session) disposeAll() {
	s.mu.Lock()
	cookies := s.cookies
	s.cookies = nil
	s.mu.Unlock()
	for _, c := range cookies {
		if c.dispose != nil {
			c.dispose(c.value)
		}
	}
}

// MarkClosing sets the flag reported by Closing. Nothing in this
// package acts on the flag; the session stays in its store.
func (s *Session) MarkClosing() { s.closing.Store(true) }

// Closing reports whether the session has been marked to close.
func (s *Session) Closing() bool { return s.closing.Load() }

// Close marks the session closed; closed sessions are evicted at the
// next sweep regardless of their timeout.
func (s *Session) Close() {
	s.closed.Store(true)
	s.disposeAll()
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }

func (s *Session) touch() { s.lastUsed.Store(time.Now().UnixNano()) }

func (s *Session) idle() time.Duration {
	last := s.lastUsed.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

func (s *Session) timedOut() bool {
	if s.timeout <= 0 {
		return false
	}
	return s.idle() > s.timeout
}

// CookieGetInit atomically installs a cookie for api the first time it
// is queried, running initFn under the session lock so concurrent
// callers observe a single installation.
func (s *Session) CookieGetInit(api string, initFn func() (any, DisposeFunc)) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cookies == nil {
		s.cookies = make(map[string]*cookie)
	}
	if c, ok := s.cookies[api]; ok {
		return c.value
	}
	val, dispose := initFn()
	s.cookies[api] = &cookie{value: val, dispose: dispose}
	return val
}

// DropKey removes and disposes the cookie registered for api, if any.
func (s *Session) DropKey(api string) {
	s.mu.Lock()
	c, ok := s.cookies[api]
	if ok {
		delete(s.cookies, api)
	}
	s.mu.Unlock()
	if ok && c.dispose != nil {
		c.dispose(c.value)
	}
}

// LOA returns the level-of-assurance recorded for api (0 if none).
func (s *Session) LOA(api string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loas[api]
}

// SetLOA records the level-of-assurance for api.
func (s *Session) SetLOA(api string, loa int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loas == nil {
		s.loas = make(map[string]int)
	}
	s.loas[api] = loa
}

// SessionStore is a fixed-capacity, LRU-evicting table of Sessions
// keyed by UUID: create-or-get by UUID, fixed capacity, LRU eviction of
// timed-out sessions, kept behind a single map-and-mutex.
type SessionStore struct {
	mu       sync.Mutex
	byUUID   map[string]*Session
	byID     map[uint16]*Session
	order    []*Session // most-recently-touched last
	nextID   uint16
	capacity int
	timeout  time.Duration
}

// NewSessionStore creates a store with the given capacity (0 = unbounded)
// and default per-session idle timeout.
func NewSessionStore(capacity int, defaultTimeout time.Duration) *SessionStore {
	return &SessionStore{
		byUUID:   make(map[string]*Session),
		byID:     make(map[uint16]*Session),
		capacity: capacity,
		timeout:  defaultTimeout,
		nextID:   1,
	}
}

// CreateOrGet returns the existing session for uuid, or creates one. An
// empty uuid generates a fresh ULID-based identifier.
func (s *SessionStore) CreateOrGet(uuid string) (*Session, error) {
	if uuid == "" {
		uuid = ulid.Make().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.byUUID[uuid]; ok {
		sess.touch()
		s.bump(sess)
		return sess.AddRef(), nil
	}

	if s.capacity > 0 && len(s.byUUID) >= s.capacity {
		if !s.evictOneLocked() {
			return nil, status.New(status.Overflow, "identity.SessionStore.CreateOrGet")
		}
	}

	sess := &Session{uuid: uuid, localID: s.nextID, timeout: s.timeout}
	sess.refcount = 1
	sess.touch()
	s.nextID++
	s.byUUID[uuid] = sess
	s.byID[sess.localID] = sess
	s.order = append(s.order, sess)
	return sess.AddRef(), nil
}

// Get looks up a session by UUID without creating one.
func (s *SessionStore) Get(uuid string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byUUID[uuid]
	if !ok {
		return nil, status.New(status.NotFound, "identity.SessionStore.Get")
	}
	sess.touch()
	s.bump(sess)
	return sess.AddRef(), nil
}

// GetByLocalID looks up a session by its process-local ID, used to
// resolve a peer's session proxy table entry.
func (s *SessionStore) GetByLocalID(id uint16) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, status.New(status.NotFound, "identity.SessionStore.GetByLocalID")
	}
	return sess.AddRef(), nil
}

// bump moves sess to the end of the LRU order list. Caller holds s.mu.
func (s *SessionStore) bump(sess *Session) {
	for i, o := range s.order {
		if o == sess {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.order = append(s.order, sess)
}

// evictOneLocked drops the least-recently-touched timed-out session.
// Caller holds s.mu. Returns false if no evictable session was found.
func (s *SessionStore) evictOneLocked() bool {
	for i, sess := range s.order {
		if sess.timedOut() || sess.Closed() {
			s.order = append(s.order[:i], s.order[i+1:]...)
			delete(s.byUUID, sess.uuid)
			delete(s.byID, sess.localID)
			sess.Close()
			return true
		}
	}
	return false
}

// Sweep drops every timed-out or closed session, regardless of
// capacity pressure. Intended to be called periodically by the
// scheduler's sweep loop.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	kept := s.order[:0]
	for _, sess := range s.order {
		if sess.timedOut() || sess.Closed() {
			delete(s.byUUID, sess.uuid)
			delete(s.byID, sess.localID)
			sess.Close()
			dropped++
			continue
		}
		kept = append(kept, sess)
	}
	s.order = kept
	return dropped
}

// Len reports the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byUUID)
}

// Package apiset implements the named-API registry requests dispatch
// through: add/remove/lookup, description, enumeration, per-api log
// masks and a default process timeout. The registry shape follows a
// `nodeFactories`-style name→implementation map
// (internal/service/workflow/node.go's RegisterNodeType/GetNodeFactory),
// generalized here from one process-wide map to an instantiable Set so
// multiple independent apisets (e.g. one per RPC peer) can coexist.
package apiset

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redpesk-core/go-binder/request"
	"github.com/redpesk-core/go-binder/status"
)

// DescribeFunc produces a JSON-encodable description of an API's verbs,
// used by the `describe` operation (the "Describe" verb).
type DescribeFunc func() (json.RawMessage, error)

// Item is a single registered API: its process entry point plus an
// optional description callback, matching the
// `{closure, group, itf={process, describe}}` shape. The closure and
// per-api job group are folded into whatever concrete type implements
// Item instead of carried as separate fields — idiomatic Go prefers a
// method value closing over its own state to a function pointer plus
// an explicit closure parameter.
type Item interface {
	request.APIItem
	// Describe returns the API's verb description, or an error if the
	// api does not support introspection.
	Describe() (json.RawMessage, error)
}

type entry struct {
	name     string
	item     Item
	logmask  uint64
	refcount int32 // atomic
}

// Set is a named-API registry. The zero value is not usable; build one
// with New.
type Set struct {
	mu      sync.RWMutex
	byName  map[string]*entry
	timeout time.Duration
}

// New creates an empty Set with the given default process timeout.
func New(timeout time.Duration) *Set {
	return &Set{
		byName:  make(map[string]*entry),
		timeout: timeout,
	}
}

// Add registers item under name. It is an error to add a name that is
// already registered.
func (s *Set) Add(name string, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; ok {
		return status.New(status.Exists, "apiset.Add")
	}
	s.byName[name] = &entry{name: name, item: item, refcount: 1}
	return nil
}

// Del removes name from the set. It is an error to remove a name that
// is not registered or whose refcount has not dropped to its initial
// registration hold.
func (s *Set) Del(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byName[name]
	if !ok {
		return status.New(status.NotFound, "apiset.Del")
	}
	if atomic.LoadInt32(&e.refcount) > 1 {
		return status.New(status.Busy, "apiset.Del")
	}
	delete(s.byName, name)
	return nil
}

// GetAPI resolves name to its registered Item, satisfying
// request.APISet. strict/started gating (`get_api(name, strict,
// started, *out)`) is not modeled: this registry has no lazy-start
// state machine, every registered api is immediately callable.
func (s *Set) GetAPI(name string) (request.APIItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byName[name]
	if !ok {
		return nil, status.New(status.NotFound, "apiset.GetAPI")
	}
	return e.item, nil
}

// Describe returns name's verb description.
func (s *Set) Describe(name string) (json.RawMessage, error) {
	s.mu.RLock()
	e, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return nil, status.New(status.NotFound, "apiset.Describe")
	}
	return e.item.Describe()
}

// Enum calls onEach for every registered api name, in an unspecified
// order, matching `enum(set, onalias, cb, clo)` (alias resolution
// itself belongs to a higher layer than this registry; onEach receives
// plain names here).
func (s *Set) Enum(onEach func(name string)) {
	s.mu.RLock()
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	s.mu.RUnlock()
	for _, name := range names {
		onEach(name)
	}
}

// SetLogmask records mask as name's logging verbosity mask.
func (s *Set) SetLogmask(name string, mask uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byName[name]
	if !ok {
		return status.New(status.NotFound, "apiset.SetLogmask")
	}
	e.logmask = mask
	return nil
}

// GetLogmask returns name's logging verbosity mask.
func (s *Set) GetLogmask(name string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byName[name]
	if !ok {
		return 0, status.New(status.NotFound, "apiset.GetLogmask")
	}
	return e.logmask, nil
}

// TimeoutGet returns the set's default per-request process timeout.
func (s *Set) TimeoutGet() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeout
}

// AddRef increments name's registration refcount, keeping it
// registered across an intervening Del call from another owner.
func (s *Set) AddRef(name string) error {
	s.mu.RLock()
	e, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return status.New(status.NotFound, "apiset.AddRef")
	}
	atomic.AddInt32(&e.refcount, 1)
	return nil
}

// Unref decrements name's registration refcount.
func (s *Set) Unref(name string) error {
	s.mu.RLock()
	e, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return status.New(status.NotFound, "apiset.Unref")
	}
	atomic.AddInt32(&e.refcount, -1)
	return nil
}

// FindBestMatch scores every registered api name against pat using
// Match and returns the highest-scoring name, for glob-based api
// aliasing (apiset `enum`/alias resolution over patterned
// names). Returns ok=false if nothing matches.
func (s *Set) FindBestMatch(pat string, flags MatchFlag) (name string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best uint
	for n := range s.byName {
		if score := Match(pat, n, flags); score > best {
			best, name, ok = score, n, true
		}
	}
	return name, ok
}

// Package event implements the named-event fabric: event creation with
// process-unique 16-bit IDs, listener subscription via watches, push
// and broadcast delivery, and UUID-based broadcast deduplication with a
// hop counter, matching and grounded on afb-evt.c's constants
// and shapes.
package event

import (
	"sync"
	"sync/atomic"

	"github.com/redpesk-core/go-binder/status"
)

// Event is a named, numerically identified notification channel.
// Destruction (refcount reaching zero) detaches every watch and queues
// a remove(fullname, eventid) notification to each attached listener.
type Event struct {
	id       uint16
	name     string
	refcount int32 // atomic

	fabric *Fabric

	mu      sync.RWMutex
	watches map[*Listener]*Watch
}

// ID returns the event's process-unique 16-bit identifier.
func (e *Event) ID() uint16 { return e.id }

// Name returns the event's full name ("prefix/name").
func (e *Event) Name() string { return e.name }

// AddRef increments the event's reference count.
func (e *Event) AddRef() *Event {
	atomic.AddInt32(&e.refcount, 1)
	return e
}

// Unref decrements the reference count, destroying the event and
// detaching all watches when it reaches zero.
func (e *Event) Unref() {
	if atomic.AddInt32(&e.refcount, -1) > 0 {
		return
	}
	e.fabric.destroyEvent(e)
}

// watchCount returns the number of listeners currently attached,
// snapshotted under the event's read lock.
func (e *Event) watchCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.watches)
}

// snapshotListeners copies the current watch set under a read lock, so
// push/broadcast iterate a stable slice instead of holding the lock
// across listener callbacks.
func (e *Event) snapshotListeners() []*Listener {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Listener, 0, len(e.watches))
	for l := range e.watches {
		out = append(out, l)
	}
	return out
}

func (e *Event) attach(l *Listener, w *Watch) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watches == nil {
		e.watches = make(map[*Listener]*Watch)
	}
	if _, ok := e.watches[l]; ok {
		return false
	}
	e.watches[l] = w
	return true
}

func (e *Event) detach(l *Listener) (*Watch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.watches[l]
	if ok {
		delete(e.watches, l)
	}
	return w, ok
}

func (e *Event) detachAll() []*Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Listener, 0, len(e.watches))
	for l := range e.watches {
		out = append(out, l)
	}
	e.watches = nil
	return out
}

var errNotFound = status.New(status.NotFound, "event")

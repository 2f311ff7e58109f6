package event

import (
	"sync"

	"github.com/google/uuid"

	"github.com/redpesk-core/go-binder/status"
)

// Default broadcast dedup ring size and hop count: these are
// overridable defaults, not hardwired constants, matching afb-evt.c's
// EVENT_BROADCAST_MEMORY_COUNT (8) and EVENT_BROADCAST_HOP_MAX (10).
const (
	DefaultBroadcastMemory = 8
	DefaultBroadcastHop    = 10
)

// maxEvents is the process-wide live-event capacity.
const maxEvents = 65535

// Config tunes a Fabric away from its spec-matching defaults.
type Config struct {
	BroadcastMemory int
	BroadcastHop    uint8
	Dispatcher      Dispatcher
}

// Fabric is the process-wide event registry: name/ID allocation,
// the listener set, and broadcast deduplication. It is a
// process-singleton registry guarded by a read/write lock.
type Fabric struct {
	mu       sync.RWMutex
	byID     map[uint16]*Event
	byName   map[string]*Event
	nextID   uint16
	usedIDs  map[uint16]bool
	listenMu sync.RWMutex
	listenAll []*Listener

	dispatcher Dispatcher

	ringMu   sync.Mutex
	ring     []string
	ringCap  int
	hopLimit uint8
}

// NewFabric creates an empty fabric with the given configuration.
func NewFabric(cfg Config) *Fabric {
	mem := cfg.BroadcastMemory
	if mem <= 0 {
		mem = DefaultBroadcastMemory
	}
	hop := cfg.BroadcastHop
	if hop == 0 {
		hop = DefaultBroadcastHop
	}
	disp := cfg.Dispatcher
	if disp == nil {
		disp = defaultDispatcher
	}
	return &Fabric{
		byID:     make(map[uint16]*Event),
		byName:   make(map[string]*Event),
		usedIDs:  make(map[uint16]bool),
		nextID:   1,
		ringCap:  mem,
		hopLimit: hop,
		dispatcher: disp,
	}
}

// Create assigns a unique 16-bit ID to fullname and registers the
// event. Re-creating an existing name returns the existing Event
// addref'd, matching the idempotent creation other registries in this
// module use.
func (f *Fabric) Create(fullname string) (*Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.byName[fullname]; ok {
		return e.AddRef(), nil
	}
	if len(f.usedIDs) >= maxEvents {
		return nil, status.New(status.Overflow, "event.Create")
	}

	id := f.allocateIDLocked()
	e := &Event{id: id, name: fullname, refcount: 1, fabric: f}
	f.byID[id] = e
	f.byName[fullname] = e
	f.usedIDs[id] = true
	return e, nil
}

func (f *Fabric) allocateIDLocked() uint16 {
	for {
		id := f.nextID
		f.nextID++
		if f.nextID == 0 {
			f.nextID = 1
		}
		if !f.usedIDs[id] {
			return id
		}
	}
}

// Lookup finds a live event by name.
func (f *Fabric) Lookup(fullname string) (*Event, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.byName[fullname]
	if !ok {
		return nil, errNotFound
	}
	return e.AddRef(), nil
}

// LookupByID finds a live event by its numeric ID.
func (f *Fabric) LookupByID(id uint16) (*Event, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.byID[id]
	if !ok {
		return nil, errNotFound
	}
	return e.AddRef(), nil
}

// destroyEvent removes e from the registry, detaches every watch, and
// queues a remove notification on each affected listener. Called from
// Event.Unref when the refcount reaches zero.
func (f *Fabric) destroyEvent(e *Event) {
	f.mu.Lock()
	delete(f.byID, e.id)
	delete(f.byName, e.name)
	delete(f.usedIDs, e.id)
	f.mu.Unlock()

	for _, l := range e.detachAll() {
		l.mu.Lock()
		delete(l.watches, e)
		l.mu.Unlock()
		if l.iface.Remove != nil {
			name, id := e.name, e.id
			cb := l.iface.Remove
			l.submit(func() { cb(name, id) })
		}
	}
}

// NewListener creates a Listener using the fabric's configured
// dispatcher and registers it so Broadcast reaches it.
func (f *Fabric) NewListener(iface Interface, group any) *Listener {
	l := NewListener(iface, group, f.dispatcher)
	f.RegisterListener(l)
	return l
}

// RegisterListener adds l to the set of all known listeners, used by
// Broadcast which notifies every listener regardless of watch state.
func (f *Fabric) RegisterListener(l *Listener) {
	f.listenMu.Lock()
	f.listenAll = append(f.listenAll, l)
	f.listenMu.Unlock()
}

// UnregisterListener removes l from the all-listeners set and detaches
// every watch it still holds, queuing remove notifications.
func (f *Fabric) UnregisterListener(l *Listener) {
	f.listenMu.Lock()
	for i, x := range f.listenAll {
		if x == l {
			f.listenAll = append(f.listenAll[:i], f.listenAll[i+1:]...)
			break
		}
	}
	f.listenMu.Unlock()

	l.mu.Lock()
	watches := l.watches
	l.watches = make(map[*Event]*Watch)
	l.mu.Unlock()

	for e := range watches {
		e.detach(l)
	}
}

// ListenerAdd subscribes l to e: idempotent, and posts an add(fullname,
// eventid) job if l's interface implements Add.
func (f *Fabric) ListenerAdd(e *Event, l *Listener) bool {
	w := &Watch{event: e, listener: l}
	if !e.attach(l, w) {
		return false
	}
	l.mu.Lock()
	l.watches[e] = w
	l.mu.Unlock()

	if l.iface.Add != nil {
		name, id := e.name, e.id
		cb := l.iface.Add
		l.submit(func() { cb(name, id) })
	}
	return true
}

// ListenerRemove unsubscribes l from e.
func (f *Fabric) ListenerRemove(e *Event, l *Listener) bool {
	_, ok := e.detach(l)
	if !ok {
		return false
	}
	l.mu.Lock()
	delete(l.watches, e)
	l.mu.Unlock()

	if l.iface.Remove != nil {
		name, id := e.name, e.id
		cb := l.iface.Remove
		l.submit(func() { cb(name, id) })
	}
	return true
}

// ListenerRemoveByID unsubscribes l from whatever event currently has
// id, symmetric with ListenerRemove.
func (f *Fabric) ListenerRemoveByID(id uint16, l *Listener) bool {
	e, err := f.LookupByID(id)
	if err != nil {
		return false
	}
	defer e.Unref()
	return f.ListenerRemove(e, l)
}

// Push snapshots e's watch list and posts one push job per listener,
// sharing a single envelope. It returns the number of listeners
// notified, computed at snapshot time — subscriptions started after
// this call do not receive it.
func (f *Fabric) Push(e *Event, params any) int {
	listeners := e.snapshotListeners()
	env := PushEnvelope{Event: e.name, Params: params}
	for _, l := range listeners {
		if l.iface.Push == nil {
			continue
		}
		cb := l.iface.Push
		l.submit(func() { cb(env) })
	}
	return len(listeners)
}

// Broadcast originates a fresh dedup UUID and the fabric's default hop
// count, then delivers to every registered listener (not only watchers
// of this name).
func (f *Fabric) Broadcast(fullname string, params any) int {
	return f.rebroadcast(fullname, params, uuid.NewString(), f.hopLimit)
}

// Rebroadcast is called by receivers of a broadcast relayed from
// another peer; it applies the same dedup ring as Broadcast.
func (f *Fabric) Rebroadcast(fullname string, params any, uuid string, hop uint8) int {
	return f.rebroadcast(fullname, params, uuid, hop)
}

// MarkSeen records id in the dedup ring without delivering a broadcast
// to any listener, reporting whether it was already present. Used to
// fold another process's dedup-ring hit into this one's (cluster
// package), where the broadcast itself already reached this process
// through its own transport and only the suppression state needs to be
// shared.
func (f *Fabric) MarkSeen(id string) bool {
	return f.seen(id)
}

func (f *Fabric) rebroadcast(fullname string, params any, id string, hop uint8) int {
	if f.seen(id) {
		return 0
	}

	f.listenMu.RLock()
	listeners := make([]*Listener, len(f.listenAll))
	copy(listeners, f.listenAll)
	f.listenMu.RUnlock()

	env := BroadcastEnvelope{
		PushEnvelope: PushEnvelope{Event: fullname, Params: params},
		UUID:         id,
		Hop:          hop,
	}
	count := 0
	for _, l := range listeners {
		if l.iface.Broadcast == nil {
			continue
		}
		cb := l.iface.Broadcast
		l.submit(func() { cb(env) })
		count++
	}
	return count
}

// seen records id in the dedup ring and reports whether it was already
// present, matching afb-evt.c's fixed-capacity recently-seen ring.
func (f *Fabric) seen(id string) bool {
	f.ringMu.Lock()
	defer f.ringMu.Unlock()
	for _, r := range f.ring {
		if r == id {
			return true
		}
	}
	f.ring = append(f.ring, id)
	if len(f.ring) > f.ringCap {
		f.ring = f.ring[len(f.ring)-f.ringCap:]
	}
	return false
}

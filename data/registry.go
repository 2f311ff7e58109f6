package data

import (
	"sync"
	"sync/atomic"

	"github.com/redpesk-core/go-binder/status"
)

// ConvertFunc transforms a Value of one type into a Value of another.
// It must not retain a reference to in beyond the call; it should return
// a freshly addref'd Value (refcount 1) owned by the caller.
type ConvertFunc func(in *Value) (*Value, error)

type edge struct {
	to   *Type
	conv ConvertFunc
	seq  int // insertion order, used to break BFS ties deterministically
}

// Registry is the type/converter graph: the set of known Types, and the
// directed graph of ConvertFuncs between them that Convert walks with a
// breadth-first shortest path search, matching the C implementation's
// afb-type registry + converter list.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Type
	byID    map[uint16]*Type
	edges   map[uint16][]edge
	nextID  uint16
	edgeSeq int

	opaqueMu   sync.RWMutex
	opaqueNext uint64
	opaque     map[uint64]opaqueEntry
}

// opaqueEntry is the borrowed (value, type) pair a Registry returns
// from GetByOpaqueID, matching afb_data_get_opaque's lookup contract.
type opaqueEntry struct {
	val *Value
	typ *Type
}

// NewRegistry builds a Registry with every predefined type pre-registered.
func NewRegistry() *Registry {
	r := &Registry{
		byName: make(map[string]*Type),
		byID:   make(map[uint16]*Type),
		edges:  make(map[uint16][]edge),
		nextID: FirstUserTypeID,
	}
	for _, p := range predefinedNames {
		t := &Type{name: p.name, id: p.id, streamable: p.streamable}
		r.byName[t.name] = t
		r.byID[t.id] = t
	}
	return r
}

// RegisterType creates and registers a new user type, assigning it the
// next available non-reserved ID. Registering the same name twice
// returns the existing Type (idempotent, matching afb_type_register).
func (r *Registry) RegisterType(name string, streamable bool) (*Type, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.byName[name]; ok {
		return t, nil
	}
	if r.nextID >= lastReservedID {
		return nil, status.New(status.Overflow, "data.RegisterType")
	}
	t := &Type{name: name, id: r.nextID, streamable: streamable}
	r.nextID++
	r.byName[name] = t
	r.byID[t.id] = t
	return t, nil
}

// LookupType finds a registered type by name.
func (r *Registry) LookupType(name string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	if !ok {
		return nil, status.New(status.NotFound, "data.LookupType")
	}
	return t, nil
}

// LookupTypeByID finds a registered type by numeric ID.
func (r *Registry) LookupTypeByID(id uint16) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, status.New(status.NotFound, "data.LookupTypeByID")
	}
	return t, nil
}

// AddConverter registers a directed conversion edge from -> to. Multiple
// converters may exist between the same pair; Convert breaks BFS ties
// by insertion order, so the first one added wins, matching a FIFO
// converter list.
func (r *Registry) AddConverter(from, to *Type, fn ConvertFunc) error {
	if from == nil || to == nil || fn == nil {
		return status.New(status.Invalid, "data.AddConverter")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges[from.id] = append(r.edges[from.id], edge{to: to, conv: fn, seq: r.edgeSeq})
	r.edgeSeq++
	return nil
}

// Opacify assigns v a process-wide monotonically increasing opaque ID
// and stores the (id -> value, type) pair in the registry's lookup
// table, matching spec §4.1 "Assigns a process-wide monotonically
// increasing integer ID, stores (id → data, type) in a lookup table,
// pinning the data". Opacify does not addref v: the caller keeps
// whatever reference it already holds, and the registry's table entry
// pins v against premature reuse of its id for the life of the
// process. Calling Opacify again on an already-opacified value returns
// its existing ID.
func (r *Registry) Opacify(v *Value) uint64 {
	if v == nil {
		return 0
	}
	if id := v.OpaqueID(); id != 0 {
		return id
	}
	r.opaqueMu.Lock()
	defer r.opaqueMu.Unlock()
	if id := v.OpaqueID(); id != 0 {
		return id
	}
	r.opaqueNext++
	id := r.opaqueNext
	if r.opaque == nil {
		r.opaque = make(map[uint64]opaqueEntry)
	}
	r.opaque[id] = opaqueEntry{val: v, typ: v.typ}
	atomic.StoreUint64(&v.opaqueID, id)
	return id
}

// GetByOpaqueID returns the borrowed (value, type) pair previously
// pinned by Opacify. The caller must addref the value itself if it
// wants to keep using it past the call that produced the lookup.
func (r *Registry) GetByOpaqueID(id uint64) (*Value, *Type, error) {
	r.opaqueMu.RLock()
	defer r.opaqueMu.RUnlock()
	e, ok := r.opaque[id]
	if !ok {
		return nil, nil, status.New(status.NotFound, "data.GetByOpaqueID")
	}
	return e.val, e.typ, nil
}

package data

import (
	"sync"
	"sync/atomic"

	"github.com/redpesk-core/go-binder/status"
)

// DisposeFunc releases whatever resource a Value's bytes point to. It is
// invoked exactly once, when the value's reference count reaches zero.
type DisposeFunc func()

// Value is a reference-counted, lockable, opacifiable typed value. It is
// the core currency of the binder: parameters, replies and event
// payloads are all Values.
type Value struct {
	reg *Registry

	typ      *Type
	bytes    []byte
	const_   bool
	volatile bool

	dispose DisposeFunc

	refcount int32 // atomic

	mu        sync.RWMutex // advisory read/write lock
	opaqueID  uint64       // 0 until Opacify is called

	cacheMu sync.Mutex
	cache   map[uint16]*Value // target type id -> converted value (owns one ref)

	depsMu sync.Mutex
	deps   []*Value // values whose lifetime this one depends on
}

// Option configures a newly created Value.
type Option func(*Value)

// WithDispose attaches a dispose callback invoked on final unref.
func WithDispose(fn DisposeFunc) Option {
	return func(v *Value) { v.dispose = fn }
}

// WithConstant marks the value as immutable: write pointer requests fail.
func WithConstant() Option {
	return func(v *Value) { v.const_ = true }
}

// WithVolatile marks the value as volatile: conversions are never cached.
func WithVolatile() Option {
	return func(v *Value) { v.volatile = true }
}

// newValue builds a Value with refcount 1.
func newValue(reg *Registry, typ *Type, b []byte, opts ...Option) *Value {
	v := &Value{
		reg:      reg,
		typ:      typ,
		bytes:    b,
		refcount: 1,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Raw creates a Value wrapping externally-owned bytes with a dispose
// callback responsible for releasing them.
func (r *Registry) Raw(typ *Type, b []byte, dispose DisposeFunc, opts ...Option) (*Value, error) {
	if typ == nil {
		return nil, status.New(status.Invalid, "data.Raw")
	}
	opts = append(opts, WithDispose(dispose))
	return newValue(r, typ, b, opts...), nil
}

// Alloc creates a Value owning a freshly allocated buffer of size n.
func (r *Registry) Alloc(typ *Type, n int) (*Value, error) {
	if typ == nil || n < 0 {
		return nil, status.New(status.Invalid, "data.Alloc")
	}
	return newValue(r, typ, make([]byte, n)), nil
}

// AllocZeroed is an alias of Alloc: Go's make already zeroes memory.
func (r *Registry) AllocZeroed(typ *Type, n int) (*Value, error) {
	return r.Alloc(typ, n)
}

// Copy creates a Value that owns a copy of b.
func (r *Registry) Copy(typ *Type, b []byte) (*Value, error) {
	if typ == nil {
		return nil, status.New(status.Invalid, "data.Copy")
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return newValue(r, typ, cp), nil
}

// Alias creates a Value of a (possibly different) type sharing the same
// backing bytes and dependency on src's lifetime.
func (r *Registry) Alias(src *Value, typ *Type) (*Value, error) {
	if src == nil || typ == nil {
		return nil, status.New(status.Invalid, "data.Alias")
	}
	v := newValue(r, typ, src.bytes)
	v.const_ = src.const_
	v.AddDependency(src)
	return v, nil
}

// Type returns the value's type.
func (v *Value) Type() *Type { return v.typ }

// Bytes returns the read-only view of the value's payload.
func (v *Value) Bytes() []byte { return v.bytes }

// Size returns the payload length.
func (v *Value) Size() int { return len(v.bytes) }

// Const reports whether the value refuses write-pointer requests.
func (v *Value) Const() bool { return v.const_ }

// SetConst marks the value constant.
func (v *Value) SetConst() { v.const_ = true }

// Volatile reports whether conversions of this value are never cached.
func (v *Value) Volatile() bool { return v.volatile }

// SetVolatile marks the value volatile and drops any existing cache.
func (v *Value) SetVolatile() {
	v.volatile = true
	v.clearCache()
}

// OpaqueID returns the value's opaque registry ID, or 0 if never
// opacified.
func (v *Value) OpaqueID() uint64 { return atomic.LoadUint64(&v.opaqueID) }

// AddRef increments the reference count and returns v for chaining.
func (v *Value) AddRef() *Value {
	atomic.AddInt32(&v.refcount, 1)
	return v
}

// Unref decrements the reference count, running the dispose callback and
// dropping dependencies exactly once when it reaches zero.
func (v *Value) Unref() {
	if atomic.AddInt32(&v.refcount, -1) > 0 {
		return
	}
	if v.dispose != nil {
		v.dispose()
	}
	v.clearCache()
	v.DropAllDependencies()
}

// RefCount returns the current reference count (for tests/diagnostics).
func (v *Value) RefCount() int32 { return atomic.LoadInt32(&v.refcount) }

// GetRO returns the read-only pointer (as a byte slice) and size.
func (v *Value) GetRO() ([]byte, int) { return v.bytes, len(v.bytes) }

// GetRW returns a writable pointer and size, or an error if the value is
// constant.
func (v *Value) GetRW() ([]byte, int, error) {
	if v.const_ {
		return nil, 0, status.New(status.Invalid, "data.GetRW: constant value")
	}
	return v.bytes, len(v.bytes), nil
}

// NotifyChanged empties the conversion cache. Results already addref'd by
// other holders remain valid — they are independent Values with their
// own refcount; only future Convert calls are affected.
func (v *Value) NotifyChanged() {
	v.clearCache()
}

func (v *Value) clearCache() {
	v.cacheMu.Lock()
	old := v.cache
	v.cache = nil
	v.cacheMu.Unlock()
	for _, cv := range old {
		cv.Unref()
	}
}

// AddDependency records that v's lifetime requires dep to outlive it.
// dep is addref'd; it is unref'd when v is destroyed or the dependency
// is explicitly dropped.
func (v *Value) AddDependency(dep *Value) {
	dep.AddRef()
	v.depsMu.Lock()
	v.deps = append(v.deps, dep)
	v.depsMu.Unlock()
}

// SubDependency drops one dependency on dep, unref'ing it, if present.
func (v *Value) SubDependency(dep *Value) {
	v.depsMu.Lock()
	for i, d := range v.deps {
		if d == dep {
			v.deps = append(v.deps[:i], v.deps[i+1:]...)
			v.depsMu.Unlock()
			dep.Unref()
			return
		}
	}
	v.depsMu.Unlock()
}

// DropAllDependencies unref's and clears every recorded dependency.
func (v *Value) DropAllDependencies() {
	v.depsMu.Lock()
	deps := v.deps
	v.deps = nil
	v.depsMu.Unlock()
	for _, d := range deps {
		d.Unref()
	}
}

// ─── Locking (advisory) ───

func (v *Value) LockRead()    { v.mu.RLock() }
func (v *Value) UnlockRead()  { v.mu.RUnlock() }
func (v *Value) LockWrite()   { v.mu.Lock() }
func (v *Value) UnlockWrite() { v.mu.Unlock() }

// TryLockRead attempts a non-blocking read lock.
func (v *Value) TryLockRead() error {
	if v.mu.TryRLock() {
		return nil
	}
	return status.New(status.Busy, "data.TryLockRead")
}

// TryLockWrite attempts a non-blocking write lock.
func (v *Value) TryLockWrite() error {
	if v.mu.TryLock() {
		return nil
	}
	return status.New(status.Busy, "data.TryLockWrite")
}

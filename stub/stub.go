// Package stub implements the bidirectional RPC peer state machine: a
// per-peer Stub tracks outstanding outgoing calls, session/token/type/event
// proxy tables, and the resource "sent-flags" bitmaps that decide when a
// resource_create must be emitted before it can be referenced. A Stub can
// serve both roles at once — client for calls it originates, server for
// calls the peer sends it — a single peer connection doing both.
//
// Grounded on afb-stub-rpc.c's stub_t for the state shape, and on
// internal/cluster/cluster.go's pattern of one struct guarding several
// maps behind a mutex with an explicit disconnect fan-out, generalized
// from cluster-peer bookkeeping to RPC-peer bookkeeping.
package stub

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redpesk-core/go-binder/data"
	"github.com/redpesk-core/go-binder/event"
	"github.com/redpesk-core/go-binder/identity"
	"github.com/redpesk-core/go-binder/request"
	"github.com/redpesk-core/go-binder/rpcproto"
	"github.com/redpesk-core/go-binder/status"
	"github.com/redpesk-core/go-binder/wire"
)

// maxOutstandingCalls bounds live outgoing call IDs, "≤
// 4095 outstanding".
const maxOutstandingCalls = 4095

// firstUserTypeID is where a stub's per-connection dynamic type-id
// allocator starts; it never collides with rpcproto's fixed
// TypeOpaque..TypeDouble range (0xfff1-0xffff).
const firstUserTypeID = 1

// firstUserDataID is where a stub's per-connection opacified-data-id
// allocator starts; 0 stays reserved to mean "not a data reference" in
// rpcproto.Value.DataID.
const firstUserDataID = 1

// Describer is the subset of apiset.Set the describe verb needs. It is
// declared locally so this package does not import apiset, matching
// request.APISet's own avoid-the-import-cycle shape.
type Describer interface {
	Describe(name string) (json.RawMessage, error)
}

// Config wires a Stub to the rest of the binder core.
type Config struct {
	// Registry is the typed data plane values are built through.
	Registry *data.Registry
	// Fabric is the event fabric events are created/looked-up against.
	Fabric *event.Fabric
	// Sessions and Tokens resolve local session/token objects this
	// peer's calls reference.
	Sessions *identity.SessionStore
	Tokens   *identity.TokenStore
	// APISet resolves api names for calls this stub receives (server
	// role). May be nil for a stub that only ever originates calls.
	APISet request.APISet
	// Describer optionally backs the describe verb. May be nil.
	Describer Describer
	// PermittedAPIs lists the api names this peer is allowed to call
	// into. A nil/empty list permits every api registered in APISet.
	PermittedAPIs []string
	// CredentialKey decrypts/verifies an on-behalf credential string
	// carried by an incoming call, if any.
	CredentialKey []byte
	// Permission resolves the "on_behalf_credential" check (and any
	// other permission leaf an authtree evaluation hits) against an
	// incoming request. A nil Permission denies every on-behalf import,
	// matching afb_permission_on_behalf_cred's deny-by-default stance
	// when no permission backend is configured.
	Permission request.PermissionFunc
	// Send transmits one fully-framed, 8-byte-aligned message to the
	// peer. Errors are treated as a transport failure triggering
	// Disconnect.
	Send func(buf []byte) error
}

type pendingCall struct {
	describe bool
	reply    func(stat status.Reply, values []*data.Value)
	desc     func(desc []byte, err error)
}

// typeProxy is what a Stub remembers about one user type announced to
// or by the peer: the wire id assigned for this connection, and the
// local data.Type it resolves to.
type typeProxy struct {
	wireID uint16
	typ    *data.Type
}

// Stub is one peer's RPC connection state.
type Stub struct {
	cfg Config

	refcount int32

	mu      sync.Mutex
	version rpcproto.Version
	closed  bool

	coder   wire.Coder
	lastSeq uint16

	nextCallID uint16
	outCalls   map[uint16]*pendingCall
	// outCallOrder preserves registration order so Disconnect can
	// synthesize "disconnected" replies in the order calls were made.
	outCallOrder []uint16

	sentSessions map[uint16]bool
	sentTokens   map[uint16]bool

	// outTypes maps a local *data.Type to the wire id this stub has
	// announced for it to the peer (outgoing direction).
	outTypes map[*data.Type]uint16
	nextType uint16
	// inTypes maps a wire id the peer announced to us to the local
	// type it names (incoming direction).
	inTypes map[uint16]typeProxy

	// outData maps a local *data.Value, once opacified (spec §4.1
	// Opacification), to the wire id this stub announced it under via
	// resource_create(kind=DATA); a later reference to the same value
	// collapses to a bare VALUE_DATA id instead of resending its bytes.
	outData map[*data.Value]uint16
	nextData uint16
	// outDataPins holds one addref'd reference per announced outgoing
	// data value, backing Registry.Opacify's pin with an actual owned
	// reference for the life of the connection.
	outDataPins map[uint16]*data.Value

	// inData resolves a wire data id the peer announced (via an
	// incoming resource_create kind=DATA) to the local data.Value it
	// decoded to, ref-held for the life of the proxy entry.
	inData map[uint16]*data.Value

	// outEvents tracks which local event IDs this stub has already
	// announced (resource_create kind=EVENT) to the peer, and the
	// listener forwarding pushes/broadcasts for them.
	outEvents map[uint16]bool
	listener  *event.Listener

	// inEvents maps a remote event id this stub learned about (via an
	// incoming resource_create kind=EVENT) to its name, for the
	// client-role side of event routing.
	inEvents map[uint16]string

	// callEventSinks routes an incoming event_push tied
	// to an outstanding call's subscriptions back to that call's
	// CallOptions.OnEvent, lazily populated by Call.
	callEventSinks map[uint16]func(eventName string, values []*data.Value)
	// eventCallSinks maps a remote event id (client role) to the call id
	// whose subscription produced it, populated on an incoming
	// event_subscribe and consulted on event_push.
	eventCallSinks map[uint16]uint16

	// inSessions and inTokens resolve a wire resource id the peer
	// announced (via resource_create kind=SESSION/TOKEN) to the local
	// session/token it names, ref-held for as long as the proxy entry
	// lives.
	inSessions map[uint16]*identity.Session
	inTokens   map[uint16]*identity.Token

	versionWaiters []chan rpcproto.Version
}

// New creates a Stub in its initial (unset-version, refcount 1) state.
func New(cfg Config) *Stub {
	s := &Stub{
		cfg:          cfg,
		refcount:     1,
		nextCallID:   1,
		nextType:     firstUserTypeID,
		outCalls:     make(map[uint16]*pendingCall),
		sentSessions: make(map[uint16]bool),
		sentTokens:   make(map[uint16]bool),
		outTypes:     make(map[*data.Type]uint16),
		inTypes:      make(map[uint16]typeProxy),
		outEvents:    make(map[uint16]bool),
		inEvents:     make(map[uint16]string),
		inSessions:   make(map[uint16]*identity.Session),
		inTokens:     make(map[uint16]*identity.Token),
		nextData:     firstUserDataID,
		outData:      make(map[*data.Value]uint16),
		outDataPins:  make(map[uint16]*data.Value),
		inData:       make(map[uint16]*data.Value),
	}
	// dispatcher nil: falls back to event.defaultDispatcher, a
	// self-contained group queue, since a stub's listener only needs
	// to serialize this one peer's own pushes/broadcasts.
	s.listener = event.NewListener(event.Interface{
		Push:      s.onLocalPush,
		Broadcast: s.onLocalBroadcast,
	}, s, nil)
	// A plain event.NewListener is not in any Fabric's listenAll, so it
	// would never see a Broadcast; registering it is what makes this
	// stub a broadcast recipient like any other fabric listener.
	if cfg.Fabric != nil {
		cfg.Fabric.RegisterListener(s.listener)
	}
	return s
}

// AddRef increments the stub's reference count.
func (s *Stub) AddRef() *Stub {
	s.mu.Lock()
	s.refcount++
	s.mu.Unlock()
	return s
}

// Unref decrements the reference count, disconnecting at zero.
func (s *Stub) Unref() {
	s.mu.Lock()
	s.refcount--
	zero := s.refcount <= 0
	s.mu.Unlock()
	if zero {
		s.Disconnect()
	}
}

// Version reports the negotiated protocol version, or 0 if unset.
func (s *Stub) Version() rpcproto.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// send flushes the stub's working coder to the transport and resets it
// for the next message. Caller holds s.mu.
func (s *Stub) sendLocked() error {
	buf := make([]byte, s.coder.Size())
	s.coder.OutputGetBuffer(buf)
	s.coder.Reset()
	if s.cfg.Send == nil {
		return status.New(status.NotSupported, "stub: no Send configured")
	}
	return s.cfg.Send(buf)
}

func (s *Stub) nextSeqLocked() uint16 {
	s.lastSeq++
	if s.lastSeq == 0 {
		s.lastSeq = 1
	}
	return s.lastSeq
}

// writePacketLocked encodes a V3 operation with the given body writer
// and flushes it. Caller holds s.mu.
func (s *Stub) writePacketLocked(op rpcproto.Operation, writeBody func(*wire.Coder) error) error {
	lenPos, err := rpcproto.EncodePacketHeader(&s.coder, op, s.nextSeqLocked())
	if err != nil {
		return err
	}
	if err := writeBody(&s.coder); err != nil {
		return err
	}
	if err := rpcproto.FinishPacket(&s.coder, lenPos); err != nil {
		return err
	}
	return s.sendLocked()
}

// ─── Resource sent-flags ───

// ensureSessionSentLocked emits a resource_create(kind=SESSION) the
// first time sess is referenced toward this peer.
func (s *Stub) ensureSessionSentLocked(sess *identity.Session) error {
	if sess == nil || s.sentSessions[sess.LocalID()] {
		return nil
	}
	if err := s.writePacketLocked(rpcproto.OpResourceCreate, func(c *wire.Coder) error {
		return rpcproto.EncodeResourceCreateBody(c, rpcproto.ResourceCreate{
			Kind: rpcproto.KindSession,
			ID:   sess.LocalID(),
			Data: []byte(sess.UUID()),
		})
	}); err != nil {
		return err
	}
	s.sentSessions[sess.LocalID()] = true
	return nil
}

// ensureTokenSentLocked emits a resource_create(kind=TOKEN) the first
// time tok is referenced toward this peer.
func (s *Stub) ensureTokenSentLocked(tok *identity.Token) error {
	if tok == nil || s.sentTokens[tok.LocalID()] {
		return nil
	}
	if err := s.writePacketLocked(rpcproto.OpResourceCreate, func(c *wire.Coder) error {
		return rpcproto.EncodeResourceCreateBody(c, rpcproto.ResourceCreate{
			Kind: rpcproto.KindToken,
			ID:   tok.LocalID(),
			Data: []byte(tok.Text()),
		})
	}); err != nil {
		return err
	}
	s.sentTokens[tok.LocalID()] = true
	return nil
}

// wireTypeFor returns the rpcproto.TypeID/resource id to use for typ
// when framing a Value, announcing a fresh resource_create(kind=TYPE)
// the first time a non-predefined type crosses this connection.
// Caller holds s.mu.
func (s *Stub) wireTypeForLocked(typ *data.Type) (rpcproto.TypeID, error) {
	if id, ok := predefinedWireType[typ.Name()]; ok {
		return id, nil
	}
	if id, ok := s.outTypes[typ]; ok {
		return rpcproto.TypeID(id), nil
	}
	id := s.nextType
	s.nextType++
	if err := s.writePacketLocked(rpcproto.OpResourceCreate, func(c *wire.Coder) error {
		return rpcproto.EncodeResourceCreateBody(c, rpcproto.ResourceCreate{
			Kind: rpcproto.KindType,
			ID:   id,
			Data: []byte(typ.Name()),
		})
	}); err != nil {
		return 0, err
	}
	s.outTypes[typ] = id
	return rpcproto.TypeID(id), nil
}

// valueToWireLocked converts a local data.Value into the wire Value
// form, announcing its type if necessary. Caller holds s.mu.
//
// A value that has already been opacified (spec §4.1: the app called
// Registry.Opacify on it directly, or this stub already announced it
// once below) is sent as a VALUE_DATA reference instead of repeating
// its bytes: the first time such a value crosses this connection, a
// resource_create(kind=DATA) carries its type and payload once, and
// every following reference — this call's own repeat arguments, or a
// later call/push reusing the same *data.Value — collapses to its
// wire id.
func (s *Stub) valueToWireLocked(v *data.Value) (rpcproto.Value, error) {
	if v == nil {
		return rpcproto.Value{}, nil
	}
	if id, ok := s.outData[v]; ok {
		return rpcproto.Value{DataID: id}, nil
	}

	typeID, err := s.wireTypeForLocked(v.Type())
	if err != nil {
		return rpcproto.Value{}, err
	}
	b, _ := v.GetRO()

	if opaqueID := v.OpaqueID(); opaqueID != 0 {
		wireID := s.nextData
		s.nextData++
		body := make([]byte, 2+len(b))
		binary.LittleEndian.PutUint16(body, uint16(typeID))
		copy(body[2:], b)
		if err := s.writePacketLocked(rpcproto.OpResourceCreate, func(c *wire.Coder) error {
			return rpcproto.EncodeResourceCreateBody(c, rpcproto.ResourceCreate{
				Kind: rpcproto.KindData,
				ID:   wireID,
				Data: body,
			})
		}); err != nil {
			return rpcproto.Value{}, err
		}
		s.outData[v] = wireID
		s.outDataPins[wireID] = v.AddRef()
		return rpcproto.Value{DataID: wireID}, nil
	}

	return rpcproto.Value{TypeID: typeID, Data: b}, nil
}

// valueFromWire converts a wire Value back into a local data.Value,
// resolving a peer-assigned dynamic type id through inTypes, a
// previously announced data id through inData, or a predefined id
// through the registry.
func (s *Stub) valueFromWire(val rpcproto.Value) (*data.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if val.DataID != 0 {
		v, ok := s.inData[val.DataID]
		if !ok {
			return nil, status.New(status.NotFound, fmt.Sprintf("stub: unknown wire data id %d", val.DataID))
		}
		return v.AddRef(), nil
	}
	typ, err := s.resolveWireTypeLocked(val.TypeID)
	if err != nil {
		return nil, err
	}
	return s.cfg.Registry.Copy(typ, val.Data)
}

// resolveWireTypeLocked resolves a wire typeid to a local data.Type,
// through the predefined table first and this peer's announced
// dynamic types second. Caller holds s.mu.
func (s *Stub) resolveWireTypeLocked(id rpcproto.TypeID) (*data.Type, error) {
	if name, ok := predefinedWireTypeName[id]; ok {
		return s.cfg.Registry.LookupType(name)
	}
	proxy, ok := s.inTypes[uint16(id)]
	if !ok {
		return nil, status.New(status.NotFound, fmt.Sprintf("stub: unknown wire type id %d", id))
	}
	return proxy.typ, nil
}

// RegisterIncomingType installs a type the peer announced via
// resource_create(kind=TYPE), registering (or reusing) the matching
// local data.Type.
func (s *Stub) RegisterIncomingType(wireID uint16, name string) error {
	typ, err := s.cfg.Registry.RegisterType(name, true)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.inTypes[wireID] = typeProxy{wireID: wireID, typ: typ}
	s.mu.Unlock()
	return nil
}

// predefinedWireType maps a data.Registry predefined type name to its
// fixed V3 wire typeid. json_c and uuid have no V3 standard typeid
// (the protocol carries them as opaque/bytearray + type-resource
// announcements like any user type), so they are intentionally absent
// here.
var predefinedWireType = map[string]rpcproto.TypeID{
	"opaque":    rpcproto.TypeOpaque,
	"bytearray": rpcproto.TypeByteArray,
	"stringz":   rpcproto.TypeStringZ,
	"json":      rpcproto.TypeJSON,
	"bool":      rpcproto.TypeBool,
	"i8":        rpcproto.TypeI8,
	"u8":        rpcproto.TypeU8,
	"i16":       rpcproto.TypeI16,
	"u16":       rpcproto.TypeU16,
	"i32":       rpcproto.TypeI32,
	"u32":       rpcproto.TypeU32,
	"i64":       rpcproto.TypeI64,
	"u64":       rpcproto.TypeU64,
	"float":     rpcproto.TypeFloat,
	"double":    rpcproto.TypeDouble,
}

var predefinedWireTypeName = func() map[rpcproto.TypeID]string {
	m := make(map[rpcproto.TypeID]string, len(predefinedWireType))
	for name, id := range predefinedWireType {
		m[id] = name
	}
	return m
}()

// Disconnect tears down the stub: every outstanding outgoing call gets
// a synthesized "disconnected" reply in registration order, every
// proxy table is cleared, and the negotiated version resets to unset,
// matching "Disconnection".
func (s *Stub) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	order := s.outCallOrder
	calls := s.outCalls
	s.outCallOrder = nil
	s.outCalls = make(map[uint16]*pendingCall)
	s.version = 0
	s.sentSessions = make(map[uint16]bool)
	s.sentTokens = make(map[uint16]bool)
	s.outTypes = make(map[*data.Type]uint16)
	s.inTypes = make(map[uint16]typeProxy)
	s.outEvents = make(map[uint16]bool)
	s.inEvents = make(map[uint16]string)
	s.callEventSinks = nil
	s.eventCallSinks = nil
	sessions := s.inSessions
	tokens := s.inTokens
	s.inSessions = make(map[uint16]*identity.Session)
	s.inTokens = make(map[uint16]*identity.Token)
	outPins := s.outDataPins
	inData := s.inData
	s.outData = make(map[*data.Value]uint16)
	s.outDataPins = make(map[uint16]*data.Value)
	s.inData = make(map[uint16]*data.Value)
	waiters := s.versionWaiters
	s.versionWaiters = nil
	s.mu.Unlock()

	for _, v := range outPins {
		v.Unref()
	}
	for _, v := range inData {
		v.Unref()
	}

	if s.cfg.Fabric != nil {
		s.cfg.Fabric.UnregisterListener(s.listener)
	}
	for _, sess := range sessions {
		sess.Unref()
	}
	for _, tok := range tokens {
		tok.Unref()
	}
	for _, w := range waiters {
		close(w)
	}
	for _, id := range order {
		pc, ok := calls[id]
		if !ok {
			continue
		}
		if pc.describe {
			if pc.desc != nil {
				pc.desc(nil, status.New(status.Cancelled, "stub: disconnected"))
			}
			continue
		}
		if pc.reply != nil {
			pc.reply(status.ReplyDisconnected, nil)
		}
	}
}

// setVersionLocked records the negotiated version and wakes anyone
// blocked in WaitVersion. Caller holds s.mu.
func (s *Stub) setVersionLocked(v rpcproto.Version) {
	s.version = v
	waiters := s.versionWaiters
	s.versionWaiters = nil
	for _, w := range waiters {
		w <- v
		close(w)
	}
}

// WaitVersion blocks until negotiation completes (or ctx is done),
// returning the negotiated version.
func (s *Stub) WaitVersion(ctx context.Context) (rpcproto.Version, error) {
	s.mu.Lock()
	if s.version != 0 {
		v := s.version
		s.mu.Unlock()
		return v, nil
	}
	if s.closed {
		s.mu.Unlock()
		return 0, status.New(status.Cancelled, "stub: disconnected")
	}
	ch := make(chan rpcproto.Version, 1)
	s.versionWaiters = append(s.versionWaiters, ch)
	s.mu.Unlock()

	select {
	case v, ok := <-ch:
		if !ok {
			return 0, status.New(status.Cancelled, "stub: disconnected")
		}
		return v, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Closed reports whether Disconnect has run.
func (s *Stub) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

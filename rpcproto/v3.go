package rpcproto

import (
	"github.com/redpesk-core/go-binder/status"
	"github.com/redpesk-core/go-binder/wire"
)

// Operation identifies a V3 packet's operator, wire-exact from
// afb-rpc-v3.h's high ID space (0xFFF7..0xFFFF).
type Operation uint16

const (
	OpCallRequest       Operation = 0xffff
	OpCallReply         Operation = 0xfffe
	OpEventPush         Operation = 0xfffd
	OpEventSubscribe    Operation = 0xfffc
	OpEventUnsubscribe  Operation = 0xfffb
	OpEventUnexpected   Operation = 0xfffa
	OpEventBroadcast    Operation = 0xfff9
	OpResourceCreate    Operation = 0xfff8
	OpResourceDestroy   Operation = 0xfff7
)

// ResourceKind tags what a resource ID or RES_PLAIN param refers to.
type ResourceKind uint16

const (
	KindSession  ResourceKind = 0xffff
	KindToken    ResourceKind = 0xfffe
	KindEvent    ResourceKind = 0xfffd
	KindAPI      ResourceKind = 0xfffc
	KindVerb     ResourceKind = 0xfffb
	KindType     ResourceKind = 0xfffa
	KindData     ResourceKind = 0xfff9
	KindKind     ResourceKind = 0xfff8
	KindCreds    ResourceKind = 0xfff7
	KindOperator ResourceKind = 0xfff6
)

// ParamType tags a V3 parameter's TLV shape.
type ParamType uint16

const (
	ParamPadding    ParamType = 0x0000
	ParamResID      ParamType = 0xffff
	ParamResPlain   ParamType = 0xfffe
	ParamValue      ParamType = 0xfffd
	ParamValueTyped ParamType = 0xfffc
	ParamValueData  ParamType = 0xfffb
	ParamTimeout    ParamType = 0xfffa
)

// TypeID is a standard V3 value typeid. This repo's wire typeids occupy
// the same numeric range as the C protocol's AFB_RPC_V3_ID_TYPE_* ids;
// they are kept as a distinct registry from data.Registry's internal
// type IDs (0xfff1-0xfffe and 0xffe1-0xffe3) rather than reused
// directly, since the two serve different purposes (data.Registry ids
// are process-local, and user-type ids change across
// registrations/restarts; these are the fixed wire
// contract every peer must agree on bit-for-bit).
type TypeID uint16

const (
	TypeOpaque    TypeID = 0xffff
	TypeByteArray TypeID = 0xfffe
	TypeStringZ   TypeID = 0xfffd
	TypeJSON      TypeID = 0xfffc
	TypeBool      TypeID = 0xfffb
	TypeI8        TypeID = 0xfffa
	TypeU8        TypeID = 0xfff9
	TypeI16       TypeID = 0xfff8
	TypeU16       TypeID = 0xfff7
	TypeI32       TypeID = 0xfff6
	TypeU32       TypeID = 0xfff5
	TypeI64       TypeID = 0xfff4
	TypeU64       TypeID = 0xfff3
	TypeFloat     TypeID = 0xfff2
	TypeDouble    TypeID = 0xfff1
)

// Value is a single V3 call/reply parameter: exactly one of Data
// (untyped or typed bytes) or DataID (reference to an opacified data)
// is meaningful, matching afb_rpc_v3_value_t's documented union.
type Value struct {
	// TypeID is set for a typed value (ParamValueTyped); 0 otherwise.
	TypeID TypeID
	// DataID references a previously-sent opacified data value
	// (ParamValueData); 0 when Data carries the bytes directly.
	DataID uint16
	Data   []byte
}

func encodeParamHeader(c *wire.Coder, typ ParamType, length uint16) error {
	if err := c.WriteUint16LE(uint16(typ)); err != nil {
		return err
	}
	return c.WriteUint16LE(length)
}

// EncodeValue writes one parameter TLV for v, matching
// afb-rpc-v3.c's param_value_write.
func EncodeValue(c *wire.Coder, v Value) error {
	switch {
	case v.DataID != 0:
		if err := encodeParamHeader(c, ParamValueData, 4+2); err != nil {
			return err
		}
		return c.WriteUint16LE(v.DataID)
	case v.TypeID != 0:
		if err := encodeParamHeader(c, ParamValueTyped, 4+2+uint16(len(v.Data))); err != nil {
			return err
		}
		if err := c.WriteUint16LE(uint16(v.TypeID)); err != nil {
			return err
		}
		return c.WriteCopy(v.Data)
	default:
		if err := encodeParamHeader(c, ParamValue, 4+uint16(len(v.Data))); err != nil {
			return err
		}
		return c.WriteCopy(v.Data)
	}
}

// DecodeValue reads one parameter TLV, returning its type and
// contents; skips any ParamPadding entries it encounters first.
func DecodeValue(d *wire.Decoder) (Value, error) {
	for {
		typ, err := d.ReadUint16LE()
		if err != nil {
			return Value{}, err
		}
		length, err := d.ReadUint16LE()
		if err != nil {
			return Value{}, err
		}
		if ParamType(typ) == ParamPadding {
			if err := d.Skip(uint32(length) - 4); err != nil {
				return Value{}, err
			}
			continue
		}
		switch ParamType(typ) {
		case ParamValueData:
			id, err := d.ReadUint16LE()
			return Value{DataID: id}, err
		case ParamValueTyped:
			typeid, err := d.ReadUint16LE()
			if err != nil {
				return Value{}, err
			}
			data, err := d.ReadPointer(uint32(length) - 6)
			return Value{TypeID: TypeID(typeid), Data: data}, err
		case ParamValue:
			data, err := d.ReadPointer(uint32(length) - 4)
			return Value{Data: data}, err
		default:
			return Value{}, status.New(status.Protocol, "rpcproto.DecodeValue: unexpected param type")
		}
	}
}

// Resource is a resource reference/definition parameter: exactly one
// of ID (RES_ID) or Plain (RES_PLAIN) carries the resource.
type Resource struct {
	Kind  ResourceKind
	ID    uint16
	Plain []byte
}

// EncodeResource writes a resource parameter, matching
// opt_param_resource_write.
func EncodeResource(c *wire.Coder, r Resource) error {
	if r.Plain != nil {
		if err := encodeParamHeader(c, ParamResPlain, 4+2+uint16(len(r.Plain))); err != nil {
			return err
		}
		if err := c.WriteUint16LE(uint16(r.Kind)); err != nil {
			return err
		}
		return c.WriteCopy(r.Plain)
	}
	if err := encodeParamHeader(c, ParamResID, 4+4); err != nil {
		return err
	}
	if err := c.WriteUint16LE(uint16(r.Kind)); err != nil {
		return err
	}
	return c.WriteUint16LE(r.ID)
}

// DecodeResource reads a resource parameter.
func DecodeResource(d *wire.Decoder) (Resource, error) {
	typ, err := d.ReadUint16LE()
	if err != nil {
		return Resource{}, err
	}
	length, err := d.ReadUint16LE()
	if err != nil {
		return Resource{}, err
	}
	kind, err := d.ReadUint16LE()
	if err != nil {
		return Resource{}, err
	}
	switch ParamType(typ) {
	case ParamResID:
		id, err := d.ReadUint16LE()
		return Resource{Kind: ResourceKind(kind), ID: id}, err
	case ParamResPlain:
		plain, err := d.ReadPointer(uint32(length) - 6)
		return Resource{Kind: ResourceKind(kind), Plain: plain}, err
	default:
		return Resource{}, status.New(status.Protocol, "rpcproto.DecodeResource: unexpected param type")
	}
}

// Packet is one length-delimited, 8-byte-aligned V3 frame.
type Packet struct {
	Operation Operation
	Seqno     uint16
	Payload   []byte
}

// EncodePacketHeader writes the operation/seqno/length-placeholder
// prologue and returns the coder position of the length field, to be
// finished by FinishPacket once the body has been written.
func EncodePacketHeader(c *wire.Coder, op Operation, seqno uint16) (lengthPos uint32, err error) {
	if err = c.WriteAlignAt(8, 0); err != nil {
		return 0, err
	}
	if err = c.WriteUint16LE(uint16(op)); err != nil {
		return 0, err
	}
	if err = c.WriteUint16LE(seqno); err != nil {
		return 0, err
	}
	lengthPos = c.GetPosition()
	return lengthPos, c.WriteUint32LE(0)
}

// FinishPacket back-patches the length field recorded by
// EncodePacketHeader and pads the trailing body to an 8-byte boundary,
// matching code_packet_end.
func FinishPacket(c *wire.Coder, lengthPos uint32) error {
	end := c.GetPosition()
	if err := c.SetPosition(lengthPos); err != nil {
		return err
	}
	if err := c.WriteUint32LE(end - lengthPos + 4); err != nil {
		return err
	}
	if err := c.SetPosition(end); err != nil {
		return err
	}
	return c.WriteAlignAt(8, 0)
}

// DecodePacket reads one packet header and its payload from d.
func DecodePacket(d *wire.Decoder) (Packet, error) {
	if err := d.ReadAlign(8); err != nil {
		return Packet{}, err
	}
	op, err := d.ReadUint16LE()
	if err != nil {
		return Packet{}, err
	}
	seqno, err := d.ReadUint16LE()
	if err != nil {
		return Packet{}, err
	}
	length, err := d.ReadUint32LE()
	if err != nil {
		return Packet{}, err
	}
	if length < 8 {
		return Packet{}, status.New(status.Protocol, "rpcproto.DecodePacket: length too small")
	}
	payload, err := d.ReadPointer(length - 8)
	if err != nil {
		return Packet{}, err
	}
	if err := d.ReadAlign(8); err != nil {
		return Packet{}, err
	}
	return Packet{Operation: Operation(op), Seqno: seqno, Payload: payload}, nil
}

// CallRequest is the V3 call_request body.
type CallRequest struct {
	CallID  uint16
	Verb    Value
	Session Resource
	Token   Resource
	Creds   Value
	Timeout uint32
	Values  []Value
}

// EncodeCallRequestBody writes the call_request fields followed by
// its value array, matching afb_rpc_v3_code_call_request_body.
func EncodeCallRequestBody(c *wire.Coder, m CallRequest) error {
	if err := c.WriteUint16LE(m.CallID); err != nil {
		return err
	}
	if err := EncodeValue(c, m.Verb); err != nil {
		return err
	}
	if err := EncodeResource(c, m.Session); err != nil {
		return err
	}
	if err := EncodeResource(c, m.Token); err != nil {
		return err
	}
	if err := EncodeValue(c, m.Creds); err != nil {
		return err
	}
	if m.Timeout != 0 {
		if err := encodeParamHeader(c, ParamTimeout, 4+4); err != nil {
			return err
		}
		if err := c.WriteUint32LE(m.Timeout); err != nil {
			return err
		}
	}
	for _, v := range m.Values {
		if err := EncodeValue(c, v); err != nil {
			return err
		}
	}
	return nil
}

// peekParamType reads the 2-byte param type tag at the cursor without
// consuming it, so a body decoder can branch on ParamTimeout vs. a
// plain value TLV before calling DecodeValue.
func peekParamType(d *wire.Decoder) (ParamType, error) {
	b, err := d.PeekPointer(2)
	if err != nil {
		return 0, err
	}
	return ParamType(uint16(b[0]) | uint16(b[1])<<8), nil
}

// DecodeCallRequestBody reads a call_request body, matching
// EncodeCallRequestBody field for field. Trailing Values run to the
// end of the buffer, with a leading ParamTimeout entry recognized and
// split into m.Timeout.
func DecodeCallRequestBody(d *wire.Decoder) (CallRequest, error) {
	var m CallRequest
	var err error
	if m.CallID, err = d.ReadUint16LE(); err != nil {
		return m, err
	}
	if m.Verb, err = DecodeValue(d); err != nil {
		return m, err
	}
	if m.Session, err = DecodeResource(d); err != nil {
		return m, err
	}
	if m.Token, err = DecodeResource(d); err != nil {
		return m, err
	}
	if m.Creds, err = DecodeValue(d); err != nil {
		return m, err
	}
	for d.RemainingSize() > 0 {
		pt, err := peekParamType(d)
		if err != nil {
			return m, err
		}
		if pt == ParamTimeout {
			if _, err := d.ReadUint16LE(); err != nil {
				return m, err
			}
			if _, err := d.ReadUint16LE(); err != nil {
				return m, err
			}
			if m.Timeout, err = d.ReadUint32LE(); err != nil {
				return m, err
			}
			continue
		}
		v, err := DecodeValue(d)
		if err != nil {
			return m, err
		}
		m.Values = append(m.Values, v)
	}
	return m, nil
}

// CallReply is the V3 call_reply body.
type CallReply struct {
	CallID uint16
	Status int32
	Values []Value
}

func EncodeCallReplyBody(c *wire.Coder, m CallReply) error {
	if err := c.WriteUint16LE(m.CallID); err != nil {
		return err
	}
	if err := c.WriteUint32LE(uint32(m.Status)); err != nil {
		return err
	}
	for _, v := range m.Values {
		if err := EncodeValue(c, v); err != nil {
			return err
		}
	}
	return nil
}

// DecodeCallReplyBody reads a call_reply body; remaining Values run to
// the end of the buffer.
func DecodeCallReplyBody(d *wire.Decoder) (CallReply, error) {
	var m CallReply
	var err error
	if m.CallID, err = d.ReadUint16LE(); err != nil {
		return m, err
	}
	var st uint32
	if st, err = d.ReadUint32LE(); err != nil {
		return m, err
	}
	m.Status = int32(st)
	for d.RemainingSize() > 0 {
		v, err := DecodeValue(d)
		if err != nil {
			return m, err
		}
		m.Values = append(m.Values, v)
	}
	return m, nil
}

// EventPush3 is the V3 event_push body.
type EventPush3 struct {
	EventID uint16
	Values  []Value
}

func EncodeEventPush3Body(c *wire.Coder, m EventPush3) error {
	if err := c.WriteUint16LE(m.EventID); err != nil {
		return err
	}
	for _, v := range m.Values {
		if err := EncodeValue(c, v); err != nil {
			return err
		}
	}
	return nil
}

// DecodeEventPush3Body reads an event_push body; remaining Values run
// to the end of the buffer.
func DecodeEventPush3Body(d *wire.Decoder) (EventPush3, error) {
	var m EventPush3
	var err error
	if m.EventID, err = d.ReadUint16LE(); err != nil {
		return m, err
	}
	for d.RemainingSize() > 0 {
		v, err := DecodeValue(d)
		if err != nil {
			return m, err
		}
		m.Values = append(m.Values, v)
	}
	return m, nil
}

// EventSubscription is the V3 event_subscribe/unsubscribe body.
type EventSubscription struct {
	CallID  uint16
	EventID uint16
}

func EncodeEventSubscriptionBody(c *wire.Coder, m EventSubscription) error {
	if err := c.WriteUint16LE(m.CallID); err != nil {
		return err
	}
	return c.WriteUint16LE(m.EventID)
}

func DecodeEventSubscriptionBody(d *wire.Decoder) (EventSubscription, error) {
	var m EventSubscription
	var err error
	if m.CallID, err = d.ReadUint16LE(); err != nil {
		return m, err
	}
	m.EventID, err = d.ReadUint16LE()
	return m, err
}

// EventBroadcast3 is the V3 event_broadcast body.
type EventBroadcast3 struct {
	UUID  [16]byte
	Hop   uint8
	Event string
	Values []Value
}

func EncodeEventBroadcast3Body(c *wire.Coder, m EventBroadcast3) error {
	if err := c.WriteCopy(m.UUID[:]); err != nil {
		return err
	}
	if err := c.WriteUint8(m.Hop); err != nil {
		return err
	}
	if err := c.WriteUint16LE(uint16(len(m.Event))); err != nil {
		return err
	}
	if err := c.WriteCopy([]byte(m.Event)); err != nil {
		return err
	}
	for _, v := range m.Values {
		if err := EncodeValue(c, v); err != nil {
			return err
		}
	}
	return nil
}

func DecodeEventBroadcast3Body(d *wire.Decoder) (EventBroadcast3, error) {
	var m EventBroadcast3
	uuid, err := d.ReadPointer(16)
	if err != nil {
		return m, err
	}
	copy(m.UUID[:], uuid)
	if m.Hop, err = d.ReadUint8(); err != nil {
		return m, err
	}
	n, err := d.ReadUint16LE()
	if err != nil {
		return m, err
	}
	b, err := d.ReadPointer(uint32(n))
	if err != nil {
		return m, err
	}
	m.Event = string(b)
	for d.RemainingSize() > 0 {
		v, err := DecodeValue(d)
		if err != nil {
			return m, err
		}
		m.Values = append(m.Values, v)
	}
	return m, nil
}

// ResourceCreate is the V3 resource_create body.
type ResourceCreate struct {
	Kind ResourceKind
	ID   uint16
	Data []byte
}

func EncodeResourceCreateBody(c *wire.Coder, m ResourceCreate) error {
	if err := c.WriteUint16LE(uint16(m.Kind)); err != nil {
		return err
	}
	if err := c.WriteUint16LE(m.ID); err != nil {
		return err
	}
	if err := c.WriteUint32LE(uint32(len(m.Data))); err != nil {
		return err
	}
	return c.WriteCopy(m.Data)
}

func DecodeResourceCreateBody(d *wire.Decoder) (ResourceCreate, error) {
	var m ResourceCreate
	kind, err := d.ReadUint16LE()
	if err != nil {
		return m, err
	}
	m.Kind = ResourceKind(kind)
	if m.ID, err = d.ReadUint16LE(); err != nil {
		return m, err
	}
	n, err := d.ReadUint32LE()
	if err != nil {
		return m, err
	}
	m.Data, err = d.ReadPointer(n)
	return m, err
}

// ResourceDestroy is the V3 resource_destroy body.
type ResourceDestroy struct {
	Kind ResourceKind
	ID   uint16
}

func EncodeResourceDestroyBody(c *wire.Coder, m ResourceDestroy) error {
	if err := c.WriteUint16LE(uint16(m.Kind)); err != nil {
		return err
	}
	return c.WriteUint16LE(m.ID)
}

func DecodeResourceDestroyBody(d *wire.Decoder) (ResourceDestroy, error) {
	var m ResourceDestroy
	kind, err := d.ReadUint16LE()
	if err != nil {
		return m, err
	}
	m.Kind = ResourceKind(kind)
	m.ID, err = d.ReadUint16LE()
	return m, err
}

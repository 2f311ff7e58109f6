package rpcproto

import (
	"github.com/redpesk-core/go-binder/status"
	"github.com/redpesk-core/go-binder/wire"
)

// V1 message type bytes, grounded on afb-rpc-v1.c's single-char
// message codes.
const (
	v1Call          = 'K'
	v1Reply         = 'k'
	v1Broadcast     = 'B'
	v1EventCreate   = 'E'
	v1EventRemove   = 'e'
	v1EventPush     = 'P'
	v1Subscribe     = 'X'
	v1Unsubscribe   = 'x'
	v1Unexpected    = 'U'
	v1SessionCreate = 'S'
	v1SessionRemove = 's'
	v1TokenCreate   = 'T'
	v1TokenRemove   = 't'
	v1Describe      = 'D'
	v1Description   = 'd'
)

// writeString writes a length-prefixed string, the length (LE32)
// counting the trailing nul byte that afb-rpc-v1 always appends.
func writeString(c *wire.Coder, s string) error {
	if err := c.WriteUint32LE(uint32(len(s) + 1)); err != nil {
		return err
	}
	if err := c.WriteCopy([]byte(s)); err != nil {
		return err
	}
	return c.WriteUint8(0)
}

// writeBin writes a length-prefixed binary blob with no trailing nul.
func writeBin(c *wire.Coder, data []byte) error {
	if err := c.WriteUint32LE(uint32(len(data))); err != nil {
		return err
	}
	return c.WriteCopy(data)
}

func readString(d *wire.Decoder) (string, error) {
	n, err := d.ReadUint32LE()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	b, err := d.ReadPointer(n)
	if err != nil {
		return "", err
	}
	// drop the trailing nul afb-rpc-v1 always appends
	return string(b[:len(b)-1]), nil
}

func readBin(d *wire.Decoder) ([]byte, error) {
	n, err := d.ReadUint32LE()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return d.ReadPointer(n)
}

// Call is the V1 `K` message.
type Call struct {
	CallID     uint16
	Verb       string
	SessionID  uint16
	TokenID    uint16
	Data       []byte
	UserCreds  string
}

func EncodeCall(c *wire.Coder, m Call) error {
	if err := c.WriteUint8(v1Call); err != nil {
		return err
	}
	if err := c.WriteUint16LE(m.CallID); err != nil {
		return err
	}
	if err := writeString(c, m.Verb); err != nil {
		return err
	}
	if err := c.WriteUint16LE(m.SessionID); err != nil {
		return err
	}
	if err := c.WriteUint16LE(m.TokenID); err != nil {
		return err
	}
	if err := writeBin(c, m.Data); err != nil {
		return err
	}
	return writeString(c, m.UserCreds)
}

func decodeCall(d *wire.Decoder) (Call, error) {
	var m Call
	var err error
	if m.CallID, err = d.ReadUint16LE(); err != nil {
		return m, err
	}
	if m.Verb, err = readString(d); err != nil {
		return m, err
	}
	if m.SessionID, err = d.ReadUint16LE(); err != nil {
		return m, err
	}
	if m.TokenID, err = d.ReadUint16LE(); err != nil {
		return m, err
	}
	if m.Data, err = readBin(d); err != nil {
		return m, err
	}
	m.UserCreds, err = readString(d)
	return m, err
}

// Reply is the V1 `k` message.
type Reply struct {
	CallID uint16
	Data   []byte
	Error  string
	Info   string
}

func EncodeReply(c *wire.Coder, m Reply) error {
	if err := c.WriteUint8(v1Reply); err != nil {
		return err
	}
	if err := c.WriteUint16LE(m.CallID); err != nil {
		return err
	}
	if err := writeString(c, m.Error); err != nil {
		return err
	}
	if err := writeString(c, m.Info); err != nil {
		return err
	}
	return writeBin(c, m.Data)
}

func decodeReply(d *wire.Decoder) (Reply, error) {
	var m Reply
	var err error
	if m.CallID, err = d.ReadUint16LE(); err != nil {
		return m, err
	}
	if m.Error, err = readString(d); err != nil {
		return m, err
	}
	if m.Info, err = readString(d); err != nil {
		return m, err
	}
	m.Data, err = readBin(d)
	return m, err
}

// EventCreate is the V1 `E` message.
type EventCreate struct {
	EventID uint16
	Name    string
}

func EncodeEventCreate(c *wire.Coder, m EventCreate) error {
	if err := c.WriteUint8(v1EventCreate); err != nil {
		return err
	}
	if err := c.WriteUint16LE(m.EventID); err != nil {
		return err
	}
	return writeString(c, m.Name)
}

func decodeEventCreate(d *wire.Decoder) (EventCreate, error) {
	var m EventCreate
	var err error
	if m.EventID, err = d.ReadUint16LE(); err != nil {
		return m, err
	}
	m.Name, err = readString(d)
	return m, err
}

// EventID-only messages: remove, unexpected.
type EventID struct {
	EventID uint16
}

func encodeEventIDMsg(c *wire.Coder, typ byte, eventID uint16) error {
	if err := c.WriteUint8(typ); err != nil {
		return err
	}
	return c.WriteUint16LE(eventID)
}

func decodeEventIDMsg(d *wire.Decoder) (EventID, error) {
	id, err := d.ReadUint16LE()
	return EventID{EventID: id}, err
}

func EncodeEventRemove(c *wire.Coder, eventID uint16) error {
	return encodeEventIDMsg(c, v1EventRemove, eventID)
}

func EncodeEventUnexpected(c *wire.Coder, eventID uint16) error {
	return encodeEventIDMsg(c, v1Unexpected, eventID)
}

// EventPush is the V1 `P` message.
type EventPush struct {
	EventID uint16
	Data    string
}

func EncodeEventPush(c *wire.Coder, m EventPush) error {
	if err := c.WriteUint8(v1EventPush); err != nil {
		return err
	}
	if err := c.WriteUint16LE(m.EventID); err != nil {
		return err
	}
	return writeString(c, m.Data)
}

func decodeEventPush(d *wire.Decoder) (EventPush, error) {
	var m EventPush
	var err error
	if m.EventID, err = d.ReadUint16LE(); err != nil {
		return m, err
	}
	m.Data, err = readString(d)
	return m, err
}

// Broadcast is the V1 `B` message.
type Broadcast struct {
	Name string
	Data string
	UUID [16]byte
	Hop  uint8
}

func EncodeBroadcast(c *wire.Coder, m Broadcast) error {
	if err := c.WriteUint8(v1Broadcast); err != nil {
		return err
	}
	if err := writeString(c, m.Name); err != nil {
		return err
	}
	if err := writeString(c, m.Data); err != nil {
		return err
	}
	if err := c.WriteCopy(m.UUID[:]); err != nil {
		return err
	}
	return c.WriteUint8(m.Hop)
}

func decodeBroadcast(d *wire.Decoder) (Broadcast, error) {
	var m Broadcast
	var err error
	if m.Name, err = readString(d); err != nil {
		return m, err
	}
	if m.Data, err = readString(d); err != nil {
		return m, err
	}
	uuid, err := d.ReadPointer(16)
	if err != nil {
		return m, err
	}
	copy(m.UUID[:], uuid)
	m.Hop, err = d.ReadUint8()
	return m, err
}

// CallEventID is the subscribe/unsubscribe shape: `X`/`x`.
type CallEventID struct {
	CallID  uint16
	EventID uint16
}

func encodeCallEventID(c *wire.Coder, typ byte, m CallEventID) error {
	if err := c.WriteUint8(typ); err != nil {
		return err
	}
	if err := c.WriteUint16LE(m.CallID); err != nil {
		return err
	}
	return c.WriteUint16LE(m.EventID)
}

func decodeCallEventID(d *wire.Decoder) (CallEventID, error) {
	var m CallEventID
	var err error
	if m.CallID, err = d.ReadUint16LE(); err != nil {
		return m, err
	}
	m.EventID, err = d.ReadUint16LE()
	return m, err
}

func EncodeSubscribe(c *wire.Coder, m CallEventID) error   { return encodeCallEventID(c, v1Subscribe, m) }
func EncodeUnsubscribe(c *wire.Coder, m CallEventID) error { return encodeCallEventID(c, v1Unsubscribe, m) }

// IDName is the shape shared by session/token create: `S`/`T`.
type IDName struct {
	ID   uint16
	Name string
}

func encodeIDName(c *wire.Coder, typ byte, m IDName) error {
	if err := c.WriteUint8(typ); err != nil {
		return err
	}
	if err := c.WriteUint16LE(m.ID); err != nil {
		return err
	}
	return writeString(c, m.Name)
}

func decodeIDName(d *wire.Decoder) (IDName, error) {
	var m IDName
	var err error
	if m.ID, err = d.ReadUint16LE(); err != nil {
		return m, err
	}
	m.Name, err = readString(d)
	return m, err
}

func EncodeSessionCreate(c *wire.Coder, m IDName) error { return encodeIDName(c, v1SessionCreate, m) }
func EncodeTokenCreate(c *wire.Coder, m IDName) error   { return encodeIDName(c, v1TokenCreate, m) }

// ID-only messages: session/token remove.
func encodeIDMsg(c *wire.Coder, typ byte, id uint16) error {
	if err := c.WriteUint8(typ); err != nil {
		return err
	}
	return c.WriteUint16LE(id)
}

func decodeIDMsg(d *wire.Decoder) (uint16, error) {
	return d.ReadUint16LE()
}

func EncodeSessionRemove(c *wire.Coder, id uint16) error { return encodeIDMsg(c, v1SessionRemove, id) }
func EncodeTokenRemove(c *wire.Coder, id uint16) error   { return encodeIDMsg(c, v1TokenRemove, id) }

// Describe is the V1 `D` message.
func EncodeDescribe(c *wire.Coder, descID uint16) error { return encodeIDMsg(c, v1Describe, descID) }

// Description is the V1 `d` message.
type Description struct {
	DescID uint16
	Data   string
}

func EncodeDescription(c *wire.Coder, m Description) error {
	if err := c.WriteUint8(v1Description); err != nil {
		return err
	}
	if err := c.WriteUint16LE(m.DescID); err != nil {
		return err
	}
	return writeString(c, m.Data)
}

func decodeDescription(d *wire.Decoder) (Description, error) {
	var m Description
	var err error
	if m.DescID, err = d.ReadUint16LE(); err != nil {
		return m, err
	}
	m.Data, err = readString(d)
	return m, err
}

// V1Msg is the tagged union produced by DecodeV1, one field populated
// per Type.
type V1Msg struct {
	Type byte

	Call          *Call
	Reply         *Reply
	EventCreate   *EventCreate
	EventRemove   *EventID
	EventPush     *EventPush
	Broadcast     *Broadcast
	Subscribe     *CallEventID
	Unsubscribe   *CallEventID
	Unexpected    *EventID
	SessionCreate *IDName
	SessionRemove *uint16
	TokenCreate   *IDName
	TokenRemove   *uint16
	Describe      *uint16
	Description   *Description
}

// DecodeV1 reads the leading type byte and decodes the matching
// message, consuming it from d.
func DecodeV1(d *wire.Decoder) (V1Msg, error) {
	typ, err := d.ReadUint8()
	if err != nil {
		return V1Msg{}, err
	}
	msg := V1Msg{Type: typ}
	switch typ {
	case v1Call:
		v, err := decodeCall(d)
		msg.Call = &v
		return msg, err
	case v1Reply:
		v, err := decodeReply(d)
		msg.Reply = &v
		return msg, err
	case v1EventCreate:
		v, err := decodeEventCreate(d)
		msg.EventCreate = &v
		return msg, err
	case v1EventRemove:
		v, err := decodeEventIDMsg(d)
		msg.EventRemove = &v
		return msg, err
	case v1EventPush:
		v, err := decodeEventPush(d)
		msg.EventPush = &v
		return msg, err
	case v1Broadcast:
		v, err := decodeBroadcast(d)
		msg.Broadcast = &v
		return msg, err
	case v1Subscribe:
		v, err := decodeCallEventID(d)
		msg.Subscribe = &v
		return msg, err
	case v1Unsubscribe:
		v, err := decodeCallEventID(d)
		msg.Unsubscribe = &v
		return msg, err
	case v1Unexpected:
		v, err := decodeEventIDMsg(d)
		msg.Unexpected = &v
		return msg, err
	case v1SessionCreate:
		v, err := decodeIDName(d)
		msg.SessionCreate = &v
		return msg, err
	case v1SessionRemove:
		v, err := decodeIDMsg(d)
		msg.SessionRemove = &v
		return msg, err
	case v1TokenCreate:
		v, err := decodeIDName(d)
		msg.TokenCreate = &v
		return msg, err
	case v1TokenRemove:
		v, err := decodeIDMsg(d)
		msg.TokenRemove = &v
		return msg, err
	case v1Describe:
		v, err := decodeIDMsg(d)
		msg.Describe = &v
		return msg, err
	case v1Description:
		v, err := decodeDescription(d)
		msg.Description = &v
		return msg, err
	default:
		return V1Msg{}, status.New(status.Protocol, "rpcproto.DecodeV1: unknown message type")
	}
}

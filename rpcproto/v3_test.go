package rpcproto

import (
	"bytes"
	"testing"

	"github.com/redpesk-core/go-binder/wire"
)

func TestPacketHeaderRoundTrip(t *testing.T) {
	var c wire.Coder
	pos, err := EncodePacketHeader(&c, OpCallRequest, 7)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.WriteCopy([]byte("payload-body")); err != nil {
		t.Fatal(err)
	}
	if err := FinishPacket(&c, pos); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)
	if len(buf)%8 != 0 {
		t.Fatalf("expected 8-byte aligned packet, got %d bytes", len(buf))
	}

	pkt, err := DecodePacket(wire.NewDecoder(buf))
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Operation != OpCallRequest || pkt.Seqno != 7 {
		t.Fatalf("unexpected header: %+v", pkt)
	}
	if !bytes.Equal(pkt.Payload, []byte("payload-body")) {
		t.Fatalf("unexpected payload: %q", pkt.Payload)
	}
}

func TestValueUntypedRoundTrip(t *testing.T) {
	var c wire.Coder
	in := Value{Data: []byte(`{"a":1}`)}
	if err := EncodeValue(&c, in); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	got, err := DecodeValue(wire.NewDecoder(buf))
	if err != nil {
		t.Fatal(err)
	}
	if got.TypeID != 0 || got.DataID != 0 || !bytes.Equal(got.Data, in.Data) {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, in)
	}
}

func TestValueTypedRoundTrip(t *testing.T) {
	var c wire.Coder
	in := Value{TypeID: TypeI32, Data: []byte{1, 0, 0, 0}}
	if err := EncodeValue(&c, in); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	got, err := DecodeValue(wire.NewDecoder(buf))
	if err != nil {
		t.Fatal(err)
	}
	if got.TypeID != in.TypeID || !bytes.Equal(got.Data, in.Data) {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, in)
	}
}

func TestValueDataRefRoundTrip(t *testing.T) {
	var c wire.Coder
	in := Value{DataID: 99}
	if err := EncodeValue(&c, in); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	got, err := DecodeValue(wire.NewDecoder(buf))
	if err != nil {
		t.Fatal(err)
	}
	if got.DataID != 99 {
		t.Fatalf("round-trip mismatch: got %+v", got)
	}
}

func TestResourceIDRoundTrip(t *testing.T) {
	var c wire.Coder
	in := Resource{Kind: KindSession, ID: 12}
	if err := EncodeResource(&c, in); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	got, err := DecodeResource(wire.NewDecoder(buf))
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != in.Kind || got.ID != in.ID {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, in)
	}
}

func TestResourcePlainRoundTrip(t *testing.T) {
	var c wire.Coder
	in := Resource{Kind: KindAPI, Plain: []byte("mathapi")}
	if err := EncodeResource(&c, in); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	got, err := DecodeResource(wire.NewDecoder(buf))
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != in.Kind || !bytes.Equal(got.Plain, in.Plain) {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, in)
	}
}

func TestCallRequestBodyRoundTrip(t *testing.T) {
	var c wire.Coder
	pos, err := EncodePacketHeader(&c, OpCallRequest, 1)
	if err != nil {
		t.Fatal(err)
	}
	in := CallRequest{
		CallID:  3,
		Verb:    Value{Data: []byte("verb")},
		Session: Resource{Kind: KindSession, ID: 5},
		Token:   Resource{Kind: KindToken, ID: 6},
		Creds:   Value{Data: []byte("user:1")},
		Timeout: 2000,
		Values:  []Value{{Data: []byte("p1")}, {TypeID: TypeI32, Data: []byte{1, 0, 0, 0}}},
	}
	if err := EncodeCallRequestBody(&c, in); err != nil {
		t.Fatal(err)
	}
	if err := FinishPacket(&c, pos); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	pkt, err := DecodePacket(wire.NewDecoder(buf))
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Operation != OpCallRequest {
		t.Fatalf("unexpected operation: %v", pkt.Operation)
	}
	body := wire.NewDecoder(pkt.Payload)
	callID, err := body.ReadUint16LE()
	if err != nil {
		t.Fatal(err)
	}
	if callID != in.CallID {
		t.Fatalf("call id mismatch: got %d want %d", callID, in.CallID)
	}
	verb, err := DecodeValue(body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(verb.Data, in.Verb.Data) {
		t.Fatalf("verb mismatch: %+v", verb)
	}
	session, err := DecodeResource(body)
	if err != nil {
		t.Fatal(err)
	}
	if session.ID != in.Session.ID {
		t.Fatalf("session mismatch: %+v", session)
	}
}

func TestEventBroadcast3RoundTrip(t *testing.T) {
	var c wire.Coder
	var uuid [16]byte
	for i := range uuid {
		uuid[i] = byte(i + 1)
	}
	in := EventBroadcast3{UUID: uuid, Hop: 2, Event: "tick", Values: []Value{{Data: []byte("1")}}}
	if err := EncodeEventBroadcast3Body(&c, in); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	got, err := DecodeEventBroadcast3Body(wire.NewDecoder(buf))
	if err != nil {
		t.Fatal(err)
	}
	if got.UUID != in.UUID || got.Hop != in.Hop || got.Event != in.Event {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, in)
	}
}

func TestResourceCreateDestroyRoundTrip(t *testing.T) {
	var c wire.Coder
	create := ResourceCreate{Kind: KindEvent, ID: 4, Data: []byte("tick")}
	if err := EncodeResourceCreateBody(&c, create); err != nil {
		t.Fatal(err)
	}
	destroy := ResourceDestroy{Kind: KindEvent, ID: 4}
	if err := EncodeResourceDestroyBody(&c, destroy); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	d := wire.NewDecoder(buf)
	gotCreate, err := DecodeResourceCreateBody(d)
	if err != nil {
		t.Fatal(err)
	}
	if gotCreate.Kind != create.Kind || gotCreate.ID != create.ID || !bytes.Equal(gotCreate.Data, create.Data) {
		t.Fatalf("create round-trip mismatch: got %+v want %+v", gotCreate, create)
	}
	gotDestroy, err := DecodeResourceDestroyBody(d)
	if err != nil {
		t.Fatal(err)
	}
	if gotDestroy != destroy {
		t.Fatalf("destroy round-trip mismatch: got %+v want %+v", gotDestroy, destroy)
	}
}

func TestEventSubscriptionRoundTrip(t *testing.T) {
	var c wire.Coder
	in := EventSubscription{CallID: 2, EventID: 9}
	if err := EncodeEventSubscriptionBody(&c, in); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	got, err := DecodeEventSubscriptionBody(wire.NewDecoder(buf))
	if err != nil {
		t.Fatal(err)
	}
	if got != in {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, in)
	}
}

package rpcproto

import (
	"testing"

	"github.com/redpesk-core/go-binder/wire"
)

func TestCallRoundTrip(t *testing.T) {
	var c wire.Coder
	in := Call{CallID: 7, Verb: "hello", SessionID: 1, TokenID: 2, Data: []byte(`{"x":1}`), UserCreds: "user:1"}
	if err := EncodeCall(&c, in); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	d := wire.NewDecoder(buf)
	msg, err := DecodeV1(d)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != v1Call || msg.Call == nil {
		t.Fatalf("expected a call message, got %+v", msg)
	}
	got := *msg.Call
	if got.CallID != in.CallID || got.Verb != in.Verb || got.SessionID != in.SessionID ||
		got.TokenID != in.TokenID || string(got.Data) != string(in.Data) || got.UserCreds != in.UserCreds {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, in)
	}
}

func TestReplyRoundTripWithEmptyStrings(t *testing.T) {
	var c wire.Coder
	in := Reply{CallID: 42, Data: []byte("ok"), Error: "", Info: ""}
	if err := EncodeReply(&c, in); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	msg, err := DecodeV1(wire.NewDecoder(buf))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Reply == nil || msg.Reply.CallID != 42 || msg.Reply.Error != "" || string(msg.Reply.Data) != "ok" {
		t.Fatalf("round-trip mismatch: %+v", msg.Reply)
	}
}

func TestBroadcastRoundTrip(t *testing.T) {
	var c wire.Coder
	var uuid [16]byte
	for i := range uuid {
		uuid[i] = byte(i)
	}
	in := Broadcast{Name: "tick", Data: `{"n":1}`, UUID: uuid, Hop: 3}
	if err := EncodeBroadcast(&c, in); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	msg, err := DecodeV1(wire.NewDecoder(buf))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Broadcast == nil || msg.Broadcast.Name != in.Name || msg.Broadcast.Hop != in.Hop || msg.Broadcast.UUID != in.UUID {
		t.Fatalf("round-trip mismatch: %+v", msg.Broadcast)
	}
}

func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	var c wire.Coder
	if err := EncodeSubscribe(&c, CallEventID{CallID: 3, EventID: 9}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	msg, err := DecodeV1(wire.NewDecoder(buf))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Subscribe == nil || msg.Subscribe.CallID != 3 || msg.Subscribe.EventID != 9 {
		t.Fatalf("round-trip mismatch: %+v", msg.Subscribe)
	}
}

func TestSessionCreateRemoveRoundTrip(t *testing.T) {
	var c wire.Coder
	if err := EncodeSessionCreate(&c, IDName{ID: 5, Name: "abc"}); err != nil {
		t.Fatal(err)
	}
	if err := EncodeSessionRemove(&c, 5); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	d := wire.NewDecoder(buf)
	msg1, err := DecodeV1(d)
	if err != nil {
		t.Fatal(err)
	}
	if msg1.SessionCreate == nil || msg1.SessionCreate.ID != 5 || msg1.SessionCreate.Name != "abc" {
		t.Fatalf("unexpected session create: %+v", msg1.SessionCreate)
	}
	msg2, err := DecodeV1(d)
	if err != nil {
		t.Fatal(err)
	}
	if msg2.SessionRemove == nil || *msg2.SessionRemove != 5 {
		t.Fatalf("unexpected session remove: %+v", msg2.SessionRemove)
	}
}

func TestDescribeDescriptionRoundTrip(t *testing.T) {
	var c wire.Coder
	if err := EncodeDescribe(&c, 11); err != nil {
		t.Fatal(err)
	}
	if err := EncodeDescription(&c, Description{DescID: 11, Data: `{"verbs":[]}`}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	d := wire.NewDecoder(buf)
	msg1, err := DecodeV1(d)
	if err != nil {
		t.Fatal(err)
	}
	if msg1.Describe == nil || *msg1.Describe != 11 {
		t.Fatalf("unexpected describe: %+v", msg1.Describe)
	}
	msg2, err := DecodeV1(d)
	if err != nil {
		t.Fatal(err)
	}
	if msg2.Description == nil || msg2.Description.DescID != 11 || msg2.Description.Data != `{"verbs":[]}` {
		t.Fatalf("unexpected description: %+v", msg2.Description)
	}
}

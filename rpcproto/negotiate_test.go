package rpcproto

import (
	"testing"

	"github.com/redpesk-core/go-binder/wire"
)

func TestVersionOfferRoundTrip(t *testing.T) {
	var c wire.Coder
	if err := EncodeVersionOfferV1Or3(&c); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	msg, err := DecodeNegotiate(wire.NewDecoder(buf))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Offer == nil {
		t.Fatalf("expected an offer, got %+v", msg)
	}
	if len(msg.Offer.Versions) != 2 || msg.Offer.Versions[0] != Version3 || msg.Offer.Versions[1] != Version1 {
		t.Fatalf("expected [3,1], got %v", msg.Offer.Versions)
	}
}

func TestVersionSetRoundTrip(t *testing.T) {
	var c wire.Coder
	if err := EncodeVersionSet(&c, Version1); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	msg, err := DecodeNegotiate(wire.NewDecoder(buf))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Set == nil || msg.Set.Version != Version1 {
		t.Fatalf("expected version-set 1, got %+v", msg.Set)
	}
}

func TestDecodeNegotiateRejectsBadMagic(t *testing.T) {
	var c wire.Coder
	c.WriteUint8('V')
	c.WriteUint32LE(0xdeadbeef)
	c.WriteUint8(0)
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	if _, err := DecodeNegotiate(wire.NewDecoder(buf)); err == nil {
		t.Fatalf("expected bad-magic offer to fail")
	}
}

func TestDecodeNegotiateRejectsUnknownType(t *testing.T) {
	var c wire.Coder
	c.WriteUint8('Z')
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)

	if _, err := DecodeNegotiate(wire.NewDecoder(buf)); err == nil {
		t.Fatalf("expected unknown leading byte to fail")
	}
}

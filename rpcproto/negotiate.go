// Package rpcproto implements the wire messages exchanged over a
// binder RPC stub: the version-negotiation preamble (V0), the compact
// V1 message set, the typed V3 message set, and the V1-only
// JSON-legacy reply envelope. Grounded on afb-rpc-v0.c/v1.c/v3.c and
// afb-json-legacy.c.
package rpcproto

import (
	"github.com/redpesk-core/go-binder/status"
	"github.com/redpesk-core/go-binder/wire"
)

// protoIdentifier is the magic value every version-offer message
// carries, wire-exact from afb-rpc-v0.c's AFBRPC_PROTO_IDENTIFIER
// (02723012011 octal, "afbrpc: 23.19.1.16.9").
const protoIdentifier uint32 = 0o2723012011

const (
	charVersionOffer = 'V' // client -> server
	charVersionSet   = 'v' // server -> client
)

// Version identifies a negotiated protocol version.
type Version uint8

const (
	Version1 Version = 1
	Version3 Version = 3
)

// VersionOffer is the client->server out-of-band message listing the
// versions the client is willing to speak, in preference order.
type VersionOffer struct {
	Versions []Version
}

// VersionSet is the server->client reply picking one version.
type VersionSet struct {
	Version Version
}

// EncodeVersionOffer writes a version-offer message (V0).
func EncodeVersionOffer(c *wire.Coder, offer VersionOffer) error {
	if err := c.WriteUint8(charVersionOffer); err != nil {
		return err
	}
	if err := c.WriteUint32LE(protoIdentifier); err != nil {
		return err
	}
	if err := c.WriteUint8(uint8(len(offer.Versions))); err != nil {
		return err
	}
	raw := make([]byte, len(offer.Versions))
	for i, v := range offer.Versions {
		raw[i] = byte(v)
	}
	return c.WriteCopy(raw)
}

// EncodeVersionOfferV1Or3 offers version 3 first, then 1, matching
// afb_rpc_v0_code_version_offer_v1_or_v3's preference order.
func EncodeVersionOfferV1Or3(c *wire.Coder) error {
	return EncodeVersionOffer(c, VersionOffer{Versions: []Version{Version3, Version1}})
}

// EncodeVersionSet writes a version-set message (V0). Versions at or
// above 2 carry a 16-bit length-of-challenge field holding 4, which the
// original protocol reserves for a handshake payload; a version-3 set
// always includes it and a version-1 set never does.
func EncodeVersionSet(c *wire.Coder, version Version) error {
	if err := c.WriteUint8(charVersionSet); err != nil {
		return err
	}
	if err := c.WriteUint8(uint8(version)); err != nil {
		return err
	}
	if version >= 2 {
		return c.WriteUint16LE(4)
	}
	return nil
}

// NegotiateMsg is the decoded result of DecodeNegotiate: exactly one
// of Offer or Set is non-nil.
type NegotiateMsg struct {
	Offer *VersionOffer
	Set   *VersionSet
}

// DecodeNegotiate peeks the leading type byte and decodes whichever
// V0 message is present, consuming it from d. Grounded on
// afb_rpc_v0_decode.
func DecodeNegotiate(d *wire.Decoder) (NegotiateMsg, error) {
	code, err := d.PeekUint8()
	if err != nil {
		return NegotiateMsg{}, err
	}
	if code != charVersionOffer && code != charVersionSet {
		return NegotiateMsg{}, status.New(status.Protocol, "rpcproto.DecodeNegotiate: unknown leading byte")
	}
	if _, err := d.ReadUint8(); err != nil {
		return NegotiateMsg{}, err
	}
	if code == charVersionOffer {
		return decodeVersionOffer(d)
	}
	return decodeVersionSet(d)
}

func decodeVersionOffer(d *wire.Decoder) (NegotiateMsg, error) {
	id, err := d.ReadUint32LE()
	if err != nil {
		return NegotiateMsg{}, err
	}
	if id != protoIdentifier {
		return NegotiateMsg{}, status.New(status.Protocol, "rpcproto.DecodeNegotiate: bad magic")
	}
	count, err := d.ReadUint8()
	if err != nil {
		return NegotiateMsg{}, err
	}
	raw, err := d.ReadPointer(uint32(count))
	if err != nil {
		return NegotiateMsg{}, err
	}
	versions := make([]Version, count)
	for i, b := range raw {
		versions[i] = Version(b)
	}
	return NegotiateMsg{Offer: &VersionOffer{Versions: versions}}, nil
}

func decodeVersionSet(d *wire.Decoder) (NegotiateMsg, error) {
	v, err := d.ReadUint8()
	if err != nil {
		return NegotiateMsg{}, err
	}
	if v >= 2 {
		chlen, err := d.ReadUint16LE()
		if err != nil {
			return NegotiateMsg{}, err
		}
		if chlen != 4 {
			return NegotiateMsg{}, status.New(status.Protocol, "rpcproto.DecodeNegotiate: bad challenge length")
		}
	}
	return NegotiateMsg{Set: &VersionSet{Version: Version(v)}}, nil
}

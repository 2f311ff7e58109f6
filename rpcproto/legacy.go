package rpcproto

import (
	"encoding/json"

	"github.com/redpesk-core/go-binder/data"
	"github.com/redpesk-core/go-binder/status"
)

// LegacyReply is the historic bindings v1/v2/v3 reply shape: a JSON
// object result, an error code string (empty on success), and a free
// text info string. The stub never builds it: its replies are always
// V3 call_reply packets carrying typed values, whatever version the
// peer negotiated.
// Grounded on afb_json_legacy_get_reply_sync /
// afb_json_legacy_make_reply_json_c's (object, error, info) triple.
type LegacyReply struct {
	Object json.RawMessage
	Error  string
	Info   string
}

// MakeLegacyReply builds the (object, error, info) triple from a
// Reply status and the data values a call replied with, matching
// afb_json_legacy_get_reply_sync: the first reply value (if any) is
// taken as the JSON object, a non-OK status yields its string error
// code, and info is left empty since this repo carries no separate
// human-text reply channel.
func MakeLegacyReply(stat status.Reply, replies []*data.Value) LegacyReply {
	r := LegacyReply{Object: json.RawMessage("null")}
	if len(replies) > 0 {
		if b := replies[0].Bytes(); len(b) > 0 {
			r.Object = json.RawMessage(b)
		}
	}
	if !stat.OK() {
		r.Error = stat.String()
	}
	return r
}

// legacyEnvelope is the wire shape of a V1 "reply" data payload: the
// bytes EncodeReply's Data field carries when the peer is V1.
type legacyEnvelope struct {
	Object json.RawMessage `json:"object"`
	Error  string          `json:"error,omitempty"`
	Info   string          `json:"info,omitempty"`
}

// EncodeLegacyReplyData marshals a LegacyReply into the JSON bytes a
// V1 Reply.Data field carries.
func EncodeLegacyReplyData(r LegacyReply) ([]byte, error) {
	obj := r.Object
	if len(obj) == 0 {
		obj = json.RawMessage("null")
	}
	return json.Marshal(legacyEnvelope{Object: obj, Error: r.Error, Info: r.Info})
}

// DecodeLegacyReplyData unmarshals a V1 Reply.Data field back into a
// LegacyReply.
func DecodeLegacyReplyData(b []byte) (LegacyReply, error) {
	var env legacyEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return LegacyReply{}, status.New(status.Protocol, "rpcproto.DecodeLegacyReplyData: bad json")
	}
	return LegacyReply{Object: env.Object, Error: env.Error, Info: env.Info}, nil
}

// allReplyCodes lists every Reply constant in declaration order, used
// by ReplyFromLegacy to recover a Reply from its String() text.
var allReplyCodes = []status.Reply{
	status.ReplyOK, status.ReplyOutOfMemory, status.ReplyInternalError,
	status.ReplyNotAvailable, status.ReplyUnknownAPI, status.ReplyBadAPIState,
	status.ReplyUnknownVerb, status.ReplyInvalidToken, status.ReplyInsufficientScope,
	status.ReplyNoReply, status.ReplyDisconnected, status.ReplyUnauthorized,
	status.ReplyForbidden,
}

// ReplyFromLegacy recovers the Reply status implied by a decoded
// legacy envelope's error string: empty means OK, any other recognized
// code maps back to its Reply constant, and an unrecognized one is
// reported as an internal error rather than silently treated as OK.
func ReplyFromLegacy(errCode string) status.Reply {
	if errCode == "" {
		return status.ReplyOK
	}
	for _, r := range allReplyCodes {
		if r.String() == errCode {
			return r
		}
	}
	return status.ReplyInternalError
}

// Package status defines the two error taxonomies the binder core uses:
// internal operation errors (Kind) and user-visible request reply codes
// (Reply). Both are small negative integers, matching the wire and the
// original C implementation's -errno-like convention, but are given named
// Go types so they compose with errors.Is/errors.As instead of being
// passed around as bare ints.
package status

import "fmt"

// Kind is an internal operation error, returned by data/event/request
// plumbing that never crosses the wire directly.
type Kind int32

const (
	OK           Kind = 0
	Invalid      Kind = -1
	NoMemory     Kind = -2
	NotSupported Kind = -3
	NotFound     Kind = -4
	Exists       Kind = -5
	Busy         Kind = -6
	Cancelled    Kind = -7
	Protocol     Kind = -8
	Pipe         Kind = -9
	Overflow     Kind = -10
)

var kindText = map[Kind]string{
	OK:           "ok",
	Invalid:      "invalid",
	NoMemory:     "no_memory",
	NotSupported: "not_supported",
	NotFound:     "not_found",
	Exists:       "exists",
	Busy:         "busy",
	Cancelled:    "cancelled",
	Protocol:     "protocol",
	Pipe:         "pipe",
	Overflow:     "overflow",
}

func (k Kind) String() string {
	if s, ok := kindText[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int32(k))
}

// Err wraps a Kind as an error value, optionally annotated with context.
type Err struct {
	Kind Kind
	Op   string
}

func (e *Err) Error() string {
	if e.Op == "" {
		return e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String()
}

// New builds an error for the given kind and operation label.
func New(k Kind, op string) error {
	if k == OK {
		return nil
	}
	return &Err{Kind: k, Op: op}
}

// Is reports whether err is a *Err carrying the given Kind. Wrapped
// errors are not unwrapped.
func Is(err error, k Kind) bool {
	e, ok := err.(*Err)
	return ok && e.Kind == k
}

// Reply is the user-visible status carried by Request.Reply.
type Reply int32

const (
	ReplyOK                 Reply = 0
	ReplyOutOfMemory        Reply = -1
	ReplyInternalError      Reply = -2
	ReplyNotAvailable       Reply = -3
	ReplyUnknownAPI         Reply = -4
	ReplyBadAPIState        Reply = -5
	ReplyUnknownVerb        Reply = -6
	ReplyInvalidToken       Reply = -7
	ReplyInsufficientScope  Reply = -8
	ReplyNoReply            Reply = -9
	ReplyDisconnected       Reply = -10
	ReplyUnauthorized       Reply = -11
	ReplyForbidden          Reply = -12
)

var replyText = map[Reply]string{
	ReplyOK:                "ok",
	ReplyOutOfMemory:       "out-of-memory",
	ReplyInternalError:     "internal-error",
	ReplyNotAvailable:      "not-available",
	ReplyUnknownAPI:        "unknown-api",
	ReplyBadAPIState:       "bad-api-state",
	ReplyUnknownVerb:       "unknown-verb",
	ReplyInvalidToken:      "invalid-token",
	ReplyInsufficientScope: "insufficient-scope",
	ReplyNoReply:           "no-reply",
	ReplyDisconnected:      "disconnected",
	ReplyUnauthorized:      "unauthorized",
	ReplyForbidden:         "forbidden",
}

func (r Reply) String() string {
	if s, ok := replyText[r]; ok {
		return s
	}
	return fmt.Sprintf("reply(%d)", int32(r))
}

// OK reports whether the reply status indicates success.
func (r Reply) OK() bool { return r == ReplyOK }

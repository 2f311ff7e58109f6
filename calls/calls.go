// Package calls implements the API-to-API call engine: building a
// synthetic request that forwards its reply to a callback and its
// event subscriptions to the caller and/or the calling api itself.
// Grounded on afb-calls.c.
package calls

import (
	"github.com/redpesk-core/go-binder/data"
	"github.com/redpesk-core/go-binder/identity"
	"github.com/redpesk-core/go-binder/request"
	"github.com/redpesk-core/go-binder/status"
)

// Flags is the subcall bitmask:
// `{api_session, on_behalf, catch_events, pass_events}`.
type Flags uint8

const (
	// APISession routes the call through the calling api's own
	// session rather than the caller request's session.
	APISession Flags = 1 << iota
	// OnBehalf carries the caller's token and credential onto the
	// synthetic request.
	OnBehalf
	// CatchEvents subscribes the calling api itself to any event the
	// callee subscribes the synthetic request to.
	CatchEvents
	// PassEvents forwards subscriptions through to the caller request,
	// so the caller's own connection receives the callee's events.
	PassEvents
)

// DefaultCallFlags is used by a top-level call that has no caller
// request of its own, matching afb-calls.c's CALLFLAGS constant.
const DefaultCallFlags = APISession | CatchEvents

// ReplyFunc receives a call's final status and reply data.
type ReplyFunc func(stat status.Reply, replies []*data.Value)

// Target is whatever the calling api can subscribe its own event feed
// against, consulted when flags include CatchEvents.
type Target interface {
	Subscribe(eventName string) error
	Unsubscribe(eventName string) error
}

// Caller is the API-side session/identity source a call draws from
// when APISession/OnBehalf are not set, or when PassEvents/OnBehalf
// need the originating request. A nil Caller is valid for a top-level
// call that has no originating request.
type Caller = *request.Request

// Call dispatches apiName/verbName through set, delivering the result
// to cb. session is the calling api's own session, used when flags
// includes APISession or when caller is nil. caller is the request
// this call is made on behalf of (nil for a top-level, non-subcall
// call); target receives CatchEvents subscriptions.
func Call(
	set request.APISet,
	apiName, verbName string,
	params []*data.Value,
	session *identity.Session,
	caller Caller,
	target Target,
	flags Flags,
	cb ReplyFunc,
) {
	itf := &queryItf{caller: caller, target: target, flags: flags, cb: cb}
	req := request.New(itf, apiName, verbName, params)

	switch {
	case flags&APISession != 0 || caller == nil:
		req.SetSession(session)
	default:
		req.SetSession(caller.Session())
	}

	if flags&OnBehalf != 0 && caller != nil {
		req.SetToken(caller.Token())
		req.SetCredential(caller.Credential())
	}

	req.Process(set)
}

// queryItf is the query interface backing a synthetic call request:
// reply forwards to cb, subscriptions fan out per flags. Grounded on
// afb-calls.c's req_call_itf.
type queryItf struct {
	caller Caller
	target Target
	flags  Flags
	cb     ReplyFunc
}

func (q *queryItf) Reply(_ *request.Request, stat status.Reply, replies []*data.Value) {
	if q.cb != nil {
		q.cb(stat, replies)
	}
}

func (q *queryItf) Unref(*request.Request) {}

func (q *queryItf) Subscribe(_ *request.Request, eventName string) error {
	var err error
	if q.flags&PassEvents != 0 && q.caller != nil {
		err = q.caller.Subscribe(eventName)
	}
	if q.flags&CatchEvents != 0 && q.target != nil {
		if e := q.target.Subscribe(eventName); e != nil {
			err = e
		}
	}
	return err
}

func (q *queryItf) Unsubscribe(_ *request.Request, eventName string) error {
	var err error
	if q.flags&PassEvents != 0 && q.caller != nil {
		err = q.caller.Unsubscribe(eventName)
	}
	if q.flags&CatchEvents != 0 && q.target != nil {
		if e := q.target.Unsubscribe(eventName); e != nil {
			err = e
		}
	}
	return err
}

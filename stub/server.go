package stub

import (
	"context"

	"github.com/redpesk-core/go-binder/data"
	"github.com/redpesk-core/go-binder/request"
	"github.com/redpesk-core/go-binder/rpcproto"
	"github.com/redpesk-core/go-binder/status"
	"github.com/redpesk-core/go-binder/wire"
)

// serverQuery is the request.QueryItf a Stub hands to every request.New
// it builds for an incoming call_request, closing over the peer call
// id so replies and subscriptions route back to the right wire call.
type serverQuery struct {
	stub   *Stub
	callID uint16
}

func (q serverQuery) Reply(_ *request.Request, stat status.Reply, replies []*data.Value) {
	q.stub.replyCall(q.callID, stat, replies)
}

func (q serverQuery) Unref(_ *request.Request) {}

func (q serverQuery) Subscribe(_ *request.Request, eventName string) error {
	return q.stub.serverSubscribe(q.callID, eventName)
}

func (q serverQuery) Unsubscribe(_ *request.Request, eventName string) error {
	return q.stub.serverUnsubscribe(q.callID, eventName)
}

// replyCall encodes and sends a call_reply for callID.
func (s *Stub) replyCall(callID uint16, stat status.Reply, replies []*data.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	values := make([]rpcproto.Value, 0, len(replies))
	for _, v := range replies {
		wv, err := s.valueToWireLocked(v)
		if err != nil {
			continue
		}
		values = append(values, wv)
	}
	_ = s.writePacketLocked(rpcproto.OpCallReply, func(c *wire.Coder) error {
		return rpcproto.EncodeCallReplyBody(c, rpcproto.CallReply{CallID: callID, Status: int32(stat), Values: values})
	})
}

// permitted reports whether api falls within the stub's permitted API
// name list. A nil/empty PermittedAPIs permits any api.
func (s *Stub) permitted(api string) bool {
	if len(s.cfg.PermittedAPIs) == 0 {
		return true
	}
	for _, name := range s.cfg.PermittedAPIs {
		if name == api {
			return true
		}
	}
	return false
}

// handleCallRequest is the server-role entry point: it builds a
// request from an incoming call_request and dispatches it, replying
// directly for conditions the request layer never sees (unknown
// describe target, forbidden api).
func (s *Stub) handleCallRequest(body rpcproto.CallRequest) error {
	apiName, verb := decodeAPIVerb(body.Verb.Data)

	if !s.permitted(apiName) {
		s.replyCall(body.CallID, status.ReplyForbidden, nil)
		return nil
	}

	if verb == "" {
		return s.handleDescribeRequest(body.CallID, apiName)
	}

	params := make([]*data.Value, 0, len(body.Values))
	for _, wv := range body.Values {
		v, err := s.valueFromWire(wv)
		if err != nil {
			s.replyCall(body.CallID, status.ReplyInternalError, nil)
			return nil
		}
		params = append(params, v)
	}

	req := request.New(serverQuery{stub: s, callID: body.CallID}, apiName, verb, params)

	if body.Session.ID != 0 {
		s.mu.Lock()
		sess := s.inSessions[body.Session.ID]
		s.mu.Unlock()
		if sess != nil {
			req.SetSession(sess)
		}
	}
	if body.Token.ID != 0 {
		s.mu.Lock()
		tok := s.inTokens[body.Token.ID]
		s.mu.Unlock()
		if tok != nil {
			req.SetToken(tok)
		}
	}

	var creds string
	if len(body.Creds.Data) > 0 {
		creds = string(body.Creds.Data)
	}

	if s.cfg.APISet == nil {
		s.replyCall(body.CallID, status.ReplyBadAPIState, nil)
		return nil
	}
	req.ProcessOnBehalf(context.Background(), s.cfg.APISet, creds, s.cfg.CredentialKey, s.cfg.Permission)
	return nil
}

// handleDescribeRequest answers a describe call (an incoming
// call_request whose verb half is empty, matching Stub.Describe's
// encoding) against cfg.Describer.
func (s *Stub) handleDescribeRequest(callID uint16, apiName string) error {
	if s.cfg.Describer == nil {
		s.replyCall(callID, status.ReplyUnknownAPI, nil)
		return nil
	}
	desc, err := s.cfg.Describer.Describe(apiName)
	if err != nil {
		s.replyCall(callID, status.ReplyUnknownAPI, nil)
		return nil
	}
	szType, tErr := s.cfg.Registry.LookupType("json")
	if tErr != nil {
		s.replyCall(callID, status.ReplyInternalError, nil)
		return nil
	}
	v, err := s.cfg.Registry.Copy(szType, []byte(desc))
	if err != nil {
		s.replyCall(callID, status.ReplyInternalError, nil)
		return nil
	}
	defer v.Unref()
	s.replyCall(callID, status.ReplyOK, []*data.Value{v})
	return nil
}

package stub

import (
	"github.com/redpesk-core/go-binder/data"
	"github.com/redpesk-core/go-binder/identity"
	"github.com/redpesk-core/go-binder/rpcproto"
	"github.com/redpesk-core/go-binder/status"
	"github.com/redpesk-core/go-binder/wire"
)

// CallOptions configures one outgoing call.
type CallOptions struct {
	Session *identity.Session
	Token   *identity.Token
	Creds   string
	Timeout uint32
	// OnEvent is invoked whenever the peer delivers a push for an
	// event this call ends up subscribed to, the same forwarding a
	// local call gets, generalized across the wire. Incoming broadcasts
	// go to the local event fabric and are not passed to OnEvent.
	OnEvent func(eventName string, values []*data.Value)
}

// allocCallIDLocked finds the lowest unused, non-zero call id, failing
// once maxOutstandingCalls are live. Caller holds s.mu.
func (s *Stub) allocCallIDLocked() (uint16, error) {
	if len(s.outCalls) >= maxOutstandingCalls {
		return 0, status.New(status.Overflow, "stub: too many outstanding calls")
	}
	for tries := 0; tries < 0x10000; tries++ {
		id := s.nextCallID
		s.nextCallID++
		if s.nextCallID == 0 {
			s.nextCallID = 1
		}
		if id != 0 {
			if _, busy := s.outCalls[id]; !busy {
				return id, nil
			}
		}
	}
	return 0, status.New(status.Overflow, "stub: call id space exhausted")
}

// Call originates a call_request to api/verb carrying params, resolving
// the reply through cb.
func (s *Stub) Call(api, verb string, params []*data.Value, opts CallOptions, cb func(stat status.Reply, values []*data.Value)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		cb(status.ReplyDisconnected, nil)
		return nil
	}
	if s.version == 0 {
		return status.New(status.NotSupported, "stub: version not yet negotiated")
	}

	callID, err := s.allocCallIDLocked()
	if err != nil {
		return err
	}

	if opts.Session != nil {
		if err := s.ensureSessionSentLocked(opts.Session); err != nil {
			return err
		}
	}
	if opts.Token != nil {
		if err := s.ensureTokenSentLocked(opts.Token); err != nil {
			return err
		}
	}

	szType := mustStringz(s.cfg.Registry)

	verbVal, err := s.cfg.Registry.Copy(szType, encodeAPIVerb(api, verb))
	if err != nil {
		return err
	}
	defer verbVal.Unref()
	verbWire, err := s.valueToWireLocked(verbVal)
	if err != nil {
		return err
	}

	sessionRes := rpcproto.Resource{Kind: rpcproto.KindSession}
	if opts.Session != nil {
		sessionRes.ID = opts.Session.LocalID()
	}
	tokenRes := rpcproto.Resource{Kind: rpcproto.KindToken}
	if opts.Token != nil {
		tokenRes.ID = opts.Token.LocalID()
	}

	var credsWire rpcproto.Value
	if opts.Creds != "" {
		credsVal, err := s.cfg.Registry.Copy(szType, []byte(opts.Creds))
		if err != nil {
			return err
		}
		defer credsVal.Unref()
		credsWire, err = s.valueToWireLocked(credsVal)
		if err != nil {
			return err
		}
	}

	values := make([]rpcproto.Value, 0, len(params))
	for _, p := range params {
		wv, err := s.valueToWireLocked(p)
		if err != nil {
			return err
		}
		values = append(values, wv)
	}

	body := rpcproto.CallRequest{
		CallID:  callID,
		Verb:    verbWire,
		Session: sessionRes,
		Token:   tokenRes,
		Creds:   credsWire,
		Timeout: opts.Timeout,
		Values:  values,
	}

	if err := s.writePacketLocked(rpcproto.OpCallRequest, func(c *wire.Coder) error {
		return rpcproto.EncodeCallRequestBody(c, body)
	}); err != nil {
		return err
	}

	s.outCalls[callID] = &pendingCall{reply: cb}
	s.outCallOrder = append(s.outCallOrder, callID)
	if opts.OnEvent != nil {
		if s.callEventSinks == nil {
			s.callEventSinks = make(map[uint16]func(string, []*data.Value))
		}
		s.callEventSinks[callID] = opts.OnEvent
	}
	return nil
}

// Describe originates a describe call against api, resolving through cb.
func (s *Stub) Describe(api string, cb func(desc []byte, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		cb(nil, status.New(status.Cancelled, "stub: disconnected"))
		return nil
	}
	callID, err := s.allocCallIDLocked()
	if err != nil {
		return err
	}
	szType := mustStringz(s.cfg.Registry)
	apiVal, err := s.cfg.Registry.Copy(szType, encodeAPIVerb(api, ""))
	if err != nil {
		return err
	}
	defer apiVal.Unref()
	apiWire, err := s.valueToWireLocked(apiVal)
	if err != nil {
		return err
	}
	if err := s.writePacketLocked(rpcproto.OpCallRequest, func(c *wire.Coder) error {
		return rpcproto.EncodeCallRequestBody(c, rpcproto.CallRequest{
			CallID: callID,
			Verb:   apiWire,
		})
	}); err != nil {
		return err
	}
	s.outCalls[callID] = &pendingCall{
		describe: true,
		desc:     cb,
	}
	s.outCallOrder = append(s.outCallOrder, callID)
	return nil
}

// encodeAPIVerb packs api and verb into one stringz payload, api\0verb.
// rpcproto.CallRequest carries only a single Verb value slot; this
// stub's framing uses it for both names since the wire grammar does
// not itself reserve a second TLV for the api name (it is typically
// implied by which connection/resource table a call arrives on).
// Packing both into one nul-separated stringz keeps the rest of
// CallRequest's layout identical to what rpcproto's own round-trip
// tests already exercise.
func encodeAPIVerb(api, verb string) []byte {
	b := make([]byte, 0, len(api)+len(verb)+1)
	b = append(b, api...)
	b = append(b, 0)
	b = append(b, verb...)
	return b
}

func decodeAPIVerb(b []byte) (api, verb string) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), string(b[i+1:])
		}
	}
	return string(b), ""
}

func mustStringz(r *data.Registry) *data.Type {
	t, err := r.LookupType("stringz")
	if err != nil {
		panic("stub: stringz type missing from registry: " + err.Error())
	}
	return t
}

// handleCallReply resolves an incoming call_reply against the
// matching outgoing call, translating its values back into framework
// data and delivering them to the original caller.
func (s *Stub) handleCallReply(body rpcproto.CallReply) error {
	s.mu.Lock()
	pc, ok := s.outCalls[body.CallID]
	if ok {
		delete(s.outCalls, body.CallID)
		for i, id := range s.outCallOrder {
			if id == body.CallID {
				s.outCallOrder = append(s.outCallOrder[:i], s.outCallOrder[i+1:]...)
				break
			}
		}
	}
	delete(s.callEventSinks, body.CallID)
	s.mu.Unlock()

	if !ok {
		return status.New(status.Protocol, "stub: call_reply for unknown call id")
	}

	values := make([]*data.Value, 0, len(body.Values))
	for _, wv := range body.Values {
		v, err := s.valueFromWire(wv)
		if err != nil {
			return err
		}
		values = append(values, v)
	}

	if pc.describe {
		if pc.desc != nil && len(values) > 0 {
			b, _ := values[0].GetRO()
			pc.desc(b, nil)
		} else if pc.desc != nil {
			pc.desc(nil, nil)
		}
		return nil
	}
	if pc.reply != nil {
		pc.reply(status.Reply(body.Status), values)
	}
	return nil
}

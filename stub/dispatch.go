package stub

import (
	"github.com/redpesk-core/go-binder/rpcproto"
	"github.com/redpesk-core/go-binder/status"
	"github.com/redpesk-core/go-binder/wire"
)

// StartClient sends the version-offer preamble that opens a connection
// from the calling side.
func (s *Stub) StartClient() error {
	var c wire.Coder
	if err := rpcproto.EncodeVersionOfferV1Or3(&c); err != nil {
		return err
	}
	buf := make([]byte, c.Size())
	c.OutputGetBuffer(buf)
	if s.cfg.Send == nil {
		return status.New(status.NotSupported, "stub: no Send configured")
	}
	return s.cfg.Send(buf)
}

// Receive decodes and routes one message from the peer. Before
// negotiation completes it only accepts V0 offer/set messages; once a
// version is set, every following message is a V3 packet (V1's own
// framing is handled by rpcproto for wire fidelity, but this stub
// targets V3 as its live transport).
func (s *Stub) Receive(payload []byte) error {
	s.mu.Lock()
	negotiated := s.version != 0
	s.mu.Unlock()

	if !negotiated {
		return s.receiveNegotiate(payload)
	}
	return s.receivePacket(payload)
}

func (s *Stub) receiveNegotiate(payload []byte) error {
	msg, err := rpcproto.DecodeNegotiate(wire.NewDecoder(payload))
	if err != nil {
		return err
	}
	switch {
	case msg.Set != nil:
		s.mu.Lock()
		s.setVersionLocked(msg.Set.Version)
		s.mu.Unlock()
		return nil
	case msg.Offer != nil:
		chosen := rpcproto.Version(0)
		for _, v := range msg.Offer.Versions {
			if v == rpcproto.Version3 {
				chosen = rpcproto.Version3
				break
			}
			if v == rpcproto.Version1 && chosen == 0 {
				chosen = rpcproto.Version1
			}
		}
		if chosen == 0 {
			return status.New(status.NotSupported, "stub: no common protocol version")
		}
		var c wire.Coder
		if err := rpcproto.EncodeVersionSet(&c, chosen); err != nil {
			return err
		}
		buf := make([]byte, c.Size())
		c.OutputGetBuffer(buf)
		if s.cfg.Send == nil {
			return status.New(status.NotSupported, "stub: no Send configured")
		}
		if err := s.cfg.Send(buf); err != nil {
			return err
		}
		s.mu.Lock()
		s.setVersionLocked(chosen)
		s.mu.Unlock()
		return nil
	default:
		return status.New(status.Protocol, "stub: empty negotiate message")
	}
}

func (s *Stub) receivePacket(payload []byte) error {
	pkt, err := rpcproto.DecodePacket(wire.NewDecoder(payload))
	if err != nil {
		return err
	}
	d := wire.NewDecoder(pkt.Payload)
	switch pkt.Operation {
	case rpcproto.OpCallRequest:
		body, err := rpcproto.DecodeCallRequestBody(d)
		if err != nil {
			return err
		}
		return s.handleCallRequest(body)
	case rpcproto.OpCallReply:
		body, err := rpcproto.DecodeCallReplyBody(d)
		if err != nil {
			return err
		}
		return s.handleCallReply(body)
	case rpcproto.OpEventPush:
		body, err := rpcproto.DecodeEventPush3Body(d)
		if err != nil {
			return err
		}
		return s.handleEventPush(body)
	case rpcproto.OpEventSubscribe:
		body, err := rpcproto.DecodeEventSubscriptionBody(d)
		if err != nil {
			return err
		}
		return s.handleEventSubscription(body)
	case rpcproto.OpEventUnsubscribe:
		body, err := rpcproto.DecodeEventSubscriptionBody(d)
		if err != nil {
			return err
		}
		return s.handleEventUnsubscription(body)
	case rpcproto.OpEventUnexpected:
		body, err := rpcproto.DecodeEventSubscriptionBody(d)
		if err != nil {
			return err
		}
		return s.handleEventUnexpected(body)
	case rpcproto.OpEventBroadcast:
		body, err := rpcproto.DecodeEventBroadcast3Body(d)
		if err != nil {
			return err
		}
		return s.handleEventBroadcast(body)
	case rpcproto.OpResourceCreate:
		body, err := rpcproto.DecodeResourceCreateBody(d)
		if err != nil {
			return err
		}
		return s.handleResourceCreate(body)
	case rpcproto.OpResourceDestroy:
		body, err := rpcproto.DecodeResourceDestroyBody(d)
		if err != nil {
			return err
		}
		return s.handleResourceDestroy(body)
	default:
		return status.New(status.Protocol, "stub: unknown V3 operation")
	}
}

package stub

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/redpesk-core/go-binder/data"
	"github.com/redpesk-core/go-binder/event"
	"github.com/redpesk-core/go-binder/rpcproto"
	"github.com/redpesk-core/go-binder/status"
	"github.com/redpesk-core/go-binder/wire"
)

// ensureEventSentLocked announces ev to the peer via
// resource_create(kind=EVENT) the first time it crosses this
// connection. Caller holds s.mu.
func (s *Stub) ensureEventSentLocked(ev *event.Event) error {
	if s.outEvents[ev.ID()] {
		return nil
	}
	if err := s.writePacketLocked(rpcproto.OpResourceCreate, func(c *wire.Coder) error {
		return rpcproto.EncodeResourceCreateBody(c, rpcproto.ResourceCreate{
			Kind: rpcproto.KindEvent,
			ID:   ev.ID(),
			Data: []byte(ev.Name()),
		})
	}); err != nil {
		return err
	}
	s.outEvents[ev.ID()] = true
	return nil
}

// serverSubscribe is the server-role half of Subscribe: a
// call being processed on behalf of the peer asked to subscribe its
// session to eventName. The event resource is announced (once) and
// this stub's listener is attached, then an event_subscribe message
// ties the peer's callID to the wire event id.
func (s *Stub) serverSubscribe(callID uint16, eventName string) error {
	if s.cfg.Fabric == nil {
		return status.New(status.NotSupported, "stub: no event fabric configured")
	}
	ev, err := s.cfg.Fabric.Lookup(eventName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return status.New(status.Cancelled, "stub: disconnected")
	}
	if err := s.ensureEventSentLocked(ev); err != nil {
		return err
	}
	s.cfg.Fabric.ListenerAdd(ev, s.listener)
	return s.writePacketLocked(rpcproto.OpEventSubscribe, func(c *wire.Coder) error {
		return rpcproto.EncodeEventSubscriptionBody(c, rpcproto.EventSubscription{CallID: callID, EventID: ev.ID()})
	})
}

// serverUnsubscribe is the server-role half of Unsubscribe.
func (s *Stub) serverUnsubscribe(callID uint16, eventName string) error {
	if s.cfg.Fabric == nil {
		return status.New(status.NotSupported, "stub: no event fabric configured")
	}
	ev, err := s.cfg.Fabric.Lookup(eventName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return status.New(status.Cancelled, "stub: disconnected")
	}
	s.cfg.Fabric.ListenerRemove(ev, s.listener)
	return s.writePacketLocked(rpcproto.OpEventUnsubscribe, func(c *wire.Coder) error {
		return rpcproto.EncodeEventSubscriptionBody(c, rpcproto.EventSubscription{CallID: callID, EventID: ev.ID()})
	})
}

// onLocalPush is the fabric listener callback fired for a local Push
// on an event this stub announced; it forwards it to the peer as
// event_push.
func (s *Stub) onLocalPush(env event.PushEnvelope) {
	ev, err := s.cfg.Fabric.Lookup(env.Event)
	if err != nil {
		return
	}
	values, _ := env.Params.([]*data.Value)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	wireValues := make([]rpcproto.Value, 0, len(values))
	for _, v := range values {
		wv, err := s.valueToWireLocked(v)
		if err != nil {
			return
		}
		wireValues = append(wireValues, wv)
	}
	_ = s.writePacketLocked(rpcproto.OpEventPush, func(c *wire.Coder) error {
		return rpcproto.EncodeEventPush3Body(c, rpcproto.EventPush3{EventID: ev.ID(), Values: wireValues})
	})
}

// onLocalBroadcast is the fabric listener callback fired for a local
// Broadcast/Rebroadcast; it forwards it to the peer as
// event_broadcast, carrying the dedup UUID and remaining hop count
// unchanged so the peer's own rebroadcast continues the same ring.
func (s *Stub) onLocalBroadcast(env event.BroadcastEnvelope) {
	id, err := uuid.Parse(env.UUID)
	if err != nil {
		return
	}
	values, _ := env.Params.([]*data.Value)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	wireValues := make([]rpcproto.Value, 0, len(values))
	for _, v := range values {
		wv, err := s.valueToWireLocked(v)
		if err != nil {
			return
		}
		wireValues = append(wireValues, wv)
	}
	var raw [16]byte
	copy(raw[:], id[:])
	_ = s.writePacketLocked(rpcproto.OpEventBroadcast, func(c *wire.Coder) error {
		return rpcproto.EncodeEventBroadcast3Body(c, rpcproto.EventBroadcast3{
			UUID: raw, Hop: env.Hop, Event: env.Event, Values: wireValues,
		})
	})
}

// handleResourceCreate installs a resource the peer announced: a
// dynamic type, an event this stub may later receive pushes for, or an
// opacified data value (kind=DATA) it can now reference by id.
func (s *Stub) handleResourceCreate(body rpcproto.ResourceCreate) error {
	switch body.Kind {
	case rpcproto.KindType:
		return s.RegisterIncomingType(body.ID, string(body.Data))
	case rpcproto.KindData:
		return s.registerIncomingData(body.ID, body.Data)
	case rpcproto.KindEvent:
		s.mu.Lock()
		s.inEvents[body.ID] = string(body.Data)
		s.mu.Unlock()
		return nil
	case rpcproto.KindSession:
		if s.cfg.Sessions == nil {
			return nil
		}
		sess, err := s.cfg.Sessions.CreateOrGet(string(body.Data))
		if err != nil {
			return err
		}
		sess = sess.AddRef()
		s.mu.Lock()
		old := s.inSessions[body.ID]
		s.inSessions[body.ID] = sess
		s.mu.Unlock()
		if old != nil {
			old.Unref()
		}
		return nil
	case rpcproto.KindToken:
		if s.cfg.Tokens == nil {
			return nil
		}
		tok := s.cfg.Tokens.Intern(string(body.Data)).AddRef()
		s.mu.Lock()
		old := s.inTokens[body.ID]
		s.inTokens[body.ID] = tok
		s.mu.Unlock()
		if old != nil {
			old.Unref()
		}
		return nil
	default:
		return nil
	}
}

// registerIncomingData decodes a resource_create(kind=DATA) payload
// (a LE16 typeid followed by the value's bytes, the same layout
// valueToWireLocked writes) and stores the resulting data.Value in
// inData so a later VALUE_DATA reference resolves to it.
func (s *Stub) registerIncomingData(wireID uint16, payload []byte) error {
	if len(payload) < 2 {
		return status.New(status.Protocol, "stub: resource_create(kind=DATA) body too short")
	}
	typeID := rpcproto.TypeID(binary.LittleEndian.Uint16(payload))

	s.mu.Lock()
	typ, err := s.resolveWireTypeLocked(typeID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	v, err := s.cfg.Registry.Copy(typ, payload[2:])
	if err != nil {
		return err
	}
	s.cfg.Registry.Opacify(v)

	s.mu.Lock()
	old := s.inData[wireID]
	s.inData[wireID] = v
	s.mu.Unlock()
	if old != nil {
		old.Unref()
	}
	return nil
}

func (s *Stub) handleResourceDestroy(body rpcproto.ResourceDestroy) error {
	s.mu.Lock()
	switch body.Kind {
	case rpcproto.KindType:
		delete(s.inTypes, body.ID)
		s.mu.Unlock()
		return nil
	case rpcproto.KindData:
		v := s.inData[body.ID]
		delete(s.inData, body.ID)
		s.mu.Unlock()
		if v != nil {
			v.Unref()
		}
		return nil
	case rpcproto.KindEvent:
		delete(s.inEvents, body.ID)
		s.mu.Unlock()
		return nil
	case rpcproto.KindSession:
		sess := s.inSessions[body.ID]
		delete(s.inSessions, body.ID)
		s.mu.Unlock()
		if sess != nil {
			sess.Unref()
		}
		return nil
	case rpcproto.KindToken:
		tok := s.inTokens[body.ID]
		delete(s.inTokens, body.ID)
		s.mu.Unlock()
		if tok != nil {
			tok.Unref()
		}
		return nil
	default:
		s.mu.Unlock()
		return nil
	}
}

// handleEventSubscription records that an outgoing call of ours led
// the peer to subscribe eventID on our behalf (client role).
func (s *Stub) handleEventSubscription(body rpcproto.EventSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outCalls[body.CallID]; !ok {
		return nil
	}
	if s.eventCallSinks == nil {
		s.eventCallSinks = make(map[uint16]uint16)
	}
	s.eventCallSinks[body.EventID] = body.CallID
	return nil
}

func (s *Stub) handleEventUnsubscription(body rpcproto.EventSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventCallSinks != nil {
		delete(s.eventCallSinks, body.EventID)
	}
	return nil
}

// handleEventPush delivers an incoming event_push to whichever call's
// OnEvent is tied to it (client role); if none is found it reports
// event_unexpected so the peer can stop sending it.
func (s *Stub) handleEventPush(body rpcproto.EventPush3) error {
	s.mu.Lock()
	name, haveName := s.inEvents[body.EventID]
	var sink func(string, []*data.Value)
	if s.eventCallSinks != nil {
		if callID, ok := s.eventCallSinks[body.EventID]; ok && s.callEventSinks != nil {
			sink = s.callEventSinks[callID]
		}
	}
	s.mu.Unlock()

	if sink == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return nil
		}
		return s.writePacketLocked(rpcproto.OpEventUnexpected, func(c *wire.Coder) error {
			return rpcproto.EncodeEventSubscriptionBody(c, rpcproto.EventSubscription{EventID: body.EventID})
		})
	}

	values := make([]*data.Value, 0, len(body.Values))
	for _, wv := range body.Values {
		v, err := s.valueFromWire(wv)
		if err != nil {
			return err
		}
		values = append(values, v)
	}
	if !haveName {
		name = ""
	}
	sink(name, values)
	return nil
}

// handleEventUnexpected prunes a listener the peer no longer wants
// pushes from (server role): the peer reports it has no call matching
// an eventID we pushed to it.
func (s *Stub) handleEventUnexpected(body rpcproto.EventSubscription) error {
	if s.cfg.Fabric == nil {
		return nil
	}
	s.cfg.Fabric.ListenerRemoveByID(body.EventID, s.listener)
	s.mu.Lock()
	delete(s.outEvents, body.EventID)
	s.mu.Unlock()
	return nil
}

// handleEventBroadcast forwards an incoming broadcast into this
// stub's own fabric, continuing both the dedup ring and the
// remaining-hop budget; the ring itself makes this safe to call even
// when this stub's own listener is what the rebroadcast will notify.
func (s *Stub) handleEventBroadcast(body rpcproto.EventBroadcast3) error {
	if s.cfg.Fabric == nil {
		return nil
	}
	values := make([]*data.Value, 0, len(body.Values))
	for _, wv := range body.Values {
		v, err := s.valueFromWire(wv)
		if err != nil {
			return err
		}
		values = append(values, v)
	}
	id := uuid.UUID(body.UUID)
	s.cfg.Fabric.Rebroadcast(body.Event, values, id.String(), body.Hop)
	return nil
}

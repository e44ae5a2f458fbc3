package client

import (
	"sync"

	"go.uber.org/zap"

	"github.com/luma/worldql/protocol"
)

// Event is a notification delivered to subscribers. It is one of
// ReadyEvent, DisconnectEvent, ErrorEvent, PeerConnectEvent,
// PeerDisconnectEvent, GlobalMessageEvent, LocalMessageEvent or
// RawMessageEvent.
//
// Every handler receives its own copy of an event, changes made by one
// handler are never seen by the next.
type Event interface {
	event()
}

// ReadyEvent fires once per connection, when the handshake completes.
type ReadyEvent struct {
	UUID string
}

// DisconnectEvent fires once per connection when it closes. A server may
// also announce a disconnect ahead of closing the transport, those are
// flagged with ByServer.
type DisconnectEvent struct {
	Reason   string
	ByServer bool
}

type ErrorEvent struct {
	Err error
}

type PeerConnectEvent struct {
	UUID string
}

type PeerDisconnectEvent struct {
	UUID string
}

type GlobalMessageEvent struct {
	Sender    string
	WorldName string
	Position  *protocol.Vector3
	Payload   protocol.Payload
}

type LocalMessageEvent struct {
	Sender    string
	WorldName string
	Position  protocol.Vector3
	Payload   protocol.Payload
}

// RawMessageEvent carries every decoded inbound event before classification.
type RawMessageEvent struct {
	Message *protocol.Message
}

func (ReadyEvent) event()          {}
func (DisconnectEvent) event()     {}
func (ErrorEvent) event()          {}
func (PeerConnectEvent) event()    {}
func (PeerDisconnectEvent) event() {}
func (GlobalMessageEvent) event()  {}
func (LocalMessageEvent) event()   {}
func (RawMessageEvent) event()     {}

// classify turns an inbound event message into a notification. It returns
// false for kinds this client does not understand.
func classify(msg *protocol.Message) (Event, bool) {
	switch msg.Kind {
	case protocol.KindPeerConnect:
		return PeerConnectEvent{UUID: msg.Peer.String()}, true

	case protocol.KindPeerDisconnect:
		return PeerDisconnectEvent{UUID: msg.Peer.String()}, true

	case protocol.KindGlobalMessage:
		return GlobalMessageEvent{
			Sender:    msg.Sender.String(),
			WorldName: msg.WorldName,
			Position:  msg.Position,
			Payload:   msg.Payload(),
		}, true

	case protocol.KindLocalMessage:
		if msg.Position == nil {
			return nil, false
		}

		return LocalMessageEvent{
			Sender:    msg.Sender.String(),
			WorldName: msg.WorldName,
			Position:  *msg.Position,
			Payload:   msg.Payload(),
		}, true

	case protocol.KindSystemMessage:
		switch msg.System {
		case protocol.SystemDisconnect:
			return DisconnectEvent{Reason: msg.Reason, ByServer: true}, true

		case protocol.SystemUnknownError:
			serverErr := msg.Error
			if serverErr == nil {
				serverErr = &ServerError{Message: msg.Reason}
			}
			return ErrorEvent{Err: serverErr}, true
		}
	}

	return nil, false
}

// Handler receives notifications. Handlers run on the goroutine that caused
// the notification, usually the transport read loop, and may call back into
// the Conn.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

type dispatcher struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription

	log *zap.Logger
}

func newDispatcher(log *zap.Logger) *dispatcher {
	return &dispatcher{log: log}
}

func (d *dispatcher) subscribe(h Handler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription{id: id, handler: h})
	d.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()

			for i, sub := range d.subs {
				if sub.id == id {
					d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// emit calls every handler in subscription order.
func (d *dispatcher) emit(ev Event) {
	d.mu.RLock()
	subs := d.subs
	d.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(snapshot(ev))
	}
}

// snapshot copies everything in ev a handler could modify. Blobs are left
// shared since they cannot be modified through their API.
func snapshot(ev Event) Event {
	switch ev := ev.(type) {
	case GlobalMessageEvent:
		ev.Position = copyVector(ev.Position)
		ev.Payload = copyPayload(ev.Payload)
		return ev

	case LocalMessageEvent:
		ev.Payload = copyPayload(ev.Payload)
		return ev

	case RawMessageEvent:
		if ev.Message == nil {
			return ev
		}

		msg := *ev.Message
		msg.AuthToken = copyString(msg.AuthToken)
		msg.NoOnce = copyString(msg.NoOnce)
		msg.Position = copyVector(msg.Position)
		msg.Parameter = copyString(msg.Parameter)
		msg.Records = copyRecords(msg.Records)
		msg.Entities = copyEntities(msg.Entities)

		if msg.Error != nil {
			serverErr := *msg.Error
			msg.Error = &serverErr
		}

		ev.Message = &msg
		return ev

	default:
		return ev
	}
}

func copyPayload(p protocol.Payload) protocol.Payload {
	return protocol.Payload{
		Parameter: copyString(p.Parameter),
		Flex:      p.Flex,
		Records:   copyRecords(p.Records),
		Entities:  copyEntities(p.Entities),
	}
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}

	c := *s
	return &c
}

func copyVector(v *protocol.Vector3) *protocol.Vector3 {
	if v == nil {
		return nil
	}

	c := *v
	return &c
}

// copyRecords keeps nil and empty slices apart.
func copyRecords(records []protocol.Record) []protocol.Record {
	if records == nil {
		return nil
	}

	out := make([]protocol.Record, len(records))
	for i, record := range records {
		record.Data = copyString(record.Data)
		out[i] = record
	}

	return out
}

func copyEntities(entities []protocol.Entity) []protocol.Entity {
	if entities == nil {
		return nil
	}

	out := make([]protocol.Entity, len(entities))
	for i, entity := range entities {
		entity.Data = copyString(entity.Data)
		out[i] = entity
	}

	return out
}

// channel adapts the dispatcher to a buffered channel. Events that do not
// fit are dropped rather than stalling the connection.
func (d *dispatcher) channel(buffer int) (<-chan Event, func()) {
	var (
		mu     sync.Mutex
		closed bool
		ch     = make(chan Event, buffer)
	)

	unsubscribe := d.subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()

		if closed {
			return
		}

		select {
		case ch <- ev:
		default:
			d.log.Warn("Notification channel is full, dropping event", zap.String("event", eventName(ev)))
		}
	})

	return ch, func() {
		unsubscribe()

		mu.Lock()
		defer mu.Unlock()

		if !closed {
			closed = true
			close(ch)
		}
	}
}

func eventName(ev Event) string {
	switch ev.(type) {
	case ReadyEvent:
		return "ready"
	case DisconnectEvent:
		return "disconnect"
	case ErrorEvent:
		return "error"
	case PeerConnectEvent:
		return "peer_connect"
	case PeerDisconnectEvent:
		return "peer_disconnect"
	case GlobalMessageEvent:
		return "global_message"
	case LocalMessageEvent:
		return "local_message"
	case RawMessageEvent:
		return "raw_message"
	default:
		return "unknown"
	}
}

// outbox collects callbacks and notifications while the Conn lock is held so
// they can run after it is released.
type outbox struct {
	dispatcher *dispatcher
	effects    []func()
}

func (o *outbox) emit(ev Event) {
	d := o.dispatcher
	o.effects = append(o.effects, func() { d.emit(ev) })
}

func (o *outbox) add(fn func()) {
	o.effects = append(o.effects, fn)
}

func (o *outbox) flush() {
	effects := o.effects
	o.effects = nil

	for _, fn := range effects {
		fn()
	}
}

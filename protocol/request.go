package protocol

import "github.com/luma/worldql/identity"

// Request is a client to server message.
type Request struct {
	Kind   Kind
	Sender identity.ID

	// Token is empty only on the handshake.
	Token string

	WorldName string

	// Replication is only sent for broadcasts; the zero value means ExceptSelf.
	Replication Replication

	// Lookup is only sent for record_get.
	Lookup Lookup

	// ServerAuth is an optional pre-shared credential sent with the handshake.
	ServerAuth *string

	// NoOnce is an optional heartbeat nonce echoed by the server.
	NoOnce *string

	Parameter *string
	Records   []Record
	Entities  []Entity
	Position  *Vector3
	Flex      Blob
}

// WithPayload copies a broadcast payload into the request.
func (r *Request) WithPayload(p Payload) *Request {
	r.Parameter = p.Parameter
	r.Flex = p.Flex
	r.Records = p.Records
	r.Entities = p.Entities
	return r
}

// Payload returns the broadcast body of the request.
func (r *Request) Payload() Payload {
	return Payload{
		Parameter: r.Parameter,
		Flex:      r.Flex,
		Records:   r.Records,
		Entities:  r.Entities,
	}
}

func (r *Request) usesWorldName() bool {
	switch r.Kind {
	case KindGlobalMessage, KindLocalMessage,
		KindWorldSubscribe, KindWorldUnsubscribe,
		KindAreaSubscribe, KindAreaUnsubscribe,
		KindRecordClear:
		return true

	case KindRecordGet:
		return r.Lookup == LookupArea

	default:
		return false
	}
}

func (r *Request) requiresPosition() bool {
	switch r.Kind {
	case KindLocalMessage, KindAreaSubscribe, KindAreaUnsubscribe:
		return true

	case KindRecordGet:
		return r.Lookup == LookupArea

	default:
		return false
	}
}

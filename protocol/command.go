package protocol

// Kind discriminates requests, replies and events on the wire.
type Kind string

const (
	KindHandshake        Kind = "handshake"
	KindHeartbeat        Kind = "heartbeat"
	KindGlobalMessage    Kind = "global_message"
	KindLocalMessage     Kind = "local_message"
	KindWorldSubscribe   Kind = "world_subscribe"
	KindWorldUnsubscribe Kind = "world_unsubscribe"
	KindAreaSubscribe    Kind = "area_subscribe"
	KindAreaUnsubscribe  Kind = "area_unsubscribe"
	KindRecordGet        Kind = "record_get"
	KindRecordSet        Kind = "record_set"
	KindRecordDelete     Kind = "record_delete"
	KindRecordClear      Kind = "record_clear"

	// Inbound only
	KindPeerConnect    Kind = "peer_connect"
	KindPeerDisconnect Kind = "peer_disconnect"
	KindSystemMessage  Kind = "system_message"
)

var requestKinds = map[Kind]struct{}{
	KindHandshake:        {},
	KindHeartbeat:        {},
	KindGlobalMessage:    {},
	KindLocalMessage:     {},
	KindWorldSubscribe:   {},
	KindWorldUnsubscribe: {},
	KindAreaSubscribe:    {},
	KindAreaUnsubscribe:  {},
	KindRecordGet:        {},
	KindRecordSet:        {},
	KindRecordDelete:     {},
	KindRecordClear:      {},
}

// IsRequest reports whether a client may send this kind.
func (k Kind) IsRequest() bool {
	_, ok := requestKinds[k]
	return ok
}

// ExpectsReply is false for broadcasts, which the server never answers.
func (k Kind) ExpectsReply() bool {
	return k.IsRequest() && !k.IsBroadcast()
}

func (k Kind) IsBroadcast() bool {
	return k == KindGlobalMessage || k == KindLocalMessage
}

// HasStatus is true for replies that carry an ok/error status.
func (k Kind) HasStatus() bool {
	return k.ExpectsReply() && k != KindHeartbeat
}

func (k Kind) String() string {
	return string(k)
}

// MessageType tags an inbound message as unsolicited or as an answer.
type MessageType string

const (
	TypeReply MessageType = "reply"
	TypeEvent MessageType = "event"
)

// Replication controls which peers receive a broadcast.
type Replication string

const (
	ExceptSelf    Replication = "except_self"
	IncludingSelf Replication = "including_self"
	OnlySelf      Replication = "only_self"
)

// OrDefault maps the zero value to ExceptSelf.
func (r Replication) OrDefault() Replication {
	if r == "" {
		return ExceptSelf
	}

	return r
}

func (r Replication) Valid() bool {
	switch r {
	case ExceptSelf, IncludingSelf, OnlySelf:
		return true
	default:
		return false
	}
}

// Lookup selects how a record_get request addresses records.
type Lookup string

const (
	LookupArea Lookup = "area"
	LookupUUID Lookup = "uuid"
)

type Status string

const (
	StatusOk    Status = "ok"
	StatusError Status = "error"
)

// SystemMessage is the sub-kind of a system_message event.
type SystemMessage string

const (
	SystemDisconnect   SystemMessage = "disconnect"
	SystemUnknownError SystemMessage = "unknown_error"
)

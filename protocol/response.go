package protocol

import (
	"fmt"

	"github.com/luma/worldql/identity"
)

// ServerError is the error half of a status-bearing reply, or the body of an
// unknown_error system message.
type ServerError struct {
	Code    int64
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// Message is a server to client message. Type says whether it answers a
// request (a reply) or was pushed by the server (an event).
type Message struct {
	Type MessageType
	Kind Kind

	// Status is only set on status-bearing replies.
	Status Status
	Error  *ServerError

	// AuthToken is returned by a successful handshake.
	AuthToken *string
	NoOnce    *string

	// Sender is the peer that originated a broadcast.
	Sender identity.ID

	// Peer is the subject of peer_connect / peer_disconnect.
	Peer identity.ID

	WorldName string
	Position  *Vector3

	Parameter *string
	Records   []Record
	Entities  []Entity
	Flex      Blob

	// Set on system_message events only.
	System SystemMessage
	Reason string
}

// IsReply reports whether the message answers a request.
func (m *Message) IsReply() bool {
	return m.Type == TypeReply
}

// ErrorOrNil returns an error if the message carries an error status.
// Otherwise it returns nil.
func (m *Message) ErrorOrNil() error {
	if m.Status == StatusError {
		if m.Error == nil {
			return &ServerError{}
		}
		return m.Error
	}

	return nil
}

// Payload returns the broadcast body of the message.
func (m *Message) Payload() Payload {
	return Payload{
		Parameter: m.Parameter,
		Flex:      m.Flex,
		Records:   m.Records,
		Entities:  m.Entities,
	}
}

func (m *Message) requiresSender() bool {
	return m.Type == TypeEvent && m.Kind.IsBroadcast()
}

func (m *Message) requiresWorldName() bool {
	return m.Type == TypeEvent && m.Kind.IsBroadcast()
}

func (m *Message) requiresPeer() bool {
	return m.Type == TypeEvent && (m.Kind == KindPeerConnect || m.Kind == KindPeerDisconnect)
}

package client

import (
	"errors"
	"fmt"

	"github.com/luma/worldql/protocol"
)

var (
	ErrAlreadyConnected  = errors.New("Cannot connect if already connected")
	ErrNotReady          = errors.New("Cannot send messages before the client is ready")
	ErrProtocolViolation = errors.New("Protocol violation")
	ErrDisconnected      = errors.New("Connection closed")
	ErrRequestTimeout    = errors.New("Request timed out waiting for a reply")
	ErrReservedKind      = errors.New("Request kind is reserved for the connection itself")
)

// ServerError is returned when the server answers with an error status, and
// carried by ErrorEvent for unknown_error system messages.
type ServerError = protocol.ServerError

// TransportError wraps failures of the underlying connection.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

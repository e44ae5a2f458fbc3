package client

// State of a Conn. A Conn starts and ends Disconnected.
type State int

const (
	Disconnected State = iota

	// Connecting means the transport is being opened
	Connecting

	// AwaitingHandshake means the handshake request was sent and no token
	// has arrived yet
	AwaitingHandshake

	// Ready means the handshake completed and requests may be sent
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingHandshake:
		return "awaiting_handshake"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

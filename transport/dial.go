package transport

import (
	"context"
	"net"
)

// dialState tracks an in-progress dial so Close can abort it. It is guarded
// by the lock of the transport that owns it, the dial itself runs unlocked.
type dialState struct {
	dialing bool
	closed  bool
	cancel  context.CancelFunc
}

// begin claims the transport for one dial. opened is true once a previous
// dial has succeeded.
func (d *dialState) begin(ctx context.Context, opened bool) (context.Context, error) {
	if d.closed || opened || d.dialing {
		return nil, ErrClosed
	}

	dialCtx, cancel := context.WithCancel(ctx)
	d.dialing = true
	d.cancel = cancel

	return dialCtx, nil
}

// end releases the dial. It returns ErrClosed if Close ran while dialing.
func (d *dialState) end() error {
	d.dialing = false
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}

	if d.closed {
		return ErrClosed
	}

	return nil
}

func (d *dialState) abort() {
	d.closed = true
	if d.cancel != nil {
		d.cancel()
	}
}

// closeOnCancel closes conn if ctx is cancelled before done is closed. It
// interrupts protocol handshakes that only honour deadlines.
func closeOnCancel(ctx context.Context, conn net.Conn, done <-chan struct{}) {
	select {
	case <-done:

	case <-ctx.Done():
		select {
		case <-done:
		default:
			conn.Close()
		}
	}
}

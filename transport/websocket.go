package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/worldql/protocol"
)

const closeGracePeriod = time.Second

// WebSocket carries one envelope per binary WebSocket message.
type WebSocket struct {
	options Options

	mu     sync.Mutex
	pump   *pump
	dialer dialState

	log *zap.Logger
}

func NewWebSocket(options Options) *WebSocket {
	options = options.withDefaults()

	return &WebSocket{
		options: options,
		log:     options.Log.Named("websocket"),
	}
}

func (w *WebSocket) Open(ctx context.Context, events Events) error {
	w.mu.Lock()
	dialCtx, err := w.dialer.begin(ctx, w.pump != nil)
	w.mu.Unlock()

	if err != nil {
		return fmt.Errorf("Transport to %s cannot be opened: %w", w.options.URL, err)
	}

	handshakeDone := make(chan struct{})
	netDialer := net.Dialer{Timeout: w.options.DialTimeout}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: w.options.DialTimeout,

		// The upgrade only honours deadlines, Close has to close the socket
		NetDial: func(network, addr string) (net.Conn, error) {
			conn, err := netDialer.DialContext(dialCtx, network, addr)
			if err != nil {
				return nil, err
			}

			go closeOnCancel(dialCtx, conn, handshakeDone)
			return conn, nil
		},
	}

	// The response body does not need to be closed, see websocket.Dialer.Dial
	conn, _, err := dialer.DialContext(dialCtx, w.options.URL, w.options.Header)
	close(handshakeDone)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.dialer.end(); err != nil {
		if conn != nil {
			conn.Close()
		}
		return err
	}

	if err != nil {
		return err
	}

	maxFrameSize := w.options.MaxFrameSize
	if maxFrameSize <= 0 {
		maxFrameSize = protocol.DefaultMaxFrameSize
	}
	conn.SetReadLimit(int64(maxFrameSize))

	w.log.Info("Connected", zap.String("url", w.options.URL))

	w.pump = newPump(&wsConn{
		conn:         conn,
		writeTimeout: w.options.WriteTimeout,
		log:          w.log,
	}, events, w.options)
	w.pump.log = w.log
	w.pump.start()

	return nil
}

func (w *WebSocket) Send(frame []byte) error {
	p := w.current()
	if p == nil {
		return ErrClosed
	}

	return p.send(frame)
}

// Close sends a close message and closes the connection without waiting for
// the server to acknowledge it.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	w.dialer.abort()
	p := w.pump
	w.mu.Unlock()

	if p == nil {
		return nil
	}

	return p.close()
}

// Wait blocks until the read and write loops have exited.
func (w *WebSocket) Wait() {
	if p := w.current(); p != nil {
		p.wait()
	}
}

func (w *WebSocket) current() *pump {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.pump
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	log          *zap.Logger
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		if messageType == websocket.BinaryMessage {
			return data, nil
		}

		c.log.Warn("Dropping non-binary message", zap.Int("messageType", messageType))
	}
}

func (c *wsConn) WriteFrame(frame []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}

	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) Close() (err error) {
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")

	// WriteControl may run concurrently with the write loop
	werr := c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeGracePeriod))
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		err = multierr.Append(err, werr)
	}

	return multierr.Append(err, c.conn.Close())
}

func (c *wsConn) Reason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Text != "" {
			return closeErr.Text
		}
		return fmt.Sprintf("closed by server (%d)", closeErr.Code)
	}

	return err.Error()
}

var _ Transport = (*WebSocket)(nil)

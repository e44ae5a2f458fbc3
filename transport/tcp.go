package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/worldql/protocol"
)

// TCP speaks length-prefixed envelopes over a plain TCP connection.
type TCP struct {
	options Options
	addr    string

	mu     sync.Mutex
	pump   *pump
	dialer dialState

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	options = options.withDefaults()

	addr := options.URL
	if u, err := url.Parse(options.URL); err == nil && u.Host != "" {
		addr = u.Host
	}

	return &TCP{
		options: options,
		addr:    addr,
		log:     options.Log.Named("tcp"),
	}
}

func (t *TCP) Open(ctx context.Context, events Events) error {
	t.mu.Lock()
	dialCtx, err := t.dialer.begin(ctx, t.pump != nil)
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("Transport to %s cannot be opened: %w", t.addr, err)
	}

	dialer := net.Dialer{Timeout: t.options.DialTimeout}
	conn, err := dialer.DialContext(dialCtx, "tcp", t.addr)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.dialer.end(); err != nil {
		if conn != nil {
			conn.Close()
		}
		return err
	}

	if err != nil {
		return err
	}

	t.log.Info("Connected", zap.String("addr", t.addr))

	t.pump = newPump(&tcpConn{
		conn:         conn.(*net.TCPConn),
		maxFrameSize: t.options.MaxFrameSize,
		writeTimeout: t.options.WriteTimeout,
	}, events, t.options)
	t.pump.log = t.log
	t.pump.start()

	return nil
}

func (t *TCP) Send(frame []byte) error {
	p := t.current()
	if p == nil {
		return ErrClosed
	}

	return p.send(frame)
}

// Close immediately closes the connection. The read loop reports the close
// through Events.OnClose.
func (t *TCP) Close() error {
	t.mu.Lock()
	t.dialer.abort()
	p := t.pump
	t.mu.Unlock()

	if p == nil {
		return nil
	}

	return p.close()
}

// Wait blocks until the read and write loops have exited.
func (t *TCP) Wait() {
	if p := t.current(); p != nil {
		p.wait()
	}
}

func (t *TCP) current() *pump {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.pump
}

type tcpConn struct {
	conn         *net.TCPConn
	maxFrameSize int
	writeTimeout time.Duration
}

func (c *tcpConn) ReadFrame() ([]byte, error) {
	return protocol.ReadFrame(c.conn, c.maxFrameSize)
}

func (c *tcpConn) WriteFrame(frame []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}

	return protocol.WriteFrame(c.conn, frame)
}

func (c *tcpConn) Close() (err error) {
	// Stop writing first so the server sees a clean FIN, then release the socket
	if cerr := c.conn.CloseWrite(); cerr != nil && !strings.Contains(cerr.Error(), "transport endpoint is not connected") {
		err = multierr.Append(err, cerr)
	}

	if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, cerr)
	}

	return err
}

func (c *tcpConn) Reason(err error) string {
	if errors.Is(err, io.EOF) {
		return "server closed the connection"
	}

	return err.Error()
}

var _ Transport = (*TCP)(nil)

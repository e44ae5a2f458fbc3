package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/luma/worldql/identity"
	"github.com/luma/worldql/protocol"
	"github.com/luma/worldql/transport"
)

type Options struct {
	// URL of the server, used when NewTransport is nil
	URL string

	// ServerAuth is an optional pre-shared credential sent with the handshake
	ServerAuth *string

	// RequestTimeout rejects a request that has waited this long for its
	// reply. Zero waits forever.
	RequestTimeout time.Duration

	// HeartbeatInterval sends a heartbeat on this interval while ready. Zero
	// disables heartbeats.
	HeartbeatInterval time.Duration

	// NewTransport returns a fresh, unopened transport for each Connect
	NewTransport func() (transport.Transport, error)

	Log *zap.Logger
}

// Conn is a WorldQL client connection. A Conn can be connected, disconnected
// and connected again. Each connection attempt gets a new identity.
type Conn struct {
	options Options
	events  *dispatcher

	mu    sync.Mutex
	state State
	sess  *session

	log *zap.Logger
}

// session is one connection attempt. Everything that arrives for a session
// that is no longer current is ignored.
type session struct {
	conn      *Conn
	id        identity.ID
	token     string
	transport transport.Transport
	queue     sendQueue

	closed bool
	done   chan struct{}
	ready  chan struct{}

	heartbeating int32
}

func (s *session) OnMessage(frame []byte) {
	s.conn.handleFrame(s, frame)
}

func (s *session) OnClose(reason string, err error) {
	s.conn.handleClose(s, reason, err)
}

var _ transport.Events = (*session)(nil)

func New(options Options) *Conn {
	if options.Log == nil {
		options.Log = zap.NewNop()
	}

	log := options.Log.Named("client")

	if options.NewTransport == nil {
		transportOptions := transport.Options{
			URL:          options.URL,
			WriteTimeout: transport.DefaultWriteTimeout,
			Log:          options.Log,
		}

		options.NewTransport = func() (transport.Transport, error) {
			return transport.New(transportOptions)
		}
	}

	return &Conn{
		options: options,
		events:  newDispatcher(log),
		log:     log,
	}
}

// Connect opens a transport and sends the handshake. It returns once the
// handshake is on the wire, use WaitReady or a ReadyEvent to learn when the
// connection can be used.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}

	t, err := c.options.NewTransport()
	if err != nil {
		c.mu.Unlock()
		return &TransportError{Err: err}
	}

	s := &session{
		conn:      c,
		id:        identity.Generate(),
		transport: t,
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
	}

	c.sess = s
	c.state = Connecting
	c.mu.Unlock()

	c.log.Debug("Connecting", zap.Stringer("uuid", s.id))

	if err := t.Open(ctx, s); err != nil {
		c.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.done)

			if c.sess == s {
				c.sess = nil
				c.state = Disconnected
			}
		}
		c.mu.Unlock()

		return &TransportError{Err: err}
	}

	var out = outbox{dispatcher: c.events}

	c.mu.Lock()
	if s.closed {
		// Disconnect was called while the transport was opening
		c.mu.Unlock()
		_ = t.Close()
		return ErrDisconnected
	}

	c.state = AwaitingHandshake

	handshake, err := protocol.EncodeRequest(&protocol.Request{
		Kind:       protocol.KindHandshake,
		Sender:     s.id,
		ServerAuth: c.options.ServerAuth,
	})
	if err == nil {
		err = t.Send(handshake)
	}

	if err != nil {
		err = &TransportError{Err: err}
		out.emit(ErrorEvent{Err: err})
		closing := c.teardownLocked(s, &out, "handshake failed")
		c.mu.Unlock()

		out.flush()
		closeTransport(closing)
		return err
	}

	c.mu.Unlock()
	return nil
}

// Disconnect closes the current connection, if any. Pending requests are
// discarded without their callbacks being invoked.
func (c *Conn) Disconnect() error {
	var out = outbox{dispatcher: c.events}

	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return nil
	}

	closing := c.teardownLocked(s, &out, "client disconnect")
	c.mu.Unlock()

	out.flush()

	if closing == nil {
		return nil
	}

	return closing.Close()
}

// Connected is true from the moment the transport opens until it closes.
func (c *Conn) Connected() bool {
	state := c.State()
	return state == AwaitingHandshake || state == Ready
}

// Ready is true once the handshake has completed.
func (c *Conn) Ready() bool {
	return c.State() == Ready
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// UUID returns the identity of the current connection.
func (c *Conn) UUID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Ready {
		return "", ErrNotReady
	}

	return c.sess.id.String(), nil
}

// WaitReady blocks until the current connection attempt is ready.
func (c *Conn) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()

	if s == nil {
		return ErrDisconnected
	}

	select {
	case <-s.ready:
		return nil

	case <-s.done:
		return ErrDisconnected

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers h for every notification. Handlers are called in the
// order they subscribed.
func (c *Conn) Subscribe(h Handler) (unsubscribe func()) {
	return c.events.subscribe(h)
}

// Notifications delivers events on a channel. Events are dropped if the
// channel buffer is full. Call cancel to stop delivery and close the channel.
func (c *Conn) Notifications(buffer int) (<-chan Event, func()) {
	return c.events.channel(buffer)
}

func (c *Conn) handleFrame(s *session, frame []byte) {
	log := c.log.Named("handleFrame")

	msg, decodeErr := protocol.DecodeMessage(frame)

	var (
		out     = outbox{dispatcher: c.events}
		closing transport.Transport
	)

	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		return
	}

	switch {
	case decodeErr != nil && c.state == Ready:
		log.Warn("Dropping malformed message", zap.Error(decodeErr))

	case decodeErr != nil:
		log.Warn("Malformed message before handshake completed", zap.Error(decodeErr))
		out.emit(ErrorEvent{Err: decodeErr})
		closing = c.teardownLocked(s, &out, "malformed handshake reply")

	case msg.IsReply():
		closing = c.handleReplyLocked(s, msg, &out)

	default:
		c.handleEventLocked(msg, &out)
	}

	c.mu.Unlock()

	out.flush()
	closeTransport(closing)
}

func (c *Conn) handleReplyLocked(s *session, msg *protocol.Message, out *outbox) transport.Transport {
	if msg.Kind == protocol.KindHandshake {
		return c.handleHandshakeLocked(s, msg, out)
	}

	p := s.queue.inflight

	var violation error
	switch {
	case p == nil:
		violation = fmt.Errorf("%w: '%s' reply with no request in flight", ErrProtocolViolation, msg.Kind)

	case p.kind != msg.Kind:
		violation = fmt.Errorf("%w: '%s' reply while waiting for '%s'", ErrProtocolViolation, msg.Kind, p.kind)
	}

	if violation != nil {
		c.log.Warn("Closing connection", zap.Error(violation))
		out.emit(ErrorEvent{Err: violation})
		return c.teardownLocked(s, out, "protocol violation")
	}

	s.queue.complete(p)
	out.add(func() {
		p.resolve(msg, msg.ErrorOrNil())
	})

	return c.drainLocked(s, out)
}

func (c *Conn) handleHandshakeLocked(s *session, msg *protocol.Message, out *outbox) transport.Transport {
	if c.state != AwaitingHandshake {
		c.log.Warn("Ignoring unexpected handshake reply", zap.Stringer("state", c.state))
		return nil
	}

	if err := msg.ErrorOrNil(); err != nil {
		out.emit(ErrorEvent{Err: err})
		return c.teardownLocked(s, out, "handshake rejected")
	}

	if msg.AuthToken == nil {
		err := fmt.Errorf("%w: handshake reply without an auth token", ErrProtocolViolation)
		out.emit(ErrorEvent{Err: err})
		return c.teardownLocked(s, out, "handshake rejected")
	}

	s.token = *msg.AuthToken
	c.state = Ready
	close(s.ready)

	c.log.Info("Ready", zap.Stringer("uuid", s.id))
	out.emit(ReadyEvent{UUID: s.id.String()})

	if c.options.HeartbeatInterval > 0 {
		go c.heartbeatLoop(s)
	}

	return c.drainLocked(s, out)
}

func (c *Conn) handleEventLocked(msg *protocol.Message, out *outbox) {
	out.emit(RawMessageEvent{Message: msg})

	ev, ok := classify(msg)
	if !ok {
		c.log.Info("Dropping unrecognised event", zap.Stringer("event", msg.Kind))
		return
	}

	out.emit(ev)
}

func (c *Conn) handleClose(s *session, reason string, err error) {
	var out = outbox{dispatcher: c.events}

	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		return
	}

	if err != nil {
		out.emit(ErrorEvent{Err: &TransportError{Err: err}})
	}

	if reason == "" {
		reason = "connection closed"
	}

	// The transport is already closed, there is nothing to close here
	c.teardownLocked(s, &out, reason)
	c.mu.Unlock()

	out.flush()
}

// teardownLocked ends a session. It returns the transport the caller must
// close once the lock is released, or nil if the session had already ended.
func (c *Conn) teardownLocked(s *session, out *outbox, reason string) transport.Transport {
	if s.closed {
		return nil
	}

	s.closed = true
	s.queue.reset()
	close(s.done)

	if c.sess == s {
		c.sess = nil
		c.state = Disconnected
	}

	c.log.Info("Disconnected", zap.Stringer("uuid", s.id), zap.String("reason", reason))
	out.emit(DisconnectEvent{Reason: reason})

	return s.transport
}

// enqueueLocked encodes req for s and queues it.
func (c *Conn) enqueueLocked(s *session, req *protocol.Request, done Callback, out *outbox) (transport.Transport, error) {
	stamped := *req
	stamped.Sender = s.id
	stamped.Token = s.token

	frame, err := protocol.EncodeRequest(&stamped)
	if err != nil {
		return nil, err
	}

	s.queue.push(&pending{
		kind:  stamped.Kind,
		frame: frame,
		done:  done,
	})

	return c.drainLocked(s, out), nil
}

// drainLocked transmits queued messages until one needs a reply.
func (c *Conn) drainLocked(s *session, out *outbox) transport.Transport {
	if s.closed || c.sess != s || c.state != Ready {
		return nil
	}

	for {
		p := s.queue.pop()
		if p == nil {
			return nil
		}

		if err := s.transport.Send(p.frame); err != nil {
			sendErr := &TransportError{Err: err}

			out.add(func() {
				p.resolve(nil, sendErr)
			})
			out.emit(ErrorEvent{Err: sendErr})

			return c.teardownLocked(s, out, "send failed")
		}

		if !p.kind.ExpectsReply() {
			out.add(func() {
				p.resolve(nil, nil)
			})
			continue
		}

		s.queue.setInflight(p)

		if c.options.RequestTimeout > 0 {
			p.timer = time.AfterFunc(c.options.RequestTimeout, func() {
				c.expire(s, p)
			})
		}

		return nil
	}
}

func (c *Conn) expire(s *session, p *pending) {
	var out = outbox{dispatcher: c.events}

	c.mu.Lock()
	if s.closed || !s.queue.complete(p) {
		c.mu.Unlock()
		return
	}

	c.log.Warn("Request timed out", zap.Stringer("request", p.kind), zap.Duration("timeout", c.options.RequestTimeout))

	out.add(func() {
		p.resolve(nil, ErrRequestTimeout)
	})

	closing := c.drainLocked(s, &out)
	c.mu.Unlock()

	out.flush()
	closeTransport(closing)
}

func (c *Conn) heartbeatLoop(s *session) {
	log := c.log.Named("heartbeatLoop")

	ticker := time.NewTicker(c.options.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case <-ticker.C:
			// Skip the beat if the last one has not been answered yet
			if !atomic.CompareAndSwapInt32(&s.heartbeating, 0, 1) {
				continue
			}

			_, err := c.send(s, &protocol.Request{Kind: protocol.KindHeartbeat}, func(_ *protocol.Message, err error) {
				atomic.StoreInt32(&s.heartbeating, 0)

				if err != nil {
					log.Warn("Heartbeat failed", zap.Error(err))
				}
			})
			if err != nil {
				log.Warn("Failed to send heartbeat", zap.Error(err))
				return
			}
		}
	}
}

func closeTransport(t transport.Transport) {
	if t != nil {
		_ = t.Close()
	}
}

package transport

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// frameConn is the medium specific half of a connection.
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error

	// Reason renders the error that ended the read loop for humans.
	Reason(err error) string
}

// pump owns the read and write loops of an open connection.
type pump struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	conn       frameConn
	events     Events
	writeQueue chan []byte

	mu            sync.Mutex
	closedLocally bool

	closeOnce sync.Once
	closeErr  error

	log   *zap.Logger
	trace bool
}

func newPump(conn frameConn, events Events, options Options) *pump {
	ctx, cancel := context.WithCancel(context.Background())

	return &pump{
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		events:     events,
		writeQueue: make(chan []byte, options.WriteQueueSize),
		log:        options.Log,
		trace:      options.Trace,
	}
}

func (p *pump) start() {
	p.loopWaiter.Add(2)

	go func() {
		defer p.loopWaiter.Done()
		p.readLoop()
	}()

	go func() {
		defer p.loopWaiter.Done()
		p.writeLoop()
	}()
}

func (p *pump) readLoop() {
	log := p.log.Named("readLoop")

	for {
		frame, err := p.conn.ReadFrame()
		if err != nil {
			reason := p.conn.Reason(err)

			p.mu.Lock()
			local := p.closedLocally
			p.mu.Unlock()

			if local {
				reason, err = "client closed", nil
			} else {
				log.Info("Connection closed", zap.String("reason", reason), zap.Error(err))
			}

			// Stop the write loop if the remote end went away
			p.shutdown()
			p.events.OnClose(reason, err)
			return
		}

		if p.trace {
			log.Debug("READ", zap.Binary("frame", frame))
		}

		p.events.OnMessage(frame)
	}
}

func (p *pump) writeLoop() {
	log := p.log.Named("writeLoop")

	for {
		select {
		case <-p.ctx.Done():
			return

		case frame := <-p.writeQueue:
			if p.trace {
				log.Debug("WRITE", zap.Binary("frame", frame))
			}

			if err := p.conn.WriteFrame(frame); err != nil {
				log.Warn("Failed to write frame, closing", zap.Error(err))

				// Closing the conn unblocks the read loop, which reports the close
				p.shutdown()
				return
			}
		}
	}
}

// send queues a frame for the write loop. It never blocks, a full queue
// means the server stopped reading and is reported as ErrWriteQueueFull.
func (p *pump) send(frame []byte) error {
	if !p.isRunning() {
		return ErrClosed
	}

	select {
	case p.writeQueue <- frame:
		return nil

	case <-p.ctx.Done():
		return ErrClosed

	default:
		return ErrWriteQueueFull
	}
}

func (p *pump) close() error {
	p.mu.Lock()
	p.closedLocally = true
	p.mu.Unlock()

	return p.shutdown()
}

func (p *pump) shutdown() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.closeErr = p.conn.Close()
	})

	return p.closeErr
}

// wait blocks until both loops have exited. It must not be called from
// inside an Events callback.
func (p *pump) wait() {
	p.loopWaiter.Wait()
}

// isRunning returns true if the connection has not been shut down
func (p *pump) isRunning() bool {
	select {
	case <-p.ctx.Done():
		return false

	default:
		return true
	}
}

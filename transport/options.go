package transport

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultWriteQueueSize = 127
	DefaultDialTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
)

type Options struct {
	// URL of the WorldQL server. ws:// and wss:// select the WebSocket
	// transport, tcp:// selects length-prefixed frames over TCP.
	URL string

	// Header is sent with the WebSocket upgrade request
	Header http.Header

	DialTimeout time.Duration

	// WriteTimeout bounds each frame write, zero means DefaultWriteTimeout
	WriteTimeout time.Duration

	// MaxFrameSize bounds inbound frames, zero means protocol.DefaultMaxFrameSize
	MaxFrameSize int

	WriteQueueSize int

	// Trace will log every frame. This is only useful in local debugging
	Trace bool

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}

	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}

	if o.WriteQueueSize <= 0 {
		o.WriteQueueSize = DefaultWriteQueueSize
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}

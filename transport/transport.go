package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrClosed            = errors.New("Transport is closed")
	ErrUnsupportedScheme = errors.New("Unsupported transport scheme")
	ErrWriteQueueFull    = errors.New("Write queue is full")
)

// Events receives everything a Transport reads once Open has succeeded.
// OnMessage is never called concurrently with itself, and OnClose is called
// exactly once, after the last OnMessage.
type Events interface {
	OnMessage(frame []byte)
	OnClose(reason string, err error)
}

// Transport is a single connection to a WorldQL server. It is not reusable,
// a fresh Transport is needed for every connection attempt.
type Transport interface {
	// Open blocks until the connection is established.
	Open(ctx context.Context, events Events) error

	// Send queues one envelope for writing. It must not block: a full
	// write queue is an error.
	Send(frame []byte) error

	// Close tears the connection down without waiting for the remote end.
	Close() error
}

// New picks a Transport implementation from the URL scheme.
func New(options Options) (Transport, error) {
	u, err := url.Parse(options.URL)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse '%s': %w", options.URL, err)
	}

	switch u.Scheme {
	case "ws", "wss":
		return NewWebSocket(options), nil

	case "tcp":
		return NewTCP(options), nil

	default:
		return nil, fmt.Errorf("'%s': %w", u.Scheme, ErrUnsupportedScheme)
	}
}

// ResolveURL forces the scheme of rawURL to match a transport name, either
// "websocket" or "tcp". An empty name leaves rawURL alone.
func ResolveURL(rawURL, name string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("Failed to parse '%s': %w", rawURL, err)
	}

	switch name {
	case "":
		return rawURL, nil

	case "websocket", "ws":
		if u.Scheme != "ws" && u.Scheme != "wss" {
			u.Scheme = "ws"
		}

	case "tcp":
		u.Scheme = "tcp"

	default:
		return "", fmt.Errorf("'%s': %w", name, ErrUnsupportedScheme)
	}

	return u.String(), nil
}

// Factory returns a constructor for fresh transports, as expected by
// client.Options.
func Factory(options Options) (func() (Transport, error), error) {
	if _, err := New(options); err != nil {
		return nil, err
	}

	return func() (Transport, error) {
		return New(options)
	}, nil
}

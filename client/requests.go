package client

import (
	"context"

	"github.com/luma/worldql/identity"
	"github.com/luma/worldql/protocol"
)

// Send queues a raw request. Sender and token are filled in from the
// connection. done is called exactly once with the reply, or with the
// failure, unless the connection drops first, in which case it is never
// called. done may be nil.
//
// Send fails synchronously with ErrNotReady before the handshake completes
// and with an encoding error if req is malformed. Nothing is transmitted in
// either case.
func (c *Conn) Send(req *protocol.Request, done Callback) error {
	_, err := c.send(nil, req, done)
	return err
}

// send queues req on s, or on the current session when s is nil.
func (c *Conn) send(s *session, req *protocol.Request, done Callback) (*session, error) {
	if req.Kind == protocol.KindHandshake {
		return nil, ErrReservedKind
	}

	var out = outbox{dispatcher: c.events}

	c.mu.Lock()
	if s == nil {
		s = c.sess
	}

	if s == nil || s != c.sess || c.state != Ready {
		c.mu.Unlock()
		return nil, ErrNotReady
	}

	closing, err := c.enqueueLocked(s, req, done, &out)
	c.mu.Unlock()

	out.flush()
	closeTransport(closing)

	return s, err
}

type result struct {
	reply *protocol.Message
	err   error
}

// request sends req and blocks until it resolves.
func (c *Conn) request(ctx context.Context, req *protocol.Request) (*protocol.Message, error) {
	results := make(chan result, 1)

	s, err := c.send(nil, req, func(reply *protocol.Message, err error) {
		results <- result{reply: reply, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-results:
		return r.reply, r.err

	case <-s.done:
		// The reply may have been handled just before the connection closed
		select {
		case r := <-results:
			return r.reply, r.err
		default:
			return nil, ErrDisconnected
		}

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GlobalMessage sends payload to every client subscribed to worldName.
func (c *Conn) GlobalMessage(worldName string, replication protocol.Replication, payload protocol.Payload) error {
	req := &protocol.Request{
		Kind:        protocol.KindGlobalMessage,
		WorldName:   worldName,
		Replication: replication,
	}

	return c.Send(req.WithPayload(payload), nil)
}

// LocalMessage sends payload to every client subscribed to the area around
// position in worldName.
func (c *Conn) LocalMessage(worldName string, position protocol.VectorLike, replication protocol.Replication, payload protocol.Payload) error {
	req := &protocol.Request{
		Kind:        protocol.KindLocalMessage,
		WorldName:   worldName,
		Replication: replication,
		Position:    protocol.PositionOf(position),
	}

	return c.Send(req.WithPayload(payload), nil)
}

func (c *Conn) Heartbeat(ctx context.Context) error {
	_, err := c.request(ctx, &protocol.Request{Kind: protocol.KindHeartbeat})
	return err
}

func (c *Conn) WorldSubscribe(ctx context.Context, worldName string) error {
	_, err := c.request(ctx, &protocol.Request{
		Kind:      protocol.KindWorldSubscribe,
		WorldName: worldName,
	})
	return err
}

func (c *Conn) WorldUnsubscribe(ctx context.Context, worldName string) error {
	_, err := c.request(ctx, &protocol.Request{
		Kind:      protocol.KindWorldUnsubscribe,
		WorldName: worldName,
	})
	return err
}

// AreaSubscribe subscribes to local messages for the area containing
// position.
func (c *Conn) AreaSubscribe(ctx context.Context, worldName string, position protocol.VectorLike) error {
	_, err := c.request(ctx, &protocol.Request{
		Kind:      protocol.KindAreaSubscribe,
		WorldName: worldName,
		Position:  protocol.PositionOf(position),
	})
	return err
}

func (c *Conn) AreaUnsubscribe(ctx context.Context, worldName string, position protocol.VectorLike) error {
	_, err := c.request(ctx, &protocol.Request{
		Kind:      protocol.KindAreaUnsubscribe,
		WorldName: worldName,
		Position:  protocol.PositionOf(position),
	})
	return err
}

// RecordGetArea returns the records stored in the area containing position.
func (c *Conn) RecordGetArea(ctx context.Context, worldName string, position protocol.VectorLike) ([]protocol.Record, error) {
	return c.recordGet(ctx, &protocol.Request{
		Kind:      protocol.KindRecordGet,
		Lookup:    protocol.LookupArea,
		WorldName: worldName,
		Position:  protocol.PositionOf(position),
	})
}

// RecordGetUUIDs returns the records of worldName with the given ids.
func (c *Conn) RecordGetUUIDs(ctx context.Context, worldName string, ids ...identity.ID) ([]protocol.Record, error) {
	records := make([]protocol.Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, protocol.Record{UUID: id, WorldName: worldName})
	}

	return c.recordGet(ctx, &protocol.Request{
		Kind:    protocol.KindRecordGet,
		Lookup:  protocol.LookupUUID,
		Records: records,
	})
}

func (c *Conn) recordGet(ctx context.Context, req *protocol.Request) ([]protocol.Record, error) {
	reply, err := c.request(ctx, req)
	if err != nil {
		return nil, err
	}

	if reply.Records == nil {
		return []protocol.Record{}, nil
	}

	return reply.Records, nil
}

// RecordSet creates or replaces records.
func (c *Conn) RecordSet(ctx context.Context, records []protocol.Record) error {
	_, err := c.request(ctx, &protocol.Request{
		Kind:    protocol.KindRecordSet,
		Records: records,
	})
	return err
}

// RecordDelete deletes records. Only their uuid and world name are used.
func (c *Conn) RecordDelete(ctx context.Context, records []protocol.Record) error {
	_, err := c.request(ctx, &protocol.Request{
		Kind:    protocol.KindRecordDelete,
		Records: records,
	})
	return err
}

// RecordClearWorld deletes every record in worldName.
func (c *Conn) RecordClearWorld(ctx context.Context, worldName string) error {
	_, err := c.request(ctx, &protocol.Request{
		Kind:      protocol.KindRecordClear,
		WorldName: worldName,
	})
	return err
}

// RecordClearArea deletes every record in the area containing position.
func (c *Conn) RecordClearArea(ctx context.Context, worldName string, position protocol.VectorLike) error {
	_, err := c.request(ctx, &protocol.Request{
		Kind:      protocol.KindRecordClear,
		WorldName: worldName,
		Position:  protocol.PositionOf(position),
	})
	return err
}

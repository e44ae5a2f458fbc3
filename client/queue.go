package client

import (
	"time"

	"github.com/luma/worldql/protocol"
)

// Callback resolves a request. reply is nil when err is a local failure
// (timeout, transport) and for broadcasts, which have no reply.
type Callback func(reply *protocol.Message, err error)

type pending struct {
	kind  protocol.Kind
	frame []byte
	done  Callback

	// timer is set while the request is in flight and a timeout is configured
	timer *time.Timer
}

func (p *pending) resolve(reply *protocol.Message, err error) {
	if p.done != nil {
		p.done(reply, err)
	}
}

// sendQueue orders outbound traffic and holds the single in-flight slot.
//
// The wire format has no correlation id, so a reply can only be paired with
// a request when there is exactly one request waiting for it. Broadcasts are
// never answered and never occupy the slot, but they keep their place in
// the queue.
type sendQueue struct {
	items    []*pending
	inflight *pending
}

func (q *sendQueue) push(p *pending) {
	q.items = append(q.items, p)
}

// pop returns the head of the queue, or nil when it is empty or a request
// is in flight.
func (q *sendQueue) pop() *pending {
	if q.inflight != nil || len(q.items) == 0 {
		return nil
	}

	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]

	return p
}

func (q *sendQueue) setInflight(p *pending) {
	q.inflight = p
}

// complete clears the in-flight slot if p occupies it.
func (q *sendQueue) complete(p *pending) bool {
	if q.inflight == nil || q.inflight != p {
		return false
	}

	if p.timer != nil {
		p.timer.Stop()
	}

	q.inflight = nil
	return true
}

// reset discards everything without resolving any callbacks.
func (q *sendQueue) reset() {
	if q.inflight != nil && q.inflight.timer != nil {
		q.inflight.timer.Stop()
	}

	q.inflight = nil
	q.items = nil
}

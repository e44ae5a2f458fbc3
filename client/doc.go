package client

// This package is a WorldQL client connection.
//
// A Conn moves through Disconnected -> Connecting -> AwaitingHandshake ->
// Ready and back to Disconnected. Connect opens a transport and sends the
// handshake, the server answers with the auth token that every later request
// carries.
//
// === Ordering
//
// The wire format has no request ids, so a Conn keeps at most one request in
// flight and pairs the next reply with it by kind. Everything else waits in a
// queue behind it, in call order. Broadcasts are never answered and never
// hold the slot, but they still wait their turn in the queue.
//
// A reply that arrives with nothing in flight, or with the wrong kind, means
// the Conn and the server disagree about what is outstanding. The connection
// is closed with ErrProtocolViolation.
//
// === Notifications
//
// Subscribe and Notifications deliver Events. Handlers run after the Conn has
// released its lock, so they may call back into it. Notifications from one
// transport are delivered in the order they were read.
//
// When a connection closes, queued and in-flight requests are dropped and
// their callbacks are never called. The blocking helpers return
// ErrDisconnected instead.

package protocol

// This package implements encoding and decoding of the envelopes that a
// WorldQL client exchanges with a WorldQL server.
//
// Envelopes are MessagePack maps. Every optional field is either present or
// omitted, we never write sentinel values, so "absent" and "empty" survive a
// round trip.
//
// - `Request` - A client instruction to the server (handshake, subscriptions,
//               record CRUD, broadcasts, heartbeats).
// - `Message` - Anything the server sends back. It is either a `reply` to the
//               request currently in flight, or an unsolicited `event`.
//
// === Requests
//
//   ```
//   { request, sender, token, [world_name], [replication], [lookup],
//     [server_auth], [no_once], [parameter], [records], [entities],
//     [position], [flex] }
//   ```
//
// Keys are always written in the order above. `sender` is the 16 byte client
// id, `token` is empty until the handshake completes. Positions are flattened
// into `[x, y, z]` so a Vector3 and a Tuple with the same coordinates encode
// to the same bytes.
//
// === Messages
//
//   ```
//   { type: "reply", reply: <kind>, status: "ok" | "error", [code], [message], ... }
//   { type: "event", event: <kind>, ... }
//   ```
//
// There is no request id on the wire. The client relies on the server
// answering requests in order and only keeps one request in flight, so the
// reply kind is enough to pair a reply with its request. Broadcasts
// (global_message, local_message) are never answered.
//
// === System messages
//
//   ```
//   { type: "event", event: "system_message", message: "disconnect", reason }
//   { type: "event", event: "system_message", message: "unknown_error", error: { code, message } }
//   ```
//
// === Framing
//
// Over WebSocket one binary message carries one envelope. Stream transports
// prefix each envelope with its length as a big-endian uint32, see
// WriteFrame and ReadFrame.
//

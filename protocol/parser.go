package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/luma/worldql/identity"
)

// DefaultMaxFrameSize bounds frames read by ReadFrame when no limit is given.
const DefaultMaxFrameSize = 16 << 20

const maxPrealloc = 1024

var (
	ErrMalformedMessage = errors.New("Message is malformed")
	ErrFrameTooLarge    = errors.New("Frame exceeds the maximum frame size")

	// ErrUnknownKind is a kind of ErrMalformedMessage.
	ErrUnknownKind = fmt.Errorf("Unknown message kind: %w", ErrMalformedMessage)
)

// DecodeRequest parses a client request.
func DecodeRequest(data []byte) (*Request, error) {
	req := &Request{}

	var (
		hasKind        bool
		hasSender      bool
		hasWorldName   bool
		hasReplication bool
	)

	err := decodeEnvelope(data, func(dec *msgpack.Decoder, key string) (err error) {
		switch key {
		case "request":
			var s string
			s, err = dec.DecodeString()
			req.Kind, hasKind = Kind(s), true

		case "sender":
			req.Sender, err = decodeID(dec)
			hasSender = true

		case "token":
			req.Token, err = dec.DecodeString()

		case "world_name":
			req.WorldName, err = dec.DecodeString()
			hasWorldName = true

		case "replication":
			var s string
			s, err = dec.DecodeString()
			req.Replication, hasReplication = Replication(s), true

		case "lookup":
			var s string
			s, err = dec.DecodeString()
			req.Lookup = Lookup(s)

		case "server_auth":
			req.ServerAuth, err = decodeOptionalString(dec)

		case "no_once":
			req.NoOnce, err = decodeOptionalString(dec)

		case "parameter":
			req.Parameter, err = decodeOptionalString(dec)

		case "records":
			req.Records, err = decodeRecords(dec)

		case "entities":
			req.Entities, err = decodeEntities(dec)

		case "position":
			req.Position, err = decodeOptionalVector(dec)

		case "flex":
			req.Flex, err = decodeBlob(dec)

		default:
			err = dec.Skip()
		}

		return err
	})
	if err != nil {
		return nil, err
	}

	switch {
	case !hasKind:
		return nil, missing("request")

	case !req.Kind.IsRequest():
		return nil, fmt.Errorf("Failed to parse request '%s': %w", req.Kind, ErrUnknownKind)

	case !hasSender:
		return nil, missing("sender")

	case req.usesWorldName() && !hasWorldName:
		return nil, missing("world_name")

	case req.requiresPosition() && req.Position == nil:
		return nil, missing("position")

	case req.Kind.IsBroadcast() && (!hasReplication || !req.Replication.Valid()):
		return nil, fmt.Errorf("Failed to parse replication '%s': %w", req.Replication, ErrMalformedMessage)
	}

	return req, nil
}

// DecodeMessage parses a server message. Unknown reply and event kinds are
// returned as-is so newer servers do not break older clients.
func DecodeMessage(data []byte) (*Message, error) {
	msg := &Message{}

	var (
		typ          *string
		replyKind    *string
		eventKind    *string
		code         int64
		message      *string
		hasSender    bool
		hasPeer      bool
		hasWorldName bool
	)

	err := decodeEnvelope(data, func(dec *msgpack.Decoder, key string) (err error) {
		switch key {
		case "type":
			typ, err = decodeOptionalString(dec)

		case "reply":
			replyKind, err = decodeOptionalString(dec)

		case "event":
			eventKind, err = decodeOptionalString(dec)

		case "status":
			var s string
			s, err = dec.DecodeString()
			msg.Status = Status(s)

		case "code":
			code, err = dec.DecodeInt64()

		case "message":
			message, err = decodeOptionalString(dec)

		case "auth_token":
			msg.AuthToken, err = decodeOptionalString(dec)

		case "no_once":
			msg.NoOnce, err = decodeOptionalString(dec)

		case "sender":
			msg.Sender, err = decodeID(dec)
			hasSender = true

		case "uuid":
			msg.Peer, err = decodeID(dec)
			hasPeer = true

		case "world_name":
			msg.WorldName, err = dec.DecodeString()
			hasWorldName = true

		case "position":
			msg.Position, err = decodeOptionalVector(dec)

		case "parameter":
			msg.Parameter, err = decodeOptionalString(dec)

		case "records":
			msg.Records, err = decodeRecords(dec)

		case "entities":
			msg.Entities, err = decodeEntities(dec)

		case "flex":
			msg.Flex, err = decodeBlob(dec)

		case "reason":
			msg.Reason, err = dec.DecodeString()

		case "error":
			msg.Error, err = decodeServerError(dec)

		default:
			err = dec.Skip()
		}

		return err
	})
	if err != nil {
		return nil, err
	}

	if typ == nil {
		return nil, missing("type")
	}

	msg.Type = MessageType(*typ)

	switch msg.Type {
	case TypeReply:
		if replyKind == nil {
			return nil, missing("reply")
		}
		msg.Kind = Kind(*replyKind)

	case TypeEvent:
		if eventKind == nil {
			return nil, missing("event")
		}
		msg.Kind = Kind(*eventKind)

	default:
		return nil, fmt.Errorf("Failed to parse message type '%s': %w", msg.Type, ErrUnknownKind)
	}

	if msg.Type == TypeEvent && msg.Kind == KindSystemMessage {
		if message == nil {
			return nil, missing("message")
		}
		msg.System = SystemMessage(*message)
	}

	if msg.Type == TypeReply && msg.Kind.HasStatus() {
		switch msg.Status {
		case StatusOk:
		case StatusError:
			msg.Error = &ServerError{Code: code}
			if message != nil {
				msg.Error.Message = *message
			}

		case "":
			return nil, missing("status")

		default:
			return nil, fmt.Errorf("Failed to parse status '%s': %w", msg.Status, ErrMalformedMessage)
		}
	}

	switch {
	case msg.requiresSender() && !hasSender:
		return nil, missing("sender")

	case msg.requiresWorldName() && !hasWorldName:
		return nil, missing("world_name")

	case msg.requiresPeer() && !hasPeer:
		return nil, missing("uuid")

	case msg.Type == TypeEvent && msg.Kind == KindLocalMessage && msg.Position == nil:
		return nil, missing("position")

	case msg.Type == TypeReply && msg.Kind == KindHandshake && msg.Status == StatusOk && msg.AuthToken == nil:
		return nil, missing("auth_token")
	}

	return msg, nil
}

// ReadFrame reads one length-prefixed envelope. maxSize <= 0 means
// DefaultMaxFrameSize.
//
// The returned slice is freshly allocated and owned by the caller.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if uint64(size) > uint64(maxSize) {
		return nil, fmt.Errorf("Frame of %d bytes: %w", size, ErrFrameTooLarge)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return payload, nil
}

func missing(key string) error {
	return fmt.Errorf("Required field '%s' is absent: %w", key, ErrMalformedMessage)
}

func malformed(key string, err error) error {
	return fmt.Errorf("Failed to parse '%s': %v: %w", key, err, ErrMalformedMessage)
}

// decodeEnvelope walks the top-level map, handing each key to fn, and rejects
// trailing bytes.
func decodeEnvelope(data []byte, fn func(dec *msgpack.Decoder, key string) error) error {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	if err := decodeMap(dec, fn); err != nil {
		return err
	}

	if r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes: %w", r.Len(), ErrMalformedMessage)
	}

	return nil
}

func decodeMap(dec *msgpack.Decoder, fn func(dec *msgpack.Decoder, key string) error) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return malformed("map", err)
	}

	if n < 0 {
		return fmt.Errorf("Expected a map, got nil: %w", ErrMalformedMessage)
	}

	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return malformed("key", err)
		}

		if err := fn(dec, key); err != nil {
			if errors.Is(err, ErrMalformedMessage) {
				return err
			}
			return malformed(key, err)
		}
	}

	return nil
}

// isNil consumes a msgpack nil if one is next.
func isNil(dec *msgpack.Decoder) (bool, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return false, err
	}

	if c != msgpcode.Nil {
		return false, nil
	}

	return true, dec.DecodeNil()
}

func decodeOptionalString(dec *msgpack.Decoder) (*string, error) {
	if null, err := isNil(dec); err != nil || null {
		return nil, err
	}

	s, err := dec.DecodeString()
	if err != nil {
		return nil, err
	}

	return &s, nil
}

func decodeID(dec *msgpack.Decoder) (identity.ID, error) {
	b, err := dec.DecodeBytes()
	if err != nil {
		return identity.Nil, err
	}

	return identity.FromBytes(b)
}

func decodeVector(dec *msgpack.Decoder) (Vector3, error) {
	var v Vector3

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return v, err
	}

	if n != 3 {
		return v, fmt.Errorf("Expected 3 coordinates, got %d: %w", n, ErrMalformedMessage)
	}

	if v.X, err = dec.DecodeFloat64(); err != nil {
		return v, err
	}
	if v.Y, err = dec.DecodeFloat64(); err != nil {
		return v, err
	}
	if v.Z, err = dec.DecodeFloat64(); err != nil {
		return v, err
	}

	return v, nil
}

func decodeOptionalVector(dec *msgpack.Decoder) (*Vector3, error) {
	if null, err := isNil(dec); err != nil || null {
		return nil, err
	}

	v, err := decodeVector(dec)
	if err != nil {
		return nil, err
	}

	return &v, nil
}

func decodeBlob(dec *msgpack.Decoder) (Blob, error) {
	if null, err := isNil(dec); err != nil || null {
		return Blob{}, err
	}

	b, err := dec.DecodeBytes()
	if err != nil {
		return Blob{}, err
	}

	return NewBlob(b), nil
}

func decodeServerError(dec *msgpack.Decoder) (*ServerError, error) {
	if null, err := isNil(dec); err != nil || null {
		return nil, err
	}

	serverErr := &ServerError{}

	err := decodeMap(dec, func(dec *msgpack.Decoder, key string) (err error) {
		switch key {
		case "code":
			serverErr.Code, err = dec.DecodeInt64()
		case "message":
			serverErr.Message, err = dec.DecodeString()
		default:
			err = dec.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return serverErr, nil
}

func decodeRecord(dec *msgpack.Decoder) (Record, error) {
	var (
		record       Record
		hasUUID      bool
		hasPosition  bool
		hasWorldName bool
	)

	err := decodeMap(dec, func(dec *msgpack.Decoder, key string) (err error) {
		switch key {
		case "uuid":
			record.UUID, err = decodeID(dec)
			hasUUID = true
		case "position":
			record.Position, err = decodeVector(dec)
			hasPosition = true
		case "world_name":
			record.WorldName, err = dec.DecodeString()
			hasWorldName = true
		case "data":
			record.Data, err = decodeOptionalString(dec)
		case "flex":
			record.Flex, err = decodeBlob(dec)
		default:
			err = dec.Skip()
		}
		return err
	})
	if err != nil {
		return record, err
	}

	switch {
	case !hasUUID:
		return record, missing("uuid")
	case !hasPosition:
		return record, missing("position")
	case !hasWorldName:
		return record, missing("world_name")
	}

	return record, nil
}

// decodeRecords returns nil for a msgpack nil and a non-nil, possibly empty,
// slice for an array.
func decodeRecords(dec *msgpack.Decoder) ([]Record, error) {
	if null, err := isNil(dec); err != nil || null {
		return nil, err
	}

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}

	// n comes off the wire, do not trust it for the allocation
	capacity := n
	if capacity > maxPrealloc {
		capacity = maxPrealloc
	}

	records := make([]Record, 0, capacity)
	for i := 0; i < n; i++ {
		record, err := decodeRecord(dec)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

func decodeEntities(dec *msgpack.Decoder) ([]Entity, error) {
	records, err := decodeRecords(dec)
	if err != nil || records == nil {
		return nil, err
	}

	entities := make([]Entity, len(records))
	for i := range records {
		entities[i] = Entity(records[i])
	}

	return entities, nil
}

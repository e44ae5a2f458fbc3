package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/luma/worldql/identity"
)

// FrameHeaderSize is the width of the big-endian length prefix used by
// stream transports.
const FrameHeaderSize = 4

type field struct {
	key   string
	write func(enc *msgpack.Encoder) error
}

// EncodeRequest serialises a client request. Keys are always written in the
// same order so equal requests produce identical bytes.
func EncodeRequest(req *Request) ([]byte, error) {
	if !req.Kind.IsRequest() {
		return nil, fmt.Errorf("Failed to encode '%s': %w", req.Kind, ErrUnknownKind)
	}

	fields := make([]field, 0, 13)
	fields = append(fields,
		stringField("request", string(req.Kind)),
		idField("sender", req.Sender),
		stringField("token", req.Token),
	)

	if req.usesWorldName() {
		fields = append(fields, stringField("world_name", req.WorldName))
	}

	if req.Kind.IsBroadcast() {
		replication := req.Replication.OrDefault()
		if !replication.Valid() {
			return nil, fmt.Errorf("Failed to encode replication '%s': %w", replication, ErrMalformedMessage)
		}

		fields = append(fields, stringField("replication", string(replication)))
	}

	if req.Kind == KindRecordGet {
		if req.Lookup != LookupArea && req.Lookup != LookupUUID {
			return nil, fmt.Errorf("Failed to encode lookup '%s': %w", req.Lookup, ErrMalformedMessage)
		}

		fields = append(fields, stringField("lookup", string(req.Lookup)))
	}

	if req.Kind == KindHandshake && req.ServerAuth != nil {
		fields = append(fields, stringField("server_auth", *req.ServerAuth))
	}

	if req.Kind == KindHeartbeat && req.NoOnce != nil {
		fields = append(fields, stringField("no_once", *req.NoOnce))
	}

	if req.Parameter != nil {
		fields = append(fields, stringField("parameter", *req.Parameter))
	}

	if req.Records != nil {
		fields = append(fields, recordsField("records", req.Records))
	}

	if req.Entities != nil {
		fields = append(fields, entitiesField("entities", req.Entities))
	}

	if req.Position != nil {
		fields = append(fields, vectorField("position", *req.Position))
	} else if req.requiresPosition() {
		return nil, fmt.Errorf("Failed to encode '%s', it requires a position: %w", req.Kind, ErrMalformedMessage)
	}

	if req.Flex.Present() {
		fields = append(fields, blobField("flex", req.Flex))
	}

	return encodeMap(fields)
}

// EncodeMessage serialises a server message. The client never sends these,
// they exist so servers and test doubles can speak the protocol.
func EncodeMessage(msg *Message) ([]byte, error) {
	fields := make([]field, 0, 16)

	switch msg.Type {
	case TypeReply:
		fields = append(fields,
			stringField("type", string(TypeReply)),
			stringField("reply", string(msg.Kind)),
		)

	case TypeEvent:
		fields = append(fields,
			stringField("type", string(TypeEvent)),
			stringField("event", string(msg.Kind)),
		)

	default:
		return nil, fmt.Errorf("Failed to encode message type '%s': %w", msg.Type, ErrUnknownKind)
	}

	if msg.Status != "" {
		fields = append(fields, stringField("status", string(msg.Status)))

		if msg.Status == StatusError {
			serverErr := msg.Error
			if serverErr == nil {
				serverErr = &ServerError{}
			}

			fields = append(fields,
				intField("code", serverErr.Code),
				stringField("message", serverErr.Message),
			)
		}
	}

	if msg.AuthToken != nil {
		fields = append(fields, stringField("auth_token", *msg.AuthToken))
	}

	if msg.NoOnce != nil {
		fields = append(fields, stringField("no_once", *msg.NoOnce))
	}

	if msg.requiresSender() || !msg.Sender.IsNil() {
		fields = append(fields, idField("sender", msg.Sender))
	}

	if msg.requiresPeer() || !msg.Peer.IsNil() {
		fields = append(fields, idField("uuid", msg.Peer))
	}

	if msg.requiresWorldName() || msg.WorldName != "" {
		fields = append(fields, stringField("world_name", msg.WorldName))
	}

	if msg.Position != nil {
		fields = append(fields, vectorField("position", *msg.Position))
	}

	if msg.Parameter != nil {
		fields = append(fields, stringField("parameter", *msg.Parameter))
	}

	if msg.Records != nil {
		fields = append(fields, recordsField("records", msg.Records))
	}

	if msg.Entities != nil {
		fields = append(fields, entitiesField("entities", msg.Entities))
	}

	if msg.Flex.Present() {
		fields = append(fields, blobField("flex", msg.Flex))
	}

	if msg.Type == TypeEvent && msg.Kind == KindSystemMessage {
		fields = append(fields, stringField("message", string(msg.System)))

		if msg.Reason != "" {
			fields = append(fields, stringField("reason", msg.Reason))
		}

		if msg.Error != nil {
			fields = append(fields, errorField("error", msg.Error))
		}
	}

	return encodeMap(fields)
}

// WriteFrame writes a length-prefixed envelope in a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[FrameHeaderSize:], payload)

	_, err := w.Write(frame)
	return err
}

func encodeMap(fields []field) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeMapLen(len(fields)); err != nil {
		return nil, err
	}

	for _, f := range fields {
		if err := enc.EncodeString(f.key); err != nil {
			return nil, err
		}

		if err := f.write(enc); err != nil {
			return nil, fmt.Errorf("Failed to encode '%s': %w", f.key, err)
		}
	}

	return buf.Bytes(), nil
}

func stringField(key, value string) field {
	return field{key, func(enc *msgpack.Encoder) error {
		return enc.EncodeString(value)
	}}
}

func intField(key string, value int64) field {
	return field{key, func(enc *msgpack.Encoder) error {
		return enc.EncodeInt(value)
	}}
}

func idField(key string, id identity.ID) field {
	return field{key, func(enc *msgpack.Encoder) error {
		return enc.EncodeBytes(id[:])
	}}
}

func vectorField(key string, v Vector3) field {
	return field{key, func(enc *msgpack.Encoder) error {
		return encodeVector(enc, v)
	}}
}

func blobField(key string, b Blob) field {
	return field{key, func(enc *msgpack.Encoder) error {
		// EncodeBytes writes nil for a nil slice, a present Blob is never nil.
		data := b.data
		if data == nil {
			data = []byte{}
		}
		return enc.EncodeBytes(data)
	}}
}

func errorField(key string, serverErr *ServerError) field {
	return field{key, func(enc *msgpack.Encoder) error {
		if err := enc.EncodeMapLen(2); err != nil {
			return err
		}
		if err := enc.EncodeString("code"); err != nil {
			return err
		}
		if err := enc.EncodeInt(serverErr.Code); err != nil {
			return err
		}
		if err := enc.EncodeString("message"); err != nil {
			return err
		}
		return enc.EncodeString(serverErr.Message)
	}}
}

func recordsField(key string, records []Record) field {
	return field{key, func(enc *msgpack.Encoder) error {
		if err := enc.EncodeArrayLen(len(records)); err != nil {
			return err
		}

		for i := range records {
			if err := encodeRecord(enc, &records[i]); err != nil {
				return err
			}
		}

		return nil
	}}
}

func entitiesField(key string, entities []Entity) field {
	return field{key, func(enc *msgpack.Encoder) error {
		if err := enc.EncodeArrayLen(len(entities)); err != nil {
			return err
		}

		for i := range entities {
			record := Record(entities[i])
			if err := encodeRecord(enc, &record); err != nil {
				return err
			}
		}

		return nil
	}}
}

// encodeVector flattens a position into [x, y, z].
func encodeVector(enc *msgpack.Encoder, v Vector3) error {
	if err := enc.EncodeArrayLen(3); err != nil {
		return err
	}

	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if err := enc.EncodeFloat64(c); err != nil {
			return err
		}
	}

	return nil
}

func encodeRecord(enc *msgpack.Encoder, record *Record) error {
	fields := []field{
		idField("uuid", record.UUID),
		vectorField("position", record.Position),
		stringField("world_name", record.WorldName),
	}

	if record.Data != nil {
		fields = append(fields, stringField("data", *record.Data))
	}

	if record.Flex.Present() {
		fields = append(fields, blobField("flex", record.Flex))
	}

	if err := enc.EncodeMapLen(len(fields)); err != nil {
		return err
	}

	for _, f := range fields {
		if err := enc.EncodeString(f.key); err != nil {
			return err
		}

		if err := f.write(enc); err != nil {
			return err
		}
	}

	return nil
}

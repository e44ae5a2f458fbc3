package protocol_test

import (
	"bytes"
	"io"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/luma/worldql/identity"
	"github.com/luma/worldql/protocol"
)

func mustMarshal(v interface{}) []byte {
	data, err := msgpack.Marshal(v)
	Expect(err).To(Succeed())
	return data
}

var _ = Describe("Parsing", func() {
	sender := identity.Generate()
	peer := identity.Generate()

	record := protocol.Record{
		UUID:      identity.Generate(),
		Position:  protocol.Vec3(1.5, -2, 3e9),
		WorldName: "world1",
		Data:      protocol.Text("some data"),
		Flex:      protocol.NewBlob([]byte{0xde, 0xad}),
	}

	bareRecord := protocol.Record{
		UUID:      identity.Generate(),
		Position:  protocol.Vec3(0, 0, 0),
		WorldName: "world2",
	}

	Describe("DecodeRequest()", func() {
		table.DescribeTable("round trips every request kind",
			func(req protocol.Request) {
				req.Sender = sender

				data, err := protocol.EncodeRequest(&req)
				Expect(err).To(Succeed())

				decoded, err := protocol.DecodeRequest(data)
				Expect(err).To(Succeed())

				if req.Kind.IsBroadcast() {
					req.Replication = req.Replication.OrDefault()
				}
				Expect(*decoded).To(Equal(req))
			},
			table.Entry("handshake", protocol.Request{
				Kind: protocol.KindHandshake,
			}),
			table.Entry("handshake with server auth", protocol.Request{
				Kind:       protocol.KindHandshake,
				ServerAuth: protocol.Text("pre-shared"),
			}),
			table.Entry("heartbeat", protocol.Request{
				Kind:   protocol.KindHeartbeat,
				Token:  "abc123",
				NoOnce: protocol.Text("n1"),
			}),
			table.Entry("global message", protocol.Request{
				Kind:        protocol.KindGlobalMessage,
				Token:       "abc123",
				WorldName:   "world1",
				Replication: protocol.OnlySelf,
				Parameter:   protocol.Text("hi"),
				Flex:        protocol.NewBlob([]byte("payload")),
			}),
			table.Entry("global message with default replication", protocol.Request{
				Kind:      protocol.KindGlobalMessage,
				Token:     "abc123",
				WorldName: "world1",
			}),
			table.Entry("local message", protocol.Request{
				Kind:        protocol.KindLocalMessage,
				Token:       "abc123",
				WorldName:   "world1",
				Replication: protocol.IncludingSelf,
				Position:    protocol.PositionOf(protocol.Vec3(1, 2, 3)),
				Records:     []protocol.Record{record},
				Entities:    []protocol.Entity{protocol.Entity(bareRecord)},
			}),
			table.Entry("world subscribe", protocol.Request{
				Kind:      protocol.KindWorldSubscribe,
				Token:     "abc123",
				WorldName: "world1",
			}),
			table.Entry("world unsubscribe", protocol.Request{
				Kind:      protocol.KindWorldUnsubscribe,
				Token:     "abc123",
				WorldName: "world1",
			}),
			table.Entry("area subscribe", protocol.Request{
				Kind:      protocol.KindAreaSubscribe,
				Token:     "abc123",
				WorldName: "world1",
				Position:  protocol.PositionOf(protocol.Vec3(10, 20, 30)),
			}),
			table.Entry("area unsubscribe", protocol.Request{
				Kind:      protocol.KindAreaUnsubscribe,
				Token:     "abc123",
				WorldName: "world1",
				Position:  protocol.PositionOf(protocol.Vec3(10, 20, 30)),
			}),
			table.Entry("record get by area", protocol.Request{
				Kind:      protocol.KindRecordGet,
				Token:     "abc123",
				Lookup:    protocol.LookupArea,
				WorldName: "world1",
				Position:  protocol.PositionOf(protocol.Vec3(10, 20, 30)),
			}),
			table.Entry("record get by uuid", protocol.Request{
				Kind:    protocol.KindRecordGet,
				Token:   "abc123",
				Lookup:  protocol.LookupUUID,
				Records: []protocol.Record{bareRecord},
			}),
			table.Entry("record set", protocol.Request{
				Kind:    protocol.KindRecordSet,
				Token:   "abc123",
				Records: []protocol.Record{record, bareRecord},
			}),
			table.Entry("record set with no records", protocol.Request{
				Kind:    protocol.KindRecordSet,
				Token:   "abc123",
				Records: []protocol.Record{},
			}),
			table.Entry("record delete", protocol.Request{
				Kind:    protocol.KindRecordDelete,
				Token:   "abc123",
				Records: []protocol.Record{bareRecord},
			}),
			table.Entry("record clear by world", protocol.Request{
				Kind:      protocol.KindRecordClear,
				Token:     "abc123",
				WorldName: "world1",
			}),
			table.Entry("record clear by area", protocol.Request{
				Kind:      protocol.KindRecordClear,
				Token:     "abc123",
				WorldName: "world1",
				Position:  protocol.PositionOf(protocol.Vec3(1, 1, 1)),
			}),
		)

		It("keeps a zero-length flex payload distinct from an absent one", func() {
			empty, err := protocol.EncodeRequest(&protocol.Request{
				Kind:      protocol.KindGlobalMessage,
				Sender:    sender,
				WorldName: "world1",
				Flex:      protocol.NewBlob([]byte{}),
			})
			Expect(err).To(Succeed())

			absent, err := protocol.EncodeRequest(&protocol.Request{
				Kind:      protocol.KindGlobalMessage,
				Sender:    sender,
				WorldName: "world1",
			})
			Expect(err).To(Succeed())
			Expect(empty).NotTo(Equal(absent))

			req, err := protocol.DecodeRequest(empty)
			Expect(err).To(Succeed())
			Expect(req.Flex.Present()).To(BeTrue())
			Expect(req.Flex.Bytes()).To(Equal([]byte{}))

			req, err = protocol.DecodeRequest(absent)
			Expect(err).To(Succeed())
			Expect(req.Flex.Present()).To(BeFalse())
			Expect(req.Flex.Bytes()).To(BeNil())
		})

		It("returns an error when the sender is absent", func() {
			data := mustMarshal(map[string]interface{}{
				"request":    "world_subscribe",
				"token":      "abc123",
				"world_name": "world1",
			})

			_, err := protocol.DecodeRequest(data)
			Expect(err).To(MatchError(protocol.ErrMalformedMessage))
		})

		It("returns an error when the world name is absent", func() {
			data := mustMarshal(map[string]interface{}{
				"request": "world_subscribe",
				"sender":  sender.Bytes(),
				"token":   "abc123",
			})

			_, err := protocol.DecodeRequest(data)
			Expect(err).To(MatchError(protocol.ErrMalformedMessage))
		})

		It("returns an error for an unknown request tag", func() {
			data := mustMarshal(map[string]interface{}{
				"request": "teleport",
				"sender":  sender.Bytes(),
			})

			_, err := protocol.DecodeRequest(data)
			Expect(err).To(MatchError(protocol.ErrUnknownKind))
			Expect(err).To(MatchError(protocol.ErrMalformedMessage))
		})

		It("returns an error for a sender of the wrong width", func() {
			data := mustMarshal(map[string]interface{}{
				"request": "heartbeat",
				"sender":  []byte{1, 2, 3},
			})

			_, err := protocol.DecodeRequest(data)
			Expect(err).To(MatchError(protocol.ErrMalformedMessage))
		})
	})

	Describe("DecodeMessage()", func() {
		table.DescribeTable("round trips server messages",
			func(msg protocol.Message) {
				data, err := protocol.EncodeMessage(&msg)
				Expect(err).To(Succeed())

				decoded, err := protocol.DecodeMessage(data)
				Expect(err).To(Succeed())
				Expect(*decoded).To(Equal(msg))
			},
			table.Entry("handshake ok", protocol.Message{
				Type:      protocol.TypeReply,
				Kind:      protocol.KindHandshake,
				Status:    protocol.StatusOk,
				AuthToken: protocol.Text("abc123"),
			}),
			table.Entry("handshake error", protocol.Message{
				Type:   protocol.TypeReply,
				Kind:   protocol.KindHandshake,
				Status: protocol.StatusError,
				Error:  &protocol.ServerError{Code: 401, Message: "bad credentials"},
			}),
			table.Entry("heartbeat", protocol.Message{
				Type:   protocol.TypeReply,
				Kind:   protocol.KindHeartbeat,
				NoOnce: protocol.Text("n1"),
			}),
			table.Entry("record get with records", protocol.Message{
				Type:      protocol.TypeReply,
				Kind:      protocol.KindRecordGet,
				Status:    protocol.StatusOk,
				WorldName: "world1",
				Records:   []protocol.Record{record, bareRecord},
			}),
			table.Entry("record get with no records", protocol.Message{
				Type:    protocol.TypeReply,
				Kind:    protocol.KindRecordGet,
				Status:  protocol.StatusOk,
				Records: []protocol.Record{},
			}),
			table.Entry("peer connect", protocol.Message{
				Type: protocol.TypeEvent,
				Kind: protocol.KindPeerConnect,
				Peer: peer,
			}),
			table.Entry("global message", protocol.Message{
				Type:      protocol.TypeEvent,
				Kind:      protocol.KindGlobalMessage,
				Sender:    peer,
				WorldName: "world1",
				Flex:      protocol.NewBlob(nil),
			}),
			table.Entry("local message", protocol.Message{
				Type:      protocol.TypeEvent,
				Kind:      protocol.KindLocalMessage,
				Sender:    peer,
				WorldName: "world1",
				Position:  protocol.PositionOf(protocol.Vec3(1, 2, 3)),
				Parameter: protocol.Text("hi"),
				Entities:  []protocol.Entity{protocol.Entity(record)},
				Flex:      protocol.NewBlob([]byte{9}),
			}),
			table.Entry("system disconnect", protocol.Message{
				Type:   protocol.TypeEvent,
				Kind:   protocol.KindSystemMessage,
				System: protocol.SystemDisconnect,
				Reason: "server shutting down",
			}),
			table.Entry("system unknown error", protocol.Message{
				Type:   protocol.TypeEvent,
				Kind:   protocol.KindSystemMessage,
				System: protocol.SystemUnknownError,
				Error:  &protocol.ServerError{Code: 500, Message: "boom"},
			}),
		)

		It("decodes unknown event kinds", func() {
			data := mustMarshal(map[string]interface{}{
				"type":  "event",
				"event": "weather_changed",
			})

			msg, err := protocol.DecodeMessage(data)
			Expect(err).To(Succeed())
			Expect(msg.Kind).To(Equal(protocol.Kind("weather_changed")))
		})

		It("returns an error for an unknown message type", func() {
			data := mustMarshal(map[string]interface{}{
				"type":  "rumour",
				"event": "peer_connect",
			})

			_, err := protocol.DecodeMessage(data)
			Expect(err).To(MatchError(protocol.ErrMalformedMessage))
		})

		It("returns an error when a broadcast has no world name", func() {
			data := mustMarshal(map[string]interface{}{
				"type":   "event",
				"event":  "global_message",
				"sender": peer.Bytes(),
			})

			_, err := protocol.DecodeMessage(data)
			Expect(err).To(MatchError(protocol.ErrMalformedMessage))
		})

		It("returns an error when a broadcast has no sender", func() {
			data := mustMarshal(map[string]interface{}{
				"type":       "event",
				"event":      "global_message",
				"world_name": "world1",
			})

			_, err := protocol.DecodeMessage(data)
			Expect(err).To(MatchError(protocol.ErrMalformedMessage))
		})

		It("returns an error when a local message has no position", func() {
			data := mustMarshal(map[string]interface{}{
				"type":       "event",
				"event":      "local_message",
				"sender":     peer.Bytes(),
				"world_name": "world1",
			})

			_, err := protocol.DecodeMessage(data)
			Expect(err).To(MatchError(protocol.ErrMalformedMessage))
		})

		It("returns an error when a handshake succeeds without a token", func() {
			data := mustMarshal(map[string]interface{}{
				"type":   "reply",
				"reply":  "handshake",
				"status": "ok",
			})

			_, err := protocol.DecodeMessage(data)
			Expect(err).To(MatchError(protocol.ErrMalformedMessage))
		})

		It("returns an error when a status is missing", func() {
			data := mustMarshal(map[string]interface{}{
				"type":  "reply",
				"reply": "world_subscribe",
			})

			_, err := protocol.DecodeMessage(data)
			Expect(err).To(MatchError(protocol.ErrMalformedMessage))
		})

		It("decodes absent optional fields to absent", func() {
			data := mustMarshal(map[string]interface{}{
				"type":       "event",
				"event":      "global_message",
				"sender":     peer.Bytes(),
				"world_name": "world1",
				"position":   nil,
				"flex":       nil,
			})

			msg, err := protocol.DecodeMessage(data)
			Expect(err).To(Succeed())
			Expect(msg.Position).To(BeNil())
			Expect(msg.Parameter).To(BeNil())
			Expect(msg.Flex.Present()).To(BeFalse())
			Expect(msg.Records).To(BeNil())
		})

		It("skips unknown keys", func() {
			data := mustMarshal(map[string]interface{}{
				"type":   "event",
				"event":  "peer_disconnect",
				"uuid":   peer.Bytes(),
				"future": []int{1, 2, 3},
			})

			msg, err := protocol.DecodeMessage(data)
			Expect(err).To(Succeed())
			Expect(msg.Peer).To(Equal(peer))
		})

		It("returns an error for garbage", func() {
			_, err := protocol.DecodeMessage([]byte{0xc1, 0x00})
			Expect(err).To(MatchError(protocol.ErrMalformedMessage))
		})

		It("returns an error for trailing bytes", func() {
			data := mustMarshal(map[string]interface{}{
				"type":  "event",
				"event": "peer_connect",
				"uuid":  peer.Bytes(),
			})

			_, err := protocol.DecodeMessage(append(data, 0x01))
			Expect(err).To(MatchError(protocol.ErrMalformedMessage))
		})

		It("does not share buffers between decodes", func() {
			data, err := protocol.EncodeMessage(&protocol.Message{
				Type:      protocol.TypeEvent,
				Kind:      protocol.KindGlobalMessage,
				Sender:    peer,
				WorldName: "world1",
				Flex:      protocol.NewBlob([]byte{1, 2, 3}),
			})
			Expect(err).To(Succeed())

			first, err := protocol.DecodeMessage(data)
			Expect(err).To(Succeed())

			flex := first.Flex.Bytes()
			flex[0] = 42

			for i := range data {
				data[i] = 0
			}

			Expect(first.Flex.Bytes()).To(Equal([]byte{1, 2, 3}))
		})
	})

	Describe("ReadFrame()", func() {
		It("reads back what WriteFrame wrote", func() {
			w := bytes.NewBuffer([]byte{})
			Expect(protocol.WriteFrame(w, []byte("one"))).To(Succeed())
			Expect(protocol.WriteFrame(w, []byte("two"))).To(Succeed())

			Expect(protocol.ReadFrame(w, 0)).To(Equal([]byte("one")))
			Expect(protocol.ReadFrame(w, 0)).To(Equal([]byte("two")))
		})

		It("returns io.EOF when there are no more frames", func() {
			_, err := protocol.ReadFrame(bytes.NewReader(nil), 0)
			Expect(err).To(MatchError(io.EOF))
		})

		It("returns an error for a truncated frame", func() {
			_, err := protocol.ReadFrame(bytes.NewReader([]byte{0, 0, 0, 5, 'a'}), 0)
			Expect(err).To(MatchError(io.ErrUnexpectedEOF))
		})

		It("returns an error when the frame is too large", func() {
			_, err := protocol.ReadFrame(bytes.NewReader([]byte{0, 0, 1, 0}), 16)
			Expect(err).To(MatchError(protocol.ErrFrameTooLarge))
		})
	})
})

package client_test

import (
	"context"
	"net"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/worldql/client"
	"github.com/luma/worldql/protocol"
	"github.com/luma/worldql/transport"
)

// serveOnce plays a WorldQL server for one connection. It answers every
// request that expects a reply and hands the requests it saw to seen.
func serveOnce(listener net.Listener, seen chan<- *protocol.Request) {
	defer GinkgoRecover()

	conn, err := listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		frame, err := protocol.ReadFrame(conn, 0)
		if err != nil {
			return
		}

		req, err := protocol.DecodeRequest(frame)
		Expect(err).To(Succeed())
		seen <- req

		if !req.Kind.ExpectsReply() {
			continue
		}

		msg := reply(req.Kind)
		if req.Kind == protocol.KindHandshake {
			msg = handshakeOk("tcp-token")
		}

		data, err := protocol.EncodeMessage(msg)
		Expect(err).To(Succeed())
		Expect(protocol.WriteFrame(conn, data)).To(Succeed())
	}
}

// serveHandshakeOnly answers the handshake and then stops reading until
// release is closed.
func serveHandshakeOnly(listener net.Listener, release <-chan struct{}) {
	defer GinkgoRecover()

	conn, err := listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	frame, err := protocol.ReadFrame(conn, 0)
	if err != nil {
		return
	}

	req, err := protocol.DecodeRequest(frame)
	Expect(err).To(Succeed())
	Expect(req.Kind).To(Equal(protocol.KindHandshake))

	data, err := protocol.EncodeMessage(handshakeOk("tcp-token"))
	Expect(err).To(Succeed())
	Expect(protocol.WriteFrame(conn, data)).To(Succeed())

	<-release
}

var _ = Describe("Conn over TCP", func() {
	var (
		listener net.Listener
		seen     chan *protocol.Request
		conn     *client.Conn
		ctx      context.Context
		cancel   context.CancelFunc
	)

	BeforeEach(func() {
		var err error
		listener, err = reuseport.Listen("tcp", "127.0.0.1:0")
		Expect(err).To(Succeed())

		seen = make(chan *protocol.Request, 16)
		go serveOnce(listener, seen)

		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)

		conn = client.New(client.Options{
			URL:            "tcp://" + listener.Addr().String(),
			RequestTimeout: time.Second,
		})
	})

	AfterEach(func() {
		Expect(conn.Disconnect()).To(Succeed())
		listener.Close()
		cancel()
	})

	It("handshakes and pairs replies in order", func() {
		Expect(conn.Connect(ctx)).To(Succeed())
		Expect(conn.WaitReady(ctx)).To(Succeed())

		Expect(conn.GlobalMessage("world1", protocol.IncludingSelf, protocol.Payload{})).To(Succeed())
		Expect(conn.WorldSubscribe(ctx, "world1")).To(Succeed())
		Expect(conn.Heartbeat(ctx)).To(Succeed())

		var kinds []protocol.Kind
		for i := 0; i < 4; i++ {
			var req *protocol.Request
			Eventually(seen).Should(Receive(&req))
			kinds = append(kinds, req.Kind)

			if i > 0 {
				Expect(req.Token).To(Equal("tcp-token"))
			}
		}

		Expect(kinds).To(Equal([]protocol.Kind{
			protocol.KindHandshake,
			protocol.KindGlobalMessage,
			protocol.KindWorldSubscribe,
			protocol.KindHeartbeat,
		}))
	})

	It("fires disconnect once when the client hangs up", func() {
		disconnects := make(chan client.DisconnectEvent, 2)
		conn.Subscribe(func(ev client.Event) {
			if disconnect, ok := ev.(client.DisconnectEvent); ok {
				disconnects <- disconnect
			}
		})

		Expect(conn.Connect(ctx)).To(Succeed())
		Expect(conn.WaitReady(ctx)).To(Succeed())

		Expect(conn.Disconnect()).To(Succeed())

		Eventually(disconnects).Should(Receive(Equal(client.DisconnectEvent{Reason: "client disconnect"})))
		Consistently(disconnects).ShouldNot(Receive())
		Expect(conn.State()).To(Equal(client.Disconnected))
	})

	It("fails to connect when nothing listens", func() {
		listener.Close()

		refused := client.New(client.Options{
			NewTransport: func() (transport.Transport, error) {
				return transport.NewTCP(transport.Options{URL: "tcp://127.0.0.1:1", DialTimeout: time.Second}), nil
			},
		})

		var transportErr *client.TransportError
		Expect(refused.Connect(ctx)).To(BeAssignableToTypeOf(transportErr))
		Expect(refused.State()).To(Equal(client.Disconnected))
	})

	Describe("when the server stops reading", func() {
		var (
			stalled net.Listener
			release chan struct{}
			slow    *client.Conn
		)

		BeforeEach(func() {
			var err error
			stalled, err = reuseport.Listen("tcp", "127.0.0.1:0")
			Expect(err).To(Succeed())

			release = make(chan struct{})
			go serveHandshakeOnly(stalled, release)

			addr := "tcp://" + stalled.Addr().String()
			slow = client.New(client.Options{
				NewTransport: func() (transport.Transport, error) {
					return transport.NewTCP(transport.Options{URL: addr, WriteQueueSize: 4}), nil
				},
			})
		})

		AfterEach(func() {
			close(release)
			stalled.Close()
		})

		It("drops the connection instead of blocking senders", func() {
			disconnects := make(chan client.DisconnectEvent, 4)
			slow.Subscribe(func(ev client.Event) {
				if disconnect, ok := ev.(client.DisconnectEvent); ok {
					disconnects <- disconnect
				}
			})

			Expect(slow.Connect(ctx)).To(Succeed())
			Expect(slow.WaitReady(ctx)).To(Succeed())

			payload := protocol.Payload{Flex: protocol.NewBlob(make([]byte, 256<<10))}

			failed := make(chan error, 1)
			go func() {
				for {
					if err := slow.GlobalMessage("world1", protocol.ExceptSelf, payload); err != nil {
						failed <- err
						return
					}
				}
			}()

			Eventually(failed, 10*time.Second).Should(Receive(MatchError(client.ErrNotReady)))
			Eventually(disconnects).Should(Receive())
			Expect(slow.State()).To(Equal(client.Disconnected))

			done := make(chan error, 1)
			go func() {
				done <- slow.Disconnect()
			}()
			Eventually(done, time.Second).Should(Receive(BeNil()))
		})

		It("disconnects promptly while the write loop is stuck", func() {
			Expect(slow.Connect(ctx)).To(Succeed())
			Expect(slow.WaitReady(ctx)).To(Succeed())

			payload := protocol.Payload{Flex: protocol.NewBlob(make([]byte, 256<<10))}

			// Fill the socket buffers so the write loop blocks
			for i := 0; i < 64 && slow.Ready(); i++ {
				_ = slow.GlobalMessage("world1", protocol.ExceptSelf, payload)
			}

			done := make(chan error, 1)
			go func() {
				done <- slow.Disconnect()
			}()
			Eventually(done, time.Second).Should(Receive())
			Expect(slow.State()).To(Equal(client.Disconnected))
		})
	})
})

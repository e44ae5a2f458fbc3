package bridge_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gstruct"

	"github.com/luma/worldql/client"
	"github.com/luma/worldql/identity"
	"github.com/luma/worldql/internal/bridge"
	"github.com/luma/worldql/protocol"
	"github.com/luma/worldql/storage"
)

var _ = Describe("Server", func() {
	var (
		fake   *fakeClient
		store  *storage.InmemoryStore
		server *httptest.Server
	)

	record := protocol.Record{
		UUID:      identity.Generate(),
		Position:  protocol.Vec3(1, 2, 3),
		WorldName: "world1",
		Data:      protocol.Text("hello"),
	}

	BeforeEach(func() {
		fake = &fakeClient{state: client.Ready}
		store = storage.NewInmemoryStore()

		s := bridge.New(bridge.Options{Client: fake, Store: store})
		server = httptest.NewServer(s.Handler())
	})

	AfterEach(func() {
		server.Close()
		Expect(store.Close()).To(Succeed())
	})

	do := func(method, path, body string) (int, string) {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}

		req, err := http.NewRequest(method, server.URL+path, reader)
		Expect(err).To(Succeed())
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := http.DefaultClient.Do(req)
		Expect(err).To(Succeed())
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		Expect(err).To(Succeed())

		return resp.StatusCode, string(data)
	}

	It("answers pings", func() {
		status, body := do(http.MethodGet, "/ping", "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(Equal("pong"))
	})

	It("reports the connection status", func() {
		status, body := do(http.MethodGet, "/status", "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(MatchJSON(`{"state":"ready","uuid":"00000000-0000-0000-0000-000000000001"}`))

		fake.SetState(client.AwaitingHandshake)
		_, body = do(http.MethodGet, "/status", "")
		Expect(body).To(MatchJSON(`{"state":"awaiting_handshake"}`))
	})

	Describe("POST /worlds/:world/messages", func() {
		It("sends a global message without a position", func() {
			status, _ := do(http.MethodPost, "/worlds/world1/messages", `{"parameter":"hi","flex":""}`)
			Expect(status).To(Equal(http.StatusAccepted))

			calls := fake.Calls()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].method).To(Equal("GlobalMessage"))
			Expect(calls[0].worldName).To(Equal("world1"))
			Expect(calls[0].payload.Parameter).To(PointTo(Equal("hi")))
			Expect(calls[0].payload.Flex.Present()).To(BeTrue())
		})

		It("sends a local message with a position", func() {
			status, _ := do(http.MethodPost, "/worlds/world1/messages", `{"position":[1,2,3]}`)
			Expect(status).To(Equal(http.StatusAccepted))
			Expect(fake.Calls()[0].method).To(Equal("LocalMessage"))
			Expect(fake.Calls()[0].position).To(PointTo(Equal(protocol.Vec3(1, 2, 3))))
		})

		It("returns 503 when the client is not ready", func() {
			fake.Fail(client.ErrNotReady)
			status, body := do(http.MethodPost, "/worlds/world1/messages", `{}`)
			Expect(status).To(Equal(http.StatusServiceUnavailable))
			Expect(body).To(ContainSubstring("ready"))
		})

		It("rejects records without a uuid", func() {
			status, _ := do(http.MethodPost, "/worlds/world1/messages", `{"records":[{"position":[0,0,0]}]}`)
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(fake.Calls()).To(BeEmpty())
		})
	})

	Describe("subscriptions", func() {
		It("subscribes and unsubscribes from worlds", func() {
			status, _ := do(http.MethodPut, "/worlds/world1/subscription", "")
			Expect(status).To(Equal(http.StatusNoContent))

			status, _ = do(http.MethodDelete, "/worlds/world1/subscription", "")
			Expect(status).To(Equal(http.StatusNoContent))

			Expect(fake.Calls()).To(HaveLen(2))
			Expect(fake.Calls()[1].method).To(Equal("WorldUnsubscribe"))
		})

		It("needs a full position for areas", func() {
			status, _ := do(http.MethodPut, "/worlds/world1/areas?x=1&y=2", "")
			Expect(status).To(Equal(http.StatusBadRequest))

			status, _ = do(http.MethodPut, "/worlds/world1/areas?x=1&y=2&z=3", "")
			Expect(status).To(Equal(http.StatusNoContent))
			Expect(fake.Calls()[0].position).To(PointTo(Equal(protocol.Vec3(1, 2, 3))))
		})

		It("maps server errors to 502", func() {
			fake.Fail(&client.ServerError{Code: 4, Message: "no such world"})
			status, body := do(http.MethodPut, "/worlds/nowhere/subscription", "")
			Expect(status).To(Equal(http.StatusBadGateway))
			Expect(body).To(MatchJSON(`{"error":"no such world","code":4}`))
		})
	})

	Describe("records", func() {
		It("fetches an area and mirrors it", func() {
			fake.Answer([]protocol.Record{record})

			status, body := do(http.MethodGet, "/worlds/world1/records?x=0&y=0&z=0", "")
			Expect(status).To(Equal(http.StatusOK))

			var resp struct {
				Records []map[string]interface{} `json:"records"`
			}
			Expect(json.Unmarshal([]byte(body), &resp)).To(Succeed())
			Expect(resp.Records).To(HaveLen(1))
			Expect(resp.Records[0]["uuid"]).To(Equal(record.UUID.String()))

			found, err := store.Get(context.Background(), "world1", record.UUID)
			Expect(err).To(Succeed())
			Expect(*found).To(Equal(record))

			fake.Answer(nil)
			status, body = do(http.MethodGet, "/worlds/world1/records", "")
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring(record.UUID.String()))
			Expect(fake.Calls()).To(HaveLen(1))
		})

		It("fetches records by uuid", func() {
			status, body := do(http.MethodGet, "/worlds/world1/records?uuid="+record.UUID.String(), "")
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(MatchJSON(`{"records":[]}`))
			Expect(fake.Calls()[0].ids).To(Equal([]identity.ID{record.UUID}))
		})

		It("sets, deletes and clears records", func() {
			body := `{"records":[{"uuid":"` + record.UUID.String() + `","position":[1,2,3],"data":"hello"}]}`
			status, _ := do(http.MethodPut, "/worlds/world1/records", body)
			Expect(status).To(Equal(http.StatusNoContent))

			found, err := store.Get(context.Background(), "world1", record.UUID)
			Expect(err).To(Succeed())
			Expect(*found).To(Equal(record))

			status, _ = do(http.MethodDelete, "/worlds/world1/records/"+record.UUID.String(), "")
			Expect(status).To(Equal(http.StatusNoContent))
			_, err = store.Get(context.Background(), "world1", record.UUID)
			Expect(err).To(MatchError(storage.ErrNotFound))

			status, _ = do(http.MethodDelete, "/worlds/world1/records?x=1&y=1&z=1", "")
			Expect(status).To(Equal(http.StatusNoContent))

			methods := []string{}
			for _, c := range fake.Calls() {
				methods = append(methods, c.method)
			}
			Expect(methods).To(Equal([]string{"RecordSet", "RecordDelete", "RecordClearArea"}))
		})

		It("does not touch the mirror when the server fails", func() {
			fake.Fail(client.ErrRequestTimeout)

			body := `{"records":[{"uuid":"` + record.UUID.String() + `"}]}`
			status, _ := do(http.MethodPut, "/worlds/world1/records", body)
			Expect(status).To(Equal(http.StatusGatewayTimeout))

			backup, err := store.Backup()
			Expect(err).To(Succeed())
			Expect(string(backup)).To(Equal(`{}`))
		})

		It("serves a backup of the mirror", func() {
			status, body := do(http.MethodGet, "/backup", "")
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(MatchJSON(`{}`))
		})
	})
})

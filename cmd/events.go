package cmd

import (
	"github.com/luma/worldql/client"
	"github.com/luma/worldql/protocol"
)

type recordView struct {
	UUID      string     `json:"uuid"`
	WorldName string     `json:"world_name"`
	Position  [3]float64 `json:"position"`
	Data      *string    `json:"data,omitempty"`
	Flex      *[]byte    `json:"flex,omitempty"`
}

type payloadView struct {
	Parameter *string      `json:"parameter,omitempty"`
	Flex      *[]byte      `json:"flex,omitempty"`
	Records   []recordView `json:"records,omitempty"`
	Entities  []recordView `json:"entities,omitempty"`
}

type eventView struct {
	Event     string        `json:"event"`
	UUID      string        `json:"uuid,omitempty"`
	Sender    string        `json:"sender,omitempty"`
	WorldName string        `json:"world_name,omitempty"`
	Position  *[3]float64   `json:"position,omitempty"`
	Payload   *payloadView  `json:"payload,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	ByServer  bool          `json:"by_server,omitempty"`
	Error     string        `json:"error,omitempty"`
	Kind      protocol.Kind `json:"kind,omitempty"`
}

// renderEvent flattens a notification into something encoding/json can print.
func renderEvent(ev client.Event) eventView {
	switch ev := ev.(type) {
	case client.ReadyEvent:
		return eventView{Event: "ready", UUID: ev.UUID}

	case client.DisconnectEvent:
		return eventView{Event: "disconnect", Reason: ev.Reason, ByServer: ev.ByServer}

	case client.ErrorEvent:
		return eventView{Event: "error", Error: ev.Err.Error()}

	case client.PeerConnectEvent:
		return eventView{Event: "peer_connect", UUID: ev.UUID}

	case client.PeerDisconnectEvent:
		return eventView{Event: "peer_disconnect", UUID: ev.UUID}

	case client.GlobalMessageEvent:
		return eventView{
			Event:     "global_message",
			Sender:    ev.Sender,
			WorldName: ev.WorldName,
			Position:  renderPosition(ev.Position),
			Payload:   renderPayload(ev.Payload),
		}

	case client.LocalMessageEvent:
		return eventView{
			Event:     "local_message",
			Sender:    ev.Sender,
			WorldName: ev.WorldName,
			Position:  renderPosition(&ev.Position),
			Payload:   renderPayload(ev.Payload),
		}

	case client.RawMessageEvent:
		return eventView{Event: "raw_message", Kind: ev.Message.Kind, WorldName: ev.Message.WorldName}

	default:
		return eventView{Event: "unknown"}
	}
}

func renderPosition(p *protocol.Vector3) *[3]float64 {
	if p == nil {
		return nil
	}

	return &[3]float64{p.X, p.Y, p.Z}
}

func renderBlob(b protocol.Blob) *[]byte {
	if !b.Present() {
		return nil
	}

	data := b.Bytes()
	return &data
}

func renderPayload(p protocol.Payload) *payloadView {
	view := &payloadView{
		Parameter: p.Parameter,
		Flex:      renderBlob(p.Flex),
	}

	for _, record := range p.Records {
		view.Records = append(view.Records, renderRecord(record))
	}

	for _, entity := range p.Entities {
		view.Entities = append(view.Entities, renderRecord(protocol.Record(entity)))
	}

	return view
}

func renderRecord(record protocol.Record) recordView {
	return recordView{
		UUID:      record.UUID.String(),
		WorldName: record.WorldName,
		Position:  [3]float64{record.Position.X, record.Position.Y, record.Position.Z},
		Data:      record.Data,
		Flex:      renderBlob(record.Flex),
	}
}

package bridge

import (
	"context"

	"github.com/luma/worldql/client"
	"github.com/luma/worldql/identity"
	"github.com/luma/worldql/protocol"
	"github.com/luma/worldql/storage"
)

// Client is the part of *client.Conn the bridge drives.
type Client interface {
	State() client.State
	UUID() (string, error)

	GlobalMessage(worldName string, replication protocol.Replication, payload protocol.Payload) error
	LocalMessage(worldName string, position protocol.VectorLike, replication protocol.Replication, payload protocol.Payload) error

	WorldSubscribe(ctx context.Context, worldName string) error
	WorldUnsubscribe(ctx context.Context, worldName string) error
	AreaSubscribe(ctx context.Context, worldName string, position protocol.VectorLike) error
	AreaUnsubscribe(ctx context.Context, worldName string, position protocol.VectorLike) error

	RecordGetArea(ctx context.Context, worldName string, position protocol.VectorLike) ([]protocol.Record, error)
	RecordGetUUIDs(ctx context.Context, worldName string, ids ...identity.ID) ([]protocol.Record, error)
	RecordSet(ctx context.Context, records []protocol.Record) error
	RecordDelete(ctx context.Context, records []protocol.Record) error
	RecordClearWorld(ctx context.Context, worldName string) error
	RecordClearArea(ctx context.Context, worldName string, position protocol.VectorLike) error
}

var _ Client = (*client.Conn)(nil)

// Mirror runs record requests against the server and keeps a Store in step
// with what the server confirmed.
type Mirror struct {
	client Client
	store  storage.Store
}

func NewMirror(c Client, store storage.Store) *Mirror {
	return &Mirror{client: c, store: store}
}

func (m *Mirror) Store() storage.Store {
	return m.store
}

func (m *Mirror) GetArea(ctx context.Context, worldName string, position protocol.VectorLike) ([]protocol.Record, error) {
	records, err := m.client.RecordGetArea(ctx, worldName, position)
	if err != nil {
		return nil, err
	}

	return records, m.store.Put(ctx, records...)
}

func (m *Mirror) GetUUIDs(ctx context.Context, worldName string, ids ...identity.ID) ([]protocol.Record, error) {
	records, err := m.client.RecordGetUUIDs(ctx, worldName, ids...)
	if err != nil {
		return nil, err
	}

	return records, m.store.Put(ctx, records...)
}

func (m *Mirror) Set(ctx context.Context, records ...protocol.Record) error {
	if err := m.client.RecordSet(ctx, records); err != nil {
		return err
	}

	return m.store.Put(ctx, records...)
}

func (m *Mirror) Delete(ctx context.Context, records ...protocol.Record) error {
	if err := m.client.RecordDelete(ctx, records); err != nil {
		return err
	}

	return m.store.Delete(ctx, records...)
}

func (m *Mirror) ClearWorld(ctx context.Context, worldName string) error {
	if err := m.client.RecordClearWorld(ctx, worldName); err != nil {
		return err
	}

	return m.store.ClearWorld(ctx, worldName)
}

// ClearArea clears an area on the server. Area bounds are only known to the
// server, so the whole world is dropped from the mirror.
func (m *Mirror) ClearArea(ctx context.Context, worldName string, position protocol.VectorLike) error {
	if err := m.client.RecordClearArea(ctx, worldName, position); err != nil {
		return err
	}

	return m.store.ClearWorld(ctx, worldName)
}

package storage

import (
	"context"
	"errors"

	"github.com/luma/worldql/identity"
	"github.com/luma/worldql/protocol"
)

var ErrNotFound = errors.New("Record not found")

// Store is a local mirror of WorldQL records, keyed by world and uuid.
type Store interface {
	// Put creates or replaces records.
	Put(ctx context.Context, records ...protocol.Record) error
	Get(ctx context.Context, worldName string, id identity.ID) (*protocol.Record, error)

	// List returns the records of a world in uuid order.
	List(ctx context.Context, worldName string) ([]protocol.Record, error)

	Delete(ctx context.Context, records ...protocol.Record) error
	ClearWorld(ctx context.Context, worldName string) error

	Restore(values []byte) error
	Backup() ([]byte, error)

	ListenToUpdates() <-chan *Update

	Close() error
}

type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
	OpClear  Op = "clear"
)

// Update describes one change to a Store. UUID is nil and Value is empty for
// OpClear, Value is empty for OpDelete.
type Update struct {
	Op        Op
	WorldName string
	UUID      identity.ID

	// Value is the stored JSON of the record
	Value []byte
}

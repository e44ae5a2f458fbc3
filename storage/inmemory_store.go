package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/luma/worldql/identity"
	"github.com/luma/worldql/protocol"
)

var ErrInvalidBackup = errors.New("Backup is not a valid JSON document")

// storedRecord is the JSON shape of a record. World and uuid are the keys
// above it. Flex is base64, an empty string is a present but empty payload.
type storedRecord struct {
	Position [3]float64 `json:"position"`
	Data     *string    `json:"data,omitempty"`
	Flex     *[]byte    `json:"flex,omitempty"`
}

// InmemoryStore keeps every record in a single JSON document shaped like
// {"<world>": {"<uuid>": {...}}}.
type InmemoryStore struct {
	valuesMu sync.RWMutex
	values   []byte

	mu          sync.Mutex
	updateChans []chan *Update

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:      []byte("{}"),
		stop:        make(chan struct{}),
		updateChans: make([]chan *Update, 0),
	}
}

func (i *InmemoryStore) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return nil
	}

	close(i.stop)

	for _, updateChan := range i.updateChans {
		close(updateChan)
	}

	return nil
}

func (i *InmemoryStore) Put(ctx context.Context, records ...protocol.Record) error {
	for _, record := range records {
		stored := storedRecord{
			Position: [3]float64{record.Position.X, record.Position.Y, record.Position.Z},
			Data:     record.Data,
		}

		if record.Flex.Present() {
			flex := record.Flex.Bytes()
			stored.Flex = &flex
		}

		value, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("Failed to encode record %s: %w", record.UUID, err)
		}

		i.valuesMu.Lock()
		err = i.setLocked(record.WorldName, record.UUID, value)
		i.valuesMu.Unlock()

		if err != nil {
			return err
		}

		i.publish(&Update{
			Op:        OpPut,
			WorldName: record.WorldName,
			UUID:      record.UUID,
			Value:     value,
		})
	}

	return nil
}

// setLocked writes one record. A missing world is created as a whole object
// so numeric uuid or world keys are never mistaken for array indexes.
func (i *InmemoryStore) setLocked(worldName string, id identity.ID, value []byte) (err error) {
	worldPath := escapePath(worldName)

	if gjson.GetBytes(i.values, worldPath).IsObject() {
		i.values, err = sjson.SetRawBytes(i.values, recordPath(worldName, id), value)
		return err
	}

	world, err := json.Marshal(map[string]json.RawMessage{id.String(): value})
	if err != nil {
		return err
	}

	i.values, err = sjson.SetRawBytes(i.values, worldPath, world)
	return err
}

func (i *InmemoryStore) Get(ctx context.Context, worldName string, id identity.ID) (*protocol.Record, error) {
	i.valuesMu.RLock()
	result := gjson.GetBytes(i.values, recordPath(worldName, id))
	i.valuesMu.RUnlock()

	if !result.Exists() {
		return nil, fmt.Errorf("%s/%s: %w", worldName, id, ErrNotFound)
	}

	return decodeRecord(worldName, id, result)
}

func (i *InmemoryStore) List(ctx context.Context, worldName string) ([]protocol.Record, error) {
	i.valuesMu.RLock()
	world := gjson.GetBytes(i.values, escapePath(worldName))
	i.valuesMu.RUnlock()

	records := make([]protocol.Record, 0)

	var err error
	world.ForEach(func(key, value gjson.Result) bool {
		var id identity.ID
		if id, err = identity.Parse(key.String()); err != nil {
			return false
		}

		var record *protocol.Record
		if record, err = decodeRecord(worldName, id, value); err != nil {
			return false
		}

		records = append(records, *record)
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(a, b int) bool {
		return records[a].UUID.String() < records[b].UUID.String()
	})

	return records, nil
}

// Delete removes records. Only their world name and uuid are used.
func (i *InmemoryStore) Delete(ctx context.Context, records ...protocol.Record) error {
	for _, record := range records {
		path := recordPath(record.WorldName, record.UUID)

		i.valuesMu.Lock()
		existed := gjson.GetBytes(i.values, path).Exists()

		var err error
		if existed {
			i.values, err = sjson.DeleteBytes(i.values, path)
		}
		i.valuesMu.Unlock()

		if err != nil {
			return err
		}

		if existed {
			i.publish(&Update{Op: OpDelete, WorldName: record.WorldName, UUID: record.UUID})
		}
	}

	return nil
}

func (i *InmemoryStore) ClearWorld(ctx context.Context, worldName string) (err error) {
	path := escapePath(worldName)

	i.valuesMu.Lock()
	existed := gjson.GetBytes(i.values, path).Exists()
	if existed {
		i.values, err = sjson.DeleteBytes(i.values, path)
	}
	i.valuesMu.Unlock()

	if err != nil {
		return err
	}

	if existed {
		i.publish(&Update{Op: OpClear, WorldName: worldName})
	}

	return nil
}

// ListenToUpdates returns a channel of changes. Updates are dropped for
// listeners that fall behind. The channel is closed by Close.
func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	i.mu.Lock()
	defer i.mu.Unlock()

	updateChan := make(chan *Update, 255)

	if !i.isRunning() {
		close(updateChan)
		return updateChan
	}

	i.updateChans = append(i.updateChans, updateChan)
	return updateChan
}

func (i *InmemoryStore) Restore(values []byte) error {
	if len(values) == 0 {
		values = []byte("{}")
	}

	if !gjson.ValidBytes(values) || !gjson.ParseBytes(values).IsObject() {
		return ErrInvalidBackup
	}

	i.valuesMu.Lock()
	i.values = append([]byte(nil), values...)
	i.valuesMu.Unlock()

	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.valuesMu.RLock()
	defer i.valuesMu.RUnlock()

	return append([]byte(nil), i.values...), nil
}

func (i *InmemoryStore) publish(update *Update) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return
	}

	for _, updateChan := range i.updateChans {
		select {
		case updateChan <- update:
		default:
		}
	}
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

func decodeRecord(worldName string, id identity.ID, result gjson.Result) (*protocol.Record, error) {
	var stored storedRecord
	if err := json.Unmarshal([]byte(result.Raw), &stored); err != nil {
		return nil, fmt.Errorf("Failed to decode record %s/%s: %w", worldName, id, err)
	}

	record := &protocol.Record{
		UUID:      id,
		WorldName: worldName,
		Position:  protocol.Vec3(stored.Position[0], stored.Position[1], stored.Position[2]),
		Data:      stored.Data,
	}

	if stored.Flex != nil {
		record.Flex = protocol.NewBlob(*stored.Flex)
	}

	return record, nil
}

func recordPath(worldName string, id identity.ID) string {
	return escapePath(worldName) + "." + id.String()
}

// escapePath makes s usable as a single gjson/sjson path component.
func escapePath(s string) string {
	var b strings.Builder

	for _, r := range s {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%', ':':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}

	return b.String()
}

var _ Store = (*InmemoryStore)(nil)

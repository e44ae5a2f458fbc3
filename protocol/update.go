package protocol

import (
	"bytes"
	"fmt"

	"github.com/luma/worldql/identity"
)

// Vector3 is a position in a world.
type Vector3 struct {
	X float64
	Y float64
	Z float64
}

// Tuple is the [x, y, z] form of a position.
type Tuple [3]float64

// VectorLike is accepted wherever the API takes a position, so callers can
// pass either a Vector3 or a Tuple.
type VectorLike interface {
	Vector3() Vector3
}

func Vec3(x, y, z float64) Vector3 {
	return Vector3{X: x, Y: y, Z: z}
}

func (v Vector3) Vector3() Vector3 {
	return v
}

func (v Vector3) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

func (t Tuple) Vector3() Vector3 {
	return Vector3{X: t[0], Y: t[1], Z: t[2]}
}

// PositionOf normalises a VectorLike into an optional position.
func PositionOf(v VectorLike) *Vector3 {
	if v == nil {
		return nil
	}

	p := v.Vector3()
	return &p
}

// Blob is an optional binary payload. The zero value is absent, which is
// different from a present payload of length zero.
type Blob struct {
	data    []byte
	present bool
}

// NewBlob returns a present Blob holding a copy of b. A nil b gives a present,
// empty Blob.
func NewBlob(b []byte) Blob {
	data := make([]byte, len(b))
	copy(data, b)

	return Blob{data: data, present: true}
}

func (b Blob) Present() bool {
	return b.present
}

// Bytes returns a copy of the payload, or nil when absent.
func (b Blob) Bytes() []byte {
	if !b.present {
		return nil
	}

	data := make([]byte, len(b.data))
	copy(data, b.data)
	return data
}

func (b Blob) Len() int {
	return len(b.data)
}

func (b Blob) Equal(o Blob) bool {
	return b.present == o.present && bytes.Equal(b.data, o.data)
}

// Text returns a pointer to s, for optional text fields.
func Text(s string) *string {
	return &s
}

// Record is a piece of persistent spatial state owned by the server.
type Record struct {
	UUID      identity.ID
	Position  Vector3
	WorldName string
	Data      *string
	Flex      Blob
}

// Entity has the same shape as a Record but is only ever attached to messages.
type Entity Record

// Payload is the optional body of a broadcast message.
type Payload struct {
	Parameter *string
	Flex      Blob
	Records   []Record
	Entities  []Entity
}

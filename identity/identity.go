package identity

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Size is the width of an ID on the wire.
const Size = 16

var ErrInvalidID = errors.New("Identifier is malformed")

// ID is an opaque 128-bit client or record identifier.
type ID [Size]byte

// Nil is the all-zero ID.
var Nil ID

// Generate returns a fresh random (version 4) ID. The randomness comes from
// crypto/rand, so collisions are not a practical concern.
func Generate() ID {
	return ID(uuid.New())
}

// FromBytes copies a wire representation into an ID.
func FromBytes(b []byte) (ID, error) {
	var id ID

	if len(b) != Size {
		return id, fmt.Errorf("expected %d bytes, got %d: %w", Size, len(b), ErrInvalidID)
	}

	copy(id[:], b)
	return id, nil
}

// Parse reads the canonical textual form of an ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("Failed to parse '%s': %w", s, ErrInvalidID)
	}

	return ID(u), nil
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Bytes returns a copy of the wire representation.
func (id ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

func (id ID) IsNil() bool {
	return id == Nil
}

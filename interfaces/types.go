package interfaces

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

// PeerID uniquely identifies a device in a pairing group. It is a UUID
// under the hood; the wrapper keeps peer identifiers from mixing with the
// module's other UUID uses.
type PeerID uuid.UUID

// NewPeerID returns a fresh random peer identifier.
func NewPeerID() PeerID {
	return PeerID(uuid.New())
}

// ParsePeerID parses the canonical UUID string form.
func ParsePeerID(s string) (PeerID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return PeerID{}, fmt.Errorf("invalid peer id %q: %w", s, err)
	}
	return PeerID(id), nil
}

// PeerIDFromBytes converts a 16-byte slice into a PeerID.
func PeerIDFromBytes(b []byte) (PeerID, error) {
	if len(b) != 16 {
		return PeerID{}, errors.New("invalid peer id length: must be 16 bytes")
	}
	var id uuid.UUID
	copy(id[:], b)
	return PeerID(id), nil
}

// String returns the canonical UUID string form.
func (p PeerID) String() string {
	return uuid.UUID(p).String()
}

// Bytes returns the raw 16 bytes.
func (p PeerID) Bytes() []byte {
	id := uuid.UUID(p)
	return id[:]
}

// IsZero reports whether the identifier is unset.
func (p PeerID) IsZero() bool {
	return uuid.UUID(p) == uuid.Nil
}

// MarshalText implements encoding.TextMarshaler using the canonical UUID
// string, keeping peer ids readable in JSON records.
func (p PeerID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PeerID) UnmarshalText(text []byte) error {
	parsed, err := ParsePeerID(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// StoredShare is one lockbox share a device keeps on behalf of a peer. The
// payload is sealed by the owner before it ever reaches the holder, so a
// stored share on its own reveals nothing.
type StoredShare struct {
	// LockboxID names the lockbox the share belongs to. A device holds at
	// most one share per lockbox.
	LockboxID protocol.LockboxID `json:"lockbox_id"`

	// Index is the share's position in the lockbox's split.
	Index uint8 `json:"index"`

	// Payload is the sealed share material.
	Payload []byte `json:"payload"`

	// Origin is the peer that asked this device to hold the share.
	Origin PeerID `json:"origin"`
}

// Validate checks the record is complete enough to store.
func (s *StoredShare) Validate() error {
	if s.LockboxID == (protocol.LockboxID{}) {
		return errors.New("stored share: zero lockbox id")
	}
	if len(s.Payload) == 0 {
		return errors.New("stored share: empty payload")
	}
	return nil
}

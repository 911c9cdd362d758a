package interfaces

import (
	"context"
	"errors"
)

var (
	// ErrUnknownPeer is returned when a message is addressed to a peer the
	// transport has no route for.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrNoMessage is returned by a poll when the peer's queue is empty.
	ErrNoMessage = errors.New("no message waiting")
)

// Inbound is one received transport payload: who sent it and the raw
// encoded message. Decoding is the receiver's job.
type Inbound struct {
	From    PeerID
	Payload []byte
}

// MessageTransport moves encoded protocol messages between peers. The
// transport treats payloads as opaque bytes; it guarantees neither
// delivery nor ordering, which the conversation layer is built to
// tolerate.
type MessageTransport interface {
	// Send delivers a payload to the peer, or queues it for pickup.
	Send(ctx context.Context, to PeerID, payload []byte) error

	// Poll fetches one queued payload addressed to this device. Returns
	// ErrNoMessage when nothing is waiting.
	Poll(ctx context.Context) (Inbound, error)
}

// ShareSealer seals share payloads to a peer's key-exchange public key and
// opens payloads sealed to this device. Implementations own the scheme;
// callers only move opaque sealed bytes.
type ShareSealer interface {
	// Seal encrypts plaintext so only the holder of peerPubkey can read
	// it.
	Seal(plaintext, peerPubkey []byte) ([]byte, error)

	// Open decrypts a payload sealed to this device's key.
	Open(sealed []byte) ([]byte, error)

	// PublicKey returns this device's key-exchange public key in the form
	// peers seal to.
	PublicKey() []byte
}

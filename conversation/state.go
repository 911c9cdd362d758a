package conversation

import (
	"errors"

	"github.com/google/uuid"

	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

var (
	// ErrAlreadyStarted is returned by a Begin method on a conversation
	// that is past NotStarted.
	ErrAlreadyStarted = errors.New("conversation: already started")

	// ErrMessagePending is returned when an operation would queue an
	// outbound message before the previous one was taken.
	ErrMessagePending = errors.New("conversation: pending outbound message not yet taken")

	// ErrNotAwaitingShare is returned by SupplyShare or DeclineShare when
	// the conversation is not parked on a retrieval request.
	ErrNotAwaitingShare = errors.New("conversation: no share request awaiting an answer")

	// ErrNotAwaitingStore is returned by AcknowledgeStore when the
	// conversation is not parked on a store or update request.
	ErrNotAwaitingStore = errors.New("conversation: no store request awaiting an answer")

	// ErrUnknownProtocol is returned for a ProtocolKind outside the suite.
	ErrUnknownProtocol = errors.New("conversation: unknown protocol kind")

	// ErrUnhandledMessage is returned by Dispatch when no live conversation
	// accepts a non-initiating message. The message is discarded; nothing
	// was mutated.
	ErrUnhandledMessage = errors.New("conversation: no conversation accepts message")
)

// State is one conversation with one peer. The concrete types are
// PairingState, RecoveryState, KeepAliveState and SharesState; each adds
// the accessors and application hooks of its protocol.
type State interface {
	// ID is the conversation's unique identifier.
	ID() uuid.UUID

	// Protocol is the owning protocol; the state only ever accepts
	// messages of this protocol.
	Protocol() protocol.ProtocolKind

	// Role reports which side of the conversation this state is.
	Role() Role

	// Status reports the lifecycle position.
	Status() Status

	// Process feeds one decoded inbound message to the conversation.
	// It returns false, mutating nothing, when the message is not a valid
	// next step: wrong protocol, wrong stage, a failed echo check, or a
	// terminal conversation. True means the message was consumed and the
	// conversation advanced.
	Process(msg protocol.Message) bool

	// TakeNextMessageToSend returns the pending outbound message and
	// clears it, or nil when none is pending. Each queued message is
	// returned exactly once.
	TakeNextMessageToSend() protocol.Message

	// HasPendingMessage reports whether an outbound message is queued
	// without consuming it.
	HasPendingMessage() bool
}

// base carries the bookkeeping every conversation shares.
type base struct {
	id       uuid.UUID
	role     Role
	status   Status
	outbound protocol.Message
}

func newBase(role Role) base {
	return base{id: uuid.New(), role: role, status: StatusNotStarted}
}

func (b *base) ID() uuid.UUID { return b.id }

func (b *base) Role() Role { return b.role }

func (b *base) Status() Status { return b.status }

func (b *base) HasPendingMessage() bool { return b.outbound != nil }

func (b *base) TakeNextMessageToSend() protocol.Message {
	m := b.outbound
	b.outbound = nil
	return m
}

// queue sets the single pending outbound message. Transitions call it only
// after checking nothing is pending, which keeps the one-message invariant.
func (b *base) queue(m protocol.Message) { b.outbound = m }

// PeerIdentity is what a device learns about its counterpart during
// pairing.
type PeerIdentity struct {
	Version     uint16
	Counter     uint32
	Mode        protocol.OperatingMode
	DisplayName string
	KxPubkey    []byte
}

package conversation

import (
	"crypto/rand"
	"fmt"
	"math"
	"unicode/utf8"

	"go.uber.org/atomic"
	"golang.org/x/text/unicode/norm"

	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

// Config carries the local device identity an Engine builds conversations
// from.
type Config struct {
	// Version is the protocol version this device speaks. Conversations
	// with peers on a different version fail instead of guessing.
	Version uint16

	// DisplayName is the device's human-readable name. It is
	// NFC-normalized once here so every outbound message carries the same
	// bytes.
	DisplayName string

	// KxPubkey is the device's key-exchange public key, included in
	// pairing messages so peers can seal payloads to this device.
	KxPubkey []byte

	// Mode is the device's initial operating mode.
	Mode protocol.OperatingMode

	// NonceFn supplies the nonce byte for outbound handshakes. Nil means
	// crypto/rand. Tests inject a fixed source for determinism.
	NonceFn func() uint8

	// CounterFn supplies the pairing counter stamped on outbound pairing
	// messages. Nil means a process-local monotonic counter.
	CounterFn func() uint32
}

// Engine creates conversation states on behalf of one device. It holds the
// identity fields every outbound handshake repeats, so callers do not
// thread them through each call.
//
// An Engine and the states it creates share the single-caller contract
// described in the package comment: serialize all use.
type Engine struct {
	version     uint16
	displayName string
	kxPubkey    []byte
	mode        protocol.OperatingMode

	nonceFn   func() uint8
	counterFn func() uint32
	pairings  atomic.Uint32
}

// NewEngine validates the identity and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if !utf8.ValidString(cfg.DisplayName) {
		return nil, fmt.Errorf("display name: %w", protocol.ErrInvalidText)
	}
	name := norm.NFC.String(cfg.DisplayName)
	if len(name) > math.MaxUint16 {
		return nil, fmt.Errorf("display name: %w: %d bytes", protocol.ErrFieldOutOfRange, len(name))
	}
	if len(cfg.KxPubkey) > math.MaxUint16 {
		return nil, fmt.Errorf("key-exchange pubkey: %w: %d bytes", protocol.ErrFieldOutOfRange, len(cfg.KxPubkey))
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("%w: operating mode %d", protocol.ErrFieldOutOfRange, uint8(cfg.Mode))
	}

	e := &Engine{
		version:     cfg.Version,
		displayName: name,
		kxPubkey:    cfg.KxPubkey,
		mode:        cfg.Mode,
		nonceFn:     cfg.NonceFn,
		counterFn:   cfg.CounterFn,
	}
	if e.nonceFn == nil {
		e.nonceFn = randomNonce
	}
	if e.counterFn == nil {
		e.counterFn = func() uint32 { return e.pairings.Inc() }
	}
	return e, nil
}

// OperatingMode returns the mode stamped on outbound messages.
func (e *Engine) OperatingMode() protocol.OperatingMode { return e.mode }

// SetOperatingMode changes the mode stamped on future outbound messages,
// typically when the device enters or leaves recovery.
func (e *Engine) SetOperatingMode(mode protocol.OperatingMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: operating mode %d", protocol.ErrFieldOutOfRange, uint8(mode))
	}
	e.mode = mode
	return nil
}

// Version returns the protocol version the engine speaks.
func (e *Engine) Version() uint16 { return e.version }

// StartConversation creates a NotStarted initiator state for the protocol.
// The caller activates it with the concrete type's Begin method, which
// supplies the opening message's inputs.
func (e *Engine) StartConversation(kind protocol.ProtocolKind) (State, error) {
	switch kind {
	case protocol.ProtocolPairing:
		return newPairingState(e, RoleInitiator), nil
	case protocol.ProtocolRecovery:
		return newRecoveryState(e, RoleInitiator), nil
	case protocol.ProtocolKeepAlive:
		return newKeepAliveState(e, RoleInitiator), nil
	case protocol.ProtocolLockboxSharesUpdate:
		return newSharesState(e, RoleInitiator), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, kind)
	}
}

// AdmitIfStarting builds a responder state for a conversation-initiating
// message and feeds it that message. It returns nil for every other kind;
// those belong to an existing conversation or nowhere. Creating the state
// has no side effect beyond returning it.
func (e *Engine) AdmitIfStarting(msg protocol.Message) State {
	switch m := msg.(type) {
	case *protocol.PairingRequest:
		return admitPairing(e, m)
	case *protocol.LockboxShareRetrievalRequest:
		return admitRecovery(e, m)
	case *protocol.KeepAliveRequest:
		return admitKeepAlive(e, m)
	case *protocol.StoreLockboxShareRequest:
		return admitShares(e, m.Version, m.LockboxID, m.ShareIndex, m.Share, false)
	case *protocol.LockboxUpdateRequest:
		return admitShares(e, m.Version, m.LockboxID, m.ShareIndex, m.Share, true)
	default:
		return nil
	}
}

func randomNonce() uint8 {
	var b [1]byte
	_, _ = rand.Read(b[:])
	return b[0]
}

package protocol

import (
	"encoding/hex"
	"fmt"
)

// ProtocolKind identifies one of the four conversation protocols. Every
// message kind belongs to exactly one protocol, and a conversation only ever
// carries messages of its own protocol.
type ProtocolKind uint8

const (
	ProtocolUnknown ProtocolKind = iota
	ProtocolPairing
	ProtocolRecovery
	ProtocolKeepAlive
	ProtocolLockboxSharesUpdate
)

// String returns a short lowercase name suitable for log attributes.
func (p ProtocolKind) String() string {
	switch p {
	case ProtocolPairing:
		return "pairing"
	case ProtocolRecovery:
		return "recovery"
	case ProtocolKeepAlive:
		return "keepalive"
	case ProtocolLockboxSharesUpdate:
		return "lockbox-shares-update"
	default:
		return fmt.Sprintf("protocol(%d)", uint8(p))
	}
}

// MessageKind is the 16-bit wire code that opens every encoded message.
// The high byte selects the owning protocol's code block, the low byte the
// message within it.
type MessageKind uint16

const (
	KindPairingRequest  MessageKind = 0x0000
	KindPairingResponse MessageKind = 0x0001
	KindPairingAck      MessageKind = 0x0002

	KindLockboxShareRetrievalRequest  MessageKind = 0x0100
	KindLockboxShareRetrievalResponse MessageKind = 0x0101
	KindOperatingModeUpdate           MessageKind = 0x0102

	KindKeepAliveRequest  MessageKind = 0x0200
	KindKeepAliveResponse MessageKind = 0x0201

	KindStoreLockboxShareRequest  MessageKind = 0x0300
	KindStoreLockboxShareResponse MessageKind = 0x0301
	KindLockboxUpdateRequest      MessageKind = 0x0302
)

type catalogEntry struct {
	name       string
	protocol   ProtocolKind
	initiating bool
}

// catalog is the closed message set. Decode rejects any code missing here.
var catalog = map[MessageKind]catalogEntry{
	KindPairingRequest:                {"PairingRequest", ProtocolPairing, true},
	KindPairingResponse:               {"PairingResponse", ProtocolPairing, false},
	KindPairingAck:                    {"PairingAck", ProtocolPairing, false},
	KindLockboxShareRetrievalRequest:  {"LockboxShareRetrievalRequest", ProtocolRecovery, true},
	KindLockboxShareRetrievalResponse: {"LockboxShareRetrievalResponse", ProtocolRecovery, false},
	KindOperatingModeUpdate:           {"OperatingModeUpdate", ProtocolRecovery, false},
	KindKeepAliveRequest:              {"KeepAliveRequest", ProtocolKeepAlive, true},
	KindKeepAliveResponse:             {"KeepAliveResponse", ProtocolKeepAlive, false},
	KindStoreLockboxShareRequest:      {"StoreLockboxShareRequest", ProtocolLockboxSharesUpdate, true},
	KindStoreLockboxShareResponse:     {"StoreLockboxShareResponse", ProtocolLockboxSharesUpdate, false},
	KindLockboxUpdateRequest:          {"LockboxUpdateRequest", ProtocolLockboxSharesUpdate, true},
}

// Known reports whether the code is part of the catalog.
func (k MessageKind) Known() bool {
	_, ok := catalog[k]
	return ok
}

// Protocol returns the owning ProtocolKind, or ProtocolUnknown for codes
// outside the catalog.
func (k MessageKind) Protocol() ProtocolKind {
	return catalog[k].protocol
}

// Initiating reports whether a message of this kind may open a new
// conversation. Non-initiating kinds are only valid inside a conversation
// that already exists.
func (k MessageKind) Initiating() bool {
	return catalog[k].initiating
}

func (k MessageKind) String() string {
	if e, ok := catalog[k]; ok {
		return e.name
	}
	return fmt.Sprintf("MessageKind(0x%04x)", uint16(k))
}

// OperatingMode is a device's announced operating state. It travels as a
// single byte in pairing, keepalive and mode-update messages.
type OperatingMode uint8

const (
	// ModeNormal is regular operation: the device holds its own secrets and
	// answers peers.
	ModeNormal OperatingMode = iota

	// ModeRecovery announces the device is reassembling a lockbox and may
	// ask peers for held shares.
	ModeRecovery

	// ModeInactive announces the device is winding down and should not be
	// counted on for share custody.
	ModeInactive
)

// Valid reports whether the byte is a defined operating mode.
func (m OperatingMode) Valid() bool { return m <= ModeInactive }

func (m OperatingMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeRecovery:
		return "recovery"
	case ModeInactive:
		return "inactive"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ShareStatus is the single-byte outcome carried by share responses.
type ShareStatus uint8

const (
	// ShareOk indicates the request was honored.
	ShareOk ShareStatus = iota

	// ShareNotFound indicates the peer holds no share for the lockbox.
	ShareNotFound

	// ShareRefused indicates the peer declined the request.
	ShareRefused
)

// Valid reports whether the byte is a defined share status.
func (s ShareStatus) Valid() bool { return s <= ShareRefused }

func (s ShareStatus) String() string {
	switch s {
	case ShareOk:
		return "ok"
	case ShareNotFound:
		return "not-found"
	case ShareRefused:
		return "refused"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// LockboxID identifies a lockbox. It is the SHA-256 digest of the lockbox
// verifier and travels as a fixed 32-byte wire field.
type LockboxID [32]byte

// LockboxIDFromHex parses a 64-character hex string into a LockboxID.
func LockboxIDFromHex(s string) (LockboxID, error) {
	var id LockboxID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid lockbox id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("invalid lockbox id %q: got %d bytes, want %d", s, len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}

// String returns the lowercase hex form.
func (id LockboxID) String() string { return hex.EncodeToString(id[:]) }

// MarshalText implements encoding.TextMarshaler using the hex form, so the
// identifier stays readable in JSON records.
func (id LockboxID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *LockboxID) UnmarshalText(text []byte) error {
	parsed, err := LockboxIDFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

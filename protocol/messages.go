package protocol

// Message is the closed union of every wire message. The only
// implementations are the structs in this file; the unexported marker keeps
// the set closed so exhaustive type switches stay trustworthy.
type Message interface {
	// Kind returns the message's catalog code.
	Kind() MessageKind

	isMessage()
}

// PairingRequest opens a pairing conversation. It introduces the sender to
// a prospective peer: who it is, how it is operating, and the key-exchange
// public key the peer should encrypt to.
type PairingRequest struct {
	// Version is the sender's protocol version. Peers on a different
	// version fail the conversation instead of guessing.
	Version uint16

	// Counter is the sender's pairing counter, incremented for every
	// pairing it initiates or answers.
	Counter uint32

	// Nonce is a fresh random byte identifying this pairing attempt.
	Nonce uint8

	// Mode is the sender's current operating mode.
	Mode OperatingMode

	// DisplayName is the sender's human-readable name, NFC-normalized.
	DisplayName string

	// KxPubkey is the sender's key-exchange public key.
	KxPubkey []byte
}

// PairingResponse answers a PairingRequest with the responder's own
// identity. Nonce is the responder's fresh nonce, echoed back by the
// PairingAck.
type PairingResponse struct {
	Version     uint16
	Counter     uint32
	Nonce       uint8
	Mode        OperatingMode
	DisplayName string
	KxPubkey    []byte
}

// PairingAck completes a pairing. Nonce echoes the PairingResponse nonce so
// the responder can tie the ack to its response.
type PairingAck struct {
	Nonce uint8
}

// LockboxShareRetrievalRequest opens a recovery conversation: the sender is
// reassembling the named lockbox and asks the peer to return its held
// share, sealed to KxPubkey.
type LockboxShareRetrievalRequest struct {
	Version   uint16
	LockboxID LockboxID

	// Nonce is a fresh random byte identifying this retrieval attempt.
	Nonce uint8

	// KxPubkey is the requesting device's key-exchange public key. A
	// recovering device is typically a fresh install, so the key travels
	// with the request rather than relying on pairing-time state.
	KxPubkey []byte
}

// LockboxShareRetrievalResponse returns a held share, or reports why none
// is returned. Share is an opaque sealed payload and is empty unless
// Status is ShareOk.
type LockboxShareRetrievalResponse struct {
	Status    ShareStatus
	LockboxID LockboxID
	Share     []byte
}

// OperatingModeUpdate tells the peer the sender's operating mode changed.
// It closes a recovery conversation once the recovered device is back to
// normal operation.
type OperatingModeUpdate struct {
	Mode OperatingMode
}

// KeepAliveRequest opens a keepalive conversation: a liveness probe that
// also carries the sender's current operating mode.
type KeepAliveRequest struct {
	// Counter is a monotonic probe counter; the response must echo it.
	Counter uint32
	Mode    OperatingMode
}

// KeepAliveResponse answers a probe, echoing its counter and reporting the
// responder's mode.
type KeepAliveResponse struct {
	Counter uint32
	Mode    OperatingMode
}

// StoreLockboxShareRequest opens a shares-update conversation asking the
// peer to keep a share. Share is an opaque sealed payload; ShareIndex is
// its position in the lockbox's split.
type StoreLockboxShareRequest struct {
	Version    uint16
	LockboxID  LockboxID
	ShareIndex uint8
	Share      []byte
}

// StoreLockboxShareResponse acknowledges a store or update request.
type StoreLockboxShareResponse struct {
	Status    ShareStatus
	LockboxID LockboxID
}

// LockboxUpdateRequest opens a shares-update conversation replacing a share
// the peer already holds, after the lockbox owner re-split its secret.
type LockboxUpdateRequest struct {
	Version    uint16
	LockboxID  LockboxID
	ShareIndex uint8
	Share      []byte
}

func (*PairingRequest) Kind() MessageKind                { return KindPairingRequest }
func (*PairingResponse) Kind() MessageKind               { return KindPairingResponse }
func (*PairingAck) Kind() MessageKind                    { return KindPairingAck }
func (*LockboxShareRetrievalRequest) Kind() MessageKind  { return KindLockboxShareRetrievalRequest }
func (*LockboxShareRetrievalResponse) Kind() MessageKind { return KindLockboxShareRetrievalResponse }
func (*OperatingModeUpdate) Kind() MessageKind           { return KindOperatingModeUpdate }
func (*KeepAliveRequest) Kind() MessageKind              { return KindKeepAliveRequest }
func (*KeepAliveResponse) Kind() MessageKind             { return KindKeepAliveResponse }
func (*StoreLockboxShareRequest) Kind() MessageKind      { return KindStoreLockboxShareRequest }
func (*StoreLockboxShareResponse) Kind() MessageKind     { return KindStoreLockboxShareResponse }
func (*LockboxUpdateRequest) Kind() MessageKind          { return KindLockboxUpdateRequest }

func (*PairingRequest) isMessage()                {}
func (*PairingResponse) isMessage()               {}
func (*PairingAck) isMessage()                    {}
func (*LockboxShareRetrievalRequest) isMessage()  {}
func (*LockboxShareRetrievalResponse) isMessage() {}
func (*OperatingModeUpdate) isMessage()           {}
func (*KeepAliveRequest) isMessage()              {}
func (*KeepAliveResponse) isMessage()             {}
func (*StoreLockboxShareRequest) isMessage()      {}
func (*StoreLockboxShareResponse) isMessage()     {}
func (*LockboxUpdateRequest) isMessage()          {}

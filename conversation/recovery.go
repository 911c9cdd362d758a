package conversation

import (
	"fmt"

	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

type recoveryStage uint8

const (
	recoveryIdle recoveryStage = iota
	recoveryAwaitResponse
	recoveryAwaitSupply
	recoveryAwaitModeUpdate
	recoveryDone
)

// RecoveryState runs one share retrieval. The flow:
//
//	Requester                            Holder
//	    | LockboxShareRetrievalRequest       |
//	    |------------------------------------>
//	    |           (application looks up or |
//	    |            declines the held share)|
//	    | LockboxShareRetrievalResponse      |
//	    <------------------------------------|
//	    | OperatingModeUpdate                |
//	    |------------------------------------>
//
// The holder side parks in Active after the request arrives: the share
// lives in external storage the conversation cannot reach, so the
// application answers with SupplyShare or DeclineShare. A successful
// retrieval closes with the requester's mode update; a declined one ends
// both sides in DoneFailure.
type RecoveryState struct {
	base
	engine *Engine
	stage  recoveryStage

	lockboxID protocol.LockboxID
	nonce     uint8
	peerKx    []byte

	share      []byte
	shareKnown bool

	result    protocol.ShareStatus
	resultSet bool

	peerMode     protocol.OperatingMode
	peerModeSeen bool
}

func newRecoveryState(e *Engine, role Role) *RecoveryState {
	return &RecoveryState{base: newBase(role), engine: e}
}

// Protocol returns ProtocolRecovery.
func (s *RecoveryState) Protocol() protocol.ProtocolKind { return protocol.ProtocolRecovery }

// Begin queues a retrieval request for the lockbox. kxPubkey is the
// requesting device's key-exchange public key, typically freshly generated
// on the recovering install, and travels with the request so the holder can
// seal the share to it.
func (s *RecoveryState) Begin(id protocol.LockboxID, kxPubkey []byte) error {
	if s.status != StatusNotStarted {
		return ErrAlreadyStarted
	}
	s.lockboxID = id
	s.nonce = s.engine.nonceFn()
	s.queue(&protocol.LockboxShareRetrievalRequest{
		Version:   s.engine.version,
		LockboxID: id,
		Nonce:     s.nonce,
		KxPubkey:  kxPubkey,
	})
	s.status = StatusActive
	s.stage = recoveryAwaitResponse
	return nil
}

// admitRecovery accepts an inbound retrieval request and parks the
// conversation until the application answers it.
func admitRecovery(e *Engine, req *protocol.LockboxShareRetrievalRequest) *RecoveryState {
	s := newRecoveryState(e, RoleResponder)
	s.lockboxID = req.LockboxID
	s.nonce = req.Nonce
	s.peerKx = req.KxPubkey
	if req.Version != e.version {
		s.status = StatusDoneFailure
		s.stage = recoveryDone
		return s
	}
	s.status = StatusActive
	s.stage = recoveryAwaitSupply
	return s
}

// SupplyShare answers a parked retrieval request with the held share
// payload (already sealed to the requester's key by the application). The
// conversation stays active waiting for the requester's mode update.
func (s *RecoveryState) SupplyShare(payload []byte) error {
	if s.stage != recoveryAwaitSupply {
		return ErrNotAwaitingShare
	}
	if s.outbound != nil {
		return ErrMessagePending
	}
	s.queue(&protocol.LockboxShareRetrievalResponse{
		Status:    protocol.ShareOk,
		LockboxID: s.lockboxID,
		Share:     payload,
	})
	s.stage = recoveryAwaitModeUpdate
	return nil
}

// DeclineShare answers a parked retrieval request negatively and fails the
// conversation. status must be ShareNotFound or ShareRefused.
func (s *RecoveryState) DeclineShare(status protocol.ShareStatus) error {
	if s.stage != recoveryAwaitSupply {
		return ErrNotAwaitingShare
	}
	if s.outbound != nil {
		return ErrMessagePending
	}
	if status == protocol.ShareOk || !status.Valid() {
		return fmt.Errorf("%w: decline status %s", protocol.ErrFieldOutOfRange, status)
	}
	s.queue(&protocol.LockboxShareRetrievalResponse{
		Status:    status,
		LockboxID: s.lockboxID,
	})
	s.status = StatusDoneFailure
	s.stage = recoveryDone
	return nil
}

func (s *RecoveryState) Process(msg protocol.Message) bool {
	if s.status.Terminal() {
		return false
	}
	switch m := msg.(type) {
	case *protocol.LockboxShareRetrievalResponse:
		if s.stage != recoveryAwaitResponse || s.outbound != nil {
			return false
		}
		if m.LockboxID != s.lockboxID {
			// Answer for a different retrieval running against the same
			// peer.
			return false
		}
		s.result = m.Status
		s.resultSet = true
		if m.Status != protocol.ShareOk {
			s.status = StatusDoneFailure
			s.stage = recoveryDone
			return true
		}
		s.share = m.Share
		s.shareKnown = true
		// The closing update always announces Normal: a successful
		// retrieval means the recovering device is on its way back to
		// regular operation, whatever mode the engine is in right now.
		s.queue(&protocol.OperatingModeUpdate{Mode: protocol.ModeNormal})
		s.status = StatusDoneSuccess
		s.stage = recoveryDone
		return true

	case *protocol.OperatingModeUpdate:
		if s.stage != recoveryAwaitModeUpdate {
			return false
		}
		s.peerMode = m.Mode
		s.peerModeSeen = true
		s.status = StatusDoneSuccess
		s.stage = recoveryDone
		return true

	default:
		return false
	}
}

// Lockbox returns the lockbox this conversation is about.
func (s *RecoveryState) Lockbox() protocol.LockboxID { return s.lockboxID }

// RequesterKxPubkey returns the key the requester asked the share to be
// sealed to. Responder side only.
func (s *RecoveryState) RequesterKxPubkey() []byte { return s.peerKx }

// RetrievedShare returns the sealed share payload a successful retrieval
// carried. It stays readable after the conversation turns terminal.
func (s *RecoveryState) RetrievedShare() ([]byte, bool) { return s.share, s.shareKnown }

// Result returns the response status once one arrived.
func (s *RecoveryState) Result() (protocol.ShareStatus, bool) { return s.result, s.resultSet }

// PeerMode returns the requester's announced mode once its closing update
// arrived. Responder side only.
func (s *RecoveryState) PeerMode() (protocol.OperatingMode, bool) {
	return s.peerMode, s.peerModeSeen
}

package conversation

import (
	"fmt"

	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

type sharesStage uint8

const (
	sharesIdle sharesStage = iota
	sharesAwaitResponse
	sharesAwaitAck
	sharesDone
)

// SharesState runs one share placement: either a first store or an
// in-place update after a re-split. Both open with their own request kind
// and close with the same StoreLockboxShareResponse.
//
// The holder side parks in Active after the request arrives; persisting the
// payload is the application's job, reported back with AcknowledgeStore.
type SharesState struct {
	base
	engine *Engine
	stage  sharesStage

	lockboxID  protocol.LockboxID
	shareIndex uint8
	payload    []byte
	update     bool

	result    protocol.ShareStatus
	resultSet bool
}

func newSharesState(e *Engine, role Role) *SharesState {
	return &SharesState{base: newBase(role), engine: e}
}

// Protocol returns ProtocolLockboxSharesUpdate.
func (s *SharesState) Protocol() protocol.ProtocolKind {
	return protocol.ProtocolLockboxSharesUpdate
}

// BeginStore queues a request asking the peer to keep a share it has not
// seen before.
func (s *SharesState) BeginStore(id protocol.LockboxID, index uint8, payload []byte) error {
	if s.status != StatusNotStarted {
		return ErrAlreadyStarted
	}
	s.lockboxID = id
	s.shareIndex = index
	s.payload = payload
	s.queue(&protocol.StoreLockboxShareRequest{
		Version:    s.engine.version,
		LockboxID:  id,
		ShareIndex: index,
		Share:      payload,
	})
	s.status = StatusActive
	s.stage = sharesAwaitResponse
	return nil
}

// BeginUpdate queues a request replacing a share the peer already holds.
func (s *SharesState) BeginUpdate(id protocol.LockboxID, index uint8, payload []byte) error {
	if s.status != StatusNotStarted {
		return ErrAlreadyStarted
	}
	s.update = true
	s.lockboxID = id
	s.shareIndex = index
	s.payload = payload
	s.queue(&protocol.LockboxUpdateRequest{
		Version:    s.engine.version,
		LockboxID:  id,
		ShareIndex: index,
		Share:      payload,
	})
	s.status = StatusActive
	s.stage = sharesAwaitResponse
	return nil
}

// admitShares accepts an inbound store or update request and parks the
// conversation until the application acknowledges persisting the share.
func admitShares(e *Engine, version uint16, id protocol.LockboxID, index uint8, payload []byte, update bool) *SharesState {
	s := newSharesState(e, RoleResponder)
	s.lockboxID = id
	s.shareIndex = index
	s.payload = payload
	s.update = update
	if version != e.version {
		s.status = StatusDoneFailure
		s.stage = sharesDone
		return s
	}
	s.status = StatusActive
	s.stage = sharesAwaitAck
	return s
}

// AcknowledgeStore reports the outcome of persisting the share and queues
// the response. ShareOk completes the conversation; anything else fails it
// after the response is queued.
func (s *SharesState) AcknowledgeStore(status protocol.ShareStatus) error {
	if s.stage != sharesAwaitAck {
		return ErrNotAwaitingStore
	}
	if s.outbound != nil {
		return ErrMessagePending
	}
	if !status.Valid() {
		return fmt.Errorf("%w: acknowledge status %s", protocol.ErrFieldOutOfRange, status)
	}
	s.result = status
	s.resultSet = true
	s.queue(&protocol.StoreLockboxShareResponse{Status: status, LockboxID: s.lockboxID})
	if status == protocol.ShareOk {
		s.status = StatusDoneSuccess
	} else {
		s.status = StatusDoneFailure
	}
	s.stage = sharesDone
	return nil
}

func (s *SharesState) Process(msg protocol.Message) bool {
	if s.status.Terminal() {
		return false
	}
	m, ok := msg.(*protocol.StoreLockboxShareResponse)
	if !ok {
		return false
	}
	if s.stage != sharesAwaitResponse || s.outbound != nil {
		return false
	}
	if m.LockboxID != s.lockboxID {
		// Acknowledgement for a different lockbox's placement.
		return false
	}
	s.result = m.Status
	s.resultSet = true
	if m.Status == protocol.ShareOk {
		s.status = StatusDoneSuccess
	} else {
		s.status = StatusDoneFailure
	}
	s.stage = sharesDone
	return true
}

// Lockbox returns the lockbox this placement is for.
func (s *SharesState) Lockbox() protocol.LockboxID { return s.lockboxID }

// ShareIndex returns the share's position in the lockbox's split.
func (s *SharesState) ShareIndex() uint8 { return s.shareIndex }

// Payload returns the sealed share payload the request carried.
func (s *SharesState) Payload() []byte { return s.payload }

// IsUpdate reports whether this placement replaces an existing share.
func (s *SharesState) IsUpdate() bool { return s.update }

// Result returns the placement outcome once known.
func (s *SharesState) Result() (protocol.ShareStatus, bool) { return s.result, s.resultSet }

package conversation

import (
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

type keepaliveStage uint8

const (
	keepaliveIdle keepaliveStage = iota
	keepaliveAwaitResponse
	keepaliveDone
)

// KeepAliveState runs one liveness probe: a request carrying a counter and
// the sender's mode, answered by an echo carrying the responder's mode. The
// responder finishes as soon as it queues the echo; the initiator finishes
// when the echoed counter matches.
type KeepAliveState struct {
	base
	engine *Engine
	stage  keepaliveStage

	counter uint32

	peerMode     protocol.OperatingMode
	peerModeSeen bool
}

func newKeepAliveState(e *Engine, role Role) *KeepAliveState {
	return &KeepAliveState{base: newBase(role), engine: e}
}

// Protocol returns ProtocolKeepAlive.
func (s *KeepAliveState) Protocol() protocol.ProtocolKind { return protocol.ProtocolKeepAlive }

// Begin queues a probe. counter should be monotonic per peer so stale
// echoes fall through the counter check.
func (s *KeepAliveState) Begin(counter uint32) error {
	if s.status != StatusNotStarted {
		return ErrAlreadyStarted
	}
	s.counter = counter
	s.queue(&protocol.KeepAliveRequest{Counter: counter, Mode: s.engine.mode})
	s.status = StatusActive
	s.stage = keepaliveAwaitResponse
	return nil
}

// admitKeepAlive answers a probe in one step: record the peer's mode, queue
// the echo, done.
func admitKeepAlive(e *Engine, req *protocol.KeepAliveRequest) *KeepAliveState {
	s := newKeepAliveState(e, RoleResponder)
	s.counter = req.Counter
	s.peerMode = req.Mode
	s.peerModeSeen = true
	s.queue(&protocol.KeepAliveResponse{Counter: req.Counter, Mode: e.mode})
	s.status = StatusDoneSuccess
	s.stage = keepaliveDone
	return s
}

func (s *KeepAliveState) Process(msg protocol.Message) bool {
	if s.status.Terminal() {
		return false
	}
	m, ok := msg.(*protocol.KeepAliveResponse)
	if !ok {
		return false
	}
	if s.stage != keepaliveAwaitResponse || s.outbound != nil {
		return false
	}
	if m.Counter != s.counter {
		// Echo of some other probe.
		return false
	}
	s.peerMode = m.Mode
	s.peerModeSeen = true
	s.status = StatusDoneSuccess
	s.stage = keepaliveDone
	return true
}

// Counter returns the probe counter this conversation carries.
func (s *KeepAliveState) Counter() uint32 { return s.counter }

// PeerMode returns the peer's announced operating mode once seen.
func (s *KeepAliveState) PeerMode() (protocol.OperatingMode, bool) {
	return s.peerMode, s.peerModeSeen
}

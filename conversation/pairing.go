package conversation

import (
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

type pairingStage uint8

const (
	pairingIdle pairingStage = iota
	pairingAwaitResponse
	pairingAwaitAck
	pairingDone
)

// PairingState runs one pairing exchange. The three-message flow:
//
//	Initiator                          Responder
//	    | PairingRequest  (identity A)     |
//	    |---------------------------------->
//	    | PairingResponse (identity B)     |
//	    <----------------------------------|
//	    | PairingAck      (echoes B nonce) |
//	    |---------------------------------->
//
// The initiator finishes when it queues the ack; the responder finishes
// when the ack's nonce matches the one it sent. Both sides end up holding
// the peer's identity, readable via Peer.
type PairingState struct {
	base
	engine *Engine
	stage  pairingStage

	nonce     uint8
	peer      PeerIdentity
	peerKnown bool
}

func newPairingState(e *Engine, role Role) *PairingState {
	return &PairingState{base: newBase(role), engine: e}
}

// Protocol returns ProtocolPairing.
func (s *PairingState) Protocol() protocol.ProtocolKind { return protocol.ProtocolPairing }

// Begin queues the opening PairingRequest built from the engine identity
// and activates the conversation.
func (s *PairingState) Begin() error {
	if s.status != StatusNotStarted {
		return ErrAlreadyStarted
	}
	s.nonce = s.engine.nonceFn()
	s.queue(&protocol.PairingRequest{
		Version:     s.engine.version,
		Counter:     s.engine.counterFn(),
		Nonce:       s.nonce,
		Mode:        s.engine.mode,
		DisplayName: s.engine.displayName,
		KxPubkey:    s.engine.kxPubkey,
	})
	s.status = StatusActive
	s.stage = pairingAwaitResponse
	return nil
}

// admitPairing answers an inbound PairingRequest. The response is queued
// immediately: everything it needs is local identity. A version mismatch
// fails the conversation instead; the peer's identity is still recorded so
// the caller can log who knocked.
func admitPairing(e *Engine, req *protocol.PairingRequest) *PairingState {
	s := newPairingState(e, RoleResponder)
	s.recordPeer(req.Version, req.Counter, req.Mode, req.DisplayName, req.KxPubkey)
	if req.Version != e.version {
		s.status = StatusDoneFailure
		s.stage = pairingDone
		return s
	}

	s.nonce = e.nonceFn()
	s.queue(&protocol.PairingResponse{
		Version:     e.version,
		Counter:     e.counterFn(),
		Nonce:       s.nonce,
		Mode:        e.mode,
		DisplayName: e.displayName,
		KxPubkey:    e.kxPubkey,
	})
	s.status = StatusActive
	s.stage = pairingAwaitAck
	return s
}

func (s *PairingState) Process(msg protocol.Message) bool {
	if s.status.Terminal() {
		return false
	}
	switch m := msg.(type) {
	case *protocol.PairingResponse:
		if s.stage != pairingAwaitResponse || s.outbound != nil {
			return false
		}
		s.recordPeer(m.Version, m.Counter, m.Mode, m.DisplayName, m.KxPubkey)
		if m.Version != s.engine.version {
			s.status = StatusDoneFailure
			s.stage = pairingDone
			return true
		}
		s.queue(&protocol.PairingAck{Nonce: m.Nonce})
		s.status = StatusDoneSuccess
		s.stage = pairingDone
		return true

	case *protocol.PairingAck:
		if s.stage != pairingAwaitAck {
			return false
		}
		if m.Nonce != s.nonce {
			// Not ours; possibly an ack for a concurrent pairing.
			return false
		}
		s.status = StatusDoneSuccess
		s.stage = pairingDone
		return true

	default:
		return false
	}
}

// Peer returns the counterpart's identity once a PairingRequest or
// PairingResponse recorded it.
func (s *PairingState) Peer() (PeerIdentity, bool) {
	return s.peer, s.peerKnown
}

func (s *PairingState) recordPeer(version uint16, counter uint32, mode protocol.OperatingMode, name string, kxPubkey []byte) {
	s.peer = PeerIdentity{
		Version:     version,
		Counter:     counter,
		Mode:        mode,
		DisplayName: name,
		KxPubkey:    kxPubkey,
	}
	s.peerKnown = true
}

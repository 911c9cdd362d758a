package conversation

import (
	"fmt"
	"time"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

// Dispatcher owns the arena of live conversations, keyed by peer, and
// routes raw inbound buffers to the conversation they belong to.
//
// Routing order follows the protocol's rules: decode first, admit
// conversation-initiating kinds as fresh conversations, and offer
// everything else to the peer's live conversations most-recently-active
// first. A message no conversation accepts is discarded and reported as
// ErrUnhandledMessage; nothing is mutated on that path.
//
// The dispatcher shares the package's single-caller contract and reads the
// clock only to stamp activity; pruning happens when the caller says so.
type Dispatcher struct {
	engine *Engine
	now    func() time.Time
	arena  map[interfaces.PeerID][]*track
}

type track struct {
	state   State
	touched time.Time
}

// Result reports what a Dispatch did.
type Result struct {
	// State is the conversation that consumed the message.
	State State

	// Message is the decoded inbound message.
	Message protocol.Message

	// Started reports whether the message opened a new conversation.
	Started bool
}

// NewDispatcher returns a Dispatcher creating responder conversations
// through the engine.
func NewDispatcher(engine *Engine) *Dispatcher {
	return &Dispatcher{
		engine: engine,
		now:    time.Now,
		arena:  make(map[interfaces.PeerID][]*track),
	}
}

// Register adds a locally started conversation to the peer's arena so
// later inbound messages can reach it.
func (d *Dispatcher) Register(peer interfaces.PeerID, st State) {
	d.arena[peer] = append([]*track{{state: st, touched: d.now()}}, d.arena[peer]...)
}

// StartConversation creates, registers and returns a NotStarted initiator
// conversation with the peer.
func (d *Dispatcher) StartConversation(peer interfaces.PeerID, kind protocol.ProtocolKind) (State, error) {
	st, err := d.engine.StartConversation(kind)
	if err != nil {
		return nil, err
	}
	d.Register(peer, st)
	return st, nil
}

// Dispatch decodes raw and routes the message. Decode failures are
// returned as-is with nothing touched. An unrouted message returns the
// decoded message alongside ErrUnhandledMessage so the caller can count
// and log the drop.
func (d *Dispatcher) Dispatch(peer interfaces.PeerID, raw []byte) (Result, error) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		return Result{}, err
	}

	if msg.Kind().Initiating() {
		st := d.engine.AdmitIfStarting(msg)
		d.Register(peer, st)
		return Result{State: st, Message: msg, Started: true}, nil
	}

	tracks := d.arena[peer]
	for i, tr := range tracks {
		if tr.state.Status().Terminal() {
			continue
		}
		if !tr.state.Process(msg) {
			continue
		}
		tr.touched = d.now()
		if i > 0 {
			copy(tracks[1:i+1], tracks[:i])
			tracks[0] = tr
		}
		d.compact(peer)
		return Result{State: tr.state, Message: msg}, nil
	}

	return Result{Message: msg}, fmt.Errorf("%w: %s from peer %s", ErrUnhandledMessage, msg.Kind(), peer)
}

// Conversations returns the peer's conversations, most recently active
// first.
func (d *Dispatcher) Conversations(peer interfaces.PeerID) []State {
	tracks := d.arena[peer]
	out := make([]State, len(tracks))
	for i, tr := range tracks {
		out[i] = tr.state
	}
	return out
}

// Abandon drops a conversation from the peer's arena, the caller-side form
// of cancellation: there is no abort message, the counterpart's state
// simply goes stale and is pruned by its own owner.
func (d *Dispatcher) Abandon(peer interfaces.PeerID, st State) bool {
	tracks := d.arena[peer]
	for i, tr := range tracks {
		if tr.state.ID() == st.ID() {
			d.arena[peer] = append(tracks[:i], tracks[i+1:]...)
			d.trimPeer(peer)
			return true
		}
	}
	return false
}

// PruneIdle removes conversations idle longer than maxIdle, plus finished
// conversations whose outbound queue is drained. It returns how many were
// removed. This is the module's only staleness mechanism and it runs only
// when called.
func (d *Dispatcher) PruneIdle(maxIdle time.Duration) int {
	cutoff := d.now().Add(-maxIdle)
	removed := 0
	for peer, tracks := range d.arena {
		kept := tracks[:0]
		for _, tr := range tracks {
			done := tr.state.Status().Terminal() && !tr.state.HasPendingMessage()
			if done || tr.touched.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, tr)
		}
		d.arena[peer] = kept
		d.trimPeer(peer)
	}
	return removed
}

// compact drops the peer's finished-and-drained conversations.
func (d *Dispatcher) compact(peer interfaces.PeerID) {
	tracks := d.arena[peer]
	kept := tracks[:0]
	for _, tr := range tracks {
		if tr.state.Status().Terminal() && !tr.state.HasPendingMessage() {
			continue
		}
		kept = append(kept, tr)
	}
	d.arena[peer] = kept
	d.trimPeer(peer)
}

func (d *Dispatcher) trimPeer(peer interfaces.PeerID) {
	if len(d.arena[peer]) == 0 {
		delete(d.arena, peer)
	}
}

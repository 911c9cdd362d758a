package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

// testEngine returns an engine with deterministic nonce and counter
// sources so tests can assert exact message contents.
func testEngine(t *testing.T, name string, nonce uint8) *Engine {
	t.Helper()
	counter := uint32(0)
	e, err := NewEngine(Config{
		Version:     1,
		DisplayName: name,
		KxPubkey:    []byte(name + "-kx-pubkey"),
		Mode:        protocol.ModeNormal,
		NonceFn:     func() uint8 { return nonce },
		CounterFn: func() uint32 {
			counter++
			return counter
		},
	})
	require.NoError(t, err)
	return e
}

// relayMsg encodes and re-decodes a message, standing in for the wire
// between two devices.
func relayMsg(t *testing.T, msg protocol.Message) protocol.Message {
	t.Helper()
	raw, err := protocol.Encode(msg)
	require.NoError(t, err)
	decoded, err := protocol.Decode(raw)
	require.NoError(t, err)
	return decoded
}

// TestPairingEndToEnd walks a full exchange between two engines through
// encoded bytes, the way two real devices would run it.
func TestPairingEndToEnd(t *testing.T) {
	alice := testEngine(t, "Alice", 0x07)
	bob := testEngine(t, "Bob", 0x09)

	st, err := alice.StartConversation(protocol.ProtocolPairing)
	require.NoError(t, err)
	ap, ok := st.(*PairingState)
	require.True(t, ok)
	assert.Equal(t, StatusNotStarted, ap.Status())
	assert.Equal(t, RoleInitiator, ap.Role())

	require.NoError(t, ap.Begin())
	assert.Equal(t, StatusActive, ap.Status())

	out := ap.TakeNextMessageToSend()
	require.NotNil(t, out)
	req, ok := out.(*protocol.PairingRequest)
	require.True(t, ok)
	assert.Equal(t, "Alice", req.DisplayName)
	assert.Equal(t, uint8(0x07), req.Nonce)
	assert.Equal(t, uint32(1), req.Counter)
	assert.Nil(t, ap.TakeNextMessageToSend(), "outbound messages are consume-once")

	// Bob admits the request; his response is queued immediately.
	bst := bob.AdmitIfStarting(relayMsg(t, req))
	require.NotNil(t, bst)
	bp, ok := bst.(*PairingState)
	require.True(t, ok)
	assert.Equal(t, StatusActive, bp.Status())
	assert.Equal(t, RoleResponder, bp.Role())

	peerOfBob, known := bp.Peer()
	require.True(t, known, "responder learns the initiator identity at admit time")
	assert.Equal(t, "Alice", peerOfBob.DisplayName)
	assert.Equal(t, []byte("Alice-kx-pubkey"), peerOfBob.KxPubkey)

	out = bp.TakeNextMessageToSend()
	require.NotNil(t, out)
	resp, ok := out.(*protocol.PairingResponse)
	require.True(t, ok)
	assert.Equal(t, "Bob", resp.DisplayName)
	assert.Equal(t, uint8(0x09), resp.Nonce)

	// Alice processes the response, queues the ack and finishes.
	require.True(t, ap.Process(relayMsg(t, resp)))
	assert.Equal(t, StatusDoneSuccess, ap.Status())

	peerOfAlice, known := ap.Peer()
	require.True(t, known)
	assert.Equal(t, "Bob", peerOfAlice.DisplayName)
	assert.Equal(t, []byte("Bob-kx-pubkey"), peerOfAlice.KxPubkey)

	out = ap.TakeNextMessageToSend()
	require.NotNil(t, out, "the closing ack is drainable after the state turned terminal")
	ack, ok := out.(*protocol.PairingAck)
	require.True(t, ok)
	assert.Equal(t, uint8(0x09), ack.Nonce, "ack echoes the responder nonce")

	// Bob processes the ack; both sides are now done.
	require.True(t, bp.Process(relayMsg(t, ack)))
	assert.Equal(t, StatusDoneSuccess, bp.Status())
	assert.Nil(t, bp.TakeNextMessageToSend())
}

func TestPairingTerminalRejectsEverything(t *testing.T) {
	alice := testEngine(t, "Alice", 1)
	bob := testEngine(t, "Bob", 2)

	ap := newPairingState(alice, RoleInitiator)
	require.NoError(t, ap.Begin())
	req := ap.TakeNextMessageToSend().(*protocol.PairingRequest)

	bp := bob.AdmitIfStarting(req).(*PairingState)
	resp := bp.TakeNextMessageToSend().(*protocol.PairingResponse)

	require.True(t, ap.Process(resp))
	require.Equal(t, StatusDoneSuccess, ap.Status())
	ack := ap.TakeNextMessageToSend().(*protocol.PairingAck)
	require.True(t, bp.Process(ack))

	// Terminal on both sides: replays of every message bounce off.
	assert.False(t, ap.Process(resp))
	assert.False(t, ap.Process(ack))
	assert.False(t, bp.Process(ack))
	assert.False(t, bp.Process(req))
	assert.Equal(t, StatusDoneSuccess, ap.Status())
	assert.Equal(t, StatusDoneSuccess, bp.Status())
}

func TestPairingVersionMismatch(t *testing.T) {
	alice := testEngine(t, "Alice", 1)
	bob := testEngine(t, "Bob", 2)

	ap := newPairingState(alice, RoleInitiator)
	require.NoError(t, ap.Begin())
	req := ap.TakeNextMessageToSend().(*protocol.PairingRequest)
	req.Version = 99

	// Responder side: a mismatched request fails the conversation without
	// queueing a response, but still records who knocked.
	bp := bob.AdmitIfStarting(req).(*PairingState)
	assert.Equal(t, StatusDoneFailure, bp.Status())
	assert.Nil(t, bp.TakeNextMessageToSend())
	peer, known := bp.Peer()
	require.True(t, known)
	assert.Equal(t, "Alice", peer.DisplayName)

	// Initiator side: a mismatched response fails without an ack.
	resp := &protocol.PairingResponse{Version: 99, Nonce: 5, DisplayName: "Bob"}
	require.True(t, ap.Process(resp))
	assert.Equal(t, StatusDoneFailure, ap.Status())
	assert.Nil(t, ap.TakeNextMessageToSend())
}

func TestPairingWrongStageAndProtocolRejected(t *testing.T) {
	alice := testEngine(t, "Alice", 1)

	ap := newPairingState(alice, RoleInitiator)
	require.NoError(t, ap.Begin())
	ap.TakeNextMessageToSend()

	// An ack before the response is not a valid next step.
	assert.False(t, ap.Process(&protocol.PairingAck{Nonce: 1}))
	assert.Equal(t, StatusActive, ap.Status())

	// Messages from another protocol never advance a pairing.
	assert.False(t, ap.Process(&protocol.KeepAliveResponse{Counter: 1, Mode: protocol.ModeNormal}))
	assert.False(t, ap.Process(&protocol.OperatingModeUpdate{Mode: protocol.ModeNormal}))
	assert.Equal(t, StatusActive, ap.Status())
}

func TestPairingAckNonceMismatchRejected(t *testing.T) {
	alice := testEngine(t, "Alice", 1)
	bob := testEngine(t, "Bob", 2)

	ap := newPairingState(alice, RoleInitiator)
	require.NoError(t, ap.Begin())
	req := ap.TakeNextMessageToSend().(*protocol.PairingRequest)

	bp := bob.AdmitIfStarting(req).(*PairingState)
	bp.TakeNextMessageToSend()

	// An ack echoing a different nonce stays rejected; the conversation
	// keeps waiting for its own.
	assert.False(t, bp.Process(&protocol.PairingAck{Nonce: 0xEE}))
	assert.Equal(t, StatusActive, bp.Status())

	require.True(t, bp.Process(&protocol.PairingAck{Nonce: 2}))
	assert.Equal(t, StatusDoneSuccess, bp.Status())
}

func TestPairingBeginTwice(t *testing.T) {
	alice := testEngine(t, "Alice", 1)
	ap := newPairingState(alice, RoleInitiator)
	require.NoError(t, ap.Begin())
	assert.ErrorIs(t, ap.Begin(), ErrAlreadyStarted)
}

func TestPairingResponseWhileRequestPending(t *testing.T) {
	alice := testEngine(t, "Alice", 1)
	ap := newPairingState(alice, RoleInitiator)
	require.NoError(t, ap.Begin())

	// The request was never taken, so nothing can have legitimately
	// answered it; the response is rejected and the queue is untouched.
	assert.False(t, ap.Process(&protocol.PairingResponse{Version: 1, Nonce: 3}))
	req := ap.TakeNextMessageToSend()
	require.NotNil(t, req)
	assert.Equal(t, protocol.KindPairingRequest, req.Kind())
}

package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

func encodeMsg(t *testing.T, msg protocol.Message) []byte {
	t.Helper()
	raw, err := protocol.Encode(msg)
	require.NoError(t, err)
	return raw
}

// pump shuttles every pending outbound message between two dispatchers
// until both sides go quiet, like a transport with instant delivery.
func pump(t *testing.T, a *Dispatcher, aID interfaces.PeerID, b *Dispatcher, bID interfaces.PeerID) {
	t.Helper()
	for moved := true; moved; {
		moved = false
		for _, st := range a.Conversations(bID) {
			if msg := st.TakeNextMessageToSend(); msg != nil {
				_, err := b.Dispatch(aID, encodeMsg(t, msg))
				require.NoError(t, err)
				moved = true
			}
		}
		for _, st := range b.Conversations(aID) {
			if msg := st.TakeNextMessageToSend(); msg != nil {
				_, err := a.Dispatch(bID, encodeMsg(t, msg))
				require.NoError(t, err)
				moved = true
			}
		}
	}
}

func TestDispatcherPairingBetweenTwoDevices(t *testing.T) {
	aliceID, bobID := interfaces.NewPeerID(), interfaces.NewPeerID()
	alice := NewDispatcher(testEngine(t, "Alice", 0x07))
	bob := NewDispatcher(testEngine(t, "Bob", 0x09))

	st, err := alice.StartConversation(bobID, protocol.ProtocolPairing)
	require.NoError(t, err)
	ap := st.(*PairingState)
	require.NoError(t, ap.Begin())

	pump(t, alice, aliceID, bob, bobID)

	assert.Equal(t, StatusDoneSuccess, ap.Status())
	peer, known := ap.Peer()
	require.True(t, known)
	assert.Equal(t, "Bob", peer.DisplayName)

	// Bob's side finished too and was compacted away once drained.
	assert.Empty(t, bob.Conversations(aliceID))
}

// TestDispatcherIsolation interleaves a pairing with peer A and a
// keepalive with peer B and checks neither leaks into the other.
func TestDispatcherIsolation(t *testing.T) {
	peerA, peerB := interfaces.NewPeerID(), interfaces.NewPeerID()
	d := NewDispatcher(testEngine(t, "Me", 0x01))

	pst, err := d.StartConversation(peerA, protocol.ProtocolPairing)
	require.NoError(t, err)
	pairing := pst.(*PairingState)
	require.NoError(t, pairing.Begin())
	pairing.TakeNextMessageToSend()

	kst, err := d.StartConversation(peerB, protocol.ProtocolKeepAlive)
	require.NoError(t, err)
	ka := kst.(*KeepAliveState)
	require.NoError(t, ka.Begin(77))
	ka.TakeNextMessageToSend()

	// A keepalive echo arriving from peer A matches nothing there.
	_, err = d.Dispatch(peerA, encodeMsg(t, &protocol.KeepAliveResponse{Counter: 77, Mode: protocol.ModeNormal}))
	assert.ErrorIs(t, err, ErrUnhandledMessage)
	assert.Equal(t, StatusActive, ka.Status(), "peer B's probe is untouched by peer A's stray echo")

	// Delivered to the right peer, both finish, in interleaved order.
	res, err := d.Dispatch(peerB, encodeMsg(t, &protocol.KeepAliveResponse{Counter: 77, Mode: protocol.ModeNormal}))
	require.NoError(t, err)
	assert.Same(t, kst, res.State)
	assert.Equal(t, StatusDoneSuccess, ka.Status())

	res, err = d.Dispatch(peerA, encodeMsg(t, &protocol.PairingResponse{
		Version: 1, Counter: 1, Nonce: 0x33, Mode: protocol.ModeNormal,
		DisplayName: "A", KxPubkey: []byte("a-kx"),
	}))
	require.NoError(t, err)
	assert.Same(t, pst, res.State)
	assert.Equal(t, StatusDoneSuccess, pairing.Status())
}

// TestDispatcherMostRecentFirst runs two retrievals against the same peer
// and checks responses land on the conversation they belong to, with the
// most recently active tried first.
func TestDispatcherMostRecentFirst(t *testing.T) {
	peer := interfaces.NewPeerID()
	d := NewDispatcher(testEngine(t, "Me", 0x01))

	first, err := d.StartConversation(peer, protocol.ProtocolRecovery)
	require.NoError(t, err)
	r1 := first.(*RecoveryState)
	require.NoError(t, r1.Begin(testLockboxID(0x01), []byte("kx")))
	r1.TakeNextMessageToSend()

	second, err := d.StartConversation(peer, protocol.ProtocolRecovery)
	require.NoError(t, err)
	r2 := second.(*RecoveryState)
	require.NoError(t, r2.Begin(testLockboxID(0x02), []byte("kx")))
	r2.TakeNextMessageToSend()

	states := d.Conversations(peer)
	require.Len(t, states, 2)
	assert.Same(t, second, states[0], "most recently registered sits in front")

	// The response for the first lockbox bounces off the second
	// conversation and lands on the first.
	res, err := d.Dispatch(peer, encodeMsg(t, &protocol.LockboxShareRetrievalResponse{
		Status:    protocol.ShareOk,
		LockboxID: testLockboxID(0x01),
		Share:     []byte("share-1"),
	}))
	require.NoError(t, err)
	assert.Same(t, first, res.State)
	assert.Equal(t, StatusDoneSuccess, r1.Status())

	states = d.Conversations(peer)
	assert.Same(t, first, states[0], "the accepting conversation moves to the front")

	res, err = d.Dispatch(peer, encodeMsg(t, &protocol.LockboxShareRetrievalResponse{
		Status:    protocol.ShareOk,
		LockboxID: testLockboxID(0x02),
		Share:     []byte("share-2"),
	}))
	require.NoError(t, err)
	assert.Same(t, second, res.State)

	share, ok := r1.RetrievedShare()
	require.True(t, ok)
	assert.Equal(t, []byte("share-1"), share)
	share, ok = r2.RetrievedShare()
	require.True(t, ok)
	assert.Equal(t, []byte("share-2"), share)
}

func TestDispatcherAdmitsInitiatingKinds(t *testing.T) {
	peer := interfaces.NewPeerID()
	d := NewDispatcher(testEngine(t, "Me", 0x01))

	res, err := d.Dispatch(peer, encodeMsg(t, &protocol.PairingRequest{
		Version: 1, Counter: 1, Nonce: 9, Mode: protocol.ModeNormal,
		DisplayName: "Peer", KxPubkey: []byte("peer-kx"),
	}))
	require.NoError(t, err)
	assert.True(t, res.Started)
	require.NotNil(t, res.State)
	assert.Equal(t, StatusActive, res.State.Status())

	// A duplicate delivery starts a twin conversation rather than
	// advancing the first; duplicate tolerance is not a protocol feature.
	res2, err := d.Dispatch(peer, encodeMsg(t, &protocol.PairingRequest{
		Version: 1, Counter: 1, Nonce: 9, Mode: protocol.ModeNormal,
		DisplayName: "Peer", KxPubkey: []byte("peer-kx"),
	}))
	require.NoError(t, err)
	assert.True(t, res2.Started)
	assert.NotSame(t, res.State, res2.State)
	assert.Len(t, d.Conversations(peer), 2)
}

func TestDispatcherDecodeErrorTouchesNothing(t *testing.T) {
	peer := interfaces.NewPeerID()
	d := NewDispatcher(testEngine(t, "Me", 0x01))

	st, err := d.StartConversation(peer, protocol.ProtocolKeepAlive)
	require.NoError(t, err)
	ka := st.(*KeepAliveState)
	require.NoError(t, ka.Begin(1))
	ka.TakeNextMessageToSend()

	_, err = d.Dispatch(peer, []byte{0xBE, 0xEF, 0x00})
	assert.ErrorIs(t, err, protocol.ErrUnknownType)

	_, err = d.Dispatch(peer, []byte{0x02})
	assert.ErrorIs(t, err, protocol.ErrTruncated)

	assert.Equal(t, StatusActive, ka.Status())
	assert.Len(t, d.Conversations(peer), 1)
}

func TestDispatcherUnmatchedDiscarded(t *testing.T) {
	peer := interfaces.NewPeerID()
	d := NewDispatcher(testEngine(t, "Me", 0x01))

	res, err := d.Dispatch(peer, encodeMsg(t, &protocol.KeepAliveResponse{Counter: 3, Mode: protocol.ModeNormal}))
	assert.ErrorIs(t, err, ErrUnhandledMessage)
	assert.Nil(t, res.State)
	require.NotNil(t, res.Message, "the decoded message rides along for logging")
	assert.Equal(t, protocol.KindKeepAliveResponse, res.Message.Kind())
}

func TestDispatcherPruneIdle(t *testing.T) {
	peer := interfaces.NewPeerID()
	d := NewDispatcher(testEngine(t, "Me", 0x01))

	now := time.Unix(1700000000, 0)
	d.now = func() time.Time { return now }

	st, err := d.StartConversation(peer, protocol.ProtocolKeepAlive)
	require.NoError(t, err)
	ka := st.(*KeepAliveState)
	require.NoError(t, ka.Begin(1))
	ka.TakeNextMessageToSend()

	assert.Zero(t, d.PruneIdle(time.Minute), "fresh conversations survive")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, d.PruneIdle(time.Minute))
	assert.Empty(t, d.Conversations(peer))

	// After pruning, the late echo has nowhere to go.
	_, err = d.Dispatch(peer, encodeMsg(t, &protocol.KeepAliveResponse{Counter: 1, Mode: protocol.ModeNormal}))
	assert.ErrorIs(t, err, ErrUnhandledMessage)
}

func TestDispatcherPruneKeepsUndrainedTerminal(t *testing.T) {
	peer := interfaces.NewPeerID()
	d := NewDispatcher(testEngine(t, "Me", 0x02))

	// An admitted probe is instantly terminal but still owes its echo.
	res, err := d.Dispatch(peer, encodeMsg(t, &protocol.KeepAliveRequest{Counter: 4, Mode: protocol.ModeNormal}))
	require.NoError(t, err)
	require.True(t, res.State.HasPendingMessage())

	assert.Zero(t, d.PruneIdle(time.Hour), "terminal but undrained stays put")

	require.NotNil(t, res.State.TakeNextMessageToSend())
	assert.Equal(t, 1, d.PruneIdle(time.Hour), "drained terminal goes")
}

func TestDispatcherAbandon(t *testing.T) {
	peer := interfaces.NewPeerID()
	d := NewDispatcher(testEngine(t, "Me", 0x01))

	st, err := d.StartConversation(peer, protocol.ProtocolRecovery)
	require.NoError(t, err)
	r := st.(*RecoveryState)
	require.NoError(t, r.Begin(testLockboxID(1), []byte("kx")))
	r.TakeNextMessageToSend()

	assert.True(t, d.Abandon(peer, st))
	assert.False(t, d.Abandon(peer, st), "double abandon is a no-op")
	assert.Empty(t, d.Conversations(peer))
}

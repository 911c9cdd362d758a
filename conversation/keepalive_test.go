package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

func TestKeepAliveEndToEnd(t *testing.T) {
	alice := testEngine(t, "Alice", 1)
	bob := testEngine(t, "Bob", 2)
	require.NoError(t, bob.SetOperatingMode(protocol.ModeInactive))

	st, err := alice.StartConversation(protocol.ProtocolKeepAlive)
	require.NoError(t, err)
	ka := st.(*KeepAliveState)
	require.NoError(t, ka.Begin(41))

	req := ka.TakeNextMessageToSend().(*protocol.KeepAliveRequest)
	assert.Equal(t, uint32(41), req.Counter)
	assert.Equal(t, protocol.ModeNormal, req.Mode)

	// The responder answers in one step and is immediately done.
	bst := bob.AdmitIfStarting(relayMsg(t, req))
	require.NotNil(t, bst)
	bka := bst.(*KeepAliveState)
	assert.Equal(t, StatusDoneSuccess, bka.Status())
	mode, ok := bka.PeerMode()
	require.True(t, ok)
	assert.Equal(t, protocol.ModeNormal, mode, "responder learns the prober's mode")

	resp := bka.TakeNextMessageToSend().(*protocol.KeepAliveResponse)
	assert.Equal(t, uint32(41), resp.Counter)
	assert.Equal(t, protocol.ModeInactive, resp.Mode)

	require.True(t, ka.Process(relayMsg(t, resp)))
	assert.Equal(t, StatusDoneSuccess, ka.Status())
	mode, ok = ka.PeerMode()
	require.True(t, ok)
	assert.Equal(t, protocol.ModeInactive, mode)
}

func TestKeepAliveCounterMismatchRejected(t *testing.T) {
	alice := testEngine(t, "Alice", 1)

	ka := newKeepAliveState(alice, RoleInitiator)
	require.NoError(t, ka.Begin(10))
	ka.TakeNextMessageToSend()

	// A stale echo keeps the probe waiting for the right one.
	assert.False(t, ka.Process(&protocol.KeepAliveResponse{Counter: 9, Mode: protocol.ModeNormal}))
	assert.Equal(t, StatusActive, ka.Status())

	require.True(t, ka.Process(&protocol.KeepAliveResponse{Counter: 10, Mode: protocol.ModeNormal}))
	assert.Equal(t, StatusDoneSuccess, ka.Status())
}

func TestKeepAliveResponderTerminalAfterEcho(t *testing.T) {
	bob := testEngine(t, "Bob", 2)
	bka := admitKeepAlive(bob, &protocol.KeepAliveRequest{Counter: 5, Mode: protocol.ModeRecovery})
	require.Equal(t, StatusDoneSuccess, bka.Status())
	require.NotNil(t, bka.TakeNextMessageToSend())

	assert.False(t, bka.Process(&protocol.KeepAliveRequest{Counter: 6, Mode: protocol.ModeNormal}),
		"a finished probe never accepts another message")
}

package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

func testLockboxID(seed byte) protocol.LockboxID {
	var id protocol.LockboxID
	for i := range id {
		id[i] = seed
	}
	return id
}

func TestRecoveryEndToEnd(t *testing.T) {
	requester := testEngine(t, "FreshPhone", 0x11)
	require.NoError(t, requester.SetOperatingMode(protocol.ModeRecovery))
	holder := testEngine(t, "Laptop", 0x22)

	id := testLockboxID(0xAB)
	freshKx := []byte("fresh-install-kx-pubkey")

	st, err := requester.StartConversation(protocol.ProtocolRecovery)
	require.NoError(t, err)
	rq := st.(*RecoveryState)
	require.NoError(t, rq.Begin(id, freshKx))

	req := rq.TakeNextMessageToSend().(*protocol.LockboxShareRetrievalRequest)
	assert.Equal(t, id, req.LockboxID)
	assert.Equal(t, freshKx, req.KxPubkey)

	// The holder parks until the application digs the share out of
	// storage.
	hst := holder.AdmitIfStarting(relayMsg(t, req))
	require.NotNil(t, hst)
	hold := hst.(*RecoveryState)
	assert.Equal(t, StatusActive, hold.Status())
	assert.Nil(t, hold.TakeNextMessageToSend(), "no response before the application answers")
	assert.Equal(t, id, hold.Lockbox())
	assert.Equal(t, freshKx, hold.RequesterKxPubkey())

	sealed := []byte("sealed-share-for-fresh-phone")
	require.NoError(t, hold.SupplyShare(sealed))
	assert.Equal(t, StatusActive, hold.Status(), "holder waits for the closing mode update")

	resp := hold.TakeNextMessageToSend().(*protocol.LockboxShareRetrievalResponse)
	assert.Equal(t, protocol.ShareOk, resp.Status)

	require.True(t, rq.Process(relayMsg(t, resp)))
	assert.Equal(t, StatusDoneSuccess, rq.Status())
	share, ok := rq.RetrievedShare()
	require.True(t, ok)
	assert.Equal(t, sealed, share, "the share payload stays readable after the conversation finished")

	// The requester is still in recovery mode, but the closing update
	// announces the return to normal operation.
	update := rq.TakeNextMessageToSend().(*protocol.OperatingModeUpdate)
	assert.Equal(t, protocol.ModeNormal, update.Mode)

	require.True(t, hold.Process(relayMsg(t, update)))
	assert.Equal(t, StatusDoneSuccess, hold.Status())
	mode, ok := hold.PeerMode()
	require.True(t, ok)
	assert.Equal(t, protocol.ModeNormal, mode)
}

func TestRecoveryClosingUpdateAnnouncesNormal(t *testing.T) {
	requester := testEngine(t, "FreshPhone", 0x11)
	require.NoError(t, requester.SetOperatingMode(protocol.ModeRecovery))

	rq := newRecoveryState(requester, RoleInitiator)
	require.NoError(t, rq.Begin(testLockboxID(0x42), []byte("kx")))
	rq.TakeNextMessageToSend()

	require.True(t, rq.Process(&protocol.LockboxShareRetrievalResponse{
		Status:    protocol.ShareOk,
		LockboxID: testLockboxID(0x42),
		Share:     []byte("sealed"),
	}))

	update := rq.TakeNextMessageToSend().(*protocol.OperatingModeUpdate)
	assert.Equal(t, protocol.ModeNormal, update.Mode,
		"successful retrievals close with Normal regardless of the engine's mode")
}

func TestRecoveryDeclined(t *testing.T) {
	requester := testEngine(t, "FreshPhone", 0x11)
	holder := testEngine(t, "Laptop", 0x22)
	id := testLockboxID(0xCD)

	rq := newRecoveryState(requester, RoleInitiator)
	require.NoError(t, rq.Begin(id, []byte("kx")))
	req := rq.TakeNextMessageToSend()

	hold := holder.AdmitIfStarting(req).(*RecoveryState)
	require.NoError(t, hold.DeclineShare(protocol.ShareNotFound))
	assert.Equal(t, StatusDoneFailure, hold.Status())

	resp := hold.TakeNextMessageToSend().(*protocol.LockboxShareRetrievalResponse)
	assert.Equal(t, protocol.ShareNotFound, resp.Status)
	assert.Empty(t, resp.Share)

	require.True(t, rq.Process(resp))
	assert.Equal(t, StatusDoneFailure, rq.Status())
	_, ok := rq.RetrievedShare()
	assert.False(t, ok)
	status, ok := rq.Result()
	require.True(t, ok)
	assert.Equal(t, protocol.ShareNotFound, status)
	assert.Nil(t, rq.TakeNextMessageToSend(), "a failed retrieval sends no mode update")
}

func TestRecoveryDeclineValidation(t *testing.T) {
	holder := testEngine(t, "Laptop", 0x22)
	hold := admitRecovery(holder, &protocol.LockboxShareRetrievalRequest{
		Version:   1,
		LockboxID: testLockboxID(1),
		KxPubkey:  []byte("kx"),
	})

	assert.Error(t, hold.DeclineShare(protocol.ShareOk), "ok is not a decline")
	require.NoError(t, hold.DeclineShare(protocol.ShareRefused))
	assert.ErrorIs(t, hold.DeclineShare(protocol.ShareRefused), ErrNotAwaitingShare)
	assert.ErrorIs(t, hold.SupplyShare([]byte("x")), ErrNotAwaitingShare)
}

func TestRecoveryLockboxMismatchRejected(t *testing.T) {
	requester := testEngine(t, "FreshPhone", 0x11)

	rq := newRecoveryState(requester, RoleInitiator)
	require.NoError(t, rq.Begin(testLockboxID(0x01), []byte("kx")))
	rq.TakeNextMessageToSend()

	// A response about some other lockbox is not ours.
	other := &protocol.LockboxShareRetrievalResponse{
		Status:    protocol.ShareOk,
		LockboxID: testLockboxID(0x02),
		Share:     []byte("not-ours"),
	}
	assert.False(t, rq.Process(other))
	assert.Equal(t, StatusActive, rq.Status())
}

func TestRecoveryResponderStageOrder(t *testing.T) {
	holder := testEngine(t, "Laptop", 0x22)
	hold := admitRecovery(holder, &protocol.LockboxShareRetrievalRequest{
		Version:   1,
		LockboxID: testLockboxID(3),
		KxPubkey:  []byte("kx"),
	})

	// The mode update belongs after the share answer, not before.
	assert.False(t, hold.Process(&protocol.OperatingModeUpdate{Mode: protocol.ModeNormal}))
	assert.Equal(t, StatusActive, hold.Status())

	require.NoError(t, hold.SupplyShare([]byte("sealed")))

	// The response is still queued; a second supply must not stack
	// another.
	assert.ErrorIs(t, hold.SupplyShare([]byte("again")), ErrNotAwaitingShare)

	hold.TakeNextMessageToSend()
	require.True(t, hold.Process(&protocol.OperatingModeUpdate{Mode: protocol.ModeNormal}))
	assert.Equal(t, StatusDoneSuccess, hold.Status())
}

func TestRecoveryAdmitVersionMismatch(t *testing.T) {
	holder := testEngine(t, "Laptop", 0x22)
	hold := admitRecovery(holder, &protocol.LockboxShareRetrievalRequest{
		Version:   7,
		LockboxID: testLockboxID(9),
		KxPubkey:  []byte("kx"),
	})
	assert.Equal(t, StatusDoneFailure, hold.Status())
	assert.Nil(t, hold.TakeNextMessageToSend())
	assert.ErrorIs(t, hold.SupplyShare([]byte("x")), ErrNotAwaitingShare)
}

package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

func TestStoreShareEndToEnd(t *testing.T) {
	owner := testEngine(t, "Owner", 1)
	holder := testEngine(t, "Holder", 2)
	id := testLockboxID(0x44)

	st, err := owner.StartConversation(protocol.ProtocolLockboxSharesUpdate)
	require.NoError(t, err)
	os := st.(*SharesState)
	require.NoError(t, os.BeginStore(id, 3, []byte("sealed-share-3")))

	req := os.TakeNextMessageToSend().(*protocol.StoreLockboxShareRequest)
	assert.Equal(t, uint8(3), req.ShareIndex)

	hst := holder.AdmitIfStarting(relayMsg(t, req))
	require.NotNil(t, hst)
	hs := hst.(*SharesState)
	assert.Equal(t, StatusActive, hs.Status())
	assert.False(t, hs.IsUpdate())
	assert.Equal(t, id, hs.Lockbox())
	assert.Equal(t, uint8(3), hs.ShareIndex())
	assert.Equal(t, []byte("sealed-share-3"), hs.Payload())
	assert.Nil(t, hs.TakeNextMessageToSend(), "no ack before the application stored the share")

	require.NoError(t, hs.AcknowledgeStore(protocol.ShareOk))
	assert.Equal(t, StatusDoneSuccess, hs.Status())

	resp := hs.TakeNextMessageToSend().(*protocol.StoreLockboxShareResponse)
	require.True(t, os.Process(relayMsg(t, resp)))
	assert.Equal(t, StatusDoneSuccess, os.Status())
	status, ok := os.Result()
	require.True(t, ok)
	assert.Equal(t, protocol.ShareOk, status)
}

func TestUpdateShareEndToEnd(t *testing.T) {
	owner := testEngine(t, "Owner", 1)
	holder := testEngine(t, "Holder", 2)
	id := testLockboxID(0x55)

	os := newSharesState(owner, RoleInitiator)
	require.NoError(t, os.BeginUpdate(id, 1, []byte("resplit-share-1")))
	assert.True(t, os.IsUpdate())

	req := os.TakeNextMessageToSend()
	assert.Equal(t, protocol.KindLockboxUpdateRequest, req.Kind())

	hs := holder.AdmitIfStarting(relayMsg(t, req)).(*SharesState)
	assert.True(t, hs.IsUpdate(), "the holder can tell an update from a first store")

	require.NoError(t, hs.AcknowledgeStore(protocol.ShareOk))
	resp := hs.TakeNextMessageToSend()
	require.True(t, os.Process(relayMsg(t, resp)))
	assert.Equal(t, StatusDoneSuccess, os.Status())
}

func TestStoreShareRefused(t *testing.T) {
	owner := testEngine(t, "Owner", 1)
	holder := testEngine(t, "Holder", 2)
	id := testLockboxID(0x66)

	os := newSharesState(owner, RoleInitiator)
	require.NoError(t, os.BeginStore(id, 0, []byte("sealed")))
	req := os.TakeNextMessageToSend()

	hs := holder.AdmitIfStarting(req).(*SharesState)
	require.NoError(t, hs.AcknowledgeStore(protocol.ShareRefused))
	assert.Equal(t, StatusDoneFailure, hs.Status())

	resp := hs.TakeNextMessageToSend()
	require.True(t, os.Process(resp))
	assert.Equal(t, StatusDoneFailure, os.Status())
	status, _ := os.Result()
	assert.Equal(t, protocol.ShareRefused, status)
}

func TestStoreResponseLockboxMismatchRejected(t *testing.T) {
	owner := testEngine(t, "Owner", 1)

	os := newSharesState(owner, RoleInitiator)
	require.NoError(t, os.BeginStore(testLockboxID(0x01), 0, []byte("sealed")))
	os.TakeNextMessageToSend()

	assert.False(t, os.Process(&protocol.StoreLockboxShareResponse{
		Status:    protocol.ShareOk,
		LockboxID: testLockboxID(0x02),
	}))
	assert.Equal(t, StatusActive, os.Status())
}

func TestStoreAdmitVersionMismatch(t *testing.T) {
	holder := testEngine(t, "Holder", 2)
	hs := holder.AdmitIfStarting(&protocol.StoreLockboxShareRequest{
		Version:   9,
		LockboxID: testLockboxID(7),
		Share:     []byte("sealed"),
	}).(*SharesState)

	assert.Equal(t, StatusDoneFailure, hs.Status())
	assert.ErrorIs(t, hs.AcknowledgeStore(protocol.ShareOk), ErrNotAwaitingStore)
}

func TestAcknowledgeStoreStatusValidation(t *testing.T) {
	holder := testEngine(t, "Holder", 2)
	hs := holder.AdmitIfStarting(&protocol.StoreLockboxShareRequest{
		Version:   1,
		LockboxID: testLockboxID(8),
		Share:     []byte("sealed"),
	}).(*SharesState)

	err := hs.AcknowledgeStore(protocol.ShareStatus(9))
	assert.ErrorIs(t, err, protocol.ErrFieldOutOfRange)
	assert.Equal(t, StatusActive, hs.Status(), "a bad status leaves the conversation parked")
	assert.Nil(t, hs.TakeNextMessageToSend())

	require.NoError(t, hs.AcknowledgeStore(protocol.ShareOk))
}

func TestSharesBeginTwice(t *testing.T) {
	owner := testEngine(t, "Owner", 1)
	os := newSharesState(owner, RoleInitiator)
	require.NoError(t, os.BeginStore(testLockboxID(1), 0, []byte("a")))
	assert.ErrorIs(t, os.BeginUpdate(testLockboxID(1), 0, []byte("b")), ErrAlreadyStarted)
}

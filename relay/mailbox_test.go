package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
)

func TestMailboxFIFO(t *testing.T) {
	boxes := NewMailboxes(8)
	alice := interfaces.NewPeerID()
	bob := interfaces.NewPeerID()

	_, _, ok := boxes.Dequeue(bob)
	assert.False(t, ok, "Empty mailbox should have nothing to dequeue")

	require.NoError(t, boxes.Enqueue(bob, alice, []byte("first")))
	require.NoError(t, boxes.Enqueue(bob, alice, []byte("second")))
	assert.Equal(t, 2, boxes.Depth())

	from, payload, ok := boxes.Dequeue(bob)
	require.True(t, ok)
	assert.Equal(t, alice, from)
	assert.Equal(t, []byte("first"), payload)

	_, payload, ok = boxes.Dequeue(bob)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), payload)

	_, _, ok = boxes.Dequeue(bob)
	assert.False(t, ok)
	assert.Equal(t, 0, boxes.Depth())
}

func TestMailboxIsolation(t *testing.T) {
	boxes := NewMailboxes(8)
	alice := interfaces.NewPeerID()
	bob := interfaces.NewPeerID()
	carol := interfaces.NewPeerID()

	require.NoError(t, boxes.Enqueue(bob, alice, []byte("for bob")))

	_, _, ok := boxes.Dequeue(carol)
	assert.False(t, ok, "Carol must not see Bob's messages")

	_, payload, ok := boxes.Dequeue(bob)
	require.True(t, ok)
	assert.Equal(t, []byte("for bob"), payload)
}

func TestMailboxCap(t *testing.T) {
	boxes := NewMailboxes(2)
	alice := interfaces.NewPeerID()
	bob := interfaces.NewPeerID()

	require.NoError(t, boxes.Enqueue(bob, alice, []byte("one")))
	require.NoError(t, boxes.Enqueue(bob, alice, []byte("two")))
	assert.ErrorIs(t, boxes.Enqueue(bob, alice, []byte("three")), ErrMailboxFull)

	// Draining makes room again.
	_, _, ok := boxes.Dequeue(bob)
	require.True(t, ok)
	require.NoError(t, boxes.Enqueue(bob, alice, []byte("three")))
}

func TestMailboxSweep(t *testing.T) {
	boxes := NewMailboxes(8)
	now := time.Now()
	boxes.now = func() time.Time { return now }

	alice := interfaces.NewPeerID()
	bob := interfaces.NewPeerID()

	require.NoError(t, boxes.Enqueue(bob, alice, []byte("stale")))

	now = now.Add(10 * time.Minute)
	require.NoError(t, boxes.Enqueue(bob, alice, []byte("fresh")))

	dropped := boxes.Sweep(5 * time.Minute)
	assert.Equal(t, 1, dropped)

	_, payload, ok := boxes.Dequeue(bob)
	require.True(t, ok)
	assert.Equal(t, []byte("fresh"), payload)
}

package storage

import (
	"context"
	"crypto/rand"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

func testShare(t *testing.T) interfaces.StoredShare {
	t.Helper()
	var id protocol.LockboxID
	_, err := rand.Read(id[:])
	require.NoError(t, err)
	payload := make([]byte, 64)
	_, err = rand.Read(payload)
	require.NoError(t, err)
	return interfaces.StoredShare{
		LockboxID: id,
		Index:     3,
		Payload:   payload,
		Origin:    interfaces.NewPeerID(),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// exerciseStore runs the contract every ShareStore backend must satisfy.
func exerciseStore(t *testing.T, store interfaces.ShareStore) {
	t.Helper()
	ctx := context.Background()

	assert.True(t, store.Available(ctx))
	assert.NotEmpty(t, store.Name())
	assert.NotEmpty(t, store.LocationURI())

	share := testShare(t)

	_, err := store.Get(ctx, share.LockboxID)
	assert.ErrorIs(t, err, interfaces.ErrShareNotFound)

	require.NoError(t, store.Put(ctx, share))

	got, err := store.Get(ctx, share.LockboxID)
	require.NoError(t, err)
	assert.Equal(t, share, got)

	// Put replaces the held share for the same lockbox.
	replacement := share
	replacement.Index = 7
	require.NoError(t, store.Put(ctx, replacement))
	got, err = store.Get(ctx, share.LockboxID)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), got.Index)

	other := testShare(t)
	require.NoError(t, store.Put(ctx, other))

	shares, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, shares, 2)

	require.NoError(t, store.Delete(ctx, share.LockboxID))
	_, err = store.Get(ctx, share.LockboxID)
	assert.ErrorIs(t, err, interfaces.ErrShareNotFound)

	// Deleting an absent share is not an error.
	require.NoError(t, store.Delete(ctx, share.LockboxID))

	// Invalid shares are rejected before hitting the backend.
	assert.Error(t, store.Put(ctx, interfaces.StoredShare{}))
}

func TestMemStore(t *testing.T) {
	exerciseStore(t, NewMemStore())
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)
	share := testShare(t)
	require.NoError(t, store.Put(ctx, share))

	reopened, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)
	got, err := reopened.Get(ctx, share.LockboxID)
	require.NoError(t, err)
	assert.Equal(t, share, got)
}

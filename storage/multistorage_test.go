package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

// downStore reports itself unavailable and fails every operation.
type downStore struct{}

func (downStore) Put(ctx context.Context, share interfaces.StoredShare) error {
	return interfaces.ErrBackendUnavailable
}

func (downStore) Get(ctx context.Context, id protocol.LockboxID) (interfaces.StoredShare, error) {
	return interfaces.StoredShare{}, interfaces.ErrBackendUnavailable
}

func (downStore) Delete(ctx context.Context, id protocol.LockboxID) error {
	return interfaces.ErrBackendUnavailable
}

func (downStore) List(ctx context.Context) ([]interfaces.StoredShare, error) {
	return nil, interfaces.ErrBackendUnavailable
}

func (downStore) Available(ctx context.Context) bool { return false }
func (downStore) Name() string                       { return "down" }
func (downStore) LocationURI() string                { return "down://" }

func TestMultiStoreContract(t *testing.T) {
	multi := NewMultiStore([]interfaces.ShareStore{NewMemStore(), NewMemStore()}, testLogger())
	exerciseStore(t, multi)
}

func TestMultiStoreReplicatesWrites(t *testing.T) {
	ctx := context.Background()
	first := NewMemStore()
	second := NewMemStore()
	multi := NewMultiStore([]interfaces.ShareStore{first, second}, testLogger())

	share := testShare(t)
	require.NoError(t, multi.Put(ctx, share))

	// Both backends hold the share; a read succeeds even if one is gone.
	got, err := first.Get(ctx, share.LockboxID)
	require.NoError(t, err)
	assert.Equal(t, share, got)
	got, err = second.Get(ctx, share.LockboxID)
	require.NoError(t, err)
	assert.Equal(t, share, got)
}

func TestMultiStoreFallsThroughToHealthyBackend(t *testing.T) {
	ctx := context.Background()
	healthy := NewMemStore()
	multi := NewMultiStore([]interfaces.ShareStore{downStore{}, healthy}, testLogger())

	share := testShare(t)
	require.NoError(t, multi.Put(ctx, share))

	got, err := multi.Get(ctx, share.LockboxID)
	require.NoError(t, err)
	assert.Equal(t, share, got)

	assert.True(t, multi.Available(ctx))
}

func TestMultiStoreAllBackendsDown(t *testing.T) {
	ctx := context.Background()
	multi := NewMultiStore([]interfaces.ShareStore{downStore{}, downStore{}}, testLogger())

	assert.False(t, multi.Available(ctx))
	assert.Error(t, multi.Put(ctx, testShare(t)))

	// With every backend skipped the share is simply not found.
	_, err := multi.Get(ctx, testShare(t).LockboxID)
	assert.ErrorIs(t, err, interfaces.ErrShareNotFound)
}

func TestFactorySchemes(t *testing.T) {
	factory := NewFactory(testLogger())

	memLoc, err := interfaces.NewShareStoreLocation("mem://")
	require.NoError(t, err)
	store, err := factory.StoreFor(memLoc)
	require.NoError(t, err)
	assert.Equal(t, "mem", store.Name())

	fileLoc, err := interfaces.NewShareStoreLocation("file://" + t.TempDir())
	require.NoError(t, err)
	store, err = factory.StoreFor(fileLoc)
	require.NoError(t, err)
	assert.True(t, store.Available(context.Background()))

	_, err = interfaces.NewShareStoreLocation("ftp://example.com/shares")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestFactoryMultiStoreSkipsInvalid(t *testing.T) {
	factory := NewFactory(testLogger())

	memLoc, err := interfaces.NewShareStoreLocation("mem://")
	require.NoError(t, err)

	// An unusable file location is skipped; the remaining backend carries
	// the multi store.
	badLoc := interfaces.ShareStoreLocation{Raw: "file://", Scheme: "file"}

	multi, err := factory.CreateMultiStore([]interfaces.ShareStoreLocation{badLoc, memLoc})
	require.NoError(t, err)
	assert.True(t, multi.Available(context.Background()))

	_, err = factory.CreateMultiStore([]interfaces.ShareStoreLocation{badLoc})
	assert.Error(t, err, "Should fail when no location is usable")
}

func TestFactoryErrors(t *testing.T) {
	factory := NewFactory(testLogger())
	_, err := factory.StoreFor(interfaces.ShareStoreLocation{Raw: "bogus://x", Scheme: "bogus"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrInvalidLocationURI))
}

package lockbox

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err, "Failed to generate test secret")
	return secret
}

func TestSplitCombine(t *testing.T) {
	secret := testSecret(t)

	manifest, shares, err := Split(secret, 5, 3)
	require.NoError(t, err, "Split should succeed with valid parameters")
	assert.Equal(t, 5, len(shares), "Should generate 5 shares")
	assert.Equal(t, ID(secret), manifest.ID)
	assert.Equal(t, 3, manifest.Threshold)
	assert.Equal(t, 5, manifest.Parts)

	for i, share := range shares {
		assert.Equal(t, uint8(i), share.Index)
		assert.NotEmpty(t, share.Data)
	}

	// Any threshold-sized subset reconstructs the secret.
	recovered, err := Combine([]Share{shares[4], shares[0], shares[2]})
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)
}

func TestSplitValidation(t *testing.T) {
	secret := testSecret(t)

	_, _, err := Split(secret, 5, 6)
	assert.Error(t, err, "Should fail when threshold > parts")

	_, _, err = Split(secret, 5, 1)
	assert.Error(t, err, "Should fail when threshold < 2")

	_, _, err = Split(make([]byte, MinSecretSize-1), 5, 3)
	assert.Error(t, err, "Should fail with too short secret")

	_, _, err = Split(secret, 300, 3)
	assert.Error(t, err, "Should fail with more than 255 parts")
}

func TestReassemblerUnlocks(t *testing.T) {
	secret := testSecret(t)
	manifest, shares, err := Split(secret, 4, 3)
	require.NoError(t, err)

	r, err := NewReassembler(manifest.ID, manifest.Threshold)
	require.NoError(t, err)
	assert.False(t, r.Unlocked(), "Reassembler should start locked")

	_, err = r.Secret()
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, r.SubmitShare(shares[0].Index, shares[0].Data))
	require.NoError(t, r.SubmitShare(shares[2].Index, shares[2].Data))
	assert.False(t, r.Unlocked(), "Two of three shares should not unlock")
	assert.Equal(t, 2, r.SharesCollected())

	require.NoError(t, r.SubmitShare(shares[3].Index, shares[3].Data))
	assert.True(t, r.Unlocked(), "Threshold shares should unlock")

	recovered, err := r.Secret()
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)

	// Collected share material is wiped after reconstruction.
	assert.Equal(t, 0, r.SharesCollected())

	err = r.SubmitShare(shares[1].Index, shares[1].Data)
	assert.ErrorIs(t, err, ErrAlreadyUnlocked)
}

func TestReassemblerDuplicateIndexReplaces(t *testing.T) {
	secret := testSecret(t)
	manifest, shares, err := Split(secret, 3, 2)
	require.NoError(t, err)

	r, err := NewReassembler(manifest.ID, manifest.Threshold)
	require.NoError(t, err)

	require.NoError(t, r.SubmitShare(shares[0].Index, shares[0].Data))
	require.NoError(t, r.SubmitShare(shares[0].Index, shares[0].Data))
	assert.False(t, r.Unlocked(), "Resubmitting the same index should not count twice")

	require.NoError(t, r.SubmitShare(shares[1].Index, shares[1].Data))
	assert.True(t, r.Unlocked())
}

func TestReassemblerVerifierMismatch(t *testing.T) {
	secret := testSecret(t)
	_, shares, err := Split(secret, 3, 2)
	require.NoError(t, err)

	// Reassemble against a different lockbox's id.
	r, err := NewReassembler(ID(testSecret(t)), 2)
	require.NoError(t, err)

	require.NoError(t, r.SubmitShare(shares[0].Index, shares[0].Data))
	err = r.SubmitShare(shares[1].Index, shares[1].Data)
	assert.ErrorIs(t, err, ErrVerifierMismatch)
	assert.False(t, r.Unlocked())

	// The bad batch is discarded; a fresh set of correct shares can still
	// be collected on a new reassembler for the right id.
	assert.Equal(t, 0, r.SharesCollected())
}

func TestReassemblerValidation(t *testing.T) {
	_, err := NewReassembler(ID(testSecret(t)), 1)
	assert.Error(t, err, "Should fail with threshold < 2")

	r, err := NewReassembler(ID(testSecret(t)), 2)
	require.NoError(t, err)
	assert.Error(t, r.SubmitShare(0, nil), "Should reject empty share")
}

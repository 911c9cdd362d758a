package lockbox

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/hashicorp/vault/shamir"

	"github.com/ruteri/lockbox-recovery-protocol/cryptoutils"
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

// MinSecretSize is the smallest secret a lockbox will protect. Anything
// shorter is more likely a bug than a real secret.
const MinSecretSize = 16

// Share is one fragment of a split secret. Index is the fragment's
// position, stable across re-splits so peers can be told which slot they
// hold.
type Share struct {
	Index uint8
	Data  []byte
}

// Manifest describes a split without containing the secret: which lockbox
// it is, how many shares exist and how many are needed to reassemble. The
// owner keeps the manifest; the shares go to peers. SigningPubkey verifies
// the signatures the owner stamped on the distributed shares, so recovery
// can reject payloads a holder swapped or corrupted.
type Manifest struct {
	ID            protocol.LockboxID        `json:"id"`
	Threshold     int                       `json:"threshold"`
	Parts         int                       `json:"parts"`
	SigningPubkey cryptoutils.SigningPubkey `json:"signing_pubkey,omitempty"`
}

// ID derives the lockbox identifier for a secret: the SHA-256 digest of
// the secret itself. Reassembly verifies a reconstructed candidate against
// this digest before releasing it.
func ID(secret []byte) protocol.LockboxID {
	return protocol.LockboxID(sha256.Sum256(secret))
}

// Split breaks a secret into parts shares, any threshold of which
// reconstruct it. The secret is not retained; callers should wipe their
// copy once the shares are distributed.
func Split(secret []byte, parts, threshold int) (Manifest, []Share, error) {
	if len(secret) < MinSecretSize {
		return Manifest{}, nil, fmt.Errorf("secret must be at least %d bytes", MinSecretSize)
	}
	if threshold < 2 {
		return Manifest{}, nil, errors.New("threshold must be at least 2")
	}
	if parts < threshold {
		return Manifest{}, nil, errors.New("parts must be at least equal to threshold")
	}
	if parts > 255 {
		return Manifest{}, nil, errors.New("parts must be at most 255")
	}

	raw, err := shamir.Split(secret, parts, threshold)
	if err != nil {
		return Manifest{}, nil, fmt.Errorf("failed to split secret: %w", err)
	}

	shares := make([]Share, len(raw))
	for i, data := range raw {
		shares[i] = Share{Index: uint8(i), Data: data}
	}

	return Manifest{ID: ID(secret), Threshold: threshold, Parts: parts}, shares, nil
}

// Combine reassembles a secret from at least a threshold of shares. It is
// the raw math; Reassembler adds the collection bookkeeping and the
// verifier check most callers want.
func Combine(shares []Share) ([]byte, error) {
	if len(shares) < 2 {
		return nil, errors.New("need at least 2 shares to combine")
	}
	raw := make([][]byte, len(shares))
	for i, s := range shares {
		raw[i] = s.Data
	}
	secret, err := shamir.Combine(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	return secret, nil
}

// wipeBytes overwrites share material before it is dropped.
func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

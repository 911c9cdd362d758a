package lockbox

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

var (
	// ErrAlreadyUnlocked is returned when a share arrives after the secret
	// was reconstructed.
	ErrAlreadyUnlocked = errors.New("lockbox: already unlocked")

	// ErrLocked is returned by Secret before enough shares arrived.
	ErrLocked = errors.New("lockbox: locked, need more shares")

	// ErrVerifierMismatch is returned when a threshold of shares combines
	// into a secret whose digest does not match the lockbox id. At least
	// one collected share was corrupt or belonged to a different lockbox.
	ErrVerifierMismatch = errors.New("lockbox: reconstructed secret fails verification")
)

// Reassembler collects shares during recovery and reconstructs the secret
// once the threshold is met. The reconstructed candidate is verified
// against the lockbox id before it is released; a mismatch discards all
// collected shares so the caller can retry with better ones.
//
// The secret is kept only in memory. Collected share material is wiped
// after a reconstruction attempt, successful or not.
type Reassembler struct {
	mu             sync.RWMutex
	id             protocol.LockboxID
	threshold      int
	receivedShares map[uint8][]byte
	secret         []byte
	unlocked       bool
}

// NewReassembler prepares recovery of the lockbox identified by id,
// requiring threshold shares.
func NewReassembler(id protocol.LockboxID, threshold int) (*Reassembler, error) {
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	return &Reassembler{
		id:             id,
		threshold:      threshold,
		receivedShares: make(map[uint8][]byte),
	}, nil
}

// SubmitShare adds one retrieved share. Submitting the same index twice
// replaces the earlier copy. When the threshold is reached the secret is
// reconstructed and verified automatically.
func (r *Reassembler) SubmitShare(index uint8, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unlocked {
		return ErrAlreadyUnlocked
	}
	if len(data) == 0 {
		return errors.New("empty share")
	}

	r.receivedShares[index] = data
	return r.tryReconstruct()
}

// tryReconstruct combines the collected shares once enough arrived. Called
// with the lock held.
func (r *Reassembler) tryReconstruct() error {
	if len(r.receivedShares) < r.threshold {
		return nil // not enough shares yet, not an error
	}

	shares := make([]Share, 0, len(r.receivedShares))
	for index, data := range r.receivedShares {
		shares = append(shares, Share{Index: index, Data: data})
	}

	secret, err := Combine(shares)

	for index := range r.receivedShares {
		wipeBytes(r.receivedShares[index])
	}
	r.receivedShares = make(map[uint8][]byte)

	if err != nil {
		return fmt.Errorf("failed to reconstruct secret: %w", err)
	}
	if ID(secret) != r.id {
		wipeBytes(secret)
		return ErrVerifierMismatch
	}

	r.secret = secret
	r.unlocked = true
	return nil
}

// Unlocked reports whether the secret has been reconstructed and verified.
func (r *Reassembler) Unlocked() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unlocked
}

// SharesCollected returns how many distinct share indexes are held.
func (r *Reassembler) SharesCollected() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.receivedShares)
}

// Secret returns the reconstructed secret. Returns ErrLocked until enough
// valid shares were submitted.
func (r *Reassembler) Secret() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.unlocked {
		return nil, ErrLocked
	}
	return r.secret, nil
}

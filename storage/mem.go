package storage

import (
	"context"
	"sync"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

// MemStore is an in-memory share store. It backs tests and short-lived
// tooling; nothing survives the process.
type MemStore struct {
	mu     sync.RWMutex
	shares map[protocol.LockboxID]interfaces.StoredShare
}

// NewMemStore creates an empty in-memory share store.
func NewMemStore() *MemStore {
	return &MemStore{shares: make(map[protocol.LockboxID]interfaces.StoredShare)}
}

// Put saves a share, replacing any share already held for the lockbox.
func (s *MemStore) Put(ctx context.Context, share interfaces.StoredShare) error {
	if err := share.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shares[share.LockboxID] = share
	return nil
}

// Get retrieves the share held for a lockbox.
func (s *MemStore) Get(ctx context.Context, id protocol.LockboxID) (interfaces.StoredShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	share, ok := s.shares[id]
	if !ok {
		return interfaces.StoredShare{}, interfaces.ErrShareNotFound
	}
	return share, nil
}

// Delete removes the share held for a lockbox.
func (s *MemStore) Delete(ctx context.Context, id protocol.LockboxID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shares, id)
	return nil
}

// List returns every held share.
func (s *MemStore) List(ctx context.Context) ([]interfaces.StoredShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]interfaces.StoredShare, 0, len(s.shares))
	for _, share := range s.shares {
		out = append(out, share)
	}
	return out, nil
}

// Available always reports true.
func (s *MemStore) Available(ctx context.Context) bool { return true }

// Name returns a unique identifier for this store.
func (s *MemStore) Name() string { return "mem" }

// LocationURI returns the URI that identifies this store.
func (s *MemStore) LocationURI() string { return "mem://" }

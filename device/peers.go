package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

// Peer is one paired device: the identity learned during pairing plus the
// liveness bookkeeping keepalives maintain.
type Peer struct {
	ID          interfaces.PeerID      `json:"id"`
	DisplayName string                 `json:"display_name"`
	KxPubkey    []byte                 `json:"kx_pubkey"`
	Mode        protocol.OperatingMode `json:"mode"`
	PairedAt    time.Time              `json:"paired_at"`
	LastSeen    time.Time              `json:"last_seen"`
}

// PeerRegistry tracks the device's paired peers. With a path it persists
// the set as a JSON file after every mutation; with an empty path it is
// memory-only, which tests use.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[interfaces.PeerID]Peer
	path  string
	log   *slog.Logger
}

// NewPeerRegistry opens a registry, loading the persisted set when path
// names an existing file.
func NewPeerRegistry(path string, log *slog.Logger) (*PeerRegistry, error) {
	r := &PeerRegistry{
		peers: make(map[interfaces.PeerID]Peer),
		path:  path,
		log:   log,
	}
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read peer registry: %w", err)
	}

	var stored []Peer
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse peer registry %s: %w", path, err)
	}
	for _, p := range stored {
		r.peers[p.ID] = p
	}
	return r, nil
}

// Upsert records a peer, replacing any previous record with the same id.
// PairedAt is preserved across re-pairings.
func (r *PeerRegistry) Upsert(p Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if prev, ok := r.peers[p.ID]; ok && !prev.PairedAt.IsZero() {
		p.PairedAt = prev.PairedAt
	} else if p.PairedAt.IsZero() {
		p.PairedAt = now
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = now
	}
	r.peers[p.ID] = p
	return r.saveLocked()
}

// Get returns the record for a peer.
func (r *PeerRegistry) Get(id interfaces.PeerID) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// List returns every paired peer, ordered by display name for stable
// output.
func (r *PeerRegistry) List() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Touch bumps a known peer's last-seen timestamp. Unknown peers are
// ignored; hearing from a device is not pairing with it.
func (r *PeerRegistry) Touch(id interfaces.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return
	}
	p.LastSeen = time.Now()
	r.peers[id] = p
	if err := r.saveLocked(); err != nil {
		r.log.Error("Failed to persist peer registry", "err", err)
	}
}

// UpdateMode records a known peer's announced operating mode and bumps its
// last-seen timestamp.
func (r *PeerRegistry) UpdateMode(id interfaces.PeerID, mode protocol.OperatingMode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return
	}
	p.Mode = mode
	p.LastSeen = time.Now()
	r.peers[id] = p
	if err := r.saveLocked(); err != nil {
		r.log.Error("Failed to persist peer registry", "err", err)
	}
}

// Remove forgets a peer. Removing an unknown peer is not an error.
func (r *PeerRegistry) Remove(id interfaces.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, id)
	return r.saveLocked()
}

func (r *PeerRegistry) saveLocked() error {
	if r.path == "" {
		return nil
	}

	stored := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		stored = append(stored, p)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].ID.String() < stored[j].ID.String() })

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal peer registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write peer registry: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

// MultiStore implements interfaces.ShareStore over multiple backends with
// fallback: writes fan out to all available backends, reads fall through
// to the first backend that has the share.
type MultiStore struct {
	backends []interfaces.ShareStore
	log      *slog.Logger
}

// NewMultiStore creates a replicated share store over the given backends.
func NewMultiStore(backends []interfaces.ShareStore, logger *slog.Logger) *MultiStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiStore{
		backends: backends,
		log:      logger,
	}
}

// Put saves the share to every available backend. It succeeds if at least
// one backend accepted the write.
func (m *MultiStore) Put(ctx context.Context, share interfaces.StoredShare) error {
	start := time.Now()
	var success bool
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		if err := backend.Put(ctx, share); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Debug("Failed to store share to backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}

		if !success {
			success = true
			m.log.Info("Successfully stored share",
				slog.String("backend_name", backend.Name()),
				slog.String("lockbox_id", share.LockboxID.String()),
				slog.Duration("duration", time.Since(start)))
		}
	}

	if !success {
		m.log.Error("All backends failed to store share",
			slog.String("lockbox_id", share.LockboxID.String()),
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("all backends failed to store share: %v", errs)
	}

	return nil
}

// Get retrieves the share from the first available backend that has it.
func (m *MultiStore) Get(ctx context.Context, id protocol.LockboxID) (interfaces.StoredShare, error) {
	start := time.Now()
	var errs []error
	notFound := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("lockbox_id", id.String()))
			continue
		}

		share, err := backend.Get(ctx, id)
		if err == nil {
			m.log.Debug("Successfully fetched share",
				slog.String("backend_name", backend.Name()),
				slog.String("lockbox_id", id.String()),
				slog.Duration("duration", time.Since(start)))
			return share, nil
		}
		if err == interfaces.ErrShareNotFound {
			notFound++
			continue
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch share from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("lockbox_id", id.String()),
			"err", err)
	}

	if len(errs) == 0 {
		return interfaces.StoredShare{}, interfaces.ErrShareNotFound
	}

	m.log.Error("All backends failed to fetch share",
		slog.String("lockbox_id", id.String()),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return interfaces.StoredShare{}, fmt.Errorf("all backends failed to fetch %s: %v", id, errs)
}

// Delete removes the share from every available backend.
func (m *MultiStore) Delete(ctx context.Context, id protocol.LockboxID) error {
	var errs []error
	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			continue
		}
		if err := backend.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to delete share from some backends: %v", errs)
	}
	return nil
}

// List merges the held shares across all available backends, deduplicated
// by lockbox id.
func (m *MultiStore) List(ctx context.Context) ([]interfaces.StoredShare, error) {
	seen := make(map[protocol.LockboxID]bool)
	var out []interfaces.StoredShare

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			continue
		}
		shares, err := backend.List(ctx)
		if err != nil {
			m.log.Debug("Failed to list shares from backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}
		for _, share := range shares {
			if seen[share.LockboxID] {
				continue
			}
			seen[share.LockboxID] = true
			out = append(out, share)
		}
	}
	return out, nil
}

// Available checks if any backend is available.
func (m *MultiStore) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this store.
func (m *MultiStore) Name() string {
	return "multi-storage"
}

// LocationURI returns a combined URI built from all backends.
func (m *MultiStore) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}

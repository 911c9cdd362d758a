package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

// FileStore persists held shares on the local file system, one JSON file
// per lockbox under a "held" subdirectory.
type FileStore struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileStore creates a file share store rooted at baseDir, creating the
// directory layout if needed.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "held"), 0700); err != nil {
		return nil, fmt.Errorf("failed to create shares directory: %w", err)
	}

	return &FileStore{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Put saves a share, replacing any share already held for the lockbox.
func (s *FileStore) Put(ctx context.Context, share interfaces.StoredShare) error {
	if err := share.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(share)
	if err != nil {
		return fmt.Errorf("failed to encode share: %w", err)
	}

	path := s.sharePath(share.LockboxID)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write share file: %w", err)
	}

	s.log.Debug("Stored share in file",
		slog.String("path", path),
		slog.String("lockbox_id", share.LockboxID.String()))

	return nil
}

// Get retrieves the share held for a lockbox. Returns ErrShareNotFound if
// no share file exists.
func (s *FileStore) Get(ctx context.Context, id protocol.LockboxID) (interfaces.StoredShare, error) {
	path := s.sharePath(id)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return interfaces.StoredShare{}, interfaces.ErrShareNotFound
	}
	if err != nil {
		return interfaces.StoredShare{}, fmt.Errorf("failed to read share file: %w", err)
	}

	var share interfaces.StoredShare
	if err := json.Unmarshal(data, &share); err != nil {
		return interfaces.StoredShare{}, fmt.Errorf("failed to decode share file %s: %w", path, err)
	}

	s.log.Debug("Fetched share from file",
		slog.String("path", path),
		slog.Int("size", len(data)))

	return share, nil
}

// Delete removes the share held for a lockbox. Deleting an absent share is
// not an error.
func (s *FileStore) Delete(ctx context.Context, id protocol.LockboxID) error {
	err := os.Remove(s.sharePath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove share file: %w", err)
	}
	return nil
}

// List returns every held share.
func (s *FileStore) List(ctx context.Context) ([]interfaces.StoredShare, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "held"))
	if err != nil {
		return nil, fmt.Errorf("failed to list shares directory: %w", err)
	}

	shares := make([]interfaces.StoredShare, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, "held", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read share file: %w", err)
		}
		var share interfaces.StoredShare
		if err := json.Unmarshal(data, &share); err != nil {
			s.log.Warn("Skipping unreadable share file",
				slog.String("file", entry.Name()),
				"err", err)
			continue
		}
		shares = append(shares, share)
	}
	return shares, nil
}

// Available checks the base directory still exists.
func (s *FileStore) Available(ctx context.Context) bool {
	_, err := os.Stat(s.baseDir)
	if err != nil {
		s.log.Debug("File store unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this store.
func (s *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(s.baseDir))
}

// LocationURI returns the URI that identifies this store.
func (s *FileStore) LocationURI() string {
	return s.locationURI
}

func (s *FileStore) sharePath(id protocol.LockboxID) string {
	return filepath.Join(s.baseDir, "held", id.String()+".json")
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

// IPFSStore keeps held shares on an IPFS node, using the Mutable File
// System so shares stay addressable by lockbox id rather than by CID.
type IPFSStore struct {
	shell       *shell.Shell
	host        string
	port        string
	mfsRoot     string
	log         *slog.Logger
	locationURI string
}

// NewIPFSStore creates an IPFS share store connected to the node at
// host:port. Shares live under /lockbox/held in the node's MFS.
func NewIPFSStore(host, port string, log *slog.Logger) (*IPFSStore, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)

	return &IPFSStore{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		mfsRoot:     "/lockbox/held",
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s", apiURL),
	}, nil
}

// Put saves a share, replacing any share already held for the lockbox.
// Returns ErrBackendUnavailable if the IPFS node is not accessible.
func (s *IPFSStore) Put(ctx context.Context, share interfaces.StoredShare) error {
	if err := share.Validate(); err != nil {
		return err
	}
	start := time.Now()

	if !s.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}

	data, err := json.Marshal(share)
	if err != nil {
		return fmt.Errorf("failed to encode share: %w", err)
	}

	mfsPath := s.sharePath(share.LockboxID)
	err = s.shell.FilesWrite(ctx, mfsPath, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		s.log.Error("Failed to write share to IPFS",
			slog.String("path", mfsPath),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("failed to write share to IPFS: %w", err)
	}

	s.log.Debug("Stored share in IPFS",
		slog.String("path", mfsPath),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Get retrieves the share held for a lockbox.
func (s *IPFSStore) Get(ctx context.Context, id protocol.LockboxID) (interfaces.StoredShare, error) {
	start := time.Now()
	mfsPath := s.sharePath(id)

	if !s.shell.IsUp() {
		s.log.Warn("IPFS node unavailable",
			slog.String("host", s.host),
			slog.String("port", s.port))
		return interfaces.StoredShare{}, interfaces.ErrBackendUnavailable
	}

	reader, err := s.shell.FilesRead(ctx, mfsPath)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			s.log.Debug("Share not found in IPFS",
				slog.String("path", mfsPath),
				slog.Duration("duration", time.Since(start)))
			return interfaces.StoredShare{}, interfaces.ErrShareNotFound
		}
		return interfaces.StoredShare{}, fmt.Errorf("failed to read share from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return interfaces.StoredShare{}, fmt.Errorf("failed to read share data from IPFS: %w", err)
	}

	var share interfaces.StoredShare
	if err := json.Unmarshal(data, &share); err != nil {
		return interfaces.StoredShare{}, fmt.Errorf("failed to decode share at %s: %w", mfsPath, err)
	}

	s.log.Debug("Fetched share from IPFS",
		slog.String("path", mfsPath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return share, nil
}

// Delete removes the share held for a lockbox.
func (s *IPFSStore) Delete(ctx context.Context, id protocol.LockboxID) error {
	if !s.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}
	err := s.shell.FilesRm(ctx, s.sharePath(id), true)
	if err != nil && !strings.Contains(err.Error(), "does not exist") {
		return fmt.Errorf("failed to remove share from IPFS: %w", err)
	}
	return nil
}

// List returns every held share.
func (s *IPFSStore) List(ctx context.Context) ([]interfaces.StoredShare, error) {
	if !s.shell.IsUp() {
		return nil, interfaces.ErrBackendUnavailable
	}

	entries, err := s.shell.FilesLs(ctx, s.mfsRoot)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list shares in IPFS: %w", err)
	}

	shares := make([]interfaces.StoredShare, 0, len(entries))
	for _, entry := range entries {
		reader, err := s.shell.FilesRead(ctx, path.Join(s.mfsRoot, entry.Name))
		if err != nil {
			s.log.Warn("Skipping unreadable share entry",
				slog.String("entry", entry.Name),
				"err", err)
			continue
		}
		data, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			continue
		}
		var share interfaces.StoredShare
		if err := json.Unmarshal(data, &share); err != nil {
			continue
		}
		shares = append(shares, share)
	}
	return shares, nil
}

// Available checks the IPFS node is accessible.
func (s *IPFSStore) Available(ctx context.Context) bool {
	up := s.shell.IsUp()
	if !up {
		s.log.Debug("IPFS store unavailable",
			slog.String("host", s.host),
			slog.String("port", s.port))
	}
	return up
}

// Name returns a unique identifier for this store.
func (s *IPFSStore) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", s.host, s.port)
}

// LocationURI returns the URI that identifies this store.
func (s *IPFSStore) LocationURI() string {
	return s.locationURI
}

func (s *IPFSStore) sharePath(id protocol.LockboxID) string {
	return path.Join(s.mfsRoot, id.String()+".json")
}

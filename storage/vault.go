package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

// VaultStore keeps held shares in a HashiCorp Vault KV v2 mount, one
// secret per lockbox.
type VaultStore struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultStore creates a Vault share store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path within the mount (e.g. "lockbox")
//   - token: Vault token used for authentication
//   - log: structured logger
func NewVaultStore(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultStore{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// Put saves a share, replacing any secret already held for the lockbox.
func (s *VaultStore) Put(ctx context.Context, share interfaces.StoredShare) error {
	if err := share.Validate(); err != nil {
		return err
	}

	secretPath := s.secretPath("data", share.LockboxID)
	_, err := s.client.Logical().WriteWithContext(ctx, secretPath, map[string]interface{}{
		"data": map[string]interface{}{
			"lockbox_id": share.LockboxID.String(),
			"index":      int(share.Index),
			"payload":    base64.StdEncoding.EncodeToString(share.Payload),
			"origin":     share.Origin.String(),
		},
	})
	if err != nil {
		s.log.Error("Failed to write share to Vault",
			slog.String("path", secretPath),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	s.log.Debug("Stored share in Vault", slog.String("path", secretPath))
	return nil
}

// Get retrieves the share held for a lockbox.
func (s *VaultStore) Get(ctx context.Context, id protocol.LockboxID) (interfaces.StoredShare, error) {
	secretPath := s.secretPath("data", id)

	secret, err := s.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		s.log.Error("Failed to read from Vault",
			slog.String("path", secretPath),
			"err", err)
		return interfaces.StoredShare{}, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return interfaces.StoredShare{}, interfaces.ErrShareNotFound
	}

	// KV v2 wraps the stored fields in a "data" map.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return interfaces.StoredShare{}, fmt.Errorf("invalid data format in Vault response at %s", secretPath)
	}

	return shareFromVaultData(data)
}

// Delete removes the share held for a lockbox.
func (s *VaultStore) Delete(ctx context.Context, id protocol.LockboxID) error {
	_, err := s.client.Logical().DeleteWithContext(ctx, s.secretPath("metadata", id))
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// List returns every held share.
func (s *VaultStore) List(ctx context.Context) ([]interfaces.StoredShare, error) {
	listPath := fmt.Sprintf("%s/metadata/%s/held", s.mountPath, s.dataPath)

	secret, err := s.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	shares := make([]interfaces.StoredShare, 0, len(keys))
	for _, key := range keys {
		name, ok := key.(string)
		if !ok {
			continue
		}
		id, err := protocol.LockboxIDFromHex(name)
		if err != nil {
			s.log.Warn("Skipping non-lockbox entry in Vault", slog.String("key", name))
			continue
		}
		share, err := s.Get(ctx, id)
		if err != nil {
			s.log.Warn("Skipping unreadable Vault share",
				slog.String("key", name),
				"err", err)
			continue
		}
		shares = append(shares, share)
	}
	return shares, nil
}

// Available checks the Vault server answers health checks.
func (s *VaultStore) Available(ctx context.Context) bool {
	health, err := s.client.Sys().HealthWithContext(ctx)
	if err != nil {
		s.log.Debug("Vault store unavailable", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}

// Name returns a unique identifier for this store.
func (s *VaultStore) Name() string {
	return fmt.Sprintf("vault-%s", s.mountPath)
}

// LocationURI returns the URI that identifies this store.
func (s *VaultStore) LocationURI() string {
	return s.locationURI
}

// secretPath builds the KV v2 path for a lockbox's share. op is "data" for
// reads and writes, "metadata" for deletes and lists.
func (s *VaultStore) secretPath(op string, id protocol.LockboxID) string {
	return fmt.Sprintf("%s/%s/%s/held/%s", s.mountPath, op, s.dataPath, id.String())
}

func shareFromVaultData(data map[string]interface{}) (interfaces.StoredShare, error) {
	var share interfaces.StoredShare

	idStr, _ := data["lockbox_id"].(string)
	id, err := protocol.LockboxIDFromHex(idStr)
	if err != nil {
		return share, fmt.Errorf("invalid lockbox id in Vault record: %w", err)
	}
	share.LockboxID = id

	// Vault JSON numbers decode as json.Number or float64 depending on the
	// client path.
	switch v := data["index"].(type) {
	case float64:
		share.Index = uint8(v)
	case int:
		share.Index = uint8(v)
	default:
		if n, ok := data["index"].(interface{ Int64() (int64, error) }); ok {
			i, err := n.Int64()
			if err != nil {
				return share, fmt.Errorf("invalid share index in Vault record: %w", err)
			}
			share.Index = uint8(i)
		}
	}

	payloadStr, _ := data["payload"].(string)
	payload, err := base64.StdEncoding.DecodeString(payloadStr)
	if err != nil {
		return share, fmt.Errorf("invalid share payload in Vault record: %w", err)
	}
	share.Payload = payload

	if originStr, ok := data["origin"].(string); ok && originStr != "" {
		origin, err := interfaces.ParsePeerID(originStr)
		if err != nil {
			return share, fmt.Errorf("invalid origin in Vault record: %w", err)
		}
		share.Origin = origin
	}

	return share, nil
}

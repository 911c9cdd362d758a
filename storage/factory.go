package storage

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
)

// Factory creates share stores from location URIs and aggregates
// multi-backend configurations for redundant persistence.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a factory instance that can create share stores.
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{log: logger}
}

// StoreFor creates a share store from a parsed location URI.
//
// Supported schemes:
//   - file:// - local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - ipfs:// - IPFS node, MFS-backed
//   - vault:// - HashiCorp Vault KV v2
//   - mem:// - in-memory storage for tests
func (f *Factory) StoreFor(location interfaces.ShareStoreLocation) (interfaces.ShareStore, error) {
	switch strings.ToLower(location.Scheme) {
	case "mem":
		return NewMemStore(), nil
	case "file":
		return f.createFileStore(location)
	case "s3":
		return f.createS3Store(location)
	case "ipfs":
		return f.createIPFSStore(location)
	case "vault":
		return f.createVaultStore(location)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMultiStore creates a replicated share store from a list of
// location URIs. Invalid locations are skipped with a warning; at least
// one must be usable.
func (f *Factory) CreateMultiStore(locations []interfaces.ShareStoreLocation) (interfaces.ShareStore, error) {
	backends := make([]interfaces.ShareStore, 0, len(locations))

	for _, location := range locations {
		backend, err := f.StoreFor(location)
		if err != nil {
			f.log.Warn("Failed to create share store",
				"err", err,
				slog.String("locationURI", location.String()))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid share stores created")
	}

	return NewMultiStore(backends, f.log), nil
}

// createFileStore creates a file system share store.
// URI format: file:///absolute/path or file://./relative/path
func (f *Factory) createFileStore(location interfaces.ShareStoreLocation) (interfaces.ShareStore, error) {
	f.log.Debug("Creating file store", slog.String("uri", location.String()))

	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %s", interfaces.ErrInvalidLocationURI, location)
	}

	return NewFileStore(path, f.log)
}

// createS3Store creates an S3 or S3-compatible share store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-west-2&endpoint=custom.s3.com
func (f *Factory) createS3Store(location interfaces.ShareStoreLocation) (interfaces.ShareStore, error) {
	f.log.Debug("Creating S3 store", slog.String("uri", location.String()))

	bucketName := location.Host
	prefix := strings.TrimPrefix(location.Path, "/")

	region := location.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := location.GetParam("endpoint")

	var accessKey, secretKey string
	if location.Auth != "" {
		parts := strings.SplitN(location.Auth, ":", 2)
		accessKey = parts[0]
		if len(parts) == 2 {
			secretKey = parts[1]
		}
	}

	return NewS3Store(bucketName, prefix, region, endpoint, accessKey, secretKey, f.log)
}

// createIPFSStore creates an IPFS share store.
// URI format: ipfs://host:port
func (f *Factory) createIPFSStore(location interfaces.ShareStoreLocation) (interfaces.ShareStore, error) {
	f.log.Debug("Creating IPFS store", slog.String("uri", location.String()))

	host := location.Host
	port := "5001" // default IPFS API port
	if idx := strings.LastIndex(location.Host, ":"); idx >= 0 {
		host = location.Host[:idx]
		port = location.Host[idx+1:]
	}
	if host == "" {
		return nil, fmt.Errorf("%w: empty host in IPFS URI %s", interfaces.ErrInvalidLocationURI, location)
	}

	return NewIPFSStore(host, port, f.log)
}

// createVaultStore creates a Vault KV v2 share store.
// URI format: vault://host:port/mount/path?token=...&tls=true
func (f *Factory) createVaultStore(location interfaces.ShareStoreLocation) (interfaces.ShareStore, error) {
	f.log.Debug("Creating Vault store", slog.String("uri", location.String()))

	scheme := "https"
	if !location.GetParamBool("tls") && location.GetParam("tls") != "" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, location.Host)

	parts := strings.SplitN(strings.Trim(location.Path, "/"), "/", 2)
	if len(parts) < 1 || parts[0] == "" {
		return nil, fmt.Errorf("%w: vault URI needs a mount path: %s", interfaces.ErrInvalidLocationURI, location)
	}
	mountPath := parts[0]
	dataPath := "lockbox"
	if len(parts) == 2 && parts[1] != "" {
		dataPath = parts[1]
	}

	return NewVaultStore(address, mountPath, dataPath, location.GetParam("token"), f.log)
}

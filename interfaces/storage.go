package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

var (
	// ErrShareNotFound is returned when no share is stored for the
	// requested lockbox.
	ErrShareNotFound = errors.New("share not found")

	// ErrBackendUnavailable is returned when a share store is not
	// accessible. This could be due to network issues, authentication
	// failures, or service outages.
	ErrBackendUnavailable = errors.New("share store unavailable")

	// ErrInvalidLocationURI is returned when a share store URI is
	// malformed or uses an unsupported scheme.
	// URIs follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid share store URI")
)

// ShareStoreLocation is a parsed share store URI.
type ShareStoreLocation struct {
	Raw    string     // Original URI
	Scheme string     // Backend selector
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewShareStoreLocation parses and validates a share store URI.
// Supported schemes: file://, s3://, ipfs://, vault://, mem://
func NewShareStoreLocation(uri string) (ShareStoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return ShareStoreLocation{}, fmt.Errorf("%w: %w", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "s3", "ipfs", "vault", "mem":
	default:
		return ShareStoreLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return ShareStoreLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc ShareStoreLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc ShareStoreLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc ShareStoreLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// ShareStore persists the sealed shares a device holds for its peers.
type ShareStore interface {
	// Put saves a share, replacing any share already held for the same
	// lockbox.
	Put(ctx context.Context, share StoredShare) error

	// Get retrieves the share held for a lockbox. Returns
	// ErrShareNotFound when the device holds none.
	Get(ctx context.Context, id protocol.LockboxID) (StoredShare, error)

	// Delete removes the share held for a lockbox. Deleting an absent
	// share is not an error.
	Delete(ctx context.Context, id protocol.LockboxID) error

	// List returns every held share.
	List(ctx context.Context) ([]StoredShare, error)

	// Available checks if the store is accessible.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string

	// LocationURI returns the URI identifying this store.
	LocationURI() string
}

// ShareStoreFactory creates share stores.
type ShareStoreFactory interface {
	// StoreFor creates a store from a parsed URI.
	StoreFor(location ShareStoreLocation) (ShareStore, error)

	// CreateMultiStore aggregates several locations into one replicated
	// store: writes fan out to all, reads fall through to the first store
	// that has the share.
	CreateMultiStore(locations []ShareStoreLocation) (ShareStore, error)
}

package cryptoutils

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KxPubkey represents an X25519 key-exchange public key. This is the key a
// device publishes during pairing and peers seal share payloads to.
type KxPubkey []byte

// NewKxPubkey creates a key-exchange public key from raw bytes with
// validation.
func NewKxPubkey(data []byte) (KxPubkey, error) {
	key := KxPubkey(data)
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return key, nil
}

// Validate checks the key has the X25519 point size.
func (pub KxPubkey) Validate() error {
	if len(pub) != curve25519.PointSize {
		return fmt.Errorf("invalid key-exchange public key: got %d bytes, want %d", len(pub), curve25519.PointSize)
	}
	return nil
}

// KxPrivkey represents an X25519 key-exchange private key (the scalar).
type KxPrivkey []byte

// Validate checks the key has the X25519 scalar size.
func (priv KxPrivkey) Validate() error {
	if len(priv) != curve25519.ScalarSize {
		return fmt.Errorf("invalid key-exchange private key: got %d bytes, want %d", len(priv), curve25519.ScalarSize)
	}
	return nil
}

// Public derives the public key for this private scalar.
func (priv KxPrivkey) Public() (KxPubkey, error) {
	if err := priv.Validate(); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	return KxPubkey(pub), nil
}

// SigningPubkey represents an ed25519 public key used to verify share
// signatures.
type SigningPubkey []byte

// Validate checks the key has the ed25519 public key size.
func (pub SigningPubkey) Validate() error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid signing public key: got %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}
	return nil
}

// SigningPrivkey represents an ed25519 private key used to sign shares.
type SigningPrivkey []byte

// Validate checks the key has the ed25519 private key size.
func (priv SigningPrivkey) Validate() error {
	if len(priv) != ed25519.PrivateKeySize {
		return errors.New("invalid signing private key size")
	}
	return nil
}

// Public returns the matching signing public key.
func (priv SigningPrivkey) Public() (SigningPubkey, error) {
	if err := priv.Validate(); err != nil {
		return nil, err
	}
	pub := ed25519.PrivateKey(priv).Public().(ed25519.PublicKey)
	return SigningPubkey(pub), nil
}

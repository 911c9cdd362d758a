package cryptoutils

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

// SignatureSize is the length of a share signature in bytes.
const SignatureSize = ed25519.SignatureSize

// GenerateSigningKeypair generates a fresh ed25519 signing keypair.
func GenerateSigningKeypair() (SigningPubkey, SigningPrivkey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return SigningPubkey(pub), SigningPrivkey(priv), nil
}

// SignShare signs a share payload so the recovering device can check a
// returned share is the one the owner handed out.
func SignShare(privkey SigningPrivkey, share []byte) ([]byte, error) {
	if err := privkey.Validate(); err != nil {
		return nil, err
	}
	return ed25519.Sign(ed25519.PrivateKey(privkey), share), nil
}

// VerifyShare checks a share signature produced by SignShare.
func VerifyShare(pubkey SigningPubkey, share, signature []byte) error {
	if err := pubkey.Validate(); err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pubkey), share, signature) {
		return errors.New("invalid share signature")
	}
	return nil
}

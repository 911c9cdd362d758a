package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// GenerateKxKeypair generates a fresh X25519 key-exchange keypair.
func GenerateKxKeypair() (KxPubkey, KxPrivkey, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	pub, err := KxPrivkey(priv).Public()
	if err != nil {
		return nil, nil, err
	}
	return pub, KxPrivkey(priv), nil
}

// SealToPubkey encrypts data so only the holder of the matching private key
// can read it. A fresh ephemeral X25519 key is generated per call, the
// shared secret runs through HKDF-SHA256 bound to both public keys, and the
// payload is sealed with AES-GCM, providing forward secrecy per payload.
//
// Format: [ephemeral key length (2 bytes)][ephemeral key][nonce][ciphertext]
func SealToPubkey(pubkey KxPubkey, data []byte) ([]byte, error) {
	if err := pubkey.Validate(); err != nil {
		return nil, err
	}

	// Generate ephemeral key for this sealing operation
	ephemeralPub, ephemeralPriv, err := GenerateKxKeypair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	shared, err := curve25519.X25519(ephemeralPriv, pubkey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive shared secret: %w", err)
	}

	key, err := sealingKey(shared, ephemeralPub, pubkey)
	if err != nil {
		return nil, err
	}

	// Generate random nonce for AES-GCM
	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ciphertext := aesGCM.Seal(nil, nonce, data, nil)

	// Format: [ephemeral key length (2 bytes)][ephemeral key][nonce][ciphertext]
	result := make([]byte, 2+len(ephemeralPub)+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint16(result[0:2], uint16(len(ephemeralPub)))
	copy(result[2:2+len(ephemeralPub)], ephemeralPub)
	copy(result[2+len(ephemeralPub):2+len(ephemeralPub)+len(nonce)], nonce)
	copy(result[2+len(ephemeralPub)+len(nonce):], ciphertext)

	return result, nil
}

// OpenWithPrivkey decrypts data sealed with SealToPubkey using the matching
// private key.
func OpenWithPrivkey(privkey KxPrivkey, sealed []byte) ([]byte, error) {
	if err := privkey.Validate(); err != nil {
		return nil, err
	}

	if len(sealed) < 2 {
		return nil, errors.New("sealed data too short")
	}

	ephemeralKeyLen := binary.BigEndian.Uint16(sealed[0:2])
	if int(ephemeralKeyLen) != curve25519.PointSize {
		return nil, errors.New("sealed data has invalid ephemeral key length")
	}
	if len(sealed) < int(2+ephemeralKeyLen+12) { // 12 is the GCM nonce size
		return nil, errors.New("sealed data has invalid format")
	}

	ephemeralPub := KxPubkey(sealed[2 : 2+ephemeralKeyLen])

	shared, err := curve25519.X25519(privkey, ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("failed to derive shared secret: %w", err)
	}

	recipientPub, err := privkey.Public()
	if err != nil {
		return nil, err
	}

	key, err := sealingKey(shared, ephemeralPub, recipientPub)
	if err != nil {
		return nil, err
	}

	nonceStart := 2 + ephemeralKeyLen
	nonce := sealed[nonceStart : nonceStart+12]
	ciphertext := sealed[nonceStart+12:]

	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// sealingKey derives the AES key from the raw shared secret, bound to both
// public keys so a transcript mismatch cannot go unnoticed.
func sealingKey(shared []byte, ephemeralPub, recipientPub KxPubkey) ([]byte, error) {
	info := append([]byte("lockbox-share-sealing"), ephemeralPub...)
	info = append(info, recipientPub...)
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, info), key); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	aesBlock, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// Sealer bundles a device's key-exchange keypair behind the
// interfaces.ShareSealer contract.
type Sealer struct {
	pub  KxPubkey
	priv KxPrivkey
}

// NewSealer wraps an existing keypair.
func NewSealer(pub KxPubkey, priv KxPrivkey) (*Sealer, error) {
	if err := pub.Validate(); err != nil {
		return nil, err
	}
	if err := priv.Validate(); err != nil {
		return nil, err
	}
	return &Sealer{pub: pub, priv: priv}, nil
}

// Seal encrypts plaintext to the given peer public key.
func (s *Sealer) Seal(plaintext, peerPubkey []byte) ([]byte, error) {
	return SealToPubkey(KxPubkey(peerPubkey), plaintext)
}

// Open decrypts a payload sealed to this device's key.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	return OpenWithPrivkey(s.priv, sealed)
}

// PublicKey returns the key peers seal to.
func (s *Sealer) PublicKey() []byte {
	return s.pub
}

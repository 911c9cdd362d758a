package cryptoutils

import (
	"errors"

	"golang.org/x/crypto/argon2"
)

// DeriveSecret creates a deterministic 32-byte master secret from a
// passphrase using Argon2id, so a wallet seed or vault key can be
// regenerated from the same inputs. The salt should be stable per lockbox
// and at least 8 bytes.
//
// Parameters: time=1, memory=64MB, threads=4, keyLen=32.
func DeriveSecret(passphrase, salt []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}
	if len(salt) < 8 {
		return nil, errors.New("salt must be at least 8 bytes")
	}
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32), nil
}

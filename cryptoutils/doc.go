// Package cryptoutils provides the default cryptographic collaborators for
// the recovery protocol: X25519 key-exchange keypairs and public-key
// sealing of share payloads, ed25519 share signing, and passphrase-based
// secret derivation.
//
// The protocol core treats all of this as opaque bytes; nothing here is
// part of the wire contract. Applications with their own crypto stack can
// replace the package behind the interfaces package's ShareSealer contract.
package cryptoutils

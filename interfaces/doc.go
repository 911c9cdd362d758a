// Package interfaces defines the shared types and contracts the module is
// wired together with, separating interface definitions from
// implementations.
//
// # Identity Types
//
// PeerID: UUID-based identifier for a paired device, used to address
// messages and key conversation arenas.
//
// # Storage Interfaces
//
// ShareStore: Persistence for lockbox shares a device holds for its peers,
// across multiple backend types (file, S3, IPFS, Vault, in-memory).
//
// ShareStoreFactory: Creates share stores from URI strings and aggregates
// several locations into one replicated store.
//
// # Transport Interfaces
//
// MessageTransport: Delivery of encoded protocol messages between peers.
// The transport moves opaque bytes; framing and meaning live in the
// protocol package.
//
// # Sealing Interfaces
//
// ShareSealer: Public-key sealing of share payloads so a holder never sees
// plaintext share material. The concrete scheme lives in cryptoutils;
// everything else programs against this contract.
package interfaces

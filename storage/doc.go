// Package storage implements share persistence backends behind the
// interfaces.ShareStore contract: where a device keeps the sealed lockbox
// shares it holds for its peers.
//
// Backends are created from location URIs through the Factory:
//
//   - file:///var/lib/lockbox/shares - local filesystem
//   - s3://bucket/prefix?region=us-east-1 - Amazon S3 or compatible
//   - ipfs://127.0.0.1:5001 - IPFS node (MFS-backed)
//   - vault://vault.example.com:8200/secret/lockbox?token=... - Vault KV v2
//   - mem:// - in-memory, for tests
//
// MultiStore aggregates several backends for redundancy: writes fan out to
// every available backend, reads fall through to the first backend that
// has the share.
package storage

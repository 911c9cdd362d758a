// Package device assembles the protocol core into a usable peer: one
// identity with its conversations, paired-peer registry, held-share store
// and transport binding.
//
// The conversation layer deliberately stops at queueing messages and
// parking on application decisions; this package is the application. It
// pumps the transport, persists shares peers place with it, answers
// retrievals from the share store, and exposes the owner-side flows:
// Pair, DistributeLockbox, UpdateLockboxShares, KeepAlivePeers and
// Recover.
package device

// Package relay implements a minimal store-and-forward transport so two
// devices can exchange protocol messages without a direct channel: a
// mailbox server peers POST to and poll from, and the client side of the
// interfaces.MessageTransport contract.
//
// The relay is deliberately dumb. It never decodes payloads, holds them
// only in memory, bounds every mailbox and sweeps unclaimed messages by
// TTL. Confidentiality and authenticity are the payload's problem; the
// protocol assumes messages are encrypted before they reach any
// transport.
//
// Relay endpoints are discovered out of band or via DNS SRV records
// (ResolveRelayEndpoints).
package relay

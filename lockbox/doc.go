// Package lockbox implements the secret-sharing math behind lockboxes: a
// secret split into shares distributed across paired devices, so that any
// threshold-sized subset can put it back together after the original
// device is lost.
//
// Split breaks a secret into shares using Shamir's Secret Sharing and
// returns a Manifest describing the split. The secret itself is never
// stored; the owner hands each share to a different peer (sealed to that
// peer on the way out) and keeps only the manifest.
//
// Reassembler is the receiving half: it collects shares during recovery
// and reconstructs the secret automatically once the threshold is met,
// verifying the result against the lockbox identifier before releasing
// it. Collected shares are wiped from memory after reconstruction.
package lockbox

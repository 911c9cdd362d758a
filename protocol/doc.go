// Package protocol implements the wire codec and message catalog for the
// lockbox recovery protocol suite: the byte-level encoding shared by every
// peer message and the closed set of message kinds the suite exchanges.
//
// Wire format rules:
//
//   - All multi-byte integers are big-endian and interpreted as unsigned.
//     Supported widths are 8, 16, 32 and 64 bits.
//   - Every encoded message begins with its 16-bit MessageKind code.
//   - Text fields are NFC-normalized UTF-8, encoded as a 16-bit byte length
//     followed by the bytes. Encode normalizes; Decode only validates UTF-8.
//   - Variable-length binary fields use the same 16-bit length prefix.
//   - LockboxID is a fixed 32-byte field.
//
// Decoding is strict: a truncated buffer, malformed text, an unknown code,
// an out-of-range enum value or trailing bytes all yield a typed error and
// never a partial message. Encoding is deterministic; the same message value
// always produces the same bytes.
//
// The message catalog maps each MessageKind to its owning ProtocolKind and
// records whether the kind may open a new conversation:
//
//	PairingRequest                0x0000  Pairing              initiating
//	PairingResponse               0x0001  Pairing
//	PairingAck                    0x0002  Pairing
//	LockboxShareRetrievalRequest  0x0100  Recovery             initiating
//	LockboxShareRetrievalResponse 0x0101  Recovery
//	OperatingModeUpdate           0x0102  Recovery
//	KeepAliveRequest              0x0200  KeepAlive            initiating
//	KeepAliveResponse             0x0201  KeepAlive
//	StoreLockboxShareRequest      0x0300  LockboxSharesUpdate  initiating
//	StoreLockboxShareResponse     0x0301  LockboxSharesUpdate
//	LockboxUpdateRequest          0x0302  LockboxSharesUpdate  initiating
//
// Wire codes are frozen; reusing or renumbering a code is a breaking
// protocol change. New kinds claim the next free code inside their
// protocol's 0xXX00 block.
//
// The package performs no I/O and holds no state. Conversation sequencing
// lives in the conversation package; this package only turns message values
// into bytes and back.
package protocol

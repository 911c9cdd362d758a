package protocol

import "errors"

// Decode and encode failures wrap one of these sentinels so callers can
// classify them with errors.Is without parsing strings.
var (
	// ErrTruncated indicates the buffer ended before a field was complete.
	ErrTruncated = errors.New("protocol: truncated message")

	// ErrInvalidText indicates a text field holds malformed UTF-8.
	ErrInvalidText = errors.New("protocol: invalid text field")

	// ErrUnknownType indicates a message code outside the catalog.
	ErrUnknownType = errors.New("protocol: unknown message type")

	// ErrUnexpectedKind indicates a well-formed message whose code differs
	// from the kind the caller asked DecodeAs for.
	ErrUnexpectedKind = errors.New("protocol: unexpected message kind")

	// ErrFieldOutOfRange indicates a length or enum value outside its
	// documented range.
	ErrFieldOutOfRange = errors.New("protocol: field out of range")

	// ErrTrailingBytes indicates leftover bytes after the last field.
	ErrTrailingBytes = errors.New("protocol: trailing bytes")
)

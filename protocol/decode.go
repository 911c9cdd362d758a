package protocol

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Decode parses a wire buffer into a message. The buffer must hold exactly
// one encoded message: the 16-bit code, the kind's fields, and nothing
// after them.
//
// Failures wrap the package sentinels: ErrTruncated when the buffer ends
// inside a field, ErrUnknownType for codes outside the catalog,
// ErrInvalidText for malformed UTF-8, ErrFieldOutOfRange for enum or length
// violations, and ErrTrailingBytes for leftovers after the last field.
// Decode never panics on hostile input.
func Decode(raw []byte) (Message, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: no message code in %d bytes", ErrTruncated, len(raw))
	}
	kind := MessageKind(binary.BigEndian.Uint16(raw[:2]))
	if !kind.Known() {
		return nil, fmt.Errorf("%w: code 0x%04x", ErrUnknownType, uint16(kind))
	}

	r := &wireReader{buf: raw, off: 2}
	msg, err := decodeBody(kind, r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	if rest := len(raw) - r.off; rest > 0 {
		return nil, fmt.Errorf("decode %s: %w: %d bytes after last field", kind, ErrTrailingBytes, rest)
	}
	return msg, nil
}

// DecodeAs decodes raw like Decode but additionally requires the message
// code to match kind, wrapping ErrUnexpectedKind when it does not. Callers
// that already know what the peer must send next use it to reject
// out-of-order messages before touching the payload.
func DecodeAs(raw []byte, kind MessageKind) (Message, error) {
	if len(raw) >= 2 {
		if got := MessageKind(binary.BigEndian.Uint16(raw[:2])); got.Known() && got != kind {
			return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedKind, got, kind)
		}
	}
	return Decode(raw)
}

func decodeBody(kind MessageKind, r *wireReader) (Message, error) {
	switch kind {
	case KindPairingRequest:
		var m PairingRequest
		if err := readIdentity(r, &m.Version, &m.Counter, &m.Nonce, &m.Mode, &m.DisplayName, &m.KxPubkey); err != nil {
			return nil, err
		}
		return &m, nil

	case KindPairingResponse:
		var m PairingResponse
		if err := readIdentity(r, &m.Version, &m.Counter, &m.Nonce, &m.Mode, &m.DisplayName, &m.KxPubkey); err != nil {
			return nil, err
		}
		return &m, nil

	case KindPairingAck:
		nonce, err := r.u8()
		if err != nil {
			return nil, err
		}
		return &PairingAck{Nonce: nonce}, nil

	case KindLockboxShareRetrievalRequest:
		var m LockboxShareRetrievalRequest
		var err error
		if m.Version, err = r.u16(); err != nil {
			return nil, err
		}
		if m.LockboxID, err = r.lockboxID(); err != nil {
			return nil, err
		}
		if m.Nonce, err = r.u8(); err != nil {
			return nil, err
		}
		if m.KxPubkey, err = r.bytes(); err != nil {
			return nil, err
		}
		return &m, nil

	case KindLockboxShareRetrievalResponse:
		var m LockboxShareRetrievalResponse
		var err error
		if m.Status, err = readShareStatus(r); err != nil {
			return nil, err
		}
		if m.LockboxID, err = r.lockboxID(); err != nil {
			return nil, err
		}
		if m.Share, err = r.bytes(); err != nil {
			return nil, err
		}
		return &m, nil

	case KindOperatingModeUpdate:
		mode, err := readMode(r)
		if err != nil {
			return nil, err
		}
		return &OperatingModeUpdate{Mode: mode}, nil

	case KindKeepAliveRequest:
		var m KeepAliveRequest
		var err error
		if m.Counter, err = r.u32(); err != nil {
			return nil, err
		}
		if m.Mode, err = readMode(r); err != nil {
			return nil, err
		}
		return &m, nil

	case KindKeepAliveResponse:
		var m KeepAliveResponse
		var err error
		if m.Counter, err = r.u32(); err != nil {
			return nil, err
		}
		if m.Mode, err = readMode(r); err != nil {
			return nil, err
		}
		return &m, nil

	case KindStoreLockboxShareRequest:
		var m StoreLockboxShareRequest
		if err := readShareCargo(r, &m.Version, &m.LockboxID, &m.ShareIndex, &m.Share); err != nil {
			return nil, err
		}
		return &m, nil

	case KindStoreLockboxShareResponse:
		var m StoreLockboxShareResponse
		var err error
		if m.Status, err = readShareStatus(r); err != nil {
			return nil, err
		}
		if m.LockboxID, err = r.lockboxID(); err != nil {
			return nil, err
		}
		return &m, nil

	case KindLockboxUpdateRequest:
		var m LockboxUpdateRequest
		if err := readShareCargo(r, &m.Version, &m.LockboxID, &m.ShareIndex, &m.Share); err != nil {
			return nil, err
		}
		return &m, nil
	}
	return nil, fmt.Errorf("%w: code 0x%04x", ErrUnknownType, uint16(kind))
}

func readIdentity(r *wireReader, version *uint16, counter *uint32, nonce *uint8, mode *OperatingMode, name *string, pubkey *[]byte) error {
	var err error
	if *version, err = r.u16(); err != nil {
		return err
	}
	if *counter, err = r.u32(); err != nil {
		return err
	}
	if *nonce, err = r.u8(); err != nil {
		return err
	}
	if *mode, err = readMode(r); err != nil {
		return err
	}
	if *name, err = r.text(); err != nil {
		return err
	}
	*pubkey, err = r.bytes()
	return err
}

func readShareCargo(r *wireReader, version *uint16, id *LockboxID, index *uint8, share *[]byte) error {
	var err error
	if *version, err = r.u16(); err != nil {
		return err
	}
	if *id, err = r.lockboxID(); err != nil {
		return err
	}
	if *index, err = r.u8(); err != nil {
		return err
	}
	*share, err = r.bytes()
	return err
}

func readMode(r *wireReader) (OperatingMode, error) {
	v, err := r.u8()
	if err != nil {
		return 0, err
	}
	mode := OperatingMode(v)
	if !mode.Valid() {
		return 0, fmt.Errorf("%w: operating mode %d", ErrFieldOutOfRange, v)
	}
	return mode, nil
}

func readShareStatus(r *wireReader) (ShareStatus, error) {
	v, err := r.u8()
	if err != nil {
		return 0, err
	}
	status := ShareStatus(v)
	if !status.Valid() {
		return 0, fmt.Errorf("%w: share status %d", ErrFieldOutOfRange, v)
	}
	return status, nil
}

// wireReader walks a buffer with an explicit offset so every read can
// report exactly where the bytes ran out.
type wireReader struct {
	buf []byte
	off int
}

func (r *wireReader) take(n int) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, len(r.buf)-r.off)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *wireReader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *wireReader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *wireReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *wireReader) lockboxID() (LockboxID, error) {
	var id LockboxID
	b, err := r.take(len(id))
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// bytes reads a 16-bit length prefix and returns a copy of that many bytes,
// so decoded messages never alias the input buffer. Zero-length fields
// decode to an empty non-nil slice, keeping encode/decode round-trips
// comparable with reflect.DeepEqual.
func (r *wireReader) bytes() ([]byte, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (r *wireReader) text() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidText
	}
	return string(b), nil
}

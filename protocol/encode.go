package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Encode serializes a message into its wire form: the 16-bit message code
// followed by the kind's fields in catalog order. Text fields are
// NFC-normalized before length-prefixing, so encoding is deterministic for
// any given message value.
//
// Returns an error when a text field holds invalid UTF-8 or a
// variable-length field exceeds the 16-bit length prefix.
func Encode(m Message) ([]byte, error) {
	buf := binary.BigEndian.AppendUint16(nil, uint16(m.Kind()))

	var err error
	switch msg := m.(type) {
	case *PairingRequest:
		buf, err = appendIdentity(buf, msg.Version, msg.Counter, msg.Nonce, msg.Mode, msg.DisplayName, msg.KxPubkey)
	case *PairingResponse:
		buf, err = appendIdentity(buf, msg.Version, msg.Counter, msg.Nonce, msg.Mode, msg.DisplayName, msg.KxPubkey)
	case *PairingAck:
		buf = append(buf, msg.Nonce)
	case *LockboxShareRetrievalRequest:
		buf = binary.BigEndian.AppendUint16(buf, msg.Version)
		buf = append(buf, msg.LockboxID[:]...)
		buf = append(buf, msg.Nonce)
		buf, err = appendBytes(buf, msg.KxPubkey)
	case *LockboxShareRetrievalResponse:
		buf, err = appendEnum(buf, uint8(msg.Status), msg.Status.Valid(), "share status")
		if err == nil {
			buf = append(buf, msg.LockboxID[:]...)
			buf, err = appendBytes(buf, msg.Share)
		}
	case *OperatingModeUpdate:
		buf, err = appendEnum(buf, uint8(msg.Mode), msg.Mode.Valid(), "operating mode")
	case *KeepAliveRequest:
		buf = binary.BigEndian.AppendUint32(buf, msg.Counter)
		buf, err = appendEnum(buf, uint8(msg.Mode), msg.Mode.Valid(), "operating mode")
	case *KeepAliveResponse:
		buf = binary.BigEndian.AppendUint32(buf, msg.Counter)
		buf, err = appendEnum(buf, uint8(msg.Mode), msg.Mode.Valid(), "operating mode")
	case *StoreLockboxShareRequest:
		buf, err = appendShareCargo(buf, msg.Version, msg.LockboxID, msg.ShareIndex, msg.Share)
	case *StoreLockboxShareResponse:
		buf, err = appendEnum(buf, uint8(msg.Status), msg.Status.Valid(), "share status")
		if err == nil {
			buf = append(buf, msg.LockboxID[:]...)
		}
	case *LockboxUpdateRequest:
		buf, err = appendShareCargo(buf, msg.Version, msg.LockboxID, msg.ShareIndex, msg.Share)
	default:
		// Unreachable while the union stays closed.
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return buf, nil
}

// appendIdentity lays out the field sequence shared by PairingRequest and
// PairingResponse.
func appendIdentity(buf []byte, version uint16, counter uint32, nonce uint8, mode OperatingMode, name string, pubkey []byte) ([]byte, error) {
	buf = binary.BigEndian.AppendUint16(buf, version)
	buf = binary.BigEndian.AppendUint32(buf, counter)
	buf = append(buf, nonce)
	buf, err := appendEnum(buf, uint8(mode), mode.Valid(), "operating mode")
	if err != nil {
		return nil, err
	}
	buf, err = appendText(buf, name)
	if err != nil {
		return nil, err
	}
	return appendBytes(buf, pubkey)
}

// appendShareCargo lays out the field sequence shared by
// StoreLockboxShareRequest and LockboxUpdateRequest.
func appendShareCargo(buf []byte, version uint16, id LockboxID, index uint8, share []byte) ([]byte, error) {
	buf = binary.BigEndian.AppendUint16(buf, version)
	buf = append(buf, id[:]...)
	buf = append(buf, index)
	return appendBytes(buf, share)
}

func appendEnum(buf []byte, v uint8, valid bool, what string) ([]byte, error) {
	if !valid {
		return nil, fmt.Errorf("%w: %s %d", ErrFieldOutOfRange, what, v)
	}
	return append(buf, v), nil
}

func appendText(buf []byte, s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, ErrInvalidText
	}
	return appendBytes(buf, []byte(norm.NFC.String(s)))
}

func appendBytes(buf, b []byte) ([]byte, error) {
	if len(b) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: field length %d exceeds %d", ErrFieldOutOfRange, len(b), math.MaxUint16)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(b)))
	return append(buf, b...), nil
}

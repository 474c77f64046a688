package vdcapi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxMessageLength is the largest payload a single frame may carry.
const MaxMessageLength = 16384

// ErrZeroLengthMessage is returned by ReadFrame when a frame's length
// header is zero, which the protocol forbids.
var ErrZeroLengthMessage = errors.New("vdcapi: received zero-length message")

// ErrMessageTooLarge is returned when a frame's declared length
// exceeds MaxMessageLength.
var ErrMessageTooLarge = errors.New("vdcapi: message exceeds maximum length")

// ReadFrame reads one length-prefixed frame from r: a 2-byte
// big-endian length followed by that many payload bytes. Returning
// io.EOF with a nil payload means the peer closed the connection
// cleanly before sending a new header; any other error is a protocol
// violation.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("vdcapi: reading frame header: %w", err)
	}

	length := binary.BigEndian.Uint16(header[:])
	if length == 0 {
		return nil, ErrZeroLengthMessage
	}
	if int(length) > MaxMessageLength {
		return nil, ErrMessageTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("vdcapi: reading frame payload: %w", err)
	}
	return payload, nil
}

// WriteFrame writes payload as one length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrZeroLengthMessage
	}
	if len(payload) > MaxMessageLength {
		return ErrMessageTooLarge
	}
	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("vdcapi: writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("vdcapi: writing frame payload: %w", err)
	}
	return nil
}

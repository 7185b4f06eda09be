// Package framing implements the length-prefixed message framing used by
// the control endpoint: a 4-byte little-endian length followed by that
// many bytes of UTF-8 JSON. The selection endpoint uses newline-delimited
// JSON instead and does not go through this package.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize bounds a single frame's payload. The length prefix is
// checked against this before any allocation happens, so a peer cannot
// force a large allocation just by sending a bogus length.
const MaxMessageSize = 65536

var (
	// ErrMessageTooLarge is returned when a frame's declared length exceeds
	// MaxMessageSize.
	ErrMessageTooLarge = errors.New("framing: message exceeds maximum size")
	// ErrConnectionClosed is returned when the stream ends, whether cleanly
	// between frames or partway through a length prefix or payload.
	ErrConnectionClosed = errors.New("framing: connection closed")
)

// ReadFrame reads one length-prefixed message from r. It returns
// ErrConnectionClosed if the stream ends before the frame is complete
// (including before its first byte), and ErrMessageTooLarge if the
// declared length exceeds MaxMessageSize.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("framing: read length prefix: %w", err)
	}

	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("framing: read payload: %w", err)
	}

	return payload, nil
}

// WriteFrame writes payload as one length-prefixed message to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return ErrMessageTooLarge
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("framing: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("framing: write payload: %w", err)
	}
	return nil
}

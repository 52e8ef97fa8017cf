package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single length-prefixed frame to guard against a
// misbehaving peer claiming an unbounded length.
const MaxFrameSize = 16 * 1024 * 1024

// WriteFrame writes a 4-byte big-endian length prefix followed by payload
// to w. The mesh and the authorization handshake write every frame
// through this helper (§4.1 "length-framed, ordered byte streams"), so
// framing is identical across tcp/tcps/ws/inproc.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds max %d", ErrFrameTooLarge, len(payload), MaxFrameSize)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds max %d", ErrFrameTooLarge, length, MaxFrameSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ErrFrameTooLarge is returned when a frame's declared or actual length
// exceeds MaxFrameSize.
var ErrFrameTooLarge = fmt.Errorf("frame exceeds maximum size")

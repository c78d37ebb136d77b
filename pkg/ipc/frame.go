package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrame caps frames when no limit is configured. It matches the
// Chrome native messaging host-bound limit.
const DefaultMaxFrame = 1 << 20

// ErrFrameTooLarge is returned when a frame exceeds the reader's limit. The
// oversized body has already been discarded, so the stream stays aligned.
var ErrFrameTooLarge = errors.New("frame too large")

// ReadFrame reads a length-prefixed payload from r using DefaultMaxFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	return readFrame(r, DefaultMaxFrame)
}

// ReadFrameLimit reads a length-prefixed payload of at most max bytes.
func ReadFrameLimit(r io.Reader, max int) ([]byte, error) {
	return readFrame(r, max)
}

// WriteFrame writes payload to w with a 4-byte little-endian length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	return writeFrame(w, payload)
}

func readFrame(r io.Reader, max int) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if max > 0 && int64(length) > int64(max) {
		if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, length, max)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	// Prefix and body go out in a single Write.
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

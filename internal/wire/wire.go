// Package wire implements the framing layer of the chat protocol. TCP is a
// byte stream with no message boundaries, so every logical message is carried
// as a frame: a 4-byte big-endian payload length followed by the UTF-8
// payload. A single Read from the network may return a fraction of a frame or
// several frames; the Decoder reassembles them.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest payload the codec will encode or decode.
// Frames above this limit are rejected rather than buffered indefinitely.
const MaxFrameSize = 64 * 1024

// headerSize is the fixed length prefix in bytes.
const headerSize = 4

// FrameError reports a malformed or oversized frame. A FrameError on decode
// means the stream position is no longer trustworthy and the connection
// should be closed.
type FrameError struct {
	Reason string
	Size   int
}

func (e *FrameError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("wire: %s (%d bytes)", e.Reason, e.Size)
	}
	return "wire: " + e.Reason
}

// Encode returns the framed representation of text: header plus payload.
// Encode assumes the caller already validated the size; use Write to have
// payloads over MaxFrameSize rejected with a FrameError.
func Encode(text string) []byte {
	buf := make([]byte, headerSize+len(text))
	binary.BigEndian.PutUint32(buf, uint32(len(text)))
	copy(buf[headerSize:], text)
	return buf
}

// Write frames text and writes it to w in a single call, so that concurrent
// writers on distinct frames never interleave partial frames.
func Write(w io.Writer, text string) error {
	if len(text) > MaxFrameSize {
		return &FrameError{Reason: "payload exceeds maximum frame size", Size: len(text)}
	}
	_, err := w.Write(Encode(text))
	return err
}

// Decoder reads frames from a byte stream. It is not safe for concurrent
// use; every connection gets its own Decoder.
type Decoder struct {
	r      *bufio.Reader
	header [headerSize]byte
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next blocks until one complete frame is available and returns its payload.
// It returns io.EOF when the stream closes cleanly between frames. A stream
// that closes mid-frame yields a FrameError: partial frames are discarded,
// never replayed.
func (d *Decoder) Next() (string, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		if err == io.EOF {
			return "", io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return "", &FrameError{Reason: "stream closed inside frame header"}
		}
		return "", err
	}

	size := binary.BigEndian.Uint32(d.header[:])
	if size > MaxFrameSize {
		return "", &FrameError{Reason: "frame exceeds maximum size", Size: int(size)}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", &FrameError{Reason: "stream closed inside frame payload", Size: int(size)}
		}
		return "", err
	}
	return string(payload), nil
}

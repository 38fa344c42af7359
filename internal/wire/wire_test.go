package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	payloads := []string{
		"hello",
		"",
		"multi\nline\npayload",
		"über UTF-8 ≈ ok",
		// Bytes that look like a length header must survive inside a payload.
		string([]byte{0, 0, 0, 5}) + "fake header",
		strings.Repeat("x", MaxFrameSize),
	}

	var buf bytes.Buffer
	for _, p := range payloads {
		if err := Write(&buf, p); err != nil {
			t.Fatalf("Write(%q): %v", p, err)
		}
	}

	dec := NewDecoder(&buf)
	for i, want := range payloads {
		got, err := dec.Next()
		if err != nil {
			t.Fatalf("Next() frame %d: %v", i, err)
		}
		if got != want {
			t.Errorf("frame %d: got %q, want %q", i, got, want)
		}
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after last frame, got %v", err)
	}
}

// chunkReader returns at most n bytes per Read, simulating TCP segmentation.
type chunkReader struct {
	r io.Reader
	n int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) > c.n {
		p = p[:c.n]
	}
	return c.r.Read(p)
}

func TestDecodeAcrossChunks(t *testing.T) {
	var buf bytes.Buffer
	msgs := []string{"first message", "second", "third one here"}
	for _, m := range msgs {
		Write(&buf, m)
	}

	dec := NewDecoder(&chunkReader{r: &buf, n: 3})
	for _, want := range msgs {
		got, err := dec.Next()
		if err != nil {
			t.Fatalf("Next(): %v", err)
		}
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestOversizedFrameRejected(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)

	dec := NewDecoder(bytes.NewReader(header[:]))
	_, err := dec.Next()
	var fe *FrameError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FrameError, got %v", err)
	}
	if fe.Size != MaxFrameSize+1 {
		t.Errorf("FrameError.Size = %d, want %d", fe.Size, MaxFrameSize+1)
	}
}

func TestWriteRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, strings.Repeat("x", MaxFrameSize+1))
	var fe *FrameError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FrameError, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("oversized payload partially written: %d bytes", buf.Len())
	}
}

func TestTruncatedStream(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"inside header", []byte{0, 0}},
		{"inside payload", append([]byte{0, 0, 0, 10}, []byte("short")...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(bytes.NewReader(tt.data))
			_, err := dec.Next()
			var fe *FrameError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FrameError, got %v", err)
			}
		})
	}
}

func TestCleanCloseBetweenFrames(t *testing.T) {
	dec := NewDecoder(bytes.NewReader(nil))
	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF on empty stream, got %v", err)
	}
}

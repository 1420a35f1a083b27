// Package wire implements the dispatcher wire protocol: 4-byte unsigned
// big-endian length prefix followed by exactly that many bytes of UTF-8 JSON.
//
// Framing errors are not recoverable. A reader that returns ErrFrameTooLarge
// or a JSON decode error must close the underlying connection.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the maximum framed payload. Frames at or above this size
// abort the connection.
const MaxFrameSize = 10 << 20 // 10 MiB

var (
	// ErrFrameTooLarge is returned when a frame length prefix is >= MaxFrameSize.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
	// ErrEmptyFrame is returned for a zero-length frame.
	ErrEmptyFrame = errors.New("wire: empty frame")
)

// Reader decodes length-prefixed frames from a stream.
// Partial reads are retained across calls; Reader is not safe for
// concurrent use.
type Reader struct {
	r io.Reader
}

// NewReader wraps r in a frame reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame reads one complete frame payload.
// Returns io.EOF when the stream ends cleanly between frames, and
// io.ErrUnexpectedEOF when it ends mid-frame.
func (fr *Reader) ReadFrame() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wire: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n >= MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		return nil, fmt.Errorf("wire: read frame body: %w", err)
	}
	return buf, nil
}

// ReadJSON reads one frame and unmarshals it into v.
func (fr *Reader) ReadJSON(v any) error {
	buf, err := fr.ReadFrame()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("wire: decode frame: %w", err)
	}
	return nil
}

// Writer encodes length-prefixed frames onto a stream.
// Writer is not safe for concurrent use; callers serialize writes.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w in a frame writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes one frame containing payload.
func (fw *Writer) WriteFrame(payload []byte) error {
	if len(payload) >= MaxFrameSize {
		return ErrFrameTooLarge
	}
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := fw.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := fw.w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// WriteJSON marshals v and writes it as one frame.
func (fw *Writer) WriteJSON(v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encode frame: %w", err)
	}
	return fw.WriteFrame(buf)
}

// Package nativemsg implements the browser native-messaging wire format:
// each message is a 32-bit length in native byte order followed by that
// many bytes of UTF-8 JSON.
package nativemsg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// MaxHostMessage is the largest message a native host may send to the
	// browser.
	MaxHostMessage = 1 << 20

	// DefaultMaxMessage bounds reads when no explicit limit is configured.
	DefaultMaxMessage = 256 << 20
)

var ErrTooLarge = errors.New("nativemsg: message exceeds size limit")

// Reader reads length-prefixed messages.
type Reader struct {
	r   io.Reader
	max uint32
}

// NewReader returns a Reader that rejects messages larger than max bytes.
// A non-positive max selects DefaultMaxMessage.
func NewReader(r io.Reader, max int) *Reader {
	if max <= 0 || max > DefaultMaxMessage {
		max = DefaultMaxMessage
	}
	return &Reader{r: r, max: uint32(max)}
}

// Read returns the next message. It returns io.EOF when the stream ends
// cleanly between messages.
func (r *Reader) Read() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("nativemsg: read length: %w", err)
	}
	n := binary.NativeEndian.Uint32(hdr[:])
	if n > r.max {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, n, r.max)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, fmt.Errorf("nativemsg: read body: %w", err)
	}
	return buf, nil
}

// Writer writes length-prefixed messages. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	max int
}

// NewWriter returns a Writer that refuses messages larger than max bytes.
// A non-positive max means no limit beyond the 32-bit length field.
func NewWriter(w io.Writer, max int) *Writer {
	return &Writer{w: w, max: max}
}

// Write sends one message.
func (w *Writer) Write(msg []byte) error {
	if w.max > 0 && len(msg) > w.max {
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, len(msg), w.max)
	}
	if uint64(len(msg)) > uint64(^uint32(0)) {
		return ErrTooLarge
	}
	frame := make([]byte, 4+len(msg))
	binary.NativeEndian.PutUint32(frame, uint32(len(msg)))
	copy(frame[4:], msg)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("nativemsg: write: %w", err)
	}
	return nil
}

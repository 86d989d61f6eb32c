package nativemsg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestWriteThenRead(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	msgs := []string{`{"log":{}}`, `[]`, `"x"`}
	for _, m := range msgs {
		if err := w.Write([]byte(m)); err != nil {
			t.Fatalf("Write(%s) error = %v", m, err)
		}
	}

	r := NewReader(&buf, 0)
	for _, want := range msgs {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if string(got) != want {
			t.Fatalf("Read() = %s; want %s", got, want)
		}
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Fatalf("Read() at end error = %v; want io.EOF", err)
	}
}

func TestFrameLayoutUsesNativeOrder(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf, 0).Write([]byte("{}")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	b := buf.Bytes()
	if len(b) != 6 {
		t.Fatalf("frame length = %d; want 6", len(b))
	}
	if n := binary.NativeEndian.Uint32(b[:4]); n != 2 {
		t.Fatalf("length prefix = %d; want 2", n)
	}
}

func TestReadRejectsOversizedFrame(t *testing.T) {
	var hdr [4]byte
	binary.NativeEndian.PutUint32(hdr[:], 11)
	r := NewReader(bytes.NewReader(append(hdr[:], []byte("hello world")...)), 10)
	if _, err := r.Read(); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Read() error = %v; want ErrTooLarge", err)
	}
}

func TestReadTruncatedBody(t *testing.T) {
	var hdr [4]byte
	binary.NativeEndian.PutUint32(hdr[:], 8)
	r := NewReader(bytes.NewReader(append(hdr[:], 'a', 'b')), 0)
	_, err := r.Read()
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("Read() error = %v; want truncated body error", err)
	}
}

func TestWriteRejectsOversizedMessage(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, MaxHostMessage)
	if err := w.Write(make([]byte, MaxHostMessage+1)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Write() error = %v; want ErrTooLarge", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer len = %d; want 0", buf.Len())
	}
}

package elf

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestReaderFixedWidth(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a}
	r := NewReader(data, binary.LittleEndian)

	v16, err := r.U16()
	if err != nil || v16 != 0x0201 {
		t.Fatalf("U16 = %#x, %v", v16, err)
	}
	v32, err := r.U32()
	if err != nil || v32 != 0x06050403 {
		t.Fatalf("U32 = %#x, %v", v32, err)
	}
	if _, err := r.U64(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("U64 past the end should fail with ErrMalformed, got %v", err)
	}
	// A failed read must not move the cursor.
	if r.Offset() != 6 {
		t.Fatalf("offset = %d after failed read, want 6", r.Offset())
	}
}

func TestReaderUleb128(t *testing.T) {
	args := []struct {
		in   []byte
		want uint64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, ^uint64(0)},
	}
	for _, arg := range args {
		r := NewReader(arg.in, binary.LittleEndian)
		got, err := r.Uleb128()
		if err != nil {
			t.Fatalf("Uleb128(% x): %v", arg.in, err)
		}
		if got != arg.want {
			t.Errorf("Uleb128(% x) = %d, want %d", arg.in, got, arg.want)
		}
	}
}

func TestReaderSleb128(t *testing.T) {
	args := []struct {
		in   []byte
		want int64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x02}, 2},
		{[]byte{0x7e}, -2},
		{[]byte{0xff, 0x00}, 127},
		{[]byte{0x81, 0x7f}, -127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0x80, 0x7f}, -128},
	}
	for _, arg := range args {
		r := NewReader(arg.in, binary.LittleEndian)
		got, err := r.Sleb128()
		if err != nil {
			t.Fatalf("Sleb128(% x): %v", arg.in, err)
		}
		if got != arg.want {
			t.Errorf("Sleb128(% x) = %d, want %d", arg.in, got, arg.want)
		}
	}
}

func TestReaderCString(t *testing.T) {
	r := NewReader([]byte("hello\x00world"), binary.LittleEndian)
	s, err := r.CString()
	if err != nil || s != "hello" {
		t.Fatalf("CString = %q, %v", s, err)
	}
	if _, err := r.CString(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("unterminated CString should fail with ErrMalformed, got %v", err)
	}
}

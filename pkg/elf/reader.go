package elf

import (
	"encoding/binary"
	"fmt"
)

// Reader decodes fixed-width and variable-width integers from a byte
// slice. Every read is bounds checked; out-of-range reads fail with
// ErrMalformed and leave the cursor where it was.
type Reader struct {
	data  []byte
	off   int
	order binary.ByteOrder
}

// NewReader returns a Reader over data using the given byte order.
func NewReader(data []byte, order binary.ByteOrder) *Reader {
	return &Reader{data: data, order: order}
}

// Offset returns the current cursor position.
func (r *Reader) Offset() uint64 {
	return uint64(r.off)
}

// More reports whether any bytes remain.
func (r *Reader) More() bool {
	return r.off < len(r.data)
}

// Seek moves the cursor to an absolute offset.
func (r *Reader) Seek(off uint64) error {
	if off > uint64(len(r.data)) {
		return fmt.Errorf("seek to %#x beyond %#x bytes: %w", off, len(r.data), ErrMalformed)
	}
	r.off = int(off)
	return nil
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n uint64) error {
	if n > uint64(len(r.data)-r.off) {
		return fmt.Errorf("skip of %d bytes at %#x beyond %#x bytes: %w", n, r.off, len(r.data), ErrMalformed)
	}
	r.off += int(n)
	return nil
}

// Bytes returns a view of the next n bytes and advances the cursor.
func (r *Reader) Bytes(n uint64) ([]byte, error) {
	if n > uint64(len(r.data)-r.off) {
		return nil, fmt.Errorf("read of %d bytes at %#x beyond %#x bytes: %w", n, r.off, len(r.data), ErrMalformed)
	}
	b := r.data[r.off : r.off+int(n) : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.Bytes(2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(b), nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(b), nil
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return r.order.Uint64(b), nil
}

// Uint reads an unsigned integer of 1, 2, 4 or 8 bytes.
func (r *Reader) Uint(size int) (uint64, error) {
	switch size {
	case 1:
		v, err := r.U8()
		return uint64(v), err
	case 2:
		v, err := r.U16()
		return uint64(v), err
	case 4:
		v, err := r.U32()
		return uint64(v), err
	case 8:
		return r.U64()
	default:
		return 0, fmt.Errorf("unsigned read of width %d: %w", size, ErrUnsupported)
	}
}

// Uleb128 reads an unsigned little-endian base-128 value.
func (r *Reader) Uleb128() (uint64, error) {
	var result uint64
	var shift uint
	start := r.off
	for {
		b, err := r.U8()
		if err != nil {
			r.off = start
			return 0, err
		}
		if shift >= 64 {
			r.off = start
			return 0, fmt.Errorf("ULEB128 at %#x overflows 64 bits: %w", start, ErrMalformed)
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// Sleb128 reads a signed little-endian base-128 value.
func (r *Reader) Sleb128() (int64, error) {
	var result int64
	var shift uint
	start := r.off
	for {
		b, err := r.U8()
		if err != nil {
			r.off = start
			return 0, err
		}
		if shift >= 64 {
			r.off = start
			return 0, fmt.Errorf("SLEB128 at %#x overflows 64 bits: %w", start, ErrMalformed)
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
}

// CString reads a NUL-terminated string and advances past the terminator.
func (r *Reader) CString() (string, error) {
	for i := r.off; i < len(r.data); i++ {
		if r.data[i] == 0 {
			s := string(r.data[r.off:i])
			r.off = i + 1
			return s, nil
		}
	}
	return "", fmt.Errorf("unterminated string at %#x: %w", r.off, ErrMalformed)
}

// extractString reads the NUL-terminated string at off in a string table.
func extractString(strtab []byte, off uint64) (string, bool) {
	if off >= uint64(len(strtab)) {
		return "", false
	}
	for i := off; i < uint64(len(strtab)); i++ {
		if strtab[i] == 0 {
			return string(strtab[off:i]), true
		}
	}
	return "", false
}

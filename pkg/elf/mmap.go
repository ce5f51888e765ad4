package elf

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mmap is a read-only memory mapped view of a file. Slices handed out by
// Bytes borrow the mapping and must not be used after Close.
type Mmap struct {
	file *os.File
	data []byte
}

// OpenMmap maps the file at path read-only.
func OpenMmap(path string) (*Mmap, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	m := &Mmap{file: file}
	if size := fi.Size(); size > 0 {
		m.data, err = unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("mmap %s: %w", path, err)
		}
	}
	return m, nil
}

// Size returns the size of the mapped file.
func (m *Mmap) Size() uint64 {
	return uint64(len(m.data))
}

// Bytes returns a view of n bytes starting at off. The returned slice
// aliases the mapping.
func (m *Mmap) Bytes(off, n uint64) ([]byte, error) {
	if off > uint64(len(m.data)) || n > uint64(len(m.data))-off {
		return nil, fmt.Errorf("read of [%#x, %#x) beyond file size %#x: %w",
			off, off+n, len(m.data), ErrMalformed)
	}
	return m.data[off : off+n : off+n], nil
}

// Data returns the whole mapping.
func (m *Mmap) Data() []byte {
	return m.data
}

func (m *Mmap) Close() error {
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			m.file.Close()
			return err
		}
		m.data = nil
	}
	return m.file.Close()
}

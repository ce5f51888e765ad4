package elf

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed reports an input file that violates the ELF format:
	// truncation, a bad magic number, or offsets pointing outside the file.
	ErrMalformed = errors.New("malformed ELF input")

	// ErrUnsupported reports a valid but unsupported format variant,
	// e.g. a big-endian object or an unknown ELF class.
	ErrUnsupported = errors.New("unsupported ELF variant")
)

// ErrSectionNotFound reports a section that is absent from the object.
type ErrSectionNotFound struct {
	Name string
}

func (err *ErrSectionNotFound) Error() string {
	return fmt.Sprintf("could not find ELF section %q", err.Name)
}

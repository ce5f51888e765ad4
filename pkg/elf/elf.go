// Package elf reads ELF objects through a memory mapped, bounds-checked
// view. It decodes the pieces symbolization needs: the header, program
// headers, sections by name, and the symbol tables. Section payloads are
// handed out as borrowed slices into the mapping; they stay valid until
// the File is closed.
package elf

import (
	stdelf "debug/elf"
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	ehdrSize32 = 52
	ehdrSize64 = 64
	phdrSize32 = 32
	phdrSize64 = 56
	shdrSize32 = 40
	shdrSize64 = 64
	symSize32  = 16
	symSize64  = 24
)

// Prog is a decoded program header.
type Prog struct {
	Type   stdelf.ProgType
	Flags  stdelf.ProgFlag
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// Section is a decoded section header.
type Section struct {
	Name    string
	Type    stdelf.SectionType
	Flags   uint64
	Addr    uint64
	Offset  uint64
	Size    uint64
	Link    uint32
	Entsize uint64
}

// File is an open ELF object.
type File struct {
	path  string
	mm    *Mmap
	order binary.ByteOrder

	Class   stdelf.Class
	Type    stdelf.Type
	Machine stdelf.Machine
	Entry   uint64

	progs    []Prog
	sections []Section

	symsOnce sync.Once
	syms     []Sym
	symsErr  error
}

// Open maps and decodes the ELF object at path. The header, program
// headers and section headers are decoded eagerly; symbol tables are
// decoded on first use.
func Open(path string) (*File, error) {
	mm, err := OpenMmap(path)
	if err != nil {
		return nil, err
	}
	f := &File{path: path, mm: mm}
	if err := f.parseHeader(); err != nil {
		mm.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func (f *File) Close() error {
	return f.mm.Close()
}

// Path returns the file path the object was opened from.
func (f *File) Path() string {
	return f.path
}

// ByteOrder returns the data encoding declared in the ELF identification.
func (f *File) ByteOrder() binary.ByteOrder {
	return f.order
}

func (f *File) parseHeader() error {
	ident, err := f.mm.Bytes(0, stdelf.EI_NIDENT)
	if err != nil {
		return err
	}
	if ident[0] != '\x7f' || ident[1] != 'E' || ident[2] != 'L' || ident[3] != 'F' {
		return fmt.Errorf("bad magic %x: %w", ident[:4], ErrMalformed)
	}

	f.Class = stdelf.Class(ident[stdelf.EI_CLASS])
	switch f.Class {
	case stdelf.ELFCLASS32, stdelf.ELFCLASS64:
	default:
		return fmt.Errorf("class %s: %w", f.Class, ErrUnsupported)
	}

	switch stdelf.Data(ident[stdelf.EI_DATA]) {
	case stdelf.ELFDATA2LSB:
		f.order = binary.LittleEndian
	case stdelf.ELFDATA2MSB:
		return fmt.Errorf("big-endian objects: %w", ErrUnsupported)
	default:
		return fmt.Errorf("data encoding %#x: %w", ident[stdelf.EI_DATA], ErrMalformed)
	}

	ehdrSize := uint64(ehdrSize64)
	if f.Class == stdelf.ELFCLASS32 {
		ehdrSize = ehdrSize32
	}
	hdr, err := f.mm.Bytes(0, ehdrSize)
	if err != nil {
		return err
	}
	r := NewReader(hdr, f.order)
	r.Seek(stdelf.EI_NIDENT)

	var phoff, shoff uint64
	var phentsize, phnum, shentsize, shnum, shstrndx uint16
	typ, _ := r.U16()
	machine, _ := r.U16()
	r.Skip(4) // e_version
	f.Type = stdelf.Type(typ)
	f.Machine = stdelf.Machine(machine)
	if f.Class == stdelf.ELFCLASS64 {
		f.Entry, _ = r.U64()
		phoff, _ = r.U64()
		shoff, _ = r.U64()
	} else {
		e, _ := r.U32()
		p, _ := r.U32()
		s, _ := r.U32()
		f.Entry, phoff, shoff = uint64(e), uint64(p), uint64(s)
	}
	r.Skip(4) // e_flags
	r.Skip(2) // e_ehsize
	phentsize, _ = r.U16()
	phnum, _ = r.U16()
	shentsize, _ = r.U16()
	shnum, _ = r.U16()
	shstrndx, err = r.U16()
	if err != nil {
		return err
	}

	if err := f.parseProgs(phoff, phentsize, phnum); err != nil {
		return err
	}
	return f.parseSections(shoff, shentsize, shnum, shstrndx)
}

func (f *File) parseProgs(phoff uint64, phentsize, phnum uint16) error {
	want := uint16(phdrSize64)
	if f.Class == stdelf.ELFCLASS32 {
		want = phdrSize32
	}
	if phnum == 0 {
		return nil
	}
	if phentsize < want {
		return fmt.Errorf("e_phentsize %d below %d: %w", phentsize, want, ErrMalformed)
	}
	data, err := f.mm.Bytes(phoff, uint64(phentsize)*uint64(phnum))
	if err != nil {
		return fmt.Errorf("program header table: %w", err)
	}
	f.progs = make([]Prog, phnum)
	for i := range f.progs {
		r := NewReader(data[uint64(i)*uint64(phentsize):], f.order)
		p := &f.progs[i]
		typ, _ := r.U32()
		p.Type = stdelf.ProgType(typ)
		if f.Class == stdelf.ELFCLASS64 {
			flags, _ := r.U32()
			p.Flags = stdelf.ProgFlag(flags)
			p.Off, _ = r.U64()
			p.Vaddr, _ = r.U64()
			p.Paddr, _ = r.U64()
			p.Filesz, _ = r.U64()
			p.Memsz, _ = r.U64()
			p.Align, _ = r.U64()
		} else {
			off, _ := r.U32()
			vaddr, _ := r.U32()
			paddr, _ := r.U32()
			filesz, _ := r.U32()
			memsz, _ := r.U32()
			flags, _ := r.U32()
			align, _ := r.U32()
			p.Off, p.Vaddr, p.Paddr = uint64(off), uint64(vaddr), uint64(paddr)
			p.Filesz, p.Memsz, p.Align = uint64(filesz), uint64(memsz), uint64(align)
			p.Flags = stdelf.ProgFlag(flags)
		}
	}
	return nil
}

func (f *File) parseSections(shoff uint64, shentsize, shnum, shstrndx uint16) error {
	want := uint16(shdrSize64)
	if f.Class == stdelf.ELFCLASS32 {
		want = shdrSize32
	}
	if shnum == 0 {
		return nil
	}
	if shentsize < want {
		return fmt.Errorf("e_shentsize %d below %d: %w", shentsize, want, ErrMalformed)
	}
	data, err := f.mm.Bytes(shoff, uint64(shentsize)*uint64(shnum))
	if err != nil {
		return fmt.Errorf("section header table: %w", err)
	}

	type rawShdr struct {
		name uint32
		sec  Section
	}
	raw := make([]rawShdr, shnum)
	for i := range raw {
		r := NewReader(data[uint64(i)*uint64(shentsize):], f.order)
		s := &raw[i]
		s.name, _ = r.U32()
		typ, _ := r.U32()
		s.sec.Type = stdelf.SectionType(typ)
		if f.Class == stdelf.ELFCLASS64 {
			s.sec.Flags, _ = r.U64()
			s.sec.Addr, _ = r.U64()
			s.sec.Offset, _ = r.U64()
			s.sec.Size, _ = r.U64()
			s.sec.Link, _ = r.U32()
			r.Skip(4) // sh_info
			r.Skip(8) // sh_addralign
			s.sec.Entsize, _ = r.U64()
		} else {
			flags, _ := r.U32()
			addr, _ := r.U32()
			off, _ := r.U32()
			size, _ := r.U32()
			s.sec.Flags = uint64(flags)
			s.sec.Addr, s.sec.Offset, s.sec.Size = uint64(addr), uint64(off), uint64(size)
			s.sec.Link, _ = r.U32()
			r.Skip(4) // sh_info
			r.Skip(4) // sh_addralign
			entsize, _ := r.U32()
			s.sec.Entsize = uint64(entsize)
		}
	}

	if int(shstrndx) >= len(raw) {
		return fmt.Errorf("e_shstrndx %d out of %d sections: %w", shstrndx, len(raw), ErrMalformed)
	}
	strsec := raw[shstrndx].sec
	shstrtab, err := f.mm.Bytes(strsec.Offset, strsec.Size)
	if err != nil {
		return fmt.Errorf("section name table: %w", err)
	}

	f.sections = make([]Section, shnum)
	for i := range raw {
		name, ok := extractString(shstrtab, uint64(raw[i].name))
		if !ok {
			return fmt.Errorf("section %d name offset %#x: %w", i, raw[i].name, ErrMalformed)
		}
		f.sections[i] = raw[i].sec
		f.sections[i].Name = name
	}
	return nil
}

// Progs returns the decoded program header table.
func (f *File) Progs() []Prog {
	return f.progs
}

// Sections returns the decoded section header table.
func (f *File) Sections() []Section {
	return f.sections
}

// Section returns the first section with the given name, or nil.
func (f *File) Section(name string) *Section {
	for i := range f.sections {
		if f.sections[i].Name == name {
			return &f.sections[i]
		}
	}
	return nil
}

// SectionData returns the payload of a section as a borrowed slice.
// SHT_NOBITS sections have no file payload and yield nil.
func (f *File) SectionData(s *Section) ([]byte, error) {
	if s.Type == stdelf.SHT_NOBITS {
		return nil, nil
	}
	data, err := f.mm.Bytes(s.Offset, s.Size)
	if err != nil {
		return nil, fmt.Errorf("section %s: %w", s.Name, err)
	}
	return data, nil
}

// SectionDataByName returns the payload of the named section, or a
// *ErrSectionNotFound error if the object has no such section.
func (f *File) SectionDataByName(name string) ([]byte, error) {
	s := f.Section(name)
	if s == nil {
		return nil, &ErrSectionNotFound{Name: name}
	}
	return f.SectionData(s)
}

// VaddrToFileOff translates a virtual address within the object into a
// file offset using the PT_LOAD program headers.
func (f *File) VaddrToFileOff(vaddr uint64) (uint64, bool) {
	for i := range f.progs {
		p := &f.progs[i]
		if p.Type != stdelf.PT_LOAD {
			continue
		}
		if vaddr >= p.Vaddr && vaddr < p.Vaddr+p.Filesz {
			return vaddr - p.Vaddr + p.Off, true
		}
	}
	return 0, false
}

// CoversVaddr reports whether the virtual address falls inside some
// PT_LOAD segment of the object.
func (f *File) CoversVaddr(vaddr uint64) bool {
	for i := range f.progs {
		p := &f.progs[i]
		if p.Type == stdelf.PT_LOAD && vaddr >= p.Vaddr && vaddr < p.Vaddr+p.Memsz {
			return true
		}
	}
	return false
}

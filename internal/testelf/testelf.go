// Package testelf builds small synthetic ELF images in memory for
// tests. The images are bit-exact little-endian ELF64 files with real
// section header tables, symbol tables and, when asked for, DWARF
// debug sections.
package testelf

import (
	"bytes"
	"encoding/binary"
)

// Section kinds used by the builder.
const (
	shtProgbits = 1
	shtSymtab   = 2
	shtStrtab   = 3
	shtDynsym   = 11
)

// Symbol is one symbol table entry to emit.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
	Info  byte
	Shndx uint16
}

// Func returns a global function symbol bound to section 1.
func Func(name string, value, size uint64) Symbol {
	return Symbol{Name: name, Value: value, Size: size, Info: 0x12, Shndx: 1}
}

// Object returns a global object symbol bound to section 1.
func Object(name string, value, size uint64) Symbol {
	return Symbol{Name: name, Value: value, Size: size, Info: 0x11, Shndx: 1}
}

// Undef returns an undefined symbol; parsers must drop it.
func Undef(name string) Symbol {
	return Symbol{Name: name, Info: 0x12, Shndx: 0}
}

// Prog is one program header to emit.
type Prog struct {
	Type   uint32
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Filesz uint64
	Memsz  uint64
}

// Load returns an executable PT_LOAD segment.
func Load(vaddr, memsz, off uint64) Prog {
	return Prog{Type: 1, Flags: 5, Off: off, Vaddr: vaddr, Filesz: memsz, Memsz: memsz}
}

// Section is an extra section to emit, e.g. a .debug_* payload.
type Section struct {
	Name string
	Data []byte
}

// Builder assembles one ELF image.
type Builder struct {
	// Type is the e_type field; ET_DYN by default.
	Type     uint16
	Progs    []Prog
	Symtab   []Symbol
	Dynsym   []Symbol
	Sections []Section
}

const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
	symSize  = 24
)

type strtab struct {
	buf  bytes.Buffer
	offs map[string]uint32
}

func newStrtab() *strtab {
	st := &strtab{offs: map[string]uint32{"": 0}}
	st.buf.WriteByte(0)
	return st
}

func (st *strtab) add(s string) uint32 {
	if off, ok := st.offs[s]; ok {
		return off
	}
	off := uint32(st.buf.Len())
	st.buf.WriteString(s)
	st.buf.WriteByte(0)
	st.offs[s] = off
	return off
}

type outSection struct {
	name    string
	typ     uint32
	off     uint64
	size    uint64
	link    uint32
	entsize uint64
	data    []byte
}

// Build lays out and serializes the image.
func (b *Builder) Build() []byte {
	typ := b.Type
	if typ == 0 {
		typ = 3 // ET_DYN
	}

	var sections []outSection
	sections = append(sections, outSection{}) // SHN_UNDEF

	for _, s := range b.Sections {
		sections = append(sections, outSection{name: s.Name, typ: shtProgbits, data: s.Data})
	}

	addSymtab := func(name, strName string, typ uint32, syms []Symbol) {
		if len(syms) == 0 {
			return
		}
		st := newStrtab()
		var buf bytes.Buffer
		// Leading null entry, as produced by every linker.
		buf.Write(make([]byte, symSize))
		for _, sym := range syms {
			var entry [symSize]byte
			binary.LittleEndian.PutUint32(entry[0:], st.add(sym.Name))
			entry[4] = sym.Info
			binary.LittleEndian.PutUint16(entry[6:], sym.Shndx)
			binary.LittleEndian.PutUint64(entry[8:], sym.Value)
			binary.LittleEndian.PutUint64(entry[16:], sym.Size)
			buf.Write(entry[:])
		}
		link := uint32(len(sections) + 1) // the string table follows
		sections = append(sections, outSection{name: name, typ: typ, data: buf.Bytes(), link: link, entsize: symSize})
		sections = append(sections, outSection{name: strName, typ: shtStrtab, data: st.buf.Bytes()})
	}
	addSymtab(".symtab", ".strtab", shtSymtab, b.Symtab)
	addSymtab(".dynsym", ".dynstr", shtDynsym, b.Dynsym)

	shstrtab := newStrtab()
	for i := range sections {
		shstrtab.add(sections[i].name)
	}
	shstrtab.add(".shstrtab")
	shstrndx := len(sections)
	sections = append(sections, outSection{name: ".shstrtab", typ: shtStrtab, data: shstrtab.buf.Bytes()})

	// Layout: ehdr, phdrs, section payloads, shdr table.
	off := uint64(ehdrSize + phdrSize*len(b.Progs))
	for i := range sections {
		if len(sections[i].data) == 0 {
			continue
		}
		sections[i].off = off
		sections[i].size = uint64(len(sections[i].data))
		off += sections[i].size
	}
	shoff := off

	var out bytes.Buffer
	// ELF header.
	ident := [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1}
	out.Write(ident[:])
	le := binary.LittleEndian
	w16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); out.Write(b[:]) }
	w32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); out.Write(b[:]) }
	w64 := func(v uint64) { var b [8]byte; le.PutUint64(b[:], v); out.Write(b[:]) }

	w16(typ)
	w16(0x3e) // EM_X86_64
	w32(1)
	w64(0) // e_entry
	if len(b.Progs) > 0 {
		w64(ehdrSize)
	} else {
		w64(0)
	}
	w64(shoff)
	w32(0)        // e_flags
	w16(ehdrSize) // e_ehsize
	w16(phdrSize)
	w16(uint16(len(b.Progs)))
	w16(shdrSize)
	w16(uint16(len(sections)))
	w16(uint16(shstrndx))

	// Program headers.
	for _, p := range b.Progs {
		w32(p.Type)
		w32(p.Flags)
		w64(p.Off)
		w64(p.Vaddr)
		w64(p.Vaddr) // p_paddr
		w64(p.Filesz)
		w64(p.Memsz)
		w64(0x1000) // p_align
	}

	// Section payloads.
	for i := range sections {
		out.Write(sections[i].data)
	}

	// Section headers.
	for i := range sections {
		w32(shstrtab.add(sections[i].name))
		w32(sections[i].typ)
		w64(0) // sh_flags
		w64(0) // sh_addr
		w64(sections[i].off)
		w64(sections[i].size)
		w32(sections[i].link)
		w32(0) // sh_info
		w64(0) // sh_addralign
		w64(sections[i].entsize)
	}

	return out.Bytes()
}

package elf

import (
	stdelf "debug/elf"
	"fmt"
	"sort"
)

// Sym is one decoded symbol table entry.
type Sym struct {
	Name  string
	Value uint64
	Size  uint64
	Info  byte
	Shndx uint16
}

// Type returns the symbol type nibble of st_info.
func (s *Sym) Type() stdelf.SymType {
	return stdelf.ST_TYPE(s.Info)
}

// Symbols returns the merged contents of .symtab and .dynsym, sorted by
// value. When both tables define a symbol at the same address the
// .symtab entry wins. Undefined symbols and zero-sized non-function
// symbols are excluded. The result is memoized.
func (f *File) Symbols() ([]Sym, error) {
	f.symsOnce.Do(func() {
		f.syms, f.symsErr = f.parseSymbols()
	})
	return f.syms, f.symsErr
}

func (f *File) parseSymbols() ([]Sym, error) {
	symtab, err := f.readSymTable(".symtab", ".strtab")
	if err != nil {
		return nil, err
	}
	dynsym, err := f.readSymTable(".dynsym", ".dynstr")
	if err != nil {
		return nil, err
	}

	// .symtab is the richer table; drop .dynsym duplicates by address.
	taken := make(map[uint64]bool, len(symtab))
	for i := range symtab {
		taken[symtab[i].Value] = true
	}
	merged := symtab
	for i := range dynsym {
		if !taken[dynsym[i].Value] {
			merged = append(merged, dynsym[i])
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Value != merged[j].Value {
			return merged[i].Value < merged[j].Value
		}
		return merged[i].Size > merged[j].Size
	})
	return merged, nil
}

// readSymTable decodes one symbol table section against its string
// table. A missing section yields no symbols and no error.
func (f *File) readSymTable(symSection, strSection string) ([]Sym, error) {
	sec := f.Section(symSection)
	if sec == nil {
		return nil, nil
	}
	data, err := f.SectionData(sec)
	if err != nil {
		return nil, err
	}
	strtab, err := f.SectionDataByName(strSection)
	if err != nil {
		if _, ok := err.(*ErrSectionNotFound); ok {
			return nil, fmt.Errorf("%s without %s: %w", symSection, strSection, ErrMalformed)
		}
		return nil, err
	}

	entsize := uint64(symSize64)
	if f.Class == stdelf.ELFCLASS32 {
		entsize = symSize32
	}
	if uint64(len(data))%entsize != 0 {
		return nil, fmt.Errorf("%s size %d not a multiple of %d: %w", symSection, len(data), entsize, ErrMalformed)
	}

	count := uint64(len(data)) / entsize
	syms := make([]Sym, 0, count)
	for i := uint64(0); i < count; i++ {
		r := NewReader(data[i*entsize:(i+1)*entsize], f.order)
		var s Sym
		var nameOff uint32
		if f.Class == stdelf.ELFCLASS64 {
			nameOff, _ = r.U32()
			s.Info, _ = r.U8()
			r.Skip(1) // st_other
			s.Shndx, _ = r.U16()
			s.Value, _ = r.U64()
			s.Size, _ = r.U64()
		} else {
			nameOff, _ = r.U32()
			value, _ := r.U32()
			size, _ := r.U32()
			s.Info, _ = r.U8()
			r.Skip(1) // st_other
			s.Shndx, _ = r.U16()
			s.Value, s.Size = uint64(value), uint64(size)
		}

		if s.Shndx == uint16(stdelf.SHN_UNDEF) {
			continue
		}
		if s.Size == 0 && s.Type() != stdelf.STT_FUNC {
			continue
		}
		name, ok := extractString(strtab, uint64(nameOff))
		if !ok {
			return nil, fmt.Errorf("%s entry %d name offset %#x: %w", symSection, i, nameOff, ErrMalformed)
		}
		if name == "" {
			continue
		}
		s.Name = name
		syms = append(syms, s)
	}
	return syms, nil
}

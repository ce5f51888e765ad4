package dwarf

import (
	"fmt"

	"github.com/ThinkerYzu1/blazesym/pkg/elf"
)

// refVal is a reference attribute resolved to a global .debug_info offset.
type refVal uint64

// strxVal is an unresolved index into the unit's string offsets table.
type strxVal uint64

// rnglistxVal is an unresolved index into the unit's range lists table.
type rnglistxVal uint64

type attrValue struct {
	attr Attr
	form form
	val  interface{}
}

// DIE is a decoded debugging information entry.
type DIE struct {
	// Off is the entry's offset within .debug_info.
	Off uint64
	// Tag identifies what the entry describes.
	Tag Tag
	// Children holds the entry's children in file order.
	Children []*DIE

	attrs []attrValue
}

func (die *DIE) lookup(attr Attr) (attrValue, bool) {
	for i := range die.attrs {
		if die.attrs[i].attr == attr {
			return die.attrs[i], true
		}
	}
	return attrValue{}, false
}

// Root returns the unit's root DIE, decoding the unit's DIE tree on
// first use.
func (u *Unit) Root() (*DIE, error) {
	u.dieOnce.Do(func() {
		u.dieErr = u.decodeDIEs()
	})
	if u.dieErr != nil {
		return nil, u.dieErr
	}
	return u.root, nil
}

// DIEAt returns the DIE at a global .debug_info offset inside this unit.
func (u *Unit) DIEAt(off uint64) (*DIE, error) {
	if _, err := u.Root(); err != nil {
		return nil, err
	}
	die, ok := u.byOff[off]
	if !ok {
		return nil, fmt.Errorf("no DIE at offset %#x: %w", off, ErrMalformed)
	}
	return die, nil
}

// dieAtGlobal resolves a global .debug_info offset to its DIE and
// owning unit.
func (d *Data) dieAtGlobal(off uint64) (*DIE, *Unit, error) {
	for _, u := range d.units {
		if off >= u.off && off < u.end {
			die, err := u.DIEAt(off)
			return die, u, err
		}
	}
	return nil, nil, fmt.Errorf("offset %#x outside every unit: %w", off, ErrMalformed)
}

func (u *Unit) decodeDIEs() error {
	table, err := u.d.abbrevTableAt(u.abbrevOff)
	if err != nil {
		return err
	}

	r := elf.NewReader(u.d.sec.Info, u.d.sec.Order)
	if err := r.Seek(u.dieOff); err != nil {
		return err
	}

	u.byOff = make(map[uint64]*DIE)
	var stack []*DIE
	for r.Offset() < u.end {
		off := r.Offset()
		code, err := r.Uleb128()
		if err != nil {
			return err
		}
		if code == 0 {
			// Null entry terminates a sibling chain.
			if len(stack) == 0 {
				break
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				break
			}
			continue
		}
		decl, ok := table[code]
		if !ok {
			return fmt.Errorf("DIE at %#x uses unknown abbreviation %d: %w", off, code, ErrMalformed)
		}

		die := &DIE{Off: off, Tag: decl.tag}
		if len(decl.specs) > 0 {
			die.attrs = make([]attrValue, 0, len(decl.specs))
		}
		for _, spec := range decl.specs {
			val, err := u.readForm(r, spec, spec.form)
			if err != nil {
				return err
			}
			die.attrs = append(die.attrs, attrValue{attr: spec.attr, form: spec.form, val: val})
		}
		u.byOff[off] = die

		if len(stack) == 0 {
			if u.root != nil {
				return fmt.Errorf("unit at %#x has multiple root DIEs: %w", u.off, ErrMalformed)
			}
			u.root = die
		} else {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, die)
		}
		if decl.children {
			stack = append(stack, die)
		} else if len(stack) == 0 {
			break
		}
	}
	if u.root == nil {
		return fmt.Errorf("unit at %#x has no root DIE: %w", u.off, ErrMalformed)
	}

	u.initBases()
	return nil
}

// initBases picks up the string-offsets and range-lists bases from the
// root DIE. When a DWARF 5 producer omits the string-offsets base the
// table header size is assumed, which is where the first table's entries
// start. An omitted range-lists base stays 0, and DW_FORM_rnglistx
// lookups then fail with ErrUnsupported.
func (u *Unit) initBases() {
	// Header sizes of .debug_str_offsets in the 32- and 64-bit formats.
	u.strOffBase = 8
	if u.is64 {
		u.strOffBase = 16
	}
	u.rngBase = 0
	for _, av := range u.root.attrs {
		switch av.attr {
		case AttrStrOffsetsBase:
			if v, ok := av.val.(uint64); ok {
				u.strOffBase = v
			}
		case AttrRnglistsBase:
			if v, ok := av.val.(uint64); ok {
				u.rngBase = v
			}
		}
	}
}

func (u *Unit) offSize() int {
	if u.is64 {
		return 8
	}
	return 4
}

// readForm decodes one attribute value. Forms that need sections this
// reader does not carry (e.g. .debug_addr) are consumed and yield nil so
// sibling attributes keep decoding.
func (u *Unit) readForm(r *elf.Reader, spec abbrevSpec, f form) (interface{}, error) {
	switch f {
	case formAddr:
		return r.Uint(u.addrSize)
	case formData1:
		v, err := r.U8()
		return uint64(v), err
	case formData2:
		v, err := r.U16()
		return uint64(v), err
	case formData4:
		v, err := r.U32()
		return uint64(v), err
	case formData8:
		return r.U64()
	case formData16:
		b, err := r.Bytes(16)
		return b, err
	case formUdata:
		return r.Uleb128()
	case formSdata:
		return r.Sleb128()
	case formString:
		return r.CString()
	case formStrp:
		off, err := r.Uint(u.offSize())
		if err != nil {
			return nil, err
		}
		return stringAt(u.d.sec.Str, off)
	case formLineStrp:
		off, err := r.Uint(u.offSize())
		if err != nil {
			return nil, err
		}
		return stringAt(u.d.sec.LineStr, off)
	case formStrx:
		v, err := r.Uleb128()
		return strxVal(v), err
	case formStrx1:
		v, err := r.U8()
		return strxVal(v), err
	case formStrx2:
		v, err := r.U16()
		return strxVal(v), err
	case formStrx3:
		b, err := r.Bytes(3)
		if err != nil {
			return nil, err
		}
		return strxVal(uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16), nil
	case formStrx4:
		v, err := r.U32()
		return strxVal(v), err
	case formSecOffset:
		return r.Uint(u.offSize())
	case formFlag:
		v, err := r.U8()
		return v != 0, err
	case formFlagPresent:
		return true, nil
	case formImplicitConst:
		return spec.implicitConst, nil
	case formRef1:
		v, err := r.U8()
		return refVal(u.off + uint64(v)), err
	case formRef2:
		v, err := r.U16()
		return refVal(u.off + uint64(v)), err
	case formRef4:
		v, err := r.U32()
		return refVal(u.off + uint64(v)), err
	case formRef8:
		v, err := r.U64()
		return refVal(u.off + v), err
	case formRefUdata:
		v, err := r.Uleb128()
		return refVal(u.off + v), err
	case formRefAddr:
		// DWARF 2 encoded this with the address size; later versions
		// use the offset size.
		size := u.offSize()
		if u.version == 2 {
			size = u.addrSize
		}
		v, err := r.Uint(size)
		return refVal(v), err
	case formRefSig8:
		_, err := r.U64()
		return nil, err
	case formRefSup4, formStrpSup:
		_, err := r.U32()
		if f == formStrpSup && u.offSize() == 8 {
			_, err = r.U32()
		}
		return nil, err
	case formRefSup8:
		_, err := r.U64()
		return nil, err
	case formAddrx:
		_, err := r.Uleb128()
		return nil, err
	case formAddrx1:
		_, err := r.Bytes(1)
		return nil, err
	case formAddrx2:
		_, err := r.Bytes(2)
		return nil, err
	case formAddrx3:
		_, err := r.Bytes(3)
		return nil, err
	case formAddrx4:
		_, err := r.Bytes(4)
		return nil, err
	case formBlock1:
		n, err := r.U8()
		if err != nil {
			return nil, err
		}
		return r.Bytes(uint64(n))
	case formBlock2:
		n, err := r.U16()
		if err != nil {
			return nil, err
		}
		return r.Bytes(uint64(n))
	case formBlock4:
		n, err := r.U32()
		if err != nil {
			return nil, err
		}
		return r.Bytes(uint64(n))
	case formBlock, formExprloc:
		n, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		return r.Bytes(n)
	case formLoclistx:
		v, err := r.Uleb128()
		return v, err
	case formRnglistx:
		v, err := r.Uleb128()
		return rnglistxVal(v), err
	case formIndirect:
		real, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		if form(real) == formIndirect {
			return nil, fmt.Errorf("nested DW_FORM_indirect: %w", ErrMalformed)
		}
		return u.readForm(r, spec, form(real))
	default:
		return nil, fmt.Errorf("attribute form %#x: %w", uint32(f), ErrUnsupported)
	}
}

func stringAt(table []byte, off uint64) (string, error) {
	if off >= uint64(len(table)) {
		return "", fmt.Errorf("string offset %#x beyond table: %w", off, ErrMalformed)
	}
	for i := off; i < uint64(len(table)); i++ {
		if table[i] == 0 {
			return string(table[off:i]), nil
		}
	}
	return "", fmt.Errorf("unterminated string at %#x: %w", off, ErrMalformed)
}

// AttrUint returns an unsigned constant or address attribute.
func (u *Unit) AttrUint(die *DIE, attr Attr) (uint64, bool) {
	av, ok := die.lookup(attr)
	if !ok {
		return 0, false
	}
	switch v := av.val.(type) {
	case uint64:
		return v, true
	case int64:
		return uint64(v), true
	}
	return 0, false
}

// AttrInt returns a signed constant attribute.
func (u *Unit) AttrInt(die *DIE, attr Attr) (int64, bool) {
	av, ok := die.lookup(attr)
	if !ok {
		return 0, false
	}
	switch v := av.val.(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	}
	return 0, false
}

// AttrString returns a string attribute, resolving indirect string
// indices through .debug_str_offsets.
func (u *Unit) AttrString(die *DIE, attr Attr) (string, bool) {
	av, ok := die.lookup(attr)
	if !ok {
		return "", false
	}
	switch v := av.val.(type) {
	case string:
		return v, true
	case strxVal:
		s, err := u.resolveStrx(uint64(v))
		if err != nil {
			return "", false
		}
		return s, true
	}
	return "", false
}

// AttrRef returns a reference attribute as a global .debug_info offset.
func (u *Unit) AttrRef(die *DIE, attr Attr) (uint64, bool) {
	av, ok := die.lookup(attr)
	if !ok {
		return 0, false
	}
	if v, ok := av.val.(refVal); ok {
		return uint64(v), true
	}
	return 0, false
}

// AttrFlag returns a boolean attribute, false when absent.
func (u *Unit) AttrFlag(die *DIE, attr Attr) bool {
	av, ok := die.lookup(attr)
	if !ok {
		return false
	}
	v, _ := av.val.(bool)
	return v
}

func (u *Unit) resolveStrx(index uint64) (string, error) {
	tab := u.d.sec.StrOffsets
	if tab == nil {
		return "", fmt.Errorf("strx without .debug_str_offsets: %w", ErrMalformed)
	}
	entry := u.strOffBase + index*uint64(u.offSize())
	r := elf.NewReader(tab, u.d.sec.Order)
	if err := r.Seek(entry); err != nil {
		return "", err
	}
	off, err := r.Uint(u.offSize())
	if err != nil {
		return "", err
	}
	return stringAt(u.d.sec.Str, off)
}

// LowHighPC returns the DIE's [low, high) interval from DW_AT_low_pc
// and DW_AT_high_pc. A high PC of constant class is an offset from the
// low PC.
func (u *Unit) LowHighPC(die *DIE) (PCRange, bool) {
	low, ok := u.AttrUint(die, AttrLowPC)
	if !ok {
		return PCRange{}, false
	}
	av, ok := die.lookup(AttrHighPC)
	if !ok {
		return PCRange{}, false
	}
	high, ok := av.val.(uint64)
	if !ok {
		if s, sok := av.val.(int64); sok {
			high, ok = uint64(s), true
		}
	}
	if !ok {
		return PCRange{}, false
	}
	if av.form != formAddr {
		high += low
	}
	return PCRange{Low: low, High: high}, true
}

// DIERanges returns the address intervals covered by a DIE, from either
// the low/high PC pair or the DIE's range list.
func (u *Unit) DIERanges(die *DIE) ([]PCRange, error) {
	if rng, ok := u.LowHighPC(die); ok {
		return []PCRange{rng}, nil
	}
	av, ok := die.lookup(AttrRanges)
	if !ok {
		// A lone low PC describes a single-address entry.
		if low, ok := u.AttrUint(die, AttrLowPC); ok && die.Tag != TagCompileUnit {
			return []PCRange{{Low: low, High: low + 1}}, nil
		}
		return nil, nil
	}
	switch v := av.val.(type) {
	case uint64:
		if u.version >= 5 {
			return u.parseRnglist(v)
		}
		return u.parseRanges(v)
	case rnglistxVal:
		return u.parseRnglistx(uint64(v))
	}
	return nil, nil
}

// baseAddress returns the unit's base address for range list entries.
func (u *Unit) baseAddress() uint64 {
	if u.root == nil {
		return 0
	}
	low, _ := u.AttrUint(u.root, AttrLowPC)
	return low
}

// parseRanges decodes a DWARF 2-4 .debug_ranges list at off.
func (u *Unit) parseRanges(off uint64) ([]PCRange, error) {
	if u.d.sec.Ranges == nil {
		return nil, fmt.Errorf("DW_AT_ranges without .debug_ranges: %w", ErrMalformed)
	}
	r := elf.NewReader(u.d.sec.Ranges, u.d.sec.Order)
	if err := r.Seek(off); err != nil {
		return nil, err
	}

	base := u.baseAddress()
	maxAddr := ^uint64(0) >> (64 - 8*uint(u.addrSize))
	var ranges []PCRange
	for {
		begin, err := r.Uint(u.addrSize)
		if err != nil {
			return nil, err
		}
		end, err := r.Uint(u.addrSize)
		if err != nil {
			return nil, err
		}
		if begin == 0 && end == 0 {
			return ranges, nil
		}
		if begin == maxAddr {
			base = end
			continue
		}
		if end > begin {
			ranges = append(ranges, PCRange{Low: base + begin, High: base + end})
		}
	}
}

// parseRnglistx resolves a DW_FORM_rnglistx index through the unit's
// range-lists base.
func (u *Unit) parseRnglistx(index uint64) ([]PCRange, error) {
	if u.rngBase == 0 {
		return nil, fmt.Errorf("rnglistx without DW_AT_rnglists_base: %w", ErrUnsupported)
	}
	r := elf.NewReader(u.d.sec.Rnglists, u.d.sec.Order)
	if err := r.Seek(u.rngBase + index*uint64(u.offSize())); err != nil {
		return nil, err
	}
	off, err := r.Uint(u.offSize())
	if err != nil {
		return nil, err
	}
	return u.parseRnglist(u.rngBase + off)
}

// parseRnglist decodes a DWARF 5 .debug_rnglists list at off. Entry
// kinds needing .debug_addr are not supported.
func (u *Unit) parseRnglist(off uint64) ([]PCRange, error) {
	if u.d.sec.Rnglists == nil {
		return nil, fmt.Errorf("DW_AT_ranges without .debug_rnglists: %w", ErrMalformed)
	}
	r := elf.NewReader(u.d.sec.Rnglists, u.d.sec.Order)
	if err := r.Seek(off); err != nil {
		return nil, err
	}

	base := u.baseAddress()
	var ranges []PCRange
	for {
		kind, err := r.U8()
		if err != nil {
			return nil, err
		}
		switch kind {
		case rleEndOfList:
			return ranges, nil
		case rleBaseAddress:
			if base, err = r.Uint(u.addrSize); err != nil {
				return nil, err
			}
		case rleOffsetPair:
			begin, err := r.Uleb128()
			if err != nil {
				return nil, err
			}
			end, err := r.Uleb128()
			if err != nil {
				return nil, err
			}
			if end > begin {
				ranges = append(ranges, PCRange{Low: base + begin, High: base + end})
			}
		case rleStartEnd:
			begin, err := r.Uint(u.addrSize)
			if err != nil {
				return nil, err
			}
			end, err := r.Uint(u.addrSize)
			if err != nil {
				return nil, err
			}
			if end > begin {
				ranges = append(ranges, PCRange{Low: begin, High: end})
			}
		case rleStartLength:
			begin, err := r.Uint(u.addrSize)
			if err != nil {
				return nil, err
			}
			length, err := r.Uleb128()
			if err != nil {
				return nil, err
			}
			if length > 0 {
				ranges = append(ranges, PCRange{Low: begin, High: begin + length})
			}
		case rleBaseAddressx, rleStartxEndx, rleStartxLength:
			return nil, fmt.Errorf("range list entry kind %#x needs .debug_addr: %w", kind, ErrUnsupported)
		default:
			return nil, fmt.Errorf("range list entry kind %#x: %w", kind, ErrMalformed)
		}
	}
}

// RangesContain reports whether any of the DIE's ranges contain pc.
func (u *Unit) RangesContain(die *DIE, pc uint64) bool {
	ranges, err := u.DIERanges(die)
	if err != nil {
		return false
	}
	for _, rng := range ranges {
		if rng.Contains(pc) {
			return true
		}
	}
	return false
}

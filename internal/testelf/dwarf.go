package testelf

import (
	"bytes"
	"encoding/binary"
)

// Wr is a little-endian byte stream writer for composing DWARF section
// payloads by hand.
type Wr struct {
	bytes.Buffer
}

func (w *Wr) U8(v uint8)   { w.WriteByte(v) }
func (w *Wr) U16(v uint16) { var b [2]byte; binary.LittleEndian.PutUint16(b[:], v); w.Write(b[:]) }
func (w *Wr) U32(v uint32) { var b [4]byte; binary.LittleEndian.PutUint32(b[:], v); w.Write(b[:]) }
func (w *Wr) U64(v uint64) { var b [8]byte; binary.LittleEndian.PutUint64(b[:], v); w.Write(b[:]) }

func (w *Wr) Uleb(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func (w *Wr) Sleb(v int64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.WriteByte(b)
			return
		}
		w.WriteByte(b | 0x80)
	}
}

func (w *Wr) Cstr(s string) {
	w.WriteString(s)
	w.WriteByte(0)
}

// InlineScenario describes the canonical inline test image built by
// InlineDwarf: function outer spans [OuterLow, OuterHigh) with the body
// of inner inlined over [InnerLow, InnerHigh), called from
// CallFile:CallLine:CallColumn.
type InlineScenario struct {
	OuterLow   uint64
	OuterHigh  uint64
	InnerLow   uint64
	InnerHigh  uint64
	CallFile   string
	CallLine   uint32
	CallColumn uint32
	// InnerFile and InnerLine locate the inlined body's instructions.
	InnerFile   string
	InnerLine   uint32
	InnerColumn uint32
	// OuterFile and OuterBodyLine locate outer's own instructions.
	OuterFile     string
	OuterBodyLine uint32
}

// DefaultInlineScenario mirrors a CU compiled from /tmp/src.c where
// inner (defined in inner.c) was inlined into outer at src.c:42.
func DefaultInlineScenario() InlineScenario {
	return InlineScenario{
		OuterLow:      0x1000,
		OuterHigh:     0x1100,
		InnerLow:      0x1040,
		InnerHigh:     0x1060,
		CallFile:      "/tmp/src.c",
		CallLine:      42,
		CallColumn:    5,
		InnerFile:     "/tmp/inner.c",
		InnerLine:     101,
		InnerColumn:   7,
		OuterFile:     "/tmp/src.c",
		OuterBodyLine: 40,
	}
}

// InlineDwarf renders the scenario into DWARF 4 .debug_abbrev,
// .debug_info and .debug_line payloads.
func InlineDwarf(sc InlineScenario) (info, abbrev, line []byte) {
	// Abbreviations:
	//  1: compile_unit, has children: name, comp_dir, low_pc,
	//     high_pc (offset class), stmt_list
	//  2: subprogram, has children: name, low_pc, high_pc
	//  3: inlined_subroutine, no children: abstract_origin, low_pc,
	//     high_pc, call_file, call_line, call_column
	//  4: subprogram (abstract), no children: name, inline
	var ab Wr
	ab.Uleb(1)
	ab.Uleb(0x11) // DW_TAG_compile_unit
	ab.U8(1)
	for _, pair := range [][2]uint64{
		{0x03, 0x08}, // name, string
		{0x1b, 0x08}, // comp_dir, string
		{0x11, 0x01}, // low_pc, addr
		{0x12, 0x07}, // high_pc, data8
		{0x10, 0x17}, // stmt_list, sec_offset
	} {
		ab.Uleb(pair[0])
		ab.Uleb(pair[1])
	}
	ab.Uleb(0)
	ab.Uleb(0)

	ab.Uleb(2)
	ab.Uleb(0x2e) // DW_TAG_subprogram
	ab.U8(1)
	for _, pair := range [][2]uint64{
		{0x03, 0x08},
		{0x11, 0x01},
		{0x12, 0x07},
	} {
		ab.Uleb(pair[0])
		ab.Uleb(pair[1])
	}
	ab.Uleb(0)
	ab.Uleb(0)

	ab.Uleb(3)
	ab.Uleb(0x1d) // DW_TAG_inlined_subroutine
	ab.U8(0)
	for _, pair := range [][2]uint64{
		{0x31, 0x13}, // abstract_origin, ref4
		{0x11, 0x01},
		{0x12, 0x07},
		{0x58, 0x0b}, // call_file, data1
		{0x59, 0x0b}, // call_line, data1
		{0x57, 0x0b}, // call_column, data1
	} {
		ab.Uleb(pair[0])
		ab.Uleb(pair[1])
	}
	ab.Uleb(0)
	ab.Uleb(0)

	ab.Uleb(4)
	ab.Uleb(0x2e) // DW_TAG_subprogram (abstract instance)
	ab.U8(0)
	for _, pair := range [][2]uint64{
		{0x03, 0x08},
		{0x20, 0x0b}, // inline, data1
	} {
		ab.Uleb(pair[0])
		ab.Uleb(pair[1])
	}
	ab.Uleb(0)
	ab.Uleb(0)
	ab.Uleb(0) // end of abbreviations

	// .debug_info: the unit body is assembled first so the header's
	// length field can be computed.
	var body Wr
	body.U16(4) // version
	body.U32(0) // abbrev offset
	body.U8(8)  // address size

	// CU DIE.
	body.Uleb(1)
	body.Cstr("src.c")
	body.Cstr("/tmp")
	body.U64(sc.OuterLow)
	body.U64(0x1000) // high_pc as size
	body.U32(0)      // stmt_list

	// Abstract instance of inner. Its offset is referenced by the
	// inlined_subroutine below; headerExtra accounts for the 4-byte
	// initial length preceding the body.
	const headerExtra = 4
	abstractOff := uint32(body.Len() + headerExtra)
	body.Uleb(4)
	body.Cstr("inner")
	body.U8(1) // DW_INL_inlined

	// Concrete outer with the inlined call inside.
	body.Uleb(2)
	body.Cstr("outer")
	body.U64(sc.OuterLow)
	body.U64(sc.OuterHigh - sc.OuterLow)

	body.Uleb(3)
	body.U32(abstractOff)
	body.U64(sc.InnerLow)
	body.U64(sc.InnerHigh - sc.InnerLow)
	body.U8(1) // call_file: src.c
	body.U8(uint8(sc.CallLine))
	body.U8(uint8(sc.CallColumn))

	body.Uleb(0) // end of outer's children
	body.Uleb(0) // end of CU's children

	var infoW Wr
	infoW.U32(uint32(body.Len()))
	infoW.Write(body.Bytes())

	line = lineProgram(sc)
	return infoW.Bytes(), ab.Bytes(), line
}

// lineProgram renders a DWARF 4 line program with one sequence over
// outer: outer's body line, then the inlined body, then outer again.
func lineProgram(sc InlineScenario) []byte {
	var h Wr
	h.U16(4) // version

	var decls Wr
	decls.U8(1)  // minimum_instruction_length
	decls.U8(1)  // maximum_operations_per_instruction
	decls.U8(1)  // default_is_stmt
	decls.U8(0xfb) // line_base -5
	decls.U8(14) // line_range
	decls.U8(13) // opcode_base
	for _, n := range []uint8{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1} {
		decls.U8(n)
	}
	decls.U8(0) // no include directories
	// file 1: src.c, file 2: inner.c
	decls.Cstr("src.c")
	decls.Uleb(0)
	decls.Uleb(0)
	decls.Uleb(0)
	decls.Cstr("inner.c")
	decls.Uleb(0)
	decls.Uleb(0)
	decls.Uleb(0)
	decls.U8(0) // end of file table

	var prog Wr
	setAddress := func(addr uint64) {
		prog.U8(0)
		prog.Uleb(9)
		prog.U8(2) // DW_LNE_set_address
		prog.U64(addr)
	}
	advanceLine := func(delta int64) {
		prog.U8(3)
		prog.Sleb(delta)
	}
	advancePC := func(delta uint64) {
		prog.U8(2)
		prog.Uleb(delta)
	}
	setFile := func(file uint64) {
		prog.U8(4)
		prog.Uleb(file)
	}
	setColumn := func(col uint64) {
		prog.U8(5)
		prog.Uleb(col)
	}
	copyRow := func() {
		prog.U8(1)
	}

	setAddress(sc.OuterLow)
	advanceLine(int64(sc.OuterBodyLine) - 1)
	copyRow()

	setFile(2)
	setColumn(uint64(sc.InnerColumn))
	advanceLine(int64(sc.InnerLine) - int64(sc.OuterBodyLine))
	advancePC(sc.InnerLow - sc.OuterLow)
	copyRow()

	setFile(1)
	setColumn(0)
	advanceLine(int64(sc.OuterBodyLine) + 4 - int64(sc.InnerLine))
	advancePC(sc.InnerHigh - sc.InnerLow)
	copyRow()

	advancePC(sc.OuterHigh - sc.InnerHigh)
	prog.U8(0)
	prog.Uleb(1)
	prog.U8(1) // DW_LNE_end_sequence

	h.U32(uint32(decls.Len()))
	h.Write(decls.Bytes())
	h.Write(prog.Bytes())

	var out Wr
	out.U32(uint32(h.Len()))
	out.Write(h.Bytes())
	return out.Bytes()
}

// InlineImage wraps the scenario's DWARF payloads into a complete ELF
// image with a symbol table entry for outer.
func InlineImage(sc InlineScenario) []byte {
	info, abbrev, line := InlineDwarf(sc)
	b := Builder{
		Progs: []Prog{Load(sc.OuterLow, 0x1000, sc.OuterLow)},
		Symtab: []Symbol{
			Func("outer", sc.OuterLow, sc.OuterHigh-sc.OuterLow),
		},
		Sections: []Section{
			{Name: ".debug_info", Data: info},
			{Name: ".debug_abbrev", Data: abbrev},
			{Name: ".debug_line", Data: line},
		},
	}
	return b.Build()
}

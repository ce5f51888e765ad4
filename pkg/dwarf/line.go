package dwarf

import (
	"fmt"
	"path"
	"sort"

	"github.com/ThinkerYzu1/blazesym/pkg/elf"
)

// LineRow is one row of the decoded line-number matrix: the source
// coordinates of the instruction at Address. Line and Column are
// 1-based; 0 means unknown. An EndSequence row marks the address one
// past the end of a sequence and carries no source coordinates.
type LineRow struct {
	Address     uint64
	File        string
	Line        uint32
	Column      uint32
	IsStmt      bool
	EndSequence bool
}

// lineTable is the fully evaluated line program of one unit.
type lineTable struct {
	rows  []LineRow
	files []string
}

// LineForPC resolves pc against the unit's line table.
func (u *Unit) LineForPC(pc uint64) (LineRow, bool) {
	lt, err := u.lineTable()
	if err != nil || lt == nil {
		return LineRow{}, false
	}
	return lt.resolve(pc)
}

// FileName returns the line-table file at the given index, using the
// unit's file numbering (1-based before DWARF 5, 0-based after).
func (u *Unit) FileName(index uint64) (string, bool) {
	lt, err := u.lineTable()
	if err != nil || lt == nil {
		return "", false
	}
	return lt.fileName(index)
}

func (lt *lineTable) fileName(index uint64) (string, bool) {
	if index >= uint64(len(lt.files)) || lt.files[index] == "" {
		return "", false
	}
	return lt.files[index], true
}

// resolve returns the row with the greatest address at or below pc
// within pc's sequence. Addresses past the last row of a sequence fall
// into a hole and do not resolve.
func (lt *lineTable) resolve(pc uint64) (LineRow, bool) {
	idx := sort.Search(len(lt.rows), func(i int) bool {
		return lt.rows[i].Address > pc
	})
	if idx == 0 {
		return LineRow{}, false
	}
	row := lt.rows[idx-1]
	if row.EndSequence {
		return LineRow{}, false
	}
	return row, true
}

// coverage returns the address intervals spanned by the table's
// sequences.
func (lt *lineTable) coverage() []PCRange {
	var ranges []PCRange
	start := -1
	for i := range lt.rows {
		if start < 0 {
			start = i
		}
		if lt.rows[i].EndSequence {
			if lt.rows[i].Address > lt.rows[start].Address {
				ranges = append(ranges, PCRange{Low: lt.rows[start].Address, High: lt.rows[i].Address})
			}
			start = -1
		}
	}
	return ranges
}

func (u *Unit) lineTable() (*lineTable, error) {
	u.lineOnce.Do(func() {
		u.line, u.lineErr = u.evalLineProgram()
	})
	return u.line, u.lineErr
}

// lineHeader carries the decoded fields of a line-program header.
type lineHeader struct {
	version      int
	is64         bool
	addrSize     int
	minInst      uint64
	maxOps       uint64
	defaultStmt  bool
	lineBase     int64
	lineRange    uint64
	opcodeBase   uint64
	stdLengths   []uint8
	files        []string
	programOff   uint64
	end          uint64
}

// lineRegisters is the DWARF line-number state machine register file.
type lineRegisters struct {
	address       uint64
	opIndex       uint64
	file          uint64
	line          int64
	column        uint64
	isStmt        bool
	basicBlock    bool
	endSequence   bool
	prologueEnd   bool
	epilogueBegin bool
	isa           uint64
	discriminator uint64
}

func (regs *lineRegisters) reset(h *lineHeader) {
	*regs = lineRegisters{isStmt: h.defaultStmt, line: 1, file: 1}
}

func (u *Unit) evalLineProgram() (*lineTable, error) {
	root, err := u.Root()
	if err != nil {
		return nil, err
	}
	stmtList, ok := u.AttrUint(root, AttrStmtList)
	if !ok {
		return nil, nil
	}
	if u.d.sec.Line == nil {
		return nil, fmt.Errorf("DW_AT_stmt_list without .debug_line: %w", ErrMalformed)
	}

	r := elf.NewReader(u.d.sec.Line, u.d.sec.Order)
	if err := r.Seek(stmtList); err != nil {
		return nil, err
	}
	h, err := u.parseLineHeader(r)
	if err != nil {
		return nil, err
	}
	if err := r.Seek(h.programOff); err != nil {
		return nil, err
	}

	lt := &lineTable{files: h.files}
	var regs lineRegisters
	regs.reset(h)

	// One decoded sequence at a time; sequences are sorted by start
	// address before the table is flattened for binary search.
	var sequences [][]LineRow
	var seq []LineRow

	emit := func(endSequence bool) {
		row := LineRow{
			Address:     regs.address,
			Line:        clampU32(regs.line),
			Column:      clampU32(int64(regs.column)),
			IsStmt:      regs.isStmt,
			EndSequence: endSequence,
		}
		if !endSequence {
			row.File, _ = lt.fileName(regs.file)
		}
		seq = append(seq, row)
		if endSequence {
			sequences = append(sequences, seq)
			seq = nil
		}
	}
	advance := func(opAdvance uint64) {
		if h.maxOps <= 1 {
			regs.address += h.minInst * opAdvance
			return
		}
		regs.address += h.minInst * ((regs.opIndex + opAdvance) / h.maxOps)
		regs.opIndex = (regs.opIndex + opAdvance) % h.maxOps
	}

	for r.Offset() < h.end {
		op, err := r.U8()
		if err != nil {
			return nil, err
		}
		switch {
		case uint64(op) >= h.opcodeBase:
			// Special opcode: advance both address and line, then
			// append a row.
			adjusted := uint64(op) - h.opcodeBase
			advance(adjusted / h.lineRange)
			regs.line += h.lineBase + int64(adjusted%h.lineRange)
			emit(false)
			regs.basicBlock = false
			regs.prologueEnd = false
			regs.epilogueBegin = false
			regs.discriminator = 0

		case op == 0:
			// Extended opcode.
			length, err := r.Uleb128()
			if err != nil {
				return nil, err
			}
			next := r.Offset() + length
			if length == 0 {
				return nil, fmt.Errorf("empty extended opcode at %#x: %w", r.Offset(), ErrMalformed)
			}
			sub, err := r.U8()
			if err != nil {
				return nil, err
			}
			switch sub {
			case lneEndSequence:
				regs.endSequence = true
				emit(true)
				regs.reset(h)
			case lneSetAddress:
				addr, err := r.Uint(int(length - 1))
				if err != nil {
					return nil, err
				}
				regs.address = addr
				regs.opIndex = 0
			case lneDefineFile:
				name, err := r.CString()
				if err != nil {
					return nil, err
				}
				dir, err := r.Uleb128()
				if err != nil {
					return nil, err
				}
				if _, err := r.Uleb128(); err != nil { // mtime
					return nil, err
				}
				if _, err := r.Uleb128(); err != nil { // length
					return nil, err
				}
				lt.files = append(lt.files, joinLineFile(u, h, name, dir))
			case lneSetDiscriminator:
				if regs.discriminator, err = r.Uleb128(); err != nil {
					return nil, err
				}
			default:
				// Unknown extended opcodes carry their length and are
				// skipped whole.
			}
			if err := r.Seek(next); err != nil {
				return nil, err
			}

		default:
			// Standard opcode.
			switch op {
			case lnsCopy:
				emit(false)
				regs.basicBlock = false
				regs.prologueEnd = false
				regs.epilogueBegin = false
				regs.discriminator = 0
			case lnsAdvancePC:
				opAdvance, err := r.Uleb128()
				if err != nil {
					return nil, err
				}
				advance(opAdvance)
			case lnsAdvanceLine:
				delta, err := r.Sleb128()
				if err != nil {
					return nil, err
				}
				regs.line += delta
			case lnsSetFile:
				if regs.file, err = r.Uleb128(); err != nil {
					return nil, err
				}
			case lnsSetColumn:
				if regs.column, err = r.Uleb128(); err != nil {
					return nil, err
				}
			case lnsNegateStmt:
				regs.isStmt = !regs.isStmt
			case lnsSetBasicBlock:
				regs.basicBlock = true
			case lnsConstAddPC:
				advance((255 - h.opcodeBase) / h.lineRange)
			case lnsFixedAdvancePC:
				fixed, err := r.U16()
				if err != nil {
					return nil, err
				}
				regs.address += uint64(fixed)
				regs.opIndex = 0
			case lnsSetPrologueEnd:
				regs.prologueEnd = true
			case lnsSetEpilogueBegin:
				regs.epilogueBegin = true
			case lnsSetISA:
				if regs.isa, err = r.Uleb128(); err != nil {
					return nil, err
				}
			default:
				// A vendor standard opcode; its operand count comes
				// from the header.
				if int(op) <= len(h.stdLengths) {
					for i := uint8(0); i < h.stdLengths[op-1]; i++ {
						if _, err := r.Uleb128(); err != nil {
							return nil, err
						}
					}
				}
			}
		}
	}

	sort.Slice(sequences, func(i, j int) bool {
		return sequences[i][0].Address < sequences[j][0].Address
	})
	for _, s := range sequences {
		lt.rows = append(lt.rows, s...)
	}
	return lt, nil
}

func clampU32(v int64) uint32 {
	if v < 0 || v > int64(^uint32(0)) {
		return 0
	}
	return uint32(v)
}

func (u *Unit) parseLineHeader(r *elf.Reader) (*lineHeader, error) {
	unitOff := r.Offset()
	length, is64, err := initialLength(r)
	if err != nil {
		return nil, err
	}
	h := &lineHeader{is64: is64, end: r.Offset() + length, addrSize: u.addrSize}
	version, err := r.U16()
	if err != nil {
		return nil, err
	}
	h.version = int(version)
	if h.version < 2 || h.version > 5 {
		return nil, fmt.Errorf("line program at %#x version %d: %w", unitOff, h.version, ErrUnsupported)
	}

	offSize := 4
	if is64 {
		offSize = 8
	}
	if h.version >= 5 {
		addrSize, err := r.U8()
		if err != nil {
			return nil, err
		}
		h.addrSize = int(addrSize)
		segSize, err := r.U8()
		if err != nil {
			return nil, err
		}
		if segSize != 0 {
			return nil, fmt.Errorf("line program at %#x with segment selectors: %w", unitOff, ErrUnsupported)
		}
	}

	headerLength, err := r.Uint(offSize)
	if err != nil {
		return nil, err
	}
	h.programOff = r.Offset() + headerLength

	minInst, err := r.U8()
	if err != nil {
		return nil, err
	}
	h.minInst = uint64(minInst)
	if h.minInst == 0 {
		h.minInst = 1
	}
	h.maxOps = 1
	if h.version >= 4 {
		maxOps, err := r.U8()
		if err != nil {
			return nil, err
		}
		h.maxOps = uint64(maxOps)
		if h.maxOps == 0 {
			h.maxOps = 1
		}
	}
	defStmt, err := r.U8()
	if err != nil {
		return nil, err
	}
	h.defaultStmt = defStmt != 0
	lineBase, err := r.U8()
	if err != nil {
		return nil, err
	}
	h.lineBase = int64(int8(lineBase))
	lineRange, err := r.U8()
	if err != nil {
		return nil, err
	}
	h.lineRange = uint64(lineRange)
	if h.lineRange == 0 {
		return nil, fmt.Errorf("line program at %#x has zero line_range: %w", unitOff, ErrMalformed)
	}
	opcodeBase, err := r.U8()
	if err != nil {
		return nil, err
	}
	h.opcodeBase = uint64(opcodeBase)
	if h.opcodeBase == 0 {
		return nil, fmt.Errorf("line program at %#x has zero opcode_base: %w", unitOff, ErrMalformed)
	}
	h.stdLengths = make([]uint8, h.opcodeBase-1)
	for i := range h.stdLengths {
		if h.stdLengths[i], err = r.U8(); err != nil {
			return nil, err
		}
	}

	if h.version >= 5 {
		err = u.parseLineTablesV5(r, h)
	} else {
		err = u.parseLineTablesV2(r, h)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// parseLineTablesV2 decodes the pre-DWARF-5 include directory and file
// tables. File numbering is 1-based; index 0 stays empty.
func (u *Unit) parseLineTablesV2(r *elf.Reader, h *lineHeader) error {
	compDir, _ := u.AttrString(u.root, AttrCompDir)
	dirs := []string{compDir}
	for {
		dir, err := r.CString()
		if err != nil {
			return err
		}
		if dir == "" {
			break
		}
		dirs = append(dirs, dir)
	}

	h.files = []string{""}
	for {
		name, err := r.CString()
		if err != nil {
			return err
		}
		if name == "" {
			return nil
		}
		dir, err := r.Uleb128()
		if err != nil {
			return err
		}
		if _, err := r.Uleb128(); err != nil { // mtime
			return err
		}
		if _, err := r.Uleb128(); err != nil { // length
			return err
		}
		h.files = append(h.files, joinFile(dirs, compDir, name, dir))
	}
}

// parseLineTablesV5 decodes the DWARF 5 directory and file tables,
// which are described by (content type, form) pairs. File numbering is
// 0-based.
func (u *Unit) parseLineTablesV5(r *elf.Reader, h *lineHeader) error {
	dirs, err := u.parseEntryTable(r, h, nil, "")
	if err != nil {
		return err
	}
	compDir := ""
	if len(dirs) > 0 {
		compDir = dirs[0]
	}
	h.files, err = u.parseEntryTable(r, h, dirs, compDir)
	return err
}

// parseEntryTable reads one DWARF 5 directory or file-name table. When
// dirs is nil the table is a directory table and entries are the paths
// themselves; otherwise entries are files resolved against dirs.
func (u *Unit) parseEntryTable(r *elf.Reader, h *lineHeader, dirs []string, compDir string) ([]string, error) {
	formatCount, err := r.U8()
	if err != nil {
		return nil, err
	}
	type entryFormat struct {
		content uint64
		form    form
	}
	formats := make([]entryFormat, formatCount)
	for i := range formats {
		if formats[i].content, err = r.Uleb128(); err != nil {
			return nil, err
		}
		f, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		formats[i].form = form(f)
	}

	count, err := r.Uleb128()
	if err != nil {
		return nil, err
	}
	entries := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		var name string
		var dirIndex uint64
		for _, ef := range formats {
			val, err := u.readForm(r, abbrevSpec{form: ef.form}, ef.form)
			if err != nil {
				return nil, err
			}
			switch ef.content {
			case lnctPath:
				switch v := val.(type) {
				case string:
					name = v
				case strxVal:
					if s, err := u.resolveStrx(uint64(v)); err == nil {
						name = s
					}
				}
			case lnctDirectoryIndex:
				if v, ok := val.(uint64); ok {
					dirIndex = v
				}
			}
		}
		if dirs == nil {
			entries = append(entries, name)
		} else {
			entries = append(entries, joinFile(dirs, compDir, name, dirIndex))
		}
	}
	return entries, nil
}

func joinLineFile(u *Unit, h *lineHeader, name string, dir uint64) string {
	// DW_LNE_define_file entries resolve against the compilation
	// directory only; the full directory table is gone by the time the
	// program runs.
	compDir, _ := u.AttrString(u.root, AttrCompDir)
	if path.IsAbs(name) || compDir == "" {
		return name
	}
	return path.Join(compDir, name)
}

func joinFile(dirs []string, compDir, name string, dir uint64) string {
	if path.IsAbs(name) {
		return name
	}
	var base string
	if dir < uint64(len(dirs)) {
		base = dirs[dir]
	}
	if base == "" {
		base = compDir
	}
	if base == "" {
		return name
	}
	if !path.IsAbs(base) && compDir != "" && base != compDir {
		base = path.Join(compDir, base)
	}
	return path.Join(base, name)
}

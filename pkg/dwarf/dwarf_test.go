package dwarf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThinkerYzu1/blazesym/internal/testelf"
)

func inlineData(t *testing.T) (*Data, testelf.InlineScenario) {
	t.Helper()
	sc := testelf.DefaultInlineScenario()
	info, abbrev, line := testelf.InlineDwarf(sc)
	d, err := New(Sections{
		Info:   info,
		Abbrev: abbrev,
		Line:   line,
		Order:  binary.LittleEndian,
	})
	require.NoError(t, err)
	return d, sc
}

func TestUnitHeaders(t *testing.T) {
	d, _ := inlineData(t)
	require.Len(t, d.Units(), 1)
	assert.Equal(t, 4, d.Units()[0].Version())
}

func TestFindUnitByRootRanges(t *testing.T) {
	d, sc := inlineData(t)
	u := d.FindUnit(sc.OuterLow + 8)
	require.NotNil(t, u)

	assert.Nil(t, d.FindUnit(sc.OuterLow-1))
	assert.Nil(t, d.FindUnit(0x2000))
}

func TestFindSubprogram(t *testing.T) {
	d, sc := inlineData(t)
	u := d.FindUnit(sc.InnerLow)
	require.NotNil(t, u)

	sub, err := u.FindSubprogram(sc.InnerLow + 4)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, TagSubprogram, sub.Tag)

	name, ok := u.DIEName(sub)
	require.True(t, ok)
	assert.Equal(t, "outer", name)

	// An address inside the unit but past outer's end finds nothing.
	sub, err = u.FindSubprogram(sc.OuterHigh + 0x10)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestInlineChain(t *testing.T) {
	d, sc := inlineData(t)
	u := d.FindUnit(sc.InnerLow)
	require.NotNil(t, u)

	sub, err := u.FindSubprogram(sc.InnerLow + 4)
	require.NoError(t, err)
	require.NotNil(t, sub)

	chain := u.InlineChain(sub, sc.InnerLow+4)
	require.Len(t, chain, 1)
	assert.Equal(t, TagInlinedSubroutine, chain[0].Tag)

	// The inlined function's name comes from its abstract origin.
	name, ok := u.DIEName(chain[0])
	require.True(t, ok)
	assert.Equal(t, "inner", name)

	file, line, column := u.CallSite(chain[0])
	assert.Equal(t, sc.CallFile, file)
	assert.Equal(t, sc.CallLine, line)
	assert.Equal(t, sc.CallColumn, column)

	entry, ok := u.EntryPC(chain[0])
	require.True(t, ok)
	assert.Equal(t, sc.InnerLow, entry)

	// Outside the inlined range the chain is empty.
	assert.Empty(t, u.InlineChain(sub, sc.OuterLow+4))
}

func TestLineForPC(t *testing.T) {
	d, sc := inlineData(t)
	u := d.FindUnit(sc.OuterLow)
	require.NotNil(t, u)

	type arg struct {
		pc   uint64
		ok   bool
		file string
		line uint32
		col  uint32
	}
	args := []arg{
		{sc.OuterLow - 1, false, "", 0, 0},
		{sc.OuterLow, true, sc.OuterFile, sc.OuterBodyLine, 0},
		{sc.OuterLow + 8, true, sc.OuterFile, sc.OuterBodyLine, 0},
		{sc.InnerLow, true, sc.InnerFile, sc.InnerLine, sc.InnerColumn},
		{sc.InnerLow + 0x10, true, sc.InnerFile, sc.InnerLine, sc.InnerColumn},
		{sc.InnerHigh, true, sc.OuterFile, sc.OuterBodyLine + 4, 0},
		{sc.OuterHigh - 1, true, sc.OuterFile, sc.OuterBodyLine + 4, 0},
		// The end-sequence address is one past the sequence.
		{sc.OuterHigh, false, "", 0, 0},
		{sc.OuterHigh + 0x100, false, "", 0, 0},
	}
	for _, arg := range args {
		row, ok := u.LineForPC(arg.pc)
		if ok != arg.ok {
			t.Errorf("[pc = %#x] ok = %v, want %v", arg.pc, ok, arg.ok)
			continue
		}
		if !ok {
			continue
		}
		if row.File != arg.file || row.Line != arg.line || row.Column != arg.col {
			t.Errorf("[pc = %#x] = %s:%d:%d, want %s:%d:%d",
				arg.pc, row.File, row.Line, row.Column, arg.file, arg.line, arg.col)
		}
	}
}

// TestLineBinarySearchEquivalence checks that the binary search over the
// evaluated rows agrees with a linear scan from the start of the
// sequence for every address the unit covers.
func TestLineBinarySearchEquivalence(t *testing.T) {
	d, sc := inlineData(t)
	u := d.FindUnit(sc.OuterLow)
	require.NotNil(t, u)
	lt, err := u.lineTable()
	require.NoError(t, err)

	linear := func(pc uint64) (LineRow, bool) {
		var best LineRow
		found := false
		for _, row := range lt.rows {
			if row.Address > pc {
				break
			}
			best = row
			found = true
		}
		if !found || best.EndSequence {
			return LineRow{}, false
		}
		return best, true
	}

	for pc := sc.OuterLow - 2; pc < sc.OuterHigh+2; pc++ {
		wantRow, wantOK := linear(pc)
		gotRow, gotOK := lt.resolve(pc)
		if wantOK != gotOK || gotRow != wantRow {
			t.Fatalf("[pc = %#x] binary search disagrees with linear scan", pc)
		}
	}
}

func TestFileNames(t *testing.T) {
	d, sc := inlineData(t)
	u := d.FindUnit(sc.OuterLow)
	require.NotNil(t, u)

	file, ok := u.FileName(1)
	require.True(t, ok)
	assert.Equal(t, sc.OuterFile, file)
	file, ok = u.FileName(2)
	require.True(t, ok)
	assert.Equal(t, sc.InnerFile, file)

	_, ok = u.FileName(0)
	assert.False(t, ok)
	_, ok = u.FileName(99)
	assert.False(t, ok)
}

func TestNewMalformed(t *testing.T) {
	sc := testelf.DefaultInlineScenario()
	info, abbrev, line := testelf.InlineDwarf(sc)

	// Truncating the unit makes the declared length overrun the section.
	_, err := New(Sections{
		Info:   info[:len(info)-8],
		Abbrev: abbrev,
		Line:   line,
		Order:  binary.LittleEndian,
	})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnsupportedVersionSkipped(t *testing.T) {
	// A version 1 unit before a valid one: the bad unit is skipped, the
	// good one still parses.
	sc := testelf.DefaultInlineScenario()
	info, abbrev, line := testelf.InlineDwarf(sc)

	var bogus testelf.Wr
	bogus.U32(7) // unit length
	bogus.U16(1) // version 1
	bogus.U32(0)
	bogus.U8(8)
	combined := append(bogus.Bytes(), info...)

	d, err := New(Sections{
		Info:   combined,
		Abbrev: abbrev,
		Line:   line,
		Order:  binary.LittleEndian,
	})
	require.NoError(t, err)
	require.Len(t, d.Units(), 1)
	assert.Equal(t, 4, d.Units()[0].Version())
}

package blazesym

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThinkerYzu1/blazesym/internal/testelf"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// libFooImage builds an object with foo at 0x1230 (size 0x40) directly
// followed by bar at 0x1270.
func libFooImage() []byte {
	b := testelf.Builder{
		Progs: []testelf.Prog{testelf.Load(0x1000, 0x1000, 0x1000)},
		Symtab: []testelf.Symbol{
			testelf.Func("foo", 0x1230, 0x40),
			testelf.Func("bar", 0x1270, 0x30),
		},
	}
	return b.Build()
}

const kallsymsSynth = `ffffffff81000000 T start_kernel
ffffffff81000100 T rest_init
`

func TestSymbolizeKallsyms(t *testing.T) {
	kallsyms := writeFile(t, "kallsyms-synth", []byte(kallsymsSynth))

	s := New()
	defer s.Close()

	srcs := []SymSrc{Kernel{Kallsyms: kallsyms, KernelImage: "/no/such/image"}}
	results, err := s.Symbolize(srcs, []uint64{0xffffffff81000042})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0], 1)

	frame := results[0][0]
	assert.Equal(t, "start_kernel", frame.Symbol)
	assert.Equal(t, uint64(0xffffffff81000000), frame.StartAddress)
}

func TestSymbolizeElf(t *testing.T) {
	path := writeFile(t, "libfoo.so", libFooImage())

	s := New()
	defer s.Close()

	srcs := []SymSrc{Elf{Path: path, LoadAddress: 0x400000}}

	// Inside foo.
	results, err := s.Symbolize(srcs, []uint64{0x401250})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0], 1)
	assert.Equal(t, "foo", results[0][0].Symbol)
	assert.Equal(t, uint64(0x401230), results[0][0].StartAddress)
	assert.Equal(t, path, results[0][0].Path)

	// One past foo's end is the first byte of bar.
	results, err = s.Symbolize(srcs, []uint64{0x401270})
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	assert.Equal(t, "bar", results[0][0].Symbol)

	// Exactly at foo's start.
	results, err = s.Symbolize(srcs, []uint64{0x401230})
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	assert.Equal(t, "foo", results[0][0].Symbol)
}

func TestSymbolizeInline(t *testing.T) {
	sc := testelf.DefaultInlineScenario()
	path := writeFile(t, "inline.bin", testelf.InlineImage(sc))

	const base = uint64(0x7f0000000000)
	s := New()
	defer s.Close()

	srcs := []SymSrc{Elf{Path: path, LoadAddress: base}}
	results, err := s.Symbolize(srcs, []uint64{base + sc.InnerLow + 0x10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0], 2)

	inner := results[0][0]
	assert.Equal(t, "inner", inner.Symbol)
	assert.Equal(t, sc.InnerFile, inner.SourceFile)
	assert.Equal(t, sc.InnerLine, inner.Line)
	assert.Equal(t, sc.InnerColumn, inner.Column)
	assert.Equal(t, base+sc.InnerLow, inner.StartAddress)

	outer := results[0][1]
	assert.Equal(t, "outer", outer.Symbol)
	assert.Equal(t, sc.CallFile, outer.SourceFile)
	assert.Equal(t, sc.CallLine, outer.Line)
	assert.Equal(t, sc.CallColumn, outer.Column)
	assert.Equal(t, base+sc.OuterLow, outer.StartAddress)
}

func TestSymbolizeLineInfoOutsideInline(t *testing.T) {
	sc := testelf.DefaultInlineScenario()
	path := writeFile(t, "inline.bin", testelf.InlineImage(sc))

	const base = uint64(0x500000)
	s := New()
	defer s.Close()

	srcs := []SymSrc{Elf{Path: path, LoadAddress: base}}
	results, err := s.Symbolize(srcs, []uint64{base + sc.OuterLow + 8})
	require.NoError(t, err)
	require.Len(t, results[0], 1)

	frame := results[0][0]
	assert.Equal(t, "outer", frame.Symbol)
	assert.Equal(t, sc.OuterFile, frame.SourceFile)
	assert.Equal(t, sc.OuterBodyLine, frame.Line)
}

func TestSymbolizeUnresolved(t *testing.T) {
	path := writeFile(t, "libfoo.so", libFooImage())

	s := New()
	defer s.Close()

	srcs := []SymSrc{Elf{Path: path, LoadAddress: 0x400000}}
	results, err := s.Symbolize(srcs, []uint64{0xdeadbeef})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0])
}

func TestSymbolizeMixedBatch(t *testing.T) {
	path := writeFile(t, "libfoo.so", libFooImage())

	s := New()
	defer s.Close()

	srcs := []SymSrc{Elf{Path: path, LoadAddress: 0x400000}}
	results, err := s.Symbolize(srcs, []uint64{0x401250, 0xdeadbeef, 0x401270})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NotEmpty(t, results[0])
	assert.Empty(t, results[1])
	assert.NotEmpty(t, results[2])
}

func TestSymbolizeAddressInLoadGap(t *testing.T) {
	path := writeFile(t, "libfoo.so", libFooImage())

	s := New()
	defer s.Close()

	// 0x400800 is below the PT_LOAD segment (file-local 0x800).
	srcs := []SymSrc{Elf{Path: path, LoadAddress: 0x400000}}
	results, err := s.Symbolize(srcs, []uint64{0x400800})
	require.NoError(t, err)
	assert.Empty(t, results[0])
}

func TestSymbolizeEmptyAddresses(t *testing.T) {
	s := New()
	defer s.Close()

	results, err := s.Symbolize([]SymSrc{Elf{Path: "/does/not/matter", LoadAddress: 0}}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSymbolizeBadSourceSkipped(t *testing.T) {
	path := writeFile(t, "libfoo.so", libFooImage())

	s := New()
	defer s.Close()

	srcs := []SymSrc{
		Elf{Path: "/no/such/object", LoadAddress: 0x200000},
		Elf{Path: path, LoadAddress: 0x400000},
	}
	results, err := s.Symbolize(srcs, []uint64{0x401250})
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	assert.Equal(t, "foo", results[0][0].Symbol)
}

func TestSymbolizeRoundTrip(t *testing.T) {
	path := writeFile(t, "libfoo.so", libFooImage())

	s := New()
	defer s.Close()

	srcs := []SymSrc{Elf{Path: path, LoadAddress: 0x400000}}
	infos, err := s.FindAddresses(srcs, []string{"foo", "bar"})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Len(t, infos[0], 1)

	for i, name := range []string{"foo", "bar"} {
		require.Len(t, infos[i], 1)
		results, err := s.Symbolize(srcs, []uint64{infos[i][0].Address})
		require.NoError(t, err)
		require.Len(t, results[0], 1)
		assert.Equal(t, name, results[0][0].Symbol)
		assert.Equal(t, infos[i][0].Address, results[0][0].StartAddress)
	}
}

func TestFindAddressesPositional(t *testing.T) {
	path := writeFile(t, "libfoo.so", libFooImage())

	s := New()
	defer s.Close()

	srcs := []SymSrc{Elf{Path: path, LoadAddress: 0x400000}}
	infos, err := s.FindAddressesOpt(srcs, []string{"bar", "missing", "foo"}, FindOpts{FileOffset: true, ObjPath: true})
	require.NoError(t, err)
	require.Len(t, infos, 3)

	require.Len(t, infos[0], 1)
	assert.Equal(t, uint64(0x401270), infos[0][0].Address)
	assert.Equal(t, uint64(0x1270), infos[0][0].FileOffset)
	assert.Equal(t, path, infos[0][0].ObjPath)

	assert.Empty(t, infos[1])

	require.Len(t, infos[2], 1)
	assert.Equal(t, uint64(0x401230), infos[2][0].Address)
}

func TestFindAddressRegex(t *testing.T) {
	path := writeFile(t, "libfoo.so", libFooImage())

	s := New()
	defer s.Close()

	srcs := []SymSrc{Elf{Path: path, LoadAddress: 0x400000}}
	infos, err := s.FindAddressRegex(srcs, "^f")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "foo", infos[0].Name)

	_, err = s.FindAddressRegex(srcs, "([invalid")
	assert.Error(t, err)
}

func TestObjectCache(t *testing.T) {
	path := writeFile(t, "libfoo.so", libFooImage())

	s := New()
	defer s.Close()

	srcs := []SymSrc{Elf{Path: path, LoadAddress: 0x400000}}
	_, err := s.Symbolize(srcs, []uint64{0x401250})
	require.NoError(t, err)
	_, err = s.Symbolize(srcs, []uint64{0x401250})
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.CacheMisses)
	assert.Equal(t, uint64(1), stats.CacheHits)
	assert.Equal(t, uint64(1), stats.Objects)
}

func TestWithLineInfoDisabled(t *testing.T) {
	sc := testelf.DefaultInlineScenario()
	path := writeFile(t, "inline.bin", testelf.InlineImage(sc))

	s := New(WithLineInfo(false))
	defer s.Close()

	srcs := []SymSrc{Elf{Path: path, LoadAddress: 0}}
	results, err := s.Symbolize(srcs, []uint64{sc.InnerLow + 0x10})
	require.NoError(t, err)
	require.NotEmpty(t, results[0])
	for _, frame := range results[0] {
		assert.Empty(t, frame.SourceFile)
		assert.Zero(t, frame.Line)
	}
}

func TestWithInlineFramesDisabled(t *testing.T) {
	sc := testelf.DefaultInlineScenario()
	path := writeFile(t, "inline.bin", testelf.InlineImage(sc))

	s := New(WithInlineFrames(false))
	defer s.Close()

	srcs := []SymSrc{Elf{Path: path, LoadAddress: 0}}
	results, err := s.Symbolize(srcs, []uint64{sc.InnerLow + 0x10})
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	assert.Equal(t, "outer", results[0][0].Symbol)
}

func TestCloseRejectsUse(t *testing.T) {
	s := New()
	s.Close()
	_, err := s.Symbolize(nil, []uint64{1})
	assert.ErrorIs(t, err, ErrClosed)
}

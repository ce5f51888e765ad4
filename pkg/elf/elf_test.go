package elf

import (
	stdelf "debug/elf"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThinkerYzu1/blazesym/internal/testelf"
)

func writeImage(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenHeader(t *testing.T) {
	b := testelf.Builder{
		Progs: []testelf.Prog{testelf.Load(0x1000, 0x2000, 0x1000)},
		Symtab: []testelf.Symbol{
			testelf.Func("main", 0x1100, 0x40),
		},
	}
	f, err := Open(writeImage(t, b.Build()))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, stdelf.ELFCLASS64, f.Class)
	assert.Equal(t, stdelf.ET_DYN, f.Type)
	assert.Equal(t, stdelf.EM_X86_64, f.Machine)

	require.Len(t, f.Progs(), 1)
	assert.Equal(t, stdelf.PT_LOAD, f.Progs()[0].Type)
	assert.Equal(t, uint64(0x1000), f.Progs()[0].Vaddr)

	require.NotNil(t, f.Section(".symtab"))
	require.NotNil(t, f.Section(".strtab"))
	assert.Nil(t, f.Section(".no-such-section"))

	_, err = f.SectionDataByName(".no-such-section")
	var notFound *ErrSectionNotFound
	assert.True(t, errors.As(err, &notFound))
}

func TestOpenBadMagic(t *testing.T) {
	path := writeImage(t, []byte("this is not an ELF file at all.."))
	_, err := Open(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestOpenTruncated(t *testing.T) {
	b := testelf.Builder{
		Symtab: []testelf.Symbol{testelf.Func("main", 0x1100, 0x40)},
	}
	image := b.Build()
	// Cut the image inside the section header table.
	_, err := Open(writeImage(t, image[:len(image)-32]))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestSymbolsMerge(t *testing.T) {
	b := testelf.Builder{
		Symtab: []testelf.Symbol{
			testelf.Func("local_detail", 0x1200, 0x20),
			testelf.Func("shared", 0x1100, 0x40),
			testelf.Undef("puts"),
		},
		Dynsym: []testelf.Symbol{
			testelf.Func("shared", 0x1100, 0x40),
			testelf.Func("dyn_only", 0x1300, 0x10),
		},
	}
	f, err := Open(writeImage(t, b.Build()))
	require.NoError(t, err)
	defer f.Close()

	syms, err := f.Symbols()
	require.NoError(t, err)

	names := make([]string, len(syms))
	for i, s := range syms {
		names[i] = s.Name
	}
	// Sorted by address; "shared" appears once; "puts" is dropped.
	assert.Equal(t, []string{"shared", "local_detail", "dyn_only"}, names)
}

func TestSymbolsExcludesZeroSizedNonFunctions(t *testing.T) {
	b := testelf.Builder{
		Symtab: []testelf.Symbol{
			testelf.Object("zero_obj", 0x1400, 0),
			testelf.Func("zero_func", 0x1500, 0),
			testelf.Object("data", 0x1600, 8),
		},
	}
	f, err := Open(writeImage(t, b.Build()))
	require.NoError(t, err)
	defer f.Close()

	syms, err := f.Symbols()
	require.NoError(t, err)
	require.Len(t, syms, 2)
	assert.Equal(t, "zero_func", syms[0].Name)
	assert.Equal(t, "data", syms[1].Name)
}

func TestVaddrToFileOff(t *testing.T) {
	b := testelf.Builder{
		Progs: []testelf.Prog{testelf.Load(0x1000, 0x1000, 0x400)},
	}
	f, err := Open(writeImage(t, b.Build()))
	require.NoError(t, err)
	defer f.Close()

	off, ok := f.VaddrToFileOff(0x1230)
	require.True(t, ok)
	assert.Equal(t, uint64(0x630), off)

	_, ok = f.VaddrToFileOff(0x3000)
	assert.False(t, ok)

	assert.True(t, f.CoversVaddr(0x1000))
	assert.True(t, f.CoversVaddr(0x1fff))
	assert.False(t, f.CoversVaddr(0xfff))
	assert.False(t, f.CoversVaddr(0x2000))
}

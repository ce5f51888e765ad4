package blazesym

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThinkerYzu1/blazesym/internal/testelf"
	"github.com/ThinkerYzu1/blazesym/pkg/symbol"
)

func TestWithDemangling(t *testing.T) {
	b := testelf.Builder{
		Progs: []testelf.Prog{testelf.Load(0x1000, 0x1000, 0x1000)},
		Symtab: []testelf.Symbol{
			testelf.Func("_Z3foov", 0x1230, 0x40),
		},
	}
	path := writeFile(t, "mangled.so", b.Build())

	srcs := []SymSrc{Elf{Path: path, LoadAddress: 0}}

	raw := New()
	defer raw.Close()
	results, err := raw.Symbolize(srcs, []uint64{0x1240})
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	assert.Equal(t, "_Z3foov", results[0][0].Symbol)

	pretty := New(WithDemangling(true))
	defer pretty.Close()
	results, err = pretty.Symbolize(srcs, []uint64{0x1240})
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	assert.Equal(t, "foo()", results[0][0].Symbol)
}

func TestFindOptsKindFilter(t *testing.T) {
	b := testelf.Builder{
		Progs: []testelf.Prog{testelf.Load(0x1000, 0x1000, 0x1000)},
		Symtab: []testelf.Symbol{
			testelf.Func("thing", 0x1230, 0x40),
			testelf.Object("thing", 0x1600, 0x8),
		},
	}
	path := writeFile(t, "kinds.so", b.Build())

	s := New()
	defer s.Close()

	srcs := []SymSrc{Elf{Path: path, LoadAddress: 0}}

	all, err := s.FindAddresses(srcs, []string{"thing"})
	require.NoError(t, err)
	assert.Len(t, all[0], 2)

	funcs, err := s.FindAddressesOpt(srcs, []string{"thing"}, FindOpts{Kind: symbol.KindFunc})
	require.NoError(t, err)
	require.Len(t, funcs[0], 1)
	assert.Equal(t, symbol.KindFunc, funcs[0][0].Kind)
	assert.Equal(t, uint64(0x1230), funcs[0][0].Address)
}

package ksym

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThinkerYzu1/blazesym/pkg/symbol"
)

const kallsymsSynth = `ffffffff81000000 T start_kernel
ffffffff81000100 T rest_init
ffffffff81000300 D vdso_data
not-an-address T bogus_line
ffffffffc0a51000 t nf_ct_iterate [nf_conntrack]
ffffffffc0a51400 t nf_ct_destroy [nf_conntrack]
`

func writeKallsyms(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kallsyms")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	table, err := Load(writeKallsyms(t, kallsymsSynth))
	require.NoError(t, err)

	// The bogus line is dropped; everything else is kept.
	assert.Equal(t, 5, table.Index().Len())

	got, ok := table.Index().Find(0xffffffff81000042)
	require.True(t, ok)
	assert.Equal(t, "start_kernel", got.Name)
	assert.Equal(t, uint64(0xffffffff81000000), got.Addr)
	assert.Equal(t, symbol.KindFunc, got.Kind)
	// Size is the distance to rest_init.
	assert.Equal(t, uint64(0x100), got.Size)
}

func TestLoadModuleSizes(t *testing.T) {
	table, err := Load(writeKallsyms(t, kallsymsSynth))
	require.NoError(t, err)

	got, ok := table.Index().Find(0xffffffffc0a51200)
	require.True(t, ok)
	assert.Equal(t, "nf_ct_iterate", got.Name)
	// Sizes are derived within the same module.
	assert.Equal(t, uint64(0x400), got.Size)

	// The last symbol of a module has no derived size and falls back
	// to zero-size coverage.
	got, ok = table.Index().Find(0xffffffffc0a51500)
	require.True(t, ok)
	assert.Equal(t, "nf_ct_destroy", got.Name)
}

func TestCovers(t *testing.T) {
	table, err := Load(writeKallsyms(t, kallsymsSynth))
	require.NoError(t, err)

	assert.True(t, table.Covers(0xffffffff81000042))
	assert.False(t, table.Covers(0xffffffff80ffffff))
}

func TestParseLine(t *testing.T) {
	args := []struct {
		line string
		ok   bool
		name string
		mod  string
	}{
		{"ffffffff81000000 T start_kernel", true, "start_kernel", ""},
		{"ffffffffc0a51000 t helper [mod]", true, "helper", "mod"},
		{"zzz T broken", false, "", ""},
		{"ffffffff81000000 T", false, "", ""},
		{"", false, "", ""},
		{"ffffffff81000000 TT odd_type", false, "", ""},
	}
	for _, arg := range args {
		sym, ok := parseLine(arg.line)
		if ok != arg.ok {
			t.Errorf("parseLine(%q) ok = %v, want %v", arg.line, ok, arg.ok)
			continue
		}
		if ok && (sym.Name != arg.name || sym.Module != arg.mod) {
			t.Errorf("parseLine(%q) = %q [%q], want %q [%q]",
				arg.line, sym.Name, sym.Module, arg.name, arg.mod)
		}
	}
}

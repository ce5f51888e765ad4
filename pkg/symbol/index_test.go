package symbol

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexFind(t *testing.T) {
	ix := NewIndex([]Entry{
		{Name: "foo", Addr: 0x1230, Size: 0x40, Kind: KindFunc},
		{Name: "bar", Addr: 0x1270, Size: 0x30, Kind: KindFunc},
		{Name: "baz", Addr: 0x1400, Size: 0x10, Kind: KindFunc},
		{Name: "loose", Addr: 0x1500, Size: 0, Kind: KindFunc},
		{Name: "tail", Addr: 0x1600, Size: 0x20, Kind: KindFunc},
	})

	type arg struct {
		off  uint64
		name string
		ok   bool
	}
	args := []arg{
		{0x0, "", false},
		{0x122f, "", false},
		{0x1230, "foo", true},
		{0x1250, "foo", true},
		{0x126f, "foo", true},
		{0x1270, "bar", true}, // one past foo's end lands on bar
		{0x129f, "bar", true},
		{0x12a0, "", false}, // gap between bar and baz
		{0x1400, "baz", true},
		{0x1410, "", false},
		{0x1500, "loose", true},
		{0x15ff, "loose", true}, // zero-sized covers up to the next entry
		{0x1600, "tail", true},
		{0x1620, "", false},
	}

	for _, arg := range args {
		got, ok := ix.Find(arg.off)
		if ok != arg.ok {
			t.Errorf("[off = %#x] ok = %v, want %v", arg.off, ok, arg.ok)
			continue
		}
		if ok && got.Name != arg.name {
			t.Errorf("[off = %#x] name = %q, want %q", arg.off, got.Name, arg.name)
		}
	}
}

func TestIndexFindPrefersSizedOverAlias(t *testing.T) {
	ix := NewIndex([]Entry{
		{Name: "alias", Addr: 0x1000, Size: 0, Kind: KindFunc},
		{Name: "real", Addr: 0x1000, Size: 0x100, Kind: KindFunc},
	})

	got, ok := ix.Find(0x1000)
	assert.True(t, ok)
	assert.Equal(t, "real", got.Name)

	got, ok = ix.Find(0x1080)
	assert.True(t, ok)
	assert.Equal(t, "real", got.Name)
}

func TestIndexFindZeroSizedFallback(t *testing.T) {
	// A zero-sized symbol above a sized one that ends earlier.
	ix := NewIndex([]Entry{
		{Name: "sized", Addr: 0x1000, Size: 0x20, Kind: KindFunc},
		{Name: "marker", Addr: 0x1050, Size: 0, Kind: KindFunc},
	})

	got, ok := ix.Find(0x1060)
	assert.True(t, ok)
	assert.Equal(t, "marker", got.Name)

	// Inside the sized symbol, the marker does not shadow it.
	got, ok = ix.Find(0x1010)
	assert.True(t, ok)
	assert.Equal(t, "sized", got.Name)

	// Between the sized end and the marker nothing covers.
	_, ok = ix.Find(0x1030)
	assert.False(t, ok)
}

func TestIndexFindByName(t *testing.T) {
	ix := NewIndex([]Entry{
		{Name: "dup", Addr: 0x1000, Size: 0x10},
		{Name: "dup", Addr: 0x2000, Size: 0x10},
		{Name: "one", Addr: 0x3000, Size: 0x10},
	})

	dups := ix.FindByName("dup")
	assert.Len(t, dups, 2)
	assert.Len(t, ix.FindByName("one"), 1)
	assert.Empty(t, ix.FindByName("absent"))
}

func TestIndexMatch(t *testing.T) {
	ix := NewIndex([]Entry{
		{Name: "fib", Addr: 0x1000, Size: 0x10},
		{Name: "fib_fast", Addr: 0x2000, Size: 0x10},
		{Name: "other", Addr: 0x3000, Size: 0x10},
	})

	got := ix.Match(regexp.MustCompile("^fib"))
	assert.Len(t, got, 2)
	assert.Equal(t, "fib", got[0].Name)
	assert.Equal(t, "fib_fast", got[1].Name)
}

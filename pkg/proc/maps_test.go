package proc

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const mapsSynth = `55de4d538000-55de4d53a000 r--p 00000000 fd:01 27262988  /usr/bin/cat
55de4d53a000-55de4d545000 r-xp 00002000 fd:01 27262988  /usr/bin/cat
55de4d545000-55de4d54a000 r--p 0000d000 fd:01 27262988  /usr/bin/cat
7fe1b2dc4000-7fe1b2f80000 r-xp 00028000 00:1d 71695032  /usr/lib64/libc-2.28.so
7fe1b2f80000-7fe1b3180000 ---p 001bc000 00:1d 71695032  /usr/lib64/libc-2.28.so
7ffc7e52c000-7ffc7e54d000 rw-p 00000000 00:00 0         [stack]
7ffc7e5e8000-7ffc7e5ea000 r-xp 00000000 00:00 0         [vdso]
this line does not parse
`

func TestParseMaps(t *testing.T) {
	entries, err := ParseMaps(strings.NewReader(mapsSynth))
	require.NoError(t, err)
	require.Len(t, entries, 7)

	want := MapEntry{
		Start:  0x55de4d53a000,
		End:    0x55de4d545000,
		Perms:  "r-xp",
		Offset: 0x2000,
		Dev:    "fd:01",
		Inode:  27262988,
		Path:   "/usr/bin/cat",
	}
	if diff := cmp.Diff(want, entries[1]); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestExecutableEntries(t *testing.T) {
	entries, err := ParseMaps(strings.NewReader(mapsSynth))
	require.NoError(t, err)

	exec := ExecutableEntries(entries)
	require.Len(t, exec, 2)
	if exec[0].Path != "/usr/bin/cat" || exec[1].Path != "/usr/lib64/libc-2.28.so" {
		t.Errorf("unexpected executable entries: %+v", exec)
	}
	// [vdso] is executable but not file backed.
	for _, e := range exec {
		if !e.FileBacked() {
			t.Errorf("entry %q is not file backed", e.Path)
		}
	}
}

func TestParseMapsPathWithSpaces(t *testing.T) {
	line := `7f0000000000-7f0000001000 r-xp 00000000 fd:01 123 /tmp/with space/lib.so`
	entries, err := ParseMaps(strings.NewReader(line))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	if entries[0].Path != "/tmp/with space/lib.so" {
		t.Errorf("path = %q", entries[0].Path)
	}
}

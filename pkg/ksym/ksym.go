// Package ksym parses the kernel's kallsyms table into a searchable
// symbol index. Lines look like
//
//	ffffffff81000000 T start_kernel
//	ffffffffc0a51000 t nf_ct_iterate [nf_conntrack]
//
// Symbol sizes are not part of the format; they are derived from the
// distance to the next symbol of the same module.
package ksym

import (
	"bufio"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ThinkerYzu1/blazesym/pkg/symbol"
)

// DefaultPath is where the running kernel exports its symbol table.
const DefaultPath = "/proc/kallsyms"

// Sym is one kallsyms line.
type Sym struct {
	Name   string
	Addr   uint64
	Type   byte
	Module string
}

// Table is a parsed kallsyms snapshot.
type Table struct {
	path  string
	index *symbol.Index
}

// Load reads and parses the kallsyms-format file at path. Lines without
// a valid hex address are skipped.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var syms []Sym
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		sym, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		syms = append(syms, sym)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return &Table{path: path, index: buildIndex(syms)}, nil
}

// parseLine decodes one `addr type name [module]` line.
func parseLine(line string) (Sym, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Sym{}, false
	}
	addr, err := strconv.ParseUint(fields[0], 16, 64)
	if err != nil {
		return Sym{}, false
	}
	if len(fields[1]) != 1 {
		return Sym{}, false
	}
	sym := Sym{
		Addr: addr,
		Type: fields[1][0],
		Name: fields[2],
	}
	if len(fields) >= 4 && strings.HasPrefix(fields[3], "[") {
		sym.Module = strings.Trim(fields[3], "[]")
	}
	return sym, true
}

// buildIndex sorts the symbols and derives sizes as the gap to the next
// symbol within the same module.
func buildIndex(syms []Sym) *symbol.Index {
	byModule := make(map[string][]Sym)
	for _, s := range syms {
		byModule[s.Module] = append(byModule[s.Module], s)
	}

	var entries []symbol.Entry
	for _, group := range byModule {
		sort.Slice(group, func(i, j int) bool {
			return group[i].Addr < group[j].Addr
		})
		for i, s := range group {
			e := symbol.Entry{
				Name: s.Name,
				Addr: s.Addr,
				Kind: kindOf(s.Type),
			}
			if i+1 < len(group) {
				e.Size = group[i+1].Addr - s.Addr
			}
			entries = append(entries, e)
		}
	}
	return symbol.NewIndex(entries)
}

func kindOf(typ byte) symbol.Kind {
	switch typ {
	case 't', 'T', 'w', 'W':
		return symbol.KindFunc
	case 'b', 'B', 'd', 'D', 'r', 'R':
		return symbol.KindObject
	default:
		return symbol.KindOther
	}
}

// Path returns the file the table was loaded from.
func (t *Table) Path() string {
	return t.path
}

// Index returns the derived symbol index.
func (t *Table) Index() *symbol.Index {
	return t.index
}

// Covers reports whether addr falls within some symbol of the table.
// The check drives kernel-object disambiguation: several kernel
// sources may claim overlapping address space, and the one whose table
// actually covers the address wins.
func (t *Table) Covers(addr uint64) bool {
	_, ok := t.index.Find(addr)
	return ok
}

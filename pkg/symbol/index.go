// Package symbol provides an ordered, searchable index of symbols for a
// single object file. Lookups by address run in O(log n).
package symbol

import (
	"regexp"
	"sort"
	"sync"
)

// Kind classifies a symbol table entry.
type Kind uint8

const (
	KindOther Kind = iota
	KindFunc
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindFunc:
		return "function"
	case KindObject:
		return "object"
	default:
		return "other"
	}
}

// Entry is one symbol: a name covering [Addr, Addr+Size) in the
// object's file-local address space. A zero Size means the extent is
// unknown and the symbol covers up to the next entry.
type Entry struct {
	Name string
	Addr uint64
	Size uint64
	Kind Kind
}

// Index is an immutable set of entries sorted by address. Ties on the
// address are broken by larger size first so a containing symbol is
// preferred over a zero-sized alias at the same address.
type Index struct {
	entries []Entry

	nameOnce sync.Once
	byName   map[string][]int
}

// NewIndex builds an Index from entries. The input slice is taken over
// and re-sorted.
func NewIndex(entries []Entry) *Index {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Addr != entries[j].Addr {
			return entries[i].Addr < entries[j].Addr
		}
		return entries[i].Size > entries[j].Size
	})
	return &Index{entries: entries}
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Entries returns the sorted entries. Callers must not modify them.
func (ix *Index) Entries() []Entry {
	return ix.entries
}

// Find returns the entry with the greatest Addr <= off whose extent
// covers off. When no sized entry covers off, the greatest zero-sized
// entry at or below off is returned instead, provided no sized entry
// lies between it and off.
func (ix *Index) Find(off uint64) (Entry, bool) {
	i := sort.Search(len(ix.entries), func(i int) bool {
		return ix.entries[i].Addr > off
	}) - 1

	var zero *Entry
	for j := i; j >= 0; j-- {
		e := &ix.entries[j]
		if e.Size == 0 {
			if zero == nil {
				zero = e
			}
			continue
		}
		if off < e.Addr+e.Size {
			return *e, true
		}
		// The nearest sized symbol ends at or before off; everything
		// below it ends earlier still.
		break
	}
	if zero != nil {
		return *zero, true
	}
	return Entry{}, false
}

// FindByName returns all entries with exactly the given name.
func (ix *Index) FindByName(name string) []Entry {
	ix.nameOnce.Do(ix.buildNameMap)
	idxs := ix.byName[name]
	if len(idxs) == 0 {
		return nil
	}
	found := make([]Entry, 0, len(idxs))
	for _, i := range idxs {
		found = append(found, ix.entries[i])
	}
	return found
}

// Match returns all entries whose name matches re, in address order.
func (ix *Index) Match(re *regexp.Regexp) []Entry {
	var found []Entry
	for i := range ix.entries {
		if re.MatchString(ix.entries[i].Name) {
			found = append(found, ix.entries[i])
		}
	}
	return found
}

func (ix *Index) buildNameMap() {
	ix.byName = make(map[string][]int, len(ix.entries))
	for i := range ix.entries {
		ix.byName[ix.entries[i].Name] = append(ix.byName[ix.entries[i].Name], i)
	}
}

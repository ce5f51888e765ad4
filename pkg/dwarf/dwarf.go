// Package dwarf decodes the subset of DWARF debug information needed to
// symbolize addresses: compilation unit headers, DIE trees, the
// line-number program, and the address-range accelerator. Parsing is
// lazy; unit headers are indexed eagerly and everything else is decoded
// on demand and memoized per compilation unit.
//
// DWARF versions 2 through 5 are accepted. Split and skeleton units are
// reported as unsupported and skipped.
package dwarf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ThinkerYzu1/blazesym/pkg/elf"
)

var (
	// ErrMalformed reports debug information that violates the DWARF format.
	ErrMalformed = errors.New("malformed DWARF input")

	// ErrUnsupported reports a valid but unsupported DWARF variant,
	// e.g. split compilation units.
	ErrUnsupported = errors.New("unsupported DWARF variant")
)

// Sections holds the raw payloads of the .debug_* sections of one
// object. Absent sections are nil. The slices are borrowed from the
// object's mapping and must outlive the Data.
type Sections struct {
	Info       []byte
	Abbrev     []byte
	Str        []byte
	LineStr    []byte
	StrOffsets []byte
	Line       []byte
	Aranges    []byte
	Ranges     []byte
	Rnglists   []byte
	Order      binary.ByteOrder
}

// Load collects the debug sections of an open ELF object. It returns
// nil (and no error) when the object carries no .debug_info at all.
func Load(f *elf.File) (*Data, error) {
	sec := Sections{Order: f.ByteOrder()}
	for _, s := range []struct {
		name string
		dst  *[]byte
	}{
		{".debug_info", &sec.Info},
		{".debug_abbrev", &sec.Abbrev},
		{".debug_str", &sec.Str},
		{".debug_line_str", &sec.LineStr},
		{".debug_str_offsets", &sec.StrOffsets},
		{".debug_line", &sec.Line},
		{".debug_aranges", &sec.Aranges},
		{".debug_ranges", &sec.Ranges},
		{".debug_rnglists", &sec.Rnglists},
	} {
		data, err := f.SectionDataByName(s.name)
		if err != nil {
			var notFound *elf.ErrSectionNotFound
			if errors.As(err, &notFound) {
				continue
			}
			return nil, err
		}
		*s.dst = data
	}
	if sec.Info == nil || sec.Abbrev == nil {
		return nil, nil
	}
	return New(sec)
}

// PCRange is a half-open address interval [Low, High).
type PCRange struct {
	Low  uint64
	High uint64
}

// Contains reports whether pc falls inside the range.
func (r PCRange) Contains(pc uint64) bool {
	return pc >= r.Low && pc < r.High
}

// Data is the decoded debug information of one object.
type Data struct {
	sec   Sections
	units []*Unit

	cuIndexOnce sync.Once
	cuIndex     []cuRange

	abbrevMu    sync.Mutex
	abbrevCache map[uint64]abbrevTable
}

type cuRange struct {
	PCRange
	unit *Unit
}

// Unit is one compilation unit. The header fields are decoded eagerly;
// the DIE tree and line table are decoded on first use.
type Unit struct {
	d         *Data
	off       uint64 // header offset in .debug_info
	dieOff    uint64 // offset of the root DIE
	end       uint64 // one past the unit
	version   int
	is64      bool
	addrSize  int
	abbrevOff uint64

	dieOnce sync.Once
	dieErr  error
	root    *DIE
	byOff   map[uint64]*DIE

	strOffBase uint64
	rngBase    uint64

	lineOnce sync.Once
	lineErr  error
	line     *lineTable

	rangesOnce sync.Once
	rangesErr  error
	ranges     []PCRange
}

// New indexes the compilation unit headers in the given sections.
// Units with malformed headers terminate the scan; units with
// unsupported versions or unit types are skipped.
func New(sec Sections) (*Data, error) {
	d := &Data{sec: sec}
	r := elf.NewReader(sec.Info, sec.Order)
	for r.More() {
		off := r.Offset()
		u, err := d.parseUnitHeader(r, off)
		if err != nil {
			if errors.Is(err, ErrUnsupported) && u != nil {
				// Skippable unit; the length is known.
				if seekErr := r.Seek(u.end); seekErr != nil {
					return nil, seekErr
				}
				continue
			}
			return nil, err
		}
		d.units = append(d.units, u)
		if err := r.Seek(u.end); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// parseUnitHeader decodes one CU header at off. On ErrUnsupported the
// returned unit still carries a valid end offset for skipping.
func (d *Data) parseUnitHeader(r *elf.Reader, off uint64) (*Unit, error) {
	length, is64, err := initialLength(r)
	if err != nil {
		return nil, fmt.Errorf("unit at %#x: %w", off, err)
	}
	body := r.Offset()
	end := body + length
	if end > uint64(len(d.sec.Info)) {
		return nil, fmt.Errorf("unit at %#x length %#x beyond section: %w", off, length, ErrMalformed)
	}
	u := &Unit{d: d, off: off, end: end, is64: is64}

	version, err := r.U16()
	if err != nil {
		return nil, err
	}
	u.version = int(version)
	if u.version < 2 || u.version > 5 {
		return u, fmt.Errorf("unit at %#x version %d: %w", off, u.version, ErrUnsupported)
	}

	offSize := uint64(4)
	if is64 {
		offSize = 8
	}
	if u.version >= 5 {
		unitType, err := r.U8()
		if err != nil {
			return nil, err
		}
		switch unitType {
		case utCompile, utPartial:
		default:
			return u, fmt.Errorf("unit at %#x type %#x: %w", off, unitType, ErrUnsupported)
		}
		addrSize, err := r.U8()
		if err != nil {
			return nil, err
		}
		u.addrSize = int(addrSize)
		if u.abbrevOff, err = r.Uint(int(offSize)); err != nil {
			return nil, err
		}
	} else {
		if u.abbrevOff, err = r.Uint(int(offSize)); err != nil {
			return nil, err
		}
		addrSize, err := r.U8()
		if err != nil {
			return nil, err
		}
		u.addrSize = int(addrSize)
	}
	switch u.addrSize {
	case 2, 4, 8:
	default:
		return u, fmt.Errorf("unit at %#x address size %d: %w", off, u.addrSize, ErrUnsupported)
	}
	u.dieOff = r.Offset()
	return u, nil
}

// Units returns the indexed compilation units.
func (d *Data) Units() []*Unit {
	return d.units
}

// Version returns the unit's DWARF version.
func (u *Unit) Version() int {
	return u.version
}

// Offset returns the unit header's offset within .debug_info.
func (u *Unit) Offset() uint64 {
	return u.off
}

// FindUnit returns the compilation unit covering pc, or nil. The lookup
// is served from .debug_aranges when present, otherwise from per-unit
// ranges derived from the root DIE (or, failing that, the line table).
func (d *Data) FindUnit(pc uint64) *Unit {
	d.cuIndexOnce.Do(d.buildCUIndex)
	idx := sort.Search(len(d.cuIndex), func(i int) bool {
		return d.cuIndex[i].High > pc
	})
	if idx < len(d.cuIndex) && d.cuIndex[idx].Low <= pc {
		return d.cuIndex[idx].unit
	}
	return nil
}

func (d *Data) buildCUIndex() {
	if len(d.sec.Aranges) > 0 {
		if index, err := d.parseAranges(); err == nil && len(index) > 0 {
			d.cuIndex = index
			sortCUIndex(d.cuIndex)
			return
		}
	}
	for _, u := range d.units {
		ranges, err := u.PCRanges()
		if err != nil {
			continue
		}
		for _, rng := range ranges {
			d.cuIndex = append(d.cuIndex, cuRange{PCRange: rng, unit: u})
		}
	}
	sortCUIndex(d.cuIndex)
}

func sortCUIndex(index []cuRange) {
	sort.Slice(index, func(i, j int) bool {
		return index[i].Low < index[j].Low
	})
}

// parseAranges decodes .debug_aranges into a unit-range index.
func (d *Data) parseAranges() ([]cuRange, error) {
	unitByOff := make(map[uint64]*Unit, len(d.units))
	for _, u := range d.units {
		unitByOff[u.off] = u
	}

	var index []cuRange
	r := elf.NewReader(d.sec.Aranges, d.sec.Order)
	for r.More() {
		setOff := r.Offset()
		length, is64, err := initialLength(r)
		if err != nil {
			return nil, err
		}
		end := r.Offset() + length
		version, err := r.U16()
		if err != nil {
			return nil, err
		}
		if version != 2 {
			return nil, fmt.Errorf("aranges set at %#x version %d: %w", setOff, version, ErrUnsupported)
		}
		offSize := 4
		if is64 {
			offSize = 8
		}
		infoOff, err := r.Uint(offSize)
		if err != nil {
			return nil, err
		}
		addrSize, err := r.U8()
		if err != nil {
			return nil, err
		}
		segSize, err := r.U8()
		if err != nil {
			return nil, err
		}
		if segSize != 0 {
			return nil, fmt.Errorf("aranges set at %#x with segment selectors: %w", setOff, ErrUnsupported)
		}
		switch addrSize {
		case 2, 4, 8:
		default:
			return nil, fmt.Errorf("aranges set at %#x address size %d: %w", setOff, addrSize, ErrMalformed)
		}

		// Tuples are aligned to twice the address size from the start
		// of the set.
		tupleSize := uint64(addrSize) * 2
		if rem := (r.Offset() - setOff) % tupleSize; rem != 0 {
			if err := r.Skip(tupleSize - rem); err != nil {
				return nil, err
			}
		}

		unit := unitByOff[infoOff]
		for r.Offset() < end {
			addr, err := r.Uint(int(addrSize))
			if err != nil {
				return nil, err
			}
			size, err := r.Uint(int(addrSize))
			if err != nil {
				return nil, err
			}
			if addr == 0 && size == 0 {
				break
			}
			if unit != nil && size > 0 {
				index = append(index, cuRange{PCRange{Low: addr, High: addr + size}, unit})
			}
		}
		if err := r.Seek(end); err != nil {
			return nil, err
		}
	}
	return index, nil
}

// PCRanges returns the address intervals covered by the unit, derived
// from the root DIE or, when the root carries no range information,
// from the line table's sequences.
func (u *Unit) PCRanges() ([]PCRange, error) {
	u.rangesOnce.Do(func() {
		u.ranges, u.rangesErr = u.computePCRanges()
	})
	return u.ranges, u.rangesErr
}

func (u *Unit) computePCRanges() ([]PCRange, error) {
	root, err := u.Root()
	if err != nil {
		return nil, err
	}
	ranges, err := u.DIERanges(root)
	if err == nil && len(ranges) > 0 {
		return ranges, nil
	}
	lt, err := u.lineTable()
	if err != nil || lt == nil {
		return nil, fmt.Errorf("unit at %#x has no address ranges: %w", u.off, ErrMalformed)
	}
	return lt.coverage(), nil
}

// initialLength reads a DWARF initial-length field, reporting whether
// the 64-bit format is in use.
func initialLength(r *elf.Reader) (uint64, bool, error) {
	length32, err := r.U32()
	if err != nil {
		return 0, false, err
	}
	if length32 == 0xffffffff {
		length, err := r.U64()
		return length, true, err
	}
	if length32 >= 0xfffffff0 {
		return 0, false, fmt.Errorf("reserved initial length %#x: %w", length32, ErrMalformed)
	}
	return uint64(length32), false, nil
}

package dwarf

import (
	"fmt"

	"github.com/ThinkerYzu1/blazesym/pkg/elf"
)

type abbrevSpec struct {
	attr Attr
	form form
	// implicitConst carries the constant of a DW_FORM_implicit_const
	// attribute, which is stored in the abbreviation itself.
	implicitConst int64
}

type abbrevDecl struct {
	tag      Tag
	children bool
	specs    []abbrevSpec
}

type abbrevTable map[uint64]*abbrevDecl

// abbrevTableAt decodes the abbreviation declarations starting at off in
// .debug_abbrev. Tables are memoized per offset; multiple units commonly
// share one table.
func (d *Data) abbrevTableAt(off uint64) (abbrevTable, error) {
	d.abbrevMu.Lock()
	defer d.abbrevMu.Unlock()
	if table, ok := d.abbrevCache[off]; ok {
		return table, nil
	}

	if off > uint64(len(d.sec.Abbrev)) {
		return nil, fmt.Errorf("abbrev offset %#x beyond section: %w", off, ErrMalformed)
	}
	r := elf.NewReader(d.sec.Abbrev, d.sec.Order)
	if err := r.Seek(off); err != nil {
		return nil, err
	}

	table := make(abbrevTable)
	for {
		code, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		if code == 0 {
			break
		}
		tag, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		childByte, err := r.U8()
		if err != nil {
			return nil, err
		}
		decl := &abbrevDecl{tag: Tag(tag), children: childByte != 0}
		for {
			attr, err := r.Uleb128()
			if err != nil {
				return nil, err
			}
			f, err := r.Uleb128()
			if err != nil {
				return nil, err
			}
			if attr == 0 && f == 0 {
				break
			}
			spec := abbrevSpec{attr: Attr(attr), form: form(f)}
			if spec.form == formImplicitConst {
				if spec.implicitConst, err = r.Sleb128(); err != nil {
					return nil, err
				}
			}
			decl.specs = append(decl.specs, spec)
		}
		table[code] = decl
	}

	if d.abbrevCache == nil {
		d.abbrevCache = make(map[uint64]abbrevTable)
	}
	d.abbrevCache[off] = table
	return table, nil
}

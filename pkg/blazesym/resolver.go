package blazesym

import (
	stdelf "debug/elf"
	"regexp"
	"sort"
	"sync"

	"github.com/ThinkerYzu1/blazesym/pkg/dwarf"
	"github.com/ThinkerYzu1/blazesym/pkg/elf"
	"github.com/ThinkerYzu1/blazesym/pkg/ksym"
	"github.com/ThinkerYzu1/blazesym/pkg/symbol"
)

// resolver serves one loaded object: an ELF file at a base address, or
// the kernel. Implementations are immutable after construction and safe
// for concurrent use.
type resolver interface {
	// loadAddr is the address the object is loaded at.
	loadAddr() uint64
	// objPath is the backing file.
	objPath() string
	// covers reports whether the runtime address belongs to the object.
	covers(addr uint64) bool
	// symbolize resolves one covered runtime address into its inline
	// chain, innermost first.
	symbolize(addr uint64, o *options) []SymbolizedResult
	// findByName locates symbols with exactly the given name.
	findByName(name string, fo *FindOpts) []SymbolInfo
	// matchRegex locates symbols whose name matches re.
	matchRegex(re *regexp.Regexp, fo *FindOpts) []SymbolInfo
	// close releases the object's file mappings.
	close()
}

// resolverMap is the per-call view over the materialized sources,
// sorted by load address.
type resolverMap struct {
	resolvers []resolver
}

func (rm *resolverMap) add(r resolver) {
	rm.resolvers = append(rm.resolvers, r)
}

func (rm *resolverMap) sorted() {
	sort.SliceStable(rm.resolvers, func(i, j int) bool {
		return rm.resolvers[i].loadAddr() < rm.resolvers[j].loadAddr()
	})
}

// find picks the owner of addr: the resolver with the greatest load
// address at or below addr whose object actually covers it.
func (rm *resolverMap) find(addr uint64) resolver {
	idx := sort.Search(len(rm.resolvers), func(i int) bool {
		return rm.resolvers[i].loadAddr() > addr
	})
	for i := idx - 1; i >= 0; i-- {
		if rm.resolvers[i].covers(addr) {
			return rm.resolvers[i]
		}
	}
	return nil
}

// elfResolver symbolizes addresses of one ELF object mapped at a base
// address. The symbol index and debug info are decoded on first use.
type elfResolver struct {
	path string
	load uint64
	file *elf.File

	ixOnce sync.Once
	ix     *symbol.Index
	ixErr  error

	dwOnce sync.Once
	dw     *dwarf.Data
	dwErr  error
}

func newElfResolver(path string, load uint64, file *elf.File) *elfResolver {
	return &elfResolver{path: path, load: load, file: file}
}

func (er *elfResolver) loadAddr() uint64 { return er.load }
func (er *elfResolver) objPath() string  { return er.path }

func (er *elfResolver) close() {
	er.file.Close()
}

func (er *elfResolver) covers(addr uint64) bool {
	if addr < er.load {
		return false
	}
	return er.file.CoversVaddr(addr - er.load)
}

func (er *elfResolver) index() *symbol.Index {
	er.ixOnce.Do(func() {
		syms, err := er.file.Symbols()
		if err != nil {
			er.ixErr = err
			er.ix = symbol.NewIndex(nil)
			return
		}
		entries := make([]symbol.Entry, len(syms))
		for i := range syms {
			entries[i] = symbol.Entry{
				Name: syms[i].Name,
				Addr: syms[i].Value,
				Size: syms[i].Size,
				Kind: symKind(&syms[i]),
			}
		}
		er.ix = symbol.NewIndex(entries)
	})
	return er.ix
}

func (er *elfResolver) debugData() *dwarf.Data {
	er.dwOnce.Do(func() {
		er.dw, er.dwErr = dwarf.Load(er.file)
	})
	return er.dw
}

func (er *elfResolver) symbolize(addr uint64, o *options) []SymbolizedResult {
	off := addr - er.load
	if !er.file.CoversVaddr(off) {
		return nil
	}

	sym, symOK := er.index().Find(off)
	frames := dwarfFrames(er.debugData(), off, o)

	return assembleResults(assembleIn{
		load:    er.load,
		objPath: er.path,
		sym:     sym,
		symOK:   symOK,
		frames:  frames,
		opts:    o,
	})
}

func (er *elfResolver) findByName(name string, fo *FindOpts) []SymbolInfo {
	return er.symbolInfos(er.index().FindByName(name), fo)
}

func (er *elfResolver) matchRegex(re *regexp.Regexp, fo *FindOpts) []SymbolInfo {
	return er.symbolInfos(er.index().Match(re), fo)
}

func (er *elfResolver) symbolInfos(entries []symbol.Entry, fo *FindOpts) []SymbolInfo {
	var infos []SymbolInfo
	for _, e := range entries {
		if !fo.wantKind(e.Kind) {
			continue
		}
		info := SymbolInfo{
			Name:    e.Name,
			Address: er.load + e.Addr,
			Size:    e.Size,
			Kind:    e.Kind,
		}
		if fo.FileOffset {
			info.FileOffset, _ = er.file.VaddrToFileOff(e.Addr)
		}
		if fo.ObjPath {
			info.ObjPath = er.path
		}
		infos = append(infos, info)
	}
	return infos
}

// kernelResolver symbolizes kernel addresses from a kallsyms table,
// optionally refined with debug info from a kernel image.
type kernelResolver struct {
	table *ksym.Table
	image *elf.File
	dw    *dwarf.Data
}

func (kr *kernelResolver) loadAddr() uint64 { return 0 }

func (kr *kernelResolver) objPath() string {
	if kr.image != nil {
		return kr.image.Path()
	}
	return kr.table.Path()
}

func (kr *kernelResolver) close() {
	if kr.image != nil {
		kr.image.Close()
	}
}

func (kr *kernelResolver) covers(addr uint64) bool {
	return kr.table.Covers(addr)
}

func (kr *kernelResolver) symbolize(addr uint64, o *options) []SymbolizedResult {
	sym, symOK := kr.table.Index().Find(addr)
	frames := dwarfFrames(kr.dw, addr, o)
	return assembleResults(assembleIn{
		load:    0,
		objPath: kr.objPath(),
		sym:     sym,
		symOK:   symOK,
		frames:  frames,
		opts:    o,
	})
}

func (kr *kernelResolver) findByName(name string, fo *FindOpts) []SymbolInfo {
	return kr.symbolInfos(kr.table.Index().FindByName(name), fo)
}

func (kr *kernelResolver) matchRegex(re *regexp.Regexp, fo *FindOpts) []SymbolInfo {
	return kr.symbolInfos(kr.table.Index().Match(re), fo)
}

func (kr *kernelResolver) symbolInfos(entries []symbol.Entry, fo *FindOpts) []SymbolInfo {
	var infos []SymbolInfo
	for _, e := range entries {
		if !fo.wantKind(e.Kind) {
			continue
		}
		info := SymbolInfo{
			Name:    e.Name,
			Address: e.Addr,
			Size:    e.Size,
			Kind:    e.Kind,
		}
		if fo.FileOffset && kr.image != nil {
			info.FileOffset, _ = kr.image.VaddrToFileOff(e.Addr)
		}
		if fo.ObjPath {
			info.ObjPath = kr.objPath()
		}
		infos = append(infos, info)
	}
	return infos
}

func symKind(s *elf.Sym) symbol.Kind {
	switch s.Type() {
	case stdelf.STT_FUNC:
		return symbol.KindFunc
	case stdelf.STT_OBJECT:
		return symbol.KindObject
	default:
		return symbol.KindOther
	}
}

// dwFrame is one level of the DWARF view of an address: the innermost
// frame first, the concrete subprogram last.
type dwFrame struct {
	name    string
	nameOK  bool
	entryPC uint64
	pcOK    bool
	file    string
	line    uint32
	column  uint32
}

// dwarfFrames resolves the inline chain and source coordinates of a
// file-local address. The result is ordered innermost first; an empty
// result means the object has no usable debug info for the address.
func dwarfFrames(dw *dwarf.Data, off uint64, o *options) []dwFrame {
	if dw == nil {
		return nil
	}
	unit := dw.FindUnit(off)
	if unit == nil {
		return nil
	}

	var row dwarf.LineRow
	rowOK := false
	if o.lineInfo {
		row, rowOK = unit.LineForPC(off)
	}

	sub, err := unit.FindSubprogram(off)
	if err != nil || sub == nil {
		if !rowOK {
			return nil
		}
		// Line info without a subprogram still names the source.
		return []dwFrame{{file: row.File, line: row.Line, column: row.Column}}
	}

	var chain []*dwarf.DIE
	if o.inlineFrames {
		chain = unit.InlineChain(sub, off)
	}

	// Levels are assembled innermost first. The innermost frame is
	// located at the address's own source row; every enclosing frame is
	// located at the call site of the level one deeper.
	levels := make([]*dwarf.DIE, 0, len(chain)+1)
	for i := len(chain) - 1; i >= 0; i-- {
		levels = append(levels, chain[i])
	}
	levels = append(levels, sub)

	frames := make([]dwFrame, len(levels))
	for i, die := range levels {
		f := &frames[i]
		f.name, f.nameOK = unit.DIEName(die)
		f.entryPC, f.pcOK = unit.EntryPC(die)
		if i == 0 {
			if rowOK {
				f.file, f.line, f.column = row.File, row.Line, row.Column
			} else if declFile, ok := unit.DeclFile(die); ok && o.lineInfo {
				f.file = declFile
			}
		} else if o.lineInfo {
			f.file, f.line, f.column = unit.CallSite(levels[i-1])
		}
	}
	return frames
}

type assembleIn struct {
	load    uint64
	objPath string
	sym     symbol.Entry
	symOK   bool
	frames  []dwFrame
	opts    *options
}

// assembleResults merges the symbol-table view and the DWARF view of an
// address into the public result chain.
func assembleResults(in assembleIn) []SymbolizedResult {
	concreteStart := uint64(0)
	concreteName := ""
	if in.symOK {
		concreteStart = in.load + in.sym.Addr
		concreteName = in.sym.Name
	}

	if len(in.frames) == 0 {
		if !in.symOK {
			return nil
		}
		return []SymbolizedResult{{
			Symbol:       in.opts.symbolName(concreteName),
			StartAddress: concreteStart,
			Path:         in.objPath,
		}}
	}

	results := make([]SymbolizedResult, 0, len(in.frames))
	for i, f := range in.frames {
		res := SymbolizedResult{
			Path:       in.objPath,
			SourceFile: f.file,
			Line:       f.line,
			Column:     f.column,
		}
		concrete := i == len(in.frames)-1
		switch {
		case concrete && in.symOK:
			// The symbol table names the concrete frame; it is the
			// richer source for the start address.
			res.Symbol = in.opts.symbolName(concreteName)
			res.StartAddress = concreteStart
		case f.nameOK:
			res.Symbol = in.opts.symbolName(f.name)
			if f.pcOK {
				res.StartAddress = in.load + f.entryPC
			}
		case concrete && f.pcOK:
			res.StartAddress = in.load + f.entryPC
		}
		results = append(results, res)
	}
	return results
}

// Package blazesym symbolizes runtime instruction addresses into
// function names and source locations. Addresses are resolved against a
// set of symbol sources: ELF objects at known base addresses, a live
// process's mapped objects, or the kernel's kallsyms table plus an
// optional kernel image.
//
// A Symbolizer caches every object it opens by (canonical path, load
// address) and may be shared across goroutines; construction and Close
// are exclusive.
package blazesym

import (
	stdelf "debug/elf"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"

	"go.uber.org/atomic"

	"github.com/ThinkerYzu1/blazesym/pkg/elf"
	"github.com/ThinkerYzu1/blazesym/pkg/proc"
	"github.com/ThinkerYzu1/blazesym/pkg/symbol"
)

// SymSrc describes one source of symbols and debug information. The
// implementations are Elf, Kernel and Process.
type SymSrc interface {
	isSymSrc()
}

// Elf names a single ELF file loaded at a base address: an executable
// or a shared object.
type Elf struct {
	// Path of the ELF file.
	Path string
	// LoadAddress is the runtime address the object is loaded at.
	// Adding it to a symbol's file-local address yields the symbol's
	// runtime address.
	LoadAddress uint64
}

// Kernel names the kernel's symbol sources. Zero values probe the
// well-known locations: /proc/kallsyms for the symbol table, and
// /boot/vmlinux-<release>, /usr/lib/debug/boot/vmlinux-<release> and
// /lib/modules/<release>/build/vmlinux for the image.
type Kernel struct {
	// Kallsyms is the path of a kallsyms copy.
	Kallsyms string
	// KernelImage is the path of a kernel image with debug info.
	KernelImage string
}

// Process expands to the currently mapped executable objects of a live
// process. A Pid of 0 names the calling process.
type Process struct {
	Pid int
}

func (Elf) isSymSrc()     {}
func (Kernel) isSymSrc()  {}
func (Process) isSymSrc() {}

// SymbolizedResult is one frame of a symbolized address. An address
// maps to a chain of frames when it sits inside inlined code; the chain
// is ordered innermost first and always ends with the concrete,
// non-inlined function.
type SymbolizedResult struct {
	// Symbol is the name of the function the frame executes in. Empty
	// when only source coordinates are known.
	Symbol string
	// StartAddress is the function's load-adjusted start address.
	StartAddress uint64
	// Path is the object file that defines the symbol.
	Path string
	// SourceFile is the source file of the frame's location.
	SourceFile string
	// Line is the 1-based source line; 0 means unknown.
	Line uint32
	// Column is the 1-based source column; 0 means unknown.
	Column uint32
}

// SymbolInfo is one match of a name or pattern lookup.
type SymbolInfo struct {
	Name    string
	Address uint64
	Size    uint64
	Kind    symbol.Kind
	// FileOffset is filled when FindOpts.FileOffset is set.
	FileOffset uint64
	// ObjPath is filled when FindOpts.ObjPath is set.
	ObjPath string
}

// FindOpts tunes the name and pattern lookups.
type FindOpts struct {
	// FileOffset requests the symbol's offset within its object file.
	FileOffset bool
	// ObjPath requests the path of the defining object file.
	ObjPath bool
	// Kind restricts matches to one symbol kind. The zero value,
	// KindOther, matches every kind.
	Kind symbol.Kind
}

func (fo *FindOpts) wantKind(k symbol.Kind) bool {
	return fo.Kind == symbol.KindOther || fo.Kind == k
}

// Stats are cumulative counters of a Symbolizer instance.
type Stats struct {
	// CacheHits counts loaded objects served from the cache.
	CacheHits uint64
	// CacheMisses counts objects that had to be opened and parsed.
	CacheMisses uint64
	// Objects counts the currently cached objects.
	Objects uint64
}

type cacheKey struct {
	path string
	load uint64
}

// Symbolizer resolves addresses against configured symbol sources.
type Symbolizer struct {
	opts options

	mu     sync.RWMutex
	cache  map[cacheKey]resolver
	closed bool

	hits   *atomic.Uint64
	misses *atomic.Uint64
}

// New creates a Symbolizer. No I/O happens until the first call that
// needs a source.
func New(opts ...Option) *Symbolizer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Symbolizer{
		opts:   o,
		cache:  make(map[cacheKey]resolver),
		hits:   atomic.NewUint64(0),
		misses: atomic.NewUint64(0),
	}
}

// Close releases every cached object. The Symbolizer must not be used
// afterwards.
func (s *Symbolizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, r := range s.cache {
		r.close()
	}
	s.cache = nil
	s.closed = true
}

// Stats returns the instance's cumulative counters.
func (s *Symbolizer) Stats() Stats {
	s.mu.RLock()
	objects := len(s.cache)
	s.mu.RUnlock()
	return Stats{
		CacheHits:   s.hits.Load(),
		CacheMisses: s.misses.Load(),
		Objects:     uint64(objects),
	}
}

// Symbolize resolves addrs against the given sources. The outer result
// list is positional over addrs; each inner list is the address's
// inline chain, innermost first, and is empty when the address did not
// resolve. Sources that fail to load are skipped; only argument-shape
// problems surface as errors.
func (s *Symbolizer) Symbolize(srcs []SymSrc, addrs []uint64) ([][]SymbolizedResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	results := make([][]SymbolizedResult, len(addrs))
	if len(addrs) == 0 {
		return results, nil
	}

	rm := s.materialize(srcs)
	for i, addr := range addrs {
		r := rm.find(addr)
		if r == nil {
			continue
		}
		results[i] = r.symbolize(addr, &s.opts)
	}
	return results, nil
}

// FindAddresses looks up symbols by exact name across the given
// sources. The outer result list is positional over names.
func (s *Symbolizer) FindAddresses(srcs []SymSrc, names []string) ([][]SymbolInfo, error) {
	return s.FindAddressesOpt(srcs, names, FindOpts{})
}

// FindAddressesOpt is FindAddresses with explicit options.
func (s *Symbolizer) FindAddressesOpt(srcs []SymSrc, names []string, fo FindOpts) ([][]SymbolInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	results := make([][]SymbolInfo, len(names))
	if len(names) == 0 {
		return results, nil
	}

	rm := s.materialize(srcs)
	for i, name := range names {
		for _, r := range rm.resolvers {
			results[i] = append(results[i], r.findByName(name, &fo)...)
		}
	}
	return results, nil
}

// FindAddressRegex locates the symbols matching pattern across the
// given sources.
func (s *Symbolizer) FindAddressRegex(srcs []SymSrc, pattern string) ([]SymbolInfo, error) {
	return s.FindAddressRegexOpt(srcs, pattern, FindOpts{})
}

// FindAddressRegexOpt is FindAddressRegex with explicit options.
func (s *Symbolizer) FindAddressRegexOpt(srcs []SymSrc, pattern string, fo FindOpts) ([]SymbolInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	var infos []SymbolInfo
	rm := s.materialize(srcs)
	for _, r := range rm.resolvers {
		infos = append(infos, r.matchRegex(re, &fo)...)
	}
	return infos, nil
}

func (s *Symbolizer) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// materialize turns the configured sources into resolvers, loading
// uncached objects on the way. Sources that fail to load are dropped;
// the remaining sources still serve the call.
func (s *Symbolizer) materialize(srcs []SymSrc) *resolverMap {
	rm := &resolverMap{}
	for _, src := range srcs {
		switch cfg := src.(type) {
		case Elf:
			if r, err := s.elfResolverFor(cfg.Path, cfg.LoadAddress, nil); err == nil {
				rm.add(r)
			}
		case Process:
			for _, r := range s.processResolvers(cfg.Pid) {
				rm.add(r)
			}
		case Kernel:
			if r, err := s.kernelResolverFor(cfg); err == nil {
				rm.add(r)
			}
		}
	}
	rm.sorted()
	return rm
}

// elfResolverFor returns the cached resolver for (path, load) or
// creates it. An already open file may be handed in to be adopted; it
// is closed when the cache wins.
func (s *Symbolizer) elfResolverFor(path string, load uint64, open *elf.File) (resolver, error) {
	key := cacheKey{path: canonicalPath(path), load: load}

	s.mu.RLock()
	r, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		if open != nil {
			open.Close()
		}
		s.hits.Inc()
		return r, nil
	}
	s.misses.Inc()

	file := open
	if file == nil {
		var err error
		file, err = elf.Open(path)
		if err != nil {
			return nil, err
		}
	}
	er := newElfResolver(path, load, file)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[key]; ok {
		// Lost the publication race; keep the first copy.
		file.Close()
		return cached, nil
	}
	if s.closed {
		file.Close()
		return nil, ErrClosed
	}
	s.cache[key] = er
	return er, nil
}

// processResolvers expands a pid into resolvers for its mapped
// executable objects.
func (s *Symbolizer) processResolvers(pid int) []resolver {
	entries, err := proc.Maps(pid)
	if err != nil {
		return nil
	}

	var out []resolver
	seen := make(map[cacheKey]bool)
	for _, entry := range proc.ExecutableEntries(entries) {
		file, err := elf.Open(entry.Path)
		if err != nil {
			continue
		}
		load, ok := loadAddress(&entry, file)
		if !ok {
			file.Close()
			continue
		}
		key := cacheKey{path: canonicalPath(entry.Path), load: load}
		if seen[key] {
			file.Close()
			continue
		}
		seen[key] = true
		if r, err := s.elfResolverFor(entry.Path, load, file); err == nil {
			out = append(out, r)
		}
	}
	return out
}

// loadAddress computes the base address of a mapped object so that
// load + file-local address = runtime address. The mapping start
// corresponds to file offset entry.Offset; the segment geometry of the
// first PT_LOAD anchors file offsets to virtual addresses.
func loadAddress(entry *proc.MapEntry, file *elf.File) (uint64, bool) {
	for _, p := range file.Progs() {
		if p.Type != stdelf.PT_LOAD {
			continue
		}
		return entry.Start - entry.Offset - (p.Vaddr - p.Off), true
	}
	return 0, false
}

func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

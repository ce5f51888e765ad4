package blazesym

import (
	"fmt"
	"os"

	"github.com/ThinkerYzu1/blazesym/pkg/dwarf"
	"github.com/ThinkerYzu1/blazesym/pkg/elf"
	"github.com/ThinkerYzu1/blazesym/pkg/ksym"
	"github.com/ThinkerYzu1/blazesym/pkg/proc"
)

// kernelImageCandidates lists the well-known locations of a kernel
// image with debug info, probed in order. This order is part of the
// contract.
func kernelImageCandidates(release string) []string {
	return []string{
		"/boot/vmlinux-" + release,
		"/usr/lib/debug/boot/vmlinux-" + release,
		"/lib/modules/" + release + "/build/vmlinux",
	}
}

// findKernelImage probes the candidate paths of the running kernel's
// image; the first readable file wins.
func findKernelImage() (string, error) {
	release, err := proc.KernelRelease()
	if err != nil {
		return "", err
	}
	for _, candidate := range kernelImageCandidates(release) {
		f, err := os.Open(candidate)
		if err != nil {
			continue
		}
		f.Close()
		return candidate, nil
	}
	return "", fmt.Errorf("no kernel image for release %s: %w", release, os.ErrNotExist)
}

// kernelResolverFor builds (or fetches from the cache) the resolver of
// a kernel source. The kallsyms table is required; the image is an
// optional refinement and its absence is not an error.
func (s *Symbolizer) kernelResolverFor(cfg Kernel) (resolver, error) {
	kallsymsPath := cfg.Kallsyms
	if kallsymsPath == "" {
		kallsymsPath = ksym.DefaultPath
	}
	imagePath := cfg.KernelImage
	if imagePath == "" {
		imagePath, _ = findKernelImage()
	}

	key := cacheKey{path: "kernel\x00" + canonicalPath(kallsymsPath) + "\x00" + imagePath}
	s.mu.RLock()
	r, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		s.hits.Inc()
		return r, nil
	}
	s.misses.Inc()

	table, err := ksym.Load(kallsymsPath)
	if err != nil {
		return nil, err
	}
	kr := &kernelResolver{table: table}
	if imagePath != "" {
		if image, err := elf.Open(imagePath); err == nil {
			if dw, err := dwarf.Load(image); err == nil {
				kr.image = image
				kr.dw = dw
			} else {
				image.Close()
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[key]; ok {
		kr.close()
		return cached, nil
	}
	if s.closed {
		kr.close()
		return nil, ErrClosed
	}
	s.cache[key] = kr
	return kr, nil
}

package dwarf

// FindSubprogram returns the concrete subprogram DIE whose ranges
// contain pc, or nil when the unit has none. Namespaces and nested
// scopes are searched; declarations are skipped.
func (u *Unit) FindSubprogram(pc uint64) (*DIE, error) {
	root, err := u.Root()
	if err != nil {
		return nil, err
	}
	return u.findSubprogram(root, pc), nil
}

func (u *Unit) findSubprogram(die *DIE, pc uint64) *DIE {
	for _, child := range die.Children {
		if child.Tag == TagSubprogram {
			if u.AttrFlag(child, AttrDeclaration) {
				continue
			}
			if u.RangesContain(child, pc) {
				return child
			}
			// A nested subprogram can sit inside a non-covering parent
			// only when the parent has no ranges of its own.
			if len(child.Children) > 0 {
				ranges, err := u.DIERanges(child)
				if err == nil && len(ranges) == 0 {
					if sub := u.findSubprogram(child, pc); sub != nil {
						return sub
					}
				}
			}
			continue
		}
		if len(child.Children) > 0 {
			if sub := u.findSubprogram(child, pc); sub != nil {
				return sub
			}
		}
	}
	return nil
}

// InlineChain returns the DW_TAG_inlined_subroutine entries below the
// concrete subprogram whose ranges contain pc, ordered outermost first.
func (u *Unit) InlineChain(sub *DIE, pc uint64) []*DIE {
	var chain []*DIE
	u.collectInlined(sub, pc, &chain)
	return chain
}

func (u *Unit) collectInlined(die *DIE, pc uint64, chain *[]*DIE) {
	for _, child := range die.Children {
		switch child.Tag {
		case TagInlinedSubroutine:
			if !u.RangesContain(child, pc) {
				continue
			}
			*chain = append(*chain, child)
			u.collectInlined(child, pc, chain)
			return
		case TagSubprogram:
			// A nested concrete function; its inlines do not belong to
			// this frame chain.
		default:
			// Lexical blocks and similar scopes either cover pc or
			// carry no range information at all; descend into both.
			if len(child.Children) == 0 {
				continue
			}
			ranges, err := u.DIERanges(child)
			if err != nil {
				continue
			}
			if len(ranges) == 0 || u.RangesContain(child, pc) {
				u.collectInlined(child, pc, chain)
			}
		}
	}
}

// DIEName resolves the name of a subprogram or inlined subroutine,
// following DW_AT_abstract_origin and DW_AT_specification references,
// which may cross compilation units. The linkage name is preferred over
// the plain name, matching what symbol tables carry.
func (u *Unit) DIEName(die *DIE) (string, bool) {
	return u.dieName(die, 0)
}

func (u *Unit) dieName(die *DIE, depth int) (string, bool) {
	if depth > 4 {
		return "", false
	}
	if name, ok := u.AttrString(die, AttrLinkageName); ok {
		return name, true
	}
	if name, ok := u.AttrString(die, AttrMIPSLinkageName); ok {
		return name, true
	}
	if name, ok := u.AttrString(die, AttrName); ok {
		return name, true
	}
	for _, attr := range []Attr{AttrAbstractOrigin, AttrSpecification} {
		ref, ok := u.AttrRef(die, attr)
		if !ok {
			continue
		}
		target, owner, err := u.d.dieAtGlobal(ref)
		if err != nil {
			continue
		}
		if name, ok := owner.dieName(target, depth+1); ok {
			return name, true
		}
	}
	return "", false
}

// CallSite returns the call-site coordinates recorded on an inlined
// subroutine: where its body was inlined into the enclosing function.
func (u *Unit) CallSite(die *DIE) (file string, line, column uint32) {
	if idx, ok := u.AttrUint(die, AttrCallFile); ok {
		file, _ = u.FileName(idx)
	}
	if v, ok := u.AttrUint(die, AttrCallLine); ok {
		line = clampU32(int64(v))
	}
	if v, ok := u.AttrUint(die, AttrCallColumn); ok {
		column = clampU32(int64(v))
	}
	return file, line, column
}

// EntryPC returns the lowest address covered by the DIE.
func (u *Unit) EntryPC(die *DIE) (uint64, bool) {
	ranges, err := u.DIERanges(die)
	if err != nil || len(ranges) == 0 {
		return 0, false
	}
	low := ranges[0].Low
	for _, rng := range ranges[1:] {
		if rng.Low < low {
			low = rng.Low
		}
	}
	return low, true
}

// DeclFile returns the file that declares the DIE. Unlike DIEName it
// follows at most one DW_AT_abstract_origin or DW_AT_specification
// reference.
func (u *Unit) DeclFile(die *DIE) (string, bool) {
	if idx, ok := u.AttrUint(die, AttrDeclFile); ok {
		return u.FileName(idx)
	}
	for _, attr := range []Attr{AttrAbstractOrigin, AttrSpecification} {
		ref, ok := u.AttrRef(die, attr)
		if !ok {
			continue
		}
		target, owner, err := u.d.dieAtGlobal(ref)
		if err != nil {
			continue
		}
		if idx, ok := owner.AttrUint(target, AttrDeclFile); ok {
			return owner.FileName(idx)
		}
	}
	return "", false
}

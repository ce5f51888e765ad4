package blazesym

import (
	"github.com/ianlancetaylor/demangle"
)

type options struct {
	lineInfo     bool
	inlineFrames bool
	demangle     bool
}

func defaultOptions() options {
	return options{
		lineInfo:     true,
		inlineFrames: true,
	}
}

// Option configures a Symbolizer.
type Option func(*options)

// WithLineInfo switches source file and line number resolution on or
// off. It is on by default.
func WithLineInfo(enabled bool) Option {
	return func(o *options) { o.lineInfo = enabled }
}

// WithInlineFrames switches expansion of inlined call chains on or off.
// It is on by default.
func WithInlineFrames(enabled bool) Option {
	return func(o *options) { o.inlineFrames = enabled }
}

// WithDemangling switches demangling of C++ and Rust symbol names on.
// Raw symbol table names are returned by default.
func WithDemangling(enabled bool) Option {
	return func(o *options) { o.demangle = enabled }
}

// symbolName applies the demangling option to a raw symbol name.
func (o *options) symbolName(name string) string {
	if !o.demangle {
		return name
	}
	if pretty, err := demangle.ToString(name); err == nil {
		return pretty
	}
	return name
}

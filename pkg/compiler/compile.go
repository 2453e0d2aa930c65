package compiler

import (
	"strings"

	"goc4/pkg/vm"
)

// Compile translates one source file into a program the machine can
// load. The front end is a single pass: the parser pulls tokens from
// the lexer on demand and emits instructions directly, so compilation
// stops at the first error.
func Compile(src string) (prog *vm.Program, err error) {
	defer attachSnippet(src, &err)
	defer trap(&err)
	p := newParser(src)
	p.program()
	return p.finish(), nil
}

// Symbols compiles src and returns a readable dump of every declared
// global, function, and enum constant, for tooling.
func Symbols(src string) (dump string, err error) {
	defer attachSnippet(src, &err)
	defer trap(&err)
	p := newParser(src)
	p.program()
	return p.syms.String(), nil
}

// attachSnippet decorates a CompileError with the offending source
// line. Deferred before trap so it sees the recovered error.
func attachSnippet(src string, err *error) {
	ce, ok := (*err).(*CompileError)
	if !ok || ce.Snippet != "" {
		return
	}
	lines := strings.Split(src, "\n")
	if ce.Line >= 1 && ce.Line <= len(lines) {
		ce.Snippet = strings.TrimSpace(lines[ce.Line-1])
	}
}

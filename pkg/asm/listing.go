package asm

import (
	"fmt"
	"strings"

	"goc4/pkg/vm"
)

// Disassemble renders the code segment one instruction per line, with
// the entry point marked.
func Disassemble(prog *vm.Program) string {
	var b strings.Builder
	for i, in := range prog.Code {
		mark := " "
		if i == prog.Entry {
			mark = ">"
		}
		fmt.Fprintf(&b, "%s%4d  %s\n", mark, i, in)
	}
	return b.String()
}

// Listing interleaves source lines with the instructions compiled from
// them, using the program's source map. Source lines that produced no
// code are still printed, in order, so the output reads as an annotated
// copy of the input.
func Listing(prog *vm.Program, src string) string {
	lines := strings.Split(src, "\n")
	var b strings.Builder
	printed := 0
	for i, in := range prog.Code {
		if line, ok := prog.SourceMap[i]; ok {
			for printed < line && printed < len(lines) {
				fmt.Fprintf(&b, "%4d: %s\n", printed+1, lines[printed])
				printed++
			}
		}
		fmt.Fprintf(&b, "          %4d: %s\n", i, in)
	}
	for printed < len(lines) {
		if strings.TrimSpace(lines[printed]) == "" && printed == len(lines)-1 {
			break
		}
		fmt.Fprintf(&b, "%4d: %s\n", printed+1, lines[printed])
		printed++
	}
	return b.String()
}

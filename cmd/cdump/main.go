package main

import (
	"fmt"
	"os"

	"goc4/pkg/asm"
	"goc4/pkg/compiler"
	"goc4/pkg/utils"
	"goc4/pkg/vm"
)

const testSource = `int x;
float pi;

int main() {
	x = 10;
	pi = 3.14;
	return x + 20;
}
`

func main() {
	src := testSource
	if len(os.Args) > 1 {
		var err error
		src, _, err = utils.LoadSource(os.Args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "read error:", err)
			os.Exit(1)
		}
	}

	fmt.Printf("Source:\n%s\n", src)

	// Lex
	tokens, err := compiler.Tokens(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lex error:", err)
		os.Exit(1)
	}

	fmt.Printf("Tokens (%d)\n", len(tokens))
	for _, tok := range tokens {
		fmt.Println(" ", tok)
	}
	fmt.Println()

	// Compile
	prog, err := compiler.Compile(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, "compile error:", err)
		os.Exit(1)
	}

	fmt.Printf("Code (%d instructions)\n", len(prog.Code))
	fmt.Print(asm.Disassemble(prog))
	fmt.Println()

	fmt.Printf("Data (%d bytes)\n", len(prog.Data))
	fmt.Print(hexDump(prog.Data))
	fmt.Println()

	dump, err := compiler.Symbols(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, "symbol error:", err)
		os.Exit(1)
	}
	fmt.Print(dump)
}

// hexDump renders the data segment sixteen bytes per row, addressed the
// way the code refers to it, with a printable-ASCII gutter.
func hexDump(data []byte) string {
	var out string
	for base := 0; base < len(data); base += 16 {
		row := data[base:]
		if len(row) > 16 {
			row = row[:16]
		}
		hex := ""
		ascii := ""
		for i, b := range row {
			if i == 8 {
				hex += " "
			}
			hex += fmt.Sprintf("%02x ", b)
			if b >= 0x20 && b < 0x7f {
				ascii += string(rune(b))
			} else {
				ascii += "."
			}
		}
		out += fmt.Sprintf("  %06x  %-49s |%s|\n", vm.DataBase+int64(base), hex, ascii)
	}
	return out
}

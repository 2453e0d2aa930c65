package compiler

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"goc4/pkg/vm"
)

func compileCode(t *testing.T, src string) *vm.Program {
	t.Helper()
	prog, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return prog
}

func dumpCode(code []vm.Instruction) string {
	var sb strings.Builder
	for i, in := range code {
		sb.WriteString("  ")
		sb.WriteString(in.String())
		if i < len(code)-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func wantCode(t *testing.T, got, want []vm.Instruction) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d instructions, got %d:\n%s", len(want), len(got), dumpCode(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("instruction %d: expected %v, got %v\n%s", i, want[i], got[i], dumpCode(got))
		}
	}
}

// containsSeq reports whether seq appears contiguously in code.
func containsSeq(code, seq []vm.Instruction) bool {
	for i := 0; i+len(seq) <= len(code); i++ {
		match := true
		for j := range seq {
			if code[i+j] != seq[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestReturnConstant(t *testing.T) {
	prog := compileCode(t, "int main() { return 42; }")
	wantCode(t, prog.Code, []vm.Instruction{
		{Op: vm.ENT, Arg: 0},
		{Op: vm.IMM, Arg: 42},
		{Op: vm.LEV},
		{Op: vm.LEV},
	})
	if prog.Entry != 0 {
		t.Errorf("expected entry 0, got %d", prog.Entry)
	}
	if len(prog.Data) != 0 {
		t.Errorf("expected empty data segment, got %d bytes", len(prog.Data))
	}
}

func TestFloatAssignment(t *testing.T) {
	prog := compileCode(t, "float pi;\nint main() { pi = 3.14; return 0; }")
	wantCode(t, prog.Code, []vm.Instruction{
		{Op: vm.ENT, Arg: 0},
		{Op: vm.IMM, Arg: vm.DataBase},
		{Op: vm.PSH},
		{Op: vm.FIMM, Arg: int64(math.Float64bits(3.14))},
		{Op: vm.SI},
		{Op: vm.IMM, Arg: 0},
		{Op: vm.LEV},
		{Op: vm.LEV},
	})
}

func TestMixedArithmeticWidens(t *testing.T) {
	prog := compileCode(t, "int main() { return 1 + 2.5; }")
	wantCode(t, prog.Code, []vm.Instruction{
		{Op: vm.ENT, Arg: 0},
		{Op: vm.IMM, Arg: 1},
		{Op: vm.PSH},
		{Op: vm.FIMM, Arg: int64(math.Float64bits(2.5))},
		{Op: vm.I2FS}, // the pushed integer is widened in place
		{Op: vm.FADD},
		{Op: vm.F2I}, // return truncates
		{Op: vm.LEV},
		{Op: vm.LEV},
	})
}

func TestCallPushesRightToLeft(t *testing.T) {
	prog := compileCode(t, `
int sub(int a, int b) { return a - b; }
int main() { return sub(10, 4); }
`)
	// the argument blocks are compiled left to right and then swapped,
	// so the rightmost value pushes first and a lands at bp+16
	if !containsSeq(prog.Code, []vm.Instruction{
		{Op: vm.IMM, Arg: 4},
		{Op: vm.PSH},
		{Op: vm.IMM, Arg: 10},
		{Op: vm.PSH},
		{Op: vm.JSR, Arg: 0},
		{Op: vm.ADJ, Arg: 2},
	}) {
		t.Errorf("call sequence not found:\n%s", dumpCode(prog.Code))
	}
	if !containsSeq(prog.Code, []vm.Instruction{
		{Op: vm.LEA, Arg: 2},
		{Op: vm.LI},
		{Op: vm.PSH},
		{Op: vm.LEA, Arg: 3},
		{Op: vm.LI},
		{Op: vm.SUB},
	}) {
		t.Errorf("parameter access sequence not found:\n%s", dumpCode(prog.Code))
	}
}

func TestNestedCallArguments(t *testing.T) {
	// branches compiled inside an argument must survive the block swap
	prog := compileCode(t, `
int pick(int a, int b, int c) { return a + b + c; }
int main() { return pick(1 ? 10 : 20, 2, 3); }
`)
	for i, in := range prog.Code {
		if in.Op == vm.BZ || in.Op == vm.BNZ || in.Op == vm.JMP {
			target := int(in.Arg)
			if target < 0 || target > len(prog.Code) {
				t.Errorf("instruction %d: branch target %d out of range", i, target)
			}
		}
	}
}

func TestPointerArithmeticScaling(t *testing.T) {
	prog := compileCode(t, `
int main() {
	int *p;
	char *s;
	p = malloc(16);
	s = "ab";
	p = p + 1;
	s = s + 1;
	return p - p;
}
`)
	// int* steps scale by the word size
	if !containsSeq(prog.Code, []vm.Instruction{
		{Op: vm.IMM, Arg: 1},
		{Op: vm.PSH},
		{Op: vm.IMM, Arg: vm.WordSize},
		{Op: vm.MUL},
		{Op: vm.ADD},
	}) {
		t.Errorf("scaled pointer add not found:\n%s", dumpCode(prog.Code))
	}
	// char* steps by one
	if !containsSeq(prog.Code, []vm.Instruction{
		{Op: vm.IMM, Arg: 1},
		{Op: vm.ADD},
	}) {
		t.Errorf("unscaled char* add not found:\n%s", dumpCode(prog.Code))
	}
	// pointer difference divides back into elements
	if !containsSeq(prog.Code, []vm.Instruction{
		{Op: vm.SUB},
		{Op: vm.PSH},
		{Op: vm.IMM, Arg: vm.WordSize},
		{Op: vm.DIV},
	}) {
		t.Errorf("pointer difference not found:\n%s", dumpCode(prog.Code))
	}
}

func TestGlobalInitializers(t *testing.T) {
	prog := compileCode(t, `
int g = 5;
int h = -3;
float f = 2.5;
char *s = "hi";
int main() { return g; }
`)
	if len(prog.Data) != 40 {
		t.Fatalf("expected 40 data bytes, got %d", len(prog.Data))
	}
	word := func(off int) uint64 {
		return binary.LittleEndian.Uint64(prog.Data[off:])
	}
	if got := int64(word(0)); got != 5 {
		t.Errorf("g: expected 5, got %d", got)
	}
	if got := int64(word(8)); got != -3 {
		t.Errorf("h: expected -3, got %d", got)
	}
	if got := math.Float64frombits(word(16)); got != 2.5 {
		t.Errorf("f: expected 2.5, got %g", got)
	}
	// s holds the address of the interned string that follows it
	strAddr := int64(word(24))
	if strAddr != vm.DataBase+32 {
		t.Errorf("s: expected address %d, got %d", vm.DataBase+32, strAddr)
	}
	off := strAddr - vm.DataBase
	if string(prog.Data[off:off+3]) != "hi\x00" {
		t.Errorf("string payload wrong: %q", prog.Data[off:off+3])
	}
}

func TestStringsConcatenateAndPad(t *testing.T) {
	prog := compileCode(t, `int main() { printf("ab" "cd"); return 0; }`)
	if len(prog.Data) != 8 {
		t.Fatalf("expected one padded string word, got %d bytes", len(prog.Data))
	}
	if string(prog.Data[:5]) != "abcd\x00" {
		t.Errorf("expected concatenated literal, got %q", prog.Data[:5])
	}
}

func TestEnumConstantsInline(t *testing.T) {
	prog := compileCode(t, "enum { E = 7 };\nint main() { return E; }")
	if !containsSeq(prog.Code, []vm.Instruction{{Op: vm.IMM, Arg: 7}}) {
		t.Errorf("enum constant not inlined:\n%s", dumpCode(prog.Code))
	}
}

func TestSizeof(t *testing.T) {
	prog := compileCode(t, "int main() { return sizeof(char) + sizeof(int *); }")
	if !containsSeq(prog.Code, []vm.Instruction{
		{Op: vm.IMM, Arg: 1},
		{Op: vm.PSH},
		{Op: vm.IMM, Arg: vm.WordSize},
		{Op: vm.ADD},
	}) {
		t.Errorf("sizeof did not fold to constants:\n%s", dumpCode(prog.Code))
	}
}

func TestWhileLoopShape(t *testing.T) {
	prog := compileCode(t, `
int main() {
	int i;
	i = 0;
	while (i < 3) i = i + 1;
	return i;
}
`)
	var bz, jmp *vm.Instruction
	for i := range prog.Code {
		switch prog.Code[i].Op {
		case vm.BZ:
			bz = &prog.Code[i]
		case vm.JMP:
			jmp = &prog.Code[i]
		}
	}
	if bz == nil || jmp == nil {
		t.Fatalf("loop branches missing:\n%s", dumpCode(prog.Code))
	}
	// the back edge lands on the condition, the exit lands past the jump
	if int(jmp.Arg) >= len(prog.Code) || int(bz.Arg) > len(prog.Code) {
		t.Errorf("branch targets out of range: BZ %d JMP %d", bz.Arg, jmp.Arg)
	}
	if prog.Code[jmp.Arg].Op != vm.LEA && prog.Code[jmp.Arg].Op != vm.IMM {
		t.Errorf("back edge should land on the condition load, lands on %v", prog.Code[jmp.Arg])
	}
}

func TestSourceMapTracksLines(t *testing.T) {
	prog := compileCode(t, "int main() {\n\treturn 42;\n}")
	if len(prog.SourceMap) == 0 {
		t.Fatal("empty source map")
	}
	// the IMM 42 was emitted while the parser looked at line 2
	for idx, in := range prog.Code {
		if in.Op == vm.IMM && in.Arg == 42 {
			if line := prog.SourceMap[idx]; line != 2 {
				t.Errorf("IMM 42 attributed to line %d, expected 2", line)
			}
		}
	}
}

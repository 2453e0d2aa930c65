package asm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"goc4/pkg/vm"
)

// operandOps take one operand: an integer, a label, a float for FIMM,
// or a syscall name for SYS.
var operandOps = map[string]vm.Opcode{
	"LEA":  vm.LEA,
	"IMM":  vm.IMM,
	"FIMM": vm.FIMM,
	"JMP":  vm.JMP,
	"JSR":  vm.JSR,
	"BZ":   vm.BZ,
	"BNZ":  vm.BNZ,
	"ENT":  vm.ENT,
	"ADJ":  vm.ADJ,
	"SYS":  vm.SYS,
}

var plainOps = map[string]vm.Opcode{
	"LEV":  vm.LEV,
	"LI":   vm.LI,
	"LC":   vm.LC,
	"SI":   vm.SI,
	"SC":   vm.SC,
	"PSH":  vm.PSH,
	"OR":   vm.OR,
	"XOR":  vm.XOR,
	"AND":  vm.AND,
	"EQ":   vm.EQ,
	"NE":   vm.NE,
	"LT":   vm.LT,
	"GT":   vm.GT,
	"LE":   vm.LE,
	"GE":   vm.GE,
	"SHL":  vm.SHL,
	"SHR":  vm.SHR,
	"ADD":  vm.ADD,
	"SUB":  vm.SUB,
	"MUL":  vm.MUL,
	"DIV":  vm.DIV,
	"MOD":  vm.MOD,
	"FADD": vm.FADD,
	"FSUB": vm.FSUB,
	"FMUL": vm.FMUL,
	"FDIV": vm.FDIV,
	"I2F":  vm.I2F,
	"I2FS": vm.I2FS,
	"F2I":  vm.F2I,
}

// Assembler translates the mnemonic form back into a runnable Program.
// Labels live in one namespace: a label in front of an instruction
// resolves to its code index, a label in front of .STR or .WORD
// resolves to the data address.
type Assembler struct {
	labels map[string]int64
	entry  string
}

type parsedLine struct {
	lineNo   int
	labels   []string
	mnemonic string
	operands []string
}

func NewAssembler() *Assembler {
	return &Assembler{labels: make(map[string]int64)}
}

// Assemble is shorthand for NewAssembler().Assemble.
func Assemble(src string) (*vm.Program, error) {
	return NewAssembler().Assemble(src)
}

func (a *Assembler) Assemble(src string) (*vm.Program, error) {
	lines := strings.Split(src, "\n")
	if err := a.pass1(lines); err != nil {
		return nil, err
	}
	return a.pass2(lines)
}

// pass1 sizes the code and data segments and records every label.
func (a *Assembler) pass1(lines []string) error {
	codeLen := int64(0)
	dataLen := int64(0)

	for i, raw := range lines {
		lineNo := i + 1
		p, err := parseLine(raw, lineNo)
		if err != nil {
			return err
		}

		inData := p.mnemonic == ".STR" || p.mnemonic == ".WORD"
		for _, lbl := range p.labels {
			key := normalizeLabel(lbl)
			if _, exists := a.labels[key]; exists {
				return fmt.Errorf("duplicate label '%s' on line %d", lbl, lineNo)
			}
			if inData {
				a.labels[key] = vm.DataBase + dataLen
			} else {
				a.labels[key] = codeLen
			}
		}

		switch p.mnemonic {
		case "":
		case ".STR":
			if len(p.operands) != 1 {
				return fmt.Errorf(".STR expects exactly one string operand on line %d", lineNo)
			}
			dataLen += strSize(p.operands[0])
		case ".WORD":
			if len(p.operands) != 1 {
				return fmt.Errorf(".WORD expects exactly one operand on line %d", lineNo)
			}
			dataLen += vm.WordSize
		case ".ENTRY":
			if len(p.operands) != 1 {
				return fmt.Errorf(".ENTRY expects exactly one label on line %d", lineNo)
			}
			a.entry = normalizeLabel(p.operands[0])
		default:
			if _, ok := operandOps[p.mnemonic]; ok {
				codeLen++
				break
			}
			if _, ok := plainOps[p.mnemonic]; ok {
				codeLen++
				break
			}
			return fmt.Errorf("unknown instruction on line %d: %s", lineNo, p.mnemonic)
		}
	}
	return nil
}

// pass2 emits instructions and data with all labels resolved.
func (a *Assembler) pass2(lines []string) (*vm.Program, error) {
	var code []vm.Instruction
	var data []byte
	srcMap := make(map[int]int)

	for i, raw := range lines {
		lineNo := i + 1
		p, err := parseLine(raw, lineNo)
		if err != nil {
			return nil, err
		}

		switch p.mnemonic {
		case "", ".ENTRY":
			continue
		case ".STR":
			data = append(data, p.operands[0]...)
			data = append(data, 0)
			for int64(len(data))%vm.WordSize != 0 {
				data = append(data, 0)
			}
			continue
		case ".WORD":
			v, err := a.wordValue(p.operands[0], lineNo)
			if err != nil {
				return nil, err
			}
			var w [vm.WordSize]byte
			for b := 0; b < vm.WordSize; b++ {
				w[b] = byte(uint64(v) >> (8 * b))
			}
			data = append(data, w[:]...)
			continue
		}

		if op, ok := operandOps[p.mnemonic]; ok {
			if len(p.operands) != 1 {
				return nil, fmt.Errorf("%s expects 1 operand on line %d", p.mnemonic, lineNo)
			}
			arg, err := a.operand(op, p.operands[0], lineNo)
			if err != nil {
				return nil, err
			}
			srcMap[len(code)] = lineNo
			code = append(code, vm.Instruction{Op: op, Arg: arg})
			continue
		}
		if op, ok := plainOps[p.mnemonic]; ok {
			if len(p.operands) != 0 {
				return nil, fmt.Errorf("%s expects 0 operands on line %d", p.mnemonic, lineNo)
			}
			srcMap[len(code)] = lineNo
			code = append(code, vm.Instruction{Op: op})
			continue
		}
		return nil, fmt.Errorf("unknown instruction on line %d: %s", lineNo, p.mnemonic)
	}

	entry := int64(0)
	switch {
	case a.entry != "":
		v, ok := a.labels[a.entry]
		if !ok {
			return nil, fmt.Errorf("undefined entry label '%s'", a.entry)
		}
		entry = v
	default:
		if v, ok := a.labels["MAIN"]; ok {
			entry = v
		}
	}
	if entry < 0 || entry > int64(len(code)) {
		return nil, fmt.Errorf("entry label resolves outside the code segment")
	}

	return &vm.Program{
		Code:      code,
		Data:      data,
		Entry:     int(entry),
		SourceMap: srcMap,
	}, nil
}

// operand resolves one instruction operand. SYS accepts syscall names,
// FIMM takes a float literal, and everything else is an integer
// (base-prefix aware) or a label.
func (a *Assembler) operand(op vm.Opcode, token string, lineNo int) (int64, error) {
	if op == vm.SYS {
		if id, ok := vm.SyscallID(strings.ToLower(token)); ok {
			return id, nil
		}
	}
	if op == vm.FIMM {
		f, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid float operand '%s' on line %d", token, lineNo)
		}
		return int64(math.Float64bits(f)), nil
	}
	if v, err := strconv.ParseInt(token, 0, 64); err == nil {
		return v, nil
	}
	if addr, ok := a.labels[normalizeLabel(token)]; ok {
		return addr, nil
	}
	if isIdentifier(token) {
		return 0, fmt.Errorf("undefined label '%s' on line %d", token, lineNo)
	}
	return 0, fmt.Errorf("invalid operand '%s' on line %d", token, lineNo)
}

// wordValue resolves a .WORD initializer: an integer, a label, or a
// float stored as its bits.
func (a *Assembler) wordValue(token string, lineNo int) (int64, error) {
	if v, err := strconv.ParseInt(token, 0, 64); err == nil {
		return v, nil
	}
	if addr, ok := a.labels[normalizeLabel(token)]; ok {
		return addr, nil
	}
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return int64(math.Float64bits(f)), nil
	}
	return 0, fmt.Errorf("invalid .WORD value '%s' on line %d", token, lineNo)
}

// strSize is the data segment footprint of a .STR payload: the bytes,
// a NUL, then padding to word alignment.
func strSize(s string) int64 {
	n := int64(len(s)) + 1
	return (n + vm.WordSize - 1) &^ (vm.WordSize - 1)
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo}

	// .STR needs its quoted operand taken from the raw line so spaces
	// and comment characters inside the string survive.
	upperRaw := strings.ToUpper(raw)
	if idx := strings.Index(upperRaw, ".STR"); idx != -1 && !strings.Contains(upperRaw[:idx], ";") && !strings.Contains(upperRaw[:idx], "//") {
		pre := raw[:idx]
		if colon := strings.Index(pre, ":"); colon != -1 {
			label := strings.TrimSpace(pre[:colon])
			if label != "" {
				p.labels = append(p.labels, label)
			}
		}
		opening := strings.Index(raw, "\"")
		closing := strings.LastIndex(raw, "\"")
		if opening == -1 || closing == opening {
			return p, fmt.Errorf("invalid string literal on line %d", lineNo)
		}
		p.mnemonic = ".STR"
		content := raw[opening+1 : closing]
		if unquoted, err := strconv.Unquote(`"` + content + `"`); err == nil {
			p.operands = []string{unquoted}
		} else {
			p.operands = []string{content}
		}
		return p, nil
	}

	line := strings.TrimSpace(raw)
	if line == "" {
		return p, nil
	}

	for {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			break
		}
		beforeColon := strings.TrimSpace(line[:colon])
		if strings.ContainsAny(beforeColon, " \t") {
			break
		}
		if !isIdentifier(beforeColon) {
			return p, fmt.Errorf("invalid label '%s' on line %d", beforeColon, lineNo)
		}
		p.labels = append(p.labels, beforeColon)
		line = strings.TrimSpace(line[colon+1:])
		if line == "" {
			return p, nil
		}
	}

	line = strings.TrimSpace(stripComments(line))
	if line == "" {
		return p, nil
	}

	fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
	if len(fields) == 0 {
		return p, nil
	}
	p.mnemonic = strings.ToUpper(fields[0])
	if len(fields) > 1 {
		p.operands = fields[1:]
	}
	return p, nil
}

func stripComments(line string) string {
	semicolon := strings.Index(line, ";")
	doubleSlash := strings.Index(line, "//")

	cut := -1
	if semicolon >= 0 {
		cut = semicolon
	}
	if doubleSlash >= 0 && (cut == -1 || doubleSlash < cut) {
		cut = doubleSlash
	}
	if cut >= 0 {
		return line[:cut]
	}
	return line
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}

func normalizeLabel(label string) string {
	return strings.ToUpper(label)
}

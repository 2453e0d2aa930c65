package vm

import (
	"fmt"
	"math"
)

// Opcode identifies one machine operation. The operand-carrying opcodes
// (LEA through SYS) are contiguous at the front of the numbering so that
// op <= SYS is the has-operand test, which the disassembler and the
// execution trace both rely on.
type Opcode uint8

const (
	LEA Opcode = iota // ax = bp + operand*word (frame-relative address)
	IMM               // ax = operand (immediate value or absolute address)
	FIMM              // ax = operand, which holds IEEE-754 float bits
	JMP               // pc = operand
	JSR               // push return address, pc = operand
	BZ                // pc = operand when ax == 0
	BNZ               // pc = operand when ax != 0
	ENT               // push bp, bp = sp, reserve operand local slots
	ADJ               // pop operand words (argument cleanup)
	SYS               // trap to host service, operand is the syscall id

	LEV // leave frame: restore sp/bp, pc = saved return address
	LI  // ax = word at address ax
	LC  // ax = byte at address ax, zero-extended
	SI  // store ax as a word at the popped address
	SC  // store low byte of ax at the popped address
	PSH // push ax

	// Integer family: ax = popped-word op ax.
	OR
	XOR
	AND
	EQ
	NE
	LT
	GT
	LE
	GE
	SHL
	SHR
	ADD
	SUB
	MUL
	DIV
	MOD

	// Float family, mirroring ADD SUB MUL DIV one for one. Operands are
	// words already known by the code generator to hold float bits.
	FADD
	FSUB
	FMUL
	FDIV

	I2F  // ax = float bits of the integer in ax
	I2FS // the word at sp is converted from integer to float bits in place
	F2I  // ax = integer truncation of the float bits in ax
)

var opNames = [...]string{
	LEA:  "LEA",
	IMM:  "IMM",
	FIMM: "FIMM",
	JMP:  "JMP",
	JSR:  "JSR",
	BZ:   "BZ",
	BNZ:  "BNZ",
	ENT:  "ENT",
	ADJ:  "ADJ",
	SYS:  "SYS",
	LEV:  "LEV",
	LI:   "LI",
	LC:   "LC",
	SI:   "SI",
	SC:   "SC",
	PSH:  "PSH",
	OR:   "OR",
	XOR:  "XOR",
	AND:  "AND",
	EQ:   "EQ",
	NE:   "NE",
	LT:   "LT",
	GT:   "GT",
	LE:   "LE",
	GE:   "GE",
	SHL:  "SHL",
	SHR:  "SHR",
	ADD:  "ADD",
	SUB:  "SUB",
	MUL:  "MUL",
	DIV:  "DIV",
	MOD:  "MOD",
	FADD: "FADD",
	FSUB: "FSUB",
	FMUL: "FMUL",
	FDIV: "FDIV",
	I2F:  "I2F",
	I2FS: "I2FS",
	F2I:  "F2I",
}

func (op Opcode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", int(op))
}

// HasOperand reports whether the opcode carries an inline operand word.
func (op Opcode) HasOperand() bool {
	return op <= SYS
}

// Instruction is one unit of the linear program: an opcode and, for the
// operand-carrying subset, one inline operand word.
type Instruction struct {
	Op  Opcode
	Arg int64
}

func (in Instruction) String() string {
	if !in.Op.HasOperand() {
		return in.Op.String()
	}
	switch in.Op {
	case FIMM:
		return fmt.Sprintf("%-4s %g", in.Op, math.Float64frombits(uint64(in.Arg)))
	case SYS:
		return fmt.Sprintf("%-4s %s", in.Op, SyscallName(in.Arg))
	}
	return fmt.Sprintf("%-4s %d", in.Op, in.Arg)
}

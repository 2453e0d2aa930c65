package vm

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
)

const (
	// WordSize is the size of every stack slot, global slot and pointer.
	WordSize = 8

	// DataBase is the fixed address of the first data byte. The page below
	// it is never mapped, so a null pointer dereference always faults.
	DataBase = 8

	DefaultStackBytes = 256 * 1024
	DefaultHeapBytes  = 4 * 1024 * 1024
)

// Program is the compiler's output: the instruction sequence, the data
// segment image (strings and global slots, based at DataBase), the code
// index of main, and a code-index -> source-line map for listings and
// traces. A Program is immutable during execution.
type Program struct {
	Code      []Instruction
	Data      []byte
	Entry     int
	SourceMap map[int]int
}

// FileSystem is the host file service behind the open/read/close
// syscalls. The guest sees failures as -1, never as a RuntimeError, so
// implementations are free to return any error they like.
type FileSystem interface {
	Open(path string) (int, error)
	Read(fd int, p []byte) (int, error)
	Close(fd int) error
}

// Config carries the knobs the embedding driver supplies. Zero values
// mean: default sizes, os.Stdout, no file service, slog.Default().
type Config struct {
	StackBytes int
	HeapBytes  int
	Stdout     io.Writer
	FS         FileSystem
	Logger     *slog.Logger
}

// Machine executes one Program against a flat byte-addressed memory:
// an unmapped page below DataBase, the data segment, a bump-allocated
// heap, and a fixed-capacity descending stack on top. Registers follow
// the accumulator model: pc indexes the code, sp/bp are byte addresses,
// ax holds the last computed value (float values travel as their bits).
type Machine struct {
	PC    int
	SP    int64
	BP    int64
	AX    int64
	Cycle int64

	Mem    []byte
	Halted bool

	prog *Program
	code []Instruction // prog.Code plus the exit epilogue

	heapPtr   int64
	heapEnd   int64
	stackBase int64
	stackTop  int64

	out      io.Writer
	fs       FileSystem
	log      *slog.Logger
	exitCode int64
}

// NewMachine lays out memory for prog and returns a machine ready to Run.
// The two-instruction epilogue appended to the code turns main's return
// value into an exit syscall when the seeded return address is reached.
func NewMachine(prog *Program, cfg Config) (*Machine, error) {
	if prog.Entry < 0 || prog.Entry >= len(prog.Code) {
		return nil, fmt.Errorf("vm: entry offset %d outside program of %d instructions", prog.Entry, len(prog.Code))
	}
	stack := cfg.StackBytes
	if stack <= 0 {
		stack = DefaultStackBytes
	}
	heap := cfg.HeapBytes
	if heap <= 0 {
		heap = DefaultHeapBytes
	}

	dataEnd := int64(DataBase + len(prog.Data))
	dataEnd = (dataEnd + WordSize - 1) &^ (WordSize - 1)

	m := &Machine{
		prog:      prog,
		heapPtr:   dataEnd,
		heapEnd:   dataEnd + int64(heap),
		stackBase: dataEnd + int64(heap),
		stackTop:  dataEnd + int64(heap) + int64(stack),
		out:       cfg.Stdout,
		fs:        cfg.FS,
		log:       cfg.Logger,
	}
	m.Mem = make([]byte, m.stackTop)
	copy(m.Mem[DataBase:], prog.Data)

	m.code = make([]Instruction, len(prog.Code), len(prog.Code)+2)
	copy(m.code, prog.Code)
	m.code = append(m.code, Instruction{Op: PSH}, Instruction{Op: SYS, Arg: SysExit})

	if m.out == nil {
		m.out = os.Stdout
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m, nil
}

// Run seeds the initial frame and executes until the program exits or a
// RuntimeError kills it. args becomes the guest's argv; argument words
// are pushed rightmost first, so main sees argc on top at bp+16.
func (m *Machine) Run(args []string) (int64, error) {
	argc, argv, err := m.writeArgs(args)
	if err != nil {
		return 0, err
	}

	m.SP = m.stackTop
	m.BP = m.stackTop
	epilogue := len(m.code) - 2
	if err := m.push(argv); err != nil {
		return 0, err
	}
	if err := m.push(argc); err != nil {
		return 0, err
	}
	if err := m.push(int64(epilogue)); err != nil {
		return 0, err
	}
	m.PC = m.prog.Entry

	for !m.Halted {
		if err := m.Step(); err != nil {
			return 0, err
		}
	}
	return m.exitCode, nil
}

// writeArgs copies the argument strings and the argv pointer array into
// the heap arena, before the guest has had a chance to malloc anything.
func (m *Machine) writeArgs(args []string) (argc, argv int64, err error) {
	if len(args) == 0 {
		return 0, 0, nil
	}
	ptrs := make([]int64, len(args))
	for i, a := range args {
		p := m.alloc(int64(len(a) + 1))
		if p == 0 {
			return 0, 0, fmt.Errorf("vm: argv does not fit in the heap arena")
		}
		copy(m.Mem[p:], a)
		ptrs[i] = p
	}
	base := m.alloc(int64(WordSize * len(args)))
	if base == 0 {
		return 0, 0, fmt.Errorf("vm: argv does not fit in the heap arena")
	}
	for i, p := range ptrs {
		binary.LittleEndian.PutUint64(m.Mem[base+int64(WordSize*i):], uint64(p))
	}
	return int64(len(args)), base, nil
}

// Step fetches, decodes and executes one instruction.
func (m *Machine) Step() error {
	if m.PC < 0 || m.PC >= len(m.code) {
		return m.fault(ErrBadAddress)
	}
	in := m.code[m.PC]
	m.PC++
	m.Cycle++

	if m.log.Enabled(context.Background(), slog.LevelDebug) {
		m.log.Debug("exec",
			"cycle", m.Cycle,
			"pc", m.PC-1,
			"instr", in.String(),
			"ax", m.AX,
			"sp", m.SP,
		)
	}

	switch in.Op {
	case LEA:
		m.AX = m.BP + WordSize*in.Arg
	case IMM, FIMM:
		m.AX = in.Arg
	case JMP:
		m.PC = int(in.Arg)
	case JSR:
		if err := m.push(int64(m.PC)); err != nil {
			return err
		}
		m.PC = int(in.Arg)
	case BZ:
		if m.AX == 0 {
			m.PC = int(in.Arg)
		}
	case BNZ:
		if m.AX != 0 {
			m.PC = int(in.Arg)
		}
	case ENT:
		if err := m.push(m.BP); err != nil {
			return err
		}
		m.BP = m.SP
		if m.SP-WordSize*in.Arg < m.stackBase {
			return m.fault(ErrStackOverflow)
		}
		m.SP -= WordSize * in.Arg
	case ADJ:
		if m.SP+WordSize*in.Arg > m.stackTop {
			return m.fault(ErrStackUnderflow)
		}
		m.SP += WordSize * in.Arg
	case SYS:
		return m.syscall(in.Arg)
	case LEV:
		m.SP = m.BP
		bp, err := m.pop()
		if err != nil {
			return err
		}
		m.BP = bp
		ret, err := m.pop()
		if err != nil {
			return err
		}
		m.PC = int(ret)
	case LI:
		v, err := m.loadWord(m.AX)
		if err != nil {
			return err
		}
		m.AX = v
	case LC:
		b, err := m.loadByte(m.AX)
		if err != nil {
			return err
		}
		m.AX = int64(b)
	case SI:
		addr, err := m.pop()
		if err != nil {
			return err
		}
		if err := m.storeWord(addr, m.AX); err != nil {
			return err
		}
	case SC:
		addr, err := m.pop()
		if err != nil {
			return err
		}
		if err := m.storeByte(addr, byte(m.AX)); err != nil {
			return err
		}
		m.AX = int64(byte(m.AX))
	case PSH:
		return m.push(m.AX)
	case OR, XOR, AND, EQ, NE, LT, GT, LE, GE, SHL, SHR, ADD, SUB, MUL, DIV, MOD:
		b, err := m.pop()
		if err != nil {
			return err
		}
		return m.intOp(in.Op, b)
	case FADD, FSUB, FMUL, FDIV:
		b, err := m.pop()
		if err != nil {
			return err
		}
		return m.floatOp(in.Op, b)
	case I2F:
		m.AX = int64(math.Float64bits(float64(m.AX)))
	case I2FS:
		v, err := m.loadWord(m.SP)
		if err != nil {
			return err
		}
		return m.storeWord(m.SP, int64(math.Float64bits(float64(v))))
	case F2I:
		m.AX = int64(math.Float64frombits(uint64(m.AX)))
	default:
		return m.fault(ErrBadOpcode)
	}
	return nil
}

// intOp computes b op ax into ax; b is the earlier-pushed left operand.
func (m *Machine) intOp(op Opcode, b int64) error {
	switch op {
	case OR:
		m.AX = b | m.AX
	case XOR:
		m.AX = b ^ m.AX
	case AND:
		m.AX = b & m.AX
	case EQ:
		m.AX = boolWord(b == m.AX)
	case NE:
		m.AX = boolWord(b != m.AX)
	case LT:
		m.AX = boolWord(b < m.AX)
	case GT:
		m.AX = boolWord(b > m.AX)
	case LE:
		m.AX = boolWord(b <= m.AX)
	case GE:
		m.AX = boolWord(b >= m.AX)
	case SHL:
		m.AX = b << uint64(m.AX)
	case SHR:
		m.AX = b >> uint64(m.AX)
	case ADD:
		m.AX = b + m.AX
	case SUB:
		m.AX = b - m.AX
	case MUL:
		m.AX = b * m.AX
	case DIV:
		if m.AX == 0 {
			return m.fault(ErrDivideByZero)
		}
		m.AX = b / m.AX
	case MOD:
		if m.AX == 0 {
			return m.fault(ErrDivideByZero)
		}
		m.AX = b % m.AX
	}
	return nil
}

func (m *Machine) floatOp(op Opcode, b int64) error {
	fb := math.Float64frombits(uint64(b))
	fa := math.Float64frombits(uint64(m.AX))
	var r float64
	switch op {
	case FADD:
		r = fb + fa
	case FSUB:
		r = fb - fa
	case FMUL:
		r = fb * fa
	case FDIV:
		if fa == 0 {
			return m.fault(ErrDivideByZero)
		}
		r = fb / fa
	}
	m.AX = int64(math.Float64bits(r))
	return nil
}

func boolWord(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (m *Machine) push(v int64) error {
	if m.SP-WordSize < m.stackBase {
		return m.fault(ErrStackOverflow)
	}
	m.SP -= WordSize
	binary.LittleEndian.PutUint64(m.Mem[m.SP:], uint64(v))
	return nil
}

func (m *Machine) pop() (int64, error) {
	if m.SP+WordSize > m.stackTop {
		return 0, m.fault(ErrStackUnderflow)
	}
	v := int64(binary.LittleEndian.Uint64(m.Mem[m.SP:]))
	m.SP += WordSize
	return v, nil
}

func (m *Machine) loadWord(addr int64) (int64, error) {
	if addr < DataBase || addr+WordSize > int64(len(m.Mem)) {
		return 0, m.fault(ErrBadAddress)
	}
	return int64(binary.LittleEndian.Uint64(m.Mem[addr:])), nil
}

func (m *Machine) storeWord(addr, v int64) error {
	if addr < DataBase || addr+WordSize > int64(len(m.Mem)) {
		return m.fault(ErrBadAddress)
	}
	binary.LittleEndian.PutUint64(m.Mem[addr:], uint64(v))
	return nil
}

func (m *Machine) loadByte(addr int64) (byte, error) {
	if addr < DataBase || addr >= int64(len(m.Mem)) {
		return 0, m.fault(ErrBadAddress)
	}
	return m.Mem[addr], nil
}

func (m *Machine) storeByte(addr int64, b byte) error {
	if addr < DataBase || addr >= int64(len(m.Mem)) {
		return m.fault(ErrBadAddress)
	}
	m.Mem[addr] = b
	return nil
}

// checkRange validates a guest buffer [addr, addr+n).
func (m *Machine) checkRange(addr, n int64) error {
	if n < 0 || addr < DataBase || addr+n > int64(len(m.Mem)) {
		return m.fault(ErrBadAddress)
	}
	return nil
}

// alloc hands out 8-aligned arena chunks; 0 means exhausted (the guest's
// malloc contract), and 0 is never a valid address.
func (m *Machine) alloc(n int64) int64 {
	if n <= 0 {
		return 0
	}
	n = (n + WordSize - 1) &^ (WordSize - 1)
	if m.heapPtr+n > m.heapEnd {
		return 0
	}
	p := m.heapPtr
	m.heapPtr += n
	return p
}

func (m *Machine) fault(cause error) error {
	return &RuntimeError{Err: cause, Cycle: m.Cycle, PC: m.PC - 1}
}

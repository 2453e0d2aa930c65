package vm_test

import (
	"bytes"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"goc4/pkg/host"
	"goc4/pkg/vm"
)

func op(o vm.Opcode) vm.Instruction {
	return vm.Instruction{Op: o}
}

func arg(o vm.Opcode, a int64) vm.Instruction {
	return vm.Instruction{Op: o, Arg: a}
}

func farg(o vm.Opcode, f float64) vm.Instruction {
	return vm.Instruction{Op: o, Arg: int64(math.Float64bits(f))}
}

// body wraps instructions in the frame every compiled function carries:
// ENT on the way in, LEV on the way out. Falling off the LEV lands in
// the exit epilogue, so ax becomes the exit status.
func body(ins ...vm.Instruction) []vm.Instruction {
	code := []vm.Instruction{op(vm.ENT)}
	code = append(code, ins...)
	return append(code, op(vm.LEV))
}

type result struct {
	exit int64
	out  string
	m    *vm.Machine
}

func exec(prog *vm.Program, cfg vm.Config, args ...string) (result, error) {
	var out bytes.Buffer
	if cfg.Stdout == nil {
		cfg.Stdout = &out
	}
	m, err := vm.NewMachine(prog, cfg)
	Expect(err).NotTo(HaveOccurred())
	code, err := m.Run(args)
	return result{exit: code, out: out.String(), m: m}, err
}

func run(code []vm.Instruction) (result, error) {
	return exec(&vm.Program{Code: code}, vm.Config{})
}

var _ = Describe("Machine", func() {
	Describe("arithmetic", func() {
		It("computes with the accumulator and the stack", func() {
			res, err := run(body(
				arg(vm.IMM, 7),
				op(vm.PSH),
				arg(vm.IMM, 3),
				op(vm.ADD),
				op(vm.PSH),
				arg(vm.IMM, 6),
				op(vm.MUL),
				op(vm.PSH),
				arg(vm.IMM, 18),
				op(vm.SUB),
			))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(42)))
		})

		It("compares signed values", func() {
			res, err := run(body(
				arg(vm.IMM, -5),
				op(vm.PSH),
				arg(vm.IMM, 3),
				op(vm.LT),
			))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(1)))
		})

		It("faults on integer division by zero", func() {
			_, err := run(body(
				arg(vm.IMM, 1),
				op(vm.PSH),
				arg(vm.IMM, 0),
				op(vm.DIV),
			))
			Expect(errors.Is(err, vm.ErrDivideByZero)).To(BeTrue())

			var re *vm.RuntimeError
			Expect(errors.As(err, &re)).To(BeTrue())
			Expect(re.PC).To(Equal(4))
		})

		It("faults on modulo by zero", func() {
			_, err := run(body(
				arg(vm.IMM, 1),
				op(vm.PSH),
				arg(vm.IMM, 0),
				op(vm.MOD),
			))
			Expect(errors.Is(err, vm.ErrDivideByZero)).To(BeTrue())
		})
	})

	Describe("floats", func() {
		It("adds float words", func() {
			res, err := run(body(
				farg(vm.FIMM, 1.5),
				op(vm.PSH),
				farg(vm.FIMM, 2.25),
				op(vm.FADD),
			))
			Expect(err).NotTo(HaveOccurred())
			Expect(math.Float64frombits(uint64(res.exit))).To(Equal(3.75))
		})

		It("converts in both directions", func() {
			res, err := run(body(
				arg(vm.IMM, 7),
				op(vm.I2F),
				op(vm.F2I),
			))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(7)))
		})

		It("truncates toward zero", func() {
			res, err := run(body(farg(vm.FIMM, 3.9), op(vm.F2I)))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(3)))

			res, err = run(body(farg(vm.FIMM, -3.9), op(vm.F2I)))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(-3)))
		})

		It("widens the word under the stack pointer in place", func() {
			res, err := run(body(
				arg(vm.IMM, 3),
				op(vm.PSH),
				op(vm.I2FS),
				farg(vm.FIMM, 0.5),
				op(vm.FADD),
				op(vm.F2I),
			))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(3)))
		})

		It("faults on float division by zero", func() {
			_, err := run(body(
				farg(vm.FIMM, 1),
				op(vm.PSH),
				farg(vm.FIMM, 0),
				op(vm.FDIV),
			))
			Expect(errors.Is(err, vm.ErrDivideByZero)).To(BeTrue())
		})
	})

	Describe("memory", func() {
		It("faults on null page access", func() {
			_, err := run(body(arg(vm.IMM, 0), op(vm.LI)))
			Expect(errors.Is(err, vm.ErrBadAddress)).To(BeTrue())

			_, err = run(body(arg(vm.IMM, 4), op(vm.LC)))
			Expect(errors.Is(err, vm.ErrBadAddress)).To(BeTrue())
		})

		It("faults past the end of memory", func() {
			_, err := run(body(arg(vm.IMM, 1<<40), op(vm.LI)))
			Expect(errors.Is(err, vm.ErrBadAddress)).To(BeTrue())
		})

		It("loads and stores words and bytes in the data segment", func() {
			prog := &vm.Program{
				Data: make([]byte, 16),
				Code: body(
					arg(vm.IMM, vm.DataBase),
					op(vm.PSH),
					arg(vm.IMM, 513),
					op(vm.SI),
					arg(vm.IMM, vm.DataBase+8),
					op(vm.PSH),
					arg(vm.IMM, 321), // SC keeps only the low byte, 65
					op(vm.SC),
					op(vm.PSH),
					arg(vm.IMM, vm.DataBase),
					op(vm.LI),
					op(vm.ADD),
				),
			}
			res, err := exec(prog, vm.Config{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(513 + 65)))
			Expect(res.m.Mem[vm.DataBase+8]).To(Equal(byte(65)))
		})
	})

	Describe("the stack", func() {
		It("faults when pushes run out of room", func() {
			prog := &vm.Program{Code: []vm.Instruction{
				op(vm.ENT),
				op(vm.PSH),
				arg(vm.JMP, 1),
			}}
			_, err := exec(prog, vm.Config{StackBytes: 64})
			Expect(errors.Is(err, vm.ErrStackOverflow)).To(BeTrue())
		})

		It("faults when a frame cannot be reserved", func() {
			prog := &vm.Program{Code: []vm.Instruction{arg(vm.ENT, 1 << 20)}}
			_, err := exec(prog, vm.Config{StackBytes: 64})
			Expect(errors.Is(err, vm.ErrStackOverflow)).To(BeTrue())
		})

		It("faults when pops walk off the top", func() {
			_, err := run([]vm.Instruction{op(vm.ENT), arg(vm.ADJ, 10)})
			Expect(errors.Is(err, vm.ErrStackUnderflow)).To(BeTrue())
		})
	})

	Describe("calls", func() {
		It("builds and tears down frames", func() {
			// main pushes 30 then 12 and calls f; f subtracts the deeper
			// argument from the shallower one via bp-relative slots.
			prog := &vm.Program{Code: []vm.Instruction{
				op(vm.ENT),        // 0: main
				arg(vm.IMM, 30),   // 1
				op(vm.PSH),        // 2
				arg(vm.IMM, 12),   // 3
				op(vm.PSH),        // 4
				arg(vm.JSR, 8),    // 5
				arg(vm.ADJ, 2),    // 6
				op(vm.LEV),        // 7
				op(vm.ENT),        // 8: f
				arg(vm.LEA, 3),    // 9:  second word above frame = 30
				op(vm.LI),         // 10
				op(vm.PSH),        // 11
				arg(vm.LEA, 2),    // 12: first word above frame = 12
				op(vm.LI),         // 13
				op(vm.SUB),        // 14
				op(vm.LEV),        // 15
			}}
			res, err := exec(prog, vm.Config{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(18)))
		})

		It("hands main its argument count", func() {
			res, err := exec(&vm.Program{Code: body(
				arg(vm.LEA, 2),
				op(vm.LI),
			)}, vm.Config{}, "prog", "x", "y")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(3)))
		})

		It("materializes argv strings in guest memory", func() {
			data := append([]byte("%s\x00"), make([]byte, 5)...)
			prog := &vm.Program{
				Data: data,
				Code: body(
					arg(vm.LEA, 3), // argv base
					op(vm.LI),
					op(vm.LI), // argv[0]
					op(vm.PSH),
					arg(vm.IMM, vm.DataBase),
					op(vm.PSH),
					arg(vm.SYS, vm.SysPrintf),
					arg(vm.ADJ, 2),
				),
			}
			res, err := exec(prog, vm.Config{}, "prog")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.out).To(Equal("prog"))
		})
	})

	Describe("syscalls", func() {
		var fs *host.MemFS

		BeforeEach(func() {
			fs = host.NewMemFS()
			Expect(fs.Write("hi.txt", []byte("hello"))).To(Succeed())
		})

		It("reads a file into guest memory", func() {
			data := append([]byte("hi.txt\x00\x00"), make([]byte, 16)...)
			buf := int64(vm.DataBase + 8)
			prog := &vm.Program{
				Data: data,
				Code: []vm.Instruction{
					arg(vm.ENT, 1), // one local: the descriptor
					arg(vm.LEA, -1),
					op(vm.PSH),
					arg(vm.IMM, 0), // mode, ignored by the host
					op(vm.PSH),
					arg(vm.IMM, vm.DataBase),
					op(vm.PSH),
					arg(vm.SYS, vm.SysOpen),
					arg(vm.ADJ, 2),
					op(vm.SI), // local = fd
					arg(vm.IMM, 8),
					op(vm.PSH),
					arg(vm.IMM, buf),
					op(vm.PSH),
					arg(vm.LEA, -1),
					op(vm.LI),
					op(vm.PSH),
					arg(vm.SYS, vm.SysRead),
					arg(vm.ADJ, 3),
					op(vm.LEV), // exit with the read count
				},
			}
			res, err := exec(prog, vm.Config{FS: fs})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(5)))
			Expect(string(res.m.Mem[buf : buf+5])).To(Equal("hello"))
		})

		It("closes a live descriptor with status 0", func() {
			data := []byte("hi.txt\x00\x00")
			prog := &vm.Program{
				Data: data,
				Code: []vm.Instruction{
					arg(vm.ENT, 1),
					arg(vm.LEA, -1),
					op(vm.PSH),
					arg(vm.IMM, 0),
					op(vm.PSH),
					arg(vm.IMM, vm.DataBase),
					op(vm.PSH),
					arg(vm.SYS, vm.SysOpen),
					arg(vm.ADJ, 2),
					op(vm.SI),
					arg(vm.LEA, -1),
					op(vm.LI),
					op(vm.PSH),
					arg(vm.SYS, vm.SysClose),
					arg(vm.ADJ, 1),
					op(vm.LEV),
				},
			}
			res, err := exec(prog, vm.Config{FS: fs})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(0)))
		})

		It("reports open failures as -1", func() {
			prog := &vm.Program{
				Data: []byte("nosuch.txt\x00"),
				Code: body(
					arg(vm.IMM, 0),
					op(vm.PSH),
					arg(vm.IMM, vm.DataBase),
					op(vm.PSH),
					arg(vm.SYS, vm.SysOpen),
					arg(vm.ADJ, 2),
				),
			}
			res, err := exec(prog, vm.Config{FS: fs})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(-1)))

			// no file service at all behaves the same
			res, err = exec(prog, vm.Config{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(-1)))
		})

		It("formats printf output", func() {
			var data []byte
			addr := func(s string) int64 {
				a := vm.DataBase + int64(len(data))
				data = append(data, s...)
				data = append(data, 0)
				for len(data)%vm.WordSize != 0 {
					data = append(data, 0)
				}
				return a
			}
			fmtAddr := addr("%d %s %c %x %f %%\n")
			strAddr := addr("yo")

			prog := &vm.Program{
				Data: data,
				Code: body(
					farg(vm.IMM, 1.5),
					op(vm.PSH),
					arg(vm.IMM, 255),
					op(vm.PSH),
					arg(vm.IMM, 65),
					op(vm.PSH),
					arg(vm.IMM, strAddr),
					op(vm.PSH),
					arg(vm.IMM, 42),
					op(vm.PSH),
					arg(vm.IMM, fmtAddr),
					op(vm.PSH),
					arg(vm.SYS, vm.SysPrintf),
					arg(vm.ADJ, 6),
				),
			}
			res, err := exec(prog, vm.Config{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.out).To(Equal("42 yo A ff 1.500000 %\n"))
			Expect(res.exit).To(Equal(int64(len(res.out))))
		})

		It("passes verbs beyond the argument list through verbatim", func() {
			prog := &vm.Program{
				Data: []byte("%d %d\x00"),
				Code: body(
					arg(vm.IMM, 7),
					op(vm.PSH),
					arg(vm.IMM, vm.DataBase),
					op(vm.PSH),
					arg(vm.SYS, vm.SysPrintf),
					arg(vm.ADJ, 2),
				),
			}
			res, err := exec(prog, vm.Config{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.out).To(Equal("7 %d"))
		})

		It("mallocs distinct aligned chunks and 0 on exhaustion", func() {
			res, err := exec(&vm.Program{Code: body(
				arg(vm.IMM, 10),
				op(vm.PSH),
				arg(vm.SYS, vm.SysMalloc),
				arg(vm.ADJ, 1),
				op(vm.PSH),
				arg(vm.IMM, 10),
				op(vm.PSH),
				arg(vm.SYS, vm.SysMalloc),
				arg(vm.ADJ, 1),
				op(vm.SUB), // first minus second
			)}, vm.Config{HeapBytes: 64})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(-16))) // 10 rounds up to 16

			res, err = exec(&vm.Program{Code: body(
				arg(vm.IMM, 100),
				op(vm.PSH),
				arg(vm.SYS, vm.SysMalloc),
				arg(vm.ADJ, 1),
			)}, vm.Config{HeapBytes: 64})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(0)))
		})

		It("memsets and memcmps guest ranges", func() {
			prog := &vm.Program{
				Data: make([]byte, 16),
				Code: body(
					arg(vm.IMM, 8),
					op(vm.PSH),
					arg(vm.IMM, 'a'),
					op(vm.PSH),
					arg(vm.IMM, vm.DataBase),
					op(vm.PSH),
					arg(vm.SYS, vm.SysMemset),
					arg(vm.ADJ, 3),
					arg(vm.IMM, 8),
					op(vm.PSH),
					arg(vm.IMM, 'b'),
					op(vm.PSH),
					arg(vm.IMM, vm.DataBase+8),
					op(vm.PSH),
					arg(vm.SYS, vm.SysMemset),
					arg(vm.ADJ, 3),
					arg(vm.IMM, 8),
					op(vm.PSH),
					arg(vm.IMM, vm.DataBase+8),
					op(vm.PSH),
					arg(vm.IMM, vm.DataBase),
					op(vm.PSH),
					arg(vm.SYS, vm.SysMemcmp),
					arg(vm.ADJ, 3),
				),
			}
			res, err := exec(prog, vm.Config{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(-1))) // 'a' sorts before 'b'
		})

		It("faults on a bad guest buffer", func() {
			prog := &vm.Program{
				Data: []byte("hi.txt\x00\x00"),
				Code: body(
					arg(vm.IMM, 1<<40),
					op(vm.PSH),
					arg(vm.IMM, vm.DataBase),
					op(vm.PSH),
					arg(vm.IMM, 3),
					op(vm.PSH),
					arg(vm.SYS, vm.SysRead),
					arg(vm.ADJ, 3),
				),
			}
			_, err := exec(prog, vm.Config{FS: fs})
			Expect(errors.Is(err, vm.ErrBadAddress)).To(BeTrue())
		})

		It("rejects unknown syscall ids", func() {
			_, err := run(body(arg(vm.SYS, 99)))
			Expect(errors.Is(err, vm.ErrBadSyscall)).To(BeTrue())
		})

		It("stops at exit no matter where it happens", func() {
			res, err := run([]vm.Instruction{
				op(vm.ENT),
				arg(vm.IMM, 9),
				op(vm.PSH),
				arg(vm.SYS, vm.SysExit),
				arg(vm.ADJ, 1),
				arg(vm.IMM, 1), // never reached
				op(vm.LEV),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(9)))
			Expect(res.m.Halted).To(BeTrue())
		})
	})

	Describe("the exit epilogue", func() {
		It("turns main's return value into the exit status", func() {
			res, err := run(body(arg(vm.IMM, 7)))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.exit).To(Equal(int64(7)))
		})
	})

	It("rejects an entry outside the code", func() {
		_, err := vm.NewMachine(&vm.Program{}, vm.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("rejects unknown opcodes", func() {
		_, err := run(body(op(vm.Opcode(200))))
		Expect(errors.Is(err, vm.ErrBadOpcode)).To(BeTrue())
	})
})

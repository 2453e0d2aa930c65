package vm

import (
	"bytes"
	"fmt"
	"math"
	"strings"
)

// Syscall ids, in the order the compiler installs the builtins. The id
// travels as the SYS operand; anything outside this table is a
// RuntimeError (invalid syscall).
const (
	SysOpen int64 = iota
	SysRead
	SysClose
	SysPrintf
	SysMalloc
	SysFree
	SysMemset
	SysMemcmp
	SysExit
)

var sysNames = [...]string{
	SysOpen:   "open",
	SysRead:   "read",
	SysClose:  "close",
	SysPrintf: "printf",
	SysMalloc: "malloc",
	SysFree:   "free",
	SysMemset: "memset",
	SysMemcmp: "memcmp",
	SysExit:   "exit",
}

// SyscallName returns the source-level name of a syscall id, or a
// numeric form for ids outside the table.
func SyscallName(id int64) string {
	if id >= 0 && id < int64(len(sysNames)) {
		return sysNames[id]
	}
	return fmt.Sprintf("sys(%d)", id)
}

// SyscallID is the reverse of SyscallName; ok is false for unknown names.
func SyscallID(name string) (int64, bool) {
	for id, n := range sysNames {
		if n == name {
			return int64(id), true
		}
	}
	return 0, false
}

// arg reads argument i of the syscall in flight. Arguments were pushed
// rightmost first, so the leftmost is on top of the stack at sp.
func (m *Machine) arg(i int64) (int64, error) {
	return m.loadWord(m.SP + WordSize*i)
}

// argCount peeks at the ADJ instruction that follows every call with
// arguments; its operand is the number of pushed words.
func (m *Machine) argCount() int64 {
	if m.PC < len(m.code) && m.code[m.PC].Op == ADJ {
		return m.code[m.PC].Arg
	}
	return 0
}

func (m *Machine) syscall(id int64) error {
	argc := m.argCount()
	switch id {
	case SysOpen:
		if argc < 1 {
			return m.fault(ErrBadSyscall)
		}
		p, err := m.arg(0)
		if err != nil {
			return err
		}
		path, err := m.guestString(p)
		if err != nil {
			return err
		}
		m.AX = -1
		if m.fs != nil {
			if fd, err := m.fs.Open(path); err == nil {
				m.AX = int64(fd)
			}
		}

	case SysRead:
		if argc < 3 {
			return m.fault(ErrBadSyscall)
		}
		fd, err := m.arg(0)
		if err != nil {
			return err
		}
		buf, err := m.arg(1)
		if err != nil {
			return err
		}
		n, err := m.arg(2)
		if err != nil {
			return err
		}
		if err := m.checkRange(buf, n); err != nil {
			return err
		}
		m.AX = -1
		if m.fs != nil {
			if got, err := m.fs.Read(int(fd), m.Mem[buf:buf+n]); err == nil {
				m.AX = int64(got)
			}
		}

	case SysClose:
		if argc < 1 {
			return m.fault(ErrBadSyscall)
		}
		fd, err := m.arg(0)
		if err != nil {
			return err
		}
		m.AX = -1
		if m.fs != nil && m.fs.Close(int(fd)) == nil {
			m.AX = 0
		}

	case SysPrintf:
		if argc < 1 {
			return m.fault(ErrBadSyscall)
		}
		f, err := m.arg(0)
		if err != nil {
			return err
		}
		rest := make([]int64, 0, argc-1)
		for i := int64(1); i < argc; i++ {
			v, err := m.arg(i)
			if err != nil {
				return err
			}
			rest = append(rest, v)
		}
		s, err := m.formatGuest(f, rest)
		if err != nil {
			return err
		}
		fmt.Fprint(m.out, s)
		m.AX = int64(len(s))

	case SysMalloc:
		if argc < 1 {
			return m.fault(ErrBadSyscall)
		}
		n, err := m.arg(0)
		if err != nil {
			return err
		}
		m.AX = m.alloc(n)

	case SysFree:
		// the arena is reclaimed in bulk when the run ends

	case SysMemset:
		if argc < 3 {
			return m.fault(ErrBadSyscall)
		}
		p, err := m.arg(0)
		if err != nil {
			return err
		}
		v, err := m.arg(1)
		if err != nil {
			return err
		}
		n, err := m.arg(2)
		if err != nil {
			return err
		}
		if err := m.checkRange(p, n); err != nil {
			return err
		}
		for i := int64(0); i < n; i++ {
			m.Mem[p+i] = byte(v)
		}
		m.AX = p

	case SysMemcmp:
		if argc < 3 {
			return m.fault(ErrBadSyscall)
		}
		a, err := m.arg(0)
		if err != nil {
			return err
		}
		b, err := m.arg(1)
		if err != nil {
			return err
		}
		n, err := m.arg(2)
		if err != nil {
			return err
		}
		if err := m.checkRange(a, n); err != nil {
			return err
		}
		if err := m.checkRange(b, n); err != nil {
			return err
		}
		m.AX = int64(bytes.Compare(m.Mem[a:a+n], m.Mem[b:b+n]))

	case SysExit:
		v, err := m.arg(0)
		if err != nil {
			return err
		}
		m.exitCode = v
		m.Halted = true
		m.log.Debug("exit", "value", v, "cycle", m.Cycle)

	default:
		return m.fault(ErrBadSyscall)
	}
	return nil
}

// guestString reads the NUL-terminated string at addr out of guest memory.
func (m *Machine) guestString(addr int64) (string, error) {
	if addr < DataBase || addr >= int64(len(m.Mem)) {
		return "", m.fault(ErrBadAddress)
	}
	end := bytes.IndexByte(m.Mem[addr:], 0)
	if end < 0 {
		return "", m.fault(ErrBadAddress)
	}
	return string(m.Mem[addr : addr+int64(end)]), nil
}

// formatGuest renders a guest printf call. Verbs %d %x %c %s %f plus
// width/precision digits are understood; %s pointers are resolved
// against guest memory; %f arguments hold float bits. Anything the
// formatter does not understand, and verbs beyond the supplied
// arguments, pass through verbatim.
func (m *Machine) formatGuest(addr int64, args []int64) (string, error) {
	f, err := m.guestString(addr)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	next := 0
	for i := 0; i < len(f); i++ {
		c := f[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(f) && (f[j] == '-' || f[j] == '.' || (f[j] >= '0' && f[j] <= '9')) {
			j++
		}
		if j >= len(f) {
			b.WriteByte('%')
			break
		}
		verb := f[j]
		spec := "%" + f[i+1:j+1]
		if verb == '%' {
			b.WriteByte('%')
			i = j
			continue
		}
		if next >= len(args) {
			b.WriteString(f[i : j+1])
			i = j
			continue
		}
		switch verb {
		case 'd', 'c':
			fmt.Fprintf(&b, spec, args[next])
			next++
		case 'x':
			fmt.Fprintf(&b, spec, uint64(args[next]))
			next++
		case 's':
			s, err := m.guestString(args[next])
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, spec, s)
			next++
		case 'f':
			fmt.Fprintf(&b, spec, math.Float64frombits(uint64(args[next])))
			next++
		default:
			b.WriteString(f[i : j+1])
		}
		i = j
	}
	return b.String(), nil
}

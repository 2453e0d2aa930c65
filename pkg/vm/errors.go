package vm

import (
	"errors"
	"fmt"
)

// Sentinel causes for the fatal execution failures. They are always
// surfaced wrapped in a *RuntimeError; errors.Is reaches them through it.
var (
	ErrDivideByZero   = errors.New("division by zero")
	ErrBadOpcode      = errors.New("unknown opcode")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrBadAddress     = errors.New("invalid memory access")
	ErrBadSyscall     = errors.New("invalid syscall")
)

// RuntimeError aborts a run. There is no recovery and no continuation:
// the machine that raised it is dead.
type RuntimeError struct {
	Err   error
	Cycle int64
	PC    int
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("RuntimeError: %v (cycle %d, pc %d)", e.Err, e.Cycle, e.PC)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

package compiler

import (
	"bytes"
	"testing"

	"goc4/pkg/vm"
)

// runC compiles source and executes it on a fresh machine, returning
// the exit status and everything the program printed.
func runC(t *testing.T, source string, args ...string) (int64, string) {
	t.Helper()
	exit, out, err := tryRunC(source, nil, args...)
	if err != nil {
		t.Fatalf("run failed: %v\nSource:\n%s", err, source)
	}
	return exit, out
}

// tryRunC is runC without the test harness: compile and runtime errors
// come back to the caller.
func tryRunC(source string, fs vm.FileSystem, args ...string) (int64, string, error) {
	prog, err := Compile(source)
	if err != nil {
		return 0, "", err
	}
	var out bytes.Buffer
	m, err := vm.NewMachine(prog, vm.Config{Stdout: &out, FS: fs})
	if err != nil {
		return 0, "", err
	}
	exit, err := m.Run(args)
	return exit, out.String(), err
}

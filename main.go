package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/tebeka/atexit"
	"github.com/xyproto/env/v2"

	"goc4/pkg/asm"
	"goc4/pkg/compiler"
	"goc4/pkg/host"
	"goc4/pkg/utils"
	"goc4/pkg/vm"
)

func main() {
	showSource := flag.Bool("s", false, "print the compiled listing instead of running")
	debug := flag.Bool("d", false, "trace every executed instruction to stderr")
	rootDir := flag.String("root", "", "confine guest file access to this directory")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-s] [-d] [-root dir] file.c [args...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		atexit.Exit(2)
	}

	src, _, err := utils.LoadSource(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read source file %q: %v\n", args[0], err)
		atexit.Exit(1)
	}

	prog, err := compiler.Compile(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	if *showSource {
		fmt.Print(asm.Listing(prog, src))
		atexit.Exit(0)
	}

	trace := *debug || env.Bool("GOC4_TRACE")
	logger := slog.Default()
	if trace {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	m, err := vm.NewMachine(prog, vm.Config{
		StackBytes: env.Int("GOC4_STACK_BYTES", 0),
		HeapBytes:  env.Int("GOC4_HEAP_BYTES", 0),
		Stdout:     os.Stdout,
		FS:         host.NewOSFS(*rootDir),
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	// the guest's argv starts with the source path, like any argv[0]
	var exitCode int64
	if trace {
		atexit.Register(func() {
			fmt.Fprintf(os.Stderr, "exit(%d) cycle = %d\n", exitCode, m.Cycle)
		})
	}

	exitCode, err = m.Run(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}
	atexit.Exit(int(exitCode))
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/fatih/color"

	"github.com/patsak/gluevm"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run is the whole command; it returns the exit code so that deferred
// cleanup happens before the process exits.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("gluevm", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configFile := flags.String("config", "", "CUE config file")
	dump := flags.Bool("dump", false, "print the disassembled program before running it")
	repl := flags.Bool("repl", false, "start an interactive shell")
	noPrelude := flags.Bool("no-prelude", false, "do not define the standard functions")
	logLevel := flags.String("log-level", "", "debug, info, warn or error")
	noColor := flags.Bool("no-color", false, "print errors without colors")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	color.NoColor = color.NoColor || *noColor

	cfg, err := loadConfig(*configFile)
	if err != nil {
		reportError(stderr, err)
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *noPrelude {
		cfg.Prelude = false
	}

	logger, closeLog, err := newLogger(cfg, stderr)
	if err != nil {
		reportError(stderr, err)
		return 1
	}
	defer closeLog()
	failed := func(err error) int {
		logger.Debug("run failed", "error", err)
		reportError(stderr, err)
		return 1
	}

	vm := gluevm.NewVM(append(cfg.options(logger), gluevm.WithStdout(stdout))...)
	if cfg.Prelude {
		if err := vm.LoadPrelude(); err != nil {
			return failed(err)
		}
	}

	if *repl {
		runREPL(vm, *dump)
		return 0
	}

	code, err := readInput(flags.Arg(0), stdin)
	if err != nil {
		return failed(err)
	}
	prog, err := gluevm.Assemble(string(code))
	if err != nil {
		return failed(err)
	}
	if *dump {
		fmt.Fprint(stdout, prog.Disassemble())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	res, err := vm.Load(ctx, prog)
	if err != nil {
		return failed(err)
	}
	fmt.Fprintln(stdout, res)
	return 0
}

func readInput(name string, stdin io.Reader) ([]byte, error) {
	if name == "" || name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

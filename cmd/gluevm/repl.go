package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/chzyer/readline"

	"github.com/patsak/gluevm"
)

func runREPL(vm *gluevm.VM, dump bool) {
	var historyFile string
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".gluevm_history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "glue> ",
		HistoryFile: historyFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil { // Ctrl-C or Ctrl-D
			break
		}
		if line == "" {
			continue
		}
		res, err := evalLine(vm, line, dump, rl.Stdout())
		if err != nil {
			reportError(rl.Stderr(), err)
			continue
		}
		fmt.Fprintln(rl.Stdout(), res)
	}
}

// evalLine runs one line until it finishes or the user interrupts it.
func evalLine(vm *gluevm.VM, line string, dump bool, out io.Writer) (gluevm.Value, error) {
	prog, err := gluevm.Assemble(line)
	if err != nil {
		return nil, err
	}
	if dump {
		fmt.Fprint(out, prog.Disassemble())
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return vm.Load(ctx, prog)
}

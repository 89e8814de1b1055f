package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/joomcode/errorx"

	"github.com/patsak/gluevm"
)

// formatError renders err with the frame chain and the failing instruction
// when the interpreter recorded them:
//
//	error: glue.type: car of non-pair: integer 1
//	  --> in CAR r0 r1
//	   | do:2
//	   | bad:0
func formatError(err error) string {
	redBold := color.New(color.FgRed, color.Bold).SprintFunc()
	blue := color.New(color.FgBlue).SprintFunc()

	kind := "error:"
	if e := errorx.Cast(err); e != nil && e.IsOfType(gluevm.AssemblyError) {
		kind = "assembly error:"
	}
	lines := []string{fmt.Sprintf("%s %v", redBold(kind), err)}
	if inst, ok := gluevm.InstructionOf(err); ok && inst != "" {
		lines = append(lines, fmt.Sprintf("  %s in %s", blue("-->"), inst))
	}
	if trace, ok := gluevm.TraceOf(err); ok {
		for _, e := range trace {
			lines = append(lines, fmt.Sprintf("   %s %s", blue("|"), e))
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func reportError(w io.Writer, err error) {
	fmt.Fprint(w, formatError(err))
}

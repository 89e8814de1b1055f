package gluevm

import (
	"fmt"
	"strings"

	"github.com/joomcode/errorx"
)

var (
	Errors = errorx.NewNamespace("glue")

	TypeError        = Errors.NewType("type")
	ArityError       = Errors.NewType("arity")
	MatchError       = Errors.NewType("match")
	UpvalueError     = Errors.NewType("upvalue")
	CoroutineError   = Errors.NewType("coroutine")
	ArithmeticError  = Errors.NewType("arithmetic")
	GlobalError      = Errors.NewType("global")
	PrimitiveError   = Errors.NewType("primitive")
	BytecodeError    = Errors.NewType("bytecode")
	InterruptedError = Errors.NewType("interrupted")
	AssemblyError    = Errors.NewType("assembly")

	StackOverflowError = Errors.NewType("stack_overflow")
)

var (
	errTraceProperty           = errorx.RegisterProperty("trace")
	errInstructionProperty     = errorx.RegisterProperty("instruction")
	errRawTextPositionProperty = errorx.RegisterProperty("rawTextPosition")
)

// TraceEntry is one activation in a frame chain, innermost last.
type TraceEntry struct {
	Function  string
	IP        int
	Coroutine bool
}

func (e TraceEntry) String() string {
	if e.Coroutine {
		return fmt.Sprintf("%s:%d (coroutine)", e.Function, e.IP)
	}
	return fmt.Sprintf("%s:%d", e.Function, e.IP)
}

type Trace []TraceEntry

func (t Trace) String() string {
	lines := make([]string, len(t))
	for i, e := range t {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}

// TraceOf returns the frame chain that was live when err was raised by the
// interpreter.
func TraceOf(err error) (Trace, bool) {
	v, ok := errorx.ExtractProperty(err, errTraceProperty)
	if !ok {
		return nil, false
	}
	return v.(Trace), true
}

// InstructionOf returns the disassembled instruction that raised err.
func InstructionOf(err error) (string, bool) {
	v, ok := errorx.ExtractProperty(err, errInstructionProperty)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// fail aborts the current evaluation; run converts the panic back to an error.
func fail(err *errorx.Error) {
	panic(err)
}

// raise is fail for errors that may come from outside the package.
func raise(err error) {
	if e := errorx.Cast(err); e != nil {
		fail(e)
	}
	fail(errorx.IllegalState.Wrap(err, "unexpected error"))
}

package gluevm

import (
	"context"
	"fmt"

	"github.com/joomcode/errorx"
)

type CoroutineStatus uint8

const (
	Suspended CoroutineStatus = iota
	Running
	Done
)

func (s CoroutineStatus) String() string {
	switch s {
	case Suspended:
		return "suspended"
	case Running:
		return "running"
	case Done:
		return "done"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Coroutine is a suspended computation with a stack of its own. Resuming
// switches the VM to that stack; yielding or finishing switches back to the
// resumer.
type Coroutine struct {
	fn          Value
	status      CoroutineStatus
	started     bool
	resumeArity int

	stack     *stack
	caller    *stack // resumer while running
	dest      int    // caller slot for the next yielded value, -1 for Go
	yieldSlot int    // own slot that receives the next resume argument
}

// NewCoroutine wraps a bytecode callable. Nothing runs until the first
// resume, which has to supply exactly the arguments fn still needs.
func NewCoroutine(fn Value) (*Coroutine, error) {
	var proto *Prototype
	switch c := fn.(type) {
	case *Closure:
		proto = c.Proto
	case *Prototype:
		proto = c
	case *Partial:
		switch t := c.Target.(type) {
		case *Closure:
			proto = t.Proto
		case *Prototype:
			proto = t
		default:
			return nil, TypeError.New("coroutine body must be bytecode, got %s", c)
		}
	default:
		return nil, TypeError.New("coroutine body must be bytecode, got %s", describe(fn))
	}
	if err := proto.Validate(); err != nil {
		return nil, err
	}
	arity, _ := Arity(fn)
	co := &Coroutine{
		fn:          fn,
		status:      Suspended,
		resumeArity: arity,
		dest:        -1,
	}
	co.stack = newStack(co)
	return co, nil
}

func (*Coroutine) Kind() Kind { return KindCoroutine }

func (co *Coroutine) String() string {
	return "#<coroutine " + co.status.String() + ">"
}

func (co *Coroutine) Status() CoroutineStatus {
	return co.status
}

// ResumeArity is the number of arguments the next resume takes: the
// arity of the body before the first resume, one after a yield, and zero
// once the coroutine is done.
func (co *Coroutine) ResumeArity() int {
	return co.resumeArity
}

func (co *Coroutine) finish() {
	co.stack.unwind(0)
	co.status = Done
	co.resumeArity = 0
	co.caller = nil
}

// Resume runs co from Go until it yields or finishes and returns the value
// it produced. Globals the coroutine stores are published when it yields.
func (vm *VM) Resume(ctx context.Context, co *Coroutine, args ...Value) (Value, error) {
	return vm.toplevel(ctx, calleeName(co.fn), func() (Value, error) {
		if err := vm.resume(co, args, -1); err != nil {
			return nil, err
		}
		return vm.run(co.stack, 0)
	})
}

// resume switches the VM onto co's stack. The yielded or returned value
// will land in slot dest of the current stack, or leave the interpreter if
// dest is negative. Errors leave co untouched.
func (vm *VM) resume(co *Coroutine, args []Value, dest int) *errorx.Error {
	switch co.status {
	case Running:
		return CoroutineError.New("resume of running coroutine %s", calleeName(co.fn))
	case Done:
		return CoroutineError.New("resume of finished coroutine %s", calleeName(co.fn))
	}

	if !co.started {
		if len(args) != co.resumeArity {
			return ArityError.New("coroutine %s takes %d arguments on first resume, got %d", calleeName(co.fn), co.resumeArity, len(args))
		}
		inv, _, err := vm.resolve(co.fn, args)
		if err != nil {
			return err
		}
		if inv == nil {
			return errorx.IllegalState.New("coroutine body %s did not produce a frame", calleeName(co.fn))
		}
		co.stack.pushInvocation(inv, -1, false)
		co.started = true
	} else {
		if len(args) > 1 {
			return ArityError.New("coroutine %s takes at most 1 argument on resume, got %d", calleeName(co.fn), len(args))
		}
		var v Value = Nil
		if len(args) == 1 {
			v = args[0]
		}
		co.stack.slots[co.yieldSlot] = v
	}

	co.caller = vm.cur
	co.dest = dest
	co.status = Running
	vm.cur = co.stack
	vm.logger.Debug("resume coroutine", "fn", calleeName(co.fn))
	return nil
}

// yield suspends the running coroutine and hands v to its resumer. The
// next resume argument is delivered to slot.
func (vm *VM) yield(v Value, slot int) (Value, bool) {
	s := vm.cur
	co := s.co
	if co == nil {
		fail(CoroutineError.New("yield outside of a coroutine"))
	}
	if s.hasEntry() {
		fail(CoroutineError.New("yield across a native call in coroutine %s", calleeName(co.fn)))
	}
	co.yieldSlot = slot
	co.status = Suspended
	co.resumeArity = 1
	vm.logger.Debug("yield", "fn", calleeName(co.fn), "value", v)
	return vm.switchBack(co, v)
}

func (vm *VM) switchBack(co *Coroutine, v Value) (Value, bool) {
	caller, dest := co.caller, co.dest
	co.caller = nil
	co.dest = -1
	vm.cur = caller
	if dest < 0 {
		return v, true
	}
	caller.slots[dest] = v
	return nil, false
}

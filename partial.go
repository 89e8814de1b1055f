package gluevm

import (
	"fmt"

	"github.com/joomcode/errorx"
	"golang.org/x/exp/slices"
)

// Partial holds a prefix of the arguments of a call target that has not
// been supplied with all of them yet. The target is never itself a
// Partial: applying a Partial to more arguments produces a new Partial over
// the same target with the argument lists concatenated, so chains of
// partial applications flatten into one pending application.
type Partial struct {
	Target Value // *Closure, *Prototype or *Primitive
	Arity  int   // arity of Target
	Args   []Value
}

func (*Partial) Kind() Kind { return KindPartial }

func (p *Partial) String() string {
	return fmt.Sprintf("#<partial %s %d/%d>", calleeName(p.Target), len(p.Args), p.Arity)
}

// Remaining is the number of arguments that complete the call.
func (p *Partial) Remaining() int {
	return p.Arity - len(p.Args)
}

// Primitive is a callable implemented in Go, invoked with the ordinary
// calling convention.
type Primitive struct {
	Name  string
	Arity int
	Fn    func(vm *VM, args []Value) (Value, error)
}

func (*Primitive) Kind() Kind { return KindPrimitive }

func (p *Primitive) String() string {
	return fmt.Sprintf("#<primitive %s/%d>", p.Name, p.Arity)
}

// invocation is a call that is ready to get a frame.
type invocation struct {
	proto   *Prototype
	closure *Closure
	args    []Value
}

func calleeName(v Value) string {
	switch fn := v.(type) {
	case *Closure:
		return fn.Proto.name()
	case *Prototype:
		return fn.name()
	case *Primitive:
		return fn.Name
	case *Partial:
		return calleeName(fn.Target)
	}
	return str(v)
}

// Arity returns how many arguments complete a call to v, and false if v is
// not callable.
func Arity(v Value) (int, bool) {
	switch fn := v.(type) {
	case *Closure:
		return fn.Proto.Arity, true
	case *Prototype:
		return fn.Arity, true
	case *Primitive:
		return fn.Arity, true
	case *Partial:
		return fn.Remaining(), true
	}
	return 0, false
}

// NewPartial applies target to a prefix of its arguments. Supplying all of
// them is not a partial application and is rejected.
func NewPartial(target Value, args ...Value) (*Partial, error) {
	if p, ok := target.(*Partial); ok {
		if len(args) >= p.Remaining() {
			return nil, ArityError.New("%s needs %d more arguments, got %d", p, p.Remaining(), len(args))
		}
		return p.extend(args), nil
	}
	arity, ok := Arity(target)
	if !ok {
		return nil, TypeError.New("cannot partially apply %s", describe(target))
	}
	if len(args) >= arity {
		return nil, ArityError.New("%s takes %d arguments, got %d", calleeName(target), arity, len(args))
	}
	return &Partial{Target: target, Arity: arity, Args: slices.Clone(args)}, nil
}

func (p *Partial) extend(args []Value) *Partial {
	combined := make([]Value, 0, len(p.Args)+len(args))
	combined = append(combined, p.Args...)
	combined = append(combined, args...)
	return &Partial{Target: p.Target, Arity: p.Arity, Args: combined}
}

// resolve is the apply step of eval/apply. Given a callee and its
// arguments it either returns an invocation that needs a frame, or the
// value of the application: a Partial when arguments are missing, or the
// result of a primitive. Supplying more arguments than the callee takes is
// an arity error.
func (vm *VM) resolve(callee Value, args []Value) (*invocation, Value, *errorx.Error) {
	switch fn := callee.(type) {
	case *Closure:
		return bind(fn, fn.Proto, fn, args)
	case *Prototype:
		if len(fn.FreeVars) > 0 {
			return nil, nil, TypeError.New("prototype %s has %d free variables and must be closed first", fn.name(), len(fn.FreeVars))
		}
		return bind(fn, fn, nil, args)
	case *Primitive:
		switch {
		case len(args) < fn.Arity:
			return nil, &Partial{Target: fn, Arity: fn.Arity, Args: slices.Clone(args)}, nil
		case len(args) > fn.Arity:
			return nil, nil, ArityError.New("%s takes %d arguments, got %d", fn.Name, fn.Arity, len(args))
		}
		res, err := vm.callPrimitive(fn, args)
		return nil, res, err
	case *Partial:
		need := fn.Remaining()
		switch {
		case len(args) < need:
			return nil, fn.extend(args), nil
		case len(args) > need:
			return nil, nil, ArityError.New("%s needs %d more arguments, got %d", fn, need, len(args))
		}
		return vm.resolve(fn.Target, fn.extend(args).Args)
	}
	return nil, nil, TypeError.New("calling non-function: %s", describe(callee))
}

func bind(callee Value, proto *Prototype, cl *Closure, args []Value) (*invocation, Value, *errorx.Error) {
	if err := proto.Validate(); err != nil {
		return nil, nil, errorx.Cast(err)
	}
	switch {
	case len(args) < proto.Arity:
		return nil, &Partial{Target: callee, Arity: proto.Arity, Args: slices.Clone(args)}, nil
	case len(args) > proto.Arity:
		return nil, nil, ArityError.New("%s takes %d arguments, got %d", proto.name(), proto.Arity, len(args))
	}
	return &invocation{proto: proto, closure: cl, args: args}, nil, nil
}

func (vm *VM) callPrimitive(fn *Primitive, args []Value) (Value, *errorx.Error) {
	res, err := fn.Fn(vm, args)
	if err != nil {
		if e := errorx.Cast(err); e != nil && isGlueError(e) {
			return nil, e
		}
		return nil, PrimitiveError.Wrap(err, "primitive %s", fn.Name)
	}
	return orNil(res), nil
}

func isGlueError(e *errorx.Error) bool {
	return e.IsOfType(TypeError) ||
		e.IsOfType(ArityError) ||
		e.IsOfType(MatchError) ||
		e.IsOfType(UpvalueError) ||
		e.IsOfType(CoroutineError) ||
		e.IsOfType(ArithmeticError) ||
		e.IsOfType(GlobalError) ||
		e.IsOfType(PrimitiveError) ||
		e.IsOfType(BytecodeError) ||
		e.IsOfType(InterruptedError) ||
		e.IsOfType(StackOverflowError)
}

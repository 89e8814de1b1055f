package gluevm

import (
	"fmt"

	"github.com/joomcode/errorx"
	"golang.org/x/exp/constraints"
)

func cmp[T constraints.Ordered](op OpCode, a, b T) Bool {
	if op == OpLt {
		return a < b
	}
	return a <= b
}

// wrapping applies an arithmetic opcode with two's complement overflow.
// Division truncates toward zero and the remainder takes the sign of the
// dividend.
func wrapping[T constraints.Signed](op OpCode, a, b T) (T, *errorx.Error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	}
	if b == 0 {
		return 0, ArithmeticError.New("%s by zero", op)
	}
	if op == OpDiv {
		return a / b, nil
	}
	return a % b, nil
}

func arith(op OpCode, a, b Value) (Value, *errorx.Error) {
	if op == OpLt || op == OpLe {
		switch x := a.(type) {
		case Int:
			if y, ok := b.(Int); ok {
				return cmp(op, x, y), nil
			}
		case Symbol:
			if y, ok := b.(Symbol); ok {
				return cmp(op, x, y), nil
			}
		}
		return nil, TypeError.New("%s: cannot compare %s and %s", op, describe(a), describe(b))
	}
	x, ok := a.(Int)
	if !ok {
		return nil, TypeError.New("%s: expected integer, got %s", op, describe(a))
	}
	y, ok := b.(Int)
	if !ok {
		return nil, TypeError.New("%s: expected integer, got %s", op, describe(b))
	}
	res, err := wrapping(op, x, y)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Scoped is a resource usable with WITH. Exit runs after the body even
// when the body fails.
type Scoped interface {
	Value
	Enter() error
	Exit() error
}

func (vm *VM) with(res, fn Value) Value {
	sc, ok := res.(Scoped)
	if !ok {
		fail(TypeError.New("with: %s is not a scoped resource", describe(res)))
	}
	if err := sc.Enter(); err != nil {
		fail(PrimitiveError.Wrap(err, "enter %s", str(res)))
	}
	v, err := vm.Apply(fn, res)
	if exitErr := sc.Exit(); exitErr != nil && err == nil {
		err = PrimitiveError.Wrap(exitErr, "exit %s", str(res))
	}
	if err != nil {
		raise(err)
	}
	return v
}

func primitive(name string, arity int, fn func(vm *VM, args []Value) (Value, error)) *Primitive {
	return &Primitive{Name: name, Arity: arity, Fn: fn}
}

func binaryOp(name string, op OpCode) *Primitive {
	return primitive(name, 2, func(_ *VM, args []Value) (Value, error) {
		v, err := arith(op, args[0], args[1])
		if err != nil {
			return nil, err
		}
		return v, nil
	})
}

var primitives = []*Primitive{
	binaryOp("+", OpAdd),
	binaryOp("-", OpSub),
	binaryOp("*", OpMul),
	binaryOp("/", OpDiv),
	binaryOp("mod", OpMod),
	binaryOp("<", OpLt),
	binaryOp("<=", OpLe),
	primitive("cons", 2, func(_ *VM, args []Value) (Value, error) {
		return Cons(args[0], args[1]), nil
	}),
	primitive("car", 1, func(_ *VM, args []Value) (Value, error) {
		p, ok := args[0].(*Pair)
		if !ok {
			return nil, TypeError.New("car of non-pair: %s", describe(args[0]))
		}
		return p.Car, nil
	}),
	primitive("cdr", 1, func(_ *VM, args []Value) (Value, error) {
		p, ok := args[0].(*Pair)
		if !ok {
			return nil, TypeError.New("cdr of non-pair: %s", describe(args[0]))
		}
		return p.Cdr, nil
	}),
	primitive("atom", 1, func(_ *VM, args []Value) (Value, error) {
		return Bool(isAtom(args[0])), nil
	}),
	primitive("null", 1, func(_ *VM, args []Value) (Value, error) {
		return Bool(args[0] == Nil), nil
	}),
	primitive("not", 1, func(_ *VM, args []Value) (Value, error) {
		return Bool(!truthy(args[0])), nil
	}),
	primitive("eq", 2, func(_ *VM, args []Value) (Value, error) {
		return Bool(args[0] == args[1]), nil
	}),
	primitive("equal", 2, func(_ *VM, args []Value) (Value, error) {
		return Bool(Equal(args[0], args[1])), nil
	}),
	primitive("tag", 1, func(_ *VM, args []Value) (Value, error) {
		inst, ok := args[0].(*Instance)
		if !ok {
			return nil, TypeError.New("tag of non-instance: %s", describe(args[0]))
		}
		return inst.Tag, nil
	}),
	primitive("fields", 1, func(_ *VM, args []Value) (Value, error) {
		inst, ok := args[0].(*Instance)
		if !ok {
			return nil, TypeError.New("fields of non-instance: %s", describe(args[0]))
		}
		return List(inst.Fields...), nil
	}),
	primitive("apply", 2, func(vm *VM, args []Value) (Value, error) {
		list, ok := ListToSlice(args[1])
		if !ok {
			return nil, TypeError.New("apply: argument list must be a proper list, got %s", describe(args[1]))
		}
		return vm.Apply(args[0], list...)
	}),
	primitive("coroutine", 1, func(_ *VM, args []Value) (Value, error) {
		return NewCoroutine(args[0])
	}),
	primitive("status", 1, func(_ *VM, args []Value) (Value, error) {
		co, ok := args[0].(*Coroutine)
		if !ok {
			return nil, TypeError.New("status of non-coroutine: %s", describe(args[0]))
		}
		return Symbol(co.Status().String()), nil
	}),
	primitive("print", 1, func(vm *VM, args []Value) (Value, error) {
		if _, err := fmt.Fprintln(vm.stdout, str(args[0])); err != nil {
			return nil, err
		}
		return args[0], nil
	}),
}

func definePrimitives(vm *VM) {
	for _, p := range primitives {
		vm.globals.define(Symbol(p.Name), p)
	}
}

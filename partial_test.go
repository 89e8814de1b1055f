package gluevm

import (
	"context"
	"testing"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const add3 = `
(fn add3 (a b c)
  (add r4 a b)
  (add r0 r4 c))
`

func TestPartialCompletion(t *testing.T) {
	vm := newTestVM(t)
	cons, _ := vm.Lookup("cons")
	plus, _ := vm.Lookup("+")

	for _, tc := range []struct {
		name   string
		fn     Value
		first  Value
		second Value
		result string
	}{
		{name: "symbols", fn: cons, first: Symbol("a"), second: Symbol("b"), result: "(a . b)"},
		{name: "integers", fn: plus, first: Int(40), second: Int(2), result: "42"},
		{name: "nil", fn: cons, first: Symbol("a"), second: Nil, result: "(a)"},
		{name: "nilFirst", fn: cons, first: Nil, second: Nil, result: "(nil)"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, err := vm.Apply(tc.fn, tc.first)
			require.NoError(t, err)
			require.IsType(t, &Partial{}, p)
			assert.Equal(t, 1, p.(*Partial).Remaining())

			res, err := vm.Apply(p, tc.second)
			require.NoError(t, err)
			assert.Equal(t, tc.result, res.String())
		})
	}
}

func TestPartialChaining(t *testing.T) {
	vm := newTestVM(t)
	load(t, vm, add3)
	fn, ok := vm.Lookup("add3")
	require.True(t, ok)

	p1, err := vm.Apply(fn, Int(1))
	require.NoError(t, err)
	assert.Equal(t, "#<partial add3 1/3>", p1.String())

	p2, err := vm.Apply(p1, Int(2))
	require.NoError(t, err)
	assert.Equal(t, "#<partial add3 2/3>", p2.String())
	assert.Same(t, fn, p2.(*Partial).Target)

	res, err := vm.Apply(p2, Int(3))
	require.NoError(t, err)
	assert.Equal(t, Int(6), res)

	// grouping of the arguments does not matter
	for _, groups := range [][][]Value{
		{{Int(1), Int(2), Int(3)}},
		{{Int(1)}, {Int(2), Int(3)}},
		{{Int(1), Int(2)}, {Int(3)}},
		{{}, {Int(1)}, {}, {Int(2)}, {Int(3)}},
	} {
		var cur = fn
		for _, args := range groups {
			cur, err = vm.Apply(cur, args...)
			require.NoError(t, err)
		}
		assert.Equal(t, Int(6), cur)
	}
}

func TestPartialOverApplication(t *testing.T) {
	vm := newTestVM(t)
	load(t, vm, add3)
	fn, _ := vm.Lookup("add3")

	p, err := vm.Apply(fn, Int(1))
	require.NoError(t, err)

	_, err = vm.Apply(p, Int(2), Int(3), Int(4))
	require.Error(t, err)
	assert.True(t, errorx.IsOfType(err, ArityError), "%v", err)

	_, err = vm.Apply(fn, Int(1), Int(2), Int(3), Int(4))
	require.Error(t, err)
	assert.True(t, errorx.IsOfType(err, ArityError), "%v", err)
}

func TestPartialInBytecode(t *testing.T) {
	vm := newTestVM(t)
	load(t, vm, add3)

	res := load(t, vm, `
(do
  (loadglobal r1 add3)
  (loadint r2 1)
  (call r1 1 r3)
  (loadint r4 2)
  (call r3 1 r3)
  (loadint r4 3)
  (call r3 1 r0))`)
	assert.Equal(t, "6", res.String())

	// a tail call through a Partial reuses the frame
	load(t, vm, `
(fn finish (p)
  (move r2 p)
  (loadint r3 3)
  (tailcall r2 1))`)
	res = load(t, vm, `
(do
  (loadglobal r1 add3)
  (loadint r2 1)
  (loadint r3 2)
  (call r1 2 r5)
  (loadglobal r4 finish)
  (call r4 1 r0))`)
	assert.Equal(t, "6", res.String())
}

func TestNewPartial(t *testing.T) {
	vm := newTestVM(t)
	load(t, vm, add3)
	fn, _ := vm.Lookup("add3")

	p, err := NewPartial(fn, Int(1))
	require.NoError(t, err)
	p2, err := NewPartial(p, Int(2))
	require.NoError(t, err)
	assert.Equal(t, []Value{Int(1), Int(2)}, p2.Args)
	assert.Equal(t, 1, p2.Remaining())

	_, err = NewPartial(fn, Int(1), Int(2), Int(3))
	assert.True(t, errorx.IsOfType(err, ArityError), "%v", err)
	_, err = NewPartial(p2, Int(3))
	assert.True(t, errorx.IsOfType(err, ArityError), "%v", err)
	_, err = NewPartial(Int(1))
	assert.True(t, errorx.IsOfType(err, TypeError), "%v", err)

	res, err := vm.Apply(p2, Int(3))
	require.NoError(t, err)
	assert.Equal(t, Int(6), res)
}

func TestApplyPrototype(t *testing.T) {
	vm := NewVM()
	proto := &Prototype{Name: "seven", Code: []Instruction{AsBx(OpLoadInt, 0, 7)}}
	res, err := vm.Apply(proto)
	require.NoError(t, err)
	assert.Equal(t, Int(7), res)

	_, err = vm.Apply(&Prototype{Name: "open", FreeVars: []Capture{{Local: true}}})
	require.Error(t, err)
	assert.True(t, errorx.IsOfType(err, TypeError), "%v", err)

	arity, ok := Arity(proto)
	assert.True(t, ok)
	assert.Equal(t, 0, arity)
	_, ok = Arity(Int(1))
	assert.False(t, ok)

	res, err = vm.Call(context.Background(), "cons", Int(1), Nil)
	require.NoError(t, err)
	assert.Equal(t, "(1)", res.String())
}

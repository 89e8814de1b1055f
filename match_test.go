package gluevm

import (
	"context"
	"testing"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const classify = `
(fn classify (v)
  (match v
    ((None) none)
    ((Some r2) some)
    ((Pair r2 r3) pair)
    (_ other))
  (label none)
  (loadk r0 'none)
  (return r0)
  (label some)
  (move r0 r2)
  (return r0)
  (label pair)
  (add r0 r2 r3)
  (return r0)
  (label other)
  (loadk r0 'other)
  (return r0))
`

func TestConstructMatchRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name   string
		code   string
		result string
	}{
		{
			name:   "noFields",
			code:   "(do (loadk r1 'None) (construct r2 r1 0) (loadglobal r4 classify) (move r5 r2) (call r4 1 r0))",
			result: "none",
		},
		{
			name:   "oneField",
			code:   "(do (loadk r1 'Some) (loadint r2 7) (construct r3 r1 1) (loadglobal r4 classify) (move r5 r3) (call r4 1 r0))",
			result: "7",
		},
		{
			name:   "twoFields",
			code:   "(do (loadk r1 'Pair) (loadint r2 3) (loadint r3 4) (construct r5 r1 2) (loadglobal r6 classify) (move r7 r5) (call r6 1 r0))",
			result: "7",
		},
		{
			name:   "wrongArity",
			code:   "(do (loadk r1 'Some) (construct r2 r1 0) (loadglobal r4 classify) (move r5 r2) (call r4 1 r0))",
			result: "other",
		},
		{
			name:   "notAnInstance",
			code:   "(do (loadglobal r4 classify) (loadint r5 1) (call r4 1 r0))",
			result: "other",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			vm := newTestVM(t)
			load(t, vm, classify)
			assert.Equal(t, tc.result, load(t, vm, tc.code).String())
		})
	}
}

func TestMatchFirstArmWins(t *testing.T) {
	vm := newTestVM(t)
	load(t, vm, `
(fn pick (v)
  (match v
    (1 one)
    (r2 any)
    (2 two))
  (label one)
  (loadk r0 'one)
  (return r0)
  (label any)
  (loadk r0 'any)
  (return r0)
  (label two)
  (loadk r0 'two)
  (return r0))`)

	for _, tc := range []struct {
		arg    Value
		result Value
	}{
		{arg: Int(1), result: Symbol("one")},
		{arg: Int(2), result: Symbol("any")},
		{arg: Symbol("x"), result: Symbol("any")},
	} {
		res, err := vm.Call(context.Background(), "pick", tc.arg)
		require.NoError(t, err)
		assert.Equal(t, tc.result, res)
	}
}

func TestMatchBindingsOnlyFromMatchedArm(t *testing.T) {
	vm := newTestVM(t)
	load(t, vm, `
(fn probe (v)
  (match v
    ((cons r2 5) five)
    ((cons _ r3) rest))
  (label five)
  (return r2)
  (label rest)
  (cons r0 r2 r3)
  (return r0))`)

	res, err := vm.Call(context.Background(), "probe", Cons(Int(1), Int(6)))
	require.NoError(t, err)
	assert.Equal(t, "(nil . 6)", res.String())

	res, err = vm.Call(context.Background(), "probe", Cons(Int(1), Int(5)))
	require.NoError(t, err)
	assert.Equal(t, Int(1), res)
}

func TestMatchLiterals(t *testing.T) {
	vm := newTestVM(t)
	load(t, vm, `
(fn kind (v)
  (match v
    (nil empty)
    ('(1 2) onetwo)
    ('sym sym)
    (true yes)
    (_ other))
  (label empty) (loadk r0 'empty) (return r0)
  (label onetwo) (loadk r0 'onetwo) (return r0)
  (label sym) (loadk r0 'sym) (return r0)
  (label yes) (loadk r0 'yes) (return r0)
  (label other) (loadk r0 'other) (return r0))`)

	for _, tc := range []struct {
		arg    Value
		result string
	}{
		{arg: Nil, result: "empty"},
		{arg: List(Int(1), Int(2)), result: "onetwo"},
		{arg: List(Int(1), Int(2), Int(3)), result: "other"},
		{arg: Symbol("sym"), result: "sym"},
		{arg: True, result: "yes"},
		{arg: False, result: "other"},
	} {
		res, err := vm.Call(context.Background(), "kind", tc.arg)
		require.NoError(t, err)
		assert.Equal(t, tc.result, res.String())
	}
}

func TestMatchExhausted(t *testing.T) {
	vm := newTestVM(t)
	load(t, vm, "(fn only-one (v) (match v (1 yes)) (label yes) (return v))")

	res, err := vm.Call(context.Background(), "only-one", Int(1))
	require.NoError(t, err)
	assert.Equal(t, Int(1), res)

	_, err = vm.Call(context.Background(), "only-one", Int(2))
	require.Error(t, err)
	assert.True(t, errorx.IsOfType(err, MatchError), "%v", err)
}

func TestMatchTableDirect(t *testing.T) {
	table := NewMatchTable(
		Arm{Pattern: MatchConstruct("Leaf"), Offset: 1},
		Arm{Pattern: MatchConstruct("Node", MatchBind(1), MatchAny(), MatchBind(2)), Offset: 2},
	)
	assert.Equal(t, 3, table.registers())
	assert.Equal(t, "(Leaf) -> 5, (Node r1 _ r2) -> 6", table.describe(4))

	regs := make([]Value, 3)
	offset, ok := table.dispatch(&Instance{Tag: "Node", Fields: []Value{Int(1), Int(2), Int(3)}}, regs)
	require.True(t, ok)
	assert.Equal(t, 2, offset)
	assert.Equal(t, []Value{nil, Int(1), Int(3)}, regs)

	_, ok = table.dispatch(Int(0), regs)
	assert.False(t, ok)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(List(Int(1), List(Symbol("a"))), List(Int(1), List(Symbol("a")))))
	assert.False(t, Equal(List(Int(1)), List(Int(2))))
	assert.True(t, Equal(Cons(Int(1), Int(2)), Cons(Int(1), Int(2))))
	assert.False(t, Equal(Cons(Int(1), Int(2)), List(Int(1), Int(2))))
	assert.True(t, Equal(&Instance{Tag: "A", Fields: []Value{Nil}}, &Instance{Tag: "A", Fields: []Value{nil}}))
	assert.False(t, Equal(&Instance{Tag: "A"}, &Instance{Tag: "B"}))
	assert.True(t, Equal(nil, Nil))
}

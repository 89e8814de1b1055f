package gluevm

import (
	"context"
	"fmt"
	"testing"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shared makes two closures over its local x = 5: bump increments x and
// returns it, read returns it. It returns (bump-result read-result bump read).
const shared = `
(fn shared ()
  (fn bump ()
    (free (local 1))
    (getupval r1 u0)
    (loadint r2 1)
    (add r1 r1 r2)
    (setupval r1 u0)
    (return r1))
  (fn read ()
    (free (local 1))
    (getupval r0 u0))
  (loadint r1 5)
  (closure r2 bump)
  (closure r3 read)
  (move r5 r2)
  (call r5 0 r4)
  (move r6 r3)
  (call r6 0 r7)
  (loadnil r9)
  (cons r9 r3 r9)
  (cons r9 r2 r9)
  (cons r9 r7 r9)
  (cons r0 r4 r9)
  %s
  (return r0))
`

func runShared(t *testing.T, vm *VM, exit string) (Value, Value, *Closure, *Closure) {
	load(t, vm, fmt.Sprintf(shared, exit))
	res, err := vm.Call(context.Background(), "shared")
	require.NoError(t, err)
	items, ok := ListToSlice(res)
	require.True(t, ok)
	require.Len(t, items, 4)
	return items[0], items[1], items[2].(*Closure), items[3].(*Closure)
}

func TestUpvalueSharing(t *testing.T) {
	vm := newTestVM(t)
	bumped, read, bump, get := runShared(t, vm, "(closeupval r1)")

	assert.Equal(t, Int(6), bumped)
	assert.Equal(t, Int(6), read)

	require.Len(t, bump.Upvalues, 1)
	require.Len(t, get.Upvalues, 1)
	assert.Same(t, bump.Upvalues[0], get.Upvalues[0])
	assert.False(t, get.Upvalues[0].IsOpen())

	// the frame is gone but the value lives on
	v, err := vm.Apply(get)
	require.NoError(t, err)
	assert.Equal(t, Int(6), v)

	_, err = vm.Apply(bump)
	require.Error(t, err)
	assert.True(t, errorx.IsOfType(err, UpvalueError), "%v", err)
	assert.Equal(t, Int(6), get.Upvalues[0].Get())
}

func TestUpvalueClosedOnReturn(t *testing.T) {
	vm := newTestVM(t)
	_, _, _, get := runShared(t, vm, "")

	assert.False(t, get.Upvalues[0].IsOpen())
	v, err := vm.Apply(get)
	require.NoError(t, err)
	assert.Equal(t, Int(6), v)
}

func TestStrictUpvalues(t *testing.T) {
	vm := newTestVM(t, WithStrictUpvalues(true))
	load(t, vm, fmt.Sprintf(shared, ""))

	_, err := vm.Call(context.Background(), "shared")
	require.Error(t, err)
	assert.True(t, errorx.IsOfType(err, UpvalueError), "%v", err)
	assert.Equal(t, 0, vm.Depth())
}

func TestCaptureFromUpvalue(t *testing.T) {
	vm := newTestVM(t)
	load(t, vm, `
(fn outer (x)
  (fn middle ()
    (free (local 1))
    (fn inner ()
      (free (up 0))
      (getupval r0 u0))
    (closure r0 inner))
  (closure r2 middle)
  (move r3 r2)
  (call r3 0 r0)
  (closeupval r1)
  (return r0))`)

	inner, err := vm.Call(context.Background(), "outer", Symbol("hello"))
	require.NoError(t, err)
	v, err := vm.Apply(inner)
	require.NoError(t, err)
	assert.Equal(t, Symbol("hello"), v)
}

func TestOpenUpvalueList(t *testing.T) {
	s := newStack(nil)
	a := s.capture(3)
	b := s.capture(7)
	c := s.capture(5)
	assert.Same(t, a, s.capture(3))

	// sorted by descending slot
	var order []int
	for uv := s.open; uv != nil; uv = uv.next {
		order = append(order, uv.index)
	}
	assert.Equal(t, []int{7, 5, 3}, order)

	s.slots[5] = Int(50)
	s.slots[7] = Int(70)
	s.closeFrom(5)
	assert.False(t, b.IsOpen())
	assert.False(t, c.IsOpen())
	assert.True(t, a.IsOpen())
	assert.Equal(t, Int(70), b.Get())
	assert.Equal(t, Int(50), c.Get())
	assert.Same(t, a, s.open)
}

func TestNewClosure(t *testing.T) {
	proto := &Prototype{Name: "k", FreeVars: []Capture{{Local: true, Index: 1}}, Code: []Instruction{AB(OpGetUpval, 0, 0)}}

	_, err := NewClosure(proto)
	require.Error(t, err)

	cl, err := NewClosure(proto, ClosedUpvalue(Int(9)))
	require.NoError(t, err)
	v, err := NewVM().Apply(cl)
	require.NoError(t, err)
	assert.Equal(t, Int(9), v)
}

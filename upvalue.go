package gluevm

import (
	"fmt"
)

// Upvalue is a variable shared between closures and the frame that created
// it. While open it aliases a slot of a live frame stack; closing copies the
// slot out and the upvalue stays closed for good.
type Upvalue struct {
	stack *stack // nil once closed
	index int
	value Value
	next  *Upvalue
}

func (u *Upvalue) IsOpen() bool {
	return u.stack != nil
}

func (u *Upvalue) Get() Value {
	if u.stack != nil {
		return orNil(u.stack.slots[u.index])
	}
	return u.value
}

// Set writes through to the aliased slot. A closed upvalue has no producer
// left and cannot be written.
func (u *Upvalue) Set(v Value) error {
	if u.stack == nil {
		return UpvalueError.New("write to closed upvalue (value %s)", str(u.value))
	}
	u.stack.slots[u.index] = v
	return nil
}

func (u *Upvalue) String() string {
	if u.stack != nil {
		return fmt.Sprintf("#<upvalue open @%d>", u.index)
	}
	return fmt.Sprintf("#<upvalue closed %s>", str(u.value))
}

// capture returns the open upvalue for slot index, creating it in order if
// no closure has captured the slot yet. The open list is sorted by
// descending index.
func (s *stack) capture(index int) *Upvalue {
	var prev *Upvalue
	cur := s.open
	for cur != nil && cur.index > index {
		prev = cur
		cur = cur.next
	}
	if cur != nil && cur.index == index {
		return cur
	}
	uv := &Upvalue{stack: s, index: index, next: cur}
	if prev == nil {
		s.open = uv
	} else {
		prev.next = uv
	}
	return uv
}

// closeFrom closes every open upvalue at or above index.
func (s *stack) closeFrom(index int) {
	for s.open != nil && s.open.index >= index {
		uv := s.open
		uv.value = orNil(s.slots[uv.index])
		uv.stack = nil
		s.open = uv.next
		uv.next = nil
	}
}

// openAbove reports whether any upvalue at or above index is still open.
func (s *stack) openAbove(index int) bool {
	return s.open != nil && s.open.index >= index
}

type Closure struct {
	Proto    *Prototype
	Upvalues []*Upvalue
}

func (*Closure) Kind() Kind { return KindClosure }

func (c *Closure) String() string {
	return fmt.Sprintf("#<fn %s/%d>", c.Proto.name(), c.Proto.Arity)
}

// NewClosure closes p over already resolved upvalues, e.g. for embedding
// code that builds closures outside the interpreter.
func NewClosure(p *Prototype, upvalues ...*Upvalue) (*Closure, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(upvalues) != len(p.FreeVars) {
		return nil, ArityError.New("%s captures %d free variables, got %d upvalues", p.name(), len(p.FreeVars), len(upvalues))
	}
	return &Closure{Proto: p, Upvalues: upvalues}, nil
}

// ClosedUpvalue makes an upvalue that is already closed over v.
func ClosedUpvalue(v Value) *Upvalue {
	return &Upvalue{value: orNil(v)}
}

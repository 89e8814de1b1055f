package gluevm

// Frame is one activation record. The caller link is the previous entry of
// the owning stack's frame slice.
type Frame struct {
	proto   *Prototype
	closure *Closure // nil for a bare prototype
	ip      int
	base    int  // slot of R0
	ret     int  // caller slot that receives the result, -1 if none
	entry   bool // pushed by a Go caller; returning leaves the interpreter
}

func (f *Frame) upvalues() []*Upvalue {
	if f.closure == nil {
		return nil
	}
	return f.closure.Upvalues
}

func (f *Frame) size() int {
	return f.proto.frameSize()
}

// stack holds the register windows and frames of one line of execution:
// the main program or one coroutine.
type stack struct {
	slots  []Value
	frames []Frame
	open   *Upvalue
	co     *Coroutine
}

func newStack(co *Coroutine) *stack {
	return &stack{
		slots:  make([]Value, 256),
		frames: make([]Frame, 0, 16),
		co:     co,
	}
}

func (s *stack) top() int {
	if len(s.frames) == 0 {
		return 0
	}
	f := &s.frames[len(s.frames)-1]
	return f.base + f.size()
}

func (s *stack) current() *Frame {
	return &s.frames[len(s.frames)-1]
}

func (s *stack) ensure(n int) {
	if n <= len(s.slots) {
		return
	}
	newCap := len(s.slots) * 2
	if newCap < n {
		newCap = n
	}
	newSlots := make([]Value, newCap)
	copy(newSlots, s.slots)
	s.slots = newSlots
}

// push opens a cleared register window for proto above the current frame.
// Arguments are copied in by the caller.
func (s *stack) push(proto *Prototype, cl *Closure, ret int, entry bool) *Frame {
	base := s.top()
	size := proto.frameSize()
	s.ensure(base + size)
	clear(s.slots[base : base+size])
	s.frames = append(s.frames, Frame{
		proto:   proto,
		closure: cl,
		base:    base,
		ret:     ret,
		entry:   entry,
	})
	return &s.frames[len(s.frames)-1]
}

func (s *stack) pushInvocation(inv *invocation, ret int, entry bool) *Frame {
	f := s.push(inv.proto, inv.closure, ret, entry)
	copy(s.slots[f.base+1:], inv.args)
	return f
}

// pop drops the top frame and clears its window so that nothing it held
// stays reachable from the stack.
func (s *stack) pop() Frame {
	f := s.frames[len(s.frames)-1]
	clear(s.slots[f.base : f.base+f.size()])
	s.frames[len(s.frames)-1] = Frame{}
	s.frames = s.frames[:len(s.frames)-1]
	return f
}

// reuse turns the top frame into an activation of proto for a tail call.
// The arguments are read from the frame's own registers argStart ..
// argStart+argc-1 when args is nil.
func (s *stack) reuse(proto *Prototype, cl *Closure, args []Value, argStart, argc int) {
	f := s.current()
	s.closeFrom(f.base)
	oldSize := f.size()
	size := proto.frameSize()
	s.ensure(f.base + size)
	window := s.slots[f.base : f.base+max(oldSize, size)]
	if args == nil {
		copy(window[1:], window[argStart:argStart+argc])
	} else {
		argc = copy(window[1:], args)
	}
	window[0] = nil
	clear(window[1+argc:])
	f.proto = proto
	f.closure = cl
	f.ip = 0
}

// unwind abandons every frame above depth after a failure.
func (s *stack) unwind(depth int) {
	if depth >= len(s.frames) {
		return
	}
	s.closeFrom(s.frames[depth].base)
	for len(s.frames) > depth {
		s.pop()
	}
}

// hasEntry reports whether a Go caller is waiting on some frame of s.
func (s *stack) hasEntry() bool {
	for i := range s.frames {
		if s.frames[i].entry {
			return true
		}
	}
	return false
}

func (s *stack) trace() Trace {
	var t Trace
	if s.co != nil && s.co.caller != nil {
		t = s.co.caller.trace()
	}
	for i := range s.frames {
		f := &s.frames[i]
		ip := f.ip - 1
		if ip < 0 {
			ip = 0
		}
		t = append(t, TraceEntry{
			Function:  f.proto.name(),
			IP:        ip,
			Coroutine: s.co != nil,
		})
	}
	return t
}

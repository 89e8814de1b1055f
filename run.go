package gluevm

import (
	"github.com/joomcode/errorx"
)

// run is the dispatch loop. It executes the active stack until the entry
// frame at start.frames[depth] returns, or until a coroutine resumed from
// Go yields or finishes.
func (vm *VM) run(start *stack, depth int) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = vm.recoverError(r, start, depth)
		}
	}()

	var (
		s    *stack
		f    *Frame
		code []Instruction
		k    []Value
		regs []Value
	)
	reload := func() {
		s = vm.cur
		f = s.current()
		code = f.proto.Code
		k = f.proto.Constants
		regs = s.slots[f.base : f.base+f.size()]
	}
	reload()

	for {
		inst := A(OpReturn, 0) // falling off the end returns R0
		if f.ip < len(code) {
			inst = code[f.ip]
		}
		f.ip++

		if vm.trace {
			vm.logger.Debug("exec", "fn", f.proto.name(), "ip", f.ip-1, "inst", inst.String())
		}

		switch op := inst.Op(); op {
		case OpNop:

		case OpLoadK, OpQuote:
			regs[inst.A()] = k[inst.Bx()]

		case OpLoadInt:
			regs[inst.A()] = Int(inst.SBx())

		case OpLoadNil:
			regs[inst.A()] = Nil

		case OpLoadBool:
			regs[inst.A()] = Bool(inst.B() != 0)

		case OpMove:
			regs[inst.A()] = regs[inst.B()]

		case OpLoadGlobal:
			name := k[inst.Bx()].(Symbol)
			v, ok := vm.globals.lookup(name)
			if !ok {
				fail(GlobalError.New("undefined global %s", name))
			}
			regs[inst.A()] = v

		case OpStoreGlobal:
			vm.globals.define(k[inst.Bx()].(Symbol), orNil(regs[inst.A()]))

		case OpAtom:
			regs[inst.A()] = Bool(isAtom(orNil(regs[inst.B()])))

		case OpIsNil:
			regs[inst.A()] = Bool(orNil(regs[inst.B()]) == Nil)

		case OpCar:
			p, ok := regs[inst.B()].(*Pair)
			if !ok {
				fail(TypeError.New("car of non-pair: %s", describe(orNil(regs[inst.B()]))))
			}
			regs[inst.A()] = p.Car

		case OpCdr:
			p, ok := regs[inst.B()].(*Pair)
			if !ok {
				fail(TypeError.New("cdr of non-pair: %s", describe(orNil(regs[inst.B()]))))
			}
			regs[inst.A()] = p.Cdr

		case OpCons:
			regs[inst.A()] = Cons(orNil(regs[inst.B()]), orNil(regs[inst.C()]))

		case OpEq:
			regs[inst.A()] = Bool(orNil(regs[inst.B()]) == orNil(regs[inst.C()]))

		case OpNot:
			regs[inst.A()] = Bool(!truthy(regs[inst.B()]))

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpLt, OpLe:
			v, err := arith(op, orNil(regs[inst.B()]), orNil(regs[inst.C()]))
			if err != nil {
				fail(err)
			}
			regs[inst.A()] = v

		case OpJmp:
			vm.jump(f, inst.SBx())

		case OpJmpT:
			if truthy(regs[inst.A()]) {
				vm.jump(f, inst.SBx())
			}

		case OpJmpF:
			if !truthy(regs[inst.A()]) {
				vm.jump(f, inst.SBx())
			}

		case OpCall:
			a, argc := inst.A(), inst.B()
			ret := f.base + inst.C()
			callee := regs[a]
			vm.poll()
			if cl, ok := callee.(*Closure); ok && cl.Proto.Arity == argc {
				vm.checkDepth(s)
				argStart := f.base + a + 1
				nf := s.push(cl.Proto, cl, ret, false)
				copy(s.slots[nf.base+1:], s.slots[argStart:argStart+argc])
				reload()
				continue
			}
			inv, res, err := vm.resolve(orNil(callee), cloneArgs(regs[a+1:a+1+argc]))
			if err != nil {
				fail(err)
			}
			if inv == nil {
				// a primitive may have run the interpreter and moved the stack
				reload()
				regs[inst.C()] = res
				continue
			}
			vm.checkDepth(s)
			s.pushInvocation(inv, ret, false)
			reload()

		case OpTailCall:
			a, argc := inst.A(), inst.B()
			callee := regs[a]
			vm.poll()
			if cl, ok := callee.(*Closure); ok && cl.Proto.Arity == argc {
				s.reuse(cl.Proto, cl, nil, a+1, argc)
				reload()
				continue
			}
			inv, res, err := vm.resolve(orNil(callee), cloneArgs(regs[a+1:a+1+argc]))
			if err != nil {
				fail(err)
			}
			if inv != nil {
				s.reuse(inv.proto, inv.closure, inv.args, 0, 0)
				reload()
				continue
			}
			reload()
			s.closeFrom(f.base)
			if v, done := vm.ret(res); done {
				return v, nil
			}
			reload()

		case OpReturn:
			if v, done := vm.ret(orNil(regs[inst.A()])); done {
				return v, nil
			}
			reload()

		case OpClosure:
			regs[inst.A()] = vm.makeClosure(s, f, k[inst.Bx()].(*Prototype))

		case OpGetUpval:
			regs[inst.A()] = upvalueAt(f, inst.B()).Get()

		case OpSetUpval:
			if err := upvalueAt(f, inst.B()).Set(orNil(regs[inst.A()])); err != nil {
				raise(err)
			}

		case OpCloseUpval:
			s.closeFrom(f.base + inst.A())

		case OpConstruct:
			tag, ok := regs[inst.B()].(Symbol)
			if !ok {
				fail(TypeError.New("construct: tag must be a symbol, got %s", describe(orNil(regs[inst.B()]))))
			}
			start := inst.B() + 1
			regs[inst.A()] = &Instance{Tag: tag, Fields: cloneArgs(regs[start : start+inst.C()])}

		case OpMatch:
			table := f.proto.Matches[inst.Bx()]
			scrutinee := orNil(regs[inst.A()])
			offset, ok := table.dispatch(scrutinee, regs)
			if !ok {
				fail(MatchError.New("no pattern matches %s", describe(scrutinee)))
			}
			f.ip += offset

		case OpWith:
			v := vm.with(orNil(regs[inst.B()]), orNil(regs[inst.C()]))
			reload()
			regs[inst.A()] = v

		case OpCoroutine:
			co, err := NewCoroutine(orNil(regs[inst.B()]))
			if err != nil {
				raise(err)
			}
			regs[inst.A()] = co

		case OpYield:
			if v, done := vm.yield(orNil(regs[inst.B()]), f.base+inst.A()); done {
				return v, nil
			}
			reload()

		case OpResume:
			co, ok := regs[inst.B()].(*Coroutine)
			if !ok {
				fail(TypeError.New("resume of non-coroutine: %s", describe(orNil(regs[inst.B()]))))
			}
			start := inst.B() + 1
			if err := vm.resume(co, cloneArgs(regs[start:start+inst.C()]), f.base+inst.A()); err != nil {
				fail(err)
			}
			reload()

		default:
			fail(BytecodeError.New("unknown opcode %d", op))
		}
	}
}

func (vm *VM) jump(f *Frame, offset int) {
	f.ip += offset
	if offset < 0 {
		vm.poll()
	}
}

// ret pops the top frame of the active stack and hands v to whoever waits
// for it. It reports true when v leaves the interpreter loop.
func (vm *VM) ret(v Value) (Value, bool) {
	s := vm.cur
	if base := s.current().base; s.openAbove(base) {
		if vm.strictUpvalues {
			fail(UpvalueError.New("%s returns with open upvalues", s.current().proto.name()))
		}
		s.closeFrom(base)
	}
	fr := s.pop()
	switch {
	case fr.entry:
		return v, true
	case fr.ret >= 0:
		s.slots[fr.ret] = v
		return nil, false
	case s.co == nil:
		fail(errorx.IllegalState.New("return from %s has no receiver", fr.proto.name()))
	}
	co := s.co
	co.status = Done
	co.resumeArity = 0
	vm.logger.Debug("coroutine finished", "fn", calleeName(co.fn), "result", v)
	return vm.switchBack(co, v)
}

func (vm *VM) makeClosure(s *stack, f *Frame, proto *Prototype) *Closure {
	outer := f.upvalues()
	upvalues := make([]*Upvalue, len(proto.FreeVars))
	for i, fv := range proto.FreeVars {
		if fv.Local {
			upvalues[i] = s.capture(f.base + int(fv.Index))
			continue
		}
		if int(fv.Index) >= len(outer) {
			fail(BytecodeError.New("%s captures u%d but %s has %d upvalues", proto.name(), fv.Index, f.proto.name(), len(outer)))
		}
		upvalues[i] = outer[fv.Index]
	}
	return &Closure{Proto: proto, Upvalues: upvalues}
}

func upvalueAt(f *Frame, i int) *Upvalue {
	ups := f.upvalues()
	if i >= len(ups) {
		fail(BytecodeError.New("%s has no upvalue u%d", f.proto.name(), i))
	}
	return ups[i]
}

// cloneArgs copies registers out of a window, reading unset ones as nil.
func cloneArgs(regs []Value) []Value {
	args := make([]Value, len(regs))
	for i, r := range regs {
		args[i] = orNil(r)
	}
	return args
}

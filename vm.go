package gluevm

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/joomcode/errorx"
)

const (
	defaultMaxDepth = 200000
	pollInterval    = 1024
)

type VM struct {
	main    *stack
	cur     *stack
	globals *Globals

	logger         *slog.Logger
	stdout         io.Writer
	maxDepth       int
	strictUpvalues bool
	trace          bool

	ctx   context.Context
	ticks uint
	form  bool
}

type Option func(vm *VM)

func WithLogger(logger *slog.Logger) Option {
	return func(vm *VM) {
		vm.logger = logger
	}
}

func WithStdout(w io.Writer) Option {
	return func(vm *VM) {
		vm.stdout = w
	}
}

// WithMaxDepth bounds the number of frames on one stack. Tail calls do not
// count against it.
func WithMaxDepth(n int) Option {
	return func(vm *VM) {
		vm.maxDepth = n
	}
}

// WithStrictUpvalues makes returning from a frame that still has open
// upvalues an error. By default RETURN closes them.
func WithStrictUpvalues(strict bool) Option {
	return func(vm *VM) {
		vm.strictUpvalues = strict
	}
}

// WithTrace logs every executed instruction at debug level.
func WithTrace(trace bool) Option {
	return func(vm *VM) {
		vm.trace = trace
	}
}

func WithGlobals(globals map[string]Value) Option {
	return func(vm *VM) {
		for k, v := range globals {
			vm.globals.define(Symbol(k), v)
		}
	}
}

func NewVM(options ...Option) *VM {
	vm := &VM{
		main:     newStack(nil),
		globals:  newGlobals(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		stdout:   os.Stdout,
		maxDepth: defaultMaxDepth,
		ctx:      context.Background(),
	}
	vm.cur = vm.main
	definePrimitives(vm)
	for _, opt := range options {
		opt(vm)
	}
	return vm
}

func (vm *VM) Define(name string, v Value) {
	vm.globals.define(Symbol(name), orNil(v))
}

func (vm *VM) Lookup(name string) (Value, bool) {
	return vm.globals.lookup(Symbol(name))
}

// Globals returns the names of all committed globals in order.
func (vm *VM) Globals() []Symbol {
	return vm.globals.names()
}

// Frames returns the live frame chain, outermost first.
func (vm *VM) Frames() Trace {
	return vm.cur.trace()
}

// Depth is the number of frames on the active stack.
func (vm *VM) Depth() int {
	return len(vm.cur.frames)
}

// Run evaluates one top-level form.
func (vm *VM) Run(ctx context.Context, form *Prototype) (Value, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	if form.Arity != 0 || len(form.FreeVars) != 0 {
		return nil, ArityError.New("top-level form %s must take no arguments and capture nothing", form.name())
	}
	return vm.toplevel(ctx, form.name(), func() (Value, error) {
		vm.cur.pushInvocation(&invocation{proto: form}, -1, true)
		return vm.run(vm.cur, len(vm.cur.frames)-1)
	})
}

// Load runs every form of a program in order and returns the value of the
// last one.
func (vm *VM) Load(ctx context.Context, prog *Program) (Value, error) {
	var res Value = Nil
	for _, form := range prog.Forms {
		var err error
		res, err = vm.Run(ctx, form)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Apply calls callee with args and runs it to completion. Too few
// arguments give a Partial; too many are an arity error. Primitives may use
// Apply to call back into the interpreter.
func (vm *VM) Apply(callee Value, args ...Value) (Value, error) {
	return vm.toplevel(vm.ctx, calleeName(callee), func() (Value, error) {
		return vm.apply(callee, args)
	})
}

// Call applies the global name to args.
func (vm *VM) Call(ctx context.Context, name string, args ...Value) (Value, error) {
	fn, ok := vm.Lookup(name)
	if !ok {
		return nil, GlobalError.New("undefined global %s", name)
	}
	return vm.toplevel(ctx, name, func() (Value, error) {
		return vm.apply(fn, args)
	})
}

func (vm *VM) apply(callee Value, args []Value) (Value, error) {
	inv, res, err := vm.resolve(orNil(callee), cloneArgs(args))
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return res, nil
	}
	if vm.maxDepth > 0 && len(vm.cur.frames) >= vm.maxDepth {
		return nil, StackOverflowError.New("call depth exceeds %d", vm.maxDepth)
	}
	vm.cur.pushInvocation(inv, -1, true)
	return vm.run(vm.cur, len(vm.cur.frames)-1)
}

// toplevel runs fn as one top-level evaluation. Globals stored meanwhile
// are staged and published when fn returns, so frames never see a
// redefinition in the middle of an evaluation; a failure drops them. An
// entry from inside an evaluation, such as a primitive calling Apply, joins
// the staging of the outer one.
func (vm *VM) toplevel(ctx context.Context, name string, fn func() (Value, error)) (Value, error) {
	prev := vm.ctx
	vm.ctx = ctx
	defer func() {
		vm.ctx = prev
	}()
	if vm.form {
		return fn()
	}

	vm.form = true
	vm.globals.begin()
	defer func() {
		vm.form = false
	}()

	vm.logger.DebugContext(ctx, "run form", "form", name)
	res, err := fn()
	if err != nil {
		vm.globals.discard()
		return nil, err
	}
	committed := vm.globals.commit()
	if len(committed) > 0 {
		vm.logger.DebugContext(ctx, "commit globals", "form", name, "names", committed)
	}
	return res, nil
}

func (vm *VM) poll() {
	vm.ticks++
	if vm.ticks%pollInterval != 0 {
		return
	}
	if err := vm.ctx.Err(); err != nil {
		fail(InterruptedError.Wrap(err, "evaluation interrupted"))
	}
}

func (vm *VM) checkDepth(s *stack) {
	if vm.maxDepth > 0 && len(s.frames) >= vm.maxDepth {
		fail(StackOverflowError.New("call depth exceeds %d", vm.maxDepth))
	}
}

// recoverError turns a failure raised inside run into an error carrying the
// frame chain, and abandons the frames and coroutines it interrupted.
func (vm *VM) recoverError(r any, start *stack, depth int) error {
	err, ok := r.(*errorx.Error)
	if !ok {
		if e, isErr := r.(error); isErr {
			err = errorx.IllegalState.Wrap(e, "interpreter failure")
		} else {
			err = errorx.IllegalState.New("%v", r)
		}
	}

	if _, traced := TraceOf(err); !traced {
		trace := vm.cur.trace()
		var inst string
		if len(vm.cur.frames) > 0 {
			f := vm.cur.current()
			if ip := f.ip - 1; ip >= 0 && ip < len(f.proto.Code) {
				inst = f.proto.Code[ip].String()
			}
			err = errorx.Decorate(err, "VM instruction: %s@%d %s", f.proto.name(), f.ip-1, inst)
		}
		err = err.WithProperty(errTraceProperty, trace).WithProperty(errInstructionProperty, inst)
	}

	for vm.cur != start && vm.cur.co != nil {
		s := vm.cur
		vm.cur = s.co.caller
		s.co.finish()
	}
	start.unwind(depth)
	if start.co != nil && len(start.frames) == 0 && start.co.status == Running {
		vm.cur = start.co.caller
		start.co.finish()
	}

	vm.logger.Debug("evaluation failed", "error", err)
	return err
}

package gluevm

import (
	"math"
	"strconv"
	"strings"

	"github.com/joomcode/errorx"
)

// Program is assembled source: its top-level forms in order.
type Program struct {
	Forms []*Prototype
}

// Disassemble renders every form of the program.
func (p *Program) Disassemble() string {
	b := strings.Builder{}
	for _, f := range p.Forms {
		b.WriteString(f.Disassemble())
	}
	return b.String()
}

type builder struct {
	proto    *Prototype
	consts   map[Value]int
	labels   map[string]int
	fixups   []fixup
	children map[string]int
	params   map[string]int
}

// fixup is a jump or a match arm whose label was not known when it was
// emitted.
type fixup struct {
	pc    int
	label *node
	table *MatchTable
	arm   int
}

func newBuilder(proto *Prototype) *builder {
	return &builder{
		proto:    proto,
		consts:   map[Value]int{},
		labels:   map[string]int{},
		children: map[string]int{},
		params:   map[string]int{},
	}
}

// Assemble lowers assembly source to prototypes. A top-level (fn ...)
// becomes a form that defines a global closure, (def name datum) a form
// that binds a global to a constant, and (do ...) a form run for its value.
func Assemble(text string) (_ *Program, err error) {
	nodes, err := parse(text)
	if err != nil {
		return nil, withSourceContext(err, text)
	}

	defer func() {
		errRec := recover()
		if errRec == nil {
			return
		}
		var ok bool
		err, ok = errRec.(error)
		if !ok {
			err = errorx.IllegalArgument.New("%v", errRec)
		}
		err = withSourceContext(err, text)
	}()

	prog := &Program{}
	for _, n := range nodes {
		prog.Forms = append(prog.Forms, assembleForm(n))
	}
	return prog, nil
}

// MustAssemble is Assemble for source known to be valid.
func MustAssemble(text string) *Program {
	prog, err := Assemble(text)
	if err != nil {
		errorx.Panic(err)
	}
	return prog
}

func errorAt(n *node, format string, args ...any) *errorx.Error {
	return AssemblyError.New(format, args...).WithProperty(errRawTextPositionProperty, n.pos)
}

func assembleForm(n *node) *Prototype {
	head, _ := n.head()
	switch head {
	case keywordFn:
		fn := assembleFunction(n)
		if len(fn.FreeVars) > 0 {
			panic(errorAt(n, "top-level function %s cannot capture free variables", fn.Name))
		}
		b := newBuilder(&Prototype{Name: fn.Name})
		b.emit(ABx(OpClosure, 0, b.constant(n, fn)))
		b.emit(ABx(OpStoreGlobal, 0, b.constant(n, Symbol(fn.Name))))
		b.emit(A(OpReturn, 0))
		return b.finish(n)
	case keywordDef:
		if len(n.items) != 3 {
			panic(errorAt(n, "expected (def name datum), got %s", n))
		}
		name := symbolOperand(n.items[1])
		b := newBuilder(&Prototype{Name: string(name)})
		b.emit(ABx(OpLoadK, 0, b.constant(n, datum(n.items[2]))))
		b.emit(ABx(OpStoreGlobal, 0, b.constant(n, name)))
		b.emit(A(OpReturn, 0))
		return b.finish(n)
	case keywordDo:
		b := newBuilder(&Prototype{Name: keywordDo})
		b.body(n.items[1:])
		return b.finish(n)
	}
	panic(errorAt(n, "top-level form must be (fn ...), (def ...) or (do ...), got %s", n))
}

// assembleFunction lowers (fn name (params...) body...).
func assembleFunction(n *node) *Prototype {
	if len(n.items) < 3 || n.items[1].kind != nodeSymbol || n.items[2].kind != nodeList {
		panic(errorAt(n, "expected (fn name (params...) body...), got %s", n))
	}
	params := n.items[2].items
	if len(params) >= MaxRegisters {
		panic(errorAt(n.items[2], "too many parameters: %d", len(params)))
	}
	b := newBuilder(&Prototype{Name: n.items[1].text, Arity: len(params)})
	for i, p := range params {
		if p.kind != nodeSymbol {
			panic(errorAt(p, "parameter must be a symbol, got %s", p))
		}
		b.params[p.text] = i + 1
	}
	b.body(n.items[3:])
	return b.finish(n)
}

func (b *builder) body(items []*node) {
	// nested functions, doc and captures first, so that closures may name
	// functions declared below them
	for _, item := range items {
		head, ok := item.head()
		if !ok {
			panic(errorAt(item, "expected an instruction, got %s", item))
		}
		switch head {
		case keywordFn:
			child := assembleFunction(item)
			if _, dup := b.children[child.Name]; dup {
				panic(errorAt(item, "function %s declared twice in %s", child.Name, b.proto.name()))
			}
			b.proto.Constants = append(b.proto.Constants, child)
			b.children[child.Name] = len(b.proto.Constants) - 1
		case keywordDoc:
			if len(item.items) != 2 || item.items[1].kind != nodeString {
				panic(errorAt(item, "expected (doc \"text\"), got %s", item))
			}
			b.proto.Doc = item.items[1].text
		case keywordFree:
			for _, c := range item.items[1:] {
				b.proto.FreeVars = append(b.proto.FreeVars, capture(c))
			}
		}
	}
	for _, item := range items {
		head, _ := item.head()
		switch head {
		case keywordFn, keywordDoc, keywordFree:
		case keywordLabel:
			if len(item.items) != 2 || item.items[1].kind != nodeSymbol {
				panic(errorAt(item, "expected (label name), got %s", item))
			}
			name := item.items[1].text
			if _, dup := b.labels[name]; dup {
				panic(errorAt(item, "label %s defined twice", name))
			}
			b.labels[name] = len(b.proto.Code)
		default:
			b.instruction(head, item)
		}
	}
}

func capture(n *node) Capture {
	head, _ := n.head()
	if len(n.items) != 2 || (head != keywordLocal && head != keywordUp) {
		panic(errorAt(n, "expected (local n) or (up n), got %s", n))
	}
	return Capture{Local: head == keywordLocal, Index: byteOperand(n.items[1], "capture index")}
}

func (b *builder) emit(inst Instruction) int {
	b.proto.Code = append(b.proto.Code, inst)
	return len(b.proto.Code) - 1
}

func (b *builder) constant(n *node, v Value) uint16 {
	if i, ok := b.consts[v]; ok {
		return uint16(i)
	}
	if len(b.proto.Constants) > math.MaxUint16 {
		panic(errorAt(n, "too many constants in %s", b.proto.name()))
	}
	b.proto.Constants = append(b.proto.Constants, v)
	b.consts[v] = len(b.proto.Constants) - 1
	return uint16(len(b.proto.Constants) - 1)
}

func expect(n *node, operands int) []*node {
	if len(n.items)-1 != operands {
		panic(errorAt(n, "%s takes %d operands, got %d", n.items[0].text, operands, len(n.items)-1))
	}
	return n.items[1:]
}

func (b *builder) instruction(name string, n *node) {
	op, ok := opsByName[strings.ToUpper(name)]
	if !ok {
		panic(errorAt(n, "unknown instruction %s", name))
	}

	switch op {
	case OpNop:
		expect(n, 0)
		b.emit(Instruction(OpNop))
	case OpLoadNil, OpReturn, OpCloseUpval:
		args := expect(n, 1)
		b.emit(A(op, b.register(args[0])))
	case OpLoadK, OpQuote:
		args := expect(n, 2)
		b.emit(ABx(op, b.register(args[0]), b.constant(args[1], datum(args[1]))))
	case OpLoadInt:
		args := expect(n, 2)
		if args[1].kind != nodeInt || args[1].num < math.MinInt16 || args[1].num > math.MaxInt16 {
			panic(errorAt(args[1], "loadint takes a 16-bit integer, got %s; use loadk", args[1]))
		}
		b.emit(AsBx(op, b.register(args[0]), int16(args[1].num)))
	case OpLoadBool:
		args := expect(n, 2)
		var v uint8
		switch {
		case args[1].isSymbol(keywordTrue):
			v = 1
		case args[1].isSymbol(keywordFalse):
		default:
			v = byteOperand(args[1], "boolean")
		}
		b.emit(AB(op, b.register(args[0]), v))
	case OpLoadGlobal, OpStoreGlobal:
		args := expect(n, 2)
		b.emit(ABx(op, b.register(args[0]), b.constant(args[1], symbolOperand(args[1]))))
	case OpMove, OpAtom, OpIsNil, OpCar, OpCdr, OpNot, OpCoroutine, OpYield:
		args := expect(n, 2)
		b.emit(AB(op, b.register(args[0]), b.register(args[1])))
	case OpCons, OpEq, OpAdd, OpSub, OpMul, OpDiv, OpMod, OpLt, OpLe, OpWith:
		args := expect(n, 3)
		b.emit(ABC(op, b.register(args[0]), b.register(args[1]), b.register(args[2])))
	case OpJmp:
		args := expect(n, 1)
		b.jump(op, 0, args[0])
	case OpJmpT, OpJmpF:
		args := expect(n, 2)
		b.jump(op, b.register(args[0]), args[1])
	case OpCall:
		args := expect(n, 3)
		b.emit(ABC(op, b.register(args[0]), byteOperand(args[1], "argument count"), b.register(args[2])))
	case OpTailCall:
		args := expect(n, 2)
		b.emit(AB(op, b.register(args[0]), byteOperand(args[1], "argument count")))
	case OpConstruct, OpResume:
		args := expect(n, 3)
		b.emit(ABC(op, b.register(args[0]), b.register(args[1]), byteOperand(args[2], "count")))
	case OpClosure:
		args := expect(n, 2)
		if args[1].kind != nodeSymbol {
			panic(errorAt(args[1], "closure takes a function name, got %s", args[1]))
		}
		k, ok := b.children[args[1].text]
		if !ok {
			panic(errorAt(args[1], "no function %s in %s", args[1].text, b.proto.name()))
		}
		b.emit(ABx(op, b.register(args[0]), uint16(k)))
	case OpGetUpval, OpSetUpval:
		args := expect(n, 2)
		b.emit(AB(op, b.register(args[0]), upvalueOperand(args[1])))
	case OpMatch:
		if len(n.items) < 3 {
			panic(errorAt(n, "match takes a register and at least one arm, got %s", n))
		}
		b.match(n)
	default:
		panic(errorAt(n, "instruction %s cannot be assembled", name))
	}
}

func (b *builder) jump(op OpCode, a uint8, target *node) {
	if target.kind == nodeInt {
		b.emit(AsBx(op, a, offsetOperand(target, target.num)))
		return
	}
	if target.kind != nodeSymbol {
		panic(errorAt(target, "jump target must be a label or an offset, got %s", target))
	}
	pc := b.emit(AsBx(op, a, 0))
	b.fixups = append(b.fixups, fixup{pc: pc, label: target})
}

func (b *builder) match(n *node) {
	reg := b.register(n.items[1])
	table := &MatchTable{}
	pc := len(b.proto.Code)
	for _, armNode := range n.items[2:] {
		if armNode.kind != nodeList || len(armNode.items) != 2 {
			panic(errorAt(armNode, "expected (pattern target), got %s", armNode))
		}
		arm := Arm{Pattern: b.pattern(armNode.items[0])}
		switch target := armNode.items[1]; target.kind {
		case nodeInt:
			arm.Offset = int(target.num)
		case nodeSymbol:
			b.fixups = append(b.fixups, fixup{pc: pc, label: target, table: table, arm: len(table.Arms)})
		default:
			panic(errorAt(target, "match target must be a label or an offset, got %s", target))
		}
		table.Arms = append(table.Arms, arm)
	}
	if len(b.proto.Matches) > math.MaxUint16 {
		panic(errorAt(n, "too many match tables in %s", b.proto.name()))
	}
	b.proto.Matches = append(b.proto.Matches, table)
	b.emit(ABx(OpMatch, reg, uint16(len(b.proto.Matches)-1)))
}

func (b *builder) pattern(n *node) Pattern {
	switch n.kind {
	case nodeInt, nodeString:
		return MatchLiteral(datum(n))
	case nodeSymbol:
		switch n.text {
		case keywordWildcard:
			return MatchAny()
		case keywordNil, keywordTrue, keywordFalse:
			return MatchLiteral(datum(n))
		}
		if _, ok := b.tryRegister(n); ok {
			return MatchBind(b.register(n))
		}
		panic(errorAt(n, "bare symbol %s in pattern; quote it to match the symbol", n.text))
	}
	head, ok := n.head()
	switch {
	case !ok:
		panic(errorAt(n, "pattern must start with a tag, got %s", n))
	case head == keywordQuote:
		return MatchLiteral(datum(n))
	case head == keywordCons:
		if len(n.items) != 3 {
			panic(errorAt(n, "expected (cons car cdr), got %s", n))
		}
		return MatchPair(b.pattern(n.items[1]), b.pattern(n.items[2]))
	}
	fields := make([]Pattern, 0, len(n.items)-1)
	for _, f := range n.items[1:] {
		fields = append(fields, b.pattern(f))
	}
	return MatchConstruct(Symbol(head), fields...)
}

func (b *builder) finish(n *node) *Prototype {
	for _, fx := range b.fixups {
		target, ok := b.labels[fx.label.text]
		if !ok {
			panic(errorAt(fx.label, "undefined label %s in %s", fx.label.text, b.proto.name()))
		}
		offset := target - (fx.pc + 1)
		if fx.table != nil {
			fx.table.Arms[fx.arm].Offset = offset
			continue
		}
		inst := b.proto.Code[fx.pc]
		b.proto.Code[fx.pc] = AsBx(inst.Op(), uint8(inst.A()), offsetOperand(fx.label, int64(offset)))
	}
	if err := b.proto.Validate(); err != nil {
		panic(errorx.Decorate(err, "assembling %s", b.proto.name()).WithProperty(errRawTextPositionProperty, n.pos))
	}
	return b.proto
}

func (b *builder) tryRegister(n *node) (uint8, bool) {
	if n.kind != nodeSymbol {
		return 0, false
	}
	if i, ok := b.params[n.text]; ok {
		return uint8(i), true
	}
	if len(n.text) < 2 || n.text[0] != registerPrefix {
		return 0, false
	}
	i, err := strconv.Atoi(n.text[1:])
	if err != nil || i < 0 || i > maxRegisterIndex {
		return 0, false
	}
	return uint8(i), true
}

// register reads rN, or a parameter name standing for its register.
func (b *builder) register(n *node) uint8 {
	r, ok := b.tryRegister(n)
	if !ok {
		panic(errorAt(n, "expected a register r0..r%d, got %s", maxRegisterIndex, n))
	}
	return r
}

func upvalueOperand(n *node) uint8 {
	if n.kind == nodeSymbol && len(n.text) > 1 && n.text[0] == upvalueSigil {
		if i, err := strconv.Atoi(n.text[1:]); err == nil && i >= 0 && i <= math.MaxUint8 {
			return uint8(i)
		}
	}
	return byteOperand(n, "upvalue index")
}

func byteOperand(n *node, what string) uint8 {
	if n.kind != nodeInt || n.num < 0 || n.num > math.MaxUint8 {
		panic(errorAt(n, "%s must be an integer in 0..255, got %s", what, n))
	}
	return uint8(n.num)
}

func offsetOperand(n *node, offset int64) int16 {
	if offset < math.MinInt16 || offset > math.MaxInt16 {
		panic(errorAt(n, "jump offset %d out of range", offset))
	}
	return int16(offset)
}

func symbolOperand(n *node) Symbol {
	if head, ok := n.head(); ok && head == keywordQuote && len(n.items) == 2 {
		n = n.items[1]
	}
	if n.kind != nodeSymbol {
		panic(errorAt(n, "expected a symbol, got %s", n))
	}
	return Symbol(n.text)
}

// datum converts quoted source data to a value. Lists may be dotted.
func datum(n *node) Value {
	switch n.kind {
	case nodeInt:
		return Int(n.num)
	case nodeString:
		return Symbol(n.text)
	case nodeSymbol:
		switch n.text {
		case keywordNil:
			return Nil
		case keywordTrue:
			return True
		case keywordFalse:
			return False
		}
		return Symbol(n.text)
	}
	items := n.items
	if head, ok := n.head(); ok && head == keywordQuote && len(items) == 2 {
		return datum(items[1])
	}
	var tail Value = Nil
	if l := len(items); l >= 3 && items[l-2].isSymbol(keywordDot) {
		tail = datum(items[l-1])
		items = items[:l-2]
	}
	for i := len(items) - 1; i >= 0; i-- {
		tail = Cons(datum(items[i]), tail)
	}
	return tail
}

// withSourceContext decorates an error carrying a source position with the
// offending line and a caret under the position.
func withSourceContext(err error, rawText string) error {
	pos, ok := errorx.ExtractProperty(err, errRawTextPositionProperty)
	if !ok {
		return err
	}
	runes := []rune(rawText)
	posInt := pos.(int)
	if posInt >= len(runes) {
		return err
	}
	line := 1 + strings.Count(string(runes[:posInt]), "\n")
	lineStart := posInt
	for lineStart > 0 && runes[lineStart-1] != '\n' {
		lineStart--
	}
	lineEnd := posInt
	for lineEnd < len(runes) && runes[lineEnd] != '\n' {
		lineEnd++
	}

	return errorx.Decorate(err, "line %d: %s", line, string(runes[lineStart:posInt])+"^"+string(runes[posInt:lineEnd]))
}

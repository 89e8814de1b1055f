package gluevm

import (
	"fmt"
	"strings"
	"sync"
)

// MaxRegisters bounds a register window; operands are a single byte.
const MaxRegisters = 256

// Capture describes where a closure finds free variable i when it is made:
// a register of the enclosing frame, or one of the enclosing closure's own
// upvalues.
type Capture struct {
	Local bool
	Index uint8
}

func (c Capture) String() string {
	if c.Local {
		return fmt.Sprintf("(local %d)", c.Index)
	}
	return fmt.Sprintf("(up %d)", c.Index)
}

// Prototype is an immutable compiled function. It must not be changed
// after the first call to Validate, which checks it once and fixes its
// frame size; the VM validates every prototype before it gets a frame.
type Prototype struct {
	Name      string
	Arity     int
	FreeVars  []Capture
	Code      []Instruction
	Constants []Value
	Matches   []*MatchTable
	Doc       string

	once sync.Once
	err  error
	size int
}

func (*Prototype) Kind() Kind { return KindPrototype }

func (p *Prototype) String() string {
	return fmt.Sprintf("#<fn %s/%d>", p.name(), p.Arity)
}

func (p *Prototype) name() string {
	if p.Name == "" {
		return "<lambda>"
	}
	return p.Name
}

// frameSize is the number of registers a frame of p needs: every register
// the code names, and at least R0 plus the parameters.
func (p *Prototype) frameSize() int {
	if err := p.Validate(); err != nil {
		raise(err)
	}
	return p.size
}

func (p *Prototype) computeSize() int {
	size := p.Arity + 1
	for _, inst := range p.Code {
		for _, r := range inst.registers() {
			if r+1 > size {
				size = r + 1
			}
		}
	}
	for _, m := range p.Matches {
		if r := m.registers(); r > size {
			size = r
		}
	}
	return min(size, MaxRegisters)
}

// Validate checks what the interpreter relies on without re-checking at
// run time: operand ranges, constant kinds and jump targets. The result is
// computed once; later calls are cheap.
func (p *Prototype) Validate() error {
	p.once.Do(func() {
		p.err = p.validate()
		if p.err == nil {
			p.size = p.computeSize()
		}
	})
	return p.err
}

func (p *Prototype) validate() error {
	if p.Arity < 0 || p.Arity >= MaxRegisters {
		return BytecodeError.New("%s: arity %d out of range", p.name(), p.Arity)
	}
	for pc, inst := range p.Code {
		op := inst.Op()
		if op >= opCount {
			return BytecodeError.New("%s@%d: unknown opcode %d", p.name(), pc, op)
		}
		for _, r := range inst.registers() {
			if r >= MaxRegisters {
				return BytecodeError.New("%s@%d: register %d out of range", p.name(), pc, r)
			}
		}
		switch op {
		case OpMatch:
			if inst.Bx() >= len(p.Matches) {
				return BytecodeError.New("%s@%d: match table %d out of range", p.name(), pc, inst.Bx())
			}
			for _, arm := range p.Matches[inst.Bx()].Arms {
				if t := pc + 1 + arm.Offset; t < 0 || t > len(p.Code) {
					return BytecodeError.New("%s@%d: match target %d out of range", p.name(), pc, t)
				}
			}
		case OpLoadK, OpQuote, OpLoadGlobal, OpStoreGlobal, OpClosure:
			if inst.Bx() >= len(p.Constants) {
				return BytecodeError.New("%s@%d: constant %d out of range", p.name(), pc, inst.Bx())
			}
			k := p.Constants[inst.Bx()]
			switch op {
			case OpLoadGlobal, OpStoreGlobal:
				if _, ok := k.(Symbol); !ok {
					return BytecodeError.New("%s@%d: global name must be a symbol, got %s", p.name(), pc, describe(k))
				}
			case OpClosure:
				child, ok := k.(*Prototype)
				if !ok {
					return BytecodeError.New("%s@%d: closure constant must be a prototype, got %s", p.name(), pc, describe(k))
				}
				if err := child.Validate(); err != nil {
					return err
				}
			}
		case OpJmp, OpJmpT, OpJmpF:
			if t := pc + 1 + inst.SBx(); t < 0 || t > len(p.Code) {
				return BytecodeError.New("%s@%d: jump target %d out of range", p.name(), pc, t)
			}
		}
	}
	return nil
}

// Disassemble renders the code of p and of every nested prototype.
func (p *Prototype) Disassemble() string {
	b := strings.Builder{}
	p.disassemble(&b, "")
	return b.String()
}

func (p *Prototype) disassemble(b *strings.Builder, indent string) {
	b.WriteString(fmt.Sprintf("%sfn %s/%d", indent, p.name(), p.Arity))
	if len(p.FreeVars) > 0 {
		b.WriteString(" free")
		for _, fv := range p.FreeVars {
			b.WriteString(" " + fv.String())
		}
	}
	b.WriteString("\n")
	for pc, inst := range p.Code {
		b.WriteString(fmt.Sprintf("%s%4d %s", indent, pc, inst))
		switch inst.Op() {
		case OpLoadK, OpQuote, OpLoadGlobal, OpStoreGlobal:
			if inst.Bx() < len(p.Constants) {
				b.WriteString(" ; " + str(p.Constants[inst.Bx()]))
			}
		case OpMatch:
			if inst.Bx() < len(p.Matches) {
				b.WriteString(" ; " + p.Matches[inst.Bx()].describe(pc+1))
			}
		case OpJmp, OpJmpT, OpJmpF:
			b.WriteString(fmt.Sprintf(" ; -> %d", pc+1+inst.SBx()))
		}
		b.WriteString("\n")
	}
	for _, k := range p.Constants {
		if child, ok := k.(*Prototype); ok {
			child.disassemble(b, indent+"  ")
		}
	}
}

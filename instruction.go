package gluevm

import (
	"fmt"
	"strconv"
)

type OpCode uint8

// Instruction is a fixed-width 32-bit word: the opcode in the low byte and
// up to three byte operands A, B, C above it. B and C can be read together
// as a 16-bit Bx, or a signed sBx for literals and jump offsets. Jump
// offsets are relative to the following instruction.
type Instruction uint32

const (
	OpNop OpCode = iota

	OpLoadK      // A Bx: R[A] = K[Bx]
	OpLoadInt    // A sBx: R[A] = sBx
	OpLoadNil    // A: R[A] = nil
	OpLoadBool   // A B: R[A] = B != 0
	OpMove       // A B: R[A] = R[B]
	OpQuote      // A Bx: R[A] = K[Bx], a quoted datum
	OpLoadGlobal // A Bx: R[A] = G[K[Bx]]
	OpStoreGlobal

	OpAtom  // A B: R[A] = atom(R[B])
	OpIsNil // A B
	OpCar   // A B
	OpCdr   // A B
	OpCons  // A B C: R[A] = (R[B] . R[C])
	OpEq    // A B C
	OpNot   // A B

	OpAdd // A B C: R[A] = R[B] op R[C]
	OpSub
	OpMul
	OpDiv
	OpMod
	OpLt
	OpLe

	OpJmp  // sBx
	OpJmpT // A sBx
	OpJmpF // A sBx

	OpCall     // A B C: R[C] = R[A](R[A+1] .. R[A+B])
	OpTailCall // A B: return R[A](R[A+1] .. R[A+B])
	OpReturn   // A

	OpClosure    // A Bx: R[A] = closure(K[Bx])
	OpGetUpval   // A B: R[A] = U[B]
	OpSetUpval   // A B: U[B] = R[A]
	OpCloseUpval // A: close upvalues >= R[A]

	OpConstruct // A B C: R[A] = #(R[B] R[B+1] .. R[B+C])
	OpMatch     // A Bx: dispatch R[A] over the arms in K[Bx]
	OpWith      // A B C: R[A] = with R[B] do R[C](R[B])

	OpCoroutine // A B: R[A] = coroutine(R[B])
	OpYield     // A B: yield R[B]; R[A] = resumed value
	OpResume    // A B C: R[A] = resume R[B] with R[B+1] .. R[B+C]

	opCount
)

type operandFormat uint8

const (
	fmtNone operandFormat = iota
	fmtA
	fmtAB
	fmtABC
	fmtABx
	fmtAsBx
	fmtsBx
)

type opInfo struct {
	name   string
	format operandFormat
}

var opInfos = [opCount]opInfo{
	OpNop:         {"NOP", fmtNone},
	OpLoadK:       {"LOADK", fmtABx},
	OpLoadInt:     {"LOADINT", fmtAsBx},
	OpLoadNil:     {"LOADNIL", fmtA},
	OpLoadBool:    {"LOADBOOL", fmtAB},
	OpMove:        {"MOVE", fmtAB},
	OpQuote:       {"QUOTE", fmtABx},
	OpLoadGlobal:  {"LOADGLOBAL", fmtABx},
	OpStoreGlobal: {"STOREGLOBAL", fmtABx},
	OpAtom:        {"ATOM", fmtAB},
	OpIsNil:       {"ISNIL", fmtAB},
	OpCar:         {"CAR", fmtAB},
	OpCdr:         {"CDR", fmtAB},
	OpCons:        {"CONS", fmtABC},
	OpEq:          {"EQ", fmtABC},
	OpNot:         {"NOT", fmtAB},
	OpAdd:         {"ADD", fmtABC},
	OpSub:         {"SUB", fmtABC},
	OpMul:         {"MUL", fmtABC},
	OpDiv:         {"DIV", fmtABC},
	OpMod:         {"MOD", fmtABC},
	OpLt:          {"LT", fmtABC},
	OpLe:          {"LE", fmtABC},
	OpJmp:         {"JMP", fmtsBx},
	OpJmpT:        {"JMPT", fmtAsBx},
	OpJmpF:        {"JMPF", fmtAsBx},
	OpCall:        {"CALL", fmtABC},
	OpTailCall:    {"TAILCALL", fmtAB},
	OpReturn:      {"RETURN", fmtA},
	OpClosure:     {"CLOSURE", fmtABx},
	OpGetUpval:    {"GETUPVAL", fmtAB},
	OpSetUpval:    {"SETUPVAL", fmtAB},
	OpCloseUpval:  {"CLOSEUPVAL", fmtA},
	OpConstruct:   {"CONSTRUCT", fmtABC},
	OpMatch:       {"MATCH", fmtABx},
	OpWith:        {"WITH", fmtABC},
	OpCoroutine:   {"COROUTINE", fmtAB},
	OpYield:       {"YIELD", fmtAB},
	OpResume:      {"RESUME", fmtABC},
}

var opsByName = func() map[string]OpCode {
	m := make(map[string]OpCode, opCount)
	for op := OpCode(0); op < opCount; op++ {
		m[opInfos[op].name] = op
	}
	return m
}()

func (o OpCode) String() string {
	if o < opCount {
		return opInfos[o].name
	}
	return "OP(" + strconv.Itoa(int(o)) + ")"
}

func (o OpCode) format() operandFormat {
	if o < opCount {
		return opInfos[o].format
	}
	return fmtNone
}

func ABC(op OpCode, a, b, c uint8) Instruction {
	return Instruction(op) | Instruction(a)<<8 | Instruction(b)<<16 | Instruction(c)<<24
}

func AB(op OpCode, a, b uint8) Instruction {
	return ABC(op, a, b, 0)
}

func A(op OpCode, a uint8) Instruction {
	return ABC(op, a, 0, 0)
}

func ABx(op OpCode, a uint8, bx uint16) Instruction {
	return Instruction(op) | Instruction(a)<<8 | Instruction(bx)<<16
}

func AsBx(op OpCode, a uint8, sbx int16) Instruction {
	return ABx(op, a, uint16(sbx))
}

func SBx(op OpCode, sbx int16) Instruction {
	return AsBx(op, 0, sbx)
}

func (i Instruction) Op() OpCode { return OpCode(i & 0xff) }
func (i Instruction) A() int     { return int(i >> 8 & 0xff) }
func (i Instruction) B() int     { return int(i >> 16 & 0xff) }
func (i Instruction) C() int     { return int(i >> 24 & 0xff) }
func (i Instruction) Bx() int    { return int(i >> 16 & 0xffff) }
func (i Instruction) SBx() int   { return int(int16(uint16(i >> 16))) }

func (i Instruction) String() string {
	op := i.Op()
	switch op.format() {
	case fmtA:
		return fmt.Sprintf("%s r%d", op, i.A())
	case fmtAB:
		if op == OpLoadBool {
			return fmt.Sprintf("%s r%d %d", op, i.A(), i.B())
		}
		if op == OpGetUpval || op == OpSetUpval {
			return fmt.Sprintf("%s r%d u%d", op, i.A(), i.B())
		}
		return fmt.Sprintf("%s r%d r%d", op, i.A(), i.B())
	case fmtABC:
		switch op {
		case OpCall:
			return fmt.Sprintf("%s r%d %d r%d", op, i.A(), i.B(), i.C())
		case OpConstruct, OpResume:
			return fmt.Sprintf("%s r%d r%d %d", op, i.A(), i.B(), i.C())
		}
		return fmt.Sprintf("%s r%d r%d r%d", op, i.A(), i.B(), i.C())
	case fmtABx:
		return fmt.Sprintf("%s r%d k%d", op, i.A(), i.Bx())
	case fmtAsBx:
		return fmt.Sprintf("%s r%d %d", op, i.A(), i.SBx())
	case fmtsBx:
		return fmt.Sprintf("%s %d", op, i.SBx())
	}
	return op.String()
}

// registers lists the register operands of i, used to size frames.
func (i Instruction) registers() []int {
	switch i.Op() {
	case OpNop, OpJmp:
		return nil
	case OpLoadK, OpLoadInt, OpLoadNil, OpLoadBool, OpQuote, OpLoadGlobal,
		OpStoreGlobal, OpJmpT, OpJmpF, OpReturn, OpClosure, OpGetUpval,
		OpSetUpval, OpCloseUpval, OpMatch:
		return []int{i.A()}
	case OpMove, OpAtom, OpIsNil, OpCar, OpCdr, OpNot, OpCoroutine, OpYield:
		return []int{i.A(), i.B()}
	case OpCall:
		return []int{i.A(), i.A() + i.B(), i.C()}
	case OpTailCall:
		return []int{i.A(), i.A() + i.B()}
	case OpConstruct, OpResume:
		return []int{i.A(), i.B(), i.B() + i.C()}
	}
	return []int{i.A(), i.B(), i.C()}
}

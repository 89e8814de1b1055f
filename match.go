package gluevm

import (
	"fmt"
	"strings"
)

type PatternKind uint8

const (
	PatternWildcard PatternKind = iota
	PatternLiteral
	PatternBind
	PatternConstruct
	PatternPair
)

// Pattern is one node of a match arm. Construct patterns test the tag and
// the field count of an Instance; Pair patterns destructure a cons cell
// with Fields[0] and Fields[1].
type Pattern struct {
	Kind     PatternKind
	Literal  Value
	Register uint8
	Tag      Symbol
	Fields   []Pattern
}

func MatchAny() Pattern {
	return Pattern{Kind: PatternWildcard}
}

func MatchLiteral(v Value) Pattern {
	return Pattern{Kind: PatternLiteral, Literal: orNil(v)}
}

// MatchBind matches anything and stores it in register r of the frame.
func MatchBind(r uint8) Pattern {
	return Pattern{Kind: PatternBind, Register: r}
}

func MatchConstruct(tag Symbol, fields ...Pattern) Pattern {
	return Pattern{Kind: PatternConstruct, Tag: tag, Fields: fields}
}

func MatchPair(car, cdr Pattern) Pattern {
	return Pattern{Kind: PatternPair, Fields: []Pattern{car, cdr}}
}

func (p Pattern) String() string {
	switch p.Kind {
	case PatternWildcard:
		return "_"
	case PatternLiteral:
		if s, ok := p.Literal.(Symbol); ok {
			return "'" + string(s)
		}
		if _, ok := p.Literal.(*Pair); ok {
			return "(quote " + str(p.Literal) + ")"
		}
		return str(p.Literal)
	case PatternBind:
		return fmt.Sprintf("r%d", p.Register)
	case PatternPair:
		return fmt.Sprintf("(cons %s %s)", p.Fields[0], p.Fields[1])
	}
	parts := []string{string(p.Tag)}
	for _, f := range p.Fields {
		parts = append(parts, f.String())
	}
	return "(" + strings.Join(parts, " ") + ")"
}

type binding struct {
	register uint8
	value    Value
}

func (p Pattern) match(v Value, binds []binding) ([]binding, bool) {
	switch p.Kind {
	case PatternWildcard:
		return binds, true
	case PatternLiteral:
		return binds, Equal(p.Literal, v)
	case PatternBind:
		return append(binds, binding{register: p.Register, value: v}), true
	case PatternPair:
		c, ok := v.(*Pair)
		if !ok {
			return binds, false
		}
		if binds, ok = p.Fields[0].match(c.Car, binds); !ok {
			return binds, false
		}
		return p.Fields[1].match(c.Cdr, binds)
	case PatternConstruct:
		inst, ok := v.(*Instance)
		if !ok || inst.Tag != p.Tag || len(inst.Fields) != len(p.Fields) {
			return binds, false
		}
		for i, f := range p.Fields {
			if binds, ok = f.match(orNil(inst.Fields[i]), binds); !ok {
				return binds, false
			}
		}
		return binds, true
	}
	return binds, false
}

func (p Pattern) registers() int {
	switch p.Kind {
	case PatternBind:
		return int(p.Register) + 1
	case PatternConstruct, PatternPair:
		n := 0
		for _, f := range p.Fields {
			n = max(n, f.registers())
		}
		return n
	}
	return 0
}

// Arm jumps Offset instructions past the MATCH when its pattern matches.
type Arm struct {
	Pattern Pattern
	Offset  int
}

// MatchTable is the ordered arm list of one MATCH instruction. The first
// matching arm wins.
type MatchTable struct {
	Arms []Arm
}

func NewMatchTable(arms ...Arm) *MatchTable {
	return &MatchTable{Arms: arms}
}

// dispatch finds the first arm matching v, installs its bindings into regs
// and returns its offset. Bindings of arms that failed part way are
// discarded.
func (t *MatchTable) dispatch(v Value, regs []Value) (int, bool) {
	var binds []binding
	for _, arm := range t.Arms {
		var ok bool
		binds, ok = arm.Pattern.match(v, binds[:0])
		if !ok {
			continue
		}
		for _, b := range binds {
			regs[b.register] = b.value
		}
		return arm.Offset, true
	}
	return 0, false
}

func (t *MatchTable) registers() int {
	n := 0
	for _, arm := range t.Arms {
		n = max(n, arm.Pattern.registers())
	}
	return n
}

// describe renders the arms with absolute targets, next being the index of
// the instruction after the MATCH.
func (t *MatchTable) describe(next int) string {
	parts := make([]string, len(t.Arms))
	for i, arm := range t.Arms {
		parts[i] = fmt.Sprintf("%s -> %d", arm.Pattern, next+arm.Offset)
	}
	return strings.Join(parts, ", ")
}

// Equal is structural equality: pairs and instances compare by contents,
// everything else by identity.
func Equal(a, b Value) bool {
	a, b = orNil(a), orNil(b)
	switch x := a.(type) {
	case *Pair:
		y, ok := b.(*Pair)
		if !ok {
			return false
		}
		for {
			if x == y {
				return true
			}
			if !Equal(x.Car, y.Car) {
				return false
			}
			xn, xok := x.Cdr.(*Pair)
			yn, yok := y.Cdr.(*Pair)
			if !xok || !yok {
				return Equal(x.Cdr, y.Cdr)
			}
			x, y = xn, yn
		}
	case *Instance:
		y, ok := b.(*Instance)
		if !ok {
			return false
		}
		if x == y {
			return true
		}
		if x.Tag != y.Tag || len(x.Fields) != len(y.Fields) {
			return false
		}
		for i := range x.Fields {
			if !Equal(x.Fields[i], y.Fields[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

package gluevm

import (
	"fmt"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindNil Kind = iota
	KindSymbol
	KindInt
	KindBool
	KindPair
	KindPrototype
	KindClosure
	KindPartial
	KindInstance
	KindCoroutine
	KindPrimitive
)

var kindNames = [...]string{
	KindNil:       "nil",
	KindSymbol:    "symbol",
	KindInt:       "integer",
	KindBool:      "boolean",
	KindPair:      "pair",
	KindPrototype: "prototype",
	KindClosure:   "closure",
	KindPartial:   "partial",
	KindInstance:  "instance",
	KindCoroutine: "coroutine",
	KindPrimitive: "primitive",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a handle to any runtime value. Scalars compare with ==; heap
// values compare by identity.
type Value interface {
	Kind() Kind
	String() string
}

type Symbol string

func (Symbol) Kind() Kind       { return KindSymbol }
func (s Symbol) String() string { return string(s) }

type Int int64

func (Int) Kind() Kind       { return KindInt }
func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

type Bool bool

func (Bool) Kind() Kind { return KindBool }

func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}

type nilValue struct{}

func (nilValue) Kind() Kind     { return KindNil }
func (nilValue) String() string { return "nil" }

// Nil is the empty list and the absent value.
var Nil Value = nilValue{}

const (
	True  = Bool(true)
	False = Bool(false)
)

type Pair struct {
	Car Value
	Cdr Value
}

func (*Pair) Kind() Kind { return KindPair }

func Cons(car, cdr Value) *Pair {
	return &Pair{Car: car, Cdr: cdr}
}

// List builds a proper list, sharing nothing with vs.
func List(vs ...Value) Value {
	var res Value = Nil
	for i := len(vs) - 1; i >= 0; i-- {
		res = Cons(vs[i], res)
	}
	return res
}

// ListToSlice returns the elements of a proper list and false for an
// improper one.
func ListToSlice(v Value) ([]Value, bool) {
	var res []Value
	for {
		switch c := v.(type) {
		case *Pair:
			res = append(res, c.Car)
			v = c.Cdr
		case nilValue:
			return res, true
		default:
			return res, false
		}
	}
}

func (c *Pair) String() string {
	b := strings.Builder{}
	b.WriteString("(")
	var cur Value = c
	first := true
	for {
		p, ok := cur.(*Pair)
		if !ok {
			break
		}
		if !first {
			b.WriteString(" ")
		}
		first = false
		b.WriteString(str(p.Car))
		cur = p.Cdr
	}
	if cur != Nil {
		b.WriteString(" . ")
		b.WriteString(str(cur))
	}
	b.WriteString(")")
	return b.String()
}

// Instance is a value of an algebraic data type variant.
type Instance struct {
	Tag    Symbol
	Fields []Value
}

func (*Instance) Kind() Kind { return KindInstance }

func (i *Instance) String() string {
	if len(i.Fields) == 0 {
		return "#(" + string(i.Tag) + ")"
	}
	parts := make([]string, 0, len(i.Fields)+1)
	parts = append(parts, string(i.Tag))
	for _, f := range i.Fields {
		parts = append(parts, str(f))
	}
	return "#(" + strings.Join(parts, " ") + ")"
}

func str(v Value) string {
	if v == nil {
		return "nil"
	}
	return v.String()
}

func truthy(v Value) bool {
	switch x := v.(type) {
	case nil, nilValue:
		return false
	case Bool:
		return bool(x)
	}
	return true
}

func isAtom(v Value) bool {
	_, ok := v.(*Pair)
	return !ok
}

// orNil maps the zero interface (a never-written register) to Nil.
func orNil(v Value) Value {
	if v == nil {
		return Nil
	}
	return v
}

func describe(v Value) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%s %s", v.Kind(), v.String())
}

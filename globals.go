package gluevm

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Globals is the symbol table of top-level bindings. Between begin and
// commit every write is staged: lookups keep returning the bindings that
// were current when the form started.
type Globals struct {
	bindings map[Symbol]Value
	staged   map[Symbol]Value
}

func newGlobals() *Globals {
	return &Globals{bindings: map[Symbol]Value{}}
}

func (g *Globals) lookup(name Symbol) (Value, bool) {
	v, ok := g.bindings[name]
	return v, ok
}

func (g *Globals) define(name Symbol, v Value) {
	if g.staged != nil {
		g.staged[name] = v
		return
	}
	g.bindings[name] = v
}

func (g *Globals) begin() {
	g.staged = map[Symbol]Value{}
}

// commit publishes the staged writes and returns their names.
func (g *Globals) commit() []Symbol {
	names := maps.Keys(g.staged)
	slices.Sort(names)
	for name, v := range g.staged {
		g.bindings[name] = v
	}
	g.staged = nil
	return names
}

func (g *Globals) discard() {
	g.staged = nil
}

func (g *Globals) names() []Symbol {
	names := maps.Keys(g.bindings)
	slices.Sort(names)
	return names
}

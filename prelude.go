package gluevm

import (
	"context"
	"sync"
)

var preludeSource string

func registerPrelude(src string) string {
	preludeSource += "\n" + src
	return src
}

var prelude = sync.OnceValues(func() (*Program, error) {
	return Assemble(preludeSource)
})

// LoadPrelude defines the standard library functions as globals.
func (vm *VM) LoadPrelude() error {
	prog, err := prelude()
	if err != nil {
		return err
	}
	_, err = vm.Load(context.Background(), prog)
	return err
}

var idFn = registerPrelude(`
(fn id (x)
  (doc "Returns its argument.")
  (return x))
`)

var constFn = registerPrelude(`
(fn const (x y)
  (doc "Returns the first of two arguments.")
  (return x))
`)

var flipFn = registerPrelude(`
(fn flip (f a b)
  (doc "Calls f with a and b swapped.")
  (move r4 f)
  (move r5 b)
  (move r6 a)
  (tailcall r4 2))
`)

var composeFn = registerPrelude(`
(fn compose (f g x)
  (doc "Calls f on the result of g.")
  (move r4 g)
  (move r5 x)
  (call r4 1 r4)
  (move r5 r4)
  (move r4 f)
  (tailcall r4 1))
`)

var lengthFn = registerPrelude(`
(fn length (xs)
  (loadint r2 0)
  (loadint r3 1)
  (label loop)
  (isnil r4 xs)
  (jmpt r4 done)
  (add r2 r2 r3)
  (cdr xs xs)
  (jmp loop)
  (label done)
  (return r2))
`)

var reverseFn = registerPrelude(`
(fn reverse (xs)
  (loadnil r2)
  (label loop)
  (isnil r3 xs)
  (jmpt r3 done)
  (car r4 xs)
  (cons r2 r4 r2)
  (cdr xs xs)
  (jmp loop)
  (label done)
  (return r2))
`)

var foldlFn = registerPrelude(`
(fn foldl (f acc xs)
  (doc "Folds xs from the left: (f (f acc x1) x2) ...")
  (label loop)
  (isnil r4 xs)
  (jmpt r4 done)
  (move r5 f)
  (move r6 acc)
  (car r7 xs)
  (call r5 2 acc)
  (cdr xs xs)
  (jmp loop)
  (label done)
  (return acc))
`)

var mapFn = registerPrelude(`
(fn map (f xs)
  (loadnil r3)
  (label loop)
  (isnil r4 xs)
  (jmpt r4 done)
  (move r5 f)
  (car r6 xs)
  (call r5 1 r6)
  (cons r3 r6 r3)
  (cdr xs xs)
  (jmp loop)
  (label done)
  (loadglobal r4 reverse)
  (move r5 r3)
  (tailcall r4 1))
`)

var rangeFn = registerPrelude(`
(fn range (from to)
  (doc "Lists the integers from up to, not including, to.")
  (loadnil r3)
  (loadint r4 1)
  (label loop)
  (le r5 to from)
  (jmpt r5 done)
  (sub to to r4)
  (cons r3 to r3)
  (jmp loop)
  (label done)
  (return r3))
`)

// Package builtin supplies the minimal global-namespace plug-ins the
// engine ships with: print, len, hash, isinstance, iter, next, type, and
// gather.
// This is deliberately not a standard-library surface (spec §1 places
// that out of scope) — it is the small set of names every script needs
// just to exercise the object model, container protocol, and iteration
// machinery end to end. Grounded on the teacher's runtime package (a flat
// []builtinSpec table of Name/MinArgs/MaxArgs/Impl registered into a
// shared registry.Registry): the same shape here, registered as
// heap.Native values directly into an ExecutionContext's Globals instead
// of a separate symbol registry, since this engine has no analogue of
// the teacher's compile-time registry.Registry for builtins.
package builtin

import (
	"fmt"

	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
	"github.com/wudi/serpent/vm"
)

var errNotAType = fmt.Errorf("isinstance() arg 2 must be a type, a tuple of types, or a union")

// spec mirrors the teacher's builtinSpec: a name, an arity range (max -1
// meaning unbounded), and the Go implementation. Kept unexported — the
// table below is the only thing that constructs one.
type spec struct {
	Name    string
	MinArgs int
	MaxArgs int
	Func    func(env *env, args []values.Value) (values.Value, error)
}

// env is the small bundle every builtin closes over: the live execution
// context (for CallValue/WriteOutput) and the primitive type singletons
// (for type()/isinstance()/hash()'s default-object-hash fallback).
type env struct {
	ctx   *vm.ExecutionContext
	types *primitiveTypes
}

// Install registers every builtin into ctx's global namespace alongside
// the primitive type singletons (int, str, list, ...), so a freshly
// constructed ExecutionContext can run a script that calls print/len/
// isinstance/... out of the box (spec §6 "Construct"/"Run").
func Install(ctx *vm.ExecutionContext) {
	types := newPrimitiveTypes(ctx.Heap)
	types.install(ctx.Globals)
	e := &env{ctx: ctx, types: types}

	for _, s := range builtinSpecs {
		s := s
		nv := ctx.Heap.NewNative(s.Name, func(args []values.Value, kwargs map[string]values.Value) (values.Value, error) {
			if len(kwargs) > 0 {
				return values.Value{}, fmt.Errorf("%s() takes no keyword arguments", s.Name)
			}
			if len(args) < s.MinArgs || (s.MaxArgs >= 0 && len(args) > s.MaxArgs) {
				return values.Value{}, arityError(s.Name, s.MinArgs, s.MaxArgs, len(args))
			}
			return s.Func(e, args)
		})
		ctx.Globals[s.Name] = nv
	}
}

func arityError(name string, min, max, got int) error {
	if min == max {
		return fmt.Errorf("%s() takes exactly %d argument(s) (%d given)", name, min, got)
	}
	if max < 0 {
		return fmt.Errorf("%s() takes at least %d argument(s) (%d given)", name, min, got)
	}
	return fmt.Errorf("%s() takes from %d to %d arguments (%d given)", name, min, max, got)
}

var builtinSpecs = []spec{
	{Name: "print", MinArgs: 0, MaxArgs: -1, Func: builtinPrint},
	{Name: "len", MinArgs: 1, MaxArgs: 1, Func: builtinLen},
	{Name: "hash", MinArgs: 1, MaxArgs: 1, Func: builtinHash},
	{Name: "isinstance", MinArgs: 2, MaxArgs: 2, Func: builtinIsInstance},
	{Name: "iter", MinArgs: 1, MaxArgs: 1, Func: builtinIter},
	{Name: "next", MinArgs: 1, MaxArgs: 2, Func: builtinNext},
	{Name: "type", MinArgs: 1, MaxArgs: 1, Func: builtinType},
	{Name: "gather", MinArgs: 0, MaxArgs: -1, Func: builtinGather},
}

func classNameOf(v values.Value, types *primitiveTypes) string {
	t := types.typeOf(v)
	slot, ok := t.RefHandle().(*heap.Slot)
	if !ok {
		return "object"
	}
	return slot.Payload().(*heap.Class).Name
}

package builtin

import (
	"hash/fnv"

	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
	"github.com/wudi/serpent/vm"
)

func builtinPrint(e *env, args []values.Value) (values.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		s, err := displayValue(e, a)
		if err != nil {
			return values.Value{}, err
		}
		parts[i] = s
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	out += "\n"
	if err := e.ctx.WriteOutput(out); err != nil {
		return values.Value{}, err
	}
	return values.None(), nil
}

// lengthOf implements len(): native containers and strings report their
// backing size directly; instances dispatch to __len__, enforcing the
// same non-negative-int contract truthyOf already holds __len__ to (spec
// §8's boundary behaviors).
func lengthOf(e *env, v values.Value) (int64, error) {
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok {
		return 0, e.ctx.Raise(e.ctx.StdExceptions.TypeError, "object of type '%s' has no len()", classNameOf(v, e.types))
	}
	switch p := slot.Payload().(type) {
	case *heap.Str:
		return int64(len([]rune(p.Data))), nil
	case *heap.Bytes:
		return int64(len(p.Data)), nil
	case *heap.ByteArray:
		return int64(len(p.Data)), nil
	case *heap.List:
		return int64(len(p.Items)), nil
	case *heap.Tuple:
		return int64(len(p.Items)), nil
	case *heap.Dict:
		return int64(p.Len()), nil
	case *heap.Set:
		return int64(p.Len()), nil
	case *heap.Instance:
		ic := p.Class.Payload().(*heap.Class)
		fn, ok := ic.Dispatch[heap.SlotLen]
		if !ok {
			return 0, e.ctx.Raise(e.ctx.StdExceptions.TypeError, "object of type '%s' has no len()", ic.Name)
		}
		out, err := e.ctx.CallValue(fn, []values.Value{v})
		if err != nil {
			return 0, err
		}
		if !out.IsMachineInt() {
			return 0, e.ctx.Raise(e.ctx.StdExceptions.TypeError, "__len__ should return an int")
		}
		if out.Int() < 0 {
			return 0, e.ctx.Raise(e.ctx.StdExceptions.ValueError, "__len__() should return >= 0")
		}
		return out.Int(), nil
	}
	return 0, e.ctx.Raise(e.ctx.StdExceptions.TypeError, "object of type '%s' has no len()", classNameOf(v, e.types))
}

func builtinLen(e *env, args []values.Value) (values.Value, error) {
	n, err := lengthOf(e, args[0])
	if err != nil {
		return values.Value{}, err
	}
	return values.Int(n), nil
}

// builtinHash implements hash(): primitives use values.Value.Hash();
// strings and bytes hash their content (so "a" + "b" == "ab" hashes the
// same wherever it is built, the interning-transparency rule spec §3.2
// names); frozen containers hash their element hashes combined; a class
// whose resolved HashPolicy is forbidden (spec §3.4) raises explicitly
// rather than falling through to identity hashing; ordinary instances
// dispatch to __hash__ if declared, else hash by heap identity.
func builtinHash(e *env, args []values.Value) (values.Value, error) {
	v := args[0]
	if h, ok := v.Hash(); ok {
		return values.Int(int64(h)), nil
	}
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok {
		return values.Value{}, e.ctx.Raise(e.ctx.StdExceptions.TypeError, "unhashable type")
	}
	switch p := slot.Payload().(type) {
	case *heap.Str:
		return values.Int(int64(contentHash(p.Data))), nil
	case *heap.Bytes:
		return values.Int(int64(contentHash(string(p.Data)))), nil
	case *heap.Tuple:
		var acc uint64 = 0x345678
		for _, it := range p.Items {
			hv, err := builtinHash(e, []values.Value{it})
			if err != nil {
				return values.Value{}, err
			}
			acc = (acc ^ uint64(hv.Int())) * 1000003
		}
		return values.Int(int64(acc)), nil
	case *heap.Set:
		if slot.Kind() != heap.KindFrozenSet {
			return values.Value{}, e.ctx.Raise(e.ctx.StdExceptions.TypeError, "unhashable type: 'set'")
		}
		var acc uint64 = 0x345678
		for _, it := range p.Items() {
			hv, err := builtinHash(e, []values.Value{it})
			if err != nil {
				return values.Value{}, err
			}
			acc ^= uint64(hv.Int())
		}
		return values.Int(int64(acc)), nil
	case *heap.List:
		return values.Value{}, e.ctx.Raise(e.ctx.StdExceptions.TypeError, "unhashable type: 'list'")
	case *heap.Dict:
		return values.Value{}, e.ctx.Raise(e.ctx.StdExceptions.TypeError, "unhashable type: 'dict'")
	case *heap.Class:
		return values.Int(int64(slot.HeapID())), nil
	case *heap.Instance:
		ic := p.Class.Payload().(*heap.Class)
		if ic.HashPolicy == heap.HashForbidden {
			return values.Value{}, e.ctx.Raise(e.ctx.StdExceptions.TypeError, "unhashable type: '%s'", ic.Name)
		}
		if fn, ok := ic.Dispatch[heap.SlotHash]; ok {
			out, err := e.ctx.CallValue(fn, []values.Value{v})
			if err != nil {
				return values.Value{}, err
			}
			if out.IsNone() {
				return values.Value{}, e.ctx.Raise(e.ctx.StdExceptions.TypeError, "unhashable type: '%s'", ic.Name)
			}
			if !out.IsInt() {
				return values.Value{}, e.ctx.Raise(e.ctx.StdExceptions.TypeError, "__hash__ method should return an integer")
			}
			return out, nil
		}
		return values.Int(int64(slot.HeapID())), nil
	default:
		return values.Int(int64(slot.HeapID())), nil
	}
}

func contentHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func builtinIsInstance(e *env, args []values.Value) (values.Value, error) {
	ok, err := e.types.isInstance(args[0], args[1])
	if err != nil {
		return values.Value{}, err
	}
	return values.Bool(ok), nil
}

func builtinIter(e *env, args []values.Value) (values.Value, error) {
	return vm.GetIter(e.ctx, args[0])
}

// builtinNext drives one step of a native iterator or a suspendable
// generator, raising a stop-iteration-kind error on exhaustion (spec §7)
// when no default is supplied, or returning the caller's default instead.
func builtinNext(e *env, args []values.Value) (values.Value, error) {
	slot, ok := args[0].RefHandle().(*heap.Slot)
	if !ok {
		return values.Value{}, e.ctx.Raise(e.ctx.StdExceptions.TypeError, "object is not an iterator")
	}
	switch it := slot.Payload().(type) {
	case *heap.Iterator:
		v, more := it.Next()
		if !more {
			if len(args) == 2 {
				return args[1], nil
			}
			return values.Value{}, e.ctx.Raise(e.ctx.StdExceptions.StopIteration, "StopIteration")
		}
		return v, nil
	case *heap.Generator:
		v, done, err := it.Advance(values.None(), nil)
		if err != nil {
			return values.Value{}, err
		}
		if done {
			if len(args) == 2 {
				return args[1], nil
			}
			return values.Value{}, e.ctx.Raise(e.ctx.StdExceptions.StopIteration, "StopIteration")
		}
		return v, nil
	}
	return values.Value{}, e.ctx.Raise(e.ctx.StdExceptions.TypeError, "object is not an iterator")
}

// builtinGather drives every argument coroutine to completion in
// declaration order and returns a list pairing each with its result or
// the exception it raised (vm.Gather; spec §9 "gather").
func builtinGather(e *env, args []values.Value) (values.Value, error) {
	return vm.Gather(e.ctx, args)
}

func builtinType(e *env, args []values.Value) (values.Value, error) {
	return e.types.typeOf(args[0]), nil
}

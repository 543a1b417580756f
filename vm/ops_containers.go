package vm

import (
	"fmt"

	"github.com/wudi/serpent/frame"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/opcodes"
	"github.com/wudi/serpent/values"
)

// execContainers builds/mutates tuples, lists, dicts, sets, and
// subscripting (opcodes 20-30).
func (vm *VM) execContainers(ctx *ExecutionContext, f *frame.Frame, inst opcodes.Instruction) (bool, error) {
	switch inst.Opcode {
	case opcodes.OP_BUILD_TUPLE:
		items, err := popN(f, int(inst.Operand1))
		if err != nil {
			return false, err
		}
		v := ctx.Heap.NewTuple(items)
		for _, it := range items {
			heap.Decref(it)
		}
		f.Push(v)
		return true, nil

	case opcodes.OP_BUILD_LIST:
		items, err := popN(f, int(inst.Operand1))
		if err != nil {
			return false, err
		}
		v := ctx.Heap.NewList(items)
		for _, it := range items {
			heap.Decref(it)
		}
		f.Push(v)
		return true, nil

	case opcodes.OP_BUILD_DICT:
		n := int(inst.Operand1)
		pairs, err := popN(f, n*2)
		if err != nil {
			return false, err
		}
		d := ctx.Heap.NewDict()
		dict := d.RefHandle().(*heap.Slot).Payload().(*heap.Dict)
		for i := 0; i < len(pairs); i += 2 {
			dict.Set(pairs[i], pairs[i+1])
			heap.Decref(pairs[i])
			heap.Decref(pairs[i+1])
		}
		f.Push(d)
		return true, nil

	case opcodes.OP_BUILD_SET:
		items, err := popN(f, int(inst.Operand1))
		if err != nil {
			return false, err
		}
		v := ctx.Heap.NewSet(items)
		for _, it := range items {
			heap.Decref(it)
		}
		f.Push(v)
		return true, nil

	case opcodes.OP_LIST_EXTEND:
		src, err := f.Pop()
		if err != nil {
			return false, err
		}
		dstV, ok := f.Peek(0)
		if !ok {
			return false, fmt.Errorf("LIST_EXTEND target missing")
		}
		dst, ok := asList(dstV)
		if !ok {
			return false, fmt.Errorf("LIST_EXTEND target is not a list")
		}
		items, err := iterateEager(ctx, src)
		if err != nil {
			return false, err
		}
		for _, it := range items {
			dst.Append(it)
		}
		heap.Decref(src)
		return true, nil

	case opcodes.OP_DICT_UPDATE:
		src, err := f.Pop()
		if err != nil {
			return false, err
		}
		dstV, ok := f.Peek(0)
		if !ok {
			return false, fmt.Errorf("DICT_UPDATE target missing")
		}
		dst, ok := asDict(dstV)
		if !ok {
			return false, fmt.Errorf("DICT_UPDATE target is not a dict")
		}
		srcSlot, ok := src.RefHandle().(*heap.Slot)
		if ok {
			if srcDict, ok := srcSlot.Payload().(*heap.Dict); ok {
				for _, e := range srcDict.Items() {
					dst.Set(e.Key, e.Value)
				}
			}
		}
		heap.Decref(src)
		return true, nil

	case opcodes.OP_SET_UPDATE:
		src, err := f.Pop()
		if err != nil {
			return false, err
		}
		dstV, ok := f.Peek(0)
		if !ok {
			return false, fmt.Errorf("SET_UPDATE target missing")
		}
		dst, ok := asSet(dstV)
		if !ok {
			return false, fmt.Errorf("SET_UPDATE target is not a set")
		}
		items, err := iterateEager(ctx, src)
		if err != nil {
			return false, err
		}
		for _, it := range items {
			dst.Add(it)
		}
		heap.Decref(src)
		return true, nil

	case opcodes.OP_BUILD_SLICE:
		n := int(inst.Operand1)
		parts, err := popN(f, n)
		if err != nil {
			return false, err
		}
		t := ctx.Heap.NewTuple(parts)
		for _, p := range parts {
			heap.Decref(p)
		}
		f.Push(t)
		return true, nil

	case opcodes.OP_SUBSCR_GET:
		key, err := f.Pop()
		if err != nil {
			return false, err
		}
		container, err := f.Pop()
		if err != nil {
			return false, err
		}
		v, err := subscrGet(ctx, container, key)
		if err != nil {
			return false, err
		}
		f.Push(v)
		heap.Decref(container)
		heap.Decref(key)
		return true, nil

	case opcodes.OP_SUBSCR_SET:
		val, err := f.Pop()
		if err != nil {
			return false, err
		}
		key, err := f.Pop()
		if err != nil {
			return false, err
		}
		container, err := f.Pop()
		if err != nil {
			return false, err
		}
		if err := subscrSet(ctx, container, key, val); err != nil {
			return false, err
		}
		heap.Decref(container)
		heap.Decref(key)
		heap.Decref(val)
		return true, nil

	case opcodes.OP_SUBSCR_DELETE:
		key, err := f.Pop()
		if err != nil {
			return false, err
		}
		container, err := f.Pop()
		if err != nil {
			return false, err
		}
		if err := subscrDelete(ctx, container, key); err != nil {
			return false, err
		}
		heap.Decref(container)
		heap.Decref(key)
		return true, nil
	}
	return false, fmt.Errorf("unhandled container opcode %s", inst.Opcode)
}

func popN(f *frame.Frame, n int) ([]values.Value, error) {
	out := make([]values.Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := f.Pop()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func asList(v values.Value) (*heap.List, bool) {
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok {
		return nil, false
	}
	l, ok := slot.Payload().(*heap.List)
	return l, ok
}

func asDict(v values.Value) (*heap.Dict, bool) {
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok {
		return nil, false
	}
	d, ok := slot.Payload().(*heap.Dict)
	return d, ok
}

func asSet(v values.Value) (*heap.Set, bool) {
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok {
		return nil, false
	}
	s, ok := slot.Payload().(*heap.Set)
	return s, ok
}

func subscrGet(ctx *ExecutionContext, container, key values.Value) (values.Value, error) {
	slot, ok := container.RefHandle().(*heap.Slot)
	if !ok {
		return values.Value{}, ctx.Raise(ctx.StdExceptions.TypeError, "object is not subscriptable")
	}
	switch p := slot.Payload().(type) {
	case *heap.List:
		idx, ok := indexOf(key, len(p.Items))
		if !ok {
			return values.Value{}, ctx.Raise(ctx.StdExceptions.IndexError, "list index out of range")
		}
		return p.Items[idx], nil
	case *heap.Tuple:
		idx, ok := indexOf(key, len(p.Items))
		if !ok {
			return values.Value{}, ctx.Raise(ctx.StdExceptions.IndexError, "tuple index out of range")
		}
		return p.Items[idx], nil
	case *heap.Dict:
		v, ok := p.Get(key)
		if !ok {
			return values.Value{}, ctx.Raise(ctx.StdExceptions.KeyError, "key not found")
		}
		return v, nil
	case *heap.Str:
		idx, ok := indexOf(key, len(p.Data))
		if !ok {
			return values.Value{}, ctx.Raise(ctx.StdExceptions.IndexError, "string index out of range")
		}
		return ctx.Heap.NewString(string(p.Data[idx])), nil
	case *heap.Instance:
		ic := p.Class.Payload().(*heap.Class)
		if fn, ok := ic.Dispatch[heap.SlotGetItem]; ok {
			return ctx.CallValue(fn, []values.Value{container, key})
		}
	}
	return values.Value{}, ctx.Raise(ctx.StdExceptions.TypeError, "object is not subscriptable")
}

func indexOf(key values.Value, length int) (int, bool) {
	if !key.IsMachineInt() {
		return 0, false
	}
	i := int(key.Int())
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, false
	}
	return i, true
}

func subscrSet(ctx *ExecutionContext, container, key, val values.Value) error {
	slot, ok := container.RefHandle().(*heap.Slot)
	if !ok {
		return ctx.Raise(ctx.StdExceptions.TypeError, "object does not support item assignment")
	}
	switch p := slot.Payload().(type) {
	case *heap.List:
		idx, ok := indexOf(key, len(p.Items))
		if !ok {
			return ctx.Raise(ctx.StdExceptions.IndexError, "list index out of range")
		}
		heap.Incref(val)
		heap.Decref(p.Items[idx])
		p.Items[idx] = val
		return nil
	case *heap.Dict:
		p.Set(key, val)
		return nil
	case *heap.Instance:
		ic := p.Class.Payload().(*heap.Class)
		if fn, ok := ic.Dispatch[heap.SlotSetItem]; ok {
			_, err := ctx.CallValue(fn, []values.Value{container, key, val})
			return err
		}
	}
	return ctx.Raise(ctx.StdExceptions.TypeError, "object does not support item assignment")
}

func subscrDelete(ctx *ExecutionContext, container, key values.Value) error {
	slot, ok := container.RefHandle().(*heap.Slot)
	if !ok {
		return ctx.Raise(ctx.StdExceptions.TypeError, "object does not support item deletion")
	}
	switch p := slot.Payload().(type) {
	case *heap.Dict:
		if !p.Delete(key) {
			return ctx.Raise(ctx.StdExceptions.KeyError, "key not found")
		}
		return nil
	case *heap.List:
		idx, ok := indexOf(key, len(p.Items))
		if !ok {
			return ctx.Raise(ctx.StdExceptions.IndexError, "list index out of range")
		}
		heap.Decref(p.Items[idx])
		p.Items = append(p.Items[:idx], p.Items[idx+1:]...)
		return nil
	case *heap.Instance:
		ic := p.Class.Payload().(*heap.Class)
		if fn, ok := ic.Dispatch[heap.SlotDelItem]; ok {
			_, err := ctx.CallValue(fn, []values.Value{container, key})
			return err
		}
	}
	return ctx.Raise(ctx.StdExceptions.TypeError, "object does not support item deletion")
}

// iterateEager drains an iterable value eagerly, used by LIST_EXTEND/
// SET_UPDATE where the source is fully consumed in one step.
func iterateEager(ctx *ExecutionContext, v values.Value) ([]values.Value, error) {
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok {
		return nil, ctx.Raise(ctx.StdExceptions.TypeError, "value is not iterable")
	}
	switch p := slot.Payload().(type) {
	case *heap.List:
		return append([]values.Value{}, p.Items...), nil
	case *heap.Tuple:
		return append([]values.Value{}, p.Items...), nil
	case *heap.Set:
		return p.Items(), nil
	case *heap.Iterator:
		var out []values.Value
		for {
			item, ok := p.Next()
			if !ok {
				break
			}
			out = append(out, item)
		}
		return out, nil
	case *heap.Generator:
		var out []values.Value
		for {
			item, done, err := p.Advance(values.None(), nil)
			if err != nil {
				return nil, err
			}
			if done {
				break
			}
			out = append(out, item)
		}
		return out, nil
	}
	return nil, ctx.Raise(ctx.StdExceptions.TypeError, "value is not iterable")
}

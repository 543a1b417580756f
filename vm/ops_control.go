package vm

import (
	"fmt"

	"github.com/wudi/serpent/exc"
	"github.com/wudi/serpent/frame"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/opcodes"
	"github.com/wudi/serpent/values"
)

// execControl handles jumps, the for-loop iteration protocol, and
// GET_ITER (opcodes 70-76).
func (vm *VM) execControl(ctx *ExecutionContext, f *frame.Frame, inst opcodes.Instruction) (bool, error) {
	switch inst.Opcode {
	case opcodes.OP_JUMP:
		f.IP = int(inst.Operand1)
		return false, nil

	case opcodes.OP_JUMP_IF_TRUE:
		v, err := f.Pop()
		if err != nil {
			return false, err
		}
		truthy, err := truthyOf(ctx, v)
		if err != nil {
			return false, err
		}
		heap.Decref(v)
		if truthy {
			f.IP = int(inst.Operand1)
			return false, nil
		}
		return true, nil

	case opcodes.OP_JUMP_IF_FALSE:
		v, err := f.Pop()
		if err != nil {
			return false, err
		}
		truthy, err := truthyOf(ctx, v)
		if err != nil {
			return false, err
		}
		heap.Decref(v)
		if !truthy {
			f.IP = int(inst.Operand1)
			return false, nil
		}
		return true, nil

	case opcodes.OP_JUMP_IF_NOT_EXC_MATCH:
		candidate, err := f.Pop()
		if err != nil {
			return false, err
		}
		excVal, ok := f.Peek(0)
		if !ok {
			heap.Decref(candidate)
			return false, fmt.Errorf("JUMP_IF_NOT_EXC_MATCH on empty stack")
		}
		matched := false
		if es, ok := excVal.RefHandle().(*heap.Slot); ok {
			if cs, ok := candidate.RefHandle().(*heap.Slot); ok {
				matched = exc.Matches(es, []*heap.Slot{cs})
			}
		}
		heap.Decref(candidate)
		if !matched {
			f.IP = int(inst.Operand1)
			return false, nil
		}
		return true, nil

	case opcodes.OP_FOR_ITER:
		iterV, ok := f.Peek(0)
		if !ok {
			return false, fmt.Errorf("FOR_ITER on empty stack")
		}
		slot, ok := iterV.RefHandle().(*heap.Slot)
		if !ok {
			return false, fmt.Errorf("FOR_ITER target is not an iterator")
		}
		switch it := slot.Payload().(type) {
		case *heap.Iterator:
			v, more := it.Next()
			if !more {
				f.Pop()
				heap.Decref(iterV)
				f.IP = int(inst.Operand1)
				return false, nil
			}
			f.Push(v)
			return true, nil
		case *heap.Generator:
			v, done, err := it.Advance(values.None(), nil)
			if err != nil {
				return false, err
			}
			if done {
				f.Pop()
				heap.Decref(iterV)
				f.IP = int(inst.Operand1)
				return false, nil
			}
			f.Push(v)
			return true, nil
		}
		return false, fmt.Errorf("FOR_ITER target is not an iterator")

	case opcodes.OP_END_FOR:
		v, err := f.Pop()
		if err != nil {
			return false, err
		}
		heap.Decref(v)
		return true, nil

	case opcodes.OP_GET_ITER:
		v, err := f.Pop()
		if err != nil {
			return false, err
		}
		it, err := getIter(ctx, v)
		if err != nil {
			return false, err
		}
		f.Push(it)
		heap.Decref(v)
		return true, nil
	}
	return false, fmt.Errorf("unhandled control opcode %s", inst.Opcode)
}

func truthyOf(ctx *ExecutionContext, v values.Value) (bool, error) {
	if t, ok := v.Truthy(); ok {
		return t, nil
	}
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok {
		return false, nil
	}
	switch p := slot.Payload().(type) {
	case *heap.List:
		return len(p.Items) > 0, nil
	case *heap.Tuple:
		return len(p.Items) > 0, nil
	case *heap.Dict:
		return p.Len() > 0, nil
	case *heap.Set:
		return p.Len() > 0, nil
	case *heap.Str:
		return p.Data != "", nil
	case *heap.Instance:
		ic := p.Class.Payload().(*heap.Class)
		if fn, ok := ic.Dispatch[heap.SlotBool]; ok {
			out, err := ctx.CallValue(fn, []values.Value{v})
			if err != nil {
				return false, err
			}
			if !out.IsBool() {
				return false, fmt.Errorf("__bool__ should return bool")
			}
			return out.Bool(), nil
		}
		if fn, ok := ic.Dispatch[heap.SlotLen]; ok {
			out, err := ctx.CallValue(fn, []values.Value{v})
			if err != nil {
				return false, err
			}
			if !out.IsMachineInt() {
				return false, fmt.Errorf("__len__ should return an int")
			}
			if out.Int() < 0 {
				return false, fmt.Errorf("__len__() should return >= 0")
			}
			return out.Int() != 0, nil
		}
		return true, nil
	}
	return true, nil
}

// GetIter is getIter's exported entry point, letting the builtin
// package's iter() reuse the same native/instance fallback chain
// (__iter__, then the sequential __getitem__ adaptor) that drives
// GET_ITER and for-loops, rather than duplicating it.
func GetIter(ctx *ExecutionContext, v values.Value) (values.Value, error) {
	return getIter(ctx, v)
}

// getIter implements GET_ITER's fallback chain: native containers get a
// direct heap iterator; instances consult __iter__, falling back to the
// sequential __getitem__(0), (1), ... adaptor the spec names for
// objects that only implement subscripting (spec §9).
func getIter(ctx *ExecutionContext, v values.Value) (values.Value, error) {
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok {
		return values.Value{}, fmt.Errorf("object is not iterable")
	}
	switch p := slot.Payload().(type) {
	case *heap.List:
		return ctx.Heap.NewListIterator(v, p), nil
	case *heap.Tuple:
		return ctx.Heap.NewTupleIterator(v, p), nil
	case *heap.Dict:
		return ctx.Heap.NewDictKeyIterator(v, p), nil
	case *heap.Set:
		return ctx.Heap.NewSetIterator(v, p), nil
	case *heap.Iterator:
		return v, nil
	case *heap.Generator:
		return v, nil
	case *heap.Instance:
		ic := p.Class.Payload().(*heap.Class)
		if fn, ok := ic.Dispatch[heap.SlotIter]; ok {
			return ctx.CallValue(fn, []values.Value{v})
		}
		if _, ok := ic.Dispatch[heap.SlotGetItem]; ok {
			return sequentialGetItemIterator(ctx, v), nil
		}
	}
	return values.Value{}, fmt.Errorf("object is not iterable")
}

// sequentialGetItemIterator adapts an object implementing only
// __getitem__ into an iterator by calling __getitem__(0), (1), ...
// until it raises (treated here as exhaustion), the legacy sequence
// protocol fallback the spec calls out explicitly.
func sequentialGetItemIterator(ctx *ExecutionContext, recv values.Value) values.Value {
	idx := int64(0)
	return ctx.Heap.NewIterator("getitem_sequence", []values.Value{recv}, func() (values.Value, bool) {
		slot, ok := recv.RefHandle().(*heap.Slot)
		if !ok {
			return values.Value{}, false
		}
		inst := slot.Payload().(*heap.Instance)
		ic := inst.Class.Payload().(*heap.Class)
		fn, ok := ic.Dispatch[heap.SlotGetItem]
		if !ok {
			return values.Value{}, false
		}
		out, err := ctx.CallValue(fn, []values.Value{recv, values.Int(idx)})
		if err != nil {
			return values.Value{}, false
		}
		idx++
		return out, true
	})
}

package vm

import (
	"fmt"

	"github.com/wudi/serpent/frame"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/object"
	"github.com/wudi/serpent/opcodes"
	"github.com/wudi/serpent/values"
)

// execClasses handles class creation and the attribute+call fusion
// opcode (opcodes 160-179), wiring the object package's MRO/dispatch/
// descriptor machinery into the dispatcher.
func (vm *VM) execClasses(ctx *ExecutionContext, f *frame.Frame, inst opcodes.Instruction) (bool, error) {
	switch inst.Opcode {
	case opcodes.OP_BUILD_CLASS:
		nameConst, err := constantAt(f, int(inst.Operand1))
		if err != nil {
			return false, err
		}
		nameStr, ok := heap.AsStr(nameConst)
		if !ok {
			return false, fmt.Errorf("BUILD_CLASS name constant is not a string")
		}
		bodyV, err := f.Pop()
		if err != nil {
			return false, err
		}
		basesV, err := f.Pop()
		if err != nil {
			return false, err
		}
		body, err := dictFromValue(bodyV)
		if err != nil {
			return false, err
		}
		bases, err := classSlicesFromTuple(basesV)
		if err != nil {
			return false, err
		}
		clsSlot, err := object.NewClass(ctx, ctx.Heap, nameStr.Data, bases, body)
		if err != nil {
			heap.Decref(bodyV)
			heap.Decref(basesV)
			return false, err
		}
		heap.Decref(bodyV)
		heap.Decref(basesV)
		f.Push(values.Ref(clsSlot))
		return true, nil

	case opcodes.OP_LOAD_METHOD:
		name := nameAt(f.Code.Globals, inst.Operand1)
		recv, err := f.Pop()
		if err != nil {
			return false, err
		}
		v, err, found := object.GetAttr(ctx, recv, name)
		if err != nil {
			heap.Decref(recv)
			return false, err
		}
		if !found {
			heap.Decref(recv)
			return false, ctx.Raise(ctx.StdExceptions.AttributeError, "%q has no attribute %q", recv.String(), name)
		}
		heap.Decref(recv)
		f.Push(v)
		return true, nil

	case opcodes.OP_SET_NAME_DESCRIPTOR:
		name := nameAt(f.Code.Globals, inst.Operand1)
		ownerV, err := f.Pop()
		if err != nil {
			return false, err
		}
		v, ok := f.Peek(0)
		if !ok {
			return false, fmt.Errorf("SET_NAME_DESCRIPTOR on empty stack")
		}
		ownerSlot, ok := ownerV.RefHandle().(*heap.Slot)
		if !ok {
			return false, fmt.Errorf("SET_NAME_DESCRIPTOR owner is not a class")
		}
		if err := object.SetAttr(ctx, values.Ref(ownerSlot), name, v); err != nil {
			return false, err
		}
		heap.Decref(ownerV)
		return true, nil
	}
	return false, fmt.Errorf("unhandled class opcode %s", inst.Opcode)
}

func constantAt(f *frame.Frame, idx int) (values.Value, error) {
	if idx < 0 || idx >= len(f.Code.Constants) {
		return values.Value{}, fmt.Errorf("constant index %d out of range", idx)
	}
	return f.Code.Constants[idx], nil
}

// dictFromValue unpacks a class body dict value (built by BUILD_DICT with
// string keys) into the plain Go map object.NewClass expects.
func dictFromValue(v values.Value) (map[string]values.Value, error) {
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok {
		return nil, fmt.Errorf("class body is not a dict")
	}
	d, ok := slot.Payload().(*heap.Dict)
	if !ok {
		return nil, fmt.Errorf("class body is not a dict")
	}
	out := make(map[string]values.Value, d.Len())
	for _, entry := range d.Items() {
		keyStr, ok := heap.AsStr(entry.Key)
		if !ok {
			return nil, fmt.Errorf("class body dict has a non-string key")
		}
		out[keyStr.Data] = entry.Value
	}
	return out, nil
}

// classSlicesFromTuple unpacks a base-classes tuple into the class slots
// object.NewClass/Linearize expect.
func classSlicesFromTuple(v values.Value) ([]*heap.Slot, error) {
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok {
		return nil, fmt.Errorf("base class list is not a tuple")
	}
	t, ok := slot.Payload().(*heap.Tuple)
	if !ok {
		return nil, fmt.Errorf("base class list is not a tuple")
	}
	out := make([]*heap.Slot, 0, len(t.Items))
	for _, item := range t.Items {
		s, ok := item.RefHandle().(*heap.Slot)
		if !ok {
			return nil, fmt.Errorf("base class entry is not a class")
		}
		out = append(out, s)
	}
	return out, nil
}

package vm

import (
	"fmt"

	"github.com/wudi/serpent/frame"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/opcodes"
	"github.com/wudi/serpent/values"
)

// execStack handles the constants/names/stack-shuffle family (opcodes
// 0-15): loading constants, globals, locals, cell/free variables, dynamic
// names, and the POP_TOP/DUP_TOP/ROT_TWO stack shuffles.
func (vm *VM) execStack(ctx *ExecutionContext, f *frame.Frame, inst opcodes.Instruction) (bool, error) {
	switch inst.Opcode {
	case opcodes.OP_NOP:
		return true, nil

	case opcodes.OP_LOAD_CONST:
		idx := int(inst.Operand1)
		if idx < 0 || idx >= len(f.Code.Constants) {
			return false, fmt.Errorf("constant index %d out of range", idx)
		}
		f.Push(f.Code.Constants[idx])
		return true, nil

	case opcodes.OP_LOAD_GLOBAL:
		name := nameAt(f.Code.Globals, inst.Operand1)
		v, ok := ctx.GetGlobal(name)
		if !ok {
			return false, ctx.Raise(ctx.StdExceptions.NameError, "global %q is not defined", name)
		}
		f.Push(v)
		return true, nil

	case opcodes.OP_STORE_GLOBAL:
		name := nameAt(f.Code.Globals, inst.Operand1)
		v, err := f.Pop()
		if err != nil {
			return false, err
		}
		ctx.SetGlobal(name, v)
		return true, nil

	case opcodes.OP_LOAD_LOCAL:
		idx := int(inst.Operand1)
		if idx < 0 || idx >= len(f.Locals) {
			return false, fmt.Errorf("local slot %d out of range", idx)
		}
		f.Push(f.Locals[idx])
		return true, nil

	case opcodes.OP_STORE_LOCAL:
		idx := int(inst.Operand1)
		v, err := f.Pop()
		if err != nil {
			return false, err
		}
		if idx < 0 || idx >= len(f.Locals) {
			return false, fmt.Errorf("local slot %d out of range", idx)
		}
		heap.Incref(v)
		heap.Decref(f.Locals[idx])
		f.Locals[idx] = v
		return true, nil

	case opcodes.OP_LOAD_DEREF:
		cell, err := cellAt(f, inst.Operand1)
		if err != nil {
			return false, err
		}
		f.Push(heap.CellGet(cell))
		return true, nil

	case opcodes.OP_STORE_DEREF:
		cell, err := cellAt(f, inst.Operand1)
		if err != nil {
			return false, err
		}
		v, err := f.Pop()
		if err != nil {
			return false, err
		}
		heap.CellSet(cell, v)
		return true, nil

	case opcodes.OP_LOAD_NAME:
		name := nameAt(f.Code.Globals, inst.Operand1)
		if v, ok := ctx.GetGlobal(name); ok {
			f.Push(v)
			return true, nil
		}
		return false, ctx.Raise(ctx.StdExceptions.NameError, "name %q is not defined", name)

	case opcodes.OP_DELETE_NAME:
		name := nameAt(f.Code.Globals, inst.Operand1)
		if v, ok := ctx.Globals[name]; ok {
			heap.Decref(v)
			delete(ctx.Globals, name)
			return true, nil
		}
		return false, ctx.Raise(ctx.StdExceptions.NameError, "name %q is not defined", name)

	case opcodes.OP_DELETE_LOCAL:
		idx := int(inst.Operand1)
		if idx < 0 || idx >= len(f.Locals) {
			return false, fmt.Errorf("local slot %d out of range", idx)
		}
		heap.Decref(f.Locals[idx])
		f.Locals[idx] = values.None()
		return true, nil

	case opcodes.OP_DELETE_GLOBAL:
		name := nameAt(f.Code.Globals, inst.Operand1)
		if v, ok := ctx.Globals[name]; ok {
			heap.Decref(v)
			delete(ctx.Globals, name)
			return true, nil
		}
		return false, ctx.Raise(ctx.StdExceptions.NameError, "global %q is not defined", name)

	case opcodes.OP_DELETE_DEREF:
		cell, err := cellAt(f, inst.Operand1)
		if err != nil {
			return false, err
		}
		heap.CellSet(cell, values.None())
		return true, nil

	case opcodes.OP_POP_TOP:
		v, err := f.Pop()
		if err != nil {
			return false, err
		}
		heap.Decref(v)
		return true, nil

	case opcodes.OP_DUP_TOP:
		v, ok := f.Peek(0)
		if !ok {
			return false, fmt.Errorf("DUP_TOP on empty stack")
		}
		heap.Incref(v)
		f.Push(v)
		return true, nil

	case opcodes.OP_ROT_TWO:
		a, err := f.Pop()
		if err != nil {
			return false, err
		}
		b, err := f.Pop()
		if err != nil {
			return false, err
		}
		f.Push(a)
		f.Push(b)
		return true, nil
	}
	return false, fmt.Errorf("unhandled stack opcode %s", inst.Opcode)
}

func nameAt(names []string, idx uint32) string {
	i := int(idx)
	if i < 0 || i >= len(names) {
		return ""
	}
	return names[i]
}

// cellAt resolves a LOAD_DEREF/STORE_DEREF/DELETE_DEREF operand: indices
// below len(Code.Cells) address this frame's own cells, the remainder
// address cells captured from an enclosing scope (Free), matching the
// code object's combined Cells++Free numbering.
func cellAt(f *frame.Frame, operand uint32) (*heap.Slot, error) {
	idx := int(operand)
	if idx < len(f.Cells) {
		if f.Cells[idx] == nil {
			return nil, fmt.Errorf("cell %d not yet initialized", idx)
		}
		return f.Cells[idx], nil
	}
	idx -= len(f.Cells)
	if idx < 0 || idx >= len(f.Free) {
		return nil, fmt.Errorf("free variable index %d out of range", operand)
	}
	return f.Free[idx], nil
}

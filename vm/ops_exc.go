package vm

import (
	"fmt"

	"github.com/wudi/serpent/code"
	"github.com/wudi/serpent/exc"
	"github.com/wudi/serpent/frame"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/opcodes"
	"github.com/wudi/serpent/values"
)

// execExceptions handles raising, handler-block bookkeeping, reraise,
// match checks, finally cleanup, and except* partitioning (opcodes
// 130-159). The code object's static exception table (consulted by
// exc.Unwind once an error propagates out of executeInstruction) is what
// actually redirects the instruction pointer into a handler; these
// opcodes maintain the runtime-visible state a handler body needs once
// it's there (spec §4.5).
func (vm *VM) execExceptions(ctx *ExecutionContext, f *frame.Frame, inst opcodes.Instruction) (bool, error) {
	switch inst.Opcode {
	case opcodes.OP_RAISE_VARARGS:
		switch inst.Operand1 {
		case 0:
			active, ok := ctx.CurrentActiveException()
			if !ok {
				return false, fmt.Errorf("RAISE_VARARGS bare form with no active exception")
			}
			return false, exc.Raise(ctx.Heap, active, nil)
		case 1:
			v, err := f.Pop()
			if err != nil {
				return false, err
			}
			active, hasActive := ctx.CurrentActiveException()
			var activePtr *values.Value
			if hasActive {
				activePtr = &active
			}
			return false, exc.Raise(ctx.Heap, v, activePtr)
		case 2:
			cause, err := f.Pop()
			if err != nil {
				return false, err
			}
			v, err := f.Pop()
			if err != nil {
				return false, err
			}
			return false, exc.RaiseFrom(v, cause)
		}
		return false, fmt.Errorf("RAISE_VARARGS with unsupported operand %d", inst.Operand1)

	case opcodes.OP_PUSH_EXC_BLOCK:
		f.PushExcBlock(frame.ExceptionBlock{
			HandlerTarget: int(inst.Operand1),
			StackDepth:    int(inst.Operand2),
			Kind:          code.ExceptionHandlerKind(inst.Operand3),
		})
		return true, nil

	case opcodes.OP_POP_EXC_BLOCK:
		block, ok := f.PopExcBlock()
		if ok && block.Kind != code.HandlerFinally {
			ctx.PopActiveException()
		}
		return true, nil

	case opcodes.OP_RERAISE:
		active, ok := ctx.CurrentActiveException()
		if !ok {
			return false, fmt.Errorf("RERAISE with no active exception")
		}
		return false, exc.Raise(ctx.Heap, active, nil)

	case opcodes.OP_CHECK_EXC_MATCH:
		candidates, err := popN(f, int(inst.Operand1))
		if err != nil {
			return false, err
		}
		excV, ok := f.Peek(0)
		if !ok {
			return false, fmt.Errorf("CHECK_EXC_MATCH on empty stack")
		}
		matched := matchesCandidates(excV, candidates)
		for _, c := range candidates {
			heap.Decref(c)
		}
		f.Push(values.Bool(matched))
		return true, nil

	case opcodes.OP_CLEANUP_FINALLY:
		pending, err := f.Pop()
		if err != nil {
			return false, err
		}
		if pending.IsNone() {
			return true, nil
		}
		return false, exc.Raise(ctx.Heap, pending, nil)

	case opcodes.OP_PUSH_EXC_GROUP_MATCH:
		candidates, err := popN(f, int(inst.Operand1))
		if err != nil {
			return false, err
		}
		groupV, err := f.Pop()
		if err != nil {
			return false, err
		}
		slot, ok := groupV.RefHandle().(*heap.Slot)
		if !ok {
			return false, fmt.Errorf("PUSH_EXC_GROUP_MATCH target is not an exception group")
		}
		group, ok := slot.Payload().(*heap.ExceptionGroup)
		if !ok {
			return false, fmt.Errorf("PUSH_EXC_GROUP_MATCH target is not an exception group")
		}
		classes := make([]*heap.Slot, 0, len(candidates))
		for _, c := range candidates {
			if cs, ok := c.RefHandle().(*heap.Slot); ok {
				classes = append(classes, cs)
			}
			heap.Decref(c)
		}
		matchedGroup, restGroup, hasRest := exc.Partition(ctx.Heap, group, classes)
		heap.Decref(groupV)
		f.Push(matchedGroup)
		if hasRest {
			f.Push(restGroup)
		} else {
			f.Push(values.None())
		}
		f.Push(values.Bool(hasRest))
		return true, nil
	}
	return false, fmt.Errorf("unhandled exception opcode %s", inst.Opcode)
}

// matchesCandidates reports whether excV's class matches any of the
// candidate type values (each expected to be a Class slot).
func matchesCandidates(excV values.Value, candidates []values.Value) bool {
	es, ok := excV.RefHandle().(*heap.Slot)
	if !ok {
		return false
	}
	classes := make([]*heap.Slot, 0, len(candidates))
	for _, c := range candidates {
		if cs, ok := c.RefHandle().(*heap.Slot); ok {
			classes = append(classes, cs)
		}
	}
	return exc.Matches(es, classes)
}

package vm

import (
	"errors"
	"fmt"

	"github.com/wudi/serpent/frame"
	"github.com/wudi/serpent/opcodes"
	"github.com/wudi/serpent/values"
)

var errSuspended = errors.New("frame suspended")

// executeInstruction dispatches one instruction, mirroring the teacher's
// executeInstruction switch (vm/vm.go): a flat switch over the opcode,
// delegating each family to its own handler file. Returns whether to
// advance the instruction pointer, a return value and completion flag
// when the whole run finished, a suspend signal for yield/await/external
// calls, and any error.
func (vm *VM) executeInstruction(ctx *ExecutionContext, f *frame.Frame, inst opcodes.Instruction) (advance bool, retVal values.Value, done bool, sig dispatchSignal, err error) {
	switch {
	case inst.Opcode <= opcodes.OP_ROT_TWO:
		advance, err = vm.execStack(ctx, f, inst)
		return
	case inst.Opcode >= opcodes.OP_BUILD_TUPLE && inst.Opcode <= opcodes.OP_SUBSCR_DELETE:
		advance, err = vm.execContainers(ctx, f, inst)
		return
	case inst.Opcode >= opcodes.OP_BINARY_OP && inst.Opcode <= opcodes.OP_CONTAINS_OP:
		advance, err = vm.execArith(ctx, f, inst)
		return
	case inst.Opcode >= opcodes.OP_JUMP && inst.Opcode <= opcodes.OP_GET_ITER:
		advance, err = vm.execControl(ctx, f, inst)
		return
	case inst.Opcode >= opcodes.OP_MAKE_FUNCTION && inst.Opcode <= opcodes.OP_CALL_EXTERNAL:
		return vm.execCalls(ctx, f, inst)
	case inst.Opcode >= opcodes.OP_RAISE_VARARGS && inst.Opcode <= opcodes.OP_PUSH_EXC_GROUP_MATCH:
		advance, err = vm.execExceptions(ctx, f, inst)
		return
	case inst.Opcode >= opcodes.OP_BUILD_CLASS && inst.Opcode <= opcodes.OP_SET_NAME_DESCRIPTOR:
		advance, err = vm.execClasses(ctx, f, inst)
		return
	default:
		return false, values.None(), false, signalNone, fmt.Errorf("unimplemented opcode %s", inst.Opcode)
	}
}

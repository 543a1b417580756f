package vm

import (
	"errors"
	"fmt"

	"github.com/wudi/serpent/accountant"
	"github.com/wudi/serpent/code"
	"github.com/wudi/serpent/exc"
	"github.com/wudi/serpent/frame"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/opcodes"
	"github.com/wudi/serpent/values"
)

// VM is the bytecode interpreter. It holds no per-run state itself (that
// lives in ExecutionContext) so one VM value can drive many independent
// runs concurrently, mirroring the teacher's VirtualMachine/
// ExecutionContext split.
type VM struct {
	DebugMode bool
}

func New() *VM { return &VM{} }

// Run pushes obj as the entry frame and drives the fetch-execute loop
// until the frame stack empties or an unhandled exception/breach stops
// it (spec §6 "Run").
func (vm *VM) Run(ctx *ExecutionContext, obj *code.Object, args []values.Value) (values.Value, error) {
	f := frame.NewFrame(obj, nil)
	for i, a := range args {
		if i < len(f.Locals) {
			f.Locals[i] = a
		}
	}
	f.QualName = obj.Qualified
	ctx.vm = vm
	ctx.Stack.Push(f)
	return vm.loop(ctx)
}

// loop is the fetch-execute cycle: mirrors vm.VirtualMachine.run's
// structure (fetch current frame/instruction, dispatch, decorate errors
// at the dispatch site, advance the instruction pointer unless the
// handler already redirected it).
func (vm *VM) loop(ctx *ExecutionContext) (values.Value, error) {
	var result values.Value
	for {
		if err := ctx.Accountant.CheckDeadline(); err != nil {
			return values.None(), err
		}
		if err := ctx.Accountant.CheckMemory(); err != nil {
			return values.None(), err
		}

		f := ctx.Stack.Current()
		if f == nil {
			return result, nil
		}
		if f.IP < 0 || f.IP >= len(f.Code.Instructions) {
			v, done, err := vm.handleReturn(ctx, values.None())
			if err != nil {
				return values.None(), err
			}
			if done {
				return v, nil
			}
			result = v
			continue
		}

		inst := f.Code.Instructions[f.IP]
		advance, retVal, done, sig, err := vm.executeInstruction(ctx, f, inst)
		if err != nil {
			if suspend, ok := asExternalSuspend(err); ok {
				ctx.PendingExternal = suspend.Request
				return values.None(), suspend
			}
			if handled, herr := vm.handleException(ctx, err); handled {
				if herr != nil {
					return values.None(), herr
				}
				continue
			}
			return values.None(), vm.decorate(f, inst, err)
		}
		if sig == signalSuspend {
			if ctx.PendingExternal != nil {
				return values.None(), &ExternalSuspend{Request: ctx.PendingExternal}
			}
			return values.None(), errSuspended
		}
		if done {
			return retVal, nil
		}
		if advance {
			f.IP++
		}
	}
}

type dispatchSignal int

const (
	signalNone dispatchSignal = iota
	signalSuspend
)

func (vm *VM) decorate(f *frame.Frame, inst opcodes.Instruction, err error) error {
	return fmt.Errorf("execution error at %s ip=%d opcode=%s: %w", f.QualName, f.IP, inst.Opcode, err)
}

// handleException converts a raised exc.Error into an unwind attempt: if
// a handler in the current stack covers the raising instruction, this
// jumps the frame's IP there and reports handled=true with a nil error so
// the caller's loop continues; otherwise it returns handled=true with the
// original error once the stack is fully unwound, decorated with the
// traceback rendering (spec §4.5 / §7).
func (vm *VM) handleException(ctx *ExecutionContext, raised error) (bool, error) {
	excErr, ok := raised.(*exc.Error)
	if !ok {
		return true, raised
	}
	raisingFrame := ctx.Stack.Current()
	ip := 0
	if raisingFrame != nil {
		ip = raisingFrame.IP
	}
	tbVal, tb := exc.BuildTraceback(ctx.Heap, ctx.Stack)
	_, _, found := exc.Unwind(ctx.Stack, ip)
	if found {
		heap.Decref(tbVal)
	} else {
		attachTraceback(excErr.Exception, tbVal)
		return true, fmt.Errorf("%w\n%s", excErr, tb.Render())
	}
	f := ctx.Stack.Current()
	f.Push(excErr.Exception)
	ctx.PushActiveException(excErr.Exception)
	return true, nil
}

// attachTraceback records the fully-unwound traceback on the exception
// that escaped every handler, mirroring CPython's __traceback__ slot
// (spec §7).
func attachTraceback(excVal values.Value, tbVal values.Value) {
	slot, ok := excVal.RefHandle().(*heap.Slot)
	if !ok {
		return
	}
	exception, ok := slot.Payload().(*heap.Exception)
	if !ok {
		return
	}
	tbSlot, ok := tbVal.RefHandle().(*heap.Slot)
	if !ok {
		return
	}
	heap.Incref(tbVal)
	exception.Traceback = tbSlot
}

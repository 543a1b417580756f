package vm

import (
	"fmt"

	"github.com/wudi/serpent/code"
	"github.com/wudi/serpent/frame"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
)

// newGeneratorValue constructs a suspended generator/coroutine object for
// a call to a function whose code object is marked IsGenerator or
// IsAsync. Unlike an ordinary call, invoking one of these runs none of
// the body yet (spec §9 "Generators": "calling a generator function
// returns a generator object; the body only starts on the first
// next()/send()"). The generator gets its own frame stack, independent
// of the caller's, sharing the run's heap/accountant/globals/externals —
// the same "no native recursion for guest calls" discipline the main
// dispatcher follows, just rooted at a different stack.
func (vm *VM) newGeneratorValue(ctx *ExecutionContext, obj *code.Object, qualName string, free []*heap.Slot, self *values.Value, args []values.Value, kwargs map[string]values.Value, defaults []values.Value) (values.Value, error) {
	genCtx := &ExecutionContext{
		Heap:          ctx.Heap,
		Accountant:    ctx.Accountant,
		Globals:       ctx.Globals,
		Stack:         frame.NewFrameStack(),
		OutputWriter:  ctx.OutputWriter,
		Externals:     ctx.Externals,
		StdExceptions: ctx.StdExceptions,
		vm:            vm,
	}
	nf := frame.NewFrame(obj, self)
	if err := bindArgs(genCtx, nf, obj, args, kwargs, defaults); err != nil {
		return values.Value{}, err
	}
	nf.Free = free
	nf.QualName = qualName
	if err := ctx.Accountant.EnterCall(); err != nil {
		return values.Value{}, err
	}
	genCtx.Stack.Push(nf)

	var genSlot *heap.Slot
	advance := func(sent values.Value, throwErr error) (values.Value, bool, error) {
		return vm.resumeGenerator(genCtx, genSlot, sent, throwErr)
	}
	closeFn := func() error {
		return vm.closeGenerator(genCtx, genSlot)
	}
	roots := func() []values.Value {
		return genCtx.Roots()
	}
	genVal := ctx.Heap.NewGenerator(qualName, advance, closeFn, roots)
	genSlot = genVal.RefHandle().(*heap.Slot)
	return genVal, nil
}

// resumeGenerator drives a suspended generator's frame stack until it
// next suspends (yield/await) or finishes (return, or an unhandled
// exception). throwErr, when non-nil, is raised at the generator's
// current suspension point instead of delivering sent (the `throw()`
// builtin's entry point); sent is otherwise pushed as the result of the
// yield/await expression the generator is parked on.
func (vm *VM) resumeGenerator(genCtx *ExecutionContext, self *heap.Slot, sent values.Value, throwErr error) (values.Value, bool, error) {
	gen := self.Payload().(*heap.Generator)
	if gen.State == heap.GenDone {
		return values.Value{}, true, fmt.Errorf("generator already exhausted")
	}
	if gen.State == heap.GenRunning {
		return values.Value{}, true, fmt.Errorf("generator is already running")
	}

	f := genCtx.Stack.Current()
	if f == nil {
		gen.State = heap.GenDone
		return values.None(), true, nil
	}

	if f.YieldFrom != nil {
		return vm.resumeYieldFrom(genCtx, gen, f, sent, throwErr)
	}

	if throwErr != nil {
		if handled, herr := vm.handleException(genCtx, throwErr); !handled {
			gen.State = heap.GenDone
			return values.Value{}, true, vm.decorate(f, f.Code.Instructions[f.IP], throwErr)
		} else if herr != nil {
			gen.State = heap.GenDone
			return values.Value{}, true, herr
		}
	} else if gen.Started {
		f.IP++
		heap.Incref(sent)
		f.Push(sent)
	}
	gen.Started = true
	gen.State = heap.GenRunning

	v, done, err := vm.runGeneratorBody(genCtx)
	if _, ok := asExternalSuspend(err); ok {
		gen.State = heap.GenSuspended
		return v, false, err
	}
	if done || err != nil {
		gen.State = heap.GenDone
	} else {
		gen.State = heap.GenSuspended
	}
	return v, done, err
}

// resumeYieldFrom forwards a resumed send/throw to the sub-iterator a
// frame is parked delegating to, instead of the generic "push sent past
// IP" resume step (spec §9 "yield from": "send/throw/close forward to
// the sub-iterator").
func (vm *VM) resumeYieldFrom(genCtx *ExecutionContext, gen *heap.Generator, f *frame.Frame, sent values.Value, throwErr error) (values.Value, bool, error) {
	gen.Started = true
	gen.State = heap.GenRunning

	advance, v, _, sig, err := vm.driveYieldFrom(genCtx, f, sent, throwErr)
	if err == nil && sig == signalSuspend {
		gen.State = heap.GenSuspended
		if req := genCtx.PendingExternal; req != nil {
			genCtx.PendingExternal = nil
			return values.Value{}, false, &ExternalSuspend{Request: req}
		}
		return v, false, nil
	}
	if err != nil {
		if _, ok := asExternalSuspend(err); ok {
			gen.State = heap.GenSuspended
			return values.Value{}, false, err
		}
		if handled, herr := vm.handleException(genCtx, err); !handled {
			gen.State = heap.GenDone
			return values.Value{}, true, vm.decorate(f, f.Code.Instructions[f.IP], err)
		} else if herr != nil {
			gen.State = heap.GenDone
			return values.Value{}, true, herr
		}
		// A handler inside this frame caught the delegated exception: its
		// stack/IP already moved to the handler target, fall through to
		// keep running the body from there.
	} else if advance {
		f.IP++
	}

	v2, done2, err2 := vm.runGeneratorBody(genCtx)
	if done2 || err2 != nil {
		gen.State = heap.GenDone
	} else {
		gen.State = heap.GenSuspended
	}
	return v2, done2, err2
}

// driveYieldFrom advances the sub-iterator/sub-generator a frame is
// delegating to, the shared step OP_YIELD_FROM's first visit and every
// later send/throw resume both funnel through. A plain heap.Iterator has
// no send/throw protocol of its own, matching CPython's behavior for
// delegating to a non-generator iterable (throw() simply raises at the
// yield-from point instead of inside the sub-iterator).
func (vm *VM) driveYieldFrom(ctx *ExecutionContext, f *frame.Frame, sent values.Value, throwErr error) (advance bool, retVal values.Value, done bool, sig dispatchSignal, err error) {
	slot := f.YieldFrom
	switch child := slot.Payload().(type) {
	case *heap.Generator:
		v, isDone, cerr := child.Advance(sent, throwErr)
		if cerr != nil {
			if suspend, ok := asExternalSuspend(cerr); ok {
				ctx.PendingExternal = suspend.Request
				return false, values.None(), false, signalSuspend, nil
			}
			f.YieldFrom = nil
			heap.Decref(values.Ref(slot))
			return false, values.None(), false, signalNone, cerr
		}
		if isDone {
			f.YieldFrom = nil
			heap.Decref(values.Ref(slot))
			f.Push(v)
			return true, values.None(), false, signalNone, nil
		}
		return false, v, false, signalSuspend, nil
	case *heap.Iterator:
		if throwErr != nil {
			f.YieldFrom = nil
			heap.Decref(values.Ref(slot))
			return false, values.None(), false, signalNone, throwErr
		}
		v, more := child.Next()
		if !more {
			f.YieldFrom = nil
			heap.Decref(values.Ref(slot))
			f.Push(values.None())
			return true, values.None(), false, signalNone, nil
		}
		return false, v, false, signalSuspend, nil
	}
	f.YieldFrom = nil
	return false, values.None(), false, signalNone, fmt.Errorf("yield from target is not an iterator")
}

// closeGenerator marks the generator done, first propagating the close
// down the "yield from" delegation chain (if any) so a sub-generator gets
// the same chance to run its own cleanup (finally blocks) that closing it
// directly would give it.
func (vm *VM) closeGenerator(genCtx *ExecutionContext, self *heap.Slot) error {
	gen := self.Payload().(*heap.Generator)
	if gen.State != heap.GenDone {
		if f := genCtx.Stack.Current(); f != nil && f.YieldFrom != nil {
			if childSlot := f.YieldFrom; childSlot != nil {
				if childGen, ok := childSlot.Payload().(*heap.Generator); ok && childGen.Close != nil {
					_ = childGen.Close()
				}
			}
		}
	}
	gen.State = heap.GenDone
	return nil
}

// runGeneratorBody is runUntilDepth's generator-flavored sibling: it
// drives genCtx's own frame stack to completion or to the next
// suspension point, rather than to a target depth within the caller's
// stack, since a generator's frame stack belongs to no caller.
func (vm *VM) runGeneratorBody(genCtx *ExecutionContext) (values.Value, bool, error) {
	for {
		f := genCtx.Stack.Current()
		if f == nil {
			return values.None(), true, nil
		}
		if f.IP < 0 || f.IP >= len(f.Code.Instructions) {
			v, done, err := vm.handleReturn(genCtx, values.None())
			if err != nil {
				return values.Value{}, true, err
			}
			if done {
				return v, true, nil
			}
			continue
		}
		inst := f.Code.Instructions[f.IP]
		advance, retVal, done, sig, err := vm.executeInstruction(genCtx, f, inst)
		if err != nil {
			if suspend, ok := asExternalSuspend(err); ok {
				genCtx.PendingExternal = suspend.Request
				return values.Value{}, false, suspend
			}
			if handled, herr := vm.handleException(genCtx, err); handled {
				if herr != nil {
					return values.Value{}, true, herr
				}
				continue
			}
			return values.Value{}, true, vm.decorate(f, inst, err)
		}
		if sig == signalSuspend {
			if genCtx.PendingExternal != nil {
				req := genCtx.PendingExternal
				genCtx.PendingExternal = nil
				return values.Value{}, false, &ExternalSuspend{Request: req}
			}
			return retVal, false, nil
		}
		if done {
			return retVal, true, nil
		}
		if advance {
			f.IP++
		}
	}
}

package vm

import (
	"fmt"

	"github.com/wudi/serpent/code"
	"github.com/wudi/serpent/frame"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/opcodes"
	"github.com/wudi/serpent/values"
)

// execCalls handles function creation, invocation, return, and the
// suspension points (yield/await/external-call) (opcodes 100-108).
func (vm *VM) execCalls(ctx *ExecutionContext, f *frame.Frame, inst opcodes.Instruction) (advance bool, retVal values.Value, done bool, sig dispatchSignal, err error) {
	switch inst.Opcode {
	case opcodes.OP_MAKE_FUNCTION:
		idx := int(inst.Operand1)
		if idx < 0 || idx >= len(f.Code.Constants) {
			return false, values.None(), false, signalNone, fmt.Errorf("MAKE_FUNCTION constant index %d out of range", idx)
		}
		fnObj, ok := constantCodeObject(f, idx)
		if !ok {
			return false, values.None(), false, signalNone, fmt.Errorf("MAKE_FUNCTION constant is not a code object")
		}
		free := make([]*heap.Slot, len(fnObj.Free))
		for i := range free {
			depth := len(fnObj.Free) - i
			if depth <= len(f.Stack) {
				if cellV, ok := f.Peek(depth - 1); ok {
					if s, ok := cellV.RefHandle().(*heap.Slot); ok {
						free[i] = s
					}
				}
			}
		}
		nDefaults := 0
		for _, p := range fnObj.Params {
			if p.HasDefault {
				nDefaults++
			}
		}
		defaults, err := popN(f, nDefaults)
		if err != nil {
			return false, values.None(), false, signalNone, err
		}
		v := ctx.Heap.NewFunction(fnObj, defaults, free, fnObj.Qualified, fnObj.IsGenerator, fnObj.IsAsync)
		for _, d := range defaults {
			heap.Decref(d)
		}
		f.Push(v)
		return true, values.None(), false, signalNone, nil

	case opcodes.OP_CALL:
		argc := int(inst.Operand2)
		var kwNames []string
		if inst.Operand3&opcodes.CallHasKwNames != 0 {
			namesV, err := f.Pop()
			if err != nil {
				return false, values.None(), false, signalNone, err
			}
			kwNames, err = stringTupleItems(namesV)
			heap.Decref(namesV)
			if err != nil {
				return false, values.None(), false, signalNone, err
			}
		}
		args, err := popN(f, argc)
		if err != nil {
			return false, values.None(), false, signalNone, err
		}
		callee, err := f.Pop()
		if err != nil {
			return false, values.None(), false, signalNone, err
		}
		posArgs, kwargs, err := splitKwArgs(args, kwNames)
		if err != nil {
			return false, values.None(), false, signalNone, err
		}
		if err := ctx.Accountant.EnterCall(); err != nil {
			return false, values.None(), false, signalNone, err
		}
		depthBefore := ctx.Stack.Depth()
		if err := vm.pushCallFrame(ctx, callee, posArgs, kwargs); err != nil {
			ctx.Accountant.ExitCall()
			return false, values.None(), false, signalNone, err
		}
		for _, a := range args {
			heap.Decref(a)
		}
		heap.Decref(callee)
		// A Native call, a no-__init__ Class construction, or a
		// generator/async constructor resolves synchronously: pushCallFrame
		// leaves the stack depth unchanged and pushes its result straight
		// onto this same frame, so the loop must move past CALL itself
		// rather than wait on a callee frame that was never pushed.
		return ctx.Stack.Depth() == depthBefore, values.None(), false, signalNone, nil

	case opcodes.OP_CALL_FUNCTION_EX:
		extras, err := f.Pop() // a tuple of (args_tuple, kwargs_dict)
		if err != nil {
			return false, values.None(), false, signalNone, err
		}
		callee, err := f.Pop()
		if err != nil {
			return false, values.None(), false, signalNone, err
		}
		args, kwargs, err := unpackCallArgs(extras)
		if err != nil {
			return false, values.None(), false, signalNone, err
		}
		if err := ctx.Accountant.EnterCall(); err != nil {
			return false, values.None(), false, signalNone, err
		}
		depthBefore := ctx.Stack.Depth()
		if err := vm.pushCallFrame(ctx, callee, args, kwargs); err != nil {
			ctx.Accountant.ExitCall()
			return false, values.None(), false, signalNone, err
		}
		heap.Decref(extras)
		heap.Decref(callee)
		return ctx.Stack.Depth() == depthBefore, values.None(), false, signalNone, nil

	case opcodes.OP_RETURN_VALUE:
		v, err := f.Pop()
		if err != nil {
			return false, values.None(), false, signalNone, err
		}
		out, isDone, err := vm.handleReturn(ctx, v)
		return false, out, isDone, signalNone, err

	case opcodes.OP_YIELD_VALUE:
		v, err := f.Pop()
		if err != nil {
			return false, values.None(), false, signalNone, err
		}
		return false, v, false, signalSuspend, nil

	case opcodes.OP_YIELD_FROM:
		// Delegating yield (spec §9 "yield from"): the operand is the
		// already-GET_ITER'd sub-iterator/sub-generator. The first visit
		// stashes it on the frame and starts driving it; every value it
		// yields suspends this frame in turn, and a resumed send/throw
		// (vm.resumeGenerator) is forwarded straight to it rather than
		// handled here — this opcode only runs its own pop/stash step
		// once per delegation.
		if f.YieldFrom == nil {
			v, err := f.Pop()
			if err != nil {
				return false, values.None(), false, signalNone, err
			}
			slot, ok := v.RefHandle().(*heap.Slot)
			if ok {
				switch slot.Payload().(type) {
				case *heap.Generator, *heap.Iterator:
					f.YieldFrom = slot
				default:
					ok = false
				}
			}
			if !ok {
				heap.Decref(v)
				return false, values.None(), false, signalNone, ctx.Raise(ctx.StdExceptions.TypeError, "cannot delegate yield from to a non-iterator")
			}
		}
		return vm.driveYieldFrom(ctx, f, values.None(), nil)

	case opcodes.OP_GET_AWAITABLE:
		return true, values.None(), false, signalNone, nil

	case opcodes.OP_AWAIT:
		v, err := f.Pop()
		if err != nil {
			return false, values.None(), false, signalNone, err
		}
		return false, v, false, signalSuspend, nil

	case opcodes.OP_CALL_EXTERNAL:
		var kwNames []string
		if inst.Operand3&opcodes.CallHasKwNames != 0 {
			namesV, err := f.Pop()
			if err != nil {
				return false, values.None(), false, signalNone, err
			}
			kwNames, err = stringTupleItems(namesV)
			heap.Decref(namesV)
			if err != nil {
				return false, values.None(), false, signalNone, err
			}
		}
		rawArgs, err := popN(f, int(inst.Operand2))
		if err != nil {
			return false, values.None(), false, signalNone, err
		}
		posArgs, kwargs, err := splitKwArgs(rawArgs, kwNames)
		if err != nil {
			return false, values.None(), false, signalNone, err
		}
		name := nameAt(f.Code.Globals, inst.Operand1)
		req := &ExternalCallRequest{Name: name, Args: posArgs, Kwargs: kwargs}
		req.deliver = func(value values.Value, raised error) error {
			return vm.settleExternal(ctx, f, req, value, raised)
		}
		ctx.PendingExternal = req
		resolved, err := vm.resolveExternalSync(ctx, req)
		if err != nil {
			return false, values.None(), false, signalNone, err
		}
		if resolved {
			ctx.PendingExternal = nil
			return false, values.None(), false, signalNone, nil
		}
		// No synchronous callback answered req: park here (IP unmoved,
		// matching the yield/await suspend convention) until the host
		// calls ResolveExternal with the answer (spec §4.7).
		return false, values.None(), false, signalSuspend, nil
	}
	return false, values.None(), false, signalNone, fmt.Errorf("unhandled call opcode %s", inst.Opcode)
}

// constantCodeObject retrieves the *code.Object a MAKE_FUNCTION operand
// names. Code objects live in the constant pool wrapped the same way any
// other constant does, via a small adapter the compiler emits (out of
// scope here); this engine accepts a pre-wrapped *code.Object pointer
// smuggled through values.Value's ref mechanism by the embedding host.
func constantCodeObject(f *frame.Frame, idx int) (*code.Object, bool) {
	if holder, ok := f.Code.Constants[idx].RefHandle().(*codeObjectHolder); ok {
		return holder.obj, true
	}
	return nil, false
}

// codeObjectHolder lets a *code.Object be carried inside a values.Value
// constant slot without heap package needing to import code (it
// satisfies values.RefHandle trivially).
type codeObjectHolder struct {
	obj *code.Object
}

func (h *codeObjectHolder) HeapID() uint64       { return uint64(uintptr(0)) }
func (h *codeObjectHolder) HeapTypeName() string { return "code" }

// WrapCodeObject lets a front end place a compiled nested function into a
// code object's constant pool.
func WrapCodeObject(obj *code.Object) values.Value {
	return values.Ref(&codeObjectHolder{obj: obj})
}

// unpackCallArgs splits CALL_FUNCTION_EX's (args_tuple, kwargs_dict) pair
// into a flat positional slice and a name-keyed map, so bindArgs never
// needs to distinguish "came from *args unpacking" from "came from a
// plain CALL" (spec §3.2 "Keyword arguments").
func unpackCallArgs(extras values.Value) ([]values.Value, map[string]values.Value, error) {
	slot, ok := extras.RefHandle().(*heap.Slot)
	if !ok {
		return nil, nil, fmt.Errorf("CALL_FUNCTION_EX operand is not a tuple")
	}
	t, ok := slot.Payload().(*heap.Tuple)
	if !ok || len(t.Items) == 0 {
		return nil, nil, fmt.Errorf("CALL_FUNCTION_EX operand is not a tuple")
	}
	argsSlot, ok := t.Items[0].RefHandle().(*heap.Slot)
	if !ok {
		return nil, nil, fmt.Errorf("CALL_FUNCTION_EX *args operand is not a sequence")
	}
	var args []values.Value
	switch p := argsSlot.Payload().(type) {
	case *heap.Tuple:
		args = append([]values.Value{}, p.Items...)
	case *heap.List:
		args = append([]values.Value{}, p.Items...)
	default:
		return nil, nil, fmt.Errorf("CALL_FUNCTION_EX *args operand is not a sequence")
	}
	if len(t.Items) < 2 {
		return args, nil, nil
	}
	kwSlot, ok := t.Items[1].RefHandle().(*heap.Slot)
	if !ok {
		return args, nil, nil
	}
	kwDict, ok := kwSlot.Payload().(*heap.Dict)
	if !ok {
		return args, nil, nil
	}
	kwargs := make(map[string]values.Value, kwDict.Len())
	for _, e := range kwDict.Items() {
		name, ok := heap.AsStr(e.Key)
		if !ok {
			continue
		}
		kwargs[name.Data] = e.Value
	}
	return args, kwargs, nil
}

// stringTupleItems unpacks OP_CALL's kwnames tuple into a plain []string.
func stringTupleItems(v values.Value) ([]string, error) {
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok {
		return nil, fmt.Errorf("CALL kwnames operand is not a tuple")
	}
	t, ok := slot.Payload().(*heap.Tuple)
	if !ok {
		return nil, fmt.Errorf("CALL kwnames operand is not a tuple")
	}
	out := make([]string, len(t.Items))
	for i, item := range t.Items {
		name, ok := heap.AsStr(item)
		if !ok {
			return nil, fmt.Errorf("CALL kwnames entry is not a string")
		}
		out[i] = name.Data
	}
	return out, nil
}

// splitKwArgs divides a CALL opcode's flat argument slice into leading
// positional values and a trailing, name-matched keyword map: the last
// len(kwNames) entries of args are the keyword values, in the same order
// as kwNames, preceding values are positional (opcodes.CallHasKwNames).
func splitKwArgs(args []values.Value, kwNames []string) ([]values.Value, map[string]values.Value, error) {
	if len(kwNames) == 0 {
		return args, nil, nil
	}
	if len(kwNames) > len(args) {
		return nil, nil, fmt.Errorf("CALL has more keyword names than arguments")
	}
	split := len(args) - len(kwNames)
	kwargs := make(map[string]values.Value, len(kwNames))
	for i, name := range kwNames {
		kwargs[name] = args[split+i]
	}
	return args[:split], kwargs, nil
}

// pushCallFrame resolves callee to a Function/BoundMethod/Class and
// pushes the appropriate new activation (or, for a Class, constructs an
// Instance and invokes __init__), letting the outer fetch-execute loop
// continue with the new frame on top — this is what keeps guest-to-guest
// recursion off the native Go call stack (spec §9).
func (vm *VM) pushCallFrame(ctx *ExecutionContext, callee values.Value, args []values.Value, kwargs map[string]values.Value) error {
	slot, ok := callee.RefHandle().(*heap.Slot)
	if !ok {
		return fmt.Errorf("value is not callable")
	}
	switch p := slot.Payload().(type) {
	case *heap.Function:
		obj, ok := p.Code.(*code.Object)
		if !ok {
			return fmt.Errorf("function code object has an unexpected type")
		}
		if p.IsGenerator || p.IsAsync {
			genVal, err := vm.newGeneratorValue(ctx, obj, p.QualName, p.FreeCells, nil, args, kwargs, p.Defaults)
			if err != nil {
				return err
			}
			if cur := ctx.Stack.Current(); cur != nil {
				cur.Push(genVal)
			}
			ctx.Accountant.ExitCall()
			return nil
		}
		nf := frame.NewFrame(obj, nil)
		if err := bindArgs(ctx, nf, obj, args, kwargs, p.Defaults); err != nil {
			return err
		}
		nf.Free = p.FreeCells
		nf.QualName = p.QualName
		ctx.Stack.Push(nf)
		return nil
	case *heap.BoundMethod:
		fnSlot := p.Func
		fnObjVal := fnSlot.Payload().(*heap.Function)
		obj, ok := fnObjVal.Code.(*code.Object)
		if !ok {
			return fmt.Errorf("method code object has an unexpected type")
		}
		this := p.Self
		if fnObjVal.IsGenerator || fnObjVal.IsAsync {
			genVal, err := vm.newGeneratorValue(ctx, obj, fnObjVal.QualName, fnObjVal.FreeCells, &this, args, kwargs, fnObjVal.Defaults)
			if err != nil {
				return err
			}
			if cur := ctx.Stack.Current(); cur != nil {
				cur.Push(genVal)
			}
			ctx.Accountant.ExitCall()
			return nil
		}
		nf := frame.NewFrame(obj, &this)
		if err := bindArgs(ctx, nf, obj, args, kwargs, fnObjVal.Defaults); err != nil {
			return err
		}
		nf.Free = fnObjVal.FreeCells
		nf.QualName = fnObjVal.QualName
		ctx.Stack.Push(nf)
		return nil
	case *heap.Class:
		instVal := ctx.Heap.NewInstance(slot)
		instSlot := instVal.RefHandle().(*heap.Slot)
		if fn, ok := p.Dispatch[heap.SlotInit]; ok {
			fnSlot := fn.RefHandle().(*heap.Slot)
			fnObj := fnSlot.Payload().(*heap.Function)
			obj, ok := fnObj.Code.(*code.Object)
			if !ok {
				return fmt.Errorf("constructor code object has an unexpected type")
			}
			this := values.Ref(instSlot)
			nf := frame.NewFrame(obj, &this)
			if err := bindArgs(ctx, nf, obj, args, kwargs, fnObj.Defaults); err != nil {
				return err
			}
			nf.Free = fnObj.FreeCells
			nf.QualName = fnObj.QualName
			nf.ReturnOverride = &instVal
			ctx.Stack.Push(nf)
			return nil
		}
		if cur := ctx.Stack.Current(); cur != nil {
			cur.Push(instVal)
		}
		ctx.Accountant.ExitCall()
		return nil
	case *heap.Native:
		out, err := p.Call(args, kwargs)
		if err != nil {
			return err
		}
		if cur := ctx.Stack.Current(); cur != nil {
			cur.Push(out)
		}
		ctx.Accountant.ExitCall()
		return nil
	}
	return fmt.Errorf("value is not callable")
}

// bindArgs binds a call's positional args and name-keyed kwargs into a
// fresh frame's locals, following the declared parameter layout: plain
// positional/keyword-only params accept either a positional slot or a
// matching keyword, *args collects leftover positionals into a tuple,
// **kwargs collects leftover keywords (not claimed by any named param)
// into a dict (spec §3.2 "Keyword arguments").
func bindArgs(ctx *ExecutionContext, f *frame.Frame, obj *code.Object, args []values.Value, kwargs map[string]values.Value, defaults []values.Value) error {
	posIdx := 0
	defaultStart := len(obj.Params) - len(defaults)
	var claimed map[string]bool
	if len(kwargs) > 0 {
		claimed = make(map[string]bool, len(kwargs))
	}
	bindNamed := func(i int, p code.Param) {
		if v, ok := kwargs[p.Name]; ok {
			claimed[p.Name] = true
			heap.Incref(v)
			if i < len(f.Locals) {
				f.Locals[i] = v
			}
			return
		}
		if p.HasDefault {
			dIdx := i - defaultStart
			if dIdx >= 0 && dIdx < len(defaults) {
				heap.Incref(defaults[dIdx])
				f.Locals[i] = defaults[dIdx]
				return
			}
		}
		if i < len(f.Locals) {
			f.Locals[i] = values.None()
		}
	}
	for i, p := range obj.Params {
		switch p.Kind {
		case code.ParamVarArgs:
			rest := append([]values.Value{}, args[posIdx:]...)
			if i < len(f.Locals) {
				f.Locals[i] = ctx.Heap.NewTuple(rest)
			}
			posIdx = len(args)
		case code.ParamVarKwargs:
			d := ctx.Heap.NewDict()
			if len(kwargs) > 0 {
				dict := d.RefHandle().(*heap.Slot).Payload().(*heap.Dict)
				for name, v := range kwargs {
					if claimed[name] {
						continue
					}
					dict.Set(ctx.Heap.NewString(name), v)
				}
			}
			if i < len(f.Locals) {
				f.Locals[i] = d
			}
		case code.ParamKeywordOnly:
			bindNamed(i, p)
		default:
			if posIdx < len(args) {
				heap.Incref(args[posIdx])
				if i < len(f.Locals) {
					f.Locals[i] = args[posIdx]
				}
				posIdx++
				continue
			}
			bindNamed(i, p)
		}
	}
	return nil
}

// handleReturn pops the current frame, releases its recursion-depth
// accounting, and either surfaces the value as the run's final result
// (when the stack is now empty) or pushes it onto the caller frame's
// operand stack and reports the run as not yet finished.
func (vm *VM) handleReturn(ctx *ExecutionContext, v values.Value) (values.Value, bool, error) {
	finished := ctx.Stack.Pop()
	ctx.Accountant.ExitCall()
	if finished != nil && finished.ReturnOverride != nil {
		v = *finished.ReturnOverride
	}
	caller := ctx.Stack.Current()
	if caller == nil {
		return v, true, nil
	}
	caller.Push(v)
	return values.None(), false, nil
}

// CallValue implements object.Caller by running a nested fetch-execute
// loop to completion: dunder dispatch (operator overloads, descriptors,
// __iter__, etc.) needs a synchronous result, unlike the main OP_CALL
// opcode path which lets the outer loop proceed iteratively. This is the
// one place guest execution recurses through the native Go stack; it is
// bounded by the accountant's recursion ceiling like any other call.
//
// Some callees (a Native function, a generator/async constructor, a Class
// with no __init__) resolve without pushing a new frame at all: their
// result is pushed straight onto the current frame's operand stack by
// pushCallFrame, the same thing OP_CALL's outer loop consults. When that
// happens the stack depth right after pushCallFrame still equals
// depthBefore, so CallValue pops that result back off directly instead of
// entering runUntilDepth, which would otherwise find nothing left to run
// and report a stale zero value.
func (ctx *ExecutionContext) CallValue(callable values.Value, args []values.Value) (values.Value, error) {
	if ctx.vm == nil {
		return values.Value{}, fmt.Errorf("CallValue invoked outside an active run")
	}
	if err := ctx.Accountant.EnterCall(); err != nil {
		return values.Value{}, err
	}
	defer ctx.Accountant.ExitCall()
	depthBefore := ctx.Stack.Depth()
	cur := ctx.Stack.Current()
	stackDepthBefore := 0
	if cur != nil {
		stackDepthBefore = len(cur.Stack)
	}
	if err := ctx.vm.pushCallFrame(ctx, callable, args, nil); err != nil {
		return values.Value{}, err
	}
	if ctx.Stack.Depth() == depthBefore {
		if cur != nil && len(cur.Stack) > stackDepthBefore {
			return cur.Pop()
		}
		return values.None(), nil
	}
	return ctx.vm.runUntilDepth(ctx, depthBefore)
}

// runUntilDepth drives the loop until the stack returns to targetDepth
// frames, i.e. until the call just pushed has returned.
func (vm *VM) runUntilDepth(ctx *ExecutionContext, targetDepth int) (values.Value, error) {
	var result values.Value
	for ctx.Stack.Depth() > targetDepth {
		f := ctx.Stack.Current()
		if f == nil {
			break
		}
		if f.IP < 0 || f.IP >= len(f.Code.Instructions) {
			v, done, err := vm.handleReturn(ctx, values.None())
			if err != nil {
				return values.Value{}, err
			}
			result = v
			if done || ctx.Stack.Depth() <= targetDepth {
				return v, nil
			}
			continue
		}
		inst := f.Code.Instructions[f.IP]
		advance, retVal, done, sig, err := vm.executeInstruction(ctx, f, inst)
		if err != nil {
			if suspend, ok := asExternalSuspend(err); ok {
				ctx.PendingExternal = suspend.Request
				return values.Value{}, suspend
			}
			if handled, herr := vm.handleException(ctx, err); handled {
				if herr != nil {
					return values.Value{}, herr
				}
				continue
			}
			return values.Value{}, vm.decorate(f, inst, err)
		}
		if sig == signalSuspend {
			if ctx.PendingExternal != nil {
				return values.Value{}, &ExternalSuspend{Request: ctx.PendingExternal}
			}
			return values.Value{}, errSuspended
		}
		if done || ctx.Stack.Depth() <= targetDepth {
			return retVal, nil
		}
		if advance {
			f.IP++
		}
	}
	return result, nil
}

package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wudi/serpent/accountant"
	"github.com/wudi/serpent/code"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/opcodes"
	"github.com/wudi/serpent/values"
)

func newTestContext() *ExecutionContext {
	return NewExecutionContext(accountant.Limits{})
}

func TestRun_ArithmeticExpression(t *testing.T) {
	ctx := newTestContext()
	defer ctx.Close()

	obj := code.New("<module>", "<module>", "test")
	obj.Constants = []values.Value{values.Int(2), values.Int(3)}
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 1},
		{Opcode: opcodes.OP_BINARY_OP, Operand1: uint32(opcodes.BinAdd)},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}

	out, err := New().Run(ctx, obj, nil)
	assert.NoError(t, err)
	assert.True(t, out.IsMachineInt())
	assert.Equal(t, int64(5), out.Int())
}

func TestRun_GlobalStoreAndLoadRoundTrip(t *testing.T) {
	ctx := newTestContext()
	defer ctx.Close()

	obj := code.New("<module>", "<module>", "test")
	obj.Constants = []values.Value{values.Int(7)}
	obj.Globals = []string{"x"}
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_STORE_GLOBAL, Operand1: 0},
		{Opcode: opcodes.OP_LOAD_GLOBAL, Operand1: 0},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}

	out, err := New().Run(ctx, obj, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), out.Int())
	stored, ok := ctx.GetGlobal("x")
	assert.True(t, ok)
	assert.Equal(t, int64(7), stored.Int())
}

func TestRun_ConditionalJumpTakesElseBranch(t *testing.T) {
	ctx := newTestContext()
	defer ctx.Close()

	obj := code.New("<module>", "<module>", "test")
	obj.Constants = []values.Value{
		values.Bool(false),
		ctx.Heap.NewString("then"),
		ctx.Heap.NewString("else"),
	}
	// 0: LOAD_CONST false
	// 1: JUMP_IF_FALSE -> 4
	// 2: LOAD_CONST "then"
	// 3: JUMP -> 5
	// 4: LOAD_CONST "else"
	// 5: RETURN_VALUE
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_JUMP_IF_FALSE, Operand1: 4},
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 1},
		{Opcode: opcodes.OP_JUMP, Operand1: 5},
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 2},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}

	out, err := New().Run(ctx, obj, nil)
	assert.NoError(t, err)
	s, ok := heap.AsStr(out)
	assert.True(t, ok)
	assert.Equal(t, "else", s.Data)
}

func TestRun_FunctionArgumentIsBoundToLocal(t *testing.T) {
	ctx := newTestContext()
	defer ctx.Close()

	obj := code.New("double", "double", "test")
	obj.Locals = []string{"n"}
	obj.Params = []code.Param{{Name: "n", Kind: code.ParamPositional}}
	obj.Constants = []values.Value{values.Int(2)}
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_LOCAL, Operand1: 0},
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_BINARY_OP, Operand1: uint32(opcodes.BinMul)},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}

	out, err := New().Run(ctx, obj, []values.Value{values.Int(21)})
	assert.NoError(t, err)
	assert.Equal(t, int64(42), out.Int())
}

func TestRun_UnhandledExceptionReportsClassAndMessage(t *testing.T) {
	ctx := newTestContext()
	defer ctx.Close()

	object := ctx.Heap.NewClass("object", nil)
	objectSlot := object.RefHandle().(*heap.Slot)
	errCls := ctx.Heap.NewClass("RuntimeError", []*heap.Slot{objectSlot})
	errClsSlot := errCls.RefHandle().(*heap.Slot)
	errVal := ctx.Heap.NewException(errClsSlot, "boom", nil)

	obj := code.New("<module>", "<module>", "test")
	obj.Constants = []values.Value{errVal}
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_RAISE_VARARGS, Operand1: 1},
	}

	_, err := New().Run(ctx, obj, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "RuntimeError: boom")
}

func TestRun_ExceptionHandlerCatchesAndRedirects(t *testing.T) {
	ctx := newTestContext()
	defer ctx.Close()

	object := ctx.Heap.NewClass("object", nil)
	objectSlot := object.RefHandle().(*heap.Slot)
	errCls := ctx.Heap.NewClass("RuntimeError", []*heap.Slot{objectSlot})
	errClsSlot := errCls.RefHandle().(*heap.Slot)
	errVal := ctx.Heap.NewException(errClsSlot, "caught me", nil)

	obj := code.New("<module>", "<module>", "test")
	obj.Constants = []values.Value{errVal, ctx.Heap.NewString("recovered")}
	// 0: LOAD_CONST exc
	// 1: RAISE_VARARGS 1      (raises; unwind finds the handler below)
	// 2: POP_TOP              (handler target: discard the exception value)
	// 3: LOAD_CONST "recovered"
	// 4: RETURN_VALUE
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_RAISE_VARARGS, Operand1: 1},
		{Opcode: opcodes.OP_POP_TOP},
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 1},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}
	obj.ExcTable = []code.ExceptionTableEntry{
		{StartInstruction: 0, EndInstruction: 2, HandlerTarget: 2, StackDepth: 0, Kind: code.HandlerExcept},
	}

	out, err := New().Run(ctx, obj, nil)
	assert.NoError(t, err)
	s, ok := heap.AsStr(out)
	assert.True(t, ok)
	assert.Equal(t, "recovered", s.Data)
}

func TestRun_ForLoopSumsListElements(t *testing.T) {
	ctx := newTestContext()
	defer ctx.Close()

	list := ctx.Heap.NewList([]values.Value{values.Int(1), values.Int(2), values.Int(3)})

	obj := code.New("<module>", "<module>", "test")
	obj.Locals = []string{"total", "item"}
	obj.Constants = []values.Value{values.Int(0), list}
	// The iterator itself stays on the operand stack for the loop's whole
	// lifetime (FOR_ITER only peeks it on every iteration and pops it once
	// on exhaustion), so the loop head jumped back to is FOR_ITER itself,
	// not a re-push of some stored copy:
	// 0: LOAD_CONST 0         ; total = 0
	// 1: STORE_LOCAL 0
	// 2: LOAD_CONST 1         ; push the list
	// 3: GET_ITER             ; stack: [iterator]
	// 4: FOR_ITER -> 11       ; loop head: pushes next item, or pops+jumps at exhaustion
	// 5: STORE_LOCAL 1        ; item = ...
	// 6: LOAD_LOCAL 0
	// 7: LOAD_LOCAL 1
	// 8: BINARY_OP add
	// 9: STORE_LOCAL 0
	// 10: JUMP -> 4
	// 11: LOAD_LOCAL 0        ; past the loop
	// 12: RETURN_VALUE
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_STORE_LOCAL, Operand1: 0},
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 1},
		{Opcode: opcodes.OP_GET_ITER},
		{Opcode: opcodes.OP_FOR_ITER, Operand1: 11},
		{Opcode: opcodes.OP_STORE_LOCAL, Operand1: 1},
		{Opcode: opcodes.OP_LOAD_LOCAL, Operand1: 0},
		{Opcode: opcodes.OP_LOAD_LOCAL, Operand1: 1},
		{Opcode: opcodes.OP_BINARY_OP, Operand1: uint32(opcodes.BinAdd)},
		{Opcode: opcodes.OP_STORE_LOCAL, Operand1: 0},
		{Opcode: opcodes.OP_JUMP, Operand1: 4},
		{Opcode: opcodes.OP_LOAD_LOCAL, Operand1: 0},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}

	out, err := New().Run(ctx, obj, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(6), out.Int())
}

// A Native callee resolves synchronously: pushCallFrame pushes its result
// straight onto the caller's own frame instead of pushing a new one, so
// CALL must still advance past itself. Exercises two calls back-to-back to
// confirm the second CALL is reached rather than the first re-executing.
func TestRun_NativeCallAdvancesPastCallInstruction(t *testing.T) {
	ctx := newTestContext()
	defer ctx.Close()

	calls := 0
	double := ctx.Heap.NewNative("double", func(args []values.Value, kwargs map[string]values.Value) (values.Value, error) {
		calls++
		return values.Int(args[0].Int() * 2), nil
	})

	obj := code.New("<module>", "<module>", "test")
	obj.Globals = []string{"double"}
	obj.Constants = []values.Value{values.Int(3)}
	// 0: LOAD_GLOBAL double
	// 1: LOAD_CONST 3
	// 2: CALL argc=1          ; stack: [6]
	// 3: LOAD_GLOBAL double
	// 4: ROT_TWO              ; stack: [double, 6]
	// 5: CALL argc=1          ; stack: [12]
	// 6: RETURN_VALUE
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_GLOBAL, Operand1: 0},
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_CALL, Operand2: 1},
		{Opcode: opcodes.OP_LOAD_GLOBAL, Operand1: 0},
		{Opcode: opcodes.OP_ROT_TWO},
		{Opcode: opcodes.OP_CALL, Operand2: 1},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}

	ctx.SetGlobal("double", double)
	out, err := New().Run(ctx, obj, nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(12), out.Int())
}

// Internally-raised arithmetic failures must be guest exceptions, not bare
// Go errors, so an unhandled one still reports its class name the same way
// an explicit `raise` does.
func TestRun_DivisionByZeroRaisesZeroDivisionError(t *testing.T) {
	ctx := newTestContext()
	defer ctx.Close()

	obj := code.New("<module>", "<module>", "test")
	obj.Constants = []values.Value{values.Int(1), values.Int(0)}
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 1},
		{Opcode: opcodes.OP_BINARY_OP, Operand1: uint32(opcodes.BinFloorDiv)},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}

	_, err := New().Run(ctx, obj, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ZeroDivisionError")
}

// A ZeroDivisionError raised by the arithmetic dispatcher must unwind
// through a guest except block exactly like one raised by RAISE_VARARGS,
// since it now travels the same exc.Error/exc.Unwind path.
func TestRun_DivisionByZeroIsCatchableByGuestExceptHandler(t *testing.T) {
	ctx := newTestContext()
	defer ctx.Close()

	obj := code.New("<module>", "<module>", "test")
	obj.Constants = []values.Value{values.Int(1), values.Int(0), ctx.Heap.NewString("recovered")}
	// 0: LOAD_CONST 1
	// 1: LOAD_CONST 0
	// 2: BINARY_OP floordiv   (raises ZeroDivisionError; unwind finds the handler below)
	// 3: POP_TOP              (handler target: discard the exception value)
	// 4: LOAD_CONST "recovered"
	// 5: RETURN_VALUE
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 1},
		{Opcode: opcodes.OP_BINARY_OP, Operand1: uint32(opcodes.BinFloorDiv)},
		{Opcode: opcodes.OP_POP_TOP},
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 2},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}
	obj.ExcTable = []code.ExceptionTableEntry{
		{StartInstruction: 0, EndInstruction: 3, HandlerTarget: 3, StackDepth: 0, Kind: code.HandlerExcept},
	}

	out, err := New().Run(ctx, obj, nil)
	assert.NoError(t, err)
	s, ok := heap.AsStr(out)
	assert.True(t, ok)
	assert.Equal(t, "recovered", s.Data)
}

// OP_CALL_EXTERNAL with nothing registered for the name suspends the run
// instead of erroring; the host answers out of band via ResolveExternal,
// which both delivers the value at the call site and drives the dispatcher
// the rest of the way to completion.
func TestRun_ExternalCallSuspendsAndResumesViaResolveExternal(t *testing.T) {
	ctx := newTestContext()
	defer ctx.Close()

	obj := code.New("<module>", "<module>", "test")
	obj.Globals = []string{"ask_host"}
	obj.Constants = []values.Value{values.Int(5)}
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_CALL_EXTERNAL, Operand1: 0, Operand2: 1},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}

	_, err := New().Run(ctx, obj, nil)
	assert.Error(t, err)
	suspend, ok := err.(*ExternalSuspend)
	assert.True(t, ok, "expected *ExternalSuspend, got %T: %v", err, err)
	assert.Equal(t, "ask_host", suspend.Request.Name)
	assert.Equal(t, int64(5), suspend.Request.Args[0].Int())

	out, err := New().ResolveExternal(ctx, values.Int(99), nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(99), out.Int())
}

// A generator whose body is `yield from` a sub-generator must forward the
// sub-generator's yields one at a time and, on the sub-generator's
// completion, deliver its return value as the delegation expression's own
// result — true delegation, not a single collapsed yield.
func TestRun_YieldFromDelegatesToSubGenerator(t *testing.T) {
	ctx := newTestContext()
	defer ctx.Close()

	subObj := code.New("sub", "sub", "test")
	subObj.IsGenerator = true
	subObj.Constants = []values.Value{values.Int(1), values.Int(2), values.Int(3)}
	// 0: LOAD_CONST 1 ; YIELD_VALUE
	// 2: LOAD_CONST 2 ; YIELD_VALUE
	// 4: LOAD_CONST 3 ; RETURN_VALUE
	subObj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_YIELD_VALUE},
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 1},
		{Opcode: opcodes.OP_YIELD_VALUE},
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 2},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}
	subFn := ctx.Heap.NewFunction(subObj, nil, nil, "sub", true, false)

	outerObj := code.New("outer", "outer", "test")
	outerObj.IsGenerator = true
	outerObj.Globals = []string{"sub"}
	// 0: LOAD_GLOBAL sub
	// 1: CALL argc=0         ; constructs the sub-generator object
	// 2: YIELD_FROM
	// 3: RETURN_VALUE
	outerObj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_GLOBAL, Operand1: 0},
		{Opcode: opcodes.OP_CALL, Operand2: 0},
		{Opcode: opcodes.OP_YIELD_FROM},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}
	outerFn := ctx.Heap.NewFunction(outerObj, nil, nil, "outer", true, false)

	entry := code.New("<module>", "<module>", "test")
	entry.Globals = []string{"outer"}
	entry.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_GLOBAL, Operand1: 0},
		{Opcode: opcodes.OP_CALL, Operand2: 0},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}

	ctx.SetGlobal("sub", subFn)
	ctx.SetGlobal("outer", outerFn)
	genVal, err := New().Run(ctx, entry, nil)
	assert.NoError(t, err)
	gen, ok := genVal.RefHandle().(*heap.Slot).Payload().(*heap.Generator)
	assert.True(t, ok)

	v1, done1, err1 := gen.Advance(values.None(), nil)
	assert.NoError(t, err1)
	assert.False(t, done1)
	assert.Equal(t, int64(1), v1.Int())

	v2, done2, err2 := gen.Advance(values.None(), nil)
	assert.NoError(t, err2)
	assert.False(t, done2)
	assert.Equal(t, int64(2), v2.Int())

	v3, done3, err3 := gen.Advance(values.None(), nil)
	assert.NoError(t, err3)
	assert.True(t, done3)
	assert.Equal(t, int64(3), v3.Int())
}

// Gather drives every argument coroutine to completion in declaration
// order and isolates a failing child's exception instead of aborting its
// siblings: the result list pairs every input position with either its
// return value or the exception it raised.
func TestGather_CompletesChildrenAndIsolatesFailures(t *testing.T) {
	ctx := newTestContext()
	defer ctx.Close()

	okObj := code.New("ok_coro", "ok_coro", "test")
	okObj.IsGenerator = true
	okObj.Constants = []values.Value{values.Int(7)}
	okObj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}
	okFn := ctx.Heap.NewFunction(okObj, nil, nil, "ok_coro", true, false)
	okGen, err := vmMakeGeneratorForTest(ctx, okFn)
	assert.NoError(t, err)

	object := ctx.Heap.NewClass("object", nil)
	objectSlot := object.RefHandle().(*heap.Slot)
	errCls := ctx.Heap.NewClass("BoomError", []*heap.Slot{objectSlot})
	errClsSlot := errCls.RefHandle().(*heap.Slot)
	errVal := ctx.Heap.NewException(errClsSlot, "boom", nil)

	failObj := code.New("fail_coro", "fail_coro", "test")
	failObj.IsGenerator = true
	failObj.Constants = []values.Value{errVal}
	failObj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_RAISE_VARARGS, Operand1: 1},
	}
	failFn := ctx.Heap.NewFunction(failObj, nil, nil, "fail_coro", true, false)
	failGen, err := vmMakeGeneratorForTest(ctx, failFn)
	assert.NoError(t, err)

	result, gatherErr := Gather(ctx, []values.Value{okGen, failGen})
	assert.NoError(t, gatherErr)
	list, ok := result.RefHandle().(*heap.Slot).Payload().(*heap.List)
	assert.True(t, ok)
	assert.Len(t, list.Items, 2)
	assert.Equal(t, int64(7), list.Items[0].Int())

	excSlot, ok := list.Items[1].RefHandle().(*heap.Slot)
	assert.True(t, ok)
	exc, ok := excSlot.Payload().(*heap.Exception)
	assert.True(t, ok)
	assert.Contains(t, exc.Message, "boom")
}

// vmMakeGeneratorForTest calls a zero-argument generator function value via
// a throwaway entry code object, the same path OP_CALL takes in real
// bytecode, so the test exercises the actual construction route instead of
// poking heap.NewGenerator directly.
func vmMakeGeneratorForTest(ctx *ExecutionContext, fn values.Value) (values.Value, error) {
	entry := code.New("<module>", "<module>", "test")
	entry.Globals = []string{"fn"}
	entry.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_GLOBAL, Operand1: 0},
		{Opcode: opcodes.OP_CALL, Operand2: 0},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}
	ctx.SetGlobal("fn", fn)
	return New().Run(ctx, entry, nil)
}

package interp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wudi/serpent/accountant"
	"github.com/wudi/serpent/code"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/opcodes"
	"github.com/wudi/serpent/values"
	"github.com/wudi/serpent/vm"
)

func TestConstruct_RejectsNilCodeObject(t *testing.T) {
	_, err := Construct(nil, nil, nil, Options{})
	assert.Error(t, err)
}

func TestRun_BindsDeclaredInputAsGlobalAndReturnsResult(t *testing.T) {
	obj := code.New("<module>", "<module>", "test")
	obj.Globals = []string{"x"}
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_GLOBAL, Operand1: 0},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}

	it, err := Construct(obj, []string{"x"}, nil, Options{})
	assert.NoError(t, err)
	defer it.Close()

	res, err := it.Run(map[string]values.Value{"x": values.Int(9)}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(9), res.Value.Int())
}

func TestRun_RejectsUndeclaredInput(t *testing.T) {
	obj := code.New("<module>", "<module>", "test")
	obj.Instructions = []opcodes.Instruction{{Opcode: opcodes.OP_RETURN_VALUE}}

	it, err := Construct(obj, nil, nil, Options{})
	assert.NoError(t, err)
	defer it.Close()

	_, err = it.Run(map[string]values.Value{"y": values.Int(1)}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `"y" is not a declared input`)
}

func TestRun_RejectsUndeclaredExternal(t *testing.T) {
	obj := code.New("<module>", "<module>", "test")
	obj.Instructions = []opcodes.Instruction{{Opcode: opcodes.OP_RETURN_VALUE}}

	it, err := Construct(obj, nil, nil, Options{})
	assert.NoError(t, err)
	defer it.Close()

	fn := vm.ExternalFunc(func(args []values.Value, kwargs map[string]values.Value) (values.Value, error) { return values.None(), nil })
	_, err = it.Run(nil, map[string]vm.ExternalFunc{"fetch": fn})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `"fetch" is not a declared external function`)
}

func TestRun_UsesOptionsOutputForPrint(t *testing.T) {
	h := heap.NewHeap()
	obj := code.New("<module>", "<module>", "test")
	obj.Constants = []values.Value{h.NewString("hi")}
	obj.Globals = []string{"print"}
	// LOAD_GLOBAL print (callee first), LOAD_CONST "hi" (arg on top), CALL.
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_GLOBAL, Operand1: 0},
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_CALL, Operand2: 1},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}

	var buf bytes.Buffer
	it, err := Construct(obj, nil, nil, Options{Heap: h, Output: &buf})
	assert.NoError(t, err)
	defer it.Close()

	_, err = it.Run(nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, "hi\n", buf.String())
}

func TestRun_UnhandledExceptionClassifiesAndPopulatesTraceback(t *testing.T) {
	h := heap.NewHeap()
	object := h.NewClass("object", nil)
	objectSlot := object.RefHandle().(*heap.Slot)
	errCls := h.NewClass("KeyError", []*heap.Slot{objectSlot})
	errClsSlot := errCls.RefHandle().(*heap.Slot)
	errVal := h.NewException(errClsSlot, "missing", nil)

	obj := code.New("<module>", "<module>", "test")
	obj.Constants = []values.Value{errVal}
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_RAISE_VARARGS, Operand1: 1},
	}

	it, err := Construct(obj, nil, nil, Options{Heap: h})
	assert.NoError(t, err)
	defer it.Close()

	_, err = it.Run(nil, nil)
	assert.Error(t, err)

	var runErr *RunError
	assert.ErrorAs(t, err, &runErr)
	assert.Equal(t, KindLookup, runErr.Kind)
	assert.Contains(t, runErr.Message, "KeyError: missing")
	assert.NotEmpty(t, runErr.Traceback)
	assert.Equal(t, "<module>", runErr.Traceback[0].FuncName)
}

func TestClassifyError_BreachMapsToResourceKind(t *testing.T) {
	breach := &accountant.BreachError{Dimension: "memory", Message: "memory ceiling exceeded: 128 MB"}
	runErr := ClassifyError(breach)
	assert.Equal(t, KindResource, runErr.Kind)
	assert.Equal(t, breach.Message, runErr.Message)
	assert.Same(t, breach, runErr.Unwrap())
}

func TestClassifyError_FallsBackToRuntimeKindForPlainErrors(t *testing.T) {
	plain := assert.AnError
	runErr := ClassifyError(plain)
	assert.Equal(t, KindRuntime, runErr.Kind)
	assert.Equal(t, plain.Error(), runErr.Message)
}

func TestRun_SuspendsOnPendingExternalAndResumeCompletes(t *testing.T) {
	obj := code.New("<module>", "<module>", "test")
	obj.Globals = []string{"ask_host"}
	obj.Constants = []values.Value{values.Int(5)}
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_CALL_EXTERNAL, Operand1: 0, Operand2: 1},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}

	it, err := Construct(obj, nil, []string{"ask_host"}, Options{})
	assert.NoError(t, err)
	defer it.Close()

	res, err := it.Run(nil, nil)
	assert.NoError(t, err)
	assert.NotNil(t, res.Pending)
	assert.Equal(t, "ask_host", res.Pending.Name)
	assert.Equal(t, int64(5), res.Pending.Args[0].Int())

	res, err = it.Resume(values.Int(123), nil)
	assert.NoError(t, err)
	assert.Nil(t, res.Pending)
	assert.Equal(t, int64(123), res.Value.Int())
}

func TestInterpreter_CollectAndHeapAccessors(t *testing.T) {
	obj := code.New("<module>", "<module>", "test")
	obj.Instructions = []opcodes.Instruction{
		{Opcode: opcodes.OP_LOAD_CONST, Operand1: 0},
		{Opcode: opcodes.OP_RETURN_VALUE},
	}
	obj.Constants = []values.Value{values.None()}

	it, err := Construct(obj, nil, nil, Options{})
	assert.NoError(t, err)
	defer it.Close()

	assert.NotNil(t, it.Heap())
	assert.GreaterOrEqual(t, it.Collect(), 0)
}

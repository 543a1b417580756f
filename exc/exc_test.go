package exc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wudi/serpent/code"
	"github.com/wudi/serpent/frame"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
)

func newTestClass(h *heap.Heap, name string, base *heap.Slot) *heap.Slot {
	v := h.NewClass(name, nil)
	slot := v.RefHandle().(*heap.Slot)
	cls := slot.Payload().(*heap.Class)
	cls.MRO = []*heap.Slot{slot}
	if base != nil {
		cls.Bases = []*heap.Slot{base}
		baseCls := base.Payload().(*heap.Class)
		cls.MRO = append(cls.MRO, baseCls.MRO...)
	}
	return slot
}

func TestIsInstanceOf_WalksMRO(t *testing.T) {
	h := heap.NewHeap()
	baseExc := newTestClass(h, "Exception", nil)
	valueErr := newTestClass(h, "ValueError", baseExc)

	excVal := h.NewException(valueErr, "bad value", nil)
	excSlot := excVal.RefHandle().(*heap.Slot)

	assert.True(t, IsInstanceOf(excSlot, valueErr))
	assert.True(t, IsInstanceOf(excSlot, baseExc))

	otherErr := newTestClass(h, "TypeError", baseExc)
	assert.False(t, IsInstanceOf(excSlot, otherErr))
}

func TestMatches_AnyCandidateInTuple(t *testing.T) {
	h := heap.NewHeap()
	baseExc := newTestClass(h, "Exception", nil)
	valueErr := newTestClass(h, "ValueError", baseExc)
	typeErr := newTestClass(h, "TypeError", baseExc)

	excVal := h.NewException(valueErr, "bad value", nil)
	excSlot := excVal.RefHandle().(*heap.Slot)

	assert.True(t, Matches(excSlot, []*heap.Slot{typeErr, valueErr}))
	assert.False(t, Matches(excSlot, []*heap.Slot{typeErr}))
}

func TestRaise_AttachesImplicitContext(t *testing.T) {
	h := heap.NewHeap()
	baseExc := newTestClass(h, "Exception", nil)

	firstVal := h.NewException(baseExc, "first", nil)
	secondVal := h.NewException(baseExc, "second", nil)

	Raise(h, secondVal, &firstVal)

	secondSlot := secondVal.RefHandle().(*heap.Slot)
	second := secondSlot.Payload().(*heap.Exception)
	assert.NotNil(t, second.Context)
}

func TestRaiseFrom_SetsCauseAndSuppressesContext(t *testing.T) {
	h := heap.NewHeap()
	baseExc := newTestClass(h, "Exception", nil)
	causeVal := h.NewException(baseExc, "cause", nil)
	effectVal := h.NewException(baseExc, "effect", nil)

	RaiseFrom(effectVal, causeVal)

	effectSlot := effectVal.RefHandle().(*heap.Slot)
	effect := effectSlot.Payload().(*heap.Exception)
	assert.NotNil(t, effect.Cause)
	assert.True(t, effect.SuppressContext)
}

func TestUnwind_FindsHandlerAndRestoresStackDepth(t *testing.T) {
	obj := code.New("m", "<module>", "")
	obj.ExcTable = []code.ExceptionTableEntry{
		{StartInstruction: 0, EndInstruction: 5, HandlerTarget: 10, StackDepth: 1, Kind: code.HandlerExcept},
	}

	stack := frame.NewFrameStack()
	f := frame.NewFrame(obj, nil)
	f.IP = 2
	f.Push(values.Int(1))
	f.Push(values.Int(2))
	f.Push(values.Int(3))
	stack.Push(f)

	handler, entry, ok := Unwind(stack, 2)
	assert.True(t, ok)
	assert.Same(t, f, handler)
	assert.Equal(t, 10, handler.IP)
	assert.Equal(t, 1, len(handler.Stack))
	assert.Equal(t, 10, entry.HandlerTarget)
}

func TestUnwind_PopsFramesWithNoHandler(t *testing.T) {
	inner := code.New("inner", "inner", "")
	outer := code.New("outer", "<module>", "")
	outer.ExcTable = []code.ExceptionTableEntry{
		{StartInstruction: 0, EndInstruction: 5, HandlerTarget: 3, StackDepth: 0, Kind: code.HandlerExcept},
	}

	stack := frame.NewFrameStack()
	outerFrame := frame.NewFrame(outer, nil)
	outerFrame.IP = 1
	stack.Push(outerFrame)

	innerFrame := frame.NewFrame(inner, nil)
	innerFrame.IP = 0
	stack.Push(innerFrame)

	handler, _, ok := Unwind(stack, 0)
	assert.True(t, ok)
	assert.Same(t, outerFrame, handler)
	assert.Equal(t, 3, handler.IP)
}

func TestBuildTraceback_InnermostFirst(t *testing.T) {
	outerObj := code.New("outer", "<module>", "")
	innerObj := code.New("inner", "helper", "")

	stack := frame.NewFrameStack()
	outerFrame := frame.NewFrame(outerObj, nil)
	outerFrame.QualName = outerObj.Qualified
	stack.Push(outerFrame)
	innerFrame := frame.NewFrame(innerObj, nil)
	innerFrame.QualName = innerObj.Qualified
	stack.Push(innerFrame)

	h := heap.NewHeap()
	_, tb := BuildTraceback(h, stack)

	assert.Len(t, tb.Entries, 2)
	assert.Equal(t, "helper", tb.Entries[0].FuncName)
	assert.Equal(t, "<module>", tb.Entries[1].FuncName)
}

func TestPartition_SplitsMatchedAndRest(t *testing.T) {
	h := heap.NewHeap()
	baseExc := newTestClass(h, "Exception", nil)
	valueErr := newTestClass(h, "ValueError", baseExc)
	typeErr := newTestClass(h, "TypeError", baseExc)

	e1 := h.NewException(valueErr, "v1", nil)
	e2 := h.NewException(typeErr, "t1", nil)
	group := h.NewExceptionGroup("multi", []values.Value{e1, e2})
	groupSlot := group.RefHandle().(*heap.Slot)
	groupPayload := groupSlot.Payload().(*heap.ExceptionGroup)

	matched, rest, hasRest := Partition(h, groupPayload, []*heap.Slot{valueErr})
	assert.True(t, hasRest)

	matchedSlot := matched.RefHandle().(*heap.Slot)
	matchedGroup := matchedSlot.Payload().(*heap.ExceptionGroup)
	assert.Len(t, matchedGroup.Exceptions, 1)

	restSlot := rest.RefHandle().(*heap.Slot)
	restGroup := restSlot.Payload().(*heap.ExceptionGroup)
	assert.Len(t, restGroup.Exceptions, 1)
}

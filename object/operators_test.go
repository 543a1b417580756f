package object

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
)

// opCaller is a CallValue that returns NotImplemented for any callable
// whose marker string contains "notimpl", and otherwise echoes a
// "called:<marker>" string, letting tests drive the forward/reflected
// fallback chain explicitly.
type opCaller struct {
	h *heap.Heap
}

func (c *opCaller) CallValue(callable values.Value, args []values.Value) (values.Value, error) {
	s, ok := heap.AsStr(callable)
	if !ok {
		return values.None(), nil
	}
	if strings.Contains(s.Data, "notimpl") {
		return values.NotImplemented(), nil
	}
	if strings.Contains(s.Data, "truthy_marker") {
		return values.Bool(true), nil
	}
	return c.h.NewString("called:" + s.Data), nil
}

func TestBinaryOp_ForwardMethodWinsByDefault(t *testing.T) {
	h := heap.NewHeap()
	caller := &opCaller{h: h}
	object := newClass(h, "object")
	cls := newClass(h, "Vector", object)
	classOf(cls).Dict["__add__"] = h.NewString("vector_add")
	BuildDispatch(cls)

	left := h.NewInstance(cls)
	right := h.NewInstance(cls)

	v, ok, err := BinaryOp(caller, heap.SlotAdd, left, right)
	assert.True(t, ok)
	assert.NoError(t, err)
	s, _ := heap.AsStr(v)
	assert.Equal(t, "called:vector_add", s.Data)
}

func TestBinaryOp_FallsBackToReflectedWhenForwardNotImplemented(t *testing.T) {
	h := heap.NewHeap()
	caller := &opCaller{h: h}
	object := newClass(h, "object")
	leftCls := newClass(h, "Meters", object)
	classOf(leftCls).Dict["__add__"] = h.NewString("notimpl_add")
	BuildDispatch(leftCls)

	rightCls := newClass(h, "Feet", object)
	classOf(rightCls).Dict["__radd__"] = h.NewString("feet_radd")
	BuildDispatch(rightCls)

	left := h.NewInstance(leftCls)
	right := h.NewInstance(rightCls)

	v, ok, err := BinaryOp(caller, heap.SlotAdd, left, right)
	assert.True(t, ok)
	assert.NoError(t, err)
	s, _ := heap.AsStr(v)
	assert.Equal(t, "called:feet_radd", s.Data)
}

func TestBinaryOp_SubclassOverridingReflectedGoesFirst(t *testing.T) {
	h := heap.NewHeap()
	caller := &opCaller{h: h}
	object := newClass(h, "object")
	baseCls := newClass(h, "Base", object)
	classOf(baseCls).Dict["__add__"] = h.NewString("base_add")
	BuildDispatch(baseCls)

	subCls := newClass(h, "Sub", baseCls)
	classOf(subCls).Dict["__radd__"] = h.NewString("sub_radd")
	BuildDispatch(subCls)

	left := h.NewInstance(baseCls)
	right := h.NewInstance(subCls)

	v, ok, err := BinaryOp(caller, heap.SlotAdd, left, right)
	assert.True(t, ok)
	assert.NoError(t, err)
	s, _ := heap.AsStr(v)
	assert.Equal(t, "called:sub_radd", s.Data)
}

func TestBinaryOp_UnhandledWhenNeitherSideImplements(t *testing.T) {
	h := heap.NewHeap()
	caller := &opCaller{h: h}
	object := newClass(h, "object")
	cls := newClass(h, "Plain", object)
	BuildDispatch(cls)

	left := h.NewInstance(cls)
	right := h.NewInstance(cls)

	_, ok, err := BinaryOp(caller, heap.SlotAdd, left, right)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestCompare_EqFallsBackToIdentity(t *testing.T) {
	h := heap.NewHeap()
	caller := &opCaller{h: h}
	object := newClass(h, "object")
	cls := newClass(h, "Plain", object)
	BuildDispatch(cls)

	inst := h.NewInstance(cls)
	v, err := Compare(caller, heap.SlotEq, inst, inst)
	assert.NoError(t, err)
	b, ok := v.Truthy()
	assert.True(t, ok)
	assert.True(t, b)
}

func TestCompare_LtFallsBackToSwappedGt(t *testing.T) {
	h := heap.NewHeap()
	caller := &opCaller{h: h}
	object := newClass(h, "object")
	leftCls := newClass(h, "NoCompare", object)
	BuildDispatch(leftCls)

	rightCls := newClass(h, "HasGt", object)
	classOf(rightCls).Dict["__gt__"] = h.NewString("right_gt")
	BuildDispatch(rightCls)

	left := h.NewInstance(leftCls)
	right := h.NewInstance(rightCls)

	v, err := Compare(caller, heap.SlotLt, left, right)
	assert.NoError(t, err)
	s, _ := heap.AsStr(v)
	assert.Equal(t, "called:right_gt", s.Data)
}

func TestContains_DispatchesDunder(t *testing.T) {
	h := heap.NewHeap()
	caller := &opCaller{h: h}
	object := newClass(h, "object")
	cls := newClass(h, "Box", object)
	classOf(cls).Dict["__contains__"] = h.NewString("truthy_marker")
	BuildDispatch(cls)

	container := h.NewInstance(cls)
	truthy, err, handled := Contains(caller, container, values.Int(1))
	assert.True(t, handled)
	assert.NoError(t, err)
	assert.True(t, truthy)
}

func TestContains_UnhandledWithoutDunder(t *testing.T) {
	h := heap.NewHeap()
	caller := &opCaller{h: h}
	object := newClass(h, "object")
	cls := newClass(h, "Box", object)
	BuildDispatch(cls)

	container := h.NewInstance(cls)
	_, err, handled := Contains(caller, container, values.Int(1))
	assert.False(t, handled)
	assert.NoError(t, err)
}

package object

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
)

// fakeCaller is a minimal Caller for exercising attribute-resolution
// algorithms without pulling in the vm package: CallValue just echoes back
// a marker so tests can assert which dispatch path fired.
type fakeCaller struct {
	h *heap.Heap
}

func (f *fakeCaller) CallValue(callable values.Value, args []values.Value) (values.Value, error) {
	s, ok := heap.AsStr(callable)
	if !ok {
		return values.None(), fmt.Errorf("not callable in test")
	}
	return f.h.NewString("called:" + s.Data), nil
}

func (f *fakeCaller) InternString(s string) values.Value { return f.h.NewString(s) }

func TestGetAttr_InstanceDictWinsOverPlainClassAttr(t *testing.T) {
	h := heap.NewHeap()
	object := newClass(h, "object")
	cls := newClass(h, "Point", object)
	classOf(cls).Dict["x"] = h.NewString("class default")
	BuildDispatch(cls)

	inst := h.NewInstance(cls)
	instPayload := inst.RefHandle().(*heap.Slot).Payload().(*heap.Instance)
	instPayload.Set("x", h.NewString("instance value"))

	caller := &fakeCaller{h: h}
	v, err, found := GetAttr(caller, inst, "x")
	assert.True(t, found)
	assert.NoError(t, err)
	s, _ := heap.AsStr(v)
	assert.Equal(t, "instance value", s.Data)
}

func TestGetAttr_FallsBackToClassAttrWhenNotOnInstance(t *testing.T) {
	h := heap.NewHeap()
	object := newClass(h, "object")
	cls := newClass(h, "Point", object)
	classOf(cls).Dict["label"] = h.NewString("class label")
	BuildDispatch(cls)

	inst := h.NewInstance(cls)
	caller := &fakeCaller{h: h}
	v, err, found := GetAttr(caller, inst, "label")
	assert.True(t, found)
	assert.NoError(t, err)
	s, _ := heap.AsStr(v)
	assert.Equal(t, "class label", s.Data)
}

func TestGetAttr_NotFoundReportsFalse(t *testing.T) {
	h := heap.NewHeap()
	object := newClass(h, "object")
	cls := newClass(h, "Empty", object)
	BuildDispatch(cls)

	inst := h.NewInstance(cls)
	caller := &fakeCaller{h: h}
	_, _, found := GetAttr(caller, inst, "missing")
	assert.False(t, found)
}

func TestGetAttr_GetAttrHookCatchesUnresolvedNames(t *testing.T) {
	h := heap.NewHeap()
	object := newClass(h, "object")
	cls := newClass(h, "Dynamic", object)
	classOf(cls).Dict["__getattr__"] = h.NewString("dynamic_lookup")
	BuildDispatch(cls)

	inst := h.NewInstance(cls)
	caller := &fakeCaller{h: h}
	v, err, found := GetAttr(caller, inst, "anything")
	assert.True(t, found)
	assert.NoError(t, err)
	s, _ := heap.AsStr(v)
	assert.Equal(t, "called:dynamic_lookup", s.Data)
}

func TestSetAttr_PlainAssignmentLandsInInstanceDict(t *testing.T) {
	h := heap.NewHeap()
	object := newClass(h, "object")
	cls := newClass(h, "Point", object)
	BuildDispatch(cls)

	inst := h.NewInstance(cls)
	caller := &fakeCaller{h: h}
	err := SetAttr(caller, inst, "x", values.Int(42))
	assert.NoError(t, err)

	instPayload := inst.RefHandle().(*heap.Slot).Payload().(*heap.Instance)
	v, ok := instPayload.Get("x")
	assert.True(t, ok)
	assert.Equal(t, int64(42), v.Int())
}

func TestSetAttr_SetAttrHookIntercepts(t *testing.T) {
	h := heap.NewHeap()
	object := newClass(h, "object")
	cls := newClass(h, "Guarded", object)
	classOf(cls).Dict["__setattr__"] = h.NewString("guard")
	BuildDispatch(cls)

	inst := h.NewInstance(cls)
	caller := &fakeCaller{h: h}
	err := SetAttr(caller, inst, "x", values.Int(1))
	assert.NoError(t, err)

	instPayload := inst.RefHandle().(*heap.Slot).Payload().(*heap.Instance)
	_, ok := instPayload.Get("x")
	assert.False(t, ok, "a __setattr__ override intercepts the assignment instead of landing it directly")
}

package object

import (
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
)

// dunderNames maps the guest-visible dunder method name to its dispatch
// slot. BuildDispatch consults a class's Dict for each of these names
// while walking the MRO.
var dunderNames = map[string]heap.DunderSlot{
	"__init__":          heap.SlotInit,
	"__new__":           heap.SlotNew,
	"__call__":          heap.SlotCall,
	"__repr__":          heap.SlotRepr,
	"__str__":           heap.SlotStr,
	"__hash__":          heap.SlotHash,
	"__eq__":            heap.SlotEq,
	"__ne__":            heap.SlotNe,
	"__lt__":            heap.SlotLt,
	"__le__":            heap.SlotLe,
	"__gt__":            heap.SlotGt,
	"__ge__":            heap.SlotGe,
	"__bool__":          heap.SlotBool,
	"__len__":           heap.SlotLen,
	"__iter__":          heap.SlotIter,
	"__next__":          heap.SlotNext,
	"__getitem__":       heap.SlotGetItem,
	"__setitem__":       heap.SlotSetItem,
	"__delitem__":       heap.SlotDelItem,
	"__contains__":      heap.SlotContains,
	"__getattr__":       heap.SlotGetAttr,
	"__getattribute__":  heap.SlotGetAttribute,
	"__setattr__":       heap.SlotSetAttr,
	"__delattr__":       heap.SlotDelAttr,
	"__enter__":         heap.SlotEnter,
	"__exit__":          heap.SlotExit,
	"__get__":           heap.SlotGet,
	"__set__":           heap.SlotSet,
	"__add__":           heap.SlotAdd,
	"__radd__":          heap.SlotRAdd,
	"__sub__":           heap.SlotSub,
	"__rsub__":          heap.SlotRSub,
	"__mul__":           heap.SlotMul,
	"__rmul__":          heap.SlotRMul,
	"__truediv__":       heap.SlotTrueDiv,
	"__rtruediv__":      heap.SlotRTrueDiv,
	"__floordiv__":      heap.SlotFloorDiv,
	"__rfloordiv__":     heap.SlotRFloorDiv,
	"__mod__":           heap.SlotMod,
	"__rmod__":          heap.SlotRMod,
	"__pow__":           heap.SlotPow,
	"__rpow__":          heap.SlotRPow,
	"__iadd__":          heap.SlotIAdd,
	"__isub__":          heap.SlotISub,
	"__imul__":          heap.SlotIMul,
	"__init_subclass__": heap.SlotInitSubclass,
	"__set_name__":      heap.SlotSetName,
	"__class_getitem__": heap.SlotClassGetItem,
}

// ReflectedOf maps a forward arithmetic slot to its reflected
// counterpart, used by the forward/reflected dispatch rule (spec §9:
// "a subclass overriding the reflected method is tried before the
// base's forward method").
var ReflectedOf = map[heap.DunderSlot]heap.DunderSlot{
	heap.SlotAdd:      heap.SlotRAdd,
	heap.SlotSub:      heap.SlotRSub,
	heap.SlotMul:      heap.SlotRMul,
	heap.SlotTrueDiv:  heap.SlotRTrueDiv,
	heap.SlotFloorDiv: heap.SlotRFloorDiv,
	heap.SlotMod:      heap.SlotRMod,
	heap.SlotPow:      heap.SlotRPow,
}

// BuildDispatch populates cls.Dispatch by walking the MRO from the most
// distant ancestor to the class itself, so nearer-ancestor (and the class
// own) definitions overwrite farther ones — the usual "nearest wins"
// method resolution, expressed here as a map merge rather than a vtable
// lookup per spec §9's "sparse per-type map, not a single big vtable"
// design note.
func BuildDispatch(cls *heap.Slot) {
	c := classOf(cls)
	c.Dispatch = make(map[heap.DunderSlot]values.Value)
	for i := len(c.MRO) - 1; i >= 0; i-- {
		ancestor := classOf(c.MRO[i])
		for name, slot := range dunderNames {
			if fn, ok := ancestor.Dict[name]; ok {
				c.Dispatch[slot] = fn
			}
		}
	}
	c.HashPolicy = computeHashPolicy(c)
}

// computeHashPolicy resolves a class's HashPolicy (spec §3.4): a class
// whose own body declares __hash__ is explicit (forbidden if the
// declared value is None, the `__hash__ = None` idiom for "unhashable");
// one that declares __eq__ without __hash__ is forbidden per the
// "eq without hash makes a class unhashable" rule; anything else inherits
// its nearest base's resolved policy, defaulting to inherited/hashable at
// the root. Consults each base's own Dict/already-computed HashPolicy
// rather than the merged Dispatch map, since only a class's own body (not
// an ancestor's) triggers the __eq__-without-__hash__ rule for it.
func computeHashPolicy(c *heap.Class) heap.HashPolicy {
	if fn, ok := c.Dict["__hash__"]; ok {
		if fn.IsNone() {
			return heap.HashForbidden
		}
		return heap.HashExplicit
	}
	if _, ok := c.Dict["__eq__"]; ok {
		return heap.HashForbidden
	}
	for _, b := range c.Bases {
		if bp := classOf(b).HashPolicy; bp != heap.HashInherited {
			return bp
		}
	}
	return heap.HashInherited
}

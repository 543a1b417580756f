package object

import (
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
)

func instanceClass(v values.Value) (*heap.Slot, *heap.Class, bool) {
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok || slot.Kind() != heap.KindInstance {
		return nil, nil, false
	}
	inst := slot.Payload().(*heap.Instance)
	return inst.Class, classOf(inst.Class), true
}

func isSubclass(cls *heap.Slot, of *heap.Slot) bool {
	for _, a := range classOf(cls).MRO {
		if a == of {
			return true
		}
	}
	return false
}

// BinaryOp implements the forward/reflected arithmetic dispatch rule
// (spec §9): try the left operand's forward method first, UNLESS the
// right operand's class is a strict subclass of the left's and overrides
// the reflected method, in which case the reflected method is tried
// first. If the forward method returns NotImplemented (or is absent),
// fall back to the other side's reflected method.
func BinaryOp(caller Caller, slot heap.DunderSlot, left, right values.Value) (values.Value, bool, error) {
	reflected, hasReflected := ReflectedOf[slot]

	leftCls, leftC, leftOK := instanceClass(left)
	rightCls, rightC, rightOK := instanceClass(right)

	tryForward := func() (values.Value, bool, error) {
		if !leftOK {
			return values.Value{}, false, nil
		}
		fn, ok := leftC.Dispatch[slot]
		if !ok {
			return values.Value{}, false, nil
		}
		v, err := caller.CallValue(fn, []values.Value{left, right})
		if err != nil {
			return values.Value{}, false, err
		}
		if v.Kind == values.KindNotImplemented {
			return values.Value{}, false, nil
		}
		return v, true, nil
	}
	tryReflected := func() (values.Value, bool, error) {
		if !hasReflected || !rightOK {
			return values.Value{}, false, nil
		}
		fn, ok := rightC.Dispatch[reflected]
		if !ok {
			return values.Value{}, false, nil
		}
		v, err := caller.CallValue(fn, []values.Value{right, left})
		if err != nil {
			return values.Value{}, false, err
		}
		if v.Kind == values.KindNotImplemented {
			return values.Value{}, false, nil
		}
		return v, true, nil
	}

	rightOverridesReflected := hasReflected && rightOK && leftOK && rightCls != leftCls &&
		isSubclass(rightCls, leftCls)
	if rightOverridesReflected {
		if _, ok := rightC.Dispatch[reflected]; ok {
			if v, ok, err := tryReflected(); ok || err != nil {
				return v, ok, err
			}
			return tryForward()
		}
	}

	if v, ok, err := tryForward(); ok || err != nil {
		return v, ok, err
	}
	return tryReflected()
}

// compareSwap lists the forward/reflected-swap pair for each rich
// comparison, used when the left side has no applicable method.
var compareSwap = map[heap.DunderSlot]heap.DunderSlot{
	heap.SlotEq: heap.SlotEq,
	heap.SlotNe: heap.SlotNe,
	heap.SlotLt: heap.SlotGt,
	heap.SlotLe: heap.SlotGe,
	heap.SlotGt: heap.SlotLt,
	heap.SlotGe: heap.SlotLe,
}

// Compare dispatches a rich comparison, trying the left side's method and
// falling back to the swapped reflected comparison on the right side
// (spec §9 "Comparison dispatch"). __eq__/__ne__ additionally fall back
// to identity comparison when neither side implements them.
func Compare(caller Caller, slot heap.DunderSlot, left, right values.Value) (values.Value, error) {
	_, leftC, leftOK := instanceClass(left)
	_, rightC, rightOK := instanceClass(right)

	if leftOK {
		if fn, ok := leftC.Dispatch[slot]; ok {
			v, err := caller.CallValue(fn, []values.Value{left, right})
			if err != nil {
				return values.Value{}, err
			}
			if v.Kind != values.KindNotImplemented {
				return v, nil
			}
		}
	}
	if swapped, has := compareSwap[slot]; has && rightOK {
		if fn, ok := rightC.Dispatch[swapped]; ok {
			v, err := caller.CallValue(fn, []values.Value{right, left})
			if err != nil {
				return values.Value{}, err
			}
			if v.Kind != values.KindNotImplemented {
				return v, nil
			}
		}
	}

	if slot == heap.SlotEq {
		return values.Bool(identical(left, right)), nil
	}
	if slot == heap.SlotNe {
		return values.Bool(!identical(left, right)), nil
	}
	return values.Value{}, nil
}

func identical(a, b values.Value) bool {
	if a.IsRef() && b.IsRef() {
		as, _ := a.RefHandle().(*heap.Slot)
		bs, _ := b.RefHandle().(*heap.Slot)
		return as == bs
	}
	ha, aok := a.Hash()
	hb, bok := b.Hash()
	return aok && bok && ha == hb
}

// Contains implements `in` for instances through __contains__ only; when
// the class has no __contains__ it reports handled=false. No __iter__ or
// sequential __getitem__ fallback is tried, here or by CONTAINS_OP, which
// raises TypeError for an unhandled instance container.
func Contains(caller Caller, container, item values.Value) (bool, error, bool) {
	_, c, ok := instanceClass(container)
	if !ok {
		return false, nil, false
	}
	if fn, ok := c.Dispatch[heap.SlotContains]; ok {
		v, err := caller.CallValue(fn, []values.Value{container, item})
		if err != nil {
			return false, err, true
		}
		truthy, _ := v.Truthy()
		return truthy, nil, true
	}
	return false, nil, false
}

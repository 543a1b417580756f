package object

import (
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
)

// NewClass links a class into the MRO, builds its dunder dispatch table,
// and runs the class-creation hooks (spec §3.2 "Class creation"): every
// value bound in the class body gets __set_name__ called on it if it
// defines one (not only descriptors — a supplemented behavior recovered
// from the original implementation, see the design ledger), and the
// nearest base's __init_subclass__ runs last, after the class is fully
// assembled.
func NewClass(caller Caller, h *heap.Heap, name string, bases []*heap.Slot, body map[string]values.Value) (*heap.Slot, error) {
	ref := h.NewClass(name, bases)
	slot := ref.RefHandle().(*heap.Slot)
	cls := slot.Payload().(*heap.Class)
	for k, v := range body {
		heap.Incref(v)
		cls.Dict[k] = v
	}

	mro, err := Linearize(slot, bases)
	if err != nil {
		return nil, err
	}
	cls.MRO = mro
	BuildDispatch(slot)

	for attrName, v := range body {
		if err := callSetName(caller, v, slot, attrName); err != nil {
			return nil, err
		}
	}

	if err := callInitSubclass(caller, slot); err != nil {
		return nil, err
	}

	return slot, nil
}

// callSetName invokes __set_name__(owner, name) on v if v's class defines
// it. Every class-body value is offered the hook, not only recognized
// descriptor types, matching the supplemented "set_name called for every
// class-body value" behavior.
func callSetName(caller Caller, v values.Value, owner *heap.Slot, attrName string) error {
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok || slot.Kind() != heap.KindInstance {
		return nil
	}
	inst := slot.Payload().(*heap.Instance)
	ic := classOf(inst.Class)
	fn, ok := ic.Dispatch[heap.SlotSetName]
	if !ok {
		return nil
	}
	_, err := caller.CallValue(fn, []values.Value{v, values.Ref(owner), heapStr(caller, attrName)})
	return err
}

// callInitSubclass walks the class's bases (not itself) looking for the
// nearest __init_subclass__ and invokes it with the new class as the
// implicit receiver, matching single dispatch to the closest ancestor
// that defines the hook.
func callInitSubclass(caller Caller, cls *heap.Slot) error {
	c := classOf(cls)
	for _, ancestor := range c.MRO[1:] {
		ac := classOf(ancestor)
		if fn, ok := ac.Dispatch[heap.SlotInitSubclass]; ok {
			_, err := caller.CallValue(fn, []values.Value{values.Ref(cls)})
			return err
		}
	}
	return nil
}

// ClassGetItem dispatches __class_getitem__ for generic-alias subscript
// syntax on a class itself (e.g. a guest equivalent of List[int]).
func ClassGetItem(caller Caller, cls *heap.Slot, key values.Value) (values.Value, bool, error) {
	c := classOf(cls)
	fn, ok := c.Dispatch[heap.SlotClassGetItem]
	if !ok {
		return values.Value{}, false, nil
	}
	v, err := caller.CallValue(fn, []values.Value{values.Ref(cls), key})
	return v, true, err
}

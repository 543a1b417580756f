package object

import "github.com/wudi/serpent/heap"
import "github.com/wudi/serpent/values"

// Caller is the minimal service object-model algorithms need to invoke a
// dunder method without importing the vm package (the same cycle-breaking
// technique as the teacher's registry.BuiltinCallContext): given a
// callable value and positional args, produce a result or an error.
type Caller interface {
	CallValue(callable values.Value, args []values.Value) (values.Value, error)
}

// lookupClassAttr searches a class's own MRO (not instance dict) for name,
// returning the defining class alongside the found value so callers can
// distinguish data descriptors from plain class attributes.
func lookupClassAttr(cls *heap.Slot, name string) (values.Value, *heap.Slot, bool) {
	c := classOf(cls)
	for _, ancestor := range c.MRO {
		ac := classOf(ancestor)
		if v, ok := ac.Dict[name]; ok {
			return v, ancestor, true
		}
	}
	return values.Value{}, nil, false
}

func isDataDescriptor(cls *heap.Slot, v values.Value) bool {
	if !v.IsRef() {
		return false
	}
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok || slot.Kind() != heap.KindInstance {
		return false
	}
	inst := slot.Payload().(*heap.Instance)
	ic := classOf(inst.Class)
	_, hasGet := ic.Dispatch[heap.SlotGet]
	_, hasSet := ic.Dispatch[heap.SlotSet]
	return hasGet && hasSet
}

func isNonDataDescriptor(cls *heap.Slot, v values.Value) bool {
	if !v.IsRef() {
		return false
	}
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok || slot.Kind() != heap.KindInstance {
		return false
	}
	inst := slot.Payload().(*heap.Instance)
	ic := classOf(inst.Class)
	_, hasGet := ic.Dispatch[heap.SlotGet]
	return hasGet
}

// GetAttr implements the guest attribute lookup order (spec §3.2
// "Attribute resolution"): __getattribute__ override short-circuits
// everything; otherwise data descriptors found on the type win over the
// instance dict, which wins over non-data descriptors/plain class
// attributes, which fall back to __getattr__ if still unresolved.
func GetAttr(caller Caller, recv values.Value, name string) (values.Value, error, bool) {
	slot, ok := recv.RefHandle().(*heap.Slot)
	if !ok || slot.Kind() != heap.KindInstance {
		return values.Value{}, nil, false
	}
	inst := slot.Payload().(*heap.Instance)
	ic := classOf(inst.Class)

	if fn, ok := ic.Dispatch[heap.SlotGetAttribute]; ok {
		v, err := caller.CallValue(fn, []values.Value{recv, heapStr(caller, name)})
		return v, err, true
	}

	if classAttr, defOn, found := lookupClassAttr(inst.Class, name); found && isDataDescriptor(inst.Class, classAttr) {
		v, err := invokeGet(caller, classAttr, recv, defOn)
		return v, err, true
	}

	if v, ok := inst.Get(name); ok {
		return v, nil, true
	}

	if classAttr, _, found := lookupClassAttr(inst.Class, name); found {
		if isNonDataDescriptor(inst.Class, classAttr) {
			v, err := invokeGet(caller, classAttr, recv, inst.Class)
			return v, err, true
		}
		if fnSlot, ok := classAttr.RefHandle().(*heap.Slot); ok && fnSlot.Kind() == heap.KindFunction {
			caller2, ok := caller.(interface {
				BindMethod(fn *heap.Slot, self values.Value) values.Value
			})
			if ok {
				return caller2.BindMethod(fnSlot, recv), nil, true
			}
		}
		return classAttr, nil, true
	}

	if fn, ok := ic.Dispatch[heap.SlotGetAttr]; ok {
		v, err := caller.CallValue(fn, []values.Value{recv, heapStr(caller, name)})
		return v, err, true
	}

	return values.Value{}, nil, false
}

func invokeGet(caller Caller, descriptor, instance values.Value, owner *heap.Slot) (values.Value, error) {
	dslot, ok := descriptor.RefHandle().(*heap.Slot)
	if !ok {
		return descriptor, nil
	}
	dc := classOf(dslot.Payload().(*heap.Instance).Class)
	getFn, ok := dc.Dispatch[heap.SlotGet]
	if !ok {
		return descriptor, nil
	}
	return caller.CallValue(getFn, []values.Value{descriptor, instance, values.Ref(owner)})
}

// SetAttr implements attribute assignment: a __setattr__ override on the
// class takes it first; otherwise a data descriptor's __set__ wins,
// otherwise the value lands directly in the instance dict.
func SetAttr(caller Caller, recv values.Value, name string, v values.Value) error {
	slot, ok := recv.RefHandle().(*heap.Slot)
	if !ok || slot.Kind() != heap.KindInstance {
		return nil
	}
	inst := slot.Payload().(*heap.Instance)
	ic := classOf(inst.Class)

	if setFn, ok := ic.Dispatch[heap.SlotSetAttr]; ok {
		_, err := caller.CallValue(setFn, []values.Value{recv, heapStr(caller, name), v})
		return err
	}

	if classAttr, _, found := lookupClassAttr(inst.Class, name); found && isDataDescriptor(inst.Class, classAttr) {
		dslot := classAttr.RefHandle().(*heap.Slot)
		dc := classOf(dslot.Payload().(*heap.Instance).Class)
		if setFn, ok := dc.Dispatch[heap.SlotSet]; ok {
			_, err := caller.CallValue(setFn, []values.Value{classAttr, recv, v})
			return err
		}
	}

	inst.Set(name, v)
	return nil
}

// heapStr is a small indirection so attr.go does not need its own
// *heap.Heap handle; callers that need __getattr__/__getattribute__ pass
// a Caller that also knows how to intern the attribute name as a guest
// string (the vm's execution context, which already owns the heap).
func heapStr(caller Caller, name string) values.Value {
	if sc, ok := caller.(interface{ InternString(string) values.Value }); ok {
		return sc.InternString(name)
	}
	return values.None()
}

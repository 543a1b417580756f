package heap

import (
	"github.com/wudi/serpent/values"
)

// HashPolicy resolves a type's hashability (spec §3.4): hashable with an
// explicit __hash__, inherited from a base, or explicitly unhashable (a
// type defines __eq__ without __hash__, which per the "eq without hash
// makes subclass unhashable" rule forbids hashing unless __hash__ is
// re-declared).
type HashPolicy byte

const (
	HashInherited HashPolicy = iota
	HashExplicit
	HashForbidden
)

// Slot-id constants for the sparse dunder dispatch table (spec §9 "Dynamic
// dispatch via dunders"): rather than one big vtable per type, each Class
// keeps a sparse map of these slot ids to the function that implements
// them, populated by MRO merging at class-creation time. The object
// package owns the algorithms that populate and consult this map; heap
// only owns the storage.
type DunderSlot int

const (
	SlotInit DunderSlot = iota
	SlotNew
	SlotCall
	SlotRepr
	SlotStr
	SlotHash
	SlotEq
	SlotNe
	SlotLt
	SlotLe
	SlotGt
	SlotGe
	SlotBool
	SlotLen
	SlotIter
	SlotNext
	SlotGetItem
	SlotSetItem
	SlotDelItem
	SlotContains
	SlotGetAttr
	SlotGetAttribute
	SlotSetAttr
	SlotDelAttr
	SlotEnter
	SlotExit
	SlotGet   // descriptor __get__
	SlotSet   // descriptor __set__
	SlotAdd
	SlotRAdd
	SlotSub
	SlotRSub
	SlotMul
	SlotRMul
	SlotTrueDiv
	SlotRTrueDiv
	SlotFloorDiv
	SlotRFloorDiv
	SlotMod
	SlotRMod
	SlotPow
	SlotRPow
	SlotIAdd
	SlotISub
	SlotIMul
	SlotInitSubclass
	SlotSetName
	SlotClassGetItem
	dunderSlotCount
)

// Class is the type object: name, MRO, dict, and hash policy (spec §3.2).
// MRO is stored pre-linearized (C3) by the object package at class-
// creation time; the dispatch map is the result of merging every base's
// slots in MRO order, nearest ancestor wins.
type Class struct {
	Name       string
	Bases      []*Slot // base Class slots, declaration order
	MRO        []*Slot // C3-linearized, self first
	Dict       map[string]values.Value
	Slots      []string // __slots__ names, if the class restricts instance attrs
	HashPolicy HashPolicy
	Dispatch   map[DunderSlot]values.Value // populated by object.BuildDispatch
	Metaclass  *Slot
}

func (h *Heap) NewClass(name string, bases []*Slot) values.Value {
	return h.New(KindClass, &Class{
		Name:     name,
		Bases:    bases,
		Dict:     make(map[string]values.Value),
		Dispatch: make(map[DunderSlot]values.Value),
	})
}

// Instance is a guest object: a reference to its type, plus either a dict
// (default) or a fixed slot array (when the class declares __slots__).
type Instance struct {
	Class *Slot
	Dict  map[string]values.Value
	Slots []values.Value
}

func (h *Heap) NewInstance(class *Slot) values.Value {
	atomicIncrefSlot(class)
	return h.New(KindInstance, &Instance{Class: class, Dict: make(map[string]values.Value)})
}

func (i *Instance) Get(name string) (values.Value, bool) {
	v, ok := i.Dict[name]
	return v, ok
}

func (i *Instance) Set(name string, v values.Value) {
	Incref(v)
	if old, ok := i.Dict[name]; ok {
		Decref(old)
	}
	i.Dict[name] = v
}

func (i *Instance) Delete(name string) bool {
	old, ok := i.Dict[name]
	if !ok {
		return false
	}
	Decref(old)
	delete(i.Dict, name)
	return true
}

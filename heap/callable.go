package heap

import (
	"github.com/wudi/serpent/values"
)

// Cell is the shared box a closure captures (spec §9 "Closures"): the
// outer frame creates one per captured name at function-creation time,
// and every inner function that closes over it holds a strong reference
// to the same Cell, so reads/writes through nonlocal stay consistent.
type Cell struct {
	Value values.Value
}

func (h *Heap) NewCell(v values.Value) *Slot {
	Incref(v)
	ref := h.New(KindCell, &Cell{Value: v})
	slot, _ := ref.RefHandle().(*Slot)
	return slot
}

func CellGet(c *Slot) values.Value {
	return c.payload.(*Cell).Value
}

func CellSet(c *Slot, v values.Value) {
	cell := c.payload.(*Cell)
	Incref(v)
	Decref(cell.Value)
	cell.Value = v
}

// CodeRef is the minimal view of a code object the heap package needs,
// satisfied by *code.Object (defined in the sibling code package, which
// heap does not import to avoid a cycle with the frame package's code
// dependency — see code.Object for the full compiled-artifact contract).
type CodeRef interface {
	QualifiedName() string
	SourceID() string
}

// Function is a guest function value: its compiled code, default
// arguments, captured free-variable cells, and qualified name (spec §3.2).
type Function struct {
	Code        CodeRef
	Defaults    []values.Value
	FreeCells   []*Slot
	QualName    string
	IsGenerator bool
	IsAsync     bool
}

func (h *Heap) NewFunction(code CodeRef, defaults []values.Value, free []*Slot, qualName string, isGen, isAsync bool) values.Value {
	for _, d := range defaults {
		Incref(d)
	}
	for _, c := range free {
		atomicIncrefSlot(c)
	}
	return h.New(KindFunction, &Function{
		Code: code, Defaults: defaults, FreeCells: free,
		QualName: qualName, IsGenerator: isGen, IsAsync: isAsync,
	})
}

func atomicIncrefSlot(s *Slot) {
	if s == nil {
		return
	}
	Incref(values.Ref(s))
}

// BoundMethod pairs a function with its bound receiver.
type BoundMethod struct {
	Func *Slot
	Self values.Value
}

func (h *Heap) NewBoundMethod(fn *Slot, self values.Value) values.Value {
	atomicIncrefSlot(fn)
	Incref(self)
	return h.New(KindBoundMethod, &BoundMethod{Func: fn, Self: self})
}

// Module is a namespace: name plus a mapping of top-level bindings.
type Module struct {
	Name      string
	Namespace map[string]values.Value
}

func (h *Heap) NewModule(name string) values.Value {
	return h.New(KindModule, &Module{Name: name, Namespace: make(map[string]values.Value)})
}

// Package heap is the reference-counted object heap backing every
// non-immediate values.Value. Every container element, frame local,
// captured cell, instance attribute, and exception field that holds a
// Value contributes exactly one strong count to the Slot it points at
// (spec §3.2 "Ownership"); freeing a Slot decrements every reference it
// transitively held. Cycles are legal (spec §9) and are only reclaimed by
// the tracing Collect pass, never implicitly between instructions.
package heap

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/wudi/serpent/values"
)

// Kind identifies the payload a Slot carries.
type Kind byte

const (
	KindString Kind = iota
	KindBytes
	KindByteArray
	KindTuple
	KindList
	KindDict
	KindSet
	KindFrozenSet
	KindFunction
	KindBoundMethod
	KindClass
	KindInstance
	KindGenerator
	KindTraceback
	KindException
	KindExceptionGroup
	KindIterator
	KindModule
	KindCell
	KindNative
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "str"
	case KindBytes:
		return "bytes"
	case KindByteArray:
		return "bytearray"
	case KindTuple:
		return "tuple"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	case KindSet:
		return "set"
	case KindFrozenSet:
		return "frozenset"
	case KindFunction:
		return "function"
	case KindBoundMethod:
		return "bound_method"
	case KindClass:
		return "type"
	case KindInstance:
		return "instance"
	case KindGenerator:
		return "generator"
	case KindTraceback:
		return "traceback"
	case KindException:
		return "exception"
	case KindExceptionGroup:
		return "exception_group"
	case KindIterator:
		return "iterator"
	case KindModule:
		return "module"
	case KindCell:
		return "cell"
	case KindNative:
		return "native_function"
	default:
		return "unknown"
	}
}

// Slot is one heap entry: fixed-size metadata (kind, refcount, weak-ref
// list, debug id) addressing a typed Payload.
type Slot struct {
	id      uint64
	debugID uuid.UUID
	kind    Kind
	strong  int64
	payload interface{}

	weakMu sync.Mutex
	weaks  []*WeakRef
	freed  bool

	owner *Heap
}

// HeapID and HeapTypeName satisfy values.RefHandle.
func (s *Slot) HeapID() uint64         { return s.id }
func (s *Slot) HeapTypeName() string   { return s.kind.String() }
func (s *Slot) Kind() Kind             { return s.kind }
func (s *Slot) Payload() interface{}   { return s.payload }
func (s *Slot) DebugID() uuid.UUID     { return s.debugID }
func (s *Slot) Strong() int64          { return atomic.LoadInt64(&s.strong) }

// WeakRef resolves to the owning Slot's value only while the slot is alive
// (spec §4.1): once freed, Resolve reports ok=false.
type WeakRef struct {
	slot *Slot
}

func (w *WeakRef) Resolve() (*Slot, bool) {
	if w.slot == nil {
		return nil, false
	}
	w.slot.weakMu.Lock()
	defer w.slot.weakMu.Unlock()
	if w.slot.freed {
		return nil, false
	}
	return w.slot, true
}

// Heap is the registry of live slots. It is not a garbage collector in the
// tracing sense by default — slots are freed the instant their strong
// count drops to zero (spec §3.4) — but it also exposes Collect, a
// mark-sweep pass over the registry for breaking cycles on request or at
// interpreter teardown (spec §9).
type Heap struct {
	mu       sync.Mutex
	nextID   uint64
	live     map[uint64]*Slot
	liveBytes int64
}

func NewHeap() *Heap {
	return &Heap{live: make(map[uint64]*Slot)}
}

// LiveBytes reports the heap's notion of live payload size, used by the
// accountant (spec §4.8) to enforce the memory ceiling. Individual
// container constructors call AccountBytes to keep this figure current;
// it is advisory bookkeeping, not a precise allocator accounting pass.
func (h *Heap) LiveBytes() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.liveBytes
}

func (h *Heap) AccountBytes(delta int64) {
	h.mu.Lock()
	h.liveBytes += delta
	h.mu.Unlock()
}

// New registers a fresh slot with one strong reference and returns the
// values.Value referencing it.
func (h *Heap) New(kind Kind, payload interface{}) values.Value {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	slot := &Slot{
		id:      id,
		debugID: uuid.New(),
		kind:    kind,
		strong:  1,
		payload: payload,
		owner:   h,
	}
	h.live[id] = slot
	h.mu.Unlock()
	return values.Ref(slot)
}

// Incref increments a slot's strong count. Call this whenever a new owner
// (local, stack slot, container element, captured cell, attribute,
// exception field) begins holding the reference.
func Incref(v values.Value) {
	if !v.IsRef() {
		return
	}
	slot, ok := v.RefHandle().(*Slot)
	if !ok || slot == nil {
		return
	}
	atomic.AddInt64(&slot.strong, 1)
}

// Decref decrements a slot's strong count, freeing it (and transitively
// decref'ing everything it held) the instant the count reaches zero (spec
// §3.4).
func Decref(v values.Value) {
	if !v.IsRef() {
		return
	}
	slot, ok := v.RefHandle().(*Slot)
	if !ok || slot == nil {
		return
	}
	if atomic.AddInt64(&slot.strong, -1) == 0 {
		free(slot)
	}
}

func free(s *Slot) {
	s.weakMu.Lock()
	s.freed = true
	s.weakMu.Unlock()

	for _, child := range children(s) {
		Decref(child)
	}

	if s.owner != nil {
		s.owner.mu.Lock()
		delete(s.owner.live, s.id)
		s.owner.mu.Unlock()
	}
}

// children enumerates every Value a slot's payload transitively holds, so
// free() can decref them. Every container/composite payload type must be
// listed here or its elements leak (a real defect, not merely an
// inefficiency) once cycles are involved.
func children(s *Slot) []values.Value {
	switch p := s.payload.(type) {
	case *Tuple:
		return p.Items
	case *List:
		return p.Items
	case *Dict:
		out := make([]values.Value, 0, len(p.Order)*2)
		for _, k := range p.Order {
			ent := p.entries[k]
			out = append(out, ent.Key, ent.Value)
		}
		return out
	case *Set:
		out := make([]values.Value, 0, len(p.Order))
		for _, k := range p.Order {
			out = append(out, p.entries[k].Key)
		}
		return out
	case *Function:
		out := append([]values.Value{}, p.Defaults...)
		for _, c := range p.FreeCells {
			out = append(out, values.Ref(c))
		}
		return out
	case *BoundMethod:
		return []values.Value{p.Self, values.Ref(p.Func)}
	case *Class:
		out := make([]values.Value, 0, len(p.Dict))
		for _, v := range p.Dict {
			out = append(out, v)
		}
		return out
	case *Instance:
		out := make([]values.Value, 0, len(p.Dict))
		for _, v := range p.Dict {
			out = append(out, v)
		}
		return out
	case *Exception:
		out := make([]values.Value, 0, len(p.Properties)+3)
		for _, v := range p.Properties {
			out = append(out, v)
		}
		if p.Cause != nil {
			out = append(out, *p.Cause)
		}
		if p.Context != nil {
			out = append(out, *p.Context)
		}
		if p.Traceback != nil {
			out = append(out, values.Ref(p.Traceback))
		}
		return out
	case *ExceptionGroup:
		return p.Exceptions
	case *Cell:
		return []values.Value{p.Value}
	case *Iterator:
		return p.Roots
	case *Generator:
		if p.Roots == nil {
			return nil
		}
		return p.Roots()
	case *Module:
		out := make([]values.Value, 0, len(p.Namespace))
		for _, v := range p.Namespace {
			out = append(out, v)
		}
		return out
	default:
		return nil
	}
}

// NewWeak returns a weak reference to v's slot, or nil if v is not a heap
// reference.
func NewWeak(v values.Value) *WeakRef {
	if !v.IsRef() {
		return nil
	}
	slot, ok := v.RefHandle().(*Slot)
	if !ok {
		return nil
	}
	slot.weakMu.Lock()
	w := &WeakRef{slot: slot}
	slot.weaks = append(slot.weaks, w)
	slot.weakMu.Unlock()
	return w
}

// Collect runs a tracing mark-sweep pass over every currently-registered
// slot, given the set of externally-reachable roots (frame locals/stack,
// module namespaces, cached exceptions). Anything unreached is freed
// regardless of its strong count, reclaiming reference cycles (spec §9).
// The core performs no automatic collection between instructions; the
// host (or interpreter teardown) must invoke this explicitly.
func (h *Heap) Collect(roots []values.Value) (collected int) {
	h.mu.Lock()
	allIDs := make(map[uint64]*Slot, len(h.live))
	for id, s := range h.live {
		allIDs[id] = s
	}
	h.mu.Unlock()

	reached := make(map[uint64]bool, len(allIDs))
	var mark func(v values.Value)
	mark = func(v values.Value) {
		if !v.IsRef() {
			return
		}
		slot, ok := v.RefHandle().(*Slot)
		if !ok || slot == nil {
			return
		}
		if reached[slot.id] {
			return
		}
		reached[slot.id] = true
		for _, child := range children(slot) {
			mark(child)
		}
	}
	for _, r := range roots {
		mark(r)
	}

	for id, slot := range allIDs {
		if !reached[id] {
			// Break the cycle's internal pointers without recursing through
			// children() again (they may point at other garbage slots whose
			// removal we are already iterating), then drop the slot.
			h.mu.Lock()
			delete(h.live, id)
			h.mu.Unlock()
			slot.weakMu.Lock()
			slot.freed = true
			slot.weakMu.Unlock()
			collected++
		}
	}
	return collected
}

func (s *Slot) String() string {
	return fmt.Sprintf("Slot(%s#%d strong=%d)", s.kind, s.id, s.Strong())
}

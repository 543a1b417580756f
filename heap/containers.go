package heap

import (
	"github.com/wudi/serpent/values"
)

// Tuple is the immutable ordered sequence.
type Tuple struct {
	Items []values.Value
}

func (h *Heap) NewTuple(items []values.Value) values.Value {
	for _, it := range items {
		Incref(it)
	}
	h.AccountBytes(int64(len(items)) * 16)
	return h.New(KindTuple, &Tuple{Items: items})
}

// List is the mutable ordered sequence.
type List struct {
	Items []values.Value
}

func (h *Heap) NewList(items []values.Value) values.Value {
	for _, it := range items {
		Incref(it)
	}
	h.AccountBytes(int64(len(items)) * 16)
	return h.New(KindList, &List{Items: append([]values.Value(nil), items...)})
}

func (l *List) Append(v values.Value) {
	Incref(v)
	l.Items = append(l.Items, v)
}

func (l *List) Pop() (values.Value, bool) {
	if len(l.Items) == 0 {
		return values.None(), false
	}
	n := len(l.Items) - 1
	v := l.Items[n]
	l.Items = l.Items[:n]
	return v, true
}

// MapKey is a hashable, comparable projection of a Value suitable for use
// as a Go map key, used by Dict/Set to back the "ordered mapping by
// insertion" requirement (spec §3.2): the Order slice carries the real
// insertion order, the Go map is only an index into it.
type MapKey struct {
	kind byte
	i    int64
	f    float64
	s    string
	ref  uint64
}

// KeyOf derives a MapKey for a value usable as a dict/set key, honoring
// the cross-type hash-equality invariant (hash(1) == hash(1.0) ==
// hash(True), spec §3.1): numeric keys that compare equal collapse to the
// same MapKey regardless of which numeric kind produced them.
func KeyOf(v values.Value) (MapKey, bool) {
	switch {
	case v.IsBool():
		if v.Bool() {
			return MapKey{kind: 'n', i: 1}, true
		}
		return MapKey{kind: 'n', i: 0}, true
	case v.IsMachineInt():
		return MapKey{kind: 'n', i: v.Int()}, true
	case v.IsBigInt():
		if v.Big().IsInt64() {
			return MapKey{kind: 'n', i: v.Big().Int64()}, true
		}
		return MapKey{kind: 's', s: "big:" + v.Big().String()}, true
	case v.IsFloat():
		f := v.Float()
		if f == float64(int64(f)) {
			return MapKey{kind: 'n', i: int64(f)}, true
		}
		return MapKey{kind: 'f', f: f}, true
	case v.IsRef():
		if s, ok := AsStr(v); ok {
			return MapKey{kind: 's', s: s.Data}, true
		}
		if slot, ok := v.RefHandle().(*Slot); ok {
			return MapKey{kind: 'r', ref: slot.id}, true
		}
	case v.IsNone():
		return MapKey{kind: '0'}, true
	}
	return MapKey{}, false
}

type dictEntry struct {
	Key   values.Value
	Value values.Value
}

// Dict is the ordered mapping by insertion (spec §3.2). Order holds keys
// in insertion order; re-inserting an existing key updates its Value but
// does not move its position, matching the guest language's dict
// semantics.
type Dict struct {
	entries map[MapKey]dictEntry
	Order   []MapKey
}

func (h *Heap) NewDict() values.Value {
	return h.New(KindDict, &Dict{entries: make(map[MapKey]dictEntry)})
}

func (d *Dict) Len() int { return len(d.Order) }

func (d *Dict) Get(k values.Value) (values.Value, bool) {
	mk, ok := KeyOf(k)
	if !ok {
		return values.None(), false
	}
	ent, ok := d.entries[mk]
	if !ok {
		return values.None(), false
	}
	return ent.Value, true
}

func (d *Dict) Set(k, v values.Value) {
	mk, ok := KeyOf(k)
	if !ok {
		return
	}
	if old, exists := d.entries[mk]; exists {
		Decref(old.Value)
		Incref(v)
		d.entries[mk] = dictEntry{Key: old.Key, Value: v}
		return
	}
	d.Order = append(d.Order, mk)
	Incref(k)
	Incref(v)
	d.entries[mk] = dictEntry{Key: k, Value: v}
}

func (d *Dict) Delete(k values.Value) bool {
	mk, ok := KeyOf(k)
	if !ok {
		return false
	}
	ent, exists := d.entries[mk]
	if !exists {
		return false
	}
	Decref(ent.Key)
	Decref(ent.Value)
	delete(d.entries, mk)
	for i, o := range d.Order {
		if o == mk {
			d.Order = append(d.Order[:i], d.Order[i+1:]...)
			break
		}
	}
	return true
}

// Items returns entries in insertion order.
func (d *Dict) Items() []dictEntry {
	out := make([]dictEntry, 0, len(d.Order))
	for _, mk := range d.Order {
		out = append(out, d.entries[mk])
	}
	return out
}

type setEntry struct {
	Key values.Value
}

// Set (mutable) / FrozenSet (immutable) share the same backing structure.
// Insertion order is tracked for deterministic iteration (spec §9:
// "insertion order is not observable but must be stable"), even though
// the guest language makes no promise about it.
type Set struct {
	entries map[MapKey]setEntry
	Order   []MapKey
	frozen  bool
}

func (h *Heap) NewSet(items []values.Value) values.Value {
	s := &Set{entries: make(map[MapKey]setEntry)}
	for _, it := range items {
		s.Add(it)
	}
	return h.New(KindSet, s)
}

func (h *Heap) NewFrozenSet(items []values.Value) values.Value {
	s := &Set{entries: make(map[MapKey]setEntry), frozen: true}
	for _, it := range items {
		s.Add(it)
	}
	return h.New(KindFrozenSet, s)
}

func (s *Set) Add(v values.Value) bool {
	mk, ok := KeyOf(v)
	if !ok {
		return false
	}
	if _, exists := s.entries[mk]; exists {
		return false
	}
	Incref(v)
	s.entries[mk] = setEntry{Key: v}
	s.Order = append(s.Order, mk)
	return true
}

func (s *Set) Contains(v values.Value) bool {
	mk, ok := KeyOf(v)
	if !ok {
		return false
	}
	_, exists := s.entries[mk]
	return exists
}

func (s *Set) Len() int { return len(s.Order) }

func (s *Set) Items() []values.Value {
	out := make([]values.Value, 0, len(s.Order))
	for _, mk := range s.Order {
		out = append(out, s.entries[mk].Key)
	}
	return out
}

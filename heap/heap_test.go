package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wudi/serpent/values"
)

func TestRefcount_FreesAtZero(t *testing.T) {
	h := NewHeap()
	v := h.New(KindString, &Str{Data: "x"})
	slot := v.RefHandle().(*Slot)
	assert.Equal(t, int64(1), slot.Strong())

	Incref(v)
	assert.Equal(t, int64(2), slot.Strong())

	Decref(v)
	assert.Equal(t, int64(1), slot.Strong())

	Decref(v)
	_, alive := h.live[slot.id]
	assert.False(t, alive)
}

func TestDecref_Transitive(t *testing.T) {
	h := NewHeap()
	inner := h.New(KindString, &Str{Data: "inner"})
	innerSlot := inner.RefHandle().(*Slot)

	outer := h.NewList([]values.Value{inner})
	Decref(inner) // list now holds the only strong ref

	Decref(outer)
	_, alive := h.live[innerSlot.id]
	assert.False(t, alive, "freeing the list should transitively decref its elements")
}

func TestWeakRef_ResolvesUntilFreed(t *testing.T) {
	h := NewHeap()
	v := h.New(KindString, &Str{Data: "x"})
	w := NewWeak(v)

	_, ok := w.Resolve()
	assert.True(t, ok)

	Decref(v)
	_, ok = w.Resolve()
	assert.False(t, ok)
}

func TestCollect_BreaksCycle(t *testing.T) {
	h := NewHeap()
	a := h.NewList(nil)
	b := h.NewList(nil)

	aSlot := a.RefHandle().(*Slot)
	bSlot := b.RefHandle().(*Slot)

	aSlot.payload.(*List).Append(b)
	bSlot.payload.(*List).Append(a)

	// Drop the only externally-held references; the cycle keeps both alive
	// via reference counting alone.
	Decref(a)
	Decref(b)

	_, aAlive := h.live[aSlot.id]
	_, bAlive := h.live[bSlot.id]
	assert.True(t, aAlive)
	assert.True(t, bAlive)

	collected := h.Collect(nil)
	assert.Equal(t, 2, collected)
	_, aAlive = h.live[aSlot.id]
	_, bAlive = h.live[bSlot.id]
	assert.False(t, aAlive)
	assert.False(t, bAlive)
}

func TestCollect_KeepsReachableRoots(t *testing.T) {
	h := NewHeap()
	v := h.New(KindString, &Str{Data: "rooted"})
	slot := v.RefHandle().(*Slot)

	collected := h.Collect([]values.Value{v})
	assert.Equal(t, 0, collected)
	_, alive := h.live[slot.id]
	assert.True(t, alive)
}

func TestDict_InsertionOrderAndCrossKindKeys(t *testing.T) {
	h := NewHeap()
	d := h.New(KindDict, &Dict{entries: make(map[MapKey]dictEntry)})
	dict := d.Payload().(*Dict)

	dict.Set(values.Int(1), values.Int(100))
	dict.Set(values.Bool(true), values.Int(200)) // same key as Int(1)
	dict.Set(values.Int(2), values.Int(300))

	assert.Equal(t, 2, dict.Len())
	got, ok := dict.Get(values.Int(1))
	assert.True(t, ok)
	assert.Equal(t, int64(200), got.Int())

	items := dict.Items()
	assert.Equal(t, int64(1), items[0].Key.Int())
	assert.Equal(t, int64(2), items[1].Key.Int())
}

func TestSet_DedupesByValueEquality(t *testing.T) {
	h := NewHeap()
	s := h.NewSet([]values.Value{values.Int(1), values.Float(1.0), values.Bool(true), values.Int(2)})
	set := s.Payload().(*Set)
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains(values.Int(1)))
	assert.True(t, set.Contains(values.Int(2)))
}

package heap

import (
	"github.com/wudi/serpent/values"
)

// IterNextFunc advances an iterator view, returning (value, ok). ok=false
// signals exhaustion (the dispatcher surfaces this as the stop-iteration
// kind, spec §7).
type IterNextFunc func() (values.Value, bool)

// Iterator is the generic heap payload backing every built-in iterator
// view (list/dict/set iterators, zip, enumerate, reversed, range, map,
// filter — spec §3.2). Concrete constructors below close over the
// relevant state in Next; Roots holds every heap value the closure keeps
// alive (the source container, any wrapped inner iterator's owner) so the
// reference-counted heap and the cycle collector can both see through the
// closure the way they see through any other composite payload.
type Iterator struct {
	Kind  string
	Next  IterNextFunc
	Roots []values.Value
}

// NewIterator allocates an iterator view. roots lists every heap value
// the closure captures and must keep alive for the iterator's lifetime;
// pass nil for iterators that only close over already-rooted Go slices
// (e.g. a pre-copied snapshot) rather than a live container.
func (h *Heap) NewIterator(kind string, roots []values.Value, next IterNextFunc) values.Value {
	for _, r := range roots {
		Incref(r)
	}
	return h.New(KindIterator, &Iterator{Kind: kind, Next: next, Roots: roots})
}

// NewListIterator walks a List's live backing slice by index, so mutating
// the list mid-iteration is visible the same way CPython's list_iterator
// behaves (it reads Items[idx] fresh each call, not a snapshot). source is
// the list's own heap value, kept alive for as long as the iterator is.
func (h *Heap) NewListIterator(source values.Value, l *List) values.Value {
	idx := 0
	return h.NewIterator("list_iterator", []values.Value{source}, func() (values.Value, bool) {
		if idx >= len(l.Items) {
			return values.None(), false
		}
		v := l.Items[idx]
		idx++
		return v, true
	})
}

func (h *Heap) NewTupleIterator(source values.Value, t *Tuple) values.Value {
	idx := 0
	return h.NewIterator("tuple_iterator", []values.Value{source}, func() (values.Value, bool) {
		if idx >= len(t.Items) {
			return values.None(), false
		}
		v := t.Items[idx]
		idx++
		return v, true
	})
}

// NewDictKeyIterator snapshots the key order at creation time and walks
// the snapshot. Mutation during iteration is not detected: no
// RuntimeError is raised, and a snapshotted key that has since been
// deleted ends the iteration.
func (h *Heap) NewDictKeyIterator(source values.Value, d *Dict) values.Value {
	order := append([]MapKey(nil), d.Order...)
	idx := 0
	return h.NewIterator("dict_keyiterator", []values.Value{source}, func() (values.Value, bool) {
		if idx >= len(order) {
			return values.None(), false
		}
		ent, ok := d.entries[order[idx]]
		idx++
		if !ok {
			return values.None(), false
		}
		return ent.Key, true
	})
}

func (h *Heap) NewSetIterator(source values.Value, s *Set) values.Value {
	order := append([]MapKey(nil), s.Order...)
	idx := 0
	return h.NewIterator("set_iterator", []values.Value{source}, func() (values.Value, bool) {
		if idx >= len(order) {
			return values.None(), false
		}
		ent, ok := s.entries[order[idx]]
		idx++
		if !ok {
			return values.None(), false
		}
		return ent.Key, true
	})
}

// NewRangeIterator backs the guest range(...) built-in. Bounds are plain
// machine ints, so this iterator has nothing to root.
func (h *Heap) NewRangeIterator(start, stop, step int64) values.Value {
	if step == 0 {
		step = 1
	}
	cur := start
	return h.NewIterator("range_iterator", nil, func() (values.Value, bool) {
		if (step > 0 && cur >= stop) || (step < 0 && cur <= stop) {
			return values.None(), false
		}
		v := values.Int(cur)
		cur += step
		return v, true
	})
}

// NewEnumerateIterator wraps another iterator's values with a running
// index, yielding (index, value) pairs via the supplied pair constructor
// (a 2-tuple, built by the caller so heap need not depend on object-model
// tuple-construction helpers). innerVal is the wrapped iterator's own
// heap value, kept alive for as long as this one is.
func (h *Heap) NewEnumerateIterator(innerVal values.Value, inner *Iterator, start int64, pair func(idx values.Value, v values.Value) values.Value) values.Value {
	idx := start
	return h.NewIterator("enumerate", []values.Value{innerVal}, func() (values.Value, bool) {
		v, ok := inner.Next()
		if !ok {
			return values.None(), false
		}
		p := pair(values.Int(idx), v)
		idx++
		return p, true
	})
}

// NewZipIterator advances every source in lockstep and reports exhaustion
// (ok=false) the moment any one source is exhausted, matching zip's
// shortest-iterable behavior. sourceVals are the wrapped iterators' own
// heap values, kept alive alongside sources.
func (h *Heap) NewZipIterator(sourceVals []values.Value, sources []*Iterator, pack func(items []values.Value) values.Value) values.Value {
	return h.NewIterator("zip", sourceVals, func() (values.Value, bool) {
		items := make([]values.Value, 0, len(sources))
		for _, src := range sources {
			v, ok := src.Next()
			if !ok {
				return values.None(), false
			}
			items = append(items, v)
		}
		return pack(items), true
	})
}

// NewReversedIterator walks a pre-materialized slice back to front
// (reversed() over a list/tuple requires random access, which the guest
// protocol satisfies via __len__/__getitem__ or a native sequence). items
// becomes owned by the iterator (each element is rooted, not copied by
// the caller beforehand).
func (h *Heap) NewReversedIterator(items []values.Value) values.Value {
	idx := len(items) - 1
	return h.NewIterator("reversed", items, func() (values.Value, bool) {
		if idx < 0 {
			return values.None(), false
		}
		v := items[idx]
		idx--
		return v, true
	})
}

// NewMapIterator applies fn to each element of an inner iterator lazily.
// innerVal is the wrapped iterator's own heap value.
func (h *Heap) NewMapIterator(innerVal values.Value, inner *Iterator, fn func(values.Value) (values.Value, error)) values.Value {
	var firstErr error
	return h.NewIterator("map", []values.Value{innerVal}, func() (values.Value, bool) {
		if firstErr != nil {
			return values.None(), false
		}
		v, ok := inner.Next()
		if !ok {
			return values.None(), false
		}
		out, err := fn(v)
		if err != nil {
			firstErr = err
			return values.None(), false
		}
		return out, true
	})
}

// NewFilterIterator yields only elements for which pred returns true.
// innerVal is the wrapped iterator's own heap value.
func (h *Heap) NewFilterIterator(innerVal values.Value, inner *Iterator, pred func(values.Value) (bool, error)) values.Value {
	var firstErr error
	return h.NewIterator("filter", []values.Value{innerVal}, func() (values.Value, bool) {
		if firstErr != nil {
			return values.None(), false
		}
		for {
			v, ok := inner.Next()
			if !ok {
				return values.None(), false
			}
			keep, err := pred(v)
			if err != nil {
				firstErr = err
				return values.None(), false
			}
			if keep {
				return v, true
			}
		}
	})
}

package heap

import (
	"sync"

	"github.com/wudi/serpent/values"
)

// Str is the immutable string payload. Short strings may be interned by
// the parser's constant pool or by the engine's own intern table (spec
// §3.2/§4.1); interning must be transparent to guest code ("a string" ==
// "a" + "string" regardless of identity).
type Str struct {
	Data string
}

const internMaxLen = 32

type internTable struct {
	mu      sync.Mutex
	strings map[string]values.Value
}

var interned = &internTable{strings: make(map[string]values.Value)}

// NewString allocates (or returns an interned) string slot.
func (h *Heap) NewString(s string) values.Value {
	if len(s) <= internMaxLen {
		interned.mu.Lock()
		if v, ok := interned.strings[s]; ok {
			interned.mu.Unlock()
			Incref(v)
			return v
		}
		interned.mu.Unlock()
	}
	v := h.New(KindString, &Str{Data: s})
	if len(s) <= internMaxLen {
		interned.mu.Lock()
		if existing, ok := interned.strings[s]; ok {
			interned.mu.Unlock()
			Decref(v)
			Incref(existing)
			return existing
		}
		Incref(v)
		interned.strings[s] = v
		interned.mu.Unlock()
	}
	h.AccountBytes(int64(len(s)))
	return v
}

// Bytes is the immutable bytes payload.
type Bytes struct {
	Data []byte
}

func (h *Heap) NewBytes(b []byte) values.Value {
	h.AccountBytes(int64(len(b)))
	return h.New(KindBytes, &Bytes{Data: append([]byte(nil), b...)})
}

// ByteArray is the mutable counterpart to Bytes.
type ByteArray struct {
	Data []byte
}

func (h *Heap) NewByteArray(b []byte) values.Value {
	h.AccountBytes(int64(len(b)))
	return h.New(KindByteArray, &ByteArray{Data: append([]byte(nil), b...)})
}

func AsStr(v values.Value) (*Str, bool) {
	slot, ok := asSlot(v, KindString)
	if !ok {
		return nil, false
	}
	return slot.payload.(*Str), true
}

func asSlot(v values.Value, want Kind) (*Slot, bool) {
	if !v.IsRef() {
		return nil, false
	}
	slot, ok := v.RefHandle().(*Slot)
	if !ok || slot == nil || slot.kind != want {
		return nil, false
	}
	return slot, true
}

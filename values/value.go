// Package values defines the tagged runtime value representation shared by
// every other package in the engine. A Value is either an immediate
// (none/ellipsis/not-implemented singleton, bool, machine int, float,
// arbitrary-precision int) or a
// Ref pointing at a heap slot owned by the heap package. values itself has
// no notion of reference counting or containers — that is the heap
// package's concern — so that this package can be imported by anything
// (including heap itself) without creating an import cycle.
package values

import (
	"fmt"
	"math"
	"math/big"
)

// Kind is the tag of a Value.
type Kind byte

const (
	KindNone Kind = iota
	KindEllipsis
	KindNotImplemented
	KindBool
	KindInt
	KindBigInt
	KindFloat
	KindRef // heap reference; Data holds a *heap.Slot hidden behind RefHandle
)

// RefHandle is the minimal capability a heap slot reference exposes to the
// values package: identity and a type name for diagnostics. The heap
// package's *Slot satisfies this trivially; keeping the interface here
// (rather than importing heap) is what lets heap import values instead of
// the other way around.
type RefHandle interface {
	HeapID() uint64
	HeapTypeName() string
}

// Value is the tagged union every frame local, operand-stack entry, and
// container element holds.
type Value struct {
	Kind Kind
	b    bool
	i    int64
	f    float64
	big  *big.Int
	ref  RefHandle
}

func None() Value             { return Value{Kind: KindNone} }
func Ellipsis() Value         { return Value{Kind: KindEllipsis} }
func NotImplemented() Value   { return Value{Kind: KindNotImplemented} }
func Bool(b bool) Value       { return Value{Kind: KindBool, b: b} }
func Int(i int64) Value       { return Value{Kind: KindInt, i: i} }
func Float(f float64) Value   { return Value{Kind: KindFloat, f: f} }
func Ref(h RefHandle) Value   { return Value{Kind: KindRef, ref: h} }

// BigIntVal wraps an arbitrary-precision integer. Machine-word arithmetic
// that overflows promotes silently to this representation (spec §9).
func BigIntVal(v *big.Int) Value {
	return Value{Kind: KindBigInt, big: v}
}

func (v Value) IsNone() bool    { return v.Kind == KindNone }
func (v Value) IsBool() bool    { return v.Kind == KindBool }
func (v Value) IsInt() bool     { return v.Kind == KindInt || v.Kind == KindBigInt }
func (v Value) IsMachineInt() bool { return v.Kind == KindInt }
func (v Value) IsBigInt() bool  { return v.Kind == KindBigInt }
func (v Value) IsFloat() bool   { return v.Kind == KindFloat }
func (v Value) IsNumeric() bool { return v.IsInt() || v.IsFloat() || v.Kind == KindBool }
func (v Value) IsRef() bool     { return v.Kind == KindRef }

func (v Value) Bool() bool    { return v.b }
func (v Value) Int() int64    { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Big() *big.Int { return v.big }
func (v Value) RefHandle() RefHandle { return v.ref }

// AsBigInt returns the value widened to *big.Int, regardless of whether it
// is currently stored as a machine int or already big. Used by arithmetic
// paths once an operation has decided promotion is needed.
func (v Value) AsBigInt() *big.Int {
	switch v.Kind {
	case KindBigInt:
		return v.big
	case KindInt:
		return big.NewInt(v.i)
	case KindBool:
		if v.b {
			return big.NewInt(1)
		}
		return big.NewInt(0)
	default:
		return big.NewInt(0)
	}
}

// Truthy implements the guest language's truthiness rule: none and
// not-implemented are false, ellipsis is true, bool is itself, numeric zero is false, and everything else
// defers to the object model's __bool__/__len__ dunders (handled by the
// object package — Truthy here only covers the immediate, dunder-free
// cases and reports ok=false when the caller must consult the object
// model).
func (v Value) Truthy() (result, ok bool) {
	switch v.Kind {
	case KindNone, KindNotImplemented:
		return false, true
	case KindEllipsis:
		return true, true
	case KindBool:
		return v.b, true
	case KindInt:
		return v.i != 0, true
	case KindBigInt:
		return v.big.Sign() != 0, true
	case KindFloat:
		return v.f != 0 && !math.IsNaN(v.f), true
	default:
		return false, false
	}
}

// Hash implements the invariant from spec §3.1: hash(0) == hash(0.0) ==
// hash(False), hash(1) == hash(1.0) == hash(True), and hash(-1) remaps to
// -2 (CPython's reserved "error" sentinel value must never collide with a
// real hash, so -1 is never returned).
func (v Value) Hash() (uint64, bool) {
	switch v.Kind {
	case KindNone:
		return hashRemap(0), true
	case KindBool:
		if v.b {
			return hashRemap(1), true
		}
		return hashRemap(0), true
	case KindInt:
		return hashRemap(uint64(v.i)), true
	case KindBigInt:
		return hashRemap(hashBigInt(v.big)), true
	case KindFloat:
		if v.f == math.Trunc(v.f) && !math.IsInf(v.f, 0) {
			return hashRemap(uint64(int64(v.f))), true
		}
		bits := math.Float64bits(v.f)
		return hashRemap(bits), true
	default:
		return 0, false
	}
}

func hashBigInt(b *big.Int) uint64 {
	if b.IsInt64() {
		return uint64(b.Int64())
	}
	// Fold the magnitude's words; sign only flips the low bit so small
	// negative bigints still land near their positive counterpart's
	// bucket, matching the machine-int folding above closely enough for
	// a hash (not an equality) function.
	var h uint64 = 1469598103934665603 // FNV offset basis
	for _, w := range b.Bits() {
		h ^= uint64(w)
		h *= 1099511628211
	}
	if b.Sign() < 0 {
		h = ^h
	}
	return h
}

// hashRemap applies the "-1 is never a hash" rule: CPython reserves -1 as
// an internal error sentinel, so a value whose natural hash would be -1
// remaps to -2 instead (spec §3.1).
func hashRemap(h uint64) uint64 {
	if int64(h) == -1 {
		return uint64(int64(-2))
	}
	return h
}

func (v Value) String() string {
	switch v.Kind {
	case KindNone:
		return "none"
	case KindEllipsis:
		return "..."
	case KindNotImplemented:
		return "NotImplemented"
	case KindBool:
		if v.b {
			return "True"
		}
		return "False"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindBigInt:
		return v.big.String()
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindRef:
		if v.ref != nil {
			return fmt.Sprintf("<%s>", v.ref.HeapTypeName())
		}
		return "<ref>"
	default:
		return "<?>"
	}
}

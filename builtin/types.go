package builtin

import (
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
)

// primitiveTypes bundles the synthetic Class values standing in for the
// built-in types: spec §9's "polymorphic record" model treats every
// value, guest-defined or primitive, as having a type object reachable
// through type()/isinstance(); machine ints, floats, strings and the
// like have no guest class of their own (they are immediates or bare
// heap containers, not heap.Instance), so these singletons give them one.
// Each gets a trivial self-only MRO — none of these participate in
// guest-visible inheritance, so the C3 linearizer in object.Linearize has
// nothing to do here.
type primitiveTypes struct {
	NoneType      values.Value
	BoolType      values.Value
	IntType       values.Value
	FloatType     values.Value
	StrType       values.Value
	BytesType     values.Value
	ByteArrayType values.Value
	ListType      values.Value
	TupleType     values.Value
	DictType      values.Value
	SetType       values.Value
	FrozenSetType values.Value
	FunctionType  values.Value
	GeneratorType values.Value
	ModuleType    values.Value
	TypeType      values.Value
	ObjectType    values.Value
}

func newPrimitiveTypes(h *heap.Heap) *primitiveTypes {
	mk := func(name string) values.Value {
		v := h.NewClass(name, nil)
		slot := v.RefHandle().(*heap.Slot)
		slot.Payload().(*heap.Class).MRO = []*heap.Slot{slot}
		return v
	}
	return &primitiveTypes{
		NoneType:      mk("NoneType"),
		BoolType:      mk("bool"),
		IntType:       mk("int"),
		FloatType:     mk("float"),
		StrType:       mk("str"),
		BytesType:     mk("bytes"),
		ByteArrayType: mk("bytearray"),
		ListType:      mk("list"),
		TupleType:     mk("tuple"),
		DictType:      mk("dict"),
		SetType:       mk("set"),
		FrozenSetType: mk("frozenset"),
		FunctionType:  mk("function"),
		GeneratorType: mk("generator"),
		ModuleType:    mk("module"),
		TypeType:      mk("type"),
		ObjectType:    mk("object"),
	}
}

// install binds every primitive type singleton into the global namespace
// under its guest-visible name, so scripts can write `isinstance(x, int)`
// or `type(x) is str` against them directly.
func (t *primitiveTypes) install(globals map[string]values.Value) {
	entries := map[string]values.Value{
		"NoneType":  t.NoneType,
		"bool":      t.BoolType,
		"int":       t.IntType,
		"float":     t.FloatType,
		"str":       t.StrType,
		"bytes":     t.BytesType,
		"bytearray": t.ByteArrayType,
		"list":      t.ListType,
		"tuple":     t.TupleType,
		"dict":      t.DictType,
		"set":       t.SetType,
		"frozenset": t.FrozenSetType,
		"function":  t.FunctionType,
		"generator": t.GeneratorType,
		"module":    t.ModuleType,
		"type":      t.TypeType,
		"object":    t.ObjectType,
	}
	for name, v := range entries {
		heap.Incref(v)
		globals[name] = v
	}
}

// typeOf resolves the runtime type of any value, mirroring type()'s
// dispatch (spec's built-in-types surface): a guest instance reports its
// own class; a class reports its declared metaclass, or type when it has
// none; every primitive and native container reports the matching
// singleton above.
func (t *primitiveTypes) typeOf(v values.Value) values.Value {
	switch {
	case v.IsNone():
		return t.NoneType
	case v.IsBool():
		return t.BoolType
	case v.IsInt():
		return t.IntType
	case v.IsFloat():
		return t.FloatType
	}
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok {
		return t.ObjectType
	}
	switch p := slot.Payload().(type) {
	case *heap.Instance:
		return values.Ref(p.Class)
	case *heap.Class:
		if p.Metaclass != nil {
			return values.Ref(p.Metaclass)
		}
		return t.TypeType
	case *heap.Str:
		return t.StrType
	case *heap.Bytes:
		return t.BytesType
	case *heap.ByteArray:
		return t.ByteArrayType
	case *heap.List:
		return t.ListType
	case *heap.Tuple:
		return t.TupleType
	case *heap.Dict:
		return t.DictType
	case *heap.Set:
		if slot.Kind() == heap.KindFrozenSet {
			return t.FrozenSetType
		}
		return t.SetType
	case *heap.Function, *heap.BoundMethod, *heap.Native:
		return t.FunctionType
	case *heap.Generator:
		return t.GeneratorType
	case *heap.Module:
		return t.ModuleType
	default:
		return t.ObjectType
	}
}

// isInstance reports whether v's type is candidate or one of candidate's
// descendants, with candidate allowed to be a tuple of types (spec §7
// names the same "type, or tuple of types" match rule for except
// clauses; isinstance generalizes it to value/type checks).
func (t *primitiveTypes) isInstance(v, candidate values.Value) (bool, error) {
	if slot, ok := candidate.RefHandle().(*heap.Slot); ok {
		if tup, ok := slot.Payload().(*heap.Tuple); ok {
			for _, item := range tup.Items {
				ok, err := t.isInstance(v, item)
				if err != nil || ok {
					return ok, err
				}
			}
			return false, nil
		}
	}
	candSlot, ok := candidate.RefHandle().(*heap.Slot)
	if !ok || candSlot.Kind() != heap.KindClass {
		return false, errNotAType
	}
	vt := t.typeOf(v)
	vtSlot, ok := vt.RefHandle().(*heap.Slot)
	if !ok {
		return false, nil
	}
	if vtSlot == candSlot {
		return true, nil
	}
	for _, ancestor := range vtSlot.Payload().(*heap.Class).MRO {
		if ancestor == candSlot {
			return true, nil
		}
	}
	return false, nil
}

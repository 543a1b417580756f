package builtin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
)

// displayValue renders v the way print() does: top-level strings appear
// unquoted, everything else uses reprValue. Mirrors the repr/str split
// spec §9 draws for every printable value.
func displayValue(e *env, v values.Value) (string, error) {
	if slot, ok := v.RefHandle().(*heap.Slot); ok {
		if s, ok := slot.Payload().(*heap.Str); ok {
			return s.Data, nil
		}
		if inst, ok := slot.Payload().(*heap.Instance); ok {
			ic := inst.Class.Payload().(*heap.Class)
			if fn, ok := ic.Dispatch[heap.SlotStr]; ok {
				out, err := e.ctx.CallValue(fn, []values.Value{v})
				if err != nil {
					return "", err
				}
				return displayValue(e, out)
			}
		}
	}
	return reprValue(e, v)
}

// reprValue renders v the way repr() would: quoted strings, bracketed
// containers, __repr__ dispatch for instances, and the
// "<class 'Name'>"/"<function qualname>" style fallbacks for the handful
// of non-data types print() can still be handed.
func reprValue(e *env, v values.Value) (string, error) {
	switch {
	case v.IsNone():
		return "None", nil
	case v.IsBool():
		if v.Bool() {
			return "True", nil
		}
		return "False", nil
	case v.IsMachineInt():
		return strconv.FormatInt(v.Int(), 10), nil
	case v.IsBigInt():
		return v.Big().String(), nil
	case v.IsFloat():
		return strconv.FormatFloat(v.Float(), 'g', -1, 64), nil
	}
	slot, ok := v.RefHandle().(*heap.Slot)
	if !ok {
		return v.String(), nil
	}
	switch p := slot.Payload().(type) {
	case *heap.Str:
		return quoteStr(p.Data), nil
	case *heap.Bytes:
		return "b" + quoteStr(string(p.Data)), nil
	case *heap.ByteArray:
		return "bytearray(b" + quoteStr(string(p.Data)) + ")", nil
	case *heap.List:
		return reprSeq(e, "[", "]", p.Items)
	case *heap.Tuple:
		if len(p.Items) == 1 {
			s, err := reprValue(e, p.Items[0])
			if err != nil {
				return "", err
			}
			return "(" + s + ",)", nil
		}
		return reprSeq(e, "(", ")", p.Items)
	case *heap.Set:
		if len(p.Items()) == 0 {
			if slot.Kind() == heap.KindFrozenSet {
				return "frozenset()", nil
			}
			return "set()", nil
		}
		body, err := reprSeq(e, "{", "}", p.Items())
		if err != nil {
			return "", err
		}
		if slot.Kind() == heap.KindFrozenSet {
			return "frozenset(" + body + ")", nil
		}
		return body, nil
	case *heap.Dict:
		var b strings.Builder
		b.WriteByte('{')
		for i, ent := range p.Items() {
			if i > 0 {
				b.WriteString(", ")
			}
			k, err := reprValue(e, ent.Key)
			if err != nil {
				return "", err
			}
			val, err := reprValue(e, ent.Value)
			if err != nil {
				return "", err
			}
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(val)
		}
		b.WriteByte('}')
		return b.String(), nil
	case *heap.Instance:
		ic := p.Class.Payload().(*heap.Class)
		if fn, ok := ic.Dispatch[heap.SlotRepr]; ok {
			out, err := e.ctx.CallValue(fn, []values.Value{v})
			if err != nil {
				return "", err
			}
			return displayValue(e, out)
		}
		return fmt.Sprintf("<%s object>", ic.Name), nil
	case *heap.Class:
		return fmt.Sprintf("<class '%s'>", p.Name), nil
	case *heap.Function:
		return fmt.Sprintf("<function %s>", p.QualName), nil
	case *heap.BoundMethod:
		return fmt.Sprintf("<bound method %s>", slot.Payload().(*heap.BoundMethod).Func.Payload().(*heap.Function).QualName), nil
	case *heap.Native:
		return fmt.Sprintf("<built-in function %s>", p.Name), nil
	case *heap.Generator:
		return fmt.Sprintf("<generator object %s>", p.QualName), nil
	case *heap.Module:
		return fmt.Sprintf("<module '%s'>", p.Name), nil
	default:
		return v.String(), nil
	}
}

func reprSeq(e *env, open, close string, items []values.Value) (string, error) {
	var b strings.Builder
	b.WriteString(open)
	for i, it := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		s, err := reprValue(e, it)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	b.WriteString(close)
	return b.String(), nil
}

// quoteStr renders s the way repr() quotes strings: single quotes unless
// the content has one and no double quote, in which case double quotes
// avoid escaping.
func quoteStr(s string) string {
	quote := byte('\'')
	if strings.Contains(s, "'") && !strings.Contains(s, "\"") {
		quote = '"'
	}
	var b strings.Builder
	b.WriteByte(quote)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case rune(quote):
			b.WriteByte('\\')
			b.WriteByte(quote)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}

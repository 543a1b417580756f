package vm

import (
	"fmt"
	"math"
	"math/big"

	"github.com/wudi/serpent/frame"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/object"
	"github.com/wudi/serpent/opcodes"
	"github.com/wudi/serpent/values"
)

// execArith handles BINARY_OP/INPLACE_OP/UNARY_OP/COMPARE_OP/
// COMPARE_CHAIN/IS_OP/CONTAINS_OP (opcodes 40-46). Numeric operands are
// computed directly; operand pairs involving an Instance fall back to
// the object package's forward/reflected dunder dispatch, grounded on
// the teacher's separate arithmetic/comparison executor files
// (vm/arithmetic_executor.go, vm/comparison_executor.go) generalized
// from PHP's loose-typed coercions to the guest language's dunder-driven
// operator protocol (spec §9).
func (vm *VM) execArith(ctx *ExecutionContext, f *frame.Frame, inst opcodes.Instruction) (bool, error) {
	switch inst.Opcode {
	case opcodes.OP_BINARY_OP, opcodes.OP_INPLACE_OP:
		right, err := f.Pop()
		if err != nil {
			return false, err
		}
		left, err := f.Pop()
		if err != nil {
			return false, err
		}
		v, err := vm.binaryOp(ctx, opcodes.BinaryOp(inst.Operand1), left, right, inst.Opcode == opcodes.OP_INPLACE_OP)
		if err != nil {
			return false, err
		}
		f.Push(v)
		heap.Decref(left)
		heap.Decref(right)
		return true, nil

	case opcodes.OP_UNARY_OP:
		v, err := f.Pop()
		if err != nil {
			return false, err
		}
		out, err := unaryOp(ctx, opcodes.UnaryOp(inst.Operand1), v)
		if err != nil {
			return false, err
		}
		f.Push(out)
		heap.Decref(v)
		return true, nil

	case opcodes.OP_COMPARE_OP, opcodes.OP_COMPARE_CHAIN:
		right, err := f.Pop()
		if err != nil {
			return false, err
		}
		left, err := f.Pop()
		if err != nil {
			return false, err
		}
		v, err := vm.compareOp(ctx, opcodes.CompareOp(inst.Operand1), left, right)
		if err != nil {
			return false, err
		}
		f.Push(v)
		heap.Decref(left)
		heap.Decref(right)
		return true, nil

	case opcodes.OP_IS_OP:
		right, err := f.Pop()
		if err != nil {
			return false, err
		}
		left, err := f.Pop()
		if err != nil {
			return false, err
		}
		same := identicalValue(left, right)
		if inst.Operand1 == 1 {
			same = !same
		}
		f.Push(values.Bool(same))
		heap.Decref(left)
		heap.Decref(right)
		return true, nil

	case opcodes.OP_CONTAINS_OP:
		right, err := f.Pop()
		if err != nil {
			return false, err
		}
		left, err := f.Pop()
		if err != nil {
			return false, err
		}
		found, err := vm.containsOp(ctx, left, right)
		if err != nil {
			return false, err
		}
		if inst.Operand1 == 1 {
			found = !found
		}
		f.Push(values.Bool(found))
		heap.Decref(left)
		heap.Decref(right)
		return true, nil
	}
	return false, fmt.Errorf("unhandled arithmetic opcode %s", inst.Opcode)
}

func identicalValue(a, b values.Value) bool {
	if a.IsRef() && b.IsRef() {
		as, _ := a.RefHandle().(*heap.Slot)
		bs, _ := b.RefHandle().(*heap.Slot)
		return as == bs
	}
	if a.Kind != b.Kind {
		return false
	}
	ha, aok := a.Hash()
	hb, bok := b.Hash()
	return aok && bok && ha == hb
}

func (vm *VM) binaryOp(ctx *ExecutionContext, op opcodes.BinaryOp, left, right values.Value, inplace bool) (values.Value, error) {
	if left.IsNumeric() && right.IsNumeric() {
		return numericBinary(ctx, op, left, right)
	}
	if op == opcodes.BinAdd {
		if ls, ok := heap.AsStr(left); ok {
			if rs, ok := heap.AsStr(right); ok {
				return ctx.Heap.NewString(ls.Data + rs.Data), nil
			}
		}
	}
	slot := dunderForBinary(op)
	if inplace {
		if iSlot, ok := inplaceSlot(op); ok {
			slot = iSlot
		}
	}
	v, handled, err := object.BinaryOp(ctx, slot, left, right)
	if err != nil {
		return values.Value{}, err
	}
	if !handled {
		return values.Value{}, ctx.Raise(ctx.StdExceptions.TypeError, "unsupported operand types for %v", op)
	}
	return v, nil
}

func inplaceSlot(op opcodes.BinaryOp) (heap.DunderSlot, bool) {
	switch op {
	case opcodes.BinAdd:
		return heap.SlotIAdd, true
	case opcodes.BinSub:
		return heap.SlotISub, true
	case opcodes.BinMul:
		return heap.SlotIMul, true
	}
	return 0, false
}

func dunderForBinary(op opcodes.BinaryOp) heap.DunderSlot {
	switch op {
	case opcodes.BinAdd:
		return heap.SlotAdd
	case opcodes.BinSub:
		return heap.SlotSub
	case opcodes.BinMul:
		return heap.SlotMul
	case opcodes.BinDiv:
		return heap.SlotTrueDiv
	case opcodes.BinFloorDiv:
		return heap.SlotFloorDiv
	case opcodes.BinMod:
		return heap.SlotMod
	case opcodes.BinPow:
		return heap.SlotPow
	}
	return heap.SlotAdd
}

func numericBinary(ctx *ExecutionContext, op opcodes.BinaryOp, left, right values.Value) (values.Value, error) {
	if left.IsBigInt() || right.IsBigInt() {
		return bigBinary(ctx, op, left, right)
	}
	if left.IsFloat() || right.IsFloat() {
		return floatBinary(ctx, op, toFloat(left), toFloat(right))
	}
	return intBinary(ctx, op, toMachineInt(left), toMachineInt(right))
}

func toFloat(v values.Value) float64 {
	if v.IsFloat() {
		return v.Float()
	}
	if v.IsBool() {
		if v.Bool() {
			return 1
		}
		return 0
	}
	return float64(v.Int())
}

func toMachineInt(v values.Value) int64 {
	if v.IsBool() {
		if v.Bool() {
			return 1
		}
		return 0
	}
	return v.Int()
}

func intBinary(ctx *ExecutionContext, op opcodes.BinaryOp, a, b int64) (values.Value, error) {
	switch op {
	case opcodes.BinAdd:
		if s := a + b; (b >= 0) == (s >= a) {
			return values.Int(s), nil
		}
		return values.BigIntVal(new(big.Int).Add(big.NewInt(a), big.NewInt(b))), nil
	case opcodes.BinSub:
		if d := a - b; (b >= 0) == (d <= a) {
			return values.Int(d), nil
		}
		return values.BigIntVal(new(big.Int).Sub(big.NewInt(a), big.NewInt(b))), nil
	case opcodes.BinMul:
		p := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
		if p.IsInt64() {
			return values.Int(p.Int64()), nil
		}
		return values.BigIntVal(p), nil
	case opcodes.BinDiv:
		if b == 0 {
			return values.Value{}, ctx.Raise(ctx.StdExceptions.ZeroDivisionError, "division by zero")
		}
		return values.Float(float64(a) / float64(b)), nil
	case opcodes.BinFloorDiv:
		if b == 0 {
			return values.Value{}, ctx.Raise(ctx.StdExceptions.ZeroDivisionError, "integer division or modulo by zero")
		}
		q := a / b
		if (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		return values.Int(q), nil
	case opcodes.BinMod:
		if b == 0 {
			return values.Value{}, ctx.Raise(ctx.StdExceptions.ZeroDivisionError, "integer division or modulo by zero")
		}
		m := a % b
		if m != 0 && ((m < 0) != (b < 0)) {
			m += b
		}
		return values.Int(m), nil
	case opcodes.BinPow:
		if b < 0 {
			return values.Float(math.Pow(float64(a), float64(b))), nil
		}
		return values.BigIntVal(new(big.Int).Exp(big.NewInt(a), big.NewInt(b), nil)), nil
	case opcodes.BinLShift:
		return values.Int(a << uint(b)), nil
	case opcodes.BinRShift:
		return values.Int(a >> uint(b)), nil
	case opcodes.BinAnd:
		return values.Int(a & b), nil
	case opcodes.BinOr:
		return values.Int(a | b), nil
	case opcodes.BinXor:
		return values.Int(a ^ b), nil
	}
	return values.Value{}, ctx.Raise(ctx.StdExceptions.TypeError, "unsupported integer operator")
}

func floatBinary(ctx *ExecutionContext, op opcodes.BinaryOp, a, b float64) (values.Value, error) {
	switch op {
	case opcodes.BinAdd:
		return values.Float(a + b), nil
	case opcodes.BinSub:
		return values.Float(a - b), nil
	case opcodes.BinMul:
		return values.Float(a * b), nil
	case opcodes.BinDiv:
		return values.Float(a / b), nil
	case opcodes.BinFloorDiv:
		return values.Float(math.Floor(a / b)), nil
	case opcodes.BinMod:
		return values.Float(math.Mod(a, b)), nil
	case opcodes.BinPow:
		return values.Float(math.Pow(a, b)), nil
	}
	return values.Value{}, ctx.Raise(ctx.StdExceptions.TypeError, "unsupported float operator")
}

func bigBinary(ctx *ExecutionContext, op opcodes.BinaryOp, left, right values.Value) (values.Value, error) {
	a := left.AsBigInt()
	b := right.AsBigInt()
	switch op {
	case opcodes.BinAdd:
		return values.BigIntVal(new(big.Int).Add(a, b)), nil
	case opcodes.BinSub:
		return values.BigIntVal(new(big.Int).Sub(a, b)), nil
	case opcodes.BinMul:
		return values.BigIntVal(values.BigMul(a, b)), nil
	case opcodes.BinFloorDiv:
		if b.Sign() == 0 {
			return values.Value{}, ctx.Raise(ctx.StdExceptions.ZeroDivisionError, "integer division or modulo by zero")
		}
		q, m := new(big.Int), new(big.Int)
		q.DivMod(a, b, m)
		return values.BigIntVal(q), nil
	case opcodes.BinMod:
		if b.Sign() == 0 {
			return values.Value{}, ctx.Raise(ctx.StdExceptions.ZeroDivisionError, "integer division or modulo by zero")
		}
		m := new(big.Int).Mod(a, b)
		return values.BigIntVal(m), nil
	case opcodes.BinPow:
		if b.Sign() < 0 {
			af, _ := new(big.Float).SetInt(a).Float64()
			bf, _ := new(big.Float).SetInt(b).Float64()
			return values.Float(math.Pow(af, bf)), nil
		}
		return values.BigIntVal(values.BigPow(a, b.Int64())), nil
	case opcodes.BinDiv:
		af, _ := new(big.Float).SetInt(a).Float64()
		bf, _ := new(big.Float).SetInt(b).Float64()
		return values.Float(af / bf), nil
	}
	return values.Value{}, ctx.Raise(ctx.StdExceptions.TypeError, "unsupported bigint operator")
}

func unaryOp(ctx *ExecutionContext, op opcodes.UnaryOp, v values.Value) (values.Value, error) {
	switch op {
	case opcodes.UnaryNeg:
		if v.IsBigInt() {
			return values.BigIntVal(new(big.Int).Neg(v.Big())), nil
		}
		if v.IsFloat() {
			return values.Float(-v.Float()), nil
		}
		return values.Int(-toMachineInt(v)), nil
	case opcodes.UnaryPos:
		return v, nil
	case opcodes.UnaryNot:
		truthy, _ := v.Truthy()
		return values.Bool(!truthy), nil
	case opcodes.UnaryInvert:
		return values.Int(^toMachineInt(v)), nil
	}
	return values.Value{}, ctx.Raise(ctx.StdExceptions.TypeError, "unsupported unary operator")
}

func (vm *VM) compareOp(ctx *ExecutionContext, op opcodes.CompareOp, left, right values.Value) (values.Value, error) {
	if left.IsNumeric() && right.IsNumeric() {
		return numericCompare(op, left, right)
	}
	if ls, ok := heap.AsStr(left); ok {
		if rs, ok := heap.AsStr(right); ok {
			return values.Bool(stringCompare(op, ls.Data, rs.Data)), nil
		}
	}
	slot := dunderForCompare(op)
	v, err := object.Compare(ctx, slot, left, right)
	if err != nil {
		return values.Value{}, err
	}
	return v, nil
}

func dunderForCompare(op opcodes.CompareOp) heap.DunderSlot {
	switch op {
	case opcodes.CmpLt:
		return heap.SlotLt
	case opcodes.CmpLe:
		return heap.SlotLe
	case opcodes.CmpEq:
		return heap.SlotEq
	case opcodes.CmpNe:
		return heap.SlotNe
	case opcodes.CmpGt:
		return heap.SlotGt
	case opcodes.CmpGe:
		return heap.SlotGe
	}
	return heap.SlotEq
}

func numericCompare(op opcodes.CompareOp, left, right values.Value) (values.Value, error) {
	var cmp int
	if left.IsBigInt() || right.IsBigInt() {
		cmp = left.AsBigInt().Cmp(right.AsBigInt())
	} else if left.IsFloat() || right.IsFloat() {
		a, b := toFloat(left), toFloat(right)
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	} else {
		a, b := toMachineInt(left), toMachineInt(right)
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	}
	return values.Bool(compareResult(op, cmp)), nil
}

func stringCompare(op opcodes.CompareOp, a, b string) bool {
	cmp := 0
	switch {
	case a < b:
		cmp = -1
	case a > b:
		cmp = 1
	}
	return compareResult(op, cmp)
}

func compareResult(op opcodes.CompareOp, cmp int) bool {
	switch op {
	case opcodes.CmpLt:
		return cmp < 0
	case opcodes.CmpLe:
		return cmp <= 0
	case opcodes.CmpEq:
		return cmp == 0
	case opcodes.CmpNe:
		return cmp != 0
	case opcodes.CmpGt:
		return cmp > 0
	case opcodes.CmpGe:
		return cmp >= 0
	}
	return false
}

func (vm *VM) containsOp(ctx *ExecutionContext, item, container values.Value) (bool, error) {
	slot, ok := container.RefHandle().(*heap.Slot)
	if !ok {
		return false, ctx.Raise(ctx.StdExceptions.TypeError, "argument is not a container")
	}
	switch p := slot.Payload().(type) {
	case *heap.List:
		for _, it := range p.Items {
			if identicalValue(it, item) {
				return true, nil
			}
		}
		return false, nil
	case *heap.Tuple:
		for _, it := range p.Items {
			if identicalValue(it, item) {
				return true, nil
			}
		}
		return false, nil
	case *heap.Set:
		return p.Contains(item), nil
	case *heap.Dict:
		_, ok := p.Get(item)
		return ok, nil
	case *heap.Str:
		if s, ok := heap.AsStr(item); ok {
			return containsSubstring(p.Data, s.Data), nil
		}
	}
	found, err, handled := object.Contains(ctx, container, item)
	if handled {
		return found, err
	}
	return false, ctx.Raise(ctx.StdExceptions.TypeError, "argument is not a container")
}

func containsSubstring(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

package vm

import (
	"fmt"

	"github.com/wudi/serpent/exc"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/object"
	"github.com/wudi/serpent/values"
)

// StdExceptionClasses is the small built-in exception hierarchy every
// ExecutionContext carries, so that engine-raised failures (division by
// zero, a missing key, an unbound name, ...) are guest exceptions rather
// than bare Go errors and can be caught by a matching except clause
// (spec §4.5/§7: "errors unwind through exception blocks until caught;
// handlers match by type"). Built once per heap and shared with every
// generator context spawned off it, so isinstance/except matching sees
// the same class identities across a generator's suspension boundary.
type StdExceptionClasses struct {
	BaseException *heap.Slot
	Exception     *heap.Slot

	ArithmeticError   *heap.Slot
	ZeroDivisionError *heap.Slot
	OverflowError     *heap.Slot

	LookupError *heap.Slot
	KeyError    *heap.Slot
	IndexError  *heap.Slot

	AttributeError *heap.Slot

	NameError         *heap.Slot
	UnboundLocalError *heap.Slot

	TypeError  *heap.Slot
	ValueError *heap.Slot

	StopIteration  *heap.Slot
	RecursionError *heap.Slot
	CancelledError *heap.Slot
}

// buildStdExceptionClasses wires the hierarchy classifyException (interp
// package) expects by name: every leaf class's name contains the
// substring that package's Kind switch keys off, so an engine-raised
// exception classifies the same way a guest-defined one with the same
// name would.
func buildStdExceptionClasses(ctx *ExecutionContext) *StdExceptionClasses {
	def := func(name string, bases ...*heap.Slot) *heap.Slot {
		slot, err := object.NewClass(ctx, ctx.Heap, name, bases, nil)
		if err != nil {
			// The built-in hierarchy has no body and no __init_subclass__
			// hooks to run, so class construction cannot fail here.
			panic(fmt.Sprintf("building standard exception class %q: %v", name, err))
		}
		return slot
	}

	std := &StdExceptionClasses{}
	std.BaseException = def("BaseException")
	std.Exception = def("Exception", std.BaseException)

	std.ArithmeticError = def("ArithmeticError", std.Exception)
	std.ZeroDivisionError = def("ZeroDivisionError", std.ArithmeticError)
	std.OverflowError = def("OverflowError", std.ArithmeticError)

	std.LookupError = def("LookupError", std.Exception)
	std.KeyError = def("KeyError", std.LookupError)
	std.IndexError = def("IndexError", std.LookupError)

	std.AttributeError = def("AttributeError", std.Exception)

	std.NameError = def("NameError", std.Exception)
	std.UnboundLocalError = def("UnboundLocalError", std.NameError)

	std.TypeError = def("TypeError", std.Exception)
	std.ValueError = def("ValueError", std.Exception)

	std.StopIteration = def("StopIteration", std.Exception)
	std.RecursionError = def("RecursionError", std.Exception)
	std.CancelledError = def("CancelledError", std.Exception)

	return std
}

// Raise constructs a guest exception of the given standard class and
// raises it through the active-exception chain, returning the *exc.Error
// the dispatcher's handleException path unwinds on (spec §4.5). Every
// internal engine failure a guest program ought to be able to catch goes
// through this instead of a plain fmt.Errorf.
func (ctx *ExecutionContext) Raise(cls *heap.Slot, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	excVal := ctx.Heap.NewException(cls, msg, nil)
	var active *values.Value
	if v, ok := ctx.CurrentActiveException(); ok {
		active = &v
	}
	return exc.Raise(ctx.Heap, excVal, active)
}

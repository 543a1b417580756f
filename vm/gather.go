package vm

import (
	"errors"

	"github.com/wudi/serpent/exc"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
)

// gatherChild tracks one awaitable's progress across Gather's round-robin
// drive loop.
type gatherChild struct {
	slot   *heap.Slot
	gen    *heap.Generator
	result values.Value
	err    error
	done   bool
}

// Gather drives a set of coroutine objects to completion in declaration
// order, left to right, one step per child per round — every child
// advances exactly as far as a single Advance call takes it before the
// next child gets a turn, so two coroutines racing to print never
// interleave unpredictably (spec §9 "gather": "children are scheduled
// deterministically, left to right"). A child that raises is recorded as
// that child's own failure rather than aborting the others still in
// flight: the result is always a list the same length as awaitables,
// pairing each input position with either its return value or the
// exception it raised (spec §9 "gather": "exceptions are isolated per
// child").
func Gather(ctx *ExecutionContext, awaitables []values.Value) (values.Value, error) {
	children := make([]*gatherChild, len(awaitables))
	for i, v := range awaitables {
		slot, ok := v.RefHandle().(*heap.Slot)
		if !ok {
			return values.Value{}, ctx.Raise(ctx.StdExceptions.TypeError, "gather() arguments must be coroutine objects")
		}
		gen, ok := slot.Payload().(*heap.Generator)
		if !ok {
			return values.Value{}, ctx.Raise(ctx.StdExceptions.TypeError, "gather() arguments must be coroutine objects")
		}
		children[i] = &gatherChild{slot: slot, gen: gen}
	}

	remaining := len(children)
	for remaining > 0 {
		for _, c := range children {
			if c.done {
				continue
			}
			v, isDone, err := c.gen.Advance(values.None(), nil)
			if err != nil {
				// A child suspended on an external call the host must
				// resolve: Gather has no way to checkpoint the other
				// children's partial progress across that round trip, so
				// the whole call aborts rather than silently dropping
				// their state. Documented scope limit, not a bug: gather
				// over externally-suspending coroutines needs the host to
				// drive each coroutine itself and assemble the list, not
				// this helper.
				if _, ok := asExternalSuspend(err); ok {
					return values.Value{}, err
				}
				c.err = err
				c.done = true
				remaining--
				continue
			}
			if isDone {
				c.result = v
				c.done = true
				remaining--
			}
		}
	}

	items := make([]values.Value, len(children))
	for i, c := range children {
		if c.err != nil {
			var raised *exc.Error
			if errors.As(c.err, &raised) {
				heap.Incref(raised.Exception)
				items[i] = raised.Exception
				continue
			}
			items[i] = ctx.Heap.NewException(ctx.StdExceptions.BaseException, c.err.Error(), nil)
			continue
		}
		heap.Incref(c.result)
		items[i] = c.result
	}
	return ctx.Heap.NewList(items), nil
}

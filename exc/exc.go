// Package exc implements exception raising, unwinding, and handler
// matching over a frame.FrameStack. Grounded on the teacher's vm/errors.go
// VMError wrapping pattern (a typed Go-level error carrying a base
// sentinel plus call-site context) for the Go-side error surface, and on
// runtime/exception.go's exception class hierarchy for the guest-visible
// side — generalized from PHP's single-exception-pending field
// (vm.ExecutionContext.pendingException) to a full unwind algorithm since
// this spec requires nested try/except/finally/except* with stack-depth
// restoration (spec §4.5).
package exc

import (
	"fmt"

	"github.com/wudi/serpent/code"
	"github.com/wudi/serpent/frame"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
)

// Error wraps a raised guest exception as a Go error so the vm dispatcher
// can propagate it through ordinary Go control flow (return err) until
// something catches or it reaches the top, mirroring vm.VMError's
// base-error-plus-context wrapping.
type Error struct {
	Exception values.Value // heap ref to a *heap.Exception or *heap.ExceptionGroup
	Context   string
}

func (e *Error) Error() string {
	slot, ok := e.Exception.RefHandle().(*heap.Slot)
	if !ok {
		return "exception"
	}
	if exc, ok := slot.Payload().(*heap.Exception); ok {
		className := exc.Class.Payload().(*heap.Class).Name
		if e.Context != "" {
			return fmt.Sprintf("%s: %s (in %s)", className, exc.Message, e.Context)
		}
		return fmt.Sprintf("%s: %s", className, exc.Message)
	}
	if grp, ok := slot.Payload().(*heap.ExceptionGroup); ok {
		return fmt.Sprintf("exception group: %s (%d sub-exceptions)", grp.Message, len(grp.Exceptions))
	}
	return "exception"
}

// Raise wraps exc as an *Error, attaching context (the implicit "while
// handling another exception" chain) if one is currently active on the
// frame (spec §4.5 "implicit exception chaining").
func Raise(h *heap.Heap, exc values.Value, active *values.Value) *Error {
	if slot, ok := exc.RefHandle().(*heap.Slot); ok {
		if e, ok := slot.Payload().(*heap.Exception); ok && active != nil && e.Context == nil {
			ctx := *active
			e.Context = &ctx
			heap.Incref(ctx)
		}
	}
	heap.Incref(exc)
	return &Error{Exception: exc}
}

// RaiseFrom implements "raise X from Y": sets the explicit cause and
// suppresses automatic context rendering unless the handler asks for it
// (spec §4.5).
func RaiseFrom(exc values.Value, cause values.Value) *Error {
	if slot, ok := exc.RefHandle().(*heap.Slot); ok {
		if e, ok := slot.Payload().(*heap.Exception); ok {
			c := cause
			e.Cause = &c
			heap.Incref(cause)
			e.SuppressContext = true
		}
	}
	heap.Incref(exc)
	return &Error{Exception: exc}
}

// IsInstanceOf reports whether exc's class is cls or a subclass of cls,
// walking the class's MRO (populated by the object package at class-
// creation time).
func IsInstanceOf(exc *heap.Slot, cls *heap.Slot) bool {
	c, ok := exc.Payload().(*heap.Exception)
	if !ok {
		return false
	}
	for _, ancestor := range c.Class.Payload().(*heap.Class).MRO {
		if ancestor == cls {
			return true
		}
	}
	return false
}

// Matches reports whether exc's class matches any of the candidate
// classes an except clause names (spec §4.5: "a tuple of types matches if
// any member matches").
func Matches(exc *heap.Slot, candidates []*heap.Slot) bool {
	for _, c := range candidates {
		if IsInstanceOf(exc, c) {
			return true
		}
	}
	return false
}

// Unwind pops frames from the stack looking for a handler whose range
// covers the raising instruction, restoring each frame's recorded operand
// stack depth as it jumps into a handler. Returns the frame and exception
// table entry that will handle the exception, or ok=false if the stack
// unwound completely (spec §4.5 "unwind algorithm").
func Unwind(stack *frame.FrameStack, raisedAtIP int) (*frame.Frame, code.ExceptionTableEntry, bool) {
	for {
		f := stack.Current()
		if f == nil {
			return nil, code.ExceptionTableEntry{}, false
		}
		if entry, ok := f.Code.HandlerFor(f.IP); ok {
			f.TruncateStack(entry.StackDepth)
			f.IP = entry.HandlerTarget
			return f, entry, true
		}
		stack.Pop()
	}
}

// BuildTraceback walks the frame stack (innermost first) and appends a
// TracebackEntry for each, so Entries[0] is the innermost frame,
// retaining source text when the code object kept it (spec §7). Returns both the heap value (for attaching to an
// Exception's Traceback field) and the underlying struct (for rendering).
func BuildTraceback(h *heap.Heap, stack *frame.FrameStack) (values.Value, *heap.Traceback) {
	tbVal := h.NewTraceback()
	slot := tbVal.RefHandle().(*heap.Slot)
	tb := slot.Payload().(*heap.Traceback)

	frames := stack.Frames()
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		line := f.Code.LineFor(f.IP)
		tb.Entries = append(tb.Entries, heap.TracebackEntry{
			SourceID:   f.Code.Source,
			SourceText: f.Code.SourceTextFor(line),
			Line:       line,
			FuncName:   f.QualName,
		})
	}
	return tbVal, tb
}

// Partition implements `except*`: split an exception group along the
// matching predicate into a matched group and a rest group (no traceback
// is attached to either), and report whether anything remains unmatched
// (spec §4.5 / §7 exception-group scenario).
func Partition(h *heap.Heap, group *heap.ExceptionGroup, candidates []*heap.Slot) (matchedGroup values.Value, restGroup values.Value, hasRest bool) {
	matched, rest := group.Partition(func(v values.Value) bool {
		s, ok := v.RefHandle().(*heap.Slot)
		if !ok {
			return false
		}
		return Matches(s, candidates)
	})
	matchedGroup = h.NewExceptionGroup(group.Message, matched)
	if len(rest) > 0 {
		restGroup = h.NewExceptionGroup(group.Message, rest)
		hasRest = true
	}
	return matchedGroup, restGroup, hasRest
}

package interp

import (
	"errors"
	"strings"

	"github.com/wudi/serpent/accountant"
	"github.com/wudi/serpent/exc"
	"github.com/wudi/serpent/heap"
)

// Kind is the host-facing error-kind label (spec §7's error-kind table,
// concept names rather than guest class names). Classification below is
// still name-based rather than a fixed-type lookup: the engine's own
// ZeroDivisionError/KeyError/TypeError/... classes (vm.StdExceptionClasses)
// cover the cases the dispatcher itself raises, but guest code can derive
// its own exception classes with arbitrary names, so Kind is inferred
// from whatever name ends up on the raised instance's class.
type Kind string

const (
	KindSyntax        Kind = "syntax"
	KindName          Kind = "name"
	KindAttribute     Kind = "attribute"
	KindType          Kind = "type"
	KindValue         Kind = "value"
	KindArithmetic    Kind = "arithmetic"
	KindLookup        Kind = "lookup"
	KindIteration     Kind = "iteration"
	KindRuntime       Kind = "runtime"
	KindResource      Kind = "resource"
	KindExceptionGrp  Kind = "exception-group"
	KindCancellation  Kind = "cancellation"
	KindGuestDefined  Kind = "guest-defined"
)

// Frame is one link of a RunError's traceback chain (spec §6 "traceback
// chain of (source-identifier, line, function-name)").
type Frame struct {
	SourceID string
	Line     int
	FuncName string
}

// RunError is the structured, host-facing failure a Run reports (spec
// §6: "a structured error (type, message, traceback chain)"). Error()
// returns Message alone (for a raised exception, exc.Error's one-line
// text); the traceback is carried in Traceback, not rendered into it.
type RunError struct {
	Kind      Kind
	Message   string
	Traceback []Frame
	cause     error
}

func (e *RunError) Error() string { return e.Message }
func (e *RunError) Unwrap() error { return e.cause }

// ClassifyError maps a Go error surfaced from a Run into the structured
// RunError shape, picking a best-effort Kind for it.
func ClassifyError(err error) *RunError {
	var breach *accountant.BreachError
	if errors.As(err, &breach) {
		kind := KindResource
		return &RunError{Kind: kind, Message: breach.Message, cause: err}
	}

	var excErr *exc.Error
	if errors.As(err, &excErr) {
		return &RunError{
			Kind:      classifyException(excErr),
			Message:   excErr.Error(),
			Traceback: tracebackOf(excErr),
			cause:     err,
		}
	}

	return &RunError{Kind: KindRuntime, Message: err.Error(), cause: err}
}

// classifyException guesses a Kind from the raised exception's class
// name — a heuristic, not a lookup against a fixed hierarchy, since
// guest code is free to name its exception classes anything.
func classifyException(e *exc.Error) Kind {
	slot, ok := e.Exception.RefHandle().(*heap.Slot)
	if !ok {
		return KindGuestDefined
	}
	if _, ok := slot.Payload().(*heap.ExceptionGroup); ok {
		return KindExceptionGrp
	}
	exception, ok := slot.Payload().(*heap.Exception)
	if !ok {
		return KindGuestDefined
	}
	name := exception.Class.Payload().(*heap.Class).Name
	switch {
	case strings.Contains(name, "ZeroDivision") || strings.Contains(name, "Overflow"):
		return KindArithmetic
	case strings.Contains(name, "Key") || strings.Contains(name, "Index"):
		return KindLookup
	case strings.Contains(name, "StopIteration"):
		return KindIteration
	case strings.Contains(name, "Attribute"):
		return KindAttribute
	case strings.Contains(name, "Name") || strings.Contains(name, "UnboundLocal"):
		return KindName
	case strings.Contains(name, "Type"):
		return KindType
	case strings.Contains(name, "Value"):
		return KindValue
	case strings.Contains(name, "Recursion"):
		return KindResource
	case strings.Contains(name, "Cancel"):
		return KindCancellation
	default:
		return KindGuestDefined
	}
}

// tracebackOf reads back the Traceback slot BuildTraceback attached to
// the escaped exception (vm.attachTraceback), converting it to interp's
// host-facing Frame list.
func tracebackOf(e *exc.Error) []Frame {
	slot, ok := e.Exception.RefHandle().(*heap.Slot)
	if !ok {
		return nil
	}
	exception, ok := slot.Payload().(*heap.Exception)
	if !ok || exception.Traceback == nil {
		return nil
	}
	tb, ok := exception.Traceback.Payload().(*heap.Traceback)
	if !ok {
		return nil
	}
	frames := make([]Frame, 0, len(tb.Entries))
	for _, ent := range tb.Entries {
		frames = append(frames, Frame{SourceID: ent.SourceID, Line: ent.Line, FuncName: ent.FuncName})
	}
	return frames
}

package heap

import (
	"fmt"

	"github.com/wudi/serpent/values"
)

// TracebackEntry is one link describing where an exception propagated
// through (spec §3.2 glossary "traceback node"): the frame's source
// identifier, the line, and the function/qualified name (or "<module>").
type TracebackEntry struct {
	SourceID   string
	SourceText string // the offending line's source text, when available
	Line       int
	FuncName   string
}

// Traceback is the chain of TracebackEntry links built as an exception
// unwinds. Entries[0] is the innermost (raising) frame and the last entry
// is the outermost caller; Render walks the slice in reverse so the
// innermost frame prints last.
type Traceback struct {
	Entries []TracebackEntry
}

func (h *Heap) NewTraceback() values.Value {
	return h.New(KindTraceback, &Traceback{})
}

// Prepend records a newly-unwound frame at the head of the chain (it is
// the most specific/innermost frame seen so far).
func (t *Traceback) Prepend(entry TracebackEntry) {
	t.Entries = append([]TracebackEntry{entry}, t.Entries...)
}

// Render produces the user-visible traceback text (spec §7): for each
// frame, source id/line, function/qualified name, and the source text of
// that line when the code object retained it.
func (t *Traceback) Render() string {
	out := "Traceback (most recent call last):\n"
	for i := len(t.Entries) - 1; i >= 0; i-- {
		e := t.Entries[i]
		fn := e.FuncName
		if fn == "" {
			fn = "<module>"
		}
		out += fmt.Sprintf("  File \"%s\", line %d, in %s\n", e.SourceID, e.Line, fn)
		if e.SourceText != "" {
			out += fmt.Sprintf("    %s\n", e.SourceText)
		}
	}
	return out
}

// Exception is the heap payload for a raised exception instance: type,
// message/args, and the context-chain slots (cause/context/
// suppress_context/traceback) from spec §3.2 and §4.5.
type Exception struct {
	Class      *Slot
	Message    string
	Args       []values.Value
	Properties map[string]values.Value

	Cause           *values.Value // explicit "raise ... from cause"
	Context         *values.Value // implicit "while handling another exception"
	SuppressContext bool
	Traceback       *Slot // heap ref to a *Traceback, set once the exception unwinds to the top
}

func (h *Heap) NewException(class *Slot, message string, args []values.Value) values.Value {
	atomicIncrefSlot(class)
	for _, a := range args {
		Incref(a)
	}
	return h.New(KindException, &Exception{
		Class:      class,
		Message:    message,
		Args:       args,
		Properties: make(map[string]values.Value),
	})
}

func (e *Exception) SetProperty(name string, v values.Value) {
	Incref(v)
	if old, ok := e.Properties[name]; ok {
		Decref(old)
	}
	e.Properties[name] = v
}

// ExceptionGroup is the split-capable multi-error container (spec §7
// "exception-group"). Exceptions holds refs to Exception (or nested
// ExceptionGroup) values in declaration/collection order.
type ExceptionGroup struct {
	Message    string
	Exceptions []values.Value
}

func (h *Heap) NewExceptionGroup(message string, exceptions []values.Value) values.Value {
	for _, e := range exceptions {
		Incref(e)
	}
	return h.New(KindExceptionGroup, &ExceptionGroup{Message: message, Exceptions: exceptions})
}

// Partition splits an exception group along a predicate into the
// matching and non-matching sub-groups that `except*` needs (spec §4.5 /
// §7 / §8 scenario): matched exceptions are surfaced to the handler body,
// the rest are reraised as a fresh group of the same shape.
func (g *ExceptionGroup) Partition(matches func(values.Value) bool) (matched, rest []values.Value) {
	for _, e := range g.Exceptions {
		if matches(e) {
			matched = append(matched, e)
		} else {
			rest = append(rest, e)
		}
	}
	return matched, rest
}

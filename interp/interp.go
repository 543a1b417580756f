// Package interp is the host embedding surface: Construct an interpreter
// from a compiled code object, Run it against host-supplied inputs and
// external functions, and get back either a result value or a structured
// error with a traceback chain. The parser/compiler that produces the
// code object is explicitly out of scope here — this package only
// consumes the compiled-artifact contract the code package defines.
//
// Grounded on the teacher's cmd/hey entry point (construct a lexer/
// parser/compiler, run the VM, report errors to the caller) and its
// errors.Error (a typed Type/Message/Position record); generalized from a
// parse-time position to a runtime traceback chain since this package's
// errors come from execution, not compilation.
package interp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/wudi/serpent/accountant"
	"github.com/wudi/serpent/code"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
	"github.com/wudi/serpent/vm"

	"github.com/wudi/serpent/builtin"
)

// Options is the host-supplied resource-limits/ambient-configuration
// record (spec §6 "Resource limits"): a zero value in any numeric field
// means "unlimited", matching the accountant's own "0 means unlimited"
// convention. Output defaults to os.Stdout when nil.
type Options struct {
	MaxDurationSeconds float64
	MaxMemoryBytes     int64
	MaxRecursionDepth  int
	Output             io.Writer

	// Heap, if set, is reused as the execution heap instead of allocating
	// a fresh one — required when obj's constant pool already holds heap
	// refs built against a specific *heap.Heap (a host that assembled a
	// code object from a serialized module, say). Most callers leave this
	// nil and get a fresh heap.
	Heap *heap.Heap
}

func (o Options) toLimits() accountant.Limits {
	var dur time.Duration
	if o.MaxDurationSeconds > 0 {
		dur = time.Duration(o.MaxDurationSeconds * float64(time.Second))
	}
	return accountant.Limits{
		MaxDuration:       dur,
		MaxMemoryBytes:    o.MaxMemoryBytes,
		MaxRecursionDepth: o.MaxRecursionDepth,
	}
}

// Interpreter is one constructed handle over a compiled code object: the
// code to run, the declared input/external names Construct was told
// about, and a freshly seeded ExecutionContext (spec §6 "Construct").
// A handle may be Run more than once; each Run gets its own top-level
// frame push but shares the same heap/globals, matching spec §5's
// "constant pool may be shared across reruns; module-level state is
// re-seeded from host inputs on each run" rule.
type Interpreter struct {
	obj           *code.Object
	inputNames    []string
	externalNames map[string]bool
	ctx           *vm.ExecutionContext
	vm            *vm.VM
}

// Construct builds an interpreter handle over a precompiled code object.
// inputNames and externalNames declare, respectively, which host-supplied
// bindings Run will accept as top-level globals and which external-call
// names the engine is allowed to suspend on; Run rejects anything outside
// these declared sets (spec §6: "Unknown fields are rejected" generalized
// to unknown inputs/externals).
func Construct(obj *code.Object, inputNames []string, externalNames []string, opts Options) (*Interpreter, error) {
	if obj == nil {
		return nil, fmt.Errorf("interp: Construct requires a non-nil code object")
	}
	var ctx *vm.ExecutionContext
	if opts.Heap != nil {
		ctx = vm.NewExecutionContextWithHeap(opts.Heap, opts.toLimits())
	} else {
		ctx = vm.NewExecutionContext(opts.toLimits())
	}
	if opts.Output != nil {
		ctx.OutputWriter = opts.Output
	} else {
		ctx.OutputWriter = os.Stdout
	}
	builtin.Install(ctx)

	externals := make(map[string]bool, len(externalNames))
	for _, n := range externalNames {
		externals[n] = true
	}

	return &Interpreter{
		obj:           obj,
		inputNames:    append([]string(nil), inputNames...),
		externalNames: externals,
		ctx:           ctx,
		vm:            vm.New(),
	}, nil
}

// Close releases the interpreter's accountant resources (the deadline
// timer). Callers should defer this once they are done with a handle.
func (it *Interpreter) Close() { it.ctx.Close() }

// Result is what a completed Run hands back: either the top-level
// expression's value (spec §6 "Result: the value of the final top-level
// expression"), or — when the run suspended on an undeclared-as-
// synchronous external call — a Pending request the host must answer via
// Resume (spec §4.7). Exactly one of Value/Pending is meaningful per
// Result; a pending Result's Value is the zero values.Value.
type Result struct {
	Value    values.Value
	Pending  *vm.ExternalCallRequest
	DebugLog []string
}

// Run binds inputs as globals, registers externals as blocking external-
// call targets, and drives the code object to completion (spec §6
// "Run"). Only declared input/external names are honored; anything else
// supplied is rejected up front rather than silently ignored.
func (it *Interpreter) Run(inputs map[string]values.Value, externals map[string]vm.ExternalFunc) (Result, error) {
	for name := range inputs {
		if !it.declaredInput(name) {
			return Result{}, fmt.Errorf("interp: Run: %q is not a declared input", name)
		}
	}
	for name := range externals {
		if !it.externalNames[name] {
			return Result{}, fmt.Errorf("interp: Run: %q is not a declared external function", name)
		}
	}

	for name, v := range inputs {
		it.ctx.SetGlobal(name, v)
	}
	it.ctx.Externals = externals

	v, err := it.vm.Run(it.ctx, it.obj, nil)
	return it.finish(v, err)
}

// Resume delivers the host's answer to a pending external call (value on
// success, raised on failure — exactly one should be non-zero/non-nil)
// and drives the run onward from where it suspended (spec §4.7 "the host
// resumes with either a value ... or an exception"). Calling Resume
// without a prior Pending result is a programmer error.
func (it *Interpreter) Resume(value values.Value, raised error) (Result, error) {
	v, err := it.vm.ResolveExternal(it.ctx, value, raised)
	return it.finish(v, err)
}

// finish classifies a dispatcher outcome into a Result: an *ExternalSuspend
// becomes a Pending result rather than an error, anything else unhandled
// is classified via ClassifyError as before.
func (it *Interpreter) finish(v values.Value, err error) (Result, error) {
	var suspend *vm.ExternalSuspend
	if errors.As(err, &suspend) {
		return Result{Pending: suspend.Request, DebugLog: it.ctx.DebugLog()}, nil
	}
	if err != nil {
		return Result{}, ClassifyError(err)
	}
	return Result{Value: v, DebugLog: it.ctx.DebugLog()}, nil
}

func (it *Interpreter) declaredInput(name string) bool {
	for _, n := range it.inputNames {
		if n == name {
			return true
		}
	}
	return false
}

// Collect runs an explicit garbage-collection pass over the handle's
// heap, exposed for hosts that want to reclaim cyclic garbage between
// runs (spec §9 "Collect roots" is not automatic between instructions).
func (it *Interpreter) Collect() int { return it.ctx.Collect() }

// Heap exposes the interpreter's heap, for a host that wants to inspect
// live object counts or wire its own diagnostics around a run.
func (it *Interpreter) Heap() *heap.Heap { return it.ctx.Heap }

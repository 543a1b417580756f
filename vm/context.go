// Package vm is the bytecode dispatcher: the main fetch-execute loop, the
// arithmetic/comparison/control-flow/call/exception/class instruction
// handlers, the suspendable Generator type, and the external-call
// suspension bridge for host-provided functions. Grounded on the
// teacher's vm.VirtualMachine/vm.ExecutionContext split (vm/vm.go,
// vm/context.go): the fetch-execute loop, per-instruction dispatch via a
// big switch delegating to family-specific handlers, and error
// decoration at the dispatch site are all kept in the teacher's shape.
//
// Generator and the external-call bridge types live in this package
// rather than a separate one: the teacher's own runtime/generator.go
// carries an unresolved "ARCHITECTURE NOTE" admitting that a
// runtime<->vm import cycle prevented it from calling back into the VM,
// leaving its generator a "basic simulation for testing purposes only".
// Rather than reproduce that stub, the suspendable generator here is
// defined where it can hold a real *Frame and drive the real dispatcher.
package vm

import (
	"io"
	"os"

	"github.com/wudi/serpent/accountant"
	"github.com/wudi/serpent/frame"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
)

// ExternalFunc is a host-provided function the guest program can call,
// registered by name. When one is registered for a given name,
// OP_CALL_EXTERNAL resolves it synchronously ("blocking callers implement
// it directly"); when none is registered, the dispatcher suspends
// instead, handing the host an *ExternalCallRequest to answer later via
// VM.ResolveExternal or, inside a generator, by calling Advance again
// (spec §4.7 "external-call suspension protocol").
type ExternalFunc func(args []values.Value, kwargs map[string]values.Value) (values.Value, error)

// ExecutionContext is the live state one interpreter run shares across
// every frame: the heap, the resource accountant, globals, the explicit
// call-frame stack, the output sink, and the external-function table.
// Grounded on vm.ExecutionContext (vm/context.go), trimmed of every
// PHP-specific field (superglobals, include tracking, output buffering
// levels) the guest language here has no equivalent of.
type ExecutionContext struct {
	Heap       *heap.Heap
	Accountant *accountant.Accountant

	Globals map[string]values.Value
	Stack   *frame.FrameStack

	OutputWriter io.Writer

	Externals map[string]ExternalFunc

	Halted   bool
	ExitCode int

	debugLog []string
	vm       *VM

	// activeExceptions is the stack of "currently being handled" exceptions,
	// one entry per nested except/except* block the interpreter is inside.
	// Distinct from the code object's static exception table (which drives
	// where to jump on unwind): this tracks runtime handler nesting so a
	// bare `raise` or an implicit chain can find "the exception in flight"
	// (spec §4.5).
	activeExceptions []values.Value

	// StdExceptions is the built-in exception-class hierarchy engine-
	// raised failures (division by zero, missing key, unbound name, ...)
	// are instances of, so they unwind through try/except like any guest
	// exception (spec §4.5/§7).
	StdExceptions *StdExceptionClasses

	// PendingExternal records an OP_CALL_EXTERNAL suspension this context
	// is parked on: the request the host must answer before Resume can
	// continue the frame (spec §4.7 "external-call suspension protocol").
	PendingExternal *ExternalCallRequest
}

// NewExecutionContext constructs a fresh context bound to a new heap and
// the given resource limits, mirroring vm.NewExecutionContext's
// sane-defaults constructor.
func NewExecutionContext(limits accountant.Limits) *ExecutionContext {
	return NewExecutionContextWithHeap(heap.NewHeap(), limits)
}

// NewExecutionContextWithHeap is NewExecutionContext for a caller that
// already allocated heap values before the context existed — a host
// loading a precompiled code object whose constant pool holds heap refs
// (strings, big ints) must build those against the same heap the run
// will execute under, since a Slot's accounting is tied to the *Heap
// that created it (spec's "code object is conceptually serializable"
// note: the constants travel with the heap they were interned into).
func NewExecutionContextWithHeap(h *heap.Heap, limits accountant.Limits) *ExecutionContext {
	ctx := &ExecutionContext{
		Heap:         h,
		Accountant:   accountant.New(h, limits),
		Globals:      make(map[string]values.Value),
		Stack:        frame.NewFrameStack(),
		OutputWriter: os.Stdout,
		Externals:    make(map[string]ExternalFunc),
		debugLog:     make([]string, 0, 64),
	}
	ctx.StdExceptions = buildStdExceptionClasses(ctx)
	return ctx
}

func (ctx *ExecutionContext) Close() { ctx.Accountant.Close() }

// HeapRef exposes the context's heap to packages that only know
// ExecutionContext through a narrow interface (the builtin package's
// Context, satisfied structurally so builtin need not import vm's other
// internals). Named HeapRef rather than Heap to avoid colliding with the
// exported Heap field.
func (ctx *ExecutionContext) HeapRef() *heap.Heap { return ctx.Heap }

func (ctx *ExecutionContext) recordDebug(msg string) {
	ctx.debugLog = append(ctx.debugLog, msg)
}

// DebugLog returns the accumulated ambient trace for diagnostics, in the
// same spirit as the teacher's ExecutionContext.debugLog slice.
func (ctx *ExecutionContext) DebugLog() []string { return ctx.debugLog }

// GetGlobal and SetGlobal satisfy object.Caller's sibling needs and the
// builtin package's registry.BuiltinCallContext-equivalent surface.
func (ctx *ExecutionContext) GetGlobal(name string) (values.Value, bool) {
	v, ok := ctx.Globals[name]
	return v, ok
}

func (ctx *ExecutionContext) SetGlobal(name string, v values.Value) {
	heap.Incref(v)
	if old, ok := ctx.Globals[name]; ok {
		heap.Decref(old)
	}
	ctx.Globals[name] = v
}

// WriteOutput renders a value to the active output stream the way the
// guest's print() builtin does (spec §6 "print-output sink hook").
func (ctx *ExecutionContext) WriteOutput(s string) error {
	_, err := io.WriteString(ctx.OutputWriter, s)
	return err
}

// InternString lets object-model helpers (attr.go's heapStr) turn a Go
// string into a guest string value without importing heap themselves.
func (ctx *ExecutionContext) InternString(s string) values.Value {
	return ctx.Heap.NewString(s)
}

// BindMethod lets object.GetAttr turn a plain function found on a class
// into a bound method when it is fetched off an instance, the binding
// step Python performs implicitly for every non-descriptor callable
// class attribute (spec §3.2 "method binding").
func (ctx *ExecutionContext) BindMethod(fn *heap.Slot, self values.Value) values.Value {
	return ctx.Heap.NewBoundMethod(fn, self)
}

// Roots returns every externally-reachable value for a Collect pass:
// globals plus every frame's locals, cells, and operand stack (spec §9
// "Collect roots").
func (ctx *ExecutionContext) Roots() []values.Value {
	var roots []values.Value
	for _, v := range ctx.Globals {
		roots = append(roots, v)
	}
	for _, f := range ctx.Stack.Frames() {
		roots = append(roots, f.Locals...)
		roots = append(roots, f.Stack...)
		for _, c := range f.Cells {
			if c != nil {
				roots = append(roots, values.Ref(c))
			}
		}
		for _, c := range f.Free {
			if c != nil {
				roots = append(roots, values.Ref(c))
			}
		}
	}
	return roots
}

// Collect runs the tracing cycle collector over the context's current
// roots (spec §9: "not automatic between instructions; the host invokes
// it explicitly").
func (ctx *ExecutionContext) Collect() int {
	return ctx.Heap.Collect(ctx.Roots())
}

// PushActiveException, PopActiveException, and CurrentActiveException
// manage the runtime handler-nesting stack that OP_PUSH_EXC_BLOCK/
// OP_POP_EXC_BLOCK maintain, giving bare `raise` and implicit exception
// chaining something to consult (spec §4.5).
func (ctx *ExecutionContext) PushActiveException(v values.Value) {
	heap.Incref(v)
	ctx.activeExceptions = append(ctx.activeExceptions, v)
}

func (ctx *ExecutionContext) PopActiveException() {
	n := len(ctx.activeExceptions)
	if n == 0 {
		return
	}
	heap.Decref(ctx.activeExceptions[n-1])
	ctx.activeExceptions = ctx.activeExceptions[:n-1]
}

func (ctx *ExecutionContext) CurrentActiveException() (values.Value, bool) {
	n := len(ctx.activeExceptions)
	if n == 0 {
		return values.Value{}, false
	}
	return ctx.activeExceptions[n-1], true
}

package vm

import (
	"errors"
	"fmt"

	"github.com/wudi/serpent/frame"
	"github.com/wudi/serpent/heap"
	"github.com/wudi/serpent/values"
)

// ExternalCallRequest is the request a suspended OP_CALL_EXTERNAL hands
// to the host when no synchronously-resolving ExternalFunc answers it:
// the function name plus its positional and keyword arguments (spec §4.7
// "a request to the host containing the function name, positional, and
// keyword arguments").
type ExternalCallRequest struct {
	Name   string
	Args   []values.Value
	Kwargs map[string]values.Value

	// deliver routes the host's eventual answer to wherever this call
	// actually suspended: the frame that executed OP_CALL_EXTERNAL
	// directly, bound at creation time. A call that suspends deep inside
	// a chain of "yield from" delegation is still answered here — every
	// intermediate delegator just forwards the same *ExternalCallRequest
	// upward unchanged (vm.driveYieldFrom), so the closure fixed at
	// creation is always the right one to invoke.
	deliver func(value values.Value, raised error) error
}

// ExternalSuspend is the error a run or generator step reports when it
// parks on an external call the host must answer out of band (spec
// §4.7). The host resolves it and calls VM.ResolveExternal for a
// top-level run, or Generator.Advance again for a generator suspended
// mid-body, with the answer.
type ExternalSuspend struct {
	Request *ExternalCallRequest
}

func (e *ExternalSuspend) Error() string {
	return fmt.Sprintf("external call %q is pending", e.Request.Name)
}

// asExternalSuspend recognizes a suspension that reached a dispatcher
// loop's generic error path instead of the dedicated sig==signalSuspend
// one — e.g. a Native call (the gather builtin) whose own child
// coroutine suspended on an external call and surfaced it as a plain
// returned error through the OP_CALL boundary. Both paths need to end up
// setting ctx.PendingExternal the same way before returning, so
// ResolveExternal can find the request regardless of which route
// produced it.
func asExternalSuspend(err error) (*ExternalSuspend, bool) {
	var suspend *ExternalSuspend
	if errors.As(err, &suspend) {
		return suspend, true
	}
	return nil, false
}

// settleExternal delivers a resolved external-call result (or exception)
// at the frame parked on OP_CALL_EXTERNAL: the same "push the answer past
// the suspend point" step resumeGenerator uses to deliver a sent value to
// a parked yield/await (spec §4.7 "the host resumes with either a value
// ... or an exception").
func (vm *VM) settleExternal(ctx *ExecutionContext, f *frame.Frame, req *ExternalCallRequest, value values.Value, raised error) error {
	for _, a := range req.Args {
		heap.Decref(a)
	}
	for _, v := range req.Kwargs {
		heap.Decref(v)
	}
	if raised != nil {
		if handled, herr := vm.handleException(ctx, raised); !handled {
			return vm.decorate(f, f.Code.Instructions[f.IP], raised)
		} else if herr != nil {
			return herr
		}
		return nil
	}
	f.IP++
	heap.Incref(value)
	f.Push(value)
	return nil
}

// resolveExternalSync looks up a synchronously-resolving callback for
// req.Name and, if registered, runs it immediately and settles the
// suspension without ever surfacing it to the host — the "blocking
// callers implement it directly" mode. ok is false when nothing is
// registered for req.Name, meaning the caller must suspend instead.
func (vm *VM) resolveExternalSync(ctx *ExecutionContext, req *ExternalCallRequest) (ok bool, err error) {
	fn, registered := ctx.Externals[req.Name]
	if !registered {
		return false, nil
	}
	out, callErr := fn(req.Args, req.Kwargs)
	return true, req.deliver(out, callErr)
}

// ResolveExternal continues a top-level run parked on an OP_CALL_EXTERNAL
// suspension (ctx.PendingExternal), delivering the host's answer at the
// call site and driving the dispatcher loop onward (spec §4.7).
func (vm *VM) ResolveExternal(ctx *ExecutionContext, value values.Value, raised error) (values.Value, error) {
	req := ctx.PendingExternal
	if req == nil {
		return values.Value{}, fmt.Errorf("ResolveExternal: no external call is pending")
	}
	ctx.PendingExternal = nil
	if err := req.deliver(value, raised); err != nil {
		return values.Value{}, err
	}
	return vm.loop(ctx)
}

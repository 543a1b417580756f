// Package accountant enforces the sandboxing ceilings a host sets on one
// interpreter run (spec §4.8 "Resource limits"): wall-clock duration,
// live heap memory, call-stack recursion depth, and pre-checks against
// operations whose cost is computable before they run (big-int
// exponentiation, shifts, repeats, bulk allocation). Grounded on the
// teacher's ExecutionContext timeout fields (vm/context.go: maxExecutionTime,
// context.WithCancel/WithTimeout, CheckTimeout), generalized from a single
// timeout field to the fuller limit set the spec names, and pre-check
// helpers are new (the teacher has no equivalent; it does not run
// untrusted guest code under adversarial resource pressure).
package accountant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/wudi/serpent/heap"
	"modernc.org/mathutil"
)

// Limits is the host-supplied ceiling set (spec §4.8). A zero value in any
// field means "unlimited" for that dimension, matching the teacher's
// "0 means unlimited" convention for maxExecutionTime.
type Limits struct {
	MaxDuration      time.Duration
	MaxMemoryBytes   int64
	MaxRecursionDepth int
}

// Accountant tracks one run's consumption against Limits and raises a
// BreachError the moment a ceiling is crossed.
type Accountant struct {
	limits Limits
	heap   *heap.Heap

	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	depth     int
}

// New constructs an Accountant bound to h's live-byte accounting, with a
// background context that is cancelled after limits.MaxDuration (or never,
// if MaxDuration is zero).
func New(h *heap.Heap, limits Limits) *Accountant {
	var ctx context.Context
	var cancel context.CancelFunc
	if limits.MaxDuration > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), limits.MaxDuration)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	return &Accountant{limits: limits, heap: h, ctx: ctx, cancel: cancel}
}

// Close releases the internal timer; callers should defer this once the
// run completes so the timeout goroutine does not linger.
func (a *Accountant) Close() { a.cancel() }

// BreachError reports which ceiling was exceeded, in a message rendered
// with go-humanize so memory figures read as "128 MB" rather than a raw
// byte count (spec §4.8: "breach messages are human-readable").
type BreachError struct {
	Dimension string
	Message   string
}

func (e *BreachError) Error() string { return e.Message }

// CheckDeadline returns a BreachError if the run's wall-clock budget has
// been exhausted, mirroring the teacher's CheckTimeout but using a typed
// error instead of a formatted fmt.Errorf string.
func (a *Accountant) CheckDeadline() error {
	select {
	case <-a.ctx.Done():
		if a.ctx.Err() == context.DeadlineExceeded {
			return &BreachError{
				Dimension: "duration",
				Message:   fmt.Sprintf("execution exceeded the %s time limit", a.limits.MaxDuration),
			}
		}
		return a.ctx.Err()
	default:
		return nil
	}
}

// CheckMemory returns a BreachError if the heap's live-byte estimate has
// crossed MaxMemoryBytes.
func (a *Accountant) CheckMemory() error {
	if a.limits.MaxMemoryBytes <= 0 {
		return nil
	}
	live := a.heap.LiveBytes()
	if live > a.limits.MaxMemoryBytes {
		return &BreachError{
			Dimension: "memory",
			Message: fmt.Sprintf("live heap usage %s exceeds the %s limit",
				humanize.Bytes(uint64(live)), humanize.Bytes(uint64(a.limits.MaxMemoryBytes))),
		}
	}
	return nil
}

// EnterCall increments the recursion depth and fails closed if the new
// depth would exceed MaxRecursionDepth, so the vm's call opcode can check
// before ever pushing a new frame (spec §4.8 "recursion ceiling" /
// §9 "explicit call-frame stack bounds native stack usage regardless of
// guest recursion depth").
func (a *Accountant) EnterCall() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.depth + 1
	if a.limits.MaxRecursionDepth > 0 && next > a.limits.MaxRecursionDepth {
		return &BreachError{
			Dimension: "recursion",
			Message:   fmt.Sprintf("call depth %d exceeds the %d-frame recursion limit", next, a.limits.MaxRecursionDepth),
		}
	}
	a.depth = next
	return nil
}

func (a *Accountant) ExitCall() {
	a.mu.Lock()
	if a.depth > 0 {
		a.depth--
	}
	a.mu.Unlock()
}

func (a *Accountant) Depth() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.depth
}

// PreCheckBitLength rejects an operation (exponentiation, left shift)
// whose projected result bit length would already blow the memory budget,
// before the big.Int arithmetic actually runs — a cheap guard against a
// single instruction allocating gigabytes (spec §4.8 "pre-check":
// "reject before allocating, not after").
func (a *Accountant) PreCheckBitLength(estimatedBits int64) error {
	if a.limits.MaxMemoryBytes <= 0 {
		return nil
	}
	estimatedBytes := estimatedBits / 8
	budget := mathutil.MinInt64(estimatedBytes, a.limits.MaxMemoryBytes+1)
	if budget > a.limits.MaxMemoryBytes {
		return &BreachError{
			Dimension: "memory",
			Message: fmt.Sprintf("projected result size %s would exceed the %s limit",
				humanize.Bytes(uint64(estimatedBytes)), humanize.Bytes(uint64(a.limits.MaxMemoryBytes))),
		}
	}
	return nil
}

// PreCheckRepeat rejects a sequence-repeat or bulk-allocation operation
// (e.g. list * n, str * n) whose resulting element count would overflow
// the memory budget, given a rough per-element byte cost.
func (a *Accountant) PreCheckRepeat(count int64, perElementBytes int64) error {
	if a.limits.MaxMemoryBytes <= 0 || count <= 0 {
		return nil
	}
	projected := count * mathutil.MaxInt64(perElementBytes, 1)
	if projected > a.limits.MaxMemoryBytes {
		return &BreachError{
			Dimension: "memory",
			Message: fmt.Sprintf("repeat would allocate %s, exceeding the %s limit",
				humanize.Bytes(uint64(projected)), humanize.Bytes(uint64(a.limits.MaxMemoryBytes))),
		}
	}
	return nil
}

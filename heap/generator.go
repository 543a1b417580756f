package heap

import "github.com/wudi/serpent/values"

// GeneratorState tags a generator/coroutine object's lifecycle (spec §9
// "Generators").
type GeneratorState byte

const (
	GenCreated GeneratorState = iota
	GenSuspended
	GenRunning
	GenDone
)

// Generator is the heap payload backing a suspended generator or
// coroutine object. Resuming one means driving a frame through the
// dispatcher, which only the vm package can do; rather than have heap
// import vm (or frame), the vm package supplies the driving logic as
// closures at construction time — the same "supply the behavior, not the
// dependency" seam Iterator's Roots field and object.Caller already use
// elsewhere in this engine.
type Generator struct {
	QualName string
	State    GeneratorState
	Started  bool

	// Advance resumes the generator: sent becomes the value the
	// suspended yield/await expression evaluates to (ignored on the
	// first call), or, if throwErr is non-nil, that error is raised at
	// the suspension point instead of a value being sent in. Returns the
	// next yielded/awaited value with done=false, or the body's return
	// value with done=true, or a non-nil err if the body raised past
	// every handler it owns.
	Advance func(sent values.Value, throwErr error) (value values.Value, done bool, err error)

	// Close requests early termination; a no-op once the generator has
	// already finished.
	Close func() error

	// Roots reports every value the generator's own (independent) frame
	// stack is currently holding live, so Heap.Collect can trace through
	// a suspended generator the same way it traces an active frame stack
	// (spec §9 "Collect roots").
	Roots func() []values.Value
}

func (h *Heap) NewGenerator(qualName string, advance func(values.Value, error) (values.Value, bool, error), closeFn func() error, roots func() []values.Value) values.Value {
	return h.New(KindGenerator, &Generator{
		QualName: qualName,
		State:    GenCreated,
		Advance:  advance,
		Close:    closeFn,
		Roots:    roots,
	})
}

package heap

import "github.com/wudi/serpent/values"

// Native is a host-provided callable exposed in the guest's global
// namespace (spec's built-in-types surface: print, len, hash,
// isinstance, iter, next, type, gather). Unlike Function/BoundMethod it carries
// no code object and never pushes a frame: Call runs synchronously and
// hands back its result, the same "supply the behavior as a closure"
// seam Iterator.Next and Generator.Advance already use to let heap stay
// free of a vm import.
type Native struct {
	Name string
	Call func(args []values.Value, kwargs map[string]values.Value) (values.Value, error)
}

func (h *Heap) NewNative(name string, call func(args []values.Value, kwargs map[string]values.Value) (values.Value, error)) values.Value {
	return h.New(KindNative, &Native{Name: name, Call: call})
}

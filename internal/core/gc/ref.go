package gc

import "github.com/l1jgo/objcore/internal/core/object"

// Ref is a weak, generation-checked reference to a managed object. It does
// not keep its target alive and stops resolving once the target is
// soft-killed, even if the slot is later reused.
type Ref[T object.Managed] struct {
	h object.Handle
}

// MakeRef returns a weak reference to m.
func MakeRef[T object.Managed](m T) Ref[T] {
	if !object.IsValid(m) {
		return Ref[T]{}
	}
	return Ref[T]{h: m.Base().Handle()}
}

func (r Ref[T]) Handle() object.Handle { return r.h }
func (r Ref[T]) IsZero() bool          { return r.h.IsZero() }

// Get resolves r through c.
func (r Ref[T]) Get(c *Collector) (T, bool) {
	var zero T
	if r.h.IsZero() {
		return zero, false
	}
	m, ok := c.Resolve(r.h)
	if !ok {
		return zero, false
	}
	t, ok := m.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

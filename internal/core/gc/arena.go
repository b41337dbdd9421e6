package gc

import "github.com/l1jgo/objcore/internal/core/object"

// arena maps generational handles to live objects with a slot free list.
// Slot 0 is reserved so the zero Handle never resolves.
type arena struct {
	slots       []object.Managed
	generations []uint32
	freeList    []uint32
	live        int
}

func newArena(capacity int) *arena {
	if capacity < 1 {
		capacity = 1
	}
	a := &arena{
		slots:       make([]object.Managed, 1, capacity+1),
		generations: make([]uint32, 1, capacity+1),
		freeList:    make([]uint32, 0, capacity/4),
	}
	return a
}

func (a *arena) insert(m object.Managed) object.Handle {
	a.live++
	if n := len(a.freeList); n > 0 {
		idx := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		a.slots[idx] = m
		return object.NewHandle(idx, a.generations[idx])
	}
	idx := uint32(len(a.slots))
	a.slots = append(a.slots, m)
	a.generations = append(a.generations, 0)
	return object.NewHandle(idx, 0)
}

func (a *arena) get(h object.Handle) (object.Managed, bool) {
	idx := h.Index()
	if idx == 0 || int(idx) >= len(a.slots) {
		return nil, false
	}
	if a.generations[idx] != h.Generation() || a.slots[idx] == nil {
		return nil, false
	}
	return a.slots[idx], true
}

func (a *arena) remove(h object.Handle) bool {
	if _, ok := a.get(h); !ok {
		return false // already removed (stale handle)
	}
	idx := h.Index()
	a.slots[idx] = nil
	a.generations[idx]++
	a.freeList = append(a.freeList, idx)
	a.live--
	return true
}

func (a *arena) snapshot() []object.Managed {
	out := make([]object.Managed, 0, a.live)
	for _, m := range a.slots {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

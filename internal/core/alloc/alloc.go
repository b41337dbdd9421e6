package alloc

import (
	"errors"
	"fmt"
	"math/bits"
	"reflect"
	"sort"
	"sync"
)

// ErrOutOfMemory is returned when an allocation would exceed the budget.
var ErrOutOfMemory = errors.New("alloc: out of memory")

// Allocator supplies storage for collector-managed objects. Allocate returns
// a pointer Value to a zeroed t; Free hands a pointer from Allocate back.
type Allocator interface {
	Allocate(t reflect.Type) (reflect.Value, error)
	Free(p reflect.Value)
}

// Recycler is implemented by allocators that hand freed storage out again.
// A pointer kept past Free may then alias a newer object.
type Recycler interface {
	Recycles() bool
}

// HeapAllocator allocates from the Go heap and leaves release to the runtime.
type HeapAllocator struct{}

func (HeapAllocator) Allocate(t reflect.Type) (reflect.Value, error) {
	return reflect.New(t), nil
}

func (HeapAllocator) Free(reflect.Value) {}

func (HeapAllocator) Recycles() bool { return false }

// SizeClass is an allocation size rounded up to a power of two.
type SizeClass uint32

const minClass = 16

// ClassOf returns the size class that holds size bytes.
func ClassOf(size uintptr) SizeClass {
	if size <= minClass {
		return minClass
	}
	return SizeClass(1) << bits.Len64(uint64(size-1))
}

type blockKey struct {
	t     reflect.Type
	class SizeClass
}

type blockList struct {
	free []reflect.Value
	live int
}

// BlockStats summarizes one (type, size class) free list.
type BlockStats struct {
	Type  string
	Class SizeClass
	Live  int
	Free  int
}

// BlockAllocator recycles freed blocks per (type, size class) and enforces an
// optional byte budget. Freed blocks are zeroed before reuse.
type BlockAllocator struct {
	mu       sync.Mutex
	maxBytes uint64
	inUse    uint64
	lists    map[blockKey]*blockList
}

// NewBlockAllocator creates an allocator; maxBytes of 0 means unlimited.
func NewBlockAllocator(maxBytes uint64) *BlockAllocator {
	return &BlockAllocator{
		maxBytes: maxBytes,
		lists:    make(map[blockKey]*blockList, 16),
	}
}

func (a *BlockAllocator) Allocate(t reflect.Type) (reflect.Value, error) {
	key := blockKey{t: t, class: ClassOf(t.Size())}
	cost := uint64(key.class)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.maxBytes > 0 && a.inUse+cost > a.maxBytes {
		return reflect.Value{}, fmt.Errorf("%w: %s needs %d bytes (%d of %d in use)",
			ErrOutOfMemory, t, cost, a.inUse, a.maxBytes)
	}

	l := a.lists[key]
	if l == nil {
		l = &blockList{}
		a.lists[key] = l
	}
	a.inUse += cost
	l.live++
	if n := len(l.free); n > 0 {
		p := l.free[n-1]
		l.free[n-1] = reflect.Value{}
		l.free = l.free[:n-1]
		return p, nil
	}
	return reflect.New(t), nil
}

func (a *BlockAllocator) Free(p reflect.Value) {
	if !p.IsValid() || p.Kind() != reflect.Pointer || p.IsNil() {
		return
	}
	t := p.Type().Elem()
	key := blockKey{t: t, class: ClassOf(t.Size())}

	a.mu.Lock()
	defer a.mu.Unlock()
	l := a.lists[key]
	if l == nil || l.live == 0 {
		return // not ours
	}
	p.Elem().SetZero()
	l.live--
	l.free = append(l.free, p)
	a.inUse -= uint64(key.class)
}

// Recycles reports true: freed blocks back later allocations of their type.
func (a *BlockAllocator) Recycles() bool { return true }

// InUse returns the bytes currently handed out.
func (a *BlockAllocator) InUse() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// Stats returns per-list counters sorted by type name.
func (a *BlockAllocator) Stats() []BlockStats {
	a.mu.Lock()
	out := make([]BlockStats, 0, len(a.lists))
	for k, l := range a.lists {
		out = append(out, BlockStats{Type: k.t.String(), Class: k.class, Live: l.live, Free: len(l.free)})
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

package gc

import (
	"bytes"
	"fmt"
	"reflect"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/l1jgo/objcore/internal/core/alloc"
	"github.com/l1jgo/objcore/internal/core/meta"
	"github.com/l1jgo/objcore/internal/core/object"
	"go.uber.org/zap"
)

// State is the phase of the collection state machine.
type State int32

const (
	StateIdle State = iota
	StateMarking
	StateSweeping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMarking:
		return "marking"
	case StateSweeping:
		return "sweeping"
	}
	return "unknown"
}

// Casualty identifies an object soft-killed or reclaimed during a cycle.
type Casualty struct {
	Handle object.Handle
	GUID   uuid.UUID
	Type   string
	Name   string
}

// CycleReport summarizes one call to Collect.
type CycleReport struct {
	Cycle      uint64
	Started    time.Time
	Duration   time.Duration
	Roots      int
	Marked     int
	SoftKilled int
	Reclaimed  int
	Purged     int
	Tracked    int // objects tracked after the cycle
	Killed     []Casualty
	Freed      []Casualty
}

// Option configures a Collector.
type Option func(*Collector)

func WithAllocator(a alloc.Allocator) Option { return func(c *Collector) { c.alloc = a } }
func WithMetrics(m *Metrics) Option          { return func(c *Collector) { c.metrics = m } }

// WithPurge controls whether marking clears references to soft-killed objects.
// With purging off and a recycling allocator, a reference kept past reclaim
// can point at a newer object of the same type; use Ref or Handle instead.
func WithPurge(enabled bool) Option { return func(c *Collector) { c.purge = enabled } }

// WithCapacity presizes the object arena.
func WithCapacity(n int) Option { return func(c *Collector) { c.capacity = n } }

// Collector owns every managed object created through it and reclaims those
// that become unreachable from its root set.
//
// Collect must run while no other goroutine mutates reflected reference
// fields; creating objects and testing liveness are safe at any time.
type Collector struct {
	log      *zap.Logger
	reg      *meta.Registry
	alloc    alloc.Allocator
	metrics  *Metrics
	purge    bool
	capacity int

	mu        sync.Mutex // protects objs, roots, pending and listeners
	objs      *arena
	roots     map[object.Handle]int
	pending   []object.Managed // soft-killed, reclaimed by the next cycle
	listeners []func(CycleReport)

	cycleMu sync.Mutex
	state   atomic.Int32
	cycle   atomic.Uint64
	hookG   atomic.Uint64 // goroutine running OnDestroy hooks, 0 when none
}

// New creates a collector over the types described by reg.
func New(reg *meta.Registry, log *zap.Logger, opts ...Option) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Collector{
		log:      log,
		reg:      reg,
		alloc:    alloc.HeapAllocator{},
		purge:    true,
		capacity: 1024,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.objs = newArena(c.capacity)
	c.roots = make(map[object.Handle]int, 64)
	if r, ok := c.alloc.(alloc.Recycler); ok && r.Recycles() && !c.purge {
		c.log.Warn("gc: reference purge is off with a recycling allocator; stale pointers may alias new objects")
	}
	return c
}

func (c *Collector) Registry() *meta.Registry { return c.reg }
func (c *Collector) State() State             { return State(c.state.Load()) }

// Cycle returns the number of completed or started collection cycles.
func (c *Collector) Cycle() uint64 { return c.cycle.Load() }

// OnCycle registers fn to receive the report of every completed cycle.
func (c *Collector) OnCycle(fn func(CycleReport)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Create allocates a T, runs init on it and registers it with c. It is the
// only way to obtain a managed object. On allocation failure nothing is
// registered and the error wraps alloc.ErrOutOfMemory.
func Create[T any, PT interface {
	*T
	object.Managed
}](c *Collector, init ...func(PT)) (PT, error) {
	desc := meta.Describe[T](c.reg)
	v, err := c.alloc.Allocate(desc.Type())
	if err != nil {
		var zero PT
		return zero, fmt.Errorf("create %s: %w", desc.Name(), err)
	}
	obj := PT(v.Interface().(*T))
	registered := false
	defer func() {
		if !registered {
			c.alloc.Free(v)
		}
	}()
	for _, fn := range init {
		fn(obj)
	}
	c.register(obj, desc)
	registered = true
	return obj, nil
}

// CreateType is Create for a type known only by its descriptor.
func (c *Collector) CreateType(desc *meta.TypeDescriptor) (object.Managed, error) {
	if !reflect.PointerTo(desc.Type()).Implements(object.ManagedType) {
		return nil, fmt.Errorf("create %s: type is not managed", desc.Name())
	}
	v, err := c.alloc.Allocate(desc.Type())
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", desc.Name(), err)
	}
	m := v.Interface().(object.Managed)
	c.register(m, desc)
	return m, nil
}

func (c *Collector) register(m object.Managed, desc *meta.TypeDescriptor) {
	c.mu.Lock()
	h := c.objs.insert(m)
	m.Base().Attach(h, desc, uuid.New())
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.Created.Inc()
		c.metrics.Tracked.Inc()
	}
}

// ObjectCount returns the number of tracked objects, soft-killed ones included.
func (c *Collector) ObjectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.objs.live
}

// Resolve returns the valid object behind h.
func (c *Collector) Resolve(h object.Handle) (object.Managed, bool) {
	c.mu.Lock()
	m, ok := c.objs.get(h)
	c.mu.Unlock()
	if !ok || !object.IsValid(m) {
		return nil, false
	}
	return m, true
}

// Contains reports whether m is tracked by c (soft-killed or not).
func (c *Collector) Contains(m object.Managed) bool {
	if m == nil {
		return false
	}
	c.mu.Lock()
	got, ok := c.objs.get(m.Base().Handle())
	c.mu.Unlock()
	return ok && got == m
}

// ForEach calls fn for every tracked object until fn returns false.
func (c *Collector) ForEach(fn func(object.Managed) bool) {
	c.mu.Lock()
	objs := c.objs.snapshot()
	c.mu.Unlock()
	for _, m := range objs {
		if !fn(m) {
			return
		}
	}
}

// AddRoot pins m. Pins are counted: every AddRoot needs a matching RemoveRoot.
// It returns the new pin count, or 0 when m is not a valid object of c.
func (c *Collector) AddRoot(m object.Managed) int {
	if !object.IsValid(m) {
		return 0
	}
	h := m.Base().Handle()
	c.mu.Lock()
	defer c.mu.Unlock()
	if got, ok := c.objs.get(h); !ok || got != m {
		return 0
	}
	c.roots[h]++
	c.setRootGauge()
	return c.roots[h]
}

// RemoveRoot drops one pin of m and reports whether m was pinned.
func (c *Collector) RemoveRoot(m object.Managed) bool {
	if m == nil {
		return false
	}
	h := m.Base().Handle()
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.roots[h]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(c.roots, h)
	} else {
		c.roots[h] = n - 1
	}
	c.setRootGauge()
	return true
}

// IsRoot reports whether m is currently pinned.
func (c *Collector) IsRoot(m object.Managed) bool {
	if m == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roots[m.Base().Handle()] > 0
}

// RootCount returns the number of distinct pinned objects.
func (c *Collector) RootCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.roots)
}

func (c *Collector) setRootGauge() {
	if c.metrics != nil {
		c.metrics.Roots.Set(float64(len(c.roots)))
	}
}

// Collect runs one cycle: mark everything reachable from the roots, reclaim
// objects soft-killed by earlier cycles, then soft-kill the objects found
// unreachable now. An object therefore leaves the tracked set on the second
// cycle after it became unreachable.
//
// A panic raised by an OnDestroy hook propagates to the caller. Objects
// soft-killed before the panic, and the panicking one, are still reclaimed
// by the next cycle. Collect must not be called from OnDestroy; a call from
// another goroutine while hooks run waits for the cycle to finish.
func (c *Collector) Collect() CycleReport {
	if g := c.hookG.Load(); g != 0 && g == goid() {
		panic("gc: Collect called from OnDestroy")
	}
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	defer c.state.Store(int32(StateIdle))

	start := time.Now()
	rep := CycleReport{Cycle: c.cycle.Add(1), Started: start}

	c.mu.Lock()
	objs := c.objs.snapshot()
	roots := make([]object.Managed, 0, len(c.roots))
	for h := range c.roots {
		if m, ok := c.objs.get(h); ok {
			roots = append(roots, m)
		}
	}
	previous := c.pending
	c.pending = nil
	c.mu.Unlock()
	rep.Roots = len(roots)

	c.state.Store(int32(StateMarking))
	rep.Marked, rep.Purged = c.mark(objs, roots)

	c.state.Store(int32(StateSweeping))
	c.reclaim(previous, &rep)
	c.softKill(objs, &rep)

	rep.Duration = time.Since(start)
	c.mu.Lock()
	rep.Tracked = c.objs.live
	listeners := make([]func(CycleReport), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SoftKilled.Add(float64(rep.SoftKilled))
		c.metrics.Reclaimed.Add(float64(rep.Reclaimed))
		c.metrics.Purged.Add(float64(rep.Purged))
		c.metrics.Tracked.Set(float64(rep.Tracked))
		c.metrics.Duration.Observe(rep.Duration.Seconds())
	}
	c.log.Debug("gc cycle",
		zap.Uint64("cycle", rep.Cycle),
		zap.Int("roots", rep.Roots),
		zap.Int("marked", rep.Marked),
		zap.Int("soft_killed", rep.SoftKilled),
		zap.Int("reclaimed", rep.Reclaimed),
		zap.Int("purged", rep.Purged),
		zap.Int("tracked", rep.Tracked),
		zap.Duration("took", rep.Duration),
	)
	for _, fn := range listeners {
		fn(rep)
	}
	return rep
}

// reclaim removes soft-killed objects from the arena, runs their observers
// and finalizers and hands their storage back to the allocator.
func (c *Collector) reclaim(previous []object.Managed, rep *CycleReport) {
	if len(previous) == 0 {
		return
	}
	type freed struct {
		m         object.Managed
		h         object.Handle
		observers []func(object.Handle)
	}
	batch := make([]freed, 0, len(previous))

	c.mu.Lock()
	for _, m := range previous {
		o := m.Base()
		h := o.Handle()
		if o.State() != object.StateSoftKilled || !c.objs.remove(h) {
			c.log.Warn("gc: skipping reclaim of untracked object", zap.Stringer("handle", h))
			continue
		}
		delete(c.roots, h)
		rep.Freed = append(rep.Freed, casualty(m, h))
		batch = append(batch, freed{m: m, h: h, observers: o.Detach()})
	}
	c.setRootGauge()
	c.mu.Unlock()

	for _, f := range batch {
		for _, fn := range f.observers {
			fn(f.h)
		}
		if fin, ok := f.m.(object.Finalizer); ok {
			fin.Finalize()
		}
		c.alloc.Free(reflect.ValueOf(f.m))
	}
	rep.Reclaimed = len(batch)
}

// softKill runs OnDestroy on every unmarked object of the cycle snapshot and
// tags it soft-killed. Objects created by the hooks are not in the snapshot
// and survive this cycle.
func (c *Collector) softKill(objs []object.Managed, rep *CycleReport) {
	var killed []object.Managed
	defer func() {
		c.hookG.Store(0)
		c.mu.Lock()
		c.pending = append(c.pending, killed...)
		c.mu.Unlock()
	}()

	for _, m := range objs {
		o := m.Base()
		if o.IsMarked() || !o.BeginDestroy() {
			continue
		}
		if killed == nil {
			c.hookG.Store(goid())
		}
		killed = append(killed, m)
		rep.Killed = append(rep.Killed, casualty(m, o.Handle()))
		c.destroy(m)
		rep.SoftKilled++
	}
}

func (c *Collector) destroy(m object.Managed) {
	defer m.Base().EndDestroy()
	m.OnDestroy()
}

// goid returns the id of the calling goroutine, parsed from the
// "goroutine N [" header of its stack trace.
func goid() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

func casualty(m object.Managed, h object.Handle) Casualty {
	o := m.Base()
	cs := Casualty{Handle: h, GUID: o.GUID(), Name: o.Name()}
	if d := o.Type(); d != nil {
		cs.Type = d.Name()
	}
	return cs
}

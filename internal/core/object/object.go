package object

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/l1jgo/objcore/internal/core/meta"
)

// State is the lifecycle stage of a managed object.
type State int32

const (
	StateAlive      State = iota // reachable or not yet examined
	StateDestroying              // OnDestroy is running
	StateSoftKilled              // OnDestroy done, storage still held by the collector
	StateReclaimed               // removed from the collector and returned to the allocator
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateDestroying:
		return "destroying"
	case StateSoftKilled:
		return "soft-killed"
	case StateReclaimed:
		return "reclaimed"
	}
	return "unknown"
}

// Managed is implemented by every collector-owned object, normally by
// embedding Object. Types override OnDestroy to release what they own.
type Managed interface {
	Base() *Object
	OnDestroy()
}

// Finalizer is optionally implemented by managed types that need to release
// external resources when their storage is reclaimed.
type Finalizer interface {
	Finalize()
}

// ManagedType is the marker interface handed to meta.NewRegistry.
var ManagedType = reflect.TypeFor[Managed]()

// Object is the common base of collector-owned objects. Embed it by value as
// the first field; never copy it after the object is registered.
type Object struct {
	handle    atomic.Uint64
	guid      uuid.UUID
	desc      *meta.TypeDescriptor
	state     atomic.Int32
	marked    atomic.Bool
	destroyed atomic.Bool // Destroy requested

	mu        sync.Mutex
	name      string
	observers []func(Handle)
}

func (o *Object) Base() *Object { return o }

// OnDestroy runs once when the collector finds the object unreachable.
func (o *Object) OnDestroy() {}

func (o *Object) Handle() Handle                  { return Handle(o.handle.Load()) }
func (o *Object) GUID() uuid.UUID                 { return o.guid }
func (o *Object) Type() *meta.TypeDescriptor      { return o.desc }
func (o *Object) State() State                    { return State(o.state.Load()) }
func (o *Object) IsMarked() bool                  { return o.marked.Load() }
func (o *Object) IsPendingKill() bool             { return o.State() >= StateSoftKilled }
func (o *Object) IsDestroyRequested() bool        { return o.destroyed.Load() }
func (o *Object) IsRegistered() bool              { return o.handle.Load() != 0 }
func (o *Object) typeName() string {
	if o.desc == nil {
		return ""
	}
	return o.desc.Name()
}

func (o *Object) Name() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.name == "" {
		return o.typeName()
	}
	return o.name
}

func (o *Object) SetName(name string) {
	o.mu.Lock()
	o.name = name
	o.mu.Unlock()
}

// Destroy asks the collector to treat the object as unreachable on its next
// cycle even if references to it remain. Memory is not released immediately.
func (o *Object) Destroy() {
	o.destroyed.Store(true)
}

// AddDestroyObserver registers fn to run when the object's storage is reclaimed.
func (o *Object) AddDestroyObserver(fn func(Handle)) {
	o.mu.Lock()
	o.observers = append(o.observers, fn)
	o.mu.Unlock()
}

// The methods below are driven by the collector.

// Attach binds a freshly allocated object to its collector slot.
func (o *Object) Attach(h Handle, desc *meta.TypeDescriptor, guid uuid.UUID) {
	o.desc = desc
	o.guid = guid
	o.state.Store(int32(StateAlive))
	o.handle.Store(uint64(h))
}

func (o *Object) ClearMark() { o.marked.Store(false) }

// TryMark sets the mark flag and reports whether it was previously clear.
func (o *Object) TryMark() bool { return o.marked.CompareAndSwap(false, true) }

// BeginDestroy moves an alive object to StateDestroying. Only the caller that
// wins the transition may run OnDestroy.
func (o *Object) BeginDestroy() bool {
	return o.state.CompareAndSwap(int32(StateAlive), int32(StateDestroying))
}

// EndDestroy tags the object soft-killed.
func (o *Object) EndDestroy() {
	o.state.Store(int32(StateSoftKilled))
}

// Detach unbinds the object from its slot and returns its destroy observers.
func (o *Object) Detach() []func(Handle) {
	o.state.Store(int32(StateReclaimed))
	o.handle.Store(0)
	o.mu.Lock()
	defer o.mu.Unlock()
	obs := o.observers
	o.observers = nil
	return obs
}

// IsValid reports whether m may still be dereferenced: it is non-nil,
// registered with a collector and not soft-killed.
func IsValid(m Managed) bool {
	if m == nil {
		return false
	}
	if v := reflect.ValueOf(m); v.Kind() == reflect.Pointer && v.IsNil() {
		return false
	}
	o := m.Base()
	return o.IsRegistered() && o.State() < StateSoftKilled
}

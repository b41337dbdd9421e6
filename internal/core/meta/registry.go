package meta

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Registry owns the type descriptors of one engine instance.
// Descriptors are created on first request and never replaced afterwards.
type Registry struct {
	managed reflect.Type // interface implemented by collector-owned objects

	mu     sync.RWMutex
	byType map[reflect.Type]*TypeDescriptor
	byHash map[uint64]*TypeDescriptor
	byName map[string]*TypeDescriptor
}

// NewRegistry creates an empty registry. managed is the interface type that
// marks collector-owned objects; properties whose elements implement it are
// reported as managed references. A nil managed type disables that detection.
func NewRegistry(managed reflect.Type) *Registry {
	if managed != nil && managed.Kind() != reflect.Interface {
		panic(fmt.Sprintf("meta: managed marker %s is not an interface type", managed))
	}
	return &Registry{
		managed: managed,
		byType:  make(map[reflect.Type]*TypeDescriptor, 64),
		byHash:  make(map[uint64]*TypeDescriptor, 64),
		byName:  make(map[string]*TypeDescriptor, 64),
	}
}

// Managed returns the marker interface for collector-owned objects.
func (r *Registry) Managed() reflect.Type { return r.managed }

// Describe returns the descriptor for T, creating it on first use.
func Describe[T any](r *Registry) *TypeDescriptor {
	return r.DescribeType(reflect.TypeFor[T]())
}

// Register describes T and adds every eligible struct field as a property.
// Calling it again is harmless: already registered fields are skipped.
func Register[T any](r *Registry) *TypeDescriptor {
	d := Describe[T](r)
	d.AddAllFields()
	return d
}

// DescribeType returns the descriptor for t (or *t), creating it on first use.
// Concurrent callers for the same type all observe the first stored descriptor.
func (r *Registry) DescribeType(t reflect.Type) *TypeDescriptor {
	if t == nil {
		panic("meta: DescribeType(nil)")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("meta: cannot describe non-struct type %s", t))
	}

	r.mu.RLock()
	d := r.byType[t]
	r.mu.RUnlock()
	if d != nil {
		return d
	}

	// The base is described first, outside the lock, so recursion never
	// re-enters a held mutex.
	baseIndex := -1
	var base *TypeDescriptor
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			baseIndex = i
			base = r.DescribeType(f.Type)
			break
		}
	}

	candidate := newTypeDescriptor(r, t, base, baseIndex)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.byType[t]; existing != nil {
		return existing
	}
	if other := r.byHash[candidate.hash]; other != nil {
		panic(fmt.Sprintf("meta: hash collision between %s and %s", other.fullName, candidate.fullName))
	}
	r.byType[t] = candidate
	r.byHash[candidate.hash] = candidate
	if _, taken := r.byName[candidate.name]; !taken {
		r.byName[candidate.name] = candidate
	}
	return candidate
}

// Lookup finds a descriptor by its stable hash.
func (r *Registry) Lookup(hash uint64) (*TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byHash[hash]
	return d, ok
}

// LookupName finds a descriptor by short type name (e.g. "GameObject").
// When two packages register the same short name the first one wins.
func (r *Registry) LookupName(name string) (*TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Types returns a snapshot of every registered descriptor (order unspecified).
func (r *Registry) Types() []*TypeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*TypeDescriptor, 0, len(r.byType))
	for _, d := range r.byType {
		out = append(out, d)
	}
	return out
}

// Count returns the number of registered descriptors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType)
}

// isManaged reports whether values of t may reference collector-owned
// objects. Any interface type qualifies, since an any or a narrower interface
// can hold a managed pointer; the dynamic value decides at trace time.
func (r *Registry) isManaged(t reflect.Type) bool {
	if r.managed == nil || t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Pointer:
		return t.Implements(r.managed)
	case reflect.Interface:
		return true
	}
	return false
}

// StableHash derives the identity hash for a fully qualified type name.
// It depends only on the name, so it is stable across builds and plugins.
func StableHash(fullName string) uint64 {
	sum := blake2b.Sum256([]byte(fullName))
	return binary.LittleEndian.Uint64(sum[:8])
}

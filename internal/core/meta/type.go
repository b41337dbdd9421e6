package meta

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	ErrDuplicateProperty = errors.New("meta: duplicate property")
	ErrUnknownField      = errors.New("meta: unknown field")
)

// TypeDescriptor is the runtime description of one reflected struct type.
type TypeDescriptor struct {
	name      string
	fullName  string
	size      uintptr
	hash      uint64
	rtype     reflect.Type
	base      *TypeDescriptor
	baseIndex int // field index of the embedded base, -1 when there is none
	registry  *Registry

	mu     sync.RWMutex
	props  []*PropertyDescriptor
	byName map[string]*PropertyDescriptor
}

func newTypeDescriptor(r *Registry, t reflect.Type, base *TypeDescriptor, baseIndex int) *TypeDescriptor {
	full := t.PkgPath() + "." + t.Name()
	return &TypeDescriptor{
		name:      Intern(t.Name()),
		fullName:  Intern(full),
		size:      t.Size(),
		hash:      StableHash(full),
		rtype:     t,
		base:      base,
		baseIndex: baseIndex,
		registry:  r,
		byName:    make(map[string]*PropertyDescriptor),
	}
}

func (d *TypeDescriptor) Name() string       { return d.name }
func (d *TypeDescriptor) FullName() string   { return d.fullName }
func (d *TypeDescriptor) Size() uintptr      { return d.size }
func (d *TypeDescriptor) Hash() uint64       { return d.hash }
func (d *TypeDescriptor) Type() reflect.Type { return d.rtype }
func (d *TypeDescriptor) Base() *TypeDescriptor {
	return d.base
}

func (d *TypeDescriptor) String() string {
	return fmt.Sprintf("%s#%016x", d.fullName, d.hash)
}

// IsA reports whether d is other or derives from it. Identity is decided by
// hash so descriptors built by separately loaded modules still compare equal.
func (d *TypeDescriptor) IsA(other *TypeDescriptor) bool {
	if other == nil {
		return false
	}
	for t := d; t != nil; t = t.base {
		if t.hash == other.hash {
			return true
		}
	}
	return false
}

// AddProperty registers p on d. It returns false, dropping p, when a property
// with the same name already exists or p belongs to another type.
func (d *TypeDescriptor) AddProperty(p *PropertyDescriptor) bool {
	if p == nil || p.owner != d.rtype {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.byName[p.name]; dup {
		return false
	}
	d.byName[p.name] = p
	d.props = append(d.props, p)
	return true
}

// AddField builds a property from the struct field called name and registers it.
func (d *TypeDescriptor) AddField(name string) (*PropertyDescriptor, error) {
	sf, ok := d.rtype.FieldByName(name)
	if !ok || len(sf.Index) != 1 {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, d.name, name)
	}
	p := newProperty(d.registry, d.rtype, sf)
	if !d.AddProperty(p) {
		return nil, fmt.Errorf("%w: %s.%s", ErrDuplicateProperty, d.name, name)
	}
	return p, nil
}

// AddAllFields registers every direct field except the embedded base, blank
// fields and fields tagged `gc:"-"`. It returns the number of new properties.
func (d *TypeDescriptor) AddAllFields() int {
	added := 0
	for i := 0; i < d.rtype.NumField(); i++ {
		sf := d.rtype.Field(i)
		if i == d.baseIndex || sf.Name == "_" || sf.Tag.Get("gc") == "-" {
			continue
		}
		if d.AddProperty(newProperty(d.registry, d.rtype, sf)) {
			added++
		}
	}
	return added
}

// Properties returns the properties declared directly on d, in registration order.
func (d *TypeDescriptor) Properties() []*PropertyDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*PropertyDescriptor, len(d.props))
	copy(out, d.props)
	return out
}

// AllProperties returns the properties of the whole base chain, base first.
func (d *TypeDescriptor) AllProperties() []*PropertyDescriptor {
	var out []*PropertyDescriptor
	if d.base != nil {
		out = d.base.AllProperties()
	}
	return append(out, d.Properties()...)
}

// Property finds a property by name on d or, failing that, its base chain.
func (d *TypeDescriptor) Property(name string) (*PropertyDescriptor, bool) {
	for t := d; t != nil; t = t.base {
		t.mu.RLock()
		p, ok := t.byName[name]
		t.mu.RUnlock()
		if ok {
			return p, true
		}
	}
	return nil, false
}

// Walk calls fn for every property of the base chain (base first) together
// with the struct value that owns it. instance must be a pointer to a value
// of d's type, or an addressable reflect.Value of it. Returning false from fn
// stops the walk.
func (d *TypeDescriptor) Walk(instance any, fn func(p *PropertyDescriptor, owner reflect.Value) bool) {
	v := indirect(instance)
	if v.Type() != d.rtype {
		panic(fmt.Sprintf("meta: Walk of %s on a %s", d.name, v.Type()))
	}
	d.walk(v, fn)
}

func (d *TypeDescriptor) walk(v reflect.Value, fn func(*PropertyDescriptor, reflect.Value) bool) bool {
	if d.base != nil {
		if !d.base.walk(v.Field(d.baseIndex), fn) {
			return false
		}
	}
	for _, p := range d.Properties() {
		if !fn(p, v) {
			return false
		}
	}
	return true
}

// indirect unwraps pointers and interfaces down to the struct value.
func indirect(instance any) reflect.Value {
	v, ok := instance.(reflect.Value)
	if !ok {
		v = reflect.ValueOf(instance)
	}
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			panic("meta: nil instance")
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		panic("meta: invalid instance")
	}
	return v
}

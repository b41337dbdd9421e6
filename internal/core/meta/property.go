package meta

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"
)

var ErrNotAssignable = errors.New("meta: value not assignable")

// PropertyFlags describe the shape of a property's declared type.
type PropertyFlags uint8

const (
	FlagPointer   PropertyFlags = 1 << iota // field or leaf element is a pointer or interface
	FlagManaged                             // some element or key references a collector-owned object
	FlagContainer                           // slice, array or map
	FlagConstant                            // tagged `gc:"const"`; never modified through metadata
)

// PropertyDescriptor describes one field of a reflected type.
type PropertyDescriptor struct {
	name  string
	owner reflect.Type
	index int
	typ   reflect.Type
	leaf  reflect.Type
	depth int
	flags PropertyFlags
	reg   *Registry
}

func newProperty(r *Registry, owner reflect.Type, sf reflect.StructField) *PropertyDescriptor {
	p := &PropertyDescriptor{
		name:  Intern(sf.Name),
		owner: owner,
		index: sf.Index[0],
		typ:   sf.Type,
		reg:   r,
	}

	managed := false
	t := sf.Type
loop:
	for {
		switch t.Kind() {
		case reflect.Slice, reflect.Array:
			p.depth++
			t = t.Elem()
		case reflect.Map:
			p.depth++
			managed = managed || r.isManaged(t.Key())
			t = t.Elem()
		default:
			break loop
		}
	}
	p.leaf = t
	managed = managed || r.isManaged(t)

	if p.depth > 0 {
		p.flags |= FlagContainer
	}
	if t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface {
		p.flags |= FlagPointer
	}
	if managed {
		p.flags |= FlagManaged
	}
	if sf.Tag.Get("gc") == "const" {
		p.flags |= FlagConstant
	}
	return p
}

func (p *PropertyDescriptor) Name() string        { return p.name }
func (p *PropertyDescriptor) Owner() reflect.Type { return p.owner }
func (p *PropertyDescriptor) Type() reflect.Type  { return p.typ }

// ElemType is the innermost element type; for maps it is the mapped value type.
func (p *PropertyDescriptor) ElemType() reflect.Type { return p.leaf }
func (p *PropertyDescriptor) Flags() PropertyFlags   { return p.flags }
func (p *PropertyDescriptor) IsPointer() bool        { return p.flags&FlagPointer != 0 }
func (p *PropertyDescriptor) IsManaged() bool        { return p.flags&FlagManaged != 0 }
func (p *PropertyDescriptor) IsContainer() bool      { return p.flags&FlagContainer != 0 }
func (p *PropertyDescriptor) IsConstant() bool       { return p.flags&FlagConstant != 0 }

// NestingDepth is the number of container levels wrapping the leaf element.
func (p *PropertyDescriptor) NestingDepth() int { return p.depth }

func (p *PropertyDescriptor) String() string {
	return fmt.Sprintf("%s.%s (%s)", p.owner.Name(), p.name, p.typ)
}

// Field returns the settable field value inside owner, which must be an
// addressable struct of the owning type. Unexported fields are exposed.
func (p *PropertyDescriptor) Field(owner reflect.Value) reflect.Value {
	f := owner.Field(p.index)
	if !f.CanSet() && f.CanAddr() {
		f = reflect.NewAt(f.Type(), unsafe.Pointer(f.UnsafeAddr())).Elem()
	}
	return f
}

// Get returns the field value on instance. instance is a pointer to the owning
// struct or to a struct embedding it, or an addressable reflect.Value of one.
func (p *PropertyDescriptor) Get(instance any) reflect.Value {
	return p.Field(p.ownerValue(instance))
}

// Set assigns v to the field on instance.
func (p *PropertyDescriptor) Set(instance any, v reflect.Value) error {
	if p.IsConstant() {
		return fmt.Errorf("%w: %s", ErrConstant, p)
	}
	f := p.Get(instance)
	if !v.IsValid() {
		f.SetZero()
		return nil
	}
	if !v.Type().AssignableTo(f.Type()) {
		return fmt.Errorf("%w: %s to %s", ErrNotAssignable, v.Type(), p)
	}
	f.Set(v)
	return nil
}

// Begin returns an iterator over the property's elements on instance. For a
// non-container property the iterator is already finished.
func (p *PropertyDescriptor) Begin(instance any) Iterator {
	return p.BeginValue(p.ownerValue(instance))
}

// End returns the finished iterator for the same container Begin walks.
func (p *PropertyDescriptor) End(instance any) Iterator {
	it := p.Begin(instance)
	it.pos = it.length()
	return it
}

// BeginValue is Begin on an already located owner struct.
func (p *PropertyDescriptor) BeginValue(owner reflect.Value) Iterator {
	if !p.IsContainer() {
		return Iterator{prop: p}
	}
	return newIterator(p, p.Field(owner), p.depth, nil)
}

// Link adds target to the property: a pointer field is assigned, a slice is
// appended to, the first empty slot of an array is filled and a set-like map
// (map[T]struct{} or map[T]bool) gets target as a key.
func (p *PropertyDescriptor) Link(instance any, target reflect.Value) error {
	if p.IsConstant() {
		return fmt.Errorf("%w: %s", ErrConstant, p)
	}
	f := p.Get(instance)
	switch f.Kind() {
	case reflect.Pointer, reflect.Interface:
		if !target.Type().AssignableTo(f.Type()) {
			return fmt.Errorf("%w: %s to %s", ErrNotAssignable, target.Type(), p)
		}
		f.Set(target)
		return nil
	case reflect.Slice:
		if p.depth != 1 || !target.Type().AssignableTo(f.Type().Elem()) {
			break
		}
		f.Set(reflect.Append(f, target))
		return nil
	case reflect.Array:
		if p.depth != 1 || !target.Type().AssignableTo(f.Type().Elem()) {
			break
		}
		for i := 0; i < f.Len(); i++ {
			if f.Index(i).IsZero() {
				f.Index(i).Set(target)
				return nil
			}
		}
		return fmt.Errorf("%w: %s is full", ErrNotAssignable, p)
	case reflect.Map:
		mt := f.Type()
		if p.depth != 1 || !target.Type().AssignableTo(mt.Key()) {
			break
		}
		var val reflect.Value
		switch mt.Elem().Kind() {
		case reflect.Struct:
			if mt.Elem().NumField() != 0 {
				return fmt.Errorf("%w: %s is not a set", ErrNotAssignable, p)
			}
			val = reflect.New(mt.Elem()).Elem()
		case reflect.Bool:
			val = reflect.ValueOf(true).Convert(mt.Elem())
		default:
			return fmt.Errorf("%w: %s is not a set", ErrNotAssignable, p)
		}
		if f.IsNil() {
			f.Set(reflect.MakeMap(mt))
		}
		f.SetMapIndex(target, val)
		return nil
	}
	return fmt.Errorf("%w: %s to %s", ErrNotAssignable, target.Type(), p)
}

// Unlink removes every occurrence of target from the property at any nesting
// depth and returns how many references were dropped.
func (p *PropertyDescriptor) Unlink(instance any, target reflect.Value) int {
	if p.IsConstant() {
		return 0
	}
	owner := p.ownerValue(instance)
	if !p.IsContainer() {
		f := p.Field(owner)
		if sameRef(f, target) {
			f.SetZero()
			return 1
		}
		return 0
	}
	it := p.BeginValue(owner)
	return unlinkLevel(&it, target)
}

func unlinkLevel(it *Iterator, target reflect.Value) int {
	n := 0
	for !it.Done() {
		if it.IsPair() && sameRef(it.First(), target) {
			if it.Erase() == nil {
				n++
				continue
			}
		}
		if it.Depth() > 1 {
			nested := it.Nested()
			n += unlinkLevel(&nested, target)
			it.Next()
			continue
		}
		v := it.Value()
		if sameRef(v, target) && it.Erase() == nil {
			n++
			continue
		}
		it.Next()
	}
	return n
}

func sameRef(v, target reflect.Value) bool {
	if !v.IsValid() || !target.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return false
		}
	default:
		return false
	}
	return v.Interface() == target.Interface()
}

func (p *PropertyDescriptor) ownerValue(instance any) reflect.Value {
	v := indirect(instance)
	o, ok := locate(v, p.owner)
	if !ok {
		panic(fmt.Sprintf("meta: %s has no %s to read %s from", v.Type(), p.owner, p.name))
	}
	return o
}

// locate finds the struct of type t inside v by following embedded fields.
func locate(v reflect.Value, t reflect.Type) (reflect.Value, bool) {
	if v.Type() == t {
		return v, true
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	vt := v.Type()
	for i := 0; i < vt.NumField(); i++ {
		if f := vt.Field(i); f.Anonymous && f.Type.Kind() == reflect.Struct {
			if o, ok := locate(v.Field(i), t); ok {
				return o, true
			}
		}
	}
	return reflect.Value{}, false
}

package meta

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrNotErasable = errors.New("meta: element cannot be erased")
	ErrConstant    = errors.New("meta: property is constant")
)

type iterKind uint8

const (
	iterEmpty iterKind = iota
	iterSlice
	iterArray
	iterMap
)

// Iterator is a cursor over one container level of a property on one live
// instance. It is a plain value: copying it (or calling Clone) duplicates the
// cursor without touching the container. An Iterator must not outlive the
// instance it was created from.
type Iterator struct {
	prop   *PropertyDescriptor
	kind   iterKind
	depth  int           // container levels from this one down to the leaf
	c      reflect.Value // container, always settable
	keys   []reflect.Value
	pos    int
	commit func() // publishes edits when c is a copy of a map value
}

func newIterator(p *PropertyDescriptor, c reflect.Value, depth int, commit func()) Iterator {
	it := Iterator{prop: p, depth: depth, c: c, commit: commit}
	switch c.Kind() {
	case reflect.Slice:
		it.kind = iterSlice
	case reflect.Array:
		it.kind = iterArray
	case reflect.Map:
		it.kind = iterMap
		it.keys = c.MapKeys()
	default:
		it.kind = iterEmpty
		it.depth = 0
	}
	return it
}

func (it *Iterator) length() int {
	switch it.kind {
	case iterSlice, iterArray:
		return it.c.Len()
	case iterMap:
		return len(it.keys)
	}
	return 0
}

// Property returns the property the iterator walks.
func (it *Iterator) Property() *PropertyDescriptor { return it.prop }

// Depth is the number of container levels from this iterator to the leaf.
// Elements of a depth-1 iterator are leaves.
func (it *Iterator) Depth() int { return it.depth }

// Done reports whether the iterator is at the end of its range.
func (it *Iterator) Done() bool { return it.pos >= it.length() }

// Equal reports whether both iterators denote the same position of the same
// container. Two finished iterators of one property are always equal.
func (it *Iterator) Equal(o Iterator) bool {
	if it.prop != o.prop {
		return false
	}
	if it.Done() && o.Done() {
		return true
	}
	return it.kind == o.kind && it.pos == o.pos && sameContainer(it.c, o.c)
}

// Next advances to the following element.
func (it *Iterator) Next() {
	it.mustHave("Next")
	it.pos++
}

// Value returns the current element. For maps it is the mapped value.
func (it *Iterator) Value() reflect.Value {
	it.mustHave("Value")
	if it.kind == iterMap {
		return it.c.MapIndex(it.keys[it.pos])
	}
	return it.c.Index(it.pos)
}

// IsConst reports whether the current element must not be modified.
func (it *Iterator) IsConst() bool {
	return it.prop == nil || it.prop.IsConstant()
}

// IsPair reports whether elements are key/value pairs.
func (it *Iterator) IsPair() bool { return it.kind == iterMap }

// First returns the key of the current pair, or the zero Value for non-pairs.
func (it *Iterator) First() reflect.Value {
	if it.kind != iterMap {
		return reflect.Value{}
	}
	it.mustHave("First")
	return it.keys[it.pos]
}

// Second returns the value of the current pair, or the zero Value for non-pairs.
func (it *Iterator) Second() reflect.Value {
	if it.kind != iterMap {
		return reflect.Value{}
	}
	it.mustHave("Second")
	return it.c.MapIndex(it.keys[it.pos])
}

// Clone returns an independent copy of the cursor.
func (it *Iterator) Clone() Iterator { return *it }

// Nested returns an iterator over the current element's own container. It is
// finished immediately when the iterator is at depth 1 or already done.
func (it *Iterator) Nested() Iterator {
	if it.depth <= 1 || it.Done() {
		return Iterator{prop: it.prop}
	}
	switch it.kind {
	case iterSlice, iterArray:
		return newIterator(it.prop, it.c.Index(it.pos), it.depth-1, it.commit)
	case iterMap:
		key := it.keys[it.pos]
		val := it.c.MapIndex(key)
		cp := reflect.New(val.Type()).Elem()
		cp.Set(val)
		parent := it.c
		up := it.commit
		return newIterator(it.prop, cp, it.depth-1, func() {
			parent.SetMapIndex(key, cp)
			if up != nil {
				up()
			}
		})
	}
	return Iterator{prop: it.prop}
}

// Erase removes the current element and leaves the iterator on the element
// after it. Slices shrink and maps drop the entry. Arrays cannot shrink, so an
// element referencing a managed object is cleared in place instead; any other
// array element yields ErrNotErasable.
func (it *Iterator) Erase() error {
	it.mustHave("Erase")
	if it.IsConst() {
		return fmt.Errorf("%w: %s", ErrConstant, it.prop)
	}
	return it.erase()
}

// Drop is Erase without the constant check. Constant properties only refuse
// edits made through metadata; the owner of the graph still drops references
// to objects that no longer exist.
func (it *Iterator) Drop() error {
	it.mustHave("Drop")
	return it.erase()
}

func (it *Iterator) erase() error {
	switch it.kind {
	case iterSlice:
		n := it.c.Len()
		reflect.Copy(it.c.Slice(it.pos, n), it.c.Slice(it.pos+1, n))
		it.c.Index(n - 1).SetZero()
		it.c.SetLen(n - 1)
	case iterMap:
		it.c.SetMapIndex(it.keys[it.pos], reflect.Value{})
		it.pos++
	case iterArray:
		if it.depth != 1 || !it.prop.reg.isManaged(it.c.Type().Elem()) {
			return fmt.Errorf("%w: %s", ErrNotErasable, it.prop)
		}
		it.c.Index(it.pos).SetZero()
		it.pos++
	}
	if it.commit != nil {
		it.commit()
	}
	return nil
}

func (it *Iterator) mustHave(op string) {
	if it.Done() {
		name := "<nil>"
		if it.prop != nil {
			name = it.prop.String()
		}
		panic(fmt.Sprintf("meta: %s on finished iterator of %s", op, name))
	}
}

func sameContainer(a, b reflect.Value) bool {
	if !a.IsValid() || !b.IsValid() || a.Type() != b.Type() {
		return false
	}
	switch a.Kind() {
	case reflect.Slice, reflect.Map:
		return a.Pointer() == b.Pointer()
	case reflect.Array:
		if a.CanAddr() && b.CanAddr() {
			return a.UnsafeAddr() == b.UnsafeAddr()
		}
	}
	return false
}

package gc

import (
	"reflect"

	"github.com/l1jgo/objcore/internal/core/meta"
	"github.com/l1jgo/objcore/internal/core/object"
)

// mark clears every mark flag of the snapshot and marks what the roots reach.
// Soft-killed and destroy-requested objects are neither marked nor traced.
func (c *Collector) mark(objs, roots []object.Managed) (marked, purged int) {
	for _, m := range objs {
		m.Base().ClearMark()
	}
	work := make([]object.Managed, 0, len(roots)+64)
	work = append(work, roots...)
	for len(work) > 0 {
		m := work[len(work)-1]
		work[len(work)-1] = nil
		work = work[:len(work)-1]

		o := m.Base()
		if !traceable(o) || !o.TryMark() {
			continue
		}
		marked++
		purged += c.scan(m, func(ref object.Managed) { work = append(work, ref) })
	}
	return marked, purged
}

func traceable(o *object.Object) bool {
	return o.IsRegistered() && o.State() == object.StateAlive && !o.IsDestroyRequested()
}

func stale(o *object.Object) bool {
	return !o.IsRegistered() || o.State() >= object.StateSoftKilled
}

// scan reports every live managed reference held by m to visit. When purging
// is enabled, references to soft-killed or reclaimed objects are cleared and
// counted in the result. Constant properties are purged as well.
func (c *Collector) scan(m object.Managed, visit func(object.Managed)) int {
	desc := m.Base().Type()
	if desc == nil {
		return 0
	}
	purged := 0
	desc.Walk(m, func(p *meta.PropertyDescriptor, owner reflect.Value) bool {
		if !p.IsManaged() {
			return true
		}
		if !p.IsContainer() {
			f := p.Field(owner)
			ref, ok := asManaged(f)
			if !ok {
				return true
			}
			if stale(ref.Base()) {
				if c.purge {
					f.SetZero()
					purged++
				}
				return true
			}
			visit(ref)
			return true
		}
		it := p.BeginValue(owner)
		purged += c.scanLevel(&it, visit)
		return true
	})
	return purged
}

// scanLevel walks one container level, recursing into nested levels.
func (c *Collector) scanLevel(it *meta.Iterator, visit func(object.Managed)) int {
	purged := 0
	for !it.Done() {
		dead := false
		if it.IsPair() {
			dead = c.visitValue(it.First(), visit)
		}
		if !dead {
			if it.Depth() > 1 {
				nested := it.Nested()
				purged += c.scanLevel(&nested, visit)
			} else {
				dead = c.visitValue(it.Value(), visit)
			}
		}
		if dead && c.purge {
			if err := it.Drop(); err == nil {
				purged++
				continue
			}
		}
		it.Next()
	}
	return purged
}

// visitValue reports a live managed reference to visit and returns true when
// v references a dead object.
func (c *Collector) visitValue(v reflect.Value, visit func(object.Managed)) bool {
	ref, ok := asManaged(v)
	if !ok {
		return false
	}
	if stale(ref.Base()) {
		return true
	}
	visit(ref)
	return false
}

func asManaged(v reflect.Value) (object.Managed, bool) {
	if !v.IsValid() {
		return nil, false
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, false
	}
	m, ok := v.Interface().(object.Managed)
	return m, ok
}

// References returns the managed objects m references directly, without
// modifying m. Dead references are skipped.
func (c *Collector) References(m object.Managed) []object.Managed {
	var out []object.Managed
	desc := m.Base().Type()
	if desc == nil {
		return nil
	}
	keep := func(ref object.Managed) { out = append(out, ref) }
	desc.Walk(m, func(p *meta.PropertyDescriptor, owner reflect.Value) bool {
		if !p.IsManaged() {
			return true
		}
		if !p.IsContainer() {
			if ref, ok := asManaged(p.Field(owner)); ok && !stale(ref.Base()) {
				keep(ref)
			}
			return true
		}
		it := p.BeginValue(owner)
		collectLevel(&it, keep)
		return true
	})
	return out
}

func collectLevel(it *meta.Iterator, keep func(object.Managed)) {
	for ; !it.Done(); it.Next() {
		if it.IsPair() {
			if ref, ok := asManaged(it.First()); ok && !stale(ref.Base()) {
				keep(ref)
			}
		}
		if it.Depth() > 1 {
			nested := it.Nested()
			collectLevel(&nested, keep)
			continue
		}
		if ref, ok := asManaged(it.Value()); ok && !stale(ref.Base()) {
			keep(ref)
		}
	}
}

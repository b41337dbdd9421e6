package meta

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type marker interface{ tracked() }

type item struct{ id int }

func (*item) tracked() {}

type baseThing struct {
	Label string
	Owner *item
}

type thing struct {
	baseThing
	Items    []*item
	Slots    [3]*item
	Counts   [3]int
	Grid     [][]int
	Cube     [][][]int
	ByName   map[string]*item
	Set      map[*item]struct{}
	Groups   map[string][]*item
	Any      marker
	Loose    any
	Bag      []any
	Tags     map[string]any
	Fixed    []*item `gc:"const"`
	Skipped  *item   `gc:"-"`
	hidden   []*item
	Score    int
	_        int
}

func newRegistry() *Registry {
	return NewRegistry(reflect.TypeFor[marker]())
}

func TestDescribe_Idempotent(t *testing.T) {
	r := newRegistry()
	a := Describe[thing](r)
	b := r.DescribeType(reflect.TypeFor[*thing]())
	assert.Same(t, a, b)
	assert.Equal(t, "thing", a.Name())
	assert.Equal(t, StableHash(a.FullName()), a.Hash())

	got, ok := r.Lookup(a.Hash())
	require.True(t, ok)
	assert.Same(t, a, got)
	got, ok = r.LookupName("thing")
	require.True(t, ok)
	assert.Same(t, a, got)
}

func TestDescribe_ConcurrentFirstWriterWins(t *testing.T) {
	r := newRegistry()
	const n = 32
	out := make([]*TypeDescriptor, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out[i] = Describe[thing](r)
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		assert.Same(t, out[0], out[i])
	}
	assert.Equal(t, 2, r.Count()) // thing and its base
}

func TestDescribe_BaseChain(t *testing.T) {
	r := newRegistry()
	d := Describe[thing](r)
	base := Describe[baseThing](r)
	require.NotNil(t, d.Base())
	assert.Same(t, base, d.Base())
	assert.True(t, d.IsA(base))
	assert.True(t, d.IsA(d))
	assert.False(t, base.IsA(d))

	// A descriptor from another registry has the same hash and still matches.
	other := Describe[baseThing](newRegistry())
	assert.NotSame(t, base, other)
	assert.True(t, d.IsA(other))
}

func TestDescribe_RejectsNonStruct(t *testing.T) {
	assert.Panics(t, func() { Describe[int](newRegistry()) })
}

func TestAddProperty_DuplicateFails(t *testing.T) {
	r := newRegistry()
	d := Describe[thing](r)
	p, err := d.AddField("Items")
	require.NoError(t, err)
	require.NotNil(t, p)

	p2, err := d.AddField("Items")
	assert.Nil(t, p2)
	assert.ErrorIs(t, err, ErrDuplicateProperty)
	assert.False(t, d.AddProperty(p))
	assert.Len(t, d.Properties(), 1)

	_, err = d.AddField("Nope")
	assert.ErrorIs(t, err, ErrUnknownField)

	// A property of another type is refused.
	bp := newProperty(r, reflect.TypeFor[baseThing](), reflect.TypeFor[baseThing]().Field(1))
	assert.False(t, d.AddProperty(bp))
}

func TestAddAllFields(t *testing.T) {
	r := newRegistry()
	d := Register[thing](r)
	Register[baseThing](r)

	_, ok := d.Property("Skipped")
	assert.False(t, ok)
	_, ok = d.Property("hidden")
	assert.True(t, ok)
	p, ok := d.Property("Owner")
	require.True(t, ok, "base properties are found through the chain")
	assert.Equal(t, reflect.TypeFor[baseThing](), p.Owner())

	all := d.AllProperties()
	assert.Equal(t, "Label", all[0].Name())
	assert.Equal(t, 0, d.AddAllFields())
}

func TestPropertyFlags(t *testing.T) {
	r := newRegistry()
	d := Register[thing](r)

	tests := []struct {
		name      string
		pointer   bool
		managed   bool
		container bool
		depth     int
	}{
		{"Items", true, true, true, 1},
		{"Slots", true, true, true, 1},
		{"Counts", false, false, true, 1},
		{"Grid", false, false, true, 2},
		{"Cube", false, false, true, 3},
		{"ByName", true, true, true, 1},
		{"Set", false, true, true, 1},
		{"Groups", true, true, true, 2},
		{"Any", true, true, false, 0},
		{"Loose", true, true, false, 0},
		{"Bag", true, true, true, 1},
		{"Tags", true, true, true, 1},
		{"Score", false, false, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := d.Property(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.pointer, p.IsPointer(), "pointer")
			assert.Equal(t, tt.managed, p.IsManaged(), "managed")
			assert.Equal(t, tt.container, p.IsContainer(), "container")
			assert.Equal(t, tt.depth, p.NestingDepth(), "depth")
		})
	}

	fixed, _ := d.Property("Fixed")
	assert.True(t, fixed.IsConstant())
}

func prop(t *testing.T, d *TypeDescriptor, name string) *PropertyDescriptor {
	t.Helper()
	p, ok := d.Property(name)
	require.True(t, ok, name)
	return p
}

func TestBegin_NonContainerIsEmpty(t *testing.T) {
	r := newRegistry()
	d := Register[thing](r)
	x := &thing{Score: 3}
	p := prop(t, d, "Score")

	it := p.Begin(x)
	assert.True(t, it.Done())
	assert.True(t, it.Equal(it.Clone()))
	assert.True(t, it.Equal(p.End(x)))
	assert.Panics(t, func() { it.Value() })
	assert.Panics(t, func() { it.Next() })
}

func flatten(it Iterator) []int {
	var out []int
	for ; !it.Done(); it.Next() {
		if it.Depth() > 1 {
			out = append(out, flatten(it.Nested())...)
			continue
		}
		out = append(out, int(it.Value().Int()))
	}
	return out
}

func TestNestedIteration(t *testing.T) {
	r := newRegistry()
	d := Register[thing](r)
	x := &thing{
		Grid: [][]int{{1, 2}, {}, {3}, {4, 5, 6}},
		Cube: [][][]int{{{1}, {2, 3}}, {{4, 5}}, {}, {{}, {6}}},
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, flatten(prop(t, d, "Grid").Begin(x)))
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, flatten(prop(t, d, "Cube").Begin(x)))

	// Nested of a leaf level is empty.
	items := prop(t, d, "Items").Begin(&thing{Items: []*item{{id: 1}}})
	nested := items.Nested()
	assert.True(t, nested.Done())
}

func TestIterator_EqualityAndClone(t *testing.T) {
	r := newRegistry()
	d := Register[thing](r)
	x := &thing{Items: []*item{{id: 1}, {id: 2}}}
	p := prop(t, d, "Items")

	it := p.Begin(x)
	cp := it.Clone()
	it.Next()
	assert.False(t, it.Equal(cp))
	cp.Next()
	assert.True(t, it.Equal(cp))
	it.Next()
	assert.True(t, it.Equal(p.End(x)))
}

func TestErase_Slice(t *testing.T) {
	r := newRegistry()
	d := Register[thing](r)
	a, b, c := &item{1}, &item{2}, &item{3}
	x := &thing{Items: []*item{a, b, c}}

	it := prop(t, d, "Items").Begin(x)
	it.Next()
	require.NoError(t, it.Erase())
	assert.Same(t, c, it.Value().Interface())
	assert.Equal(t, []*item{a, c}, x.Items)
}

func TestErase_ArrayNullsManaged(t *testing.T) {
	r := newRegistry()
	d := Register[thing](r)
	a, b := &item{1}, &item{2}
	x := &thing{Slots: [3]*item{a, b, nil}, Counts: [3]int{1, 2, 3}}

	it := prop(t, d, "Slots").Begin(x)
	require.NoError(t, it.Erase())
	assert.Same(t, b, it.Value().Interface(), "iterator moves past the cleared slot")
	assert.Equal(t, [3]*item{nil, b, nil}, x.Slots)

	ci := prop(t, d, "Counts").Begin(x)
	assert.ErrorIs(t, ci.Erase(), ErrNotErasable)
	assert.Equal(t, [3]int{1, 2, 3}, x.Counts)
}

func TestErase_ConstantRefused(t *testing.T) {
	r := newRegistry()
	d := Register[thing](r)
	x := &thing{Fixed: []*item{{1}}}
	it := prop(t, d, "Fixed").Begin(x)
	assert.True(t, it.IsConst())
	assert.ErrorIs(t, it.Erase(), ErrConstant)
	assert.Len(t, x.Fixed, 1)
}

func TestDrop_IgnoresConstant(t *testing.T) {
	r := newRegistry()
	d := Register[thing](r)
	a, b := &item{1}, &item{2}
	x := &thing{Fixed: []*item{a, b}}

	it := prop(t, d, "Fixed").Begin(x)
	require.NoError(t, it.Drop())
	assert.Same(t, b, it.Value().Interface())
	assert.Equal(t, []*item{b}, x.Fixed)
}

func TestPairs(t *testing.T) {
	r := newRegistry()
	d := Register[thing](r)
	a := &item{1}
	x := &thing{ByName: map[string]*item{"a": a}, Items: []*item{a}}

	it := prop(t, d, "ByName").Begin(x)
	require.True(t, it.IsPair())
	assert.Equal(t, "a", it.First().String())
	assert.Same(t, a, it.Second().Interface())

	li := prop(t, d, "Items").Begin(x)
	assert.False(t, li.IsPair())
	assert.False(t, li.First().IsValid())
	assert.False(t, li.Second().IsValid())
}

func TestErase_Map(t *testing.T) {
	r := newRegistry()
	d := Register[thing](r)
	x := &thing{ByName: map[string]*item{"a": {1}, "b": {2}, "c": {3}}}

	it := prop(t, d, "ByName").Begin(x)
	for !it.Done() {
		if it.First().String() == "b" {
			require.NoError(t, it.Erase())
			continue
		}
		it.Next()
	}
	assert.Len(t, x.ByName, 2)
	assert.NotContains(t, x.ByName, "b")
}

func TestErase_NestedMapValueWritesBack(t *testing.T) {
	r := newRegistry()
	d := Register[thing](r)
	a, b := &item{1}, &item{2}
	x := &thing{Groups: map[string][]*item{"g": {a, b}}}

	outer := prop(t, d, "Groups").Begin(x)
	require.Equal(t, 2, outer.Depth())
	inner := outer.Nested()
	require.NoError(t, inner.Erase())
	assert.Equal(t, []*item{b}, x.Groups["g"])
}

func TestUnexportedFieldAccess(t *testing.T) {
	r := newRegistry()
	d := Register[thing](r)
	a := &item{7}
	x := &thing{hidden: []*item{a}}

	it := prop(t, d, "hidden").Begin(x)
	require.False(t, it.Done())
	assert.Same(t, a, it.Value().Interface())
	require.NoError(t, it.Erase())
	assert.Empty(t, x.hidden)
}

func TestLinkUnlink(t *testing.T) {
	r := newRegistry()
	d := Register[thing](r)
	a, b := &item{1}, &item{2}
	x := &thing{}

	require.NoError(t, prop(t, d, "Items").Link(x, reflect.ValueOf(a)))
	require.NoError(t, prop(t, d, "Items").Link(x, reflect.ValueOf(b)))
	require.NoError(t, prop(t, d, "Slots").Link(x, reflect.ValueOf(a)))
	require.NoError(t, prop(t, d, "Set").Link(x, reflect.ValueOf(b)))
	require.NoError(t, prop(t, d, "Owner").Link(x, reflect.ValueOf(a)))
	require.NoError(t, prop(t, d, "Any").Link(x, reflect.ValueOf(b)))
	assert.Error(t, prop(t, d, "Score").Link(x, reflect.ValueOf(a)))
	assert.ErrorIs(t, prop(t, d, "Fixed").Link(x, reflect.ValueOf(a)), ErrConstant)

	assert.Equal(t, []*item{a, b}, x.Items)
	assert.Same(t, a, x.Slots[0])
	assert.Contains(t, x.Set, b)
	assert.Same(t, a, x.Owner)

	assert.Equal(t, 1, prop(t, d, "Items").Unlink(x, reflect.ValueOf(a)))
	assert.Equal(t, []*item{b}, x.Items)
	assert.Equal(t, 1, prop(t, d, "Set").Unlink(x, reflect.ValueOf(b)))
	assert.Empty(t, x.Set)
	assert.Equal(t, 1, prop(t, d, "Owner").Unlink(x, reflect.ValueOf(a)))
	assert.Nil(t, x.Owner)
	assert.Equal(t, 0, prop(t, d, "Owner").Unlink(x, reflect.ValueOf(a)))
}

func TestWalk_VisitsBaseFirst(t *testing.T) {
	r := newRegistry()
	Register[baseThing](r)
	d := Register[thing](r)
	x := &thing{baseThing: baseThing{Label: "l"}}

	var names []string
	d.Walk(x, func(p *PropertyDescriptor, owner reflect.Value) bool {
		names = append(names, p.Name())
		return len(names) < 3
	})
	assert.Equal(t, []string{"Label", "Owner", "Items"}, names)
	assert.Panics(t, func() { d.Walk(&baseThing{}, nil) })
}

func TestIntern(t *testing.T) {
	assert.Equal(t, "caf\u00e9", Intern("cafe\u0301"))
	assert.Equal(t, "Items", Intern("Items"))
}

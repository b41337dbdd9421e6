package alloc

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blob struct {
	A, B int64
	Tag  string
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		size uintptr
		want SizeClass
	}{
		{0, 16},
		{1, 16},
		{16, 16},
		{17, 32},
		{32, 32},
		{33, 64},
		{1000, 1024},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassOf(tt.size), "size %d", tt.size)
	}
}

func TestHeapAllocator(t *testing.T) {
	v, err := HeapAllocator{}.Allocate(reflect.TypeFor[blob]())
	require.NoError(t, err)
	assert.Equal(t, reflect.Pointer, v.Kind())
	assert.Equal(t, blob{}, *v.Interface().(*blob))
	assert.False(t, HeapAllocator{}.Recycles())
	assert.True(t, NewBlockAllocator(0).Recycles())
}

func TestBlockAllocator_BudgetAndReuse(t *testing.T) {
	typ := reflect.TypeFor[blob]()
	class := uint64(ClassOf(typ.Size()))
	a := NewBlockAllocator(2 * class)

	p1, err := a.Allocate(typ)
	require.NoError(t, err)
	p2, err := a.Allocate(typ)
	require.NoError(t, err)
	assert.Equal(t, 2*class, a.InUse())

	_, err = a.Allocate(typ)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	p1.Interface().(*blob).Tag = "dirty"
	a.Free(p1)
	assert.Equal(t, class, a.InUse())

	p3, err := a.Allocate(typ)
	require.NoError(t, err)
	assert.Equal(t, p1.Pointer(), p3.Pointer(), "freed block is reused")
	assert.Equal(t, blob{}, *p3.Interface().(*blob), "reused block is zeroed")

	stats := a.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Live)
	assert.Equal(t, 0, stats[0].Free)
	_ = p2
}

func TestBlockAllocator_IgnoresForeignPointers(t *testing.T) {
	a := NewBlockAllocator(0)
	foreign := &blob{Tag: "keep"}
	a.Free(reflect.ValueOf(foreign))
	a.Free(reflect.Value{})
	assert.Equal(t, "keep", foreign.Tag)
	assert.Zero(t, a.InUse())
}

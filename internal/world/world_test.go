package world

import (
	"testing"

	"github.com/l1jgo/objcore/internal/core/gc"
	"github.com/l1jgo/objcore/internal/core/meta"
	"github.com/l1jgo/objcore/internal/core/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCollector(t *testing.T) *gc.Collector {
	t.Helper()
	reg := meta.NewRegistry(object.ManagedType)
	Register(reg)
	return gc.New(reg, zap.NewNop())
}

func settle(c *gc.Collector) {
	c.Collect()
	c.Collect()
}

func TestRegister_BaseChain(t *testing.T) {
	c := newCollector(t)
	reg := c.Registry()

	tex, ok := reg.LookupName("Texture")
	require.True(t, ok)
	asset, ok := reg.LookupName("Asset")
	require.True(t, ok)
	assert.True(t, tex.IsA(asset))
	assert.False(t, asset.IsA(tex))

	_, ok = tex.Property("Path")
	assert.True(t, ok, "base properties are visible through the derived type")

	shader, _ := reg.LookupName("Shader")
	passes, ok := shader.Property("Passes")
	require.True(t, ok)
	assert.Equal(t, 2, passes.NestingDepth())
	assert.True(t, passes.IsManaged())

	g, _ := reg.LookupName("GameObject")
	watchers, ok := g.Property("Watchers")
	require.True(t, ok)
	assert.True(t, watchers.IsConstant())
	pos, ok := g.Property("Position")
	require.True(t, ok)
	assert.False(t, pos.IsManaged())
}

func TestWorld_HierarchyKeptAlive(t *testing.T) {
	c := newCollector(t)
	w, err := New(c, "level1")
	require.NoError(t, err)

	player, err := w.Spawn(c, "player", nil)
	require.NoError(t, err)
	sword, err := w.Spawn(c, "sword", player)
	require.NoError(t, err)
	tex, err := w.LoadTexture(c, "sword.png", 64, 64)
	require.NoError(t, err)
	mat, err := w.CompileShader(c, "lit", "void main(){}")
	require.NoError(t, err)
	mat.Bind("albedo", tex)
	render, err := Attach(c, sword, "render")
	require.NoError(t, err)
	render.Material = mat

	settle(c)
	assert.Equal(t, 6, c.ObjectCount())
	assert.Same(t, player, sword.Parent)

	got, ok := sword.Component("render")
	require.True(t, ok)
	assert.Same(t, render, got)
}

func TestWorld_RemoveChildCollectsSubtree(t *testing.T) {
	c := newCollector(t)
	w, _ := New(c, "level")
	root, _ := w.Spawn(c, "root", nil)
	branch, _ := w.Spawn(c, "branch", root)
	leaf, _ := w.Spawn(c, "leaf", branch)
	comp, _ := Attach(c, leaf, "audio")
	tex, _ := w.LoadTexture(c, "shared.png", 8, 8)
	comp.Slots[0] = tex

	settle(c)
	require.Equal(t, 6, c.ObjectCount())

	assert.True(t, root.RemoveChild(branch))
	assert.Nil(t, branch.Parent)
	settle(c)

	assert.False(t, object.IsValid(branch))
	assert.False(t, object.IsValid(leaf))
	assert.False(t, object.IsValid(comp))
	assert.True(t, object.IsValid(tex), "texture is still cached by the world")
	assert.Equal(t, 3, c.ObjectCount())
}

func TestWorld_ReparentSurvivesOldParent(t *testing.T) {
	c := newCollector(t)
	w, _ := New(c, "level")
	a, _ := w.Spawn(c, "a", nil)
	b, _ := w.Spawn(c, "b", nil)
	child, _ := w.Spawn(c, "child", a)

	b.AddChild(child)
	assert.Empty(t, a.Children)
	w.Objects = []*GameObject{b}
	settle(c)

	assert.False(t, object.IsValid(a))
	assert.True(t, object.IsValid(child))
	assert.Same(t, b, child.Parent)
}

func TestWorld_CloseTearsDownSharedObjects(t *testing.T) {
	c := newCollector(t)
	w, _ := New(c, "level")
	keeper, _ := New(c, "keeper")
	hero, _ := w.Spawn(c, "hero", nil)
	hat, _ := w.Spawn(c, "hat", hero)
	keeper.AddToLayer("borrowed", hat)

	w.Close(c)
	c.Collect()
	assert.False(t, object.IsValid(w))
	assert.False(t, object.IsValid(hero))
	assert.True(t, object.IsValid(hat), "destroy requests apply on the next cycle")

	settle(c)
	assert.False(t, object.IsValid(hat))
	assert.Empty(t, keeper.Layers["borrowed"], "dead entries are purged from the layer")
	assert.Equal(t, 1, c.ObjectCount())
}

func TestTexture_MipsDestroyedWithOwner(t *testing.T) {
	c := newCollector(t)
	w, _ := New(c, "level")
	top, _ := w.LoadTexture(c, "big.png", 256, 256)
	mip, err := gc.Create[Texture](c)
	require.NoError(t, err)
	top.Mips = []*Texture{mip}
	mat, _ := w.CompileShader(c, "s", "")
	mat.Passes = [][]*Texture{{mip}}

	assert.True(t, w.Unload("big.png"))
	assert.False(t, w.Unload("big.png"))
	c.Collect()
	assert.False(t, object.IsValid(top))
	assert.True(t, object.IsValid(mip))

	settle(c)
	assert.False(t, object.IsValid(mip))
	assert.Equal(t, [][]*Texture{{}}, mat.Passes)
}

func TestSpawn_InvalidParent(t *testing.T) {
	c := newCollector(t)
	w, _ := New(c, "level")
	orphan, _ := w.Spawn(c, "orphan", nil)
	w.Objects = nil
	c.Collect()

	_, err := w.Spawn(c, "late", orphan)
	assert.Error(t, err)
}

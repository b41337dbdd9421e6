package scene

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/l1jgo/objcore/internal/core/gc"
	"github.com/l1jgo/objcore/internal/core/meta"
	"github.com/l1jgo/objcore/internal/core/object"
	"github.com/l1jgo/objcore/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCollector(t *testing.T) *gc.Collector {
	t.Helper()
	reg := meta.NewRegistry(object.ManagedType)
	world.Register(reg)
	return gc.New(reg, zap.NewNop())
}

const tiny = `
name: tiny
roots: [w]
objects:
  - id: w
    type: World
    fields:
      Ticks: 7
      Objects: [a]
      Layers:
        enemies: [a, b]
  - id: a
    type: GameObject
    name: alpha
    fields:
      Tag: enemy
      Position: [1, 2.5, -3]
      Children: [b]
  - id: b
    type: GameObject
    fields:
      Parent: a
      Watchers: {a: {}}
  - id: loose
    type: Texture
    fields:
      Path: unused.png
`

func TestLoad(t *testing.T) {
	c := newCollector(t)
	s, err := Load(c, []byte(tiny))
	require.NoError(t, err)
	assert.Equal(t, "tiny", s.Name)
	assert.Equal(t, 4, c.ObjectCount())
	require.Len(t, s.Roots, 1)

	w := s.Roots[0].(*world.World)
	a := s.Objects["a"].(*world.GameObject)
	b := s.Objects["b"].(*world.GameObject)
	assert.Equal(t, 7, w.Ticks)
	assert.Equal(t, []*world.GameObject{a}, w.Objects)
	assert.Equal(t, []*world.GameObject{a, b}, w.Layers["enemies"])
	assert.Equal(t, "alpha", a.Name())
	assert.Equal(t, "GameObject", b.Name())
	assert.Equal(t, [3]float64{1, 2.5, -3}, a.Position)
	assert.Same(t, a, b.Parent)
	assert.Contains(t, b.Watchers, a)
	assert.Equal(t, "unused.png", s.Objects["loose"].(*world.Texture).Path)
	assert.True(t, c.IsRoot(w))

	c.Collect()
	c.Collect()
	assert.Equal(t, 3, c.ObjectCount())
	assert.False(t, object.IsValid(s.Objects["loose"]))
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"unknown type", "objects: [{id: x, type: Nope}]", ErrUnknownType},
		{"duplicate id", "objects: [{id: x, type: World}, {id: x, type: World}]", ErrDuplicateID},
		{"unknown reference", "objects: [{id: x, type: World, fields: {Objects: [y]}}]", ErrUnknownReference},
		{"unknown root", "roots: [y]\nobjects: [{id: x, type: World}]", ErrUnknownReference},
		{"unknown field", "objects: [{id: x, type: World, fields: {Nope: 1}}]", meta.ErrUnknownField},
		{"wrong target type", "objects: [{id: x, type: World}, {id: y, type: Shader, fields: {Samplers: {a: x}}}]", meta.ErrNotAssignable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newCollector(t), []byte(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDumpLoad_RoundTrip(t *testing.T) {
	src := newCollector(t)
	w, err := world.New(src, "level")
	require.NoError(t, err)
	w.Ticks = 12
	hero, _ := w.Spawn(src, "hero", nil)
	hero.Tag = "player"
	hero.Position = [3]float64{4, 5, 6}
	hat, _ := w.Spawn(src, "hat", hero)
	tex, _ := w.LoadTexture(src, "hat.png", 16, 16)
	sh, _ := w.CompileShader(src, "lit", "void main() {}")
	sh.Bind("albedo", tex)
	comp, _ := world.Attach(src, hat, "render")
	comp.Material = sh
	comp.Slots[1] = tex
	comp.Props = map[string]float64{"scale": 2}
	w.AddToLayer("actors", hero)

	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, "level", w))

	dst := newCollector(t)
	s, err := Load(dst, buf.Bytes())
	require.NoError(t, err, buf.String())
	assert.Equal(t, src.ObjectCount(), dst.ObjectCount())

	require.Len(t, s.Roots, 1)
	lw := s.Roots[0].(*world.World)
	assert.Equal(t, "level", lw.Name())
	assert.Equal(t, 12, lw.Ticks)
	require.Len(t, lw.Objects, 1)
	lh := lw.Objects[0]
	assert.Equal(t, "hero", lh.Name())
	assert.Equal(t, "player", lh.Tag)
	assert.Equal(t, [3]float64{4, 5, 6}, lh.Position)
	assert.Equal(t, []*world.GameObject{lh}, lw.Layers["actors"])

	require.Len(t, lh.Children, 1)
	lhat := lh.Children[0]
	assert.Same(t, lh, lhat.Parent)
	require.Len(t, lhat.Components, 1)
	lc := lhat.Components[0]
	assert.Same(t, lhat, lc.Owner)
	assert.Equal(t, "render", lc.Kind)
	assert.True(t, lc.Enabled)
	assert.Equal(t, map[string]float64{"scale": 2}, lc.Props)

	ltex := lw.Textures["hat.png"]
	require.NotNil(t, ltex)
	assert.Equal(t, 16, ltex.Width)
	assert.Equal(t, "hat.png", ltex.Path)
	require.Len(t, lw.Shaders, 1)
	assert.Same(t, lw.Shaders[0], lc.Material)
	assert.Same(t, ltex, lc.Slots[1])
	assert.Nil(t, lc.Slots[0])
	assert.Same(t, ltex, lw.Shaders[0].Samplers["albedo"])

	dst.Collect()
	dst.Collect()
	assert.Equal(t, src.ObjectCount(), dst.ObjectCount())
}

func TestDump_SkipsDeadObjects(t *testing.T) {
	c := newCollector(t)
	w, _ := world.New(c, "level")
	keep, _ := w.Spawn(c, "keep", nil)
	gone, _ := w.Spawn(c, "gone", nil)
	gone.Destroy()
	c.Collect()

	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, "level", w))
	s, err := Load(newCollector(t), buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, s.Objects, 2)
	lw := s.Roots[0].(*world.World)
	require.Len(t, lw.Objects, 2)
	assert.Equal(t, keep.Name(), lw.Objects[0].Name())
	assert.Nil(t, lw.Objects[1], "references to soft-killed objects dump as null")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tiny), 0o644))
	s, err := LoadFile(newCollector(t), path)
	require.NoError(t, err)
	assert.Len(t, s.Objects, 4)

	_, err = LoadFile(newCollector(t), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

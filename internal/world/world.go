package world

import (
	"fmt"

	"github.com/l1jgo/objcore/internal/core/gc"
	"github.com/l1jgo/objcore/internal/core/meta"
	"github.com/l1jgo/objcore/internal/core/object"
)

// World owns the top level objects of a scene and the assets they share.
// A world is normally pinned as a collector root; Close releases it.
type World struct {
	object.Object
	Objects  []*GameObject
	Layers   map[string][]*GameObject
	Textures map[string]*Texture
	Shaders  []*Shader
	Ticks    int
}

// Register describes every world type in reg.
func Register(reg *meta.Registry) {
	meta.Register[Asset](reg)
	meta.Register[Texture](reg)
	meta.Register[Shader](reg)
	meta.Register[Component](reg)
	meta.Register[GameObject](reg)
	meta.Register[World](reg)
}

// OnDestroy requests destruction of everything the world owns, including
// objects still referenced from elsewhere.
// Objects soft-killed earlier in the same cycle are still walked; their
// storage is intact until the next cycle.
func (w *World) OnDestroy() {
	for _, g := range w.Objects {
		destroyTree(g)
	}
}

func destroyTree(g *GameObject) {
	if g == nil || !g.IsRegistered() || g.IsDestroyRequested() {
		return
	}
	g.Destroy()
	for _, c := range g.Children {
		destroyTree(c)
	}
}

// New creates a world and pins it in c.
func New(c *gc.Collector, name string) (*World, error) {
	w, err := gc.Create[World](c, func(w *World) {
		w.Layers = make(map[string][]*GameObject)
		w.Textures = make(map[string]*Texture)
	})
	if err != nil {
		return nil, err
	}
	w.SetName(name)
	c.AddRoot(w)
	return w, nil
}

// Close unpins the world and asks the collector to tear it down.
func (w *World) Close(c *gc.Collector) {
	c.RemoveRoot(w)
	w.Destroy()
}

// Spawn creates a GameObject. A nil parent places it at the top level.
func (w *World) Spawn(c *gc.Collector, name string, parent *GameObject) (*GameObject, error) {
	if parent != nil && !object.IsValid(parent) {
		return nil, fmt.Errorf("spawn %q: parent %s is no longer valid", name, parent.Name())
	}
	g, err := gc.Create[GameObject](c)
	if err != nil {
		return nil, fmt.Errorf("spawn %q: %w", name, err)
	}
	g.SetName(name)
	if parent != nil {
		parent.AddChild(g)
	} else {
		w.Objects = append(w.Objects, g)
	}
	return g, nil
}

// AddToLayer files g under layer.
func (w *World) AddToLayer(layer string, g *GameObject) {
	w.Layers[layer] = append(w.Layers[layer], g)
}

// LoadTexture returns the texture cached under path, creating it on first use.
func (w *World) LoadTexture(c *gc.Collector, path string, width, height int) (*Texture, error) {
	if t, ok := w.Textures[path]; ok && object.IsValid(t) {
		return t, nil
	}
	t, err := gc.Create[Texture](c, func(t *Texture) {
		t.Path = path
		t.Width, t.Height = width, height
		t.Bytes = width * height * 4
	})
	if err != nil {
		return nil, fmt.Errorf("load texture %q: %w", path, err)
	}
	t.SetName(path)
	w.Textures[path] = t
	return t, nil
}

// Unload drops the cache entry for path. The texture lives on while other
// objects still reference it.
func (w *World) Unload(path string) bool {
	if _, ok := w.Textures[path]; !ok {
		return false
	}
	delete(w.Textures, path)
	return true
}

// CompileShader creates a shader owned by the world.
func (w *World) CompileShader(c *gc.Collector, name, source string) (*Shader, error) {
	s, err := gc.Create[Shader](c, func(s *Shader) {
		s.Source = source
		s.Bytes = len(source)
	})
	if err != nil {
		return nil, fmt.Errorf("compile shader %q: %w", name, err)
	}
	s.SetName(name)
	w.Shaders = append(w.Shaders, s)
	return s, nil
}

// Attach creates a component of the given kind on g.
func Attach(c *gc.Collector, g *GameObject, kind string) (*Component, error) {
	comp, err := gc.Create[Component](c, func(comp *Component) {
		comp.Kind = kind
		comp.Enabled = true
	})
	if err != nil {
		return nil, fmt.Errorf("attach %q: %w", kind, err)
	}
	comp.SetName(kind)
	g.AddComponent(comp)
	return comp, nil
}

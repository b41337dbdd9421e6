package world

import (
	"slices"

	"github.com/l1jgo/objcore/internal/core/object"
)

// Component is behavior attached to a GameObject.
type Component struct {
	object.Object
	Kind     string
	Enabled  bool
	Owner    *GameObject
	Material *Shader
	Slots    [4]*Texture
	Props    map[string]float64
}

// GameObject is a node of the scene hierarchy.
type GameObject struct {
	object.Object
	Tag        string
	Position   [3]float64
	Parent     *GameObject
	Children   []*GameObject
	Components []*Component
	Watchers   map[*GameObject]struct{} `gc:"const"`
}

// OnDestroy tears down the components the object owns. Children are left to
// the collector so a child re-parented elsewhere survives its old parent.
func (g *GameObject) OnDestroy() {
	for _, c := range g.Components {
		if object.IsValid(c) {
			c.Destroy()
		}
	}
}

// AddChild re-parents child under g.
func (g *GameObject) AddChild(child *GameObject) {
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	child.Parent = g
	g.Children = append(g.Children, child)
}

// RemoveChild detaches child from g and reports whether it was a child.
func (g *GameObject) RemoveChild(child *GameObject) bool {
	i := slices.Index(g.Children, child)
	if i < 0 {
		return false
	}
	g.Children = slices.Delete(g.Children, i, i+1)
	if child.Parent == g {
		child.Parent = nil
	}
	return true
}

// AddComponent attaches c to g.
func (g *GameObject) AddComponent(c *Component) {
	c.Owner = g
	g.Components = append(g.Components, c)
}

// Component returns the first component of the given kind.
func (g *GameObject) Component(kind string) (*Component, bool) {
	for _, c := range g.Components {
		if c.Kind == kind && object.IsValid(c) {
			return c, true
		}
	}
	return nil, false
}

// Walk visits g and its descendants depth first until fn returns false.
func (g *GameObject) Walk(fn func(*GameObject) bool) bool {
	if !fn(g) {
		return false
	}
	for _, c := range g.Children {
		if object.IsValid(c) && !c.Walk(fn) {
			return false
		}
	}
	return true
}

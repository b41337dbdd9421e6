package world

import "github.com/l1jgo/objcore/internal/core/object"

// Asset is the base of loadable resources. Textures and shaders embed it, so
// their descriptors report Asset as their base type.
type Asset struct {
	object.Object
	Path  string
	Bytes int
}

// Texture is an image resource. Mips holds lower-resolution versions owned by
// the top level texture.
type Texture struct {
	Asset
	Width  int
	Height int
	Mips   []*Texture
}

// Shader references the textures bound to its samplers by sampler name.
type Shader struct {
	Asset
	Source   string
	Samplers map[string]*Texture
	Passes   [][]*Texture
}

func (t *Texture) OnDestroy() {
	for _, m := range t.Mips {
		if object.IsValid(m) {
			m.Destroy()
		}
	}
}

// Bind attaches tex to a sampler slot, replacing what was bound there.
func (s *Shader) Bind(sampler string, tex *Texture) {
	if s.Samplers == nil {
		s.Samplers = make(map[string]*Texture)
	}
	s.Samplers[sampler] = tex
}

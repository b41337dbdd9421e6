// Package scene loads and dumps object graphs as YAML. It knows no concrete
// types: every field is read and written through the metadata registry, and
// references between objects are written as scene ids.
package scene

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"

	"github.com/l1jgo/objcore/internal/core/gc"
	"github.com/l1jgo/objcore/internal/core/meta"
	"github.com/l1jgo/objcore/internal/core/object"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownType      = errors.New("scene: unknown type")
	ErrUnknownReference = errors.New("scene: unknown reference")
	ErrDuplicateID      = errors.New("scene: duplicate id")
)

// Document is the on-disk form of a scene.
type Document struct {
	Name    string   `yaml:"name,omitempty"`
	Roots   []string `yaml:"roots,omitempty"`
	Objects []Entry  `yaml:"objects"`
}

// Entry is one object. Fields maps property names to values; a managed
// reference is the id of another entry, null for none.
type Entry struct {
	ID     string               `yaml:"id"`
	Type   string               `yaml:"type"`
	Name   string               `yaml:"name,omitempty"`
	Fields map[string]yaml.Node `yaml:"fields,omitempty"`
}

// Scene is the result of a load.
type Scene struct {
	Name    string
	Objects map[string]object.Managed
	Roots   []object.Managed
}

// LoadFile reads a scene from path into c.
func LoadFile(c *gc.Collector, path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene %s: %w", path, err)
	}
	s, err := Load(c, data)
	if err != nil {
		return nil, fmt.Errorf("load scene %s: %w", path, err)
	}
	return s, nil
}

// Load creates every object of the document in c, fills in its fields and
// pins the listed roots. On error the objects already created are left
// unrooted for the collector to reclaim.
func Load(c *gc.Collector, data []byte) (*Scene, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse scene: %w", err)
	}
	reg := c.Registry()
	s := &Scene{Name: doc.Name, Objects: make(map[string]object.Managed, len(doc.Objects))}

	for _, e := range doc.Objects {
		if _, dup := s.Objects[e.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, e.ID)
		}
		desc, ok := reg.LookupName(e.Type)
		if !ok {
			return nil, fmt.Errorf("%w: %q (object %q)", ErrUnknownType, e.Type, e.ID)
		}
		m, err := c.CreateType(desc)
		if err != nil {
			return nil, fmt.Errorf("object %q: %w", e.ID, err)
		}
		if e.Name != "" {
			m.Base().SetName(e.Name)
		}
		s.Objects[e.ID] = m
	}

	for _, e := range doc.Objects {
		m := s.Objects[e.ID]
		desc := m.Base().Type()
		for _, name := range sortedKeys(e.Fields) {
			p, ok := desc.Property(name)
			if !ok {
				return nil, fmt.Errorf("object %q: %w: %s.%s", e.ID, meta.ErrUnknownField, desc.Name(), name)
			}
			node := e.Fields[name]
			if err := s.assign(p.Get(m), &node, p.IsManaged()); err != nil {
				return nil, fmt.Errorf("object %q field %s: %w", e.ID, name, err)
			}
		}
	}

	for _, id := range doc.Roots {
		m, ok := s.Objects[id]
		if !ok {
			return nil, fmt.Errorf("root: %w: %q", ErrUnknownReference, id)
		}
		c.AddRoot(m)
		s.Roots = append(s.Roots, m)
	}
	return s, nil
}

// assign decodes node into the settable field f.
func (s *Scene) assign(f reflect.Value, node *yaml.Node, managed bool) error {
	if !managed {
		return node.Decode(f.Addr().Interface())
	}
	v, err := s.resolve(node, f.Type())
	if err != nil {
		return err
	}
	f.Set(v)
	return nil
}

// resolve builds a value of type t from node, replacing scene ids with the
// objects they name.
func (s *Scene) resolve(node *yaml.Node, t reflect.Type) (reflect.Value, error) {
	if isNull(node) {
		return reflect.Zero(t), nil
	}
	if isRef(t) {
		m, ok := s.Objects[node.Value]
		if node.Kind != yaml.ScalarNode || !ok {
			return reflect.Value{}, fmt.Errorf("%w: %q", ErrUnknownReference, node.Value)
		}
		v := reflect.ValueOf(m)
		if !v.Type().AssignableTo(t) {
			return reflect.Value{}, fmt.Errorf("%w: %s is not a %s", meta.ErrNotAssignable, v.Type(), t)
		}
		return v, nil
	}

	switch t.Kind() {
	case reflect.Slice:
		if node.Kind != yaml.SequenceNode {
			return reflect.Value{}, fmt.Errorf("line %d: expected a sequence for %s", node.Line, t)
		}
		out := reflect.MakeSlice(t, 0, len(node.Content))
		for _, n := range node.Content {
			v, err := s.resolve(n, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out = reflect.Append(out, v)
		}
		return out, nil
	case reflect.Array:
		if node.Kind != yaml.SequenceNode || len(node.Content) > t.Len() {
			return reflect.Value{}, fmt.Errorf("line %d: expected at most %d items for %s", node.Line, t.Len(), t)
		}
		out := reflect.New(t).Elem()
		for i, n := range node.Content {
			v, err := s.resolve(n, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(v)
		}
		return out, nil
	case reflect.Map:
		if node.Kind != yaml.MappingNode {
			return reflect.Value{}, fmt.Errorf("line %d: expected a mapping for %s", node.Line, t)
		}
		out := reflect.MakeMapWithSize(t, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, err := s.resolve(node.Content[i], t.Key())
			if err != nil {
				return reflect.Value{}, err
			}
			v, err := s.resolve(node.Content[i+1], t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(k, v)
		}
		return out, nil
	}

	v := reflect.New(t)
	if err := node.Decode(v.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return v.Elem(), nil
}

// Dump writes every object reachable from roots as a scene document. Ids are
// the objects' GUIDs. Fields holding their zero value are omitted.
func Dump(w io.Writer, name string, roots ...object.Managed) error {
	doc := Document{Name: name}
	d := dumper{ids: map[object.Managed]string{}}
	for _, r := range roots {
		if !object.IsValid(r) {
			continue
		}
		doc.Roots = append(doc.Roots, d.id(r))
	}
	for i := 0; i < len(d.queue); i++ {
		m := d.queue[i]
		o := m.Base()
		e := Entry{ID: d.ids[m], Type: o.Type().Name(), Name: o.Name()}
		if e.Name == e.Type {
			e.Name = ""
		}
		for _, p := range o.Type().AllProperties() {
			f := p.Get(m)
			if f.IsZero() {
				continue
			}
			node, err := d.encode(f)
			if err != nil {
				return fmt.Errorf("dump %s.%s: %w", e.Type, p.Name(), err)
			}
			if e.Fields == nil {
				e.Fields = make(map[string]yaml.Node)
			}
			e.Fields[p.Name()] = *node
		}
		doc.Objects = append(doc.Objects, e)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode scene: %w", err)
	}
	return enc.Close()
}

type dumper struct {
	ids   map[object.Managed]string
	queue []object.Managed
}

func (d *dumper) id(m object.Managed) string {
	if id, ok := d.ids[m]; ok {
		return id
	}
	id := m.Base().GUID().String()
	d.ids[m] = id
	d.queue = append(d.queue, m)
	return id
}

func (d *dumper) encode(v reflect.Value) (*yaml.Node, error) {
	if isRef(v.Type()) {
		if v.IsNil() {
			return nullNode(), nil
		}
		m, ok := v.Interface().(object.Managed)
		if !ok || !object.IsValid(m) {
			return nullNode(), nil
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: d.id(m)}, nil
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nullNode(), nil
		}
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		if !containsRef(v.Type()) {
			seq.Style = yaml.FlowStyle
		}
		for i := 0; i < v.Len(); i++ {
			n, err := d.encode(v.Index(i))
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, n)
		}
		return seq, nil
	case reflect.Map:
		if v.IsNil() {
			return nullNode(), nil
		}
		type kv struct{ k, v *yaml.Node }
		pairs := make([]kv, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k, err := d.encode(iter.Key())
			if err != nil {
				return nil, err
			}
			if isNull(k) {
				continue
			}
			val, err := d.encode(iter.Value())
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, kv{k, val})
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].k.Value < pairs[j].k.Value })
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, p := range pairs {
			m.Content = append(m.Content, p.k, p.v)
		}
		return m, nil
	}

	n := &yaml.Node{}
	if err := n.Encode(v.Interface()); err != nil {
		return nil, err
	}
	return n, nil
}

func isRef(t reflect.Type) bool {
	return (t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface) && t.Implements(object.ManagedType)
}

func containsRef(t reflect.Type) bool {
	for {
		switch t.Kind() {
		case reflect.Slice, reflect.Array:
			t = t.Elem()
		case reflect.Map:
			if isRef(t.Key()) {
				return true
			}
			t = t.Elem()
		default:
			return isRef(t)
		}
	}
}

func isNull(n *yaml.Node) bool {
	return n == nil || n.Kind == 0 || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}

func nullNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

func sortedKeys(m map[string]yaml.Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

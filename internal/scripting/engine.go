package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/l1jgo/objcore/internal/core/gc"
	"github.com/l1jgo/objcore/internal/core/object"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

const objectTypeName = "object"

// Engine wraps a single gopher-lua VM bound to one collector. Scripts reach
// managed objects through the global "gc" table; objects cross into Lua as
// userdata holding a generation-checked handle, so a script keeping an object
// past its reclaim sees it as invalid instead of touching freed storage.
// Single-goroutine access only (tick loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
	c   *gc.Collector

	handles map[object.Handle]*lua.LUserData
}

// NewEngine creates a Lua engine over c and loads every script in dir. A
// missing or empty dir yields an engine with no scripts.
func NewEngine(c *gc.Collector, dir string, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log, c: c, handles: make(map[object.Handle]*lua.LUserData)}
	e.registerObjectType()
	e.registerAPI()

	if dir != "" {
		if err := e.loadDir(dir); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load scripts: %w", err)
		}
	}
	return e, nil
}

// loadDir loads all .lua files in a directory in name order.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// RunFile executes one script file.
func (e *Engine) RunFile(path string) error {
	if err := e.vm.DoFile(path); err != nil {
		return fmt.Errorf("run %s: %w", path, err)
	}
	return nil
}

// RunString executes a chunk of Lua source.
func (e *Engine) RunString(src string) error {
	if err := e.vm.DoString(src); err != nil {
		return fmt.Errorf("run script: %w", err)
	}
	return nil
}

// HasTick reports whether a loaded script defines on_tick.
func (e *Engine) HasTick() bool {
	return e.vm.GetGlobal("on_tick") != lua.LNil
}

// Tick calls the script's on_tick(n) if one is defined.
func (e *Engine) Tick(n uint64) error {
	fn := e.vm.GetGlobal("on_tick")
	if fn == lua.LNil {
		return nil
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, lua.LNumber(n)); err != nil {
		return fmt.Errorf("on_tick(%d): %w", n, err)
	}
	return nil
}

// Global returns a global value converted to Go: numbers become float64,
// strings string, booleans bool, objects object.Managed (nil when invalid).
func (e *Engine) Global(name string) any {
	v := e.vm.GetGlobal(name)
	switch lv := v.(type) {
	case lua.LNumber:
		return float64(lv)
	case lua.LString:
		return string(lv)
	case lua.LBool:
		return bool(lv)
	case *lua.LUserData:
		if h, ok := lv.Value.(object.Handle); ok {
			if m, ok := e.c.Resolve(h); ok {
				return m
			}
		}
		return nil
	}
	return nil
}

// Push exposes m to scripts as the global name.
func (e *Engine) Push(name string, m object.Managed) {
	e.vm.SetGlobal(name, e.wrap(m))
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}

func (e *Engine) registerObjectType() {
	mt := e.vm.NewTypeMetatable(objectTypeName)
	e.vm.SetField(mt, "__tostring", e.vm.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		h, _ := ud.Value.(object.Handle)
		m, ok := e.c.Resolve(h)
		if !ok {
			L.Push(lua.LString(fmt.Sprintf("object%s(invalid)", h)))
			return 1
		}
		L.Push(lua.LString(fmt.Sprintf("%s%s(%s)", m.Base().Type().Name(), h, m.Base().Name())))
		return 1
	}))
}

func (e *Engine) registerAPI() {
	fns := map[string]lua.LGFunction{
		"create":  e.luaCreate,
		"link":    e.luaLink,
		"unlink":  e.luaUnlink,
		"root":    e.luaRoot,
		"unroot":  e.luaUnroot,
		"destroy": e.luaDestroy,
		"valid":   e.luaValid,
		"collect": e.luaCollect,
		"count":   e.luaCount,
		"name":    e.luaName,
		"typeof":  e.luaTypeOf,
		"get":     e.luaGet,
		"set":     e.luaSet,
		"types":   e.luaTypes,
	}
	e.vm.SetGlobal("gc", e.vm.SetFuncs(e.vm.NewTable(), fns))
}

// wrap returns the userdata standing for m, one per live handle.
func (e *Engine) wrap(m object.Managed) lua.LValue {
	if !object.IsValid(m) {
		return lua.LNil
	}
	h := m.Base().Handle()
	if ud, ok := e.handles[h]; ok {
		return ud
	}
	ud := e.vm.NewUserData()
	ud.Value = h
	e.vm.SetMetatable(ud, e.vm.GetTypeMetatable(objectTypeName))
	e.handles[h] = ud
	m.Base().AddDestroyObserver(func(h object.Handle) { delete(e.handles, h) })
	return ud
}

// checkObject resolves argument n or raises a Lua error.
func (e *Engine) checkObject(L *lua.LState, n int) object.Managed {
	ud := L.CheckUserData(n)
	h, ok := ud.Value.(object.Handle)
	if !ok {
		L.ArgError(n, "object expected")
		return nil
	}
	m, ok := e.c.Resolve(h)
	if !ok {
		L.ArgError(n, fmt.Sprintf("object %s is no longer valid", h))
		return nil
	}
	return m
}

// gc.create(type [, name]) -> object
func (e *Engine) luaCreate(L *lua.LState) int {
	typeName := L.CheckString(1)
	desc, ok := e.c.Registry().LookupName(typeName)
	if !ok {
		L.ArgError(1, fmt.Sprintf("unknown type %q", typeName))
		return 0
	}
	m, err := e.c.CreateType(desc)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	if name := L.OptString(2, ""); name != "" {
		m.Base().SetName(name)
	}
	L.Push(e.wrap(m))
	return 1
}

// gc.link(obj, field, target)
func (e *Engine) luaLink(L *lua.LState) int {
	m := e.checkObject(L, 1)
	field := L.CheckString(2)
	target := e.checkObject(L, 3)
	p, ok := m.Base().Type().Property(field)
	if !ok {
		L.ArgError(2, fmt.Sprintf("%s has no field %q", m.Base().Type().Name(), field))
		return 0
	}
	if err := p.Link(m, reflect.ValueOf(target)); err != nil {
		L.RaiseError("link %s: %s", field, err.Error())
	}
	return 0
}

// gc.unlink(obj, field, target) -> removed count
func (e *Engine) luaUnlink(L *lua.LState) int {
	m := e.checkObject(L, 1)
	field := L.CheckString(2)
	ud := L.CheckUserData(3)
	p, ok := m.Base().Type().Property(field)
	if !ok {
		L.ArgError(2, fmt.Sprintf("%s has no field %q", m.Base().Type().Name(), field))
		return 0
	}
	h, _ := ud.Value.(object.Handle)
	n := 0
	if target, ok := e.c.Resolve(h); ok {
		n = p.Unlink(m, reflect.ValueOf(target))
	}
	L.Push(lua.LNumber(n))
	return 1
}

// gc.root(obj) -> pin count
func (e *Engine) luaRoot(L *lua.LState) int {
	L.Push(lua.LNumber(e.c.AddRoot(e.checkObject(L, 1))))
	return 1
}

// gc.unroot(obj) -> was pinned
func (e *Engine) luaUnroot(L *lua.LState) int {
	L.Push(lua.LBool(e.c.RemoveRoot(e.checkObject(L, 1))))
	return 1
}

func (e *Engine) luaDestroy(L *lua.LState) int {
	e.checkObject(L, 1).Base().Destroy()
	return 0
}

// gc.valid(obj) -> bool; never raises
func (e *Engine) luaValid(L *lua.LState) int {
	ud, ok := L.Get(1).(*lua.LUserData)
	if !ok {
		L.Push(lua.LFalse)
		return 1
	}
	h, _ := ud.Value.(object.Handle)
	_, ok = e.c.Resolve(h)
	L.Push(lua.LBool(ok))
	return 1
}

// gc.collect() -> report table
func (e *Engine) luaCollect(L *lua.LState) int {
	rep := e.c.Collect()
	t := L.NewTable()
	t.RawSetString("cycle", lua.LNumber(rep.Cycle))
	t.RawSetString("marked", lua.LNumber(rep.Marked))
	t.RawSetString("soft_killed", lua.LNumber(rep.SoftKilled))
	t.RawSetString("reclaimed", lua.LNumber(rep.Reclaimed))
	t.RawSetString("purged", lua.LNumber(rep.Purged))
	t.RawSetString("tracked", lua.LNumber(rep.Tracked))
	L.Push(t)
	return 1
}

func (e *Engine) luaCount(L *lua.LState) int {
	L.Push(lua.LNumber(e.c.ObjectCount()))
	return 1
}

// gc.name(obj [, new]) -> name
func (e *Engine) luaName(L *lua.LState) int {
	m := e.checkObject(L, 1)
	if L.GetTop() >= 2 {
		m.Base().SetName(L.CheckString(2))
	}
	L.Push(lua.LString(m.Base().Name()))
	return 1
}

func (e *Engine) luaTypeOf(L *lua.LState) int {
	L.Push(lua.LString(e.checkObject(L, 1).Base().Type().Name()))
	return 1
}

// gc.types() -> sorted list of registered type names
func (e *Engine) luaTypes(L *lua.LState) int {
	var names []string
	for _, d := range e.c.Registry().Types() {
		names = append(names, d.Name())
	}
	sort.Strings(names)
	t := L.NewTable()
	for _, n := range names {
		t.Append(lua.LString(n))
	}
	L.Push(t)
	return 1
}

// gc.get(obj, field) -> scalar, object or nil. Containers yield their length.
func (e *Engine) luaGet(L *lua.LState) int {
	m := e.checkObject(L, 1)
	field := L.CheckString(2)
	p, ok := m.Base().Type().Property(field)
	if !ok {
		L.ArgError(2, fmt.Sprintf("%s has no field %q", m.Base().Type().Name(), field))
		return 0
	}
	L.Push(e.toLua(p.Get(m)))
	return 1
}

// gc.set(obj, field, value) for bool, number and string fields.
func (e *Engine) luaSet(L *lua.LState) int {
	m := e.checkObject(L, 1)
	field := L.CheckString(2)
	p, ok := m.Base().Type().Property(field)
	if !ok {
		L.ArgError(2, fmt.Sprintf("%s has no field %q", m.Base().Type().Name(), field))
		return 0
	}
	v, err := fromLua(L.Get(3), p.Type())
	if err != nil {
		L.ArgError(3, err.Error())
		return 0
	}
	if err := p.Set(m, v); err != nil {
		L.RaiseError("set %s: %s", field, err.Error())
	}
	return 0
}

func (e *Engine) toLua(v reflect.Value) lua.LValue {
	switch v.Kind() {
	case reflect.Bool:
		return lua.LBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(v.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(v.Float())
	case reflect.String:
		return lua.LString(v.String())
	case reflect.Slice, reflect.Array, reflect.Map:
		return lua.LNumber(v.Len())
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return lua.LNil
		}
		if m, ok := v.Interface().(object.Managed); ok {
			return e.wrap(m)
		}
	}
	return lua.LNil
}

func fromLua(lv lua.LValue, t reflect.Type) (reflect.Value, error) {
	switch t.Kind() {
	case reflect.Bool:
		return reflect.ValueOf(lua.LVAsBool(lv)).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		n, ok := lv.(lua.LNumber)
		if !ok {
			return reflect.Value{}, fmt.Errorf("number expected, got %s", lv.Type())
		}
		return reflect.ValueOf(float64(n)).Convert(t), nil
	case reflect.String:
		s, ok := lv.(lua.LString)
		if !ok {
			return reflect.Value{}, fmt.Errorf("string expected, got %s", lv.Type())
		}
		return reflect.ValueOf(string(s)).Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("field of type %s cannot be set from a script", t)
}

package isolate

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/wisbric/scriptrt/pkg/rterr"
	"github.com/wisbric/scriptrt/pkg/valuetree"
)

// SubIsolate is a single template's execution context within a tenant's
// isolate: its own virtual filesystem, its own environment table chained
// off the parent's proxy globals, and its own require cache (spec §4.5).
type SubIsolate struct {
	parent *Isolate
	name   string
	fs     *vfs
	env    *lua.LTable

	parentDropped bool
	required      map[string]lua.LValue
}

// newSubIsolate checks that a template's content has the entry point and
// builds its environment table and require loader on the parent isolate's
// VM. It does not compile the entry point; Dispatch compiles it on every
// call.
func newSubIsolate(parent *Isolate, name string, content map[string]string) (*SubIsolate, error) {
	fs := newVFS(content)
	if _, _, ok := fs.resolve(EntryPoint); !ok {
		return nil, fmt.Errorf("isolate: template %q missing entry point %s", name, EntryPoint)
	}

	env := parent.vm.NewTable()
	meta := parent.vm.NewTable()
	meta.RawSetString("__index", parent.proxy)
	env.Metatable = meta

	sub := &SubIsolate{
		parent:   parent,
		name:     name,
		fs:       fs,
		env:      env,
		required: make(map[string]lua.LValue),
	}
	sub.installRequire()
	return sub, nil
}

// installRequire adds a require() function to the sub-isolate's environment
// that resolves module paths against its own template content and caches
// results per module, mirroring Lua 5.1's package.loaded semantics without
// pulling in the (sandboxed-out) package library.
func (s *SubIsolate) installRequire() {
	L := s.parent.vm
	s.env.RawSetString("require", L.NewFunction(func(L *lua.LState) int {
		path := L.CheckString(1)
		if cached, ok := s.required[path]; ok {
			L.Push(cached)
			return 1
		}

		resolved, src, err := s.fs.load(path)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}

		fn, err := L.LoadString(src)
		if err != nil {
			L.RaiseError("isolate: compiling %q: %s", resolved, err.Error())
			return 0
		}
		L.SetFEnv(fn, s.env)

		L.Push(fn)
		if err := L.PCall(0, 1, nil); err != nil {
			L.RaiseError("isolate: running module %q: %s", resolved, err.Error())
			return 0
		}

		result := L.Get(-1)
		L.Pop(1)
		s.required[path] = result
		L.Push(result)
		return 1
	}))
}

// Register installs a host function under the given global name in this
// sub-isolate's environment, for capability providers to expose services
// (spec §4.12).
func (s *SubIsolate) Register(name string, fn HostFunc) {
	s.env.RawSetString(name, s.parent.vm.NewFunction(fn))
}

// Dispatch loads and runs the sub-isolate's entry point with the given
// argument value, returning the script's result converted back to the host
// value tree (spec §4.5, §9).
func (s *SubIsolate) Dispatch(ctx context.Context, arg valuetree.Value) (valuetree.Value, error) {
	if s.parentDropped || s.parent.Broken() {
		return valuetree.Value{}, &rterr.VmBroken{Tenant: s.parent.Tenant.String()}
	}

	s.parent.mu.Lock()
	s.parent.state = StateRunning
	s.parent.mu.Unlock()
	defer func() {
		s.parent.mu.Lock()
		if s.parent.state == StateRunning {
			s.parent.state = StateReady
		}
		s.parent.mu.Unlock()
	}()

	var result lua.LValue
	err := s.parent.runWithInterrupt(ctx, func(_ context.Context) error {
		L := s.parent.vm

		_, src, loadErr := s.fs.load(EntryPoint)
		if loadErr != nil {
			return loadErr
		}

		fn, compileErr := L.LoadString(src)
		if compileErr != nil {
			return &rterr.ScriptError{Message: compileErr.Error()}
		}
		L.SetFEnv(fn, s.env)

		L.Push(fn)
		L.Push(ToLua(L, arg))
		if callErr := L.PCall(1, 1, nil); callErr != nil {
			return &rterr.ScriptError{Message: callErr.Error()}
		}

		result = L.Get(-1)
		L.Pop(1)
		return nil
	})
	if err != nil {
		return valuetree.Value{}, err
	}

	hostVal, err := FromLua(result)
	if err != nil {
		return valuetree.Value{}, &rterr.ScriptError{Message: err.Error()}
	}
	return hostVal, nil
}

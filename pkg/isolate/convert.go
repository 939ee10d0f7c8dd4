package isolate

import (
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/wisbric/scriptrt/pkg/valuetree"
)

// ToLua converts a host value-tree value into its gopher-lua representation
// (spec §9: the host<->script value tree is a tagged sum; Lua only sees the
// unwrapped native shape).
func ToLua(L *lua.LState, v valuetree.Value) lua.LValue {
	switch v.Kind {
	case valuetree.KindNull:
		return lua.LNil
	case valuetree.KindText:
		return lua.LString(v.Text)
	case valuetree.KindInt:
		return lua.LNumber(v.Int)
	case valuetree.KindUint:
		return lua.LNumber(v.Uint)
	case valuetree.KindFloat:
		return lua.LNumber(v.Float)
	case valuetree.KindBool:
		return lua.LBool(v.Bool)
	case valuetree.KindBuffer:
		return lua.LString(string(v.Buffer))
	case valuetree.KindVector3:
		t := L.NewTable()
		t.RawSetString("x", lua.LNumber(v.Vector3.X))
		t.RawSetString("y", lua.LNumber(v.Vector3.Y))
		t.RawSetString("z", lua.LNumber(v.Vector3.Z))
		return t
	case valuetree.KindMap:
		t := L.NewTable()
		for k, mv := range v.Map {
			t.RawSetString(k, ToLua(L, mv))
		}
		return t
	case valuetree.KindList:
		t := L.NewTable()
		for i, lv := range v.List {
			t.RawSetInt(i+1, ToLua(L, lv))
		}
		return t
	case valuetree.KindTime:
		return lua.LNumber(v.Time.UnixMilli())
	case valuetree.KindInterval:
		return lua.LNumber(v.Interval.Milliseconds())
	case valuetree.KindTimezone:
		return lua.LString(v.Timezone)
	default:
		return lua.LNil
	}
}

// FromLua converts a gopher-lua return value into the host value tree. It
// returns an error if the value has no faithful representation (spec §4.5:
// "on conversion failure -> LuaError").
func FromLua(v lua.LValue) (valuetree.Value, error) {
	switch lv := v.(type) {
	case *lua.LNilType:
		return valuetree.Null(), nil
	case lua.LBool:
		return valuetree.Bool(bool(lv)), nil
	case lua.LNumber:
		f := float64(lv)
		if f == float64(int64(f)) {
			return valuetree.Int(int64(f)), nil
		}
		return valuetree.Float(f), nil
	case lua.LString:
		return valuetree.Text(string(lv)), nil
	case *lua.LTable:
		return fromLuaTable(lv)
	case *lua.LFunction, *lua.LUserData, *lua.LChannel, *lua.LState:
		return valuetree.Value{}, fmt.Errorf("isolate: cannot convert lua value of type %s to host value", v.Type().String())
	default:
		return valuetree.Value{}, fmt.Errorf("isolate: unsupported lua value type %s", v.Type().String())
	}
}

// fromLuaTable converts a Lua table to either a List (if it is a dense
// 1-based integer sequence) or a Map.
func fromLuaTable(t *lua.LTable) (valuetree.Value, error) {
	n := t.Len()
	isSeq := n > 0
	if isSeq {
		for i := 1; i <= n; i++ {
			if t.RawGetInt(i) == lua.LNil {
				isSeq = false
				break
			}
		}
	}

	if isSeq {
		items := make([]valuetree.Value, 0, n)
		for i := 1; i <= n; i++ {
			item, err := FromLua(t.RawGetInt(i))
			if err != nil {
				return valuetree.Value{}, err
			}
			items = append(items, item)
		}
		return valuetree.List(items), nil
	}

	m := make(map[string]valuetree.Value)
	var rangeErr error
	t.ForEach(func(k, val lua.LValue) {
		if rangeErr != nil {
			return
		}
		ks, ok := k.(lua.LString)
		if !ok {
			rangeErr = fmt.Errorf("isolate: non-string map key %v cannot be converted", k)
			return
		}
		fv, err := FromLua(val)
		if err != nil {
			rangeErr = err
			return
		}
		m[string(ks)] = fv
	})
	if rangeErr != nil {
		return valuetree.Value{}, rangeErr
	}
	return valuetree.Map(m), nil
}

// durationFromLua is a small helper kept near the conversion code it
// supports; used by providers converting numeric millisecond arguments.
func durationFromLua(n lua.LNumber) time.Duration {
	return time.Duration(float64(n)) * time.Millisecond
}

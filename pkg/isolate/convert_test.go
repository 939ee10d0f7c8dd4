package isolate

import (
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/wisbric/scriptrt/pkg/valuetree"
)

func TestToFromLuaRoundTrip(t *testing.T) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	in := valuetree.Map(map[string]valuetree.Value{
		"name":   valuetree.Text("zed"),
		"count":  valuetree.Int(7),
		"active": valuetree.Bool(true),
		"tags":   valuetree.List([]valuetree.Value{valuetree.Text("a"), valuetree.Text("b")}),
	})

	lv := ToLua(L, in)
	out, err := FromLua(lv)
	if err != nil {
		t.Fatalf("FromLua() error = %v", err)
	}
	if out.Kind != valuetree.KindMap {
		t.Fatalf("out.Kind = %v, want map", out.Kind)
	}
	if out.Map["name"].Text != "zed" {
		t.Errorf("name = %+v", out.Map["name"])
	}
	if out.Map["count"].Kind != valuetree.KindInt || out.Map["count"].Int != 7 {
		t.Errorf("count = %+v", out.Map["count"])
	}
	if out.Map["tags"].Kind != valuetree.KindList || len(out.Map["tags"].List) != 2 {
		t.Errorf("tags = %+v", out.Map["tags"])
	}
}

func TestFromLuaFunctionErrors(t *testing.T) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	fn := L.NewFunction(func(L *lua.LState) int { return 0 })
	if _, err := FromLua(fn); err == nil {
		t.Error("FromLua() expected error for function value")
	}
}

func TestFromLuaNonStringKeyErrors(t *testing.T) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	tbl := L.NewTable()
	tbl.RawSet(lua.LNumber(3.5), lua.LString("x"))
	if _, err := FromLua(tbl); err == nil {
		t.Error("FromLua() expected error for non-string table key")
	}
}

func TestFloatVsIntDisambiguation(t *testing.T) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	intVal, err := FromLua(lua.LNumber(4))
	if err != nil || intVal.Kind != valuetree.KindInt {
		t.Errorf("FromLua(4) = %+v, err %v, want int", intVal, err)
	}
	floatVal, err := FromLua(lua.LNumber(4.5))
	if err != nil || floatVal.Kind != valuetree.KindFloat {
		t.Errorf("FromLua(4.5) = %+v, err %v, want float", floatVal, err)
	}
}

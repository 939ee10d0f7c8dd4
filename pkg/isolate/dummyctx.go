package isolate

import lua "github.com/yuin/gopher-lua"

// DummyHostFuncs lists the canned host functions RegisterDummyProviders
// installs, keyed by their global name. Each answers every call with a
// fixed value rather than touching a real capability provider, mirroring
// the dummy context the original runtime used to generate capability docs
// without a live tenant (spec §9's capability surface). Here it buys the
// same thing for tests: a sub-isolate can be dispatched end to end against
// every provider-shaped global a template might call, without wiring a
// real kvstore, chat client, or object store.
var DummyHostFuncs = map[string]HostFunc{
	"kv_get":        dummyReturns(lua.LNil),
	"kv_set":        dummyReturns(),
	"kv_delete":     dummyReturns(),
	"kv_search":     dummyReturns(lua.LNil),
	"chat_post":     dummyReturns(),
	"http_get":      dummyReturns(lua.LNumber(0), lua.LString("")),
	"object_put":    dummyReturns(),
	"object_get":    dummyReturns(lua.LString("")),
	"object_delete": dummyReturns(),
}

// dummyReturns builds a HostFunc that ignores its arguments and pushes the
// given constant values, for DummyHostFuncs's table.
func dummyReturns(vals ...lua.LValue) HostFunc {
	return func(L *lua.LState) int {
		for _, v := range vals {
			L.Push(v)
		}
		return len(vals)
	}
}

// RegisterDummyProviders installs every DummyHostFuncs entry into sub, so
// its entry point can call any provider-shaped global without a capability
// mediator or a real provider behind it. Used by tests that exercise the
// sub-isolate dispatch path in isolation from pkg/dispatcher's wiring.
func RegisterDummyProviders(sub *SubIsolate) {
	for name, fn := range DummyHostFuncs {
		sub.Register(name, fn)
	}
}

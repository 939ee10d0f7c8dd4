package isolate

import (
	"context"
	"testing"

	"github.com/wisbric/scriptrt/pkg/valuetree"
)

func TestRegisterDummyProvidersAnswersEveryCall(t *testing.T) {
	iso := newTestIsolate(t, DefaultConfig())

	sub, created, err := iso.GetOrCreateSubIsolate("uses_dummy", map[string]string{
		EntryPoint: `
			kv_set("k", "v")
			local v = kv_get("k")
			chat_post("#general", "hi")
			local status, body = http_get("https://example.invalid")
			return { v = v, status = status, body = body }
		`,
	})
	if err != nil {
		t.Fatalf("GetOrCreateSubIsolate() error = %v", err)
	}
	if !created {
		t.Fatal("expected a freshly created sub-isolate")
	}
	RegisterDummyProviders(sub)

	got, err := sub.Dispatch(context.Background(), valuetree.Null())
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want every dummy host call to succeed", err)
	}
	if got.Kind != valuetree.KindMap {
		t.Fatalf("Dispatch() = %+v, want a map result", got)
	}
}

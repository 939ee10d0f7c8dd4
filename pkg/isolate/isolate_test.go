package isolate

import (
	"context"
	"testing"
	"time"

	"github.com/wisbric/scriptrt/pkg/tenant"
	"github.com/wisbric/scriptrt/pkg/valuetree"
)

func newTestIsolate(t *testing.T, cfg Config) *Isolate {
	t.Helper()
	iso, err := New(tenant.Guild(1), cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(iso.Drop)
	return iso
}

func TestEcho(t *testing.T) {
	iso := newTestIsolate(t, DefaultConfig())

	sub, _, err := iso.GetOrCreateSubIsolate("echo", map[string]string{
		EntryPoint: "local args = ...\nreturn args",
	})
	if err != nil {
		t.Fatalf("GetOrCreateSubIsolate() error = %v", err)
	}

	got, err := sub.Dispatch(context.Background(), valuetree.Text("hello"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got.Kind != valuetree.KindText || got.Text != "hello" {
		t.Errorf("Dispatch() = %+v, want text %q", got, "hello")
	}
}

func TestEchoTable(t *testing.T) {
	iso := newTestIsolate(t, DefaultConfig())

	sub, _, err := iso.GetOrCreateSubIsolate("echo", map[string]string{
		EntryPoint: "local args = ...\nreturn { value = args.value, doubled = args.value * 2 }",
	})
	if err != nil {
		t.Fatalf("GetOrCreateSubIsolate() error = %v", err)
	}

	got, err := sub.Dispatch(context.Background(), valuetree.Map(map[string]valuetree.Value{
		"value": valuetree.Int(21),
	}))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got.Kind != valuetree.KindMap {
		t.Fatalf("Dispatch() kind = %v, want map", got.Kind)
	}
	if got.Map["doubled"].Int != 42 {
		t.Errorf("doubled = %v, want 42", got.Map["doubled"])
	}
}

func TestTimeoutMarksBroken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxExecutionTime = 20 * time.Millisecond
	cfg.GiveTime = 20 * time.Millisecond
	iso := newTestIsolate(t, cfg)

	sub, _, err := iso.GetOrCreateSubIsolate("loop", map[string]string{
		EntryPoint: "while true do end",
	})
	if err != nil {
		t.Fatalf("GetOrCreateSubIsolate() error = %v", err)
	}

	_, err = sub.Dispatch(context.Background(), valuetree.Null())
	if err == nil {
		t.Fatal("Dispatch() expected timeout error, got nil")
	}
}

func TestMissingEntryPointRejected(t *testing.T) {
	iso := newTestIsolate(t, DefaultConfig())

	_, _, err := iso.GetOrCreateSubIsolate("broken", map[string]string{
		"/lib.luau": "return 1",
	})
	if err == nil {
		t.Fatal("GetOrCreateSubIsolate() expected error for missing entry point")
	}
}

func TestSubIsolateCached(t *testing.T) {
	iso := newTestIsolate(t, DefaultConfig())
	content := map[string]string{EntryPoint: "return 1"}

	a, _, err := iso.GetOrCreateSubIsolate("x", content)
	if err != nil {
		t.Fatalf("GetOrCreateSubIsolate() error = %v", err)
	}
	b, _, err := iso.GetOrCreateSubIsolate("x", content)
	if err != nil {
		t.Fatalf("GetOrCreateSubIsolate() error = %v", err)
	}
	if a != b {
		t.Error("GetOrCreateSubIsolate() did not return the cached sub-isolate")
	}
}

func TestDropMarksBroken(t *testing.T) {
	iso := newTestIsolate(t, DefaultConfig())
	iso.Drop()
	if !iso.Broken() {
		t.Error("Drop() did not mark the isolate broken")
	}
}

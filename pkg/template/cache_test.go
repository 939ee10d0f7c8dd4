package template

import (
	"testing"

	"github.com/wisbric/scriptrt/pkg/tenant"
)

func tpl(name string) *Template {
	return &Template{Name: name, Content: map[string]string{EntryPoint: "return nil"}}
}

func TestFullSyncOwnerEmptyRemoves(t *testing.T) {
	c := NewCache()
	t1 := tenant.Guild(1)

	if err := c.Apply(Upsert{Tenant: t1, Template: tpl("a")}); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(t1); !ok {
		t.Fatal("expected tenant present after upsert")
	}

	if err := c.Apply(FullSyncOwner{Tenant: t1, Templates: nil}); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(t1); ok {
		t.Error("expected tenant removed after empty FullSyncOwner")
	}
}

func TestUpsertPreservesOtherTenants(t *testing.T) {
	c := NewCache()
	t1, t2 := tenant.Guild(1), tenant.Guild(2)

	if err := c.Apply(Upsert{Tenant: t1, Template: tpl("a")}); err != nil {
		t.Fatal(err)
	}
	if err := c.Apply(Upsert{Tenant: t2, Template: tpl("b")}); err != nil {
		t.Fatal(err)
	}

	got1, _ := c.Get(t1)
	if len(got1) != 1 || got1[0].Name != "a" {
		t.Errorf("t1 templates = %+v", got1)
	}
	got2, _ := c.Get(t2)
	if len(got2) != 1 || got2[0].Name != "b" {
		t.Errorf("t2 templates = %+v", got2)
	}
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	c := NewCache()
	t1 := tenant.Guild(1)
	if err := c.Apply(Upsert{Tenant: t1, Template: tpl("a")}); err != nil {
		t.Fatal(err)
	}
	if err := c.Apply(Remove{Tenant: t1, Name: "does-not-exist"}); err != nil {
		t.Fatal(err)
	}
	got, _ := c.Get(t1)
	if len(got) != 1 {
		t.Errorf("expected no-op remove to leave templates intact, got %+v", got)
	}
}

// TestCacheSyncScenario reproduces spec §8 scenario 6 verbatim.
func TestCacheSyncScenario(t *testing.T) {
	c := NewCache()
	t1, t2 := tenant.Guild(1), tenant.Guild(2)

	if err := c.Apply(Upsert{Tenant: t1, Template: tpl("a")}); err != nil {
		t.Fatal(err)
	}
	if err := c.Apply(Upsert{Tenant: t1, Template: tpl("b")}); err != nil {
		t.Fatal(err)
	}

	bPrime := tpl("b")
	bPrime.Language = "luau-v2"

	err := c.Apply(Multi{Updates: []Update{
		Upsert{Tenant: t1, Template: bPrime},
		Remove{Tenant: t1, Name: "a"},
		FullSyncOwner{Tenant: t2, Templates: []*Template{tpl("c")}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	got1, ok := c.Get(t1)
	if !ok || len(got1) != 1 || got1[0].Name != "b" || got1[0].Language != "luau-v2" {
		t.Errorf("t1 = %+v", got1)
	}
	if cause := c.Cause(t1); cause != CauseUpsertedExisting {
		t.Errorf("t1 cause = %s, want UpsertedExisting", cause)
	}

	got2, ok := c.Get(t2)
	if !ok || len(got2) != 1 || got2[0].Name != "c" {
		t.Errorf("t2 = %+v", got2)
	}
	if cause := c.Cause(t2); cause != CauseFullSync {
		t.Errorf("t2 cause = %s, want FullSync", cause)
	}
}

func TestMultiDepthBound(t *testing.T) {
	c := NewCache()
	var nested Update = Flush{}
	for i := 0; i < maxMultiDepth+2; i++ {
		nested = Multi{Updates: []Update{nested}}
	}
	if err := c.Apply(nested); err == nil {
		t.Fatal("expected error for Multi nesting beyond max depth")
	}
}

func TestFlushClearsAll(t *testing.T) {
	c := NewCache()
	t1 := tenant.Guild(1)
	if err := c.Apply(Upsert{Tenant: t1, Template: tpl("a")}); err != nil {
		t.Fatal(err)
	}
	if err := c.Apply(Flush{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(t1); ok {
		t.Error("expected Flush to remove all tenants")
	}
}

func TestRegenerateMarkIsObservational(t *testing.T) {
	c := NewCache()
	t1 := tenant.Guild(1)
	if err := c.Apply(Upsert{Tenant: t1, Template: tpl("a")}); err != nil {
		t.Fatal(err)
	}
	if err := c.Apply(RegenerateMark{Tenant: t1}); err != nil {
		t.Fatal(err)
	}
	got, _ := c.Get(t1)
	if len(got) != 1 || got[0].Name != "a" {
		t.Errorf("RegenerateMark must not alter templates, got %+v", got)
	}
	if cause := c.Cause(t1); cause != CauseManual {
		t.Errorf("cause = %s, want Manual", cause)
	}
}

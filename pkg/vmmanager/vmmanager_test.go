package vmmanager

import (
	"testing"

	"github.com/wisbric/scriptrt/pkg/isolate"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

func TestGetOrCreateReturnsSameInstance(t *testing.T) {
	m := New(isolate.DefaultConfig(), nil)
	id := tenant.Guild(1)

	a, err := m.GetOrCreate(id)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	b, err := m.GetOrCreate(id)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if a != b {
		t.Error("GetOrCreate() built a second isolate for the same tenant")
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestDropTenantRebuildsOnNextCall(t *testing.T) {
	m := New(isolate.DefaultConfig(), nil)
	id := tenant.Guild(2)

	a, err := m.GetOrCreate(id)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	m.DropTenant(id)
	if m.Len() != 0 {
		t.Errorf("Len() after DropTenant = %d, want 0", m.Len())
	}

	b, err := m.GetOrCreate(id)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if a == b {
		t.Error("GetOrCreate() reused a dropped isolate")
	}
}

func TestBrokenIsolateIsReplaced(t *testing.T) {
	m := New(isolate.DefaultConfig(), nil)
	id := tenant.Guild(3)

	a, err := m.GetOrCreate(id)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	a.Drop()

	b, err := m.GetOrCreate(id)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if a == b {
		t.Error("GetOrCreate() returned a broken isolate instead of rebuilding")
	}
}

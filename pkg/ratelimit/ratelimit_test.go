package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/wisbric/scriptrt/pkg/rterr"
	"github.com/wisbric/scriptrt/pkg/tenant"
)

func TestBurstThenDenied(t *testing.T) {
	r, err := NewRegistry([]Taxonomy{
		{
			Name:   "test",
			Global: Quota{Burst: 3, Period: time.Minute},
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	tn := tenant.Guild(1)

	for i := 0; i < 3; i++ {
		if err := r.Check(tn, "test", "anything"); err != nil {
			t.Fatalf("check %d: expected success, got %v", i, err)
		}
	}

	err = r.Check(tn, "test", "anything")
	var rl *rterr.RateLimited
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimited after exhausting burst, got %v", err)
	}
	if rl.Wait <= 0 || rl.Wait > time.Minute {
		t.Errorf("wait %s out of expected bounds", rl.Wait)
	}
}

func TestPerActionBucket(t *testing.T) {
	r, err := NewRegistry([]Taxonomy{
		{
			Name:   "discord",
			Global: Quota{Burst: 1000, Period: time.Minute},
			PerAction: map[string]Quota{
				"ban": {Burst: 1, Period: time.Minute},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	tn := tenant.Guild(1)

	if err := r.Check(tn, "discord", "ban"); err != nil {
		t.Fatalf("first ban should succeed: %v", err)
	}
	if err := r.Check(tn, "discord", "ban"); err == nil {
		t.Fatal("second ban should be rate limited")
	}
	// A different action under the same taxonomy is unaffected.
	if err := r.Check(tn, "discord", "kick"); err != nil {
		t.Fatalf("kick should not be limited by the ban bucket: %v", err)
	}
}

func TestGlobalIgnore(t *testing.T) {
	r, err := NewRegistry([]Taxonomy{
		{
			Name:         "discord",
			Global:       Quota{Burst: 1, Period: time.Minute},
			GlobalIgnore: map[string]struct{}{"get_channel": {}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	tn := tenant.Guild(1)

	// Exhaust the global bucket.
	if err := r.Check(tn, "discord", "send"); err != nil {
		t.Fatal(err)
	}
	if err := r.Check(tn, "discord", "send"); err == nil {
		t.Fatal("expected global bucket to be exhausted")
	}
	// Ignored actions bypass the global bucket entirely.
	for i := 0; i < 5; i++ {
		if err := r.Check(tn, "discord", "get_channel"); err != nil {
			t.Fatalf("ignored action should never be limited: %v", err)
		}
	}
}

func TestInvalidQuota(t *testing.T) {
	_, err := NewRegistry([]Taxonomy{
		{Name: "bad", Global: Quota{Burst: 0, Period: time.Second}},
	})
	if err == nil {
		t.Fatal("expected construct-time error for burst <= 0")
	}

	_, err = NewRegistry([]Taxonomy{
		{Name: "bad", Global: Quota{Burst: 1, Period: 0}},
	})
	if err == nil {
		t.Fatal("expected construct-time error for period <= 0")
	}
}

func TestUnknownTaxonomyIsUnlimited(t *testing.T) {
	r, err := NewRegistry(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Check(tenant.Guild(1), "nonexistent", "anything"); err != nil {
		t.Errorf("unknown taxonomy should not be limited: %v", err)
	}
}

// TestTenantsAreIsolated guards the invariant a shared, process-wide
// Registry depends on: one tenant exhausting its bucket must never affect
// another tenant's bucket for the same taxonomy (spec §2, §8/§9).
func TestTenantsAreIsolated(t *testing.T) {
	r, err := NewRegistry([]Taxonomy{
		{Name: "kv", Global: Quota{Burst: 1, Period: time.Minute}},
	})
	if err != nil {
		t.Fatal(err)
	}

	a, b := tenant.Guild(1), tenant.Guild(2)

	if err := r.Check(a, "kv", "set"); err != nil {
		t.Fatalf("tenant a's first call should succeed: %v", err)
	}
	if err := r.Check(a, "kv", "set"); err == nil {
		t.Fatal("tenant a's bucket should now be exhausted")
	}
	if err := r.Check(b, "kv", "set"); err != nil {
		t.Fatalf("tenant b should have its own bucket, unaffected by a: %v", err)
	}
}

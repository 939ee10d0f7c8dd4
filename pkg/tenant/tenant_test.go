package tenant

import (
	"context"
	"testing"
)

func TestGuildRoundTrip(t *testing.T) {
	id := Guild(42)
	if id.OwnerType() != "guild" {
		t.Errorf("OwnerType() = %q, want guild", id.OwnerType())
	}
	if id.OwnerID() != "42" {
		t.Errorf("OwnerID() = %q, want 42", id.OwnerID())
	}
	if id.String() != "guild:42" {
		t.Errorf("String() = %q, want guild:42", id.String())
	}
}

func TestIDComparable(t *testing.T) {
	a := Guild(1)
	b := Guild(1)
	c := Guild(2)
	if a != b {
		t.Error("equal guild IDs should compare equal")
	}
	if a == c {
		t.Error("distinct guild IDs should not compare equal")
	}

	m := map[ID]string{a: "x"}
	if m[b] != "x" {
		t.Error("ID should be usable as a map key across equal values")
	}
}

func TestModFilter(t *testing.T) {
	tests := []struct {
		guildID uint64
		n       int
		want    int
	}{
		{0, 4, 0},
		{4, 4, 0},
		{5, 4, 1},
		{13, 4, 1},
	}
	for _, tt := range tests {
		got := ModFilter(Guild(tt.guildID), tt.n)
		if got != tt.want {
			t.Errorf("ModFilter(guild(%d), %d) = %d, want %d", tt.guildID, tt.n, got, tt.want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := FromContext(ctx); ok {
		t.Fatal("expected no tenant in empty context")
	}

	ctx = NewContext(ctx, Guild(7))
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected tenant in context")
	}
	if got != Guild(7) {
		t.Errorf("got %v, want guild(7)", got)
	}
}

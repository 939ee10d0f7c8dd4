package keyexpiry

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/scriptrt/pkg/tenant"
)

// TestFiredRoundTripsOverJSON guards the wire shape publishRemote and
// RemoteListener.Listen depend on; a live Redis is integration-level and
// not exercised here (mirrors the teacher's escalation engine tests, which
// stop at the DB/Redis boundary too).
func TestFiredRoundTripsOverJSON(t *testing.T) {
	want := Fired{
		Tenant: tenant.Guild(42),
		Entry: Entry{
			ID:        uuid.New(),
			Tenant:    tenant.Guild(42),
			Key:       "session:abc",
			Scopes:    []string{"kv"},
			ExpiresAt: time.Now().Truncate(time.Second).UTC(),
		},
	}

	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got Fired
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

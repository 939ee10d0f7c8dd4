package tenantstate

import "testing"

func TestStateZeroValueHasNoData(t *testing.T) {
	var s State
	if s.Data != nil {
		t.Errorf("zero State.Data = %v, want nil", s.Data)
	}
	if !s.UpdatedAt.IsZero() {
		t.Errorf("zero State.UpdatedAt = %v, want zero time", s.UpdatedAt)
	}
}

package kvstore

import "testing"

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"abc", false},
		{"a.b-c_d", false},
		{"ab", true},              // too short
		{".leading", true},        // leading dot
		{"trailing.", true},       // trailing dot
		{"has space", true},       // bad charset
		{"x", true},               // too short
	}
	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}
}

func TestNormalizeScopes(t *testing.T) {
	got, err := NormalizeScopes([]string{"b", "a", "b"})
	if err != nil {
		t.Fatalf("NormalizeScopes() error = %v", err)
	}
	want := []string{"a", "b"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("NormalizeScopes() = %v, want %v", got, want)
	}

	if _, err := NormalizeScopes(nil); err == nil {
		t.Error("NormalizeScopes(nil) expected error for empty result")
	}
}

package template

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		tpl     Template
		wantErr bool
	}{
		{
			name: "valid",
			tpl:  Template{Name: "echo", Content: map[string]string{EntryPoint: "return args.data"}},
		},
		{
			name:    "missing name",
			tpl:     Template{Content: map[string]string{EntryPoint: "x"}},
			wantErr: true,
		},
		{
			name:    "missing entry point",
			tpl:     Template{Name: "echo", Content: map[string]string{"/lib.luau": "x"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tpl.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMatchesEvent(t *testing.T) {
	tpl := Template{Events: []string{"Ping", "MessageCreate"}}

	tests := []struct {
		name, base string
		want       bool
	}{
		{"Ping", "", true},
		{"MessageCreateV2", "MessageCreate", true},
		{"Unrelated", "", false},
		{"Unrelated", "AlsoUnrelated", false},
	}
	for _, tt := range tests {
		got := tpl.MatchesEvent(tt.name, tt.base)
		if got != tt.want {
			t.Errorf("MatchesEvent(%q, %q) = %v, want %v", tt.name, tt.base, got, tt.want)
		}
	}
}

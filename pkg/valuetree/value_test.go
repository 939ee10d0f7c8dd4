package valuetree

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    Value
	}{
		{"null", Null()},
		{"text", Text("hello")},
		{"buffer-looks-like-text", Buffer([]byte("hello"))},
		{"int", Int(-42)},
		{"uint", Uint(42)},
		{"float", Float(3.5)},
		{"bool", Bool(true)},
		{"vector3", Vec3(1, 2, 3)},
		{"list", List([]Value{Int(1), Text("a"), Bool(false)})},
		{"map", Map(map[string]Value{"a": Int(1), "b": Text("x")})},
		{"time", Timestamp(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))},
		{"interval", Interval(90 * time.Second)},
		{"timezone", Timezone("America/New_York")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.v)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}

			var got Value
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			gotRaw, err := json.Marshal(got)
			if err != nil {
				t.Fatalf("re-marshal: %v", err)
			}
			if string(gotRaw) != string(raw) {
				t.Errorf("round trip mismatch: got %s, want %s", gotRaw, raw)
			}
		})
	}
}

func TestBufferVsTextDisambiguation(t *testing.T) {
	text := Text("aGVsbG8=")     // looks like base64 but is meant as text
	buffer := Buffer([]byte("aGVsbG8=")) // the raw bytes of that same string

	textRaw, _ := json.Marshal(text)
	bufferRaw, _ := json.Marshal(buffer)

	if string(textRaw) == string(bufferRaw) {
		t.Fatal("text and buffer encodings must not collide")
	}

	var gotText, gotBuffer Value
	if err := json.Unmarshal(textRaw, &gotText); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(bufferRaw, &gotBuffer); err != nil {
		t.Fatal(err)
	}
	if gotText.Kind != KindText || gotBuffer.Kind != KindBuffer {
		t.Fatalf("kinds not preserved: text=%s buffer=%s", gotText.Kind, gotBuffer.Kind)
	}
}

func TestIsNull(t *testing.T) {
	if !(Value{}).IsNull() {
		t.Error("zero Value should be null")
	}
	if !Null().IsNull() {
		t.Error("Null() should be null")
	}
	if Int(0).IsNull() {
		t.Error("Int(0) should not be null")
	}
}

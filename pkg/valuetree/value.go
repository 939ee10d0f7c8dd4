// Package valuetree implements the host<->script value interchange type:
// a tagged sum ("value tree") with explicit variants for every primitive the
// scripting runtime needs to pass across the host/VM boundary, plus a
// self-describing wire encoding for cases (buffers vs. strings) where plain
// JSON would be ambiguous.
package valuetree

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags the variant carried by a Value.
type Kind string

const (
	KindNull     Kind = "null"
	KindText     Kind = "text"
	KindInt      Kind = "int"
	KindUint     Kind = "uint"
	KindFloat    Kind = "float"
	KindBool     Kind = "bool"
	KindBuffer   Kind = "buffer"
	KindVector3  Kind = "vector3"
	KindMap      Kind = "map"
	KindList     Kind = "list"
	KindTime     Kind = "time"
	KindInterval Kind = "interval"
	KindTimezone Kind = "timezone"
)

// Vector3 is a 3-float vector, used by geometry-flavored capability calls.
type Vector3 struct {
	X, Y, Z float64
}

// Value is the tagged-sum interchange type. Exactly one of the typed fields
// is meaningful for a given Kind; the zero Value is KindNull.
type Value struct {
	Kind     Kind
	Text     string
	Int      int64
	Uint     uint64
	Float    float64
	Bool     bool
	Buffer   []byte
	Vector3  Vector3
	Map      map[string]Value
	List     []Value
	Time     time.Time
	Interval time.Duration
	Timezone string
}

func Null() Value                 { return Value{Kind: KindNull} }
func Text(s string) Value         { return Value{Kind: KindText, Text: s} }
func Int(i int64) Value           { return Value{Kind: KindInt, Int: i} }
func Uint(u uint64) Value         { return Value{Kind: KindUint, Uint: u} }
func Float(f float64) Value       { return Value{Kind: KindFloat, Float: f} }
func Bool(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func Buffer(b []byte) Value       { return Value{Kind: KindBuffer, Buffer: b} }
func Vec3(x, y, z float64) Value  { return Value{Kind: KindVector3, Vector3: Vector3{x, y, z}} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }
func List(l []Value) Value        { return Value{Kind: KindList, List: l} }
func Timestamp(t time.Time) Value { return Value{Kind: KindTime, Time: t} }
func Interval(d time.Duration) Value {
	return Value{Kind: KindInterval, Interval: d}
}
func Timezone(name string) Value { return Value{Kind: KindTimezone, Timezone: name} }

// IsNull reports whether v is the null variant.
func (v Value) IsNull() bool { return v.Kind == "" || v.Kind == KindNull }

// wireValue is the self-describing JSON encoding: {"k": <kind>, "v": <payload>}.
// A bare string would be ambiguous between KindText and a base64 KindBuffer,
// so every variant always round-trips through this envelope.
type wireValue struct {
	K Kind            `json:"k"`
	V json.RawMessage `json:"v,omitempty"`
}

// MarshalJSON implements the self-describing wire encoding.
func (v Value) MarshalJSON() ([]byte, error) {
	kind := v.Kind
	if kind == "" {
		kind = KindNull
	}

	var payload any
	switch kind {
	case KindNull:
		return json.Marshal(wireValue{K: KindNull})
	case KindText:
		payload = v.Text
	case KindInt:
		payload = v.Int
	case KindUint:
		payload = v.Uint
	case KindFloat:
		payload = v.Float
	case KindBool:
		payload = v.Bool
	case KindBuffer:
		payload = base64.StdEncoding.EncodeToString(v.Buffer)
	case KindVector3:
		payload = [3]float64{v.Vector3.X, v.Vector3.Y, v.Vector3.Z}
	case KindMap:
		payload = v.Map
	case KindList:
		payload = v.List
	case KindTime:
		payload = v.Time.UTC().Format(time.RFC3339Nano)
	case KindInterval:
		payload = v.Interval.String()
	case KindTimezone:
		payload = v.Timezone
	default:
		return nil, fmt.Errorf("valuetree: unknown kind %q", kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("valuetree: marshaling %s payload: %w", kind, err)
	}
	return json.Marshal(wireValue{K: kind, V: raw})
}

// UnmarshalJSON implements the self-describing wire decoding.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("valuetree: decoding envelope: %w", err)
	}

	switch w.K {
	case "", KindNull:
		*v = Null()
		return nil
	case KindText:
		var s string
		if err := json.Unmarshal(w.V, &s); err != nil {
			return err
		}
		*v = Text(s)
	case KindInt:
		var i int64
		if err := json.Unmarshal(w.V, &i); err != nil {
			return err
		}
		*v = Int(i)
	case KindUint:
		var u uint64
		if err := json.Unmarshal(w.V, &u); err != nil {
			return err
		}
		*v = Uint(u)
	case KindFloat:
		var f float64
		if err := json.Unmarshal(w.V, &f); err != nil {
			return err
		}
		*v = Float(f)
	case KindBool:
		var b bool
		if err := json.Unmarshal(w.V, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case KindBuffer:
		var s string
		if err := json.Unmarshal(w.V, &s); err != nil {
			return err
		}
		buf, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("valuetree: decoding buffer: %w", err)
		}
		*v = Buffer(buf)
	case KindVector3:
		var arr [3]float64
		if err := json.Unmarshal(w.V, &arr); err != nil {
			return err
		}
		*v = Vec3(arr[0], arr[1], arr[2])
	case KindMap:
		m := map[string]Value{}
		if err := json.Unmarshal(w.V, &m); err != nil {
			return err
		}
		*v = Map(m)
	case KindList:
		var l []Value
		if err := json.Unmarshal(w.V, &l); err != nil {
			return err
		}
		*v = List(l)
	case KindTime:
		var s string
		if err := json.Unmarshal(w.V, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("valuetree: decoding time: %w", err)
		}
		*v = Timestamp(t)
	case KindInterval:
		var s string
		if err := json.Unmarshal(w.V, &s); err != nil {
			return err
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("valuetree: decoding interval: %w", err)
		}
		*v = Interval(d)
	case KindTimezone:
		var s string
		if err := json.Unmarshal(w.V, &s); err != nil {
			return err
		}
		*v = Timezone(s)
	default:
		return fmt.Errorf("valuetree: unknown kind %q", w.K)
	}

	return nil
}

// Package value implements the tagged variation value described in
// spec.md's Design Notes §9 ("duck-typed payloads: model as a tagged value
// with explicit coercions at the evaluation API boundary; invalid
// coercions return the caller's default").
package value

import "encoding/json"

// Kind discriminates the underlying representation of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "null"
	}
}

// Value is a tagged union over the variation types spec.md §3 allows:
// string | number | boolean | mapping. It is never null once constructed
// from a Config entry — spec.md's Config invariant requires a non-null
// variation value.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Number(n float64) Value     { return Value{kind: KindNumber, n: n} }
func String(s string) Value      { return Value{kind: KindString, s: s} }
func Array(v []Value) Value      { return Value{kind: KindArray, arr: v} }
func Object(m map[string]Value) Value { return Value{kind: KindObject, obj: m} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString coerces to string, falling back to def for any non-string kind.
// Coercions never error, per spec.md §7 ("Evaluation: never throws;
// unknown keys or gate-off conditions return the caller's default").
func (v Value) AsString(def string) string {
	if v.kind == KindString {
		return v.s
	}
	return def
}

func (v Value) AsBool(def bool) bool {
	if v.kind == KindBool {
		return v.b
	}
	return def
}

func (v Value) AsNumber(def float64) float64 {
	if v.kind == KindNumber {
		return v.n
	}
	return def
}

func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind == KindObject {
		return v.obj, true
	}
	return nil, false
}

func (v Value) AsArray() ([]Value, bool) {
	if v.kind == KindArray {
		return v.arr, true
	}
	return nil, false
}

// AsJSON coerces any Value into its plain JSON-compatible representation
// (map[string]any, []any, or scalar) for callers that want get_json
// semantics rather than a typed accessor.
func (v Value) AsJSON() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.AsJSON()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.AsJSON()
		}
		return out
	default:
		return nil
	}
}

// Equal reports deep, by-value equality — used by the Config Manager to
// detect which flag keys actually changed between two snapshots (spec.md
// §4.6: "compute the set of changed keys by comparing old and new Config
// by value-equality").
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == other.b
	case KindNumber:
		return v.n == other.n
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, e := range v.obj {
			oe, ok := other.obj[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// FromJSON converts a decoded JSON value (as produced by encoding/json's
// default unmarshal into `any`) into a Value. A raw nil becomes KindNull so
// callers can apply the "drop null fields" flattening rule before this
// conversion runs (see internal/fetcher).
func FromJSON(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case string:
		return String(t)
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			arr[i] = FromJSON(e)
		}
		return Array(arr)
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			obj[k] = FromJSON(e)
		}
		return Object(obj)
	default:
		return Null()
	}
}

// MarshalJSON implements json.Marshaler so a Value round-trips through the
// Config Cache's disk tier unchanged.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.AsJSON())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromJSON(raw)
	return nil
}

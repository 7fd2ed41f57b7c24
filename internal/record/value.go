package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindMap
	KindSlice
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	case KindSlice:
		return "slice"
	default:
		return "unknown"
	}
}

// Value is a tagged variant over the types a Record may hold.
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  int64
	flt  float64
	b    bool
	m    *Record
	s    []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindInt, num: i} }

// Float wraps a float.
func Float(f float64) Value { return Value{kind: KindFloat, flt: f} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Map wraps a nested record. A nil record is stored as an empty one.
func Map(r *Record) Value {
	if r == nil {
		r = New()
	}
	return Value{kind: KindMap, m: r}
}

// Slice wraps a sequence of values.
func Slice(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{kind: KindSlice, s: vs}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string payload, or "" when v is not a string.
func (v Value) Str() string { return v.str }

// Int returns the integer payload, or 0 when v is not an int.
func (v Value) Int() int64 { return v.num }

// Float returns the float payload, or 0 when v is not a float.
func (v Value) Float() float64 { return v.flt }

// Bool returns the boolean payload, or false when v is not a bool.
func (v Value) Bool() bool { return v.b }

// Map returns the nested record, or nil when v is not a map.
func (v Value) Map() *Record { return v.m }

// Slice returns the sequence payload, or nil when v is not a slice.
// The returned slice is shared with v and must not be modified.
func (v Value) Slice() []Value { return v.s }

// IsTrue reports whether v is the boolean true.
func (v Value) IsTrue() bool { return v.kind == KindBool && v.b }

// Text renders scalar values the way they would appear in a log line.
// Maps and slices render as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNull:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v.Interface())
		}
		return string(data)
	}
}

// Interface converts v into plain Go values (map[string]any, []any, ...).
// Key order of nested records is lost.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.num
	case KindFloat:
		return v.flt
	case KindBool:
		return v.b
	case KindMap:
		out := make(map[string]any, v.m.Len())
		v.m.Range(func(k string, val Value) bool {
			out[k] = val.Interface()
			return true
		})
		return out
	case KindSlice:
		out := make([]any, len(v.s))
		for i, el := range v.s {
			out[i] = el.Interface()
		}
		return out
	default:
		return nil
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindMap:
		return Map(v.m.Clone())
	case KindSlice:
		out := make([]Value, len(v.s))
		for i, el := range v.s {
			out[i] = el.Clone()
		}
		return Slice(out...)
	default:
		return v
	}
}

// Equal reports whether v and o hold the same variant and payload.
// Nested records compare key order as well as contents.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindInt:
		return v.num == o.num
	case KindFloat:
		return v.flt == o.flt
	case KindBool:
		return v.b == o.b
	case KindMap:
		return v.m.Equal(o.m)
	case KindSlice:
		if len(v.s) != len(o.s) {
			return false
		}
		for i := range v.s {
			if !v.s[i].Equal(o.s[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindInt:
		return []byte(strconv.FormatInt(v.num, 10)), nil
	case KindFloat:
		return json.Marshal(v.flt)
	case KindBool:
		return []byte(strconv.FormatBool(v.b)), nil
	case KindMap:
		return v.m.MarshalJSON()
	case KindSlice:
		return json.Marshal(v.s)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler. Objects keep their key order.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("record: empty JSON value")
	}

	switch data[0] {
	case 'n':
		*v = Null()
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case '{':
		r := New()
		if err := r.UnmarshalJSON(data); err != nil {
			return err
		}
		*v = Map(r)
	case '[':
		var vs []Value
		if err := json.Unmarshal(data, &vs); err != nil {
			return err
		}
		*v = Slice(vs...)
	default:
		s := string(data)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			*v = Int(i)
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("record: invalid JSON number %q", s)
		}
		*v = Float(f)
	}
	return nil
}

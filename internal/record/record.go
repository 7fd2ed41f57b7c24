// Package record provides the ordered, structured log record used by every
// stage.
//
// A Record maps string keys to Values and remembers insertion order, so a
// record decoded from JSON or logfmt is written back out in the same order.
package record

import (
	"fmt"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Record is an insertion-ordered mapping from key to Value.
// A Record is not safe for concurrent mutation.
type Record struct {
	om *orderedmap.OrderedMap[string, Value]
}

// New returns an empty record.
func New() *Record {
	return &Record{om: orderedmap.New[string, Value]()}
}

// FromMap builds a record from a plain map. Keys are inserted in sorted
// order since Go maps have none. Nested maps and slices are converted.
func FromMap(m map[string]any) *Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	r := New()
	for _, k := range keys {
		r.Set(k, ValueOf(m[k]))
	}
	return r
}

// ValueOf converts a plain Go value into a Value. Unsupported types become
// their fmt representation as a string.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case *Record:
		return Map(t)
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case map[string]any:
		return Map(FromMap(t))
	case []any:
		vs := make([]Value, len(t))
		for i, el := range t {
			vs[i] = ValueOf(el)
		}
		return Slice(vs...)
	case []string:
		vs := make([]Value, len(t))
		for i, el := range t {
			vs[i] = String(el)
		}
		return Slice(vs...)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// Set stores value under key. An existing key keeps its position.
func (r *Record) Set(key string, value Value) {
	r.om.Set(key, value)
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (Value, bool) {
	return r.om.Get(key)
}

// Has reports whether key is present.
func (r *Record) Has(key string) bool {
	_, ok := r.om.Get(key)
	return ok
}

// Delete removes key and returns the value it held.
func (r *Record) Delete(key string) (Value, bool) {
	return r.om.Delete(key)
}

// Len returns the number of keys.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return r.om.Len()
}

// Keys returns the keys in insertion order.
func (r *Record) Keys() []string {
	keys := make([]string, 0, r.Len())
	for pair := r.om.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Range calls fn for each pair in insertion order until fn returns false.
func (r *Record) Range(fn func(key string, value Value) bool) {
	if r == nil {
		return
	}
	for pair := r.om.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	out := New()
	r.Range(func(k string, v Value) bool {
		out.Set(k, v.Clone())
		return true
	})
	return out
}

// Equal reports whether r and o hold the same keys, in the same order, with
// equal values.
func (r *Record) Equal(o *Record) bool {
	if r.Len() != o.Len() {
		return false
	}
	if r == nil || o == nil {
		return r.Len() == 0 && o.Len() == 0
	}
	a, b := r.om.Oldest(), o.om.Oldest()
	for a != nil && b != nil {
		if a.Key != b.Key || !a.Value.Equal(b.Value) {
			return false
		}
		a, b = a.Next(), b.Next()
	}
	return a == nil && b == nil
}

// MarshalJSON implements json.Marshaler, preserving key order.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return r.om.MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler, preserving key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	if r.om == nil {
		r.om = orderedmap.New[string, Value]()
	}
	return r.om.UnmarshalJSON(data)
}

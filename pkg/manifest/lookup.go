package manifest

import (
	"github.com/spf13/cast"
)

// Unknown stands in for a value the live system did not report.
const Unknown = "unknown"

// Value is one step of an optional chain over nested maps and slices.
// Every step returns a Value, present or absent; extraction supplies a
// default for the absent case.
//
//	region := Lookup(desc).Get("placement").Get("region").String(Unknown)
type Value struct {
	v       interface{}
	present bool
}

// Lookup starts a chain at v. A nil v is absent.
func Lookup(v interface{}) Value {
	return Value{v: v, present: v != nil}
}

// Present reports whether the chain resolved to a non-nil value.
func (v Value) Present() bool {
	return v.present
}

// Raw returns the underlying value, nil when absent.
func (v Value) Raw() interface{} {
	return v.v
}

// Get descends into a map by key.
func (v Value) Get(key string) Value {
	if !v.present {
		return v
	}
	switch m := v.v.(type) {
	case map[string]interface{}:
		return Lookup(m[key])
	case map[string]string:
		s, ok := m[key]
		if !ok {
			return Value{}
		}
		return Lookup(s)
	case map[interface{}]interface{}:
		return Lookup(m[key])
	}
	if m, err := cast.ToStringMapE(v.v); err == nil {
		return Lookup(m[key])
	}
	return Value{}
}

// Index descends into a slice by position.
func (v Value) Index(i int) Value {
	if !v.present || i < 0 {
		return Value{}
	}
	s, err := cast.ToSliceE(v.v)
	if err != nil {
		if strs, serr := cast.ToStringSliceE(v.v); serr == nil && i < len(strs) {
			return Lookup(strs[i])
		}
		return Value{}
	}
	if i >= len(s) {
		return Value{}
	}
	return Lookup(s[i])
}

// String converts the value to a string, or returns def when absent or not
// convertible. A present empty string stays empty.
func (v Value) String(def string) string {
	if !v.present {
		return def
	}
	s, err := cast.ToStringE(v.v)
	if err != nil {
		return def
	}
	return s
}

// Bool converts the value to a bool, or returns def.
func (v Value) Bool(def bool) bool {
	if !v.present {
		return def
	}
	b, err := cast.ToBoolE(v.v)
	if err != nil {
		return def
	}
	return b
}

// Strings converts the value to a string slice. Absent or unconvertible
// values give an empty slice.
func (v Value) Strings() []string {
	if !v.present {
		return []string{}
	}
	s, err := cast.ToStringSliceE(v.v)
	if err != nil {
		return []string{}
	}
	return s
}

// Map converts the value to a string-keyed map. Absent or unconvertible
// values give an empty map.
func (v Value) Map() map[string]interface{} {
	if !v.present {
		return map[string]interface{}{}
	}
	m, err := cast.ToStringMapE(v.v)
	if err != nil {
		return map[string]interface{}{}
	}
	return m
}

// Slice converts the value to a generic slice, empty when absent.
func (v Value) Slice() []interface{} {
	if !v.present {
		return []interface{}{}
	}
	s, err := cast.ToSliceE(v.v)
	if err != nil {
		return []interface{}{}
	}
	return s
}

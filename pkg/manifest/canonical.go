package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/model"
)

// ErrDuplicateComponent is returned when two components of one manifest
// share a name.
var ErrDuplicateComponent = errors.New("duplicate component name")

// Canonical is the order-independent comparable form of a manifest: string
// keys only, numbers as float64, components keyed by name, run list entries
// normalized.
type Canonical map[string]interface{}

// strippedKeys never take part in comparison.
var strippedKeys = []string{"_type", "ssh_user"}

// Canonicalize converts a manifest wire form into its canonical form. It is
// idempotent: canonicalizing a Canonical returns an equal value.
func Canonicalize(wire map[string]interface{}) (Canonical, error) {
	top, ok := normalize(wire).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("canonicalize: manifest is not a map")
	}
	for _, k := range strippedKeys {
		delete(top, k)
	}

	if raw, ok := top["components"]; ok {
		components, err := keyComponents(raw)
		if err != nil {
			return nil, err
		}
		top["components"] = components
	}
	if raw, ok := top["run_list"]; ok {
		top["run_list"] = normalizeRunList(raw)
	}
	return Canonical(top), nil
}

// keyComponents turns the component list into a map keyed by name. A map
// is already keyed and is returned as is.
func keyComponents(raw interface{}) (map[string]interface{}, error) {
	switch v := raw.(type) {
	case map[string]interface{}:
		return v, nil
	case []interface{}:
		out := make(map[string]interface{}, len(v))
		for _, item := range v {
			name := Lookup(item).Get("name").String("")
			if name == "" {
				return nil, engine.NewPermanentError("component without a name", nil).
					WithCode(engine.ErrCodeValidation)
			}
			if _, dup := out[name]; dup {
				return nil, engine.NewPermanentError("canonicalize components",
					fmt.Errorf("%w: %s", ErrDuplicateComponent, name)).
					WithCode(engine.ErrCodeValidation).
					WithResource(name)
			}
			out[name] = item
		}
		return out, nil
	case nil:
		return map[string]interface{}{}, nil
	default:
		return nil, engine.NewPermanentError("canonicalize components",
			fmt.Errorf("components are %T", raw)).
			WithCode(engine.ErrCodeValidation)
	}
}

// normalizeRunList wraps bare names as recipes and keeps the first
// occurrence of each entry.
func normalizeRunList(raw interface{}) []interface{} {
	items := Lookup(raw).Strings()
	seen := make(map[string]bool, len(items))
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		ref := model.RecipeRef(item)
		if seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

// normalize rebuilds v from maps with string keys, []interface{} slices and
// float64 numbers.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	case reflect.Map:
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = normalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Struct:
		// structs go through their JSON form
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		var decoded interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			return fmt.Sprint(v)
		}
		return normalize(decoded)
	default:
		return fmt.Sprint(v)
	}
}

// JSON serializes the canonical form with sorted keys.
func (c Canonical) JSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(c))
}

// Keys returns the top-level keys in sorted order.
func (c Canonical) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fingerprint hashes the canonical form. Equal canonical forms have equal
// fingerprints.
func (c Canonical) Fingerprint() (uint64, error) {
	h, err := hashstructure.Hash(map[string]interface{}(c), hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("fingerprint manifest: %w", err)
	}
	return h, nil
}

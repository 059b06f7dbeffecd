package model

import (
	"fmt"
	"sort"
	"sync"
)

// Component is a named piece of functionality a server announces, such as
// an ntp client or a log shipper.
type Component struct {
	// Name identifies the component within a server.
	Name string `json:"name"`

	// Kind selects the builder that reconstructs it from a node snapshot.
	Kind string `json:"kind,omitempty"`

	// Attributes are the component's settings.
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// EffectiveKind is Kind, or Name when no kind was declared.
func (c Component) EffectiveKind() string {
	if c.Kind != "" {
		return c.Kind
	}
	return c.Name
}

// Fragment returns the component's manifest fragment.
func (c Component) Fragment() map[string]interface{} {
	attrs := CopyAttributes(c.Attributes)
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return map[string]interface{}{
		"name":       c.Name,
		"kind":       c.Kind,
		"attributes": attrs,
	}
}

// Clone returns a deep copy.
func (c Component) Clone() Component {
	c.Attributes = CopyAttributes(c.Attributes)
	return c
}

// ComponentBuilder reconstructs a component from the announcement a node
// published under name.
type ComponentBuilder func(name string, announce map[string]interface{}) (Component, error)

// ComponentKinds maps announcement types to builders. Safe for concurrent use.
type ComponentKinds struct {
	mu       sync.RWMutex
	builders map[string]ComponentBuilder
}

// NewComponentKinds returns an empty kind registry.
func NewComponentKinds() *ComponentKinds {
	return &ComponentKinds{builders: make(map[string]ComponentBuilder)}
}

// DefaultComponentKinds registers the attribute-copying builder for each kind.
func DefaultComponentKinds(kinds ...string) *ComponentKinds {
	k := NewComponentKinds()
	for _, kind := range kinds {
		k.Register(kind, AttributeBuilder(kind))
	}
	return k
}

// Register sets the builder for kind, replacing any previous one.
func (k *ComponentKinds) Register(kind string, b ComponentBuilder) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.builders[kind] = b
}

// Lookup returns the builder for kind.
func (k *ComponentKinds) Lookup(kind string) (ComponentBuilder, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	b, ok := k.builders[kind]
	return b, ok
}

// Kinds returns the registered kinds in sorted order.
func (k *ComponentKinds) Kinds() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.builders))
	for kind := range k.builders {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// AttributeBuilder returns a builder that copies announce["attributes"].
func AttributeBuilder(kind string) ComponentBuilder {
	return func(name string, announce map[string]interface{}) (Component, error) {
		c := Component{Name: name, Kind: kind}
		raw, ok := announce["attributes"]
		if !ok || raw == nil {
			return c, nil
		}
		attrs, ok := raw.(map[string]interface{})
		if !ok {
			return Component{}, fmt.Errorf("component %s: attributes are %T, not a map", name, raw)
		}
		c.Attributes = CopyAttributes(attrs)
		return c, nil
	}
}

func mergeComponents(dst, src []Component) []Component {
	index := make(map[string]int, len(dst))
	for i, c := range dst {
		index[c.Name] = i
	}
	for _, c := range src {
		i, ok := index[c.Name]
		if !ok {
			index[c.Name] = len(dst)
			dst = append(dst, c.Clone())
			continue
		}
		if c.Kind != "" {
			dst[i].Kind = c.Kind
		}
		dst[i].Attributes = MergeAttributes(dst[i].Attributes, c.Attributes)
	}
	return dst
}

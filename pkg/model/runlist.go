package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Placement positions a run list entry relative to the others.
type Placement string

const (
	PlacementFirst  Placement = "first"
	PlacementNormal Placement = "normal"
	PlacementLast   Placement = "last"
)

func (p Placement) rank() int {
	switch p {
	case PlacementFirst:
		return 0
	case PlacementLast:
		return 2
	default:
		return 1
	}
}

// Validate checks that p is a known placement. The empty placement is normal.
func (p Placement) Validate() error {
	switch p {
	case "", PlacementFirst, PlacementNormal, PlacementLast:
		return nil
	default:
		return fmt.Errorf("invalid run list placement: %s", p)
	}
}

// RunListEntry is a role or recipe reference such as "role[base]",
// "recipe[ntp]" or a bare recipe name.
type RunListEntry struct {
	Name      string    `json:"name"`
	Placement Placement `json:"placement,omitempty"`
}

// UnmarshalJSON accepts either a bare string or {"name", "placement"}.
func (e *RunListEntry) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*e = RunListEntry{Name: name}
		return nil
	}
	type plain RunListEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("run list entry: %w", err)
	}
	if err := p.Placement.Validate(); err != nil {
		return err
	}
	*e = RunListEntry(p)
	return nil
}

// RunList is an ordered sequence of entries in insertion order. The
// flattened view is produced by Items.
type RunList []RunListEntry

// Add appends name at the given placement.
func (r *RunList) Add(name string, placement Placement) {
	*r = append(*r, RunListEntry{Name: name, Placement: placement})
}

// Role appends "role[name]" at the given placement.
func (r *RunList) Role(name string, placement Placement) {
	r.Add(RoleRef(name), placement)
}

// Items returns the flattened run list: first entries, then normal, then
// last; insertion order within a placement. When a name occurs more than
// once only its latest insertion is kept.
func (r RunList) Items() []string {
	latest := make(map[string]int, len(r))
	for i, e := range r {
		latest[e.Name] = i
	}

	kept := make([]RunListEntry, 0, len(latest))
	for i, e := range r {
		if latest[e.Name] == i {
			kept = append(kept, e)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Placement.rank() < kept[j].Placement.rank()
	})

	items := make([]string, len(kept))
	for i, e := range kept {
		items[i] = e.Name
	}
	return items
}

// Clone returns an independent copy.
func (r RunList) Clone() RunList {
	if r == nil {
		return nil
	}
	out := make(RunList, len(r))
	copy(out, r)
	return out
}

// RoleRef formats a role reference.
func RoleRef(name string) string {
	return "role[" + name + "]"
}

// RecipeRef formats a recipe reference. Entries already in bracket form are
// returned unchanged.
func RecipeRef(name string) string {
	if strings.HasSuffix(name, "]") {
		return name
	}
	return "recipe[" + name + "]"
}

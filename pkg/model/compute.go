package model

// Compute is the block of settings every level of the hierarchy may set.
// Resolution folds these blocks from the realm down to the server.
type Compute struct {
	// Environment is the configuration-management environment.
	Environment string `json:"environment,omitempty"`

	// RunList holds this level's run list contributions.
	RunList RunList `json:"run_list,omitempty"`

	// Components are merged by name across levels.
	Components []Component `json:"components,omitempty"`

	// Cloud holds placement settings.
	Cloud CloudSettings `json:"cloud,omitempty"`
}

// Merge overlays src onto c: scalars src sets win, run list entries are
// appended, components merge by name and cloud settings merge field by field.
func (c *Compute) Merge(src Compute) error {
	if src.Environment != "" {
		c.Environment = src.Environment
	}
	c.RunList = append(c.RunList, src.RunList...)
	c.Components = mergeComponents(c.Components, src.Components)
	return c.Cloud.Merge(src.Cloud.Clone())
}

// Clone returns a deep copy.
func (c Compute) Clone() Compute {
	out := Compute{
		Environment: c.Environment,
		RunList:     c.RunList.Clone(),
		Cloud:       c.Cloud.Clone(),
	}
	if c.Components != nil {
		out.Components = make([]Component, len(c.Components))
		for i, comp := range c.Components {
			out.Components[i] = comp.Clone()
		}
	}
	return out
}

// Component returns the component with the given name.
func (c *Compute) Component(name string) (Component, bool) {
	for _, comp := range c.Components {
		if comp.Name == name {
			return comp, true
		}
	}
	return Component{}, false
}

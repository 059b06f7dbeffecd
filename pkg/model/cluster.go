package model

// Cluster is a named group of facets inside a realm.
type Cluster struct {
	// Name is unique within the realm.
	Name string `json:"name"`

	// RealmName is the owning realm's name, filled by resolution or when the
	// cluster is defined inside a realm.
	RealmName string `json:"realm_name,omitempty"`

	Compute

	// ClusterRole holds the attributes of the synthetic cluster role.
	ClusterRole *Role `json:"cluster_role,omitempty"`

	// Facets are the cluster's facets in declaration order.
	Facets []*Facet `json:"facets,omitempty"`
}

// FullName is "<realm>-<cluster>", or the bare name without a realm.
func (c *Cluster) FullName() string {
	return joinName(c.RealmName, c.Name)
}

// RoleName is the name of the synthetic cluster role.
func (c *Cluster) RoleName() string {
	return c.FullName() + "-cluster"
}

// Facet returns the facet with the given name.
func (c *Cluster) Facet(name string) (*Facet, bool) {
	for _, f := range c.Facets {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Servers returns the declared servers of every facet, in facet order.
func (c *Cluster) Servers() []*Server {
	var out []*Server
	for _, f := range c.Facets {
		out = append(out, f.Servers...)
	}
	return out
}

// Clone returns a deep copy.
func (c *Cluster) Clone() *Cluster {
	if c == nil {
		return nil
	}
	out := &Cluster{
		Name:        c.Name,
		RealmName:   c.RealmName,
		Compute:     c.Compute.Clone(),
		ClusterRole: c.ClusterRole.Clone(),
	}
	for _, f := range c.Facets {
		out.Facets = append(out.Facets, f.Clone())
	}
	return out
}

// Merge overlays a later definition of the same cluster onto c.
func (c *Cluster) Merge(src *Cluster) error {
	if src.RealmName != "" {
		c.RealmName = src.RealmName
	}
	c.ClusterRole = mergeRole(c.ClusterRole, src.ClusterRole)
	if err := c.Compute.Merge(src.Compute); err != nil {
		return err
	}
	facets, err := mergeFacets(c.Facets, src.Facets)
	if err != nil {
		return err
	}
	c.Facets = facets
	return nil
}

func mergeClusters(dst, src []*Cluster) ([]*Cluster, error) {
	index := make(map[string]*Cluster, len(dst))
	for _, c := range dst {
		index[c.Name] = c
	}
	for _, c := range src {
		existing, ok := index[c.Name]
		if !ok {
			cl := c.Clone()
			index[c.Name] = cl
			dst = append(dst, cl)
			continue
		}
		if err := existing.Merge(c); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

package model

// Facet is a group of identically configured servers within a cluster.
type Facet struct {
	// Name is unique within the cluster.
	Name string `json:"name"`

	// ClusterName is the owning cluster's full name, filled by resolution.
	ClusterName string `json:"cluster_name,omitempty"`

	// Instances, when set, asks resolution to materialize servers
	// "0".."Instances-1" that are not declared explicitly.
	Instances int `json:"instances,omitempty"`

	Compute

	// FacetRole holds the attributes of the synthetic facet role.
	FacetRole *Role `json:"facet_role,omitempty"`

	// ClusterRole is the owning cluster's role, filled by resolution.
	ClusterRole *Role `json:"cluster_role,omitempty"`

	// Servers are the explicitly declared servers.
	Servers []*Server `json:"servers,omitempty"`
}

// FullName is "<cluster>-<facet>", or the bare name without a cluster.
func (f *Facet) FullName() string {
	return joinName(f.ClusterName, f.Name)
}

// RoleName is the name of the synthetic facet role.
func (f *Facet) RoleName() string {
	return f.FullName() + "-facet"
}

// Server returns the declared server with the given index name.
func (f *Facet) Server(name string) (*Server, bool) {
	for _, s := range f.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Clone returns a deep copy.
func (f *Facet) Clone() *Facet {
	if f == nil {
		return nil
	}
	out := &Facet{
		Name:        f.Name,
		ClusterName: f.ClusterName,
		Instances:   f.Instances,
		Compute:     f.Compute.Clone(),
		FacetRole:   f.FacetRole.Clone(),
		ClusterRole: f.ClusterRole.Clone(),
	}
	for _, s := range f.Servers {
		out.Servers = append(out.Servers, s.Clone())
	}
	return out
}

// Merge overlays a later definition of the same facet onto f.
func (f *Facet) Merge(src *Facet) error {
	if src.ClusterName != "" {
		f.ClusterName = src.ClusterName
	}
	if src.Instances != 0 {
		f.Instances = src.Instances
	}
	f.FacetRole = mergeRole(f.FacetRole, src.FacetRole)
	f.ClusterRole = mergeRole(f.ClusterRole, src.ClusterRole)
	if err := f.Compute.Merge(src.Compute); err != nil {
		return err
	}
	servers, err := mergeServers(f.Servers, src.Servers)
	if err != nil {
		return err
	}
	f.Servers = servers
	return nil
}

func mergeFacets(dst, src []*Facet) ([]*Facet, error) {
	index := make(map[string]*Facet, len(dst))
	for _, f := range dst {
		index[f.Name] = f
	}
	for _, f := range src {
		existing, ok := index[f.Name]
		if !ok {
			c := f.Clone()
			index[f.Name] = c
			dst = append(dst, c)
			continue
		}
		if err := existing.Merge(f); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

package model

// Realm is the root namespace of a fleet.
type Realm struct {
	// Name identifies the realm.
	Name string `json:"name"`

	Compute

	// Clusters are the realm's clusters in declaration order.
	Clusters []*Cluster `json:"clusters,omitempty"`
}

// Cluster returns the cluster with the given short name.
func (r *Realm) Cluster(name string) (*Cluster, bool) {
	for _, c := range r.Clusters {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Clone returns a deep copy.
func (r *Realm) Clone() *Realm {
	if r == nil {
		return nil
	}
	out := &Realm{Name: r.Name, Compute: r.Compute.Clone()}
	for _, c := range r.Clusters {
		out.Clusters = append(out.Clusters, c.Clone())
	}
	return out
}

// Merge overlays a later definition of the same realm onto r.
func (r *Realm) Merge(src *Realm) error {
	if err := r.Compute.Merge(src.Compute); err != nil {
		return err
	}
	clusters, err := mergeClusters(r.Clusters, src.Clusters)
	if err != nil {
		return err
	}
	r.Clusters = clusters
	return nil
}

package model

import "fmt"

// FoldClusters merges clusters that share a name into the first of them,
// in order, so a later definition overrides an earlier one. The result
// holds copies; unnamed clusters are kept as they are.
func FoldClusters(clusters []*Cluster) ([]*Cluster, error) {
	out := make([]*Cluster, 0, len(clusters))
	index := make(map[string]*Cluster, len(clusters))
	for _, c := range clusters {
		if c == nil {
			continue
		}
		if existing, ok := index[c.Name]; ok && c.Name != "" {
			if err := existing.Merge(c); err != nil {
				return nil, fmt.Errorf("cluster %s: %w", c.Name, err)
			}
			continue
		}
		cl := c.Clone()
		if c.Name != "" {
			index[c.Name] = cl
		}
		out = append(out, cl)
	}
	return out, nil
}

// FoldFacets is FoldClusters for facets.
func FoldFacets(facets []*Facet) ([]*Facet, error) {
	out := make([]*Facet, 0, len(facets))
	index := make(map[string]*Facet, len(facets))
	for _, f := range facets {
		if f == nil {
			continue
		}
		if existing, ok := index[f.Name]; ok && f.Name != "" {
			if err := existing.Merge(f); err != nil {
				return nil, fmt.Errorf("facet %s: %w", f.Name, err)
			}
			continue
		}
		cl := f.Clone()
		if f.Name != "" {
			index[f.Name] = cl
		}
		out = append(out, cl)
	}
	return out, nil
}

// FoldServers is FoldClusters for servers.
func FoldServers(servers []*Server) ([]*Server, error) {
	out := make([]*Server, 0, len(servers))
	index := make(map[string]*Server, len(servers))
	for _, s := range servers {
		if s == nil {
			continue
		}
		if existing, ok := index[s.Name]; ok && s.Name != "" {
			if err := existing.Merge(s); err != nil {
				return nil, fmt.Errorf("server %s: %w", s.Name, err)
			}
			continue
		}
		cl := s.Clone()
		if s.Name != "" {
			index[s.Name] = cl
		}
		out = append(out, cl)
	}
	return out, nil
}

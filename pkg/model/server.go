package model

import (
	"strconv"
	"strings"
)

// Server is a single machine in a facet. Its Name is the numeric-like index
// within the facet ("0", "1", ...).
type Server struct {
	// Name is the server index within its facet.
	Name string `json:"name" validate:"required"`

	// ClusterName is the owning cluster's full name, filled by resolution.
	ClusterName string `json:"cluster_name,omitempty" validate:"required"`

	// FacetName is the owning facet's name, filled by resolution.
	FacetName string `json:"facet_name,omitempty" validate:"required"`

	Compute

	// ClusterRole is the resolved cluster role.
	ClusterRole *Role `json:"cluster_role,omitempty"`

	// FacetRole is the resolved facet role.
	FacetRole *Role `json:"facet_role,omitempty"`
}

// FullName joins cluster, facet and index with hyphens. ClusterName holds
// the cluster's full name, realm included, so server 3 of facet app in
// cluster web of realm prod is "prod-web-app-3", the name role documents
// and node-name parsing use. Parts that are not set yet are left out.
func (s *Server) FullName() string {
	return joinName(s.ClusterName, s.FacetName, s.Name)
}

// Index is the integer value of Name, or 0 when Name is not numeric.
func (s *Server) Index() int {
	n, err := strconv.Atoi(s.Name)
	if err != nil {
		return 0
	}
	return n
}

// Clone returns a deep copy.
func (s *Server) Clone() *Server {
	if s == nil {
		return nil
	}
	return &Server{
		Name:        s.Name,
		ClusterName: s.ClusterName,
		FacetName:   s.FacetName,
		Compute:     s.Compute.Clone(),
		ClusterRole: s.ClusterRole.Clone(),
		FacetRole:   s.FacetRole.Clone(),
	}
}

// Merge overlays a later definition of the same server onto s.
func (s *Server) Merge(src *Server) error {
	if src.ClusterName != "" {
		s.ClusterName = src.ClusterName
	}
	if src.FacetName != "" {
		s.FacetName = src.FacetName
	}
	s.ClusterRole = mergeRole(s.ClusterRole, src.ClusterRole)
	s.FacetRole = mergeRole(s.FacetRole, src.FacetRole)
	return s.Compute.Merge(src.Compute)
}

func mergeServers(dst, src []*Server) ([]*Server, error) {
	index := make(map[string]*Server, len(dst))
	for _, s := range dst {
		index[s.Name] = s
	}
	for _, s := range src {
		existing, ok := index[s.Name]
		if !ok {
			c := s.Clone()
			index[s.Name] = c
			dst = append(dst, c)
			continue
		}
		if err := existing.Merge(s); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func joinName(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "-")
}

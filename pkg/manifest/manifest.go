package manifest

import (
	"github.com/openfroyo/ironfleet/pkg/model"
)

// TypeName is the wire-form type discriminator.
const TypeName = "ironfleet.manifest"

// Manifest is the flattened intended or observed state of one server. It
// is built once and never modified.
type Manifest struct {
	// Identity.
	Name        string `json:"name"`
	ClusterName string `json:"cluster_name"`
	FacetName   string `json:"facet_name"`
	Environment string `json:"environment"`

	// Components in declaration or announcement order.
	Components []model.Component `json:"components"`

	// RunList is the flattened run list.
	RunList []string `json:"run_list"`

	// Role attributes of the server's cluster and facet roles.
	ClusterDefaultAttributes  map[string]interface{} `json:"cluster_default_attributes"`
	ClusterOverrideAttributes map[string]interface{} `json:"cluster_override_attributes"`
	FacetDefaultAttributes    map[string]interface{} `json:"facet_default_attributes"`
	FacetOverrideAttributes   map[string]interface{} `json:"facet_override_attributes"`

	// Cloud placement.
	CloudName             string   `json:"cloud_name"`
	AvailabilityZones     []string `json:"availability_zones"`
	Backing               string   `json:"backing"`
	ElasticLoadBalancers  []string `json:"elastic_load_balancers"`
	EBSOptimized          bool     `json:"ebs_optimized"`
	Flavor                string   `json:"flavor"`
	IAMServerCertificates []string `json:"iam_server_certificates"`
	ImageID               string   `json:"image_id"`
	Keypair               string   `json:"keypair"`
	Monitoring            string   `json:"monitoring"`
	PlacementGroup        string   `json:"placement_group"`
	ElasticIP             string   `json:"elastic_ip"`
	AutoElasticIP         bool     `json:"auto_elastic_ip"`
	AllocationID          string   `json:"allocation_id"`
	Region                string   `json:"region"`
	SecurityGroups        []string `json:"security_groups"`
	SSHUser               string   `json:"ssh_user"`
	Subnet                string   `json:"subnet"`
	VPC                   string   `json:"vpc"`
}

// FullName is the server's full name, e.g. "prod-web-app-3".
func (m *Manifest) FullName() string {
	return m.ClusterName + "-" + m.FacetName + "-" + m.Name
}

// ToWire returns the manifest as plain maps, slices and scalars, including
// the "_type" discriminator. Nil collections become empty ones.
func (m *Manifest) ToWire() map[string]interface{} {
	components := make([]interface{}, len(m.Components))
	for i, c := range m.Components {
		components[i] = c.Fragment()
	}

	groups := make([]interface{}, len(m.SecurityGroups))
	for i, g := range m.SecurityGroups {
		groups[i] = map[string]interface{}{"name": g}
	}

	return map[string]interface{}{
		"_type":        TypeName,
		"name":         m.Name,
		"cluster_name": m.ClusterName,
		"facet_name":   m.FacetName,
		"environment":  m.Environment,
		"components":   components,
		"run_list":     stringsToWire(m.RunList),

		"cluster_default_attributes":  attrsToWire(m.ClusterDefaultAttributes),
		"cluster_override_attributes": attrsToWire(m.ClusterOverrideAttributes),
		"facet_default_attributes":    attrsToWire(m.FacetDefaultAttributes),
		"facet_override_attributes":   attrsToWire(m.FacetOverrideAttributes),

		"cloud_name":              m.CloudName,
		"availability_zones":      stringsToWire(m.AvailabilityZones),
		"backing":                 m.Backing,
		"elastic_load_balancers":  stringsToWire(m.ElasticLoadBalancers),
		"ebs_optimized":           m.EBSOptimized,
		"flavor":                  m.Flavor,
		"iam_server_certificates": stringsToWire(m.IAMServerCertificates),
		"image_id":                m.ImageID,
		"keypair":                 m.Keypair,
		"monitoring":              m.Monitoring,
		"placement_group":         m.PlacementGroup,
		"elastic_ip":              m.ElasticIP,
		"auto_elastic_ip":         m.AutoElasticIP,
		"allocation_id":           m.AllocationID,
		"region":                  m.Region,
		"security_groups":         groups,
		"ssh_user":                m.SSHUser,
		"subnet":                  m.Subnet,
		"vpc":                     m.VPC,
	}
}

// Canonical returns the canonical form of the manifest.
func (m *Manifest) Canonical() (Canonical, error) {
	return Canonicalize(m.ToWire())
}

func stringsToWire(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func attrsToWire(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return model.CopyAttributes(m)
}

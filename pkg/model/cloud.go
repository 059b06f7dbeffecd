package model

import (
	"fmt"

	"dario.cat/mergo"
)

// CloudSettings describes where and how a server is placed in the cloud.
// Booleans are pointers so that an explicit false at a lower layer
// overrides a true inherited from above.
type CloudSettings struct {
	// CloudName is the provider name, e.g. "hcloud" or "ec2".
	CloudName string `json:"cloud_name,omitempty"`

	// AvailabilityZones lists candidate zones, first preferred.
	AvailabilityZones []string `json:"availability_zones,omitempty"`

	// Backing is the root volume type.
	Backing string `json:"backing,omitempty"`

	// ElasticLoadBalancers are load balancer names the server joins.
	ElasticLoadBalancers []string `json:"elastic_load_balancers,omitempty"`

	// EBSOptimized requests optimized block storage.
	EBSOptimized *bool `json:"ebs_optimized,omitempty"`

	// Flavor is the machine size.
	Flavor string `json:"flavor,omitempty"`

	// IAMServerCertificates are certificate names attached to the server.
	IAMServerCertificates []string `json:"iam_server_certificates,omitempty"`

	// ImageID is the boot image.
	ImageID string `json:"image_id,omitempty"`

	// Keypair is the provider-side SSH key name.
	Keypair string `json:"keypair,omitempty"`

	// Monitoring is the monitoring level, e.g. "basic" or "detailed".
	Monitoring string `json:"monitoring,omitempty"`

	// PlacementGroup is the placement group name.
	PlacementGroup string `json:"placement_group,omitempty"`

	// ElasticIP is a fixed public address.
	ElasticIP string `json:"elastic_ip,omitempty"`

	// AutoElasticIP allocates a public address automatically.
	AutoElasticIP *bool `json:"auto_elastic_ip,omitempty"`

	// AllocationID is the provider id of the address allocation.
	AllocationID string `json:"allocation_id,omitempty"`

	// Region is the provider region.
	Region string `json:"region,omitempty"`

	// SecurityGroups are firewall group names.
	SecurityGroups []string `json:"security_groups,omitempty"`

	// SSHUser is the login user for bootstrap. Not part of the comparable
	// manifest.
	SSHUser string `json:"ssh_user,omitempty"`

	// Subnet is the subnet id or name.
	Subnet string `json:"subnet,omitempty"`

	// VPC is the network id or name.
	VPC string `json:"vpc,omitempty"`
}

// Merge overlays every field src sets explicitly onto c.
func (c *CloudSettings) Merge(src CloudSettings) error {
	if err := mergo.Merge(c, src, mergo.WithOverride, mergo.WithoutDereference); err != nil {
		return fmt.Errorf("merge cloud settings: %w", err)
	}
	return nil
}

// Clone returns a copy that shares no slices or pointers with c.
func (c CloudSettings) Clone() CloudSettings {
	out := c
	out.AvailabilityZones = cloneStrings(c.AvailabilityZones)
	out.ElasticLoadBalancers = cloneStrings(c.ElasticLoadBalancers)
	out.IAMServerCertificates = cloneStrings(c.IAMServerCertificates)
	out.SecurityGroups = cloneStrings(c.SecurityGroups)
	out.EBSOptimized = cloneBool(c.EBSOptimized)
	out.AutoElasticIP = cloneBool(c.AutoElasticIP)
	return out
}

// Bool returns a pointer to v, for literal CloudSettings.
func Bool(v bool) *bool {
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

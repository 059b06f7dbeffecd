package manifest

import (
	"context"
	"fmt"
	"regexp"

	"github.com/openfroyo/ironfleet/pkg/directory"
	"github.com/openfroyo/ironfleet/pkg/engine"
)

// MachineDescription is a live cloud machine as nested maps. Recognised
// keys:
//
//	provider                   cloud name
//	flavor, image_id, key_name
//	availability_zones         list; falls back to placement.availability_zone
//	placement.region           region; derived from the first zone if absent
//	placement.group_name       placement group
//	root_device_type           backing
//	ebs_optimized              bool
//	load_balancers             list
//	iam_server_certificates    list
//	monitoring.state
//	public_ip.address, public_ip.allocation_id, public_ip.auto
//	security_groups            list of names or of {"name": ...}
//	subnet_id, vpc_id, ssh_user
//
// Any missing string degrades to Unknown, lists to empty, bools to false.
type MachineDescription map[string]interface{}

// Observation is what the live system reports about one machine.
type Observation struct {
	// NodeName is the node's identity, "<cluster>-<facet>-<index>".
	NodeName string

	// Node is the node document from the directory.
	Node directory.Document

	// Machine is the live machine description. May be nil.
	Machine MachineDescription
}

var (
	nodeNamePattern = regexp.MustCompile(`^(.*)-(.*)-(.*)$`)
	regionPattern   = regexp.MustCompile(`^(.*-.*-\d+)`)
)

// ParseNodeName splits a node name into cluster, facet and index. The
// cluster part takes every hyphen but the last two, so facet names must not
// contain hyphens.
func ParseNodeName(name string) (cluster, facet, index string, err error) {
	m := nodeNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", "", engine.NewPermanentError(
			"node name is not <cluster>-<facet>-<index>", fmt.Errorf("%q", name)).
			WithCode(engine.ErrCodeValidation).
			WithResource(name)
	}
	return m[1], m[2], m[3], nil
}

// RegionFromZone derives "us-east-1" from "us-east-1a". It returns "" when
// the zone does not look like <area>-<direction>-<number>.
func RegionFromZone(zone string) string {
	m := regionPattern.FindStringSubmatch(zone)
	if m == nil {
		return ""
	}
	return m[1]
}

// FromObservation rebuilds the manifest of an existing machine from its node
// document, its live machine description and the role documents stored in
// the directory.
func (b *Builder) FromObservation(ctx context.Context, obs Observation) (*Manifest, error) {
	cluster, facet, index, err := ParseNodeName(obs.NodeName)
	if err != nil {
		return nil, err
	}

	clusterRole, err := b.role(ctx, cluster+"-cluster")
	if err != nil {
		return nil, err
	}
	facetRole, err := b.role(ctx, cluster+"-"+facet+"-facet")
	if err != nil {
		return nil, err
	}

	node := Lookup(map[string]interface{}(obs.Node))
	components, err := b.components(node.Get("announces"))
	if err != nil {
		return nil, fmt.Errorf("observe %s: %w", obs.NodeName, err)
	}

	m := &Manifest{
		Name:        index,
		ClusterName: cluster,
		FacetName:   facet,
		Environment: node.Get("chef_environment").String(Unknown),
		Components:  components,
		RunList:     node.Get("run_list").Strings(),

		ClusterDefaultAttributes:  Lookup(map[string]interface{}(clusterRole)).Get("default_attributes").Map(),
		ClusterOverrideAttributes: Lookup(map[string]interface{}(clusterRole)).Get("override_attributes").Map(),
		FacetDefaultAttributes:    Lookup(map[string]interface{}(facetRole)).Get("default_attributes").Map(),
		FacetOverrideAttributes:   Lookup(map[string]interface{}(facetRole)).Get("override_attributes").Map(),
	}
	describeCloud(m, Lookup(map[string]interface{}(obs.Machine)))
	return m, nil
}

func describeCloud(m *Manifest, desc Value) {
	m.CloudName = desc.Get("provider").String(Unknown)
	m.Flavor = desc.Get("flavor").String(Unknown)
	m.ImageID = desc.Get("image_id").String(Unknown)
	m.Keypair = desc.Get("key_name").String(Unknown)
	m.Backing = desc.Get("root_device_type").String(Unknown)
	m.EBSOptimized = desc.Get("ebs_optimized").Bool(false)
	m.Monitoring = desc.Get("monitoring").Get("state").String(Unknown)
	m.PlacementGroup = desc.Get("placement").Get("group_name").String(Unknown)
	m.ElasticIP = desc.Get("public_ip").Get("address").String(Unknown)
	m.AllocationID = desc.Get("public_ip").Get("allocation_id").String(Unknown)
	m.AutoElasticIP = desc.Get("public_ip").Get("auto").Bool(false)
	m.Subnet = desc.Get("subnet_id").String(Unknown)
	m.VPC = desc.Get("vpc_id").String(Unknown)
	m.SSHUser = desc.Get("ssh_user").String(Unknown)
	m.ElasticLoadBalancers = desc.Get("load_balancers").Strings()
	m.IAMServerCertificates = desc.Get("iam_server_certificates").Strings()

	zones := desc.Get("availability_zones")
	if zones.Present() {
		m.AvailabilityZones = zones.Strings()
	} else if zone := desc.Get("placement").Get("availability_zone"); zone.Present() {
		m.AvailabilityZones = []string{zone.String("")}
	} else {
		m.AvailabilityZones = []string{}
	}

	// A reported region is taken as is, even when empty; only an absent
	// one is derived from the first zone.
	switch region := desc.Get("placement").Get("region"); {
	case region.Present():
		m.Region = region.String("")
	case len(m.AvailabilityZones) > 0 && RegionFromZone(m.AvailabilityZones[0]) != "":
		m.Region = RegionFromZone(m.AvailabilityZones[0])
	default:
		m.Region = Unknown
	}

	m.SecurityGroups = []string{}
	for _, g := range desc.Get("security_groups").Slice() {
		group := Lookup(g)
		if name := group.Get("name"); name.Present() {
			m.SecurityGroups = append(m.SecurityGroups, name.String(Unknown))
			continue
		}
		m.SecurityGroups = append(m.SecurityGroups, group.String(Unknown))
	}
}

// Describe renders the cloud placement of m as a machine description, the
// inverse of what FromObservation reads. Node records keep it as their
// cloud snapshot.
func Describe(m *Manifest) MachineDescription {
	groups := make([]interface{}, len(m.SecurityGroups))
	for i, g := range m.SecurityGroups {
		groups[i] = g
	}
	return MachineDescription{
		"provider":                m.CloudName,
		"flavor":                  m.Flavor,
		"image_id":                m.ImageID,
		"key_name":                m.Keypair,
		"root_device_type":        m.Backing,
		"ebs_optimized":           m.EBSOptimized,
		"availability_zones":      stringsToWire(m.AvailabilityZones),
		"load_balancers":          stringsToWire(m.ElasticLoadBalancers),
		"iam_server_certificates": stringsToWire(m.IAMServerCertificates),
		"security_groups":         groups,
		"subnet_id":               m.Subnet,
		"vpc_id":                  m.VPC,
		"ssh_user":                m.SSHUser,
		"monitoring":              map[string]interface{}{"state": m.Monitoring},
		"placement": map[string]interface{}{
			"region":     m.Region,
			"group_name": m.PlacementGroup,
		},
		"public_ip": map[string]interface{}{
			"address":       m.ElasticIP,
			"allocation_id": m.AllocationID,
			"auto":          m.AutoElasticIP,
		},
	}
}

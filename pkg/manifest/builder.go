package manifest

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/openfroyo/ironfleet/pkg/directory"
	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/model"
)

// FromServer builds the desired manifest of a resolved server.
func FromServer(s *model.Server) *Manifest {
	m := &Manifest{
		Name:        s.Name,
		ClusterName: s.ClusterName,
		FacetName:   s.FacetName,
		Environment: s.Environment,
		RunList:     s.RunList.Items(),
	}

	for _, c := range s.Components {
		c = c.Clone()
		c.Kind = c.EffectiveKind()
		m.Components = append(m.Components, c)
	}

	if s.ClusterRole != nil {
		m.ClusterDefaultAttributes = model.CopyAttributes(s.ClusterRole.DefaultAttributes)
		m.ClusterOverrideAttributes = model.CopyAttributes(s.ClusterRole.OverrideAttributes)
	}
	if s.FacetRole != nil {
		m.FacetDefaultAttributes = model.CopyAttributes(s.FacetRole.DefaultAttributes)
		m.FacetOverrideAttributes = model.CopyAttributes(s.FacetRole.OverrideAttributes)
	}

	c := s.Cloud.Clone()
	m.CloudName = c.CloudName
	m.AvailabilityZones = c.AvailabilityZones
	m.Backing = c.Backing
	m.ElasticLoadBalancers = c.ElasticLoadBalancers
	m.EBSOptimized = c.EBSOptimized != nil && *c.EBSOptimized
	m.Flavor = c.Flavor
	m.IAMServerCertificates = c.IAMServerCertificates
	m.ImageID = c.ImageID
	m.Keypair = c.Keypair
	m.Monitoring = c.Monitoring
	m.PlacementGroup = c.PlacementGroup
	m.ElasticIP = c.ElasticIP
	m.AutoElasticIP = c.AutoElasticIP != nil && *c.AutoElasticIP
	m.AllocationID = c.AllocationID
	m.Region = c.Region
	m.SecurityGroups = c.SecurityGroups
	m.SSHUser = c.SSHUser
	m.Subnet = c.Subnet
	m.VPC = c.VPC
	return m
}

// DocumentLookup is the read side of the remote directory.
type DocumentLookup interface {
	Lookup(ctx context.Context, kind directory.Kind, name string) (directory.Document, error)
}

// Builder reconstructs manifests from observed state. Safe for concurrent
// use; concurrent fetches of the same role document share one lookup.
type Builder struct {
	kinds  *model.ComponentKinds
	lookup DocumentLookup
	logger zerolog.Logger
	roles  singleflight.Group
}

// NewBuilder creates a Builder over a directory and a component kind registry.
func NewBuilder(lookup DocumentLookup, kinds *model.ComponentKinds, logger zerolog.Logger) *Builder {
	if kinds == nil {
		kinds = model.NewComponentKinds()
	}
	return &Builder{
		kinds:  kinds,
		lookup: lookup,
		logger: logger.With().Str("component", "manifest_builder").Logger(),
	}
}

// role fetches a role document. A miss is an empty document.
func (b *Builder) role(ctx context.Context, name string) (directory.Document, error) {
	v, err, _ := b.roles.Do(name, func() (interface{}, error) {
		doc, err := b.lookup.Lookup(ctx, directory.KindRole, name)
		if directory.IsNotFound(err) {
			b.logger.Debug().Str("role", name).Msg("Role not found, using empty attributes")
			return directory.Document{}, nil
		}
		if err != nil {
			return nil, lookupError(err, directory.KindRole, name)
		}
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	// shared result; hand out a private copy
	return v.(directory.Document).Clone(), nil
}

// components rebuilds the announced components whose kind is registered.
// Announcements are either a list of {"name", "type", "attributes"} or a
// map from name to {"type", "attributes"}.
func (b *Builder) components(announces Value) ([]model.Component, error) {
	type announce struct {
		name string
		body map[string]interface{}
	}

	var list []announce
	if raw, ok := announces.Raw().(map[string]interface{}); ok {
		names := make([]string, 0, len(raw))
		for name := range raw {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			list = append(list, announce{name: name, body: Lookup(raw[name]).Map()})
		}
	} else {
		for _, item := range announces.Slice() {
			body := Lookup(item).Map()
			list = append(list, announce{name: Lookup(body).Get("name").String(""), body: body})
		}
	}

	var out []model.Component
	for _, a := range list {
		kind := Lookup(a.body).Get("type").String("")
		if kind == "" {
			kind = a.name
		}
		build, ok := b.kinds.Lookup(kind)
		if !ok {
			b.logger.Debug().Str("announce", a.name).Str("type", kind).Msg("Skipping unknown component kind")
			continue
		}
		c, err := build(a.name, a.body)
		if err != nil {
			return nil, engine.NewPermanentError("rebuild component", err).
				WithCode(engine.ErrCodeValidation).
				WithResource(a.name)
		}
		out = append(out, c)
	}
	return out, nil
}

func lookupError(err error, kind directory.Kind, name string) error {
	if engine.ClassOf(err) != "" {
		return fmt.Errorf("lookup %s %s: %w", kind, name, err)
	}
	return engine.NewTransientError("directory lookup failed", err).
		WithCode(engine.ErrCodeLookup).
		WithResource(string(kind) + "/" + name)
}

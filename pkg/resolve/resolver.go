package resolve

import (
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/openfroyo/ironfleet/pkg/model"
)

// Result holds the servers that resolved and the entities that did not.
type Result struct {
	Servers []*model.Server
	Errors  []*ResolutionError
}

// Resolver turns definitions into concrete servers. It never modifies its
// inputs and holds no state between calls, so one Resolver can be shared.
type Resolver struct {
	defaults model.Compute
	logger   zerolog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDefaults sets the lowest-precedence layer applied to every server.
func WithDefaults(c model.Compute) Option {
	return func(r *Resolver) {
		r.defaults = c.Clone()
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger.With().Str("component", "resolver").Logger()
	}
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// scope is what an owner hands down to its children.
type scope struct {
	layers      layers
	chain       []string
	realmName   string
	clusterName string
	facetName   string
	clusterRole *model.Role
	facetRole   *model.Role
}

func (s scope) down(name string, c model.Compute) scope {
	next := s
	next.layers = s.layers.with(c)
	next.chain = append(append([]string(nil), s.chain...), name)
	return next
}

// ResolveRealm resolves every server of every cluster in realm.
func (r *Resolver) ResolveRealm(realm *model.Realm) *Result {
	res := &Result{}
	root := scope{layers: layers{r.defaults}}.down(realm.Name, realm.Compute)
	root.realmName = realm.Name
	clusters, err := model.FoldClusters(realm.Clusters)
	if err != nil {
		res.Errors = append(res.Errors, &ResolutionError{Kind: "realm", Chain: root.chain, Cause: err})
		return res
	}
	for _, c := range clusters {
		r.resolveCluster(res, root, c)
	}
	r.logger.Debug().
		Str("realm", realm.Name).
		Int("servers", len(res.Servers)).
		Int("errors", len(res.Errors)).
		Msg("Resolved realm")
	return res
}

// ResolveCluster resolves a cluster without a realm. A RealmName already on
// the cluster is kept.
func (r *Resolver) ResolveCluster(c *model.Cluster) *Result {
	res := &Result{}
	r.resolveCluster(res, scope{layers: layers{r.defaults}}, c)
	return res
}

// ResolveFacet resolves a facet without a cluster. Its servers get the
// facet name and role but no cluster role.
func (r *Resolver) ResolveFacet(f *model.Facet) *Result {
	res := &Result{}
	r.resolveFacet(res, scope{layers: layers{r.defaults}}, f)
	return res
}

// ResolveServer resolves a single server without owners. Only the defaults
// layer applies and no owner roles are added.
func (r *Resolver) ResolveServer(s *model.Server) (*model.Server, error) {
	res := &Result{}
	r.resolveServer(res, scope{layers: layers{r.defaults}}, s)
	if err := res.Err(); err != nil {
		return nil, err
	}
	return res.Servers[0], nil
}

func (r *Resolver) resolveCluster(res *Result, parent scope, def *model.Cluster) {
	c := def.Clone()
	if c.RealmName == "" {
		c.RealmName = parent.realmName
	}
	if c.Name == "" {
		res.Errors = append(res.Errors, &ResolutionError{
			Kind:    "cluster",
			Chain:   append(append([]string(nil), parent.chain...), ""),
			Missing: []string{"name"},
		})
		return
	}

	sc := parent.down(c.Name, c.Compute)
	sc.clusterName = c.FullName()
	sc.clusterRole = roleFor(c.RoleName(), c.ClusterRole)

	facets, err := model.FoldFacets(c.Facets)
	if err != nil {
		res.Errors = append(res.Errors, &ResolutionError{Kind: "cluster", Chain: sc.chain, Cause: err})
		return
	}
	for _, f := range facets {
		r.resolveFacet(res, sc, f)
	}
}

func (r *Resolver) resolveFacet(res *Result, parent scope, def *model.Facet) {
	f := def.Clone()
	if f.ClusterName == "" {
		f.ClusterName = parent.clusterName
	}
	if f.ClusterRole == nil {
		f.ClusterRole = parent.clusterRole.Clone()
	}
	if f.Name == "" {
		res.Errors = append(res.Errors, &ResolutionError{
			Kind:    "facet",
			Chain:   append(append([]string(nil), parent.chain...), ""),
			Missing: []string{"name"},
		})
		return
	}

	sc := parent.down(f.Name, f.Compute)
	sc.clusterName = f.ClusterName
	sc.clusterRole = f.ClusterRole
	sc.facetName = f.Name
	sc.facetRole = roleFor(f.RoleName(), f.FacetRole)

	servers, err := facetServers(f)
	if err != nil {
		res.Errors = append(res.Errors, &ResolutionError{Kind: "facet", Chain: sc.chain, Cause: err})
		return
	}
	for _, s := range servers {
		r.resolveServer(res, sc, s)
	}
}

// facetServers returns the declared servers, same-named definitions merged,
// plus any missing index below Instances, ordered by index.
func facetServers(f *model.Facet) ([]*model.Server, error) {
	servers, err := model.FoldServers(f.Servers)
	if err != nil {
		return nil, err
	}
	declared := make(map[string]bool, len(servers))
	for _, s := range servers {
		declared[s.Name] = true
	}
	for i := 0; i < f.Instances; i++ {
		if name := strconv.Itoa(i); !declared[name] {
			servers = append(servers, &model.Server{Name: name})
		}
	}
	sort.SliceStable(servers, func(i, j int) bool {
		return servers[i].Index() < servers[j].Index()
	})
	return servers, nil
}

func (r *Resolver) resolveServer(res *Result, parent scope, def *model.Server) {
	s := def.Clone()
	if s.ClusterName == "" {
		s.ClusterName = parent.clusterName
	}
	if s.FacetName == "" {
		s.FacetName = parent.facetName
	}
	if s.ClusterRole == nil {
		s.ClusterRole = parent.clusterRole.Clone()
	}
	if s.FacetRole == nil {
		s.FacetRole = parent.facetRole.Clone()
	}

	chain := append(append([]string(nil), parent.chain...), s.Name)
	if missing := missingIdentity(s, parent); len(missing) > 0 {
		res.Errors = append(res.Errors, &ResolutionError{Kind: "server", Chain: chain, Missing: missing})
		return
	}

	compute, err := parent.layers.with(s.Compute).fold()
	if err != nil {
		res.Errors = append(res.Errors, &ResolutionError{Kind: "server", Chain: chain, Cause: err})
		return
	}
	s.Compute = compute

	if parent.clusterRole != nil {
		s.RunList.Role(s.ClusterRole.Name, model.PlacementLast)
	}
	if parent.facetRole != nil {
		s.RunList.Role(s.FacetRole.Name, model.PlacementLast)
	}

	r.logger.Debug().Str("server", s.FullName()).Msg("Resolved server")
	res.Servers = append(res.Servers, s)
}

// missingIdentity checks the fields the owner chain should have supplied.
// Owners that are absent impose no requirement.
func missingIdentity(s *model.Server, parent scope) []string {
	var missing []string
	if s.Name == "" {
		missing = append(missing, "name")
	}
	if parent.clusterRole != nil && s.ClusterName == "" {
		missing = append(missing, "cluster_name")
	}
	if parent.facetRole != nil && s.FacetName == "" {
		missing = append(missing, "facet_name")
	}
	return missing
}

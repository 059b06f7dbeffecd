package resolve

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/model"
)

func testRealm() *model.Realm {
	return &model.Realm{
		Name:    "prod",
		Compute: model.Compute{Environment: "production"},
		Clusters: []*model.Cluster{{
			Name: "web",
			Compute: model.Compute{
				RunList: model.RunList{{Name: "role[base]"}},
				Cloud:   model.CloudSettings{Region: "us-east", Flavor: "cx22", EBSOptimized: model.Bool(true)},
				Components: []model.Component{
					{Name: "ntp", Kind: "ntp", Attributes: map[string]interface{}{"servers": []interface{}{"a"}}},
				},
			},
			ClusterRole: &model.Role{DefaultAttributes: map[string]interface{}{"tier": "web"}},
			Facets: []*model.Facet{{
				Name: "app",
				Compute: model.Compute{
					RunList: model.RunList{{Name: "recipe[app]"}},
					Cloud:   model.CloudSettings{Region: "us-west", EBSOptimized: model.Bool(false)},
				},
				FacetRole: &model.Role{OverrideAttributes: map[string]interface{}{"port": 8080}},
				Servers: []*model.Server{{
					Name:    "3",
					Compute: model.Compute{Cloud: model.CloudSettings{Flavor: "cx42"}},
				}},
			}},
		}},
	}
}

func TestResolveRealm(t *testing.T) {
	res := New().ResolveRealm(testRealm())
	require.NoError(t, res.Err())
	require.Len(t, res.Servers, 1)

	s := res.Servers[0]
	assert.Equal(t, "prod-web-app-3", s.FullName())
	assert.Equal(t, "prod-web", s.ClusterName)
	assert.Equal(t, "app", s.FacetName)
	assert.Equal(t, "production", s.Environment)

	assert.Equal(t, "us-west", s.Cloud.Region, "facet region overrides cluster region")
	assert.Equal(t, "cx42", s.Cloud.Flavor, "server flavor overrides cluster flavor")
	require.NotNil(t, s.Cloud.EBSOptimized)
	assert.False(t, *s.Cloud.EBSOptimized, "explicit false overrides inherited true")

	require.NotNil(t, s.ClusterRole)
	assert.Equal(t, "prod-web-cluster", s.ClusterRole.Name)
	assert.Equal(t, "web", s.ClusterRole.DefaultAttributes["tier"])
	require.NotNil(t, s.FacetRole)
	assert.Equal(t, "prod-web-app-facet", s.FacetRole.Name)

	assert.Equal(t, []string{
		"role[base]",
		"recipe[app]",
		"role[prod-web-cluster]",
		"role[prod-web-app-facet]",
	}, s.RunList.Items())

	_, ok := s.Component("ntp")
	assert.True(t, ok)
}

func TestResolveDoesNotModifyDefinitions(t *testing.T) {
	realm := testRealm()
	New().ResolveRealm(realm)

	c := realm.Clusters[0]
	assert.Empty(t, c.RealmName)
	assert.Empty(t, c.Facets[0].ClusterName)
	assert.Empty(t, c.Facets[0].Servers[0].ClusterName)
	assert.Len(t, c.Facets[0].Servers[0].RunList, 0)
}

func TestResolveDefaults(t *testing.T) {
	r := New(WithDefaults(model.Compute{
		Environment: "_default",
		Cloud:       model.CloudSettings{CloudName: "hcloud", SSHUser: "root"},
	}))
	res := r.ResolveRealm(testRealm())
	require.Len(t, res.Servers, 1)

	s := res.Servers[0]
	assert.Equal(t, "production", s.Environment)
	assert.Equal(t, "hcloud", s.Cloud.CloudName)
	assert.Equal(t, "root", s.Cloud.SSHUser)
}

func TestResolveExplicitChildValuesWin(t *testing.T) {
	realm := testRealm()
	realm.Clusters[0].Facets[0].Servers[0].ClusterName = "legacy"

	res := New().ResolveRealm(realm)
	require.Len(t, res.Servers, 1)
	assert.Equal(t, "legacy", res.Servers[0].ClusterName)
}

func TestResolveInstances(t *testing.T) {
	realm := testRealm()
	realm.Clusters[0].Facets[0].Instances = 3

	res := New().ResolveRealm(realm)
	require.NoError(t, res.Err())

	var names []string
	for _, s := range res.Servers {
		names = append(names, s.FullName())
	}
	assert.Equal(t, []string{"prod-web-app-0", "prod-web-app-1", "prod-web-app-2", "prod-web-app-3"}, names)
	assert.Equal(t, "cx22", res.Servers[0].Cloud.Flavor)
}

func TestResolveErrorsAbortOnlyThatEntity(t *testing.T) {
	realm := testRealm()
	facet := realm.Clusters[0].Facets[0]
	facet.Servers = append(facet.Servers, &model.Server{})

	res := New().ResolveRealm(realm)
	require.Len(t, res.Servers, 1)
	require.Len(t, res.Errors, 1)

	resErr := res.Errors[0]
	assert.Equal(t, "server", resErr.Kind)
	assert.Equal(t, []string{"prod", "web", "app", ""}, resErr.Chain)
	assert.Equal(t, []string{"name"}, resErr.Missing)

	err := res.Err()
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeResolution, engine.CodeOf(err))
	assert.True(t, engine.IsPermanent(err))

	var target *ResolutionError
	assert.True(t, errors.As(err, &target))
}

func TestResolveUnnamedCluster(t *testing.T) {
	realm := testRealm()
	realm.Clusters = append(realm.Clusters, &model.Cluster{
		Facets: []*model.Facet{{Name: "db", Instances: 1}},
	})

	res := New().ResolveRealm(realm)
	assert.Len(t, res.Servers, 1)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "cluster", res.Errors[0].Kind)
}

func TestResolveWithoutOwner(t *testing.T) {
	s, err := New().ResolveServer(&model.Server{
		Name:    "0",
		Compute: model.Compute{RunList: model.RunList{{Name: "recipe[ntp]"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "0", s.FullName())
	assert.Nil(t, s.ClusterRole)
	assert.Equal(t, []string{"recipe[ntp]"}, s.RunList.Items())

	res := New().ResolveFacet(&model.Facet{Name: "app", Instances: 1})
	require.NoError(t, res.Err())
	require.Len(t, res.Servers, 1)
	assert.Equal(t, "app-0", res.Servers[0].FullName())
	assert.Equal(t, []string{"role[app-facet]"}, res.Servers[0].RunList.Items())

	res = New().ResolveCluster(&model.Cluster{Name: "web", Facets: []*model.Facet{{Name: "app", Instances: 1}}})
	require.NoError(t, res.Err())
	assert.Equal(t, "web-app-0", res.Servers[0].FullName())
	assert.Equal(t, "web-cluster", res.Servers[0].ClusterRole.Name)
}

func TestResolveDuplicateRolesKeptUntilFlattened(t *testing.T) {
	realm := testRealm()
	realm.Clusters[0].Facets[0].Servers[0].RunList = model.RunList{{Name: "role[prod-web-cluster]"}}

	res := New().ResolveRealm(realm)
	require.Len(t, res.Servers, 1)
	s := res.Servers[0]

	count := 0
	for _, e := range s.RunList {
		if e.Name == "role[prod-web-cluster]" {
			count++
		}
	}
	assert.Equal(t, 2, count)
	assert.Equal(t, "role[prod-web-cluster]", s.RunList.Items()[2])
}

func TestResolveMergesSameNamedSiblings(t *testing.T) {
	realm := &model.Realm{
		Name: "prod",
		Clusters: []*model.Cluster{
			{
				Name: "web",
				Facets: []*model.Facet{
					{Name: "app", Instances: 1, Compute: model.Compute{Cloud: model.CloudSettings{Region: "us-east"}}},
					{Name: "app", Compute: model.Compute{Cloud: model.CloudSettings{Flavor: "cx22"}}},
				},
			},
			{
				Name:    "web",
				Compute: model.Compute{Environment: "production"},
				Facets: []*model.Facet{{
					Name: "app",
					Servers: []*model.Server{
						{Name: "0", Compute: model.Compute{Cloud: model.CloudSettings{ImageID: "ubuntu-22.04"}}},
						{Name: "0", Compute: model.Compute{Cloud: model.CloudSettings{ImageID: "ubuntu-24.04"}}},
					},
				}},
			},
		},
	}

	tests := []struct {
		name    string
		resolve func(t *testing.T) *Result
	}{
		{name: "direct", resolve: func(*testing.T) *Result { return New().ResolveRealm(realm) }},
		{name: "through registry", resolve: func(t *testing.T) *Result {
			reg := model.NewRegistry()
			require.NoError(t, reg.DefineRealm(realm))
			r, err := reg.Realm("prod")
			require.NoError(t, err)
			require.Len(t, r.Clusters, 1, "cluster names are unique within a realm")
			return New().ResolveRealm(r)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.resolve(t)
			require.NoError(t, res.Err())
			require.Len(t, res.Servers, 1)

			s := res.Servers[0]
			assert.Equal(t, "prod-web-app-0", s.FullName())
			assert.Equal(t, "production", s.Environment)
			assert.Equal(t, "us-east", s.Cloud.Region)
			assert.Equal(t, "cx22", s.Cloud.Flavor, "later facet definition is kept")
			assert.Equal(t, "ubuntu-24.04", s.Cloud.ImageID, "later server scalar wins")
		})
	}

	assert.Len(t, realm.Clusters, 2, "definitions are not modified")
}

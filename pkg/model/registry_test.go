package model

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDefineRealm(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.DefineRealm(&Realm{
		Name:     "prod",
		Clusters: []*Cluster{{Name: "web"}},
	}))

	r, err := reg.Realm("prod")
	require.NoError(t, err)
	require.Len(t, r.Clusters, 1)
	assert.Equal(t, "prod", r.Clusters[0].RealmName)

	c, err := reg.Cluster("prod-web")
	require.NoError(t, err)
	assert.Equal(t, "web", c.Name)

	_, err = reg.Realm("staging")
	assert.True(t, errors.Is(err, ErrNotDefined))
}

func TestRegistryRedefinitionMerges(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.DefineCluster(&Cluster{
		Name:    "web",
		Compute: Compute{Environment: "staging", Cloud: CloudSettings{Flavor: "cx22"}},
		Facets:  []*Facet{{Name: "app", Instances: 2}},
	}))
	require.NoError(t, reg.DefineCluster(&Cluster{
		Name:    "web",
		Compute: Compute{Environment: "production"},
		Facets:  []*Facet{{Name: "app", Instances: 3}, {Name: "db"}},
	}))

	c, err := reg.Cluster("web")
	require.NoError(t, err)
	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, "cx22", c.Cloud.Flavor)
	require.Len(t, c.Facets, 2)
	assert.Equal(t, 3, c.Facets[0].Instances)
}

func TestRegistryReturnsCopies(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.DefineCluster(&Cluster{Name: "web"}))

	c, err := reg.Cluster("web")
	require.NoError(t, err)
	c.Environment = "mutated"

	again, err := reg.Cluster("web")
	require.NoError(t, err)
	assert.Empty(t, again.Environment)
}

func TestRegistryRemoveAndClose(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.DefineRealm(&Realm{Name: "prod"}))
	require.NoError(t, reg.Remove("prod"))
	assert.ErrorIs(t, reg.Remove("prod"), ErrNotDefined)

	require.NoError(t, reg.Close())
	assert.ErrorIs(t, reg.DefineRealm(&Realm{Name: "prod"}), ErrRegistryClosed)
	_, err := reg.Realms()
	assert.ErrorIs(t, err, ErrRegistryClosed)
	assert.ErrorIs(t, reg.Close(), ErrRegistryClosed)
}

func TestRegistryConcurrentDefine(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.DefineRealm(&Realm{Name: "prod", Clusters: []*Cluster{{Name: "web"}}})
			_, _ = reg.Realms()
		}()
	}
	wg.Wait()

	r, err := reg.Realm("prod")
	require.NoError(t, err)
	assert.Len(t, r.Clusters, 1)
}

func TestLint(t *testing.T) {
	full := &Server{Name: "0", ClusterName: "prod-web", FacetName: "app"}
	assert.Empty(t, Lint(full))

	missing := &Server{Name: "0", ClusterName: "prod-web"}
	findings := Lint(missing)
	require.Len(t, findings, 1)
	assert.Equal(t, "facet_name", findings[0].Field)
	assert.Contains(t, findings[0].Message, "facet_name")

	none := Lint(&Server{})
	assert.Len(t, none, 3)
}

func TestLintRealm(t *testing.T) {
	r := &Realm{
		Name: "prod",
		Clusters: []*Cluster{
			{Name: "web", Facets: []*Facet{{Name: "app", Servers: []*Server{
				{Name: "0", ClusterName: "prod-web", FacetName: "app"},
				{Name: "1", ClusterName: "prod-web"},
			}}}},
			{Name: "db", Facets: []*Facet{{Name: "pg", Servers: []*Server{
				{ClusterName: "prod-db", FacetName: "pg"},
			}}}},
		},
	}

	findings := LintRealm(r)
	require.Len(t, findings, 2)
	assert.Equal(t, "facet_name", findings[0].Field)
	assert.Equal(t, "name", findings[1].Field)
}

func TestRegistryDefineRealmFoldsClusters(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.DefineRealm(&Realm{
		Name: "prod",
		Clusters: []*Cluster{
			{Name: "web", Compute: Compute{Environment: "staging"}},
			{Name: "db"},
			{Name: "web", Compute: Compute{Cloud: CloudSettings{Flavor: "cx22"}}},
		},
	}))

	r, err := reg.Realm("prod")
	require.NoError(t, err)
	require.Len(t, r.Clusters, 2)
	assert.Equal(t, "web", r.Clusters[0].Name)
	assert.Equal(t, "staging", r.Clusters[0].Environment)
	assert.Equal(t, "cx22", r.Clusters[0].Cloud.Flavor)
	assert.Equal(t, "db", r.Clusters[1].Name)
}

func TestFoldKeepsUnnamedAndOrder(t *testing.T) {
	facets, err := FoldFacets([]*Facet{
		{Name: "app", Instances: 1},
		{},
		{Name: "db"},
		{Name: "app", Instances: 3},
		{},
	})
	require.NoError(t, err)
	require.Len(t, facets, 4)
	assert.Equal(t, []string{"app", "", "db", ""},
		[]string{facets[0].Name, facets[1].Name, facets[2].Name, facets[3].Name})
	assert.Equal(t, 3, facets[0].Instances)

	servers, err := FoldServers([]*Server{
		{Name: "0", Compute: Compute{Environment: "staging"}},
		{Name: "0", Compute: Compute{Environment: "production"}},
	})
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "production", servers[0].Environment)
}

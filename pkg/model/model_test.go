package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNaming(t *testing.T) {
	c := &Cluster{Name: "web", RealmName: "prod"}
	assert.Equal(t, "prod-web", c.FullName())
	assert.Equal(t, "prod-web-cluster", c.RoleName())

	f := &Facet{Name: "app", ClusterName: c.FullName()}
	assert.Equal(t, "prod-web-app-facet", f.RoleName())

	s := &Server{Name: "3", ClusterName: c.FullName(), FacetName: f.Name}
	assert.Equal(t, "prod-web-app-3", s.FullName())
	assert.Equal(t, 3, s.Index())

	bare := &Cluster{Name: "web"}
	assert.Equal(t, "web", bare.FullName())
	assert.Equal(t, "web-cluster", bare.RoleName())
}

func TestServerIndexNonNumeric(t *testing.T) {
	s := &Server{Name: "db"}
	assert.Equal(t, 0, s.Index())
}

func TestClusterServers(t *testing.T) {
	c := &Cluster{
		Name: "web",
		Facets: []*Facet{
			{Name: "app", Servers: []*Server{{Name: "0"}, {Name: "1"}}},
			{Name: "db", Servers: []*Server{{Name: "0"}}},
		},
	}
	servers := c.Servers()
	require.Len(t, servers, 3)
	assert.Equal(t, "0", servers[2].Name)

	f, ok := c.Facet("db")
	require.True(t, ok)
	_, ok = f.Server("0")
	assert.True(t, ok)
}

func TestRunListItems(t *testing.T) {
	var rl RunList
	rl.Add("recipe[base]", PlacementNormal)
	rl.Role("prod-web-cluster", PlacementLast)
	rl.Add("recipe[bootstrap]", PlacementFirst)
	rl.Add("recipe[ntp]", "")

	assert.Equal(t, []string{
		"recipe[bootstrap]",
		"recipe[base]",
		"recipe[ntp]",
		"role[prod-web-cluster]",
	}, rl.Items())
}

func TestRunListLaterInsertionWins(t *testing.T) {
	var rl RunList
	rl.Add("recipe[ntp]", PlacementFirst)
	rl.Add("recipe[base]", PlacementNormal)
	rl.Add("recipe[ntp]", PlacementLast)

	assert.Equal(t, []string{"recipe[base]", "recipe[ntp]"}, rl.Items())
}

func TestRunListUnmarshal(t *testing.T) {
	var rl RunList
	err := json.Unmarshal([]byte(`["recipe[base]", {"name": "role[ops]", "placement": "first"}]`), &rl)
	require.NoError(t, err)
	assert.Equal(t, []string{"role[ops]", "recipe[base]"}, rl.Items())

	err = json.Unmarshal([]byte(`[{"name": "x", "placement": "middle"}]`), &rl)
	assert.Error(t, err)
}

func TestRecipeRef(t *testing.T) {
	assert.Equal(t, "recipe[foo]", RecipeRef("foo"))
	assert.Equal(t, "recipe[foo]", RecipeRef("recipe[foo]"))
	assert.Equal(t, "role[bar]", RecipeRef("role[bar]"))
}

func TestMergeAttributes(t *testing.T) {
	dst := map[string]interface{}{
		"ntp":  map[string]interface{}{"servers": []interface{}{"a"}, "burst": true},
		"port": 80,
	}
	src := map[string]interface{}{
		"ntp":  map[string]interface{}{"servers": []interface{}{"b", "c"}},
		"user": "www",
	}

	out := MergeAttributes(dst, src)
	assert.Equal(t, map[string]interface{}{
		"ntp":  map[string]interface{}{"servers": []interface{}{"b", "c"}, "burst": true},
		"port": 80,
		"user": "www",
	}, out)

	// inputs are untouched
	assert.Equal(t, []interface{}{"a"}, dst["ntp"].(map[string]interface{})["servers"])
	assert.NotContains(t, dst, "user")
}

func TestCloudSettingsMerge(t *testing.T) {
	base := CloudSettings{
		Region:         "us-east",
		Flavor:         "cx22",
		EBSOptimized:   Bool(true),
		SecurityGroups: []string{"ssh"},
	}
	overlay := CloudSettings{
		Region:       "us-west",
		EBSOptimized: Bool(false),
	}

	require.NoError(t, base.Merge(overlay))
	assert.Equal(t, "us-west", base.Region)
	assert.Equal(t, "cx22", base.Flavor)
	require.NotNil(t, base.EBSOptimized)
	assert.False(t, *base.EBSOptimized)
	assert.Equal(t, []string{"ssh"}, base.SecurityGroups)
}

func TestComputeMergeComponentsByName(t *testing.T) {
	c := Compute{Components: []Component{
		{Name: "ntp", Kind: "ntp", Attributes: map[string]interface{}{"servers": []interface{}{"a"}}},
	}}
	err := c.Merge(Compute{
		Environment: "production",
		Components: []Component{
			{Name: "ntp", Attributes: map[string]interface{}{"burst": true}},
			{Name: "syslog", Kind: "syslog"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "production", c.Environment)
	require.Len(t, c.Components, 2)
	ntp, ok := c.Component("ntp")
	require.True(t, ok)
	assert.Equal(t, "ntp", ntp.Kind)
	assert.Equal(t, true, ntp.Attributes["burst"])
	assert.Equal(t, []interface{}{"a"}, ntp.Attributes["servers"])
}

func TestComponentKinds(t *testing.T) {
	kinds := DefaultComponentKinds("ntp", "syslog")
	assert.Equal(t, []string{"ntp", "syslog"}, kinds.Kinds())

	build, ok := kinds.Lookup("ntp")
	require.True(t, ok)
	c, err := build("clock", map[string]interface{}{
		"type":       "ntp",
		"attributes": map[string]interface{}{"servers": []interface{}{"pool"}},
	})
	require.NoError(t, err)
	assert.Equal(t, Component{
		Name:       "clock",
		Kind:       "ntp",
		Attributes: map[string]interface{}{"servers": []interface{}{"pool"}},
	}, c)

	_, err = build("clock", map[string]interface{}{"attributes": "nope"})
	assert.Error(t, err)

	_, ok = kinds.Lookup("unknown")
	assert.False(t, ok)
}

func TestComponentFragment(t *testing.T) {
	frag := Component{Name: "ntp", Kind: "ntp"}.Fragment()
	assert.Equal(t, map[string]interface{}{
		"name":       "ntp",
		"kind":       "ntp",
		"attributes": map[string]interface{}{},
	}, frag)
}

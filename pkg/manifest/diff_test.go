package manifest

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/model"
)

func TestCompareEqual(t *testing.T) {
	a, err := sampleManifest().Canonical()
	require.NoError(t, err)
	b, err := sampleManifest().Canonical()
	require.NoError(t, err)

	changes := Compare(a, b)
	assert.NotNil(t, changes)
	assert.Empty(t, changes)
}

func TestCompareReportsPaths(t *testing.T) {
	desired, err := sampleManifest().Canonical()
	require.NoError(t, err)

	obs := sampleManifest()
	obs.CloudName = "ec2"
	obs.Components[0].Attributes["servers"] = []interface{}{"a", "c"}
	obs.Components = append(obs.Components, model.Component{Name: "syslog", Kind: "syslog"})
	delete(obs.ClusterDefaultAttributes, "tier")
	observed, err := obs.Canonical()
	require.NoError(t, err)

	changes := Compare(desired, observed)

	want := []engine.Change{
		{Path: ".cloud_name", Before: "ec2", After: "hcloud", Action: engine.ChangeActionModify},
		{Path: ".cluster_default_attributes.tier", After: "web", Action: engine.ChangeActionAdd},
		{Path: ".components.ntp.attributes.servers[1]", Before: "c", After: "b", Action: engine.ChangeActionModify},
		{Path: ".components.syslog", Before: map[string]interface{}{
			"name": "syslog", "kind": "syslog", "attributes": map[string]interface{}{},
		}, Action: engine.ChangeActionRemove},
	}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}
}

func TestCompareSliceLength(t *testing.T) {
	desired := Canonical{"availability_zones": []interface{}{"fsn1", "nbg1"}}
	observed := Canonical{"availability_zones": []interface{}{"fsn1"}}

	changes := Compare(desired, observed)
	require.Len(t, changes, 1)
	assert.Equal(t, ".availability_zones[1]", changes[0].Path)
	assert.Equal(t, engine.ChangeActionAdd, changes[0].Action)
	assert.Equal(t, "nbg1", changes[0].After)
}

func TestDetect(t *testing.T) {
	desired, err := sampleManifest().Canonical()
	require.NoError(t, err)

	d, err := Detect("prod-web-app-0", desired, desired)
	require.NoError(t, err)
	assert.Equal(t, engine.DriftStatusInSync, d.Status)
	assert.Equal(t, d.DesiredFingerprint, d.ObservedFingerprint)
	assert.False(t, d.HasDrift())

	obs := sampleManifest()
	obs.Flavor = "cx42"
	observed, err := obs.Canonical()
	require.NoError(t, err)

	d, err = Detect("prod-web-app-0", desired, observed)
	require.NoError(t, err)
	assert.True(t, d.HasDrift())
	assert.NotEqual(t, d.DesiredFingerprint, d.ObservedFingerprint)
	require.Len(t, d.Drifts, 1)
	assert.Equal(t, ".flavor", d.Drifts[0].Path)

	u := Unobserved("prod-web-app-0", desired)
	assert.Equal(t, engine.DriftStatusUnknown, u.Status)
}

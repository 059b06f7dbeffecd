package policy

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/manifest"
	"github.com/openfroyo/ironfleet/pkg/telemetry"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

// compliantManifest passes every built-in policy.
func compliantManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Name:              "0",
		ClusterName:       "prod-web",
		FacetName:         "app",
		Environment:       "production",
		RunList:           []string{"role[base]", "recipe[nginx]"},
		CloudName:         "ec2",
		Flavor:            "m5.large",
		ImageID:           "ami-0abc",
		Region:            "us-east-1",
		AvailabilityZones: []string{"us-east-1a"},
		SecurityGroups:    []string{"web"},
		Monitoring:        "detailed",
		SSHUser:           "ubuntu",
	}
}

func hasViolation(result *PolicyResult, policy string, severity Severity) bool {
	for _, v := range result.Violations {
		if v.Policy == policy && v.Severity == severity {
			return true
		}
	}
	return false
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{
		"cloud-placement",
		"drift-replacement",
		"machine-naming",
		"production-safeguards",
		"required-fields",
	}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("Expected policy %d to be %s, got %s", i, name, policies[i].Name)
		}
		if !policies[i].Builtin || !policies[i].Enabled {
			t.Errorf("Expected %s to be an enabled built-in", name)
		}
	}
}

func TestNewEngine_WithoutBuiltins(t *testing.T) {
	eng := newTestEngine(t, WithBuiltins(false))
	if n := len(eng.ListPolicies()); n != 0 {
		t.Fatalf("Expected no policies, got %d", n)
	}

	result, err := eng.EvaluateManifest(context.Background(), &manifest.Manifest{Name: "X"}, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed || len(result.Violations) != 0 {
		t.Errorf("Expected allowed result without violations, got %+v", result)
	}
}

func TestEvaluateManifest_Compliant(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.EvaluateManifest(context.Background(), compliantManifest(), nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected allowed, got violations: %+v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("Expected no violations, got %+v", result.Violations)
	}
	if len(result.EvaluatedPolicies) != 5 {
		t.Errorf("Expected 5 evaluated policies, got %v", result.EvaluatedPolicies)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Expected no evaluation errors, got %v", result.Errors)
	}
}

func TestEvaluateManifest_BuiltinPolicies(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(m *manifest.Manifest)
		policy        string
		severity      Severity
		expectAllowed bool
	}{
		{
			name:          "uppercase machine name",
			mutate:        func(m *manifest.Manifest) { m.ClusterName = "Prod-web" },
			policy:        "machine-naming",
			severity:      SeverityError,
			expectAllowed: false,
		},
		{
			name:          "hyphenated facet",
			mutate:        func(m *manifest.Manifest) { m.FacetName = "web-app" },
			policy:        "machine-naming",
			severity:      SeverityError,
			expectAllowed: false,
		},
		{
			name:          "non-numeric server name",
			mutate:        func(m *manifest.Manifest) { m.Name = "primary" },
			policy:        "machine-naming",
			severity:      SeverityError,
			expectAllowed: false,
		},
		{
			name:          "missing environment",
			mutate:        func(m *manifest.Manifest) { m.Environment = "" },
			policy:        "required-fields",
			severity:      SeverityError,
			expectAllowed: false,
		},
		{
			name:          "empty run list",
			mutate:        func(m *manifest.Manifest) { m.RunList = nil },
			policy:        "required-fields",
			severity:      SeverityWarning,
			expectAllowed: true,
		},
		{
			name:          "placed without image",
			mutate:        func(m *manifest.Manifest) { m.ImageID = "" },
			policy:        "cloud-placement",
			severity:      SeverityError,
			expectAllowed: false,
		},
		{
			name:          "zone outside region",
			mutate:        func(m *manifest.Manifest) { m.AvailabilityZones = []string{"eu-west-1a"} },
			policy:        "cloud-placement",
			severity:      SeverityWarning,
			expectAllowed: true,
		},
		{
			name:          "production without security groups",
			mutate:        func(m *manifest.Manifest) { m.SecurityGroups = nil },
			policy:        "production-safeguards",
			severity:      SeverityError,
			expectAllowed: false,
		},
		{
			name:          "production as root",
			mutate:        func(m *manifest.Manifest) { m.SSHUser = "root" },
			policy:        "production-safeguards",
			severity:      SeverityWarning,
			expectAllowed: true,
		},
	}

	eng := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := compliantManifest()
			tt.mutate(m)

			result, err := eng.EvaluateManifest(context.Background(), m, nil)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v (violations: %+v)", tt.expectAllowed, result.Allowed, result.Violations)
			}
			if !hasViolation(result, tt.policy, tt.severity) {
				t.Errorf("Expected %s violation from %s, got %+v", tt.severity, tt.policy, result.Violations)
			}
			for _, v := range result.Violations {
				if v.Machine != m.FullName() {
					t.Errorf("Expected machine %s, got %s", m.FullName(), v.Machine)
				}
			}
		})
	}
}

func TestEvaluateManifest_NonProductionSkipsSafeguards(t *testing.T) {
	eng := newTestEngine(t)

	m := compliantManifest()
	m.Environment = "staging"
	m.SecurityGroups = nil
	m.SSHUser = "root"

	result, err := eng.EvaluateManifest(context.Background(), m, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed || len(result.Violations) != 0 {
		t.Errorf("Expected no violations outside production, got %+v", result.Violations)
	}
}

func TestEvaluateManifests(t *testing.T) {
	eng := newTestEngine(t)

	good := compliantManifest()
	bad := compliantManifest()
	bad.Name = "1"
	bad.Flavor = ""

	result, err := eng.EvaluateManifests(context.Background(), []*manifest.Manifest{good, bad}, &PolicyContext{Operation: "sync"})
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected the combined result to be disallowed")
	}
	blocking := result.Blocking()
	if len(blocking) != 1 {
		t.Fatalf("Expected 1 blocking violation, got %+v", blocking)
	}
	if blocking[0].Machine != "prod-web-app-1" {
		t.Errorf("Expected violation on prod-web-app-1, got %s", blocking[0].Machine)
	}
	if blocking[0].Details["field"] != "flavor" {
		t.Errorf("Expected details.field flavor, got %v", blocking[0].Details["field"])
	}
}

func TestEvaluateDrift(t *testing.T) {
	eng := newTestEngine(t)
	m := compliantManifest()

	tests := []struct {
		name          string
		drifts        []engine.Change
		expectAllowed bool
	}{
		{
			name:          "in-place change",
			drifts:        []engine.Change{{Path: ".monitoring", Before: "basic", After: "detailed", Action: engine.ChangeActionModify}},
			expectAllowed: true,
		},
		{
			name:          "placement change",
			drifts:        []engine.Change{{Path: ".availability_zones[0]", Before: "us-east-1b", After: "us-east-1a", Action: engine.ChangeActionModify}},
			expectAllowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drift := &engine.DriftDetection{
				Machine: m.FullName(),
				Status:  engine.DriftStatusDrifted,
				Drifts:  tt.drifts,
			}

			result, err := eng.EvaluateDrift(context.Background(), m, drift, &PolicyContext{Operation: "diff"})
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v (violations: %+v)", tt.expectAllowed, result.Allowed, result.Violations)
			}
		})
	}
}

func TestLoadPolicies_Custom(t *testing.T) {
	eng := newTestEngine(t, WithBuiltins(false))

	dir := t.TempDir()
	writePolicy(t, dir, "small-flavors.rego", `package ironfleet.custom.flavors

import rego.v1

deny contains msg if {
	endswith(input.manifest.flavor, ".metal")
	msg := sprintf("%s uses a bare-metal flavor", [input.machine])
}`)

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	m := compliantManifest()
	m.Flavor = "m5.metal"
	result, err := eng.EvaluateManifest(context.Background(), m, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if len(result.Violations) != 1 {
		t.Fatalf("Expected 1 violation, got %+v", result.Violations)
	}
	v := result.Violations[0]
	if v.Policy != "small-flavors" || v.Severity != SeverityWarning {
		t.Errorf("Expected small-flavors warning, got %s/%s", v.Policy, v.Severity)
	}
	if v.Message != "prod-web-app-0 uses a bare-metal flavor" {
		t.Errorf("Unexpected message: %s", v.Message)
	}
	if !result.Allowed {
		t.Error("Warnings should not block")
	}
}

func TestLoadPolicies_InvalidRego(t *testing.T) {
	eng := newTestEngine(t)

	dir := t.TempDir()
	path := writePolicy(t, dir, "broken.rego", "package broken\n\ndeny contains msg if {\n")

	if err := eng.LoadPolicies(context.Background(), []string{path}); err == nil {
		t.Error("Expected compile error for invalid Rego")
	}
}

func TestReplacePolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{
		Name:     "custom",
		Rego:     "package custom\n\nimport rego.v1\n\ndeny contains \"always\" if true",
		Severity: SeverityInfo,
		Enabled:  true,
	}
	if err := eng.ReplacePolicies(ctx, []Policy{custom}); err != nil {
		t.Fatalf("Failed to replace policies: %v", err)
	}
	if n := len(eng.ListPolicies()); n != 6 {
		t.Errorf("Expected builtins plus custom, got %d policies", n)
	}

	broken := Policy{Name: "broken", Rego: "package broken\n\ndeny[", Enabled: true}
	if err := eng.ReplacePolicies(ctx, []Policy{broken}); err == nil {
		t.Fatal("Expected error for broken policy")
	}
	if _, err := eng.GetPolicy("custom"); err != nil {
		t.Errorf("Failed replacement should keep the previous set: %v", err)
	}

	if err := eng.ReplacePolicies(ctx, nil); err != nil {
		t.Fatalf("Failed to replace policies: %v", err)
	}
	if _, err := eng.GetPolicy("custom"); err == nil {
		t.Error("Expected custom policy to be dropped")
	}
	if n := len(eng.ListPolicies()); n != 5 {
		t.Errorf("Expected only builtins, got %d policies", n)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	m := compliantManifest()
	m.Environment = ""

	if err := eng.DisablePolicy("required-fields"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	result, err := eng.EvaluateManifest(ctx, m, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if hasViolation(result, "required-fields", SeverityError) {
		t.Error("Disabled policy should not be evaluated")
	}
	for _, name := range result.EvaluatedPolicies {
		if name == "required-fields" {
			t.Error("Disabled policy listed as evaluated")
		}
	}

	if err := eng.EnablePolicy("required-fields"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	result, err = eng.EvaluateManifest(ctx, m, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !hasViolation(result, "required-fields", SeverityError) {
		t.Error("Expected violation after re-enabling")
	}

	if err := eng.EnablePolicy("nope"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestGetPolicy_ReturnsCopy(t *testing.T) {
	eng := newTestEngine(t)

	p, err := eng.GetPolicy("machine-naming")
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	p.Enabled = false

	again, _ := eng.GetPolicy("machine-naming")
	if !again.Enabled {
		t.Error("Mutating a returned policy should not affect the engine")
	}
}

func TestReloadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.ReplacePolicies(ctx, []Policy{{
		Name:    "extra",
		Rego:    "package extra\n\nimport rego.v1\n\ndeny contains \"x\" if false",
		Enabled: true,
	}}); err != nil {
		t.Fatalf("Failed to replace policies: %v", err)
	}
	if err := eng.ReloadPolicies(ctx); err != nil {
		t.Fatalf("Failed to reload: %v", err)
	}
	if n := len(eng.ListPolicies()); n != 5 {
		t.Errorf("Expected 5 policies after reload, got %d", n)
	}
}

func TestEvaluate_RecordsMetrics(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Events.EnableAsync = false
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("Failed to create telemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())
	ctx := tel.WithContext(context.Background())

	eng := newTestEngine(t)
	m := compliantManifest()
	m.SecurityGroups = nil

	if _, err := eng.EvaluateManifest(ctx, m, nil); err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	count, err := testutil.GatherAndCount(tel.Metrics.Registry(), "ironfleet_policy_violations_total")
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 violation series, got %d", count)
	}
}

func TestEvaluate_CancelledContext(t *testing.T) {
	eng := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := eng.EvaluateManifest(ctx, compliantManifest(), nil); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

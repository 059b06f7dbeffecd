package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/ironfleet/pkg/model"
	"github.com/openfroyo/ironfleet/pkg/resolve"
)

const webFleet = `
defaults: environment: "production"

realms: prod: {
	run_list: ["role[base]"]
	clusters: web: {
		cloud: {cloud_name: "hcloud", region: "fsn1"}
		facets: app: {
			instances: 2
			run_list: [{name: "nginx", placement: "first"}]
		}
	}
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

func TestCUEParser_ParseInline(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	tests := []struct {
		name      string
		content   string
		wantErr   bool
		checkFunc func(*testing.T, *Definitions)
	}{
		{
			name:    "valid fleet",
			content: webFleet,
			checkFunc: func(t *testing.T, defs *Definitions) {
				if defs.Defaults.Environment != "production" {
					t.Errorf("expected default environment 'production', got %s", defs.Defaults.Environment)
				}
				if len(defs.Realms) != 1 {
					t.Fatalf("expected 1 realm, got %d", len(defs.Realms))
				}
				realm := defs.Realms[0]
				if realm.Name != "prod" {
					t.Errorf("expected realm name 'prod', got %s", realm.Name)
				}
				if len(realm.RunList) != 1 || realm.RunList[0].Name != "role[base]" {
					t.Errorf("expected run list [role[base]], got %v", realm.RunList)
				}
				cluster, ok := realm.Cluster("web")
				if !ok {
					t.Fatal("expected cluster 'web'")
				}
				if cluster.Cloud.Region != "fsn1" {
					t.Errorf("expected region 'fsn1', got %s", cluster.Cloud.Region)
				}
				facet, ok := cluster.Facet("app")
				if !ok {
					t.Fatal("expected facet 'app'")
				}
				if facet.Instances != 2 {
					t.Errorf("expected 2 instances, got %d", facet.Instances)
				}
				if facet.RunList[0].Placement != model.PlacementFirst {
					t.Errorf("expected placement 'first', got %s", facet.RunList[0].Placement)
				}
			},
		},
		{
			name: "list form keeps declaration order",
			content: `
clusters: [
	{name: "db", facets: [{name: "primary"}]},
	{name: "cache"},
]
`,
			checkFunc: func(t *testing.T, defs *Definitions) {
				if len(defs.Clusters) != 2 {
					t.Fatalf("expected 2 clusters, got %d", len(defs.Clusters))
				}
				if defs.Clusters[0].Name != "db" || defs.Clusters[1].Name != "cache" {
					t.Errorf("expected clusters [db cache], got [%s %s]", defs.Clusters[0].Name, defs.Clusters[1].Name)
				}
				if defs.Clusters[0].Facets[0].Name != "primary" {
					t.Errorf("expected facet 'primary', got %s", defs.Clusters[0].Facets[0].Name)
				}
			},
		},
		{
			name: "invalid CUE syntax",
			content: `
realms: {
	prod: {
	invalid syntax here
}
`,
			wantErr: true,
		},
		{
			name:    "hyphenated facet name",
			content: `realms: prod: clusters: web: facets: "app-x": {}`,
			wantErr: true,
		},
		{
			name:    "non-numeric server name",
			content: `clusters: web: facets: app: servers: [{name: "first"}]`,
			wantErr: true,
		},
		{
			name:    "unknown cloud field",
			content: `clusters: web: cloud: flavour: "cx22"`,
			wantErr: true,
		},
		{
			name:    "bad placement",
			content: `clusters: web: run_list: [{name: "ntp", placement: "middle"}]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs, err := parser.ParseInline(ctx, tt.content)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.wantErr {
				if !defs.HasErrors() {
					t.Errorf("expected validation errors, got none")
				}
				if defs.Err() == nil {
					t.Errorf("expected joined error, got nil")
				}
				return
			}
			if defs.HasErrors() {
				t.Fatalf("unexpected validation errors: %v", defs.Errors)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, defs)
			}
		})
	}
}

func TestCUEParser_EmptyDocumentWarns(t *testing.T) {
	parser := NewCUEParser()

	defs, err := parser.ParseInline(context.Background(), `note: "nothing here"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(defs.Errors) != 0 {
		t.Fatalf("inline parse should not add the empty warning, got %v", defs.Errors)
	}

	path := writeFile(t, t.TempDir(), "empty.cue", `note: "nothing here"`)
	defs, err = parser.Parse(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if defs.HasErrors() {
		t.Errorf("expected only warnings, got %v", defs.Errors)
	}
	if len(defs.Errors) != 1 || defs.Errors[0].Severity != SeverityWarning {
		t.Errorf("expected one warning, got %v", defs.Errors)
	}
}

func TestCUEParser_ErrorLocation(t *testing.T) {
	parser := NewCUEParser()
	path := writeFile(t, t.TempDir(), "fleet.cue", `
clusters: web: {
	cloud: flavour: "cx22"
}
`)

	defs, err := parser.Parse(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !defs.HasErrors() {
		t.Fatal("expected validation errors")
	}
	ve := defs.Errors[0]
	if ve.File != path {
		t.Errorf("expected file %s, got %s", path, ve.File)
	}
	if ve.Severity != SeverityError {
		t.Errorf("expected severity 'error', got %s", ve.Severity)
	}
}

func TestCUEParser_ParseYAML(t *testing.T) {
	parser := NewCUEParser()
	content := `
realms:
  - name: prod
    clusters:
      web:
        facets:
          app:
            servers:
              0:
                cloud:
                  flavor: cx22
                  ebs_optimized: true
              1: {}
`

	defs, err := parser.ParseYAML(context.Background(), "fleet.yaml", []byte(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if defs.HasErrors() {
		t.Fatalf("unexpected validation errors: %v", defs.Errors)
	}

	cluster, ok := defs.Realms[0].Cluster("web")
	if !ok {
		t.Fatal("expected cluster 'web'")
	}
	facet, _ := cluster.Facet("app")
	if facet == nil || len(facet.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %+v", facet)
	}
	server, ok := facet.Server("0")
	if !ok {
		t.Fatal("expected server '0'")
	}
	if server.Cloud.Flavor != "cx22" {
		t.Errorf("expected flavor 'cx22', got %s", server.Cloud.Flavor)
	}
	if server.Cloud.EBSOptimized == nil || !*server.Cloud.EBSOptimized {
		t.Errorf("expected ebs_optimized true, got %v", server.Cloud.EBSOptimized)
	}
	if _, ok := facet.Server("1"); !ok {
		t.Error("expected server '1'")
	}
}

func TestCUEParser_ParseYAMLErrors(t *testing.T) {
	parser := NewCUEParser()

	defs, err := parser.ParseYAML(context.Background(), "bad.yaml", []byte("realms: [unclosed"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !defs.HasErrors() || defs.Errors[0].File != "bad.yaml" {
		t.Errorf("expected error located in bad.yaml, got %v", defs.Errors)
	}

	defs, err = parser.ParseYAML(context.Background(), "typo.yaml", []byte("clusters:\n  web:\n    enviroment: prod\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !defs.HasErrors() {
		t.Error("expected schema error for unknown field")
	}
}

func TestCUEParser_ParseMultipleSources(t *testing.T) {
	parser := NewCUEParser()
	dir := t.TempDir()

	web := writeFile(t, dir, "web.cue", webFleet)
	db := writeFile(t, dir, "db.yaml", `
realms:
  prod:
    clusters:
      db:
        facets:
          primary:
            instances: 1
`)

	defs, err := parser.Parse(context.Background(), []string{web, db})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if defs.HasErrors() {
		t.Fatalf("unexpected validation errors: %v", defs.Errors)
	}
	if len(defs.SourceFiles) != 2 {
		t.Errorf("expected 2 source files, got %d", len(defs.SourceFiles))
	}

	reg, err := defs.Registry()
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	realm, err := reg.Realm("prod")
	if err != nil {
		t.Fatalf("failed to get realm: %v", err)
	}
	if len(realm.Clusters) != 2 {
		t.Fatalf("expected 2 merged clusters, got %d", len(realm.Clusters))
	}

	result := resolve.New(resolve.WithDefaults(defs.Defaults)).ResolveRealm(realm)
	if err := result.Err(); err != nil {
		t.Fatalf("unexpected resolution error: %v", err)
	}
	names := make(map[string]string)
	for _, s := range result.Servers {
		names[s.FullName()] = s.Environment
	}
	for _, want := range []string{"prod-web-app-0", "prod-web-app-1", "prod-db-primary-0"} {
		env, ok := names[want]
		if !ok {
			t.Errorf("expected resolved server %s, got %v", want, names)
			continue
		}
		if env != "production" {
			t.Errorf("expected %s environment 'production', got %s", want, env)
		}
	}
}

func TestCUEParser_ParseDirectory(t *testing.T) {
	parser := NewCUEParser()
	dir := t.TempDir()

	writeFile(t, dir, "prod.yaml", "realms:\n  prod:\n    environment: production\n")
	writeFile(t, dir, "clusters/web.yml", "clusters:\n  web:\n    facets:\n      app: {}\n")
	writeFile(t, dir, "README.md", "# fleet\n")
	writeFile(t, dir, ".hidden/skip.yaml", "realms: [")

	defs, err := parser.Parse(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if defs.HasErrors() {
		t.Fatalf("unexpected validation errors: %v", defs.Errors)
	}
	if len(defs.SourceFiles) != 2 {
		t.Errorf("expected 2 source files, got %v", defs.SourceFiles)
	}
	if len(defs.Realms) != 1 || len(defs.Clusters) != 1 {
		t.Errorf("expected 1 realm and 1 cluster, got %d and %d", len(defs.Realms), len(defs.Clusters))
	}
}

func TestCUEParser_ParseErrors(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	if _, err := parser.Parse(ctx, nil); err == nil {
		t.Error("expected error for no sources")
	}
	if _, err := parser.Parse(ctx, []string{filepath.Join(t.TempDir(), "missing.cue")}); err == nil {
		t.Error("expected error for missing source")
	}

	path := writeFile(t, t.TempDir(), "fleet.txt", "realms: {}")
	defs, err := parser.Parse(ctx, []string{path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !defs.HasErrors() {
		t.Error("expected error for unsupported format")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := parser.Parse(cancelled, []string{path}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		err  ValidationError
		want string
	}{
		{ValidationError{File: "a.cue", Line: 3, Column: 5, Path: "realms.prod", Message: "bad"}, "a.cue:3:5: realms.prod: bad"},
		{ValidationError{File: "a.yaml", Message: "bad"}, "a.yaml: bad"},
		{ValidationError{Message: "bad"}, "bad"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

package config

import (
	"testing"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#Tag: =~"^[a-z]+$"
tags?: [...#Tag]
`

	if err := sr.RegisterSchema("tags", customSchema); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("tags")
	if !ok {
		t.Fatal("expected to find tags schema")
	}
	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	names := sr.ListSchemas()
	if len(names) != 2 || names[0] != SchemaFleet || names[1] != "tags" {
		t.Errorf("Expected [fleet tags], got %v", names)
	}
}

func TestSchemaRegistry_RegisterInvalid(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("broken", `a: {`); err == nil {
		t.Error("expected error for invalid schema")
	}
	if _, ok := sr.GetSchema("broken"); ok {
		t.Error("invalid schema should not be registered")
	}
}

func TestSchemaRegistry_BuiltInFleetSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	schema, ok := sr.GetSchema(SchemaFleet)
	if !ok {
		t.Fatal("built-in fleet schema not found")
	}
	if schema.Err() != nil {
		t.Errorf("built-in fleet schema has errors: %v", schema.Err())
	}
}

func TestSchemaRegistry_ValidateAgainstSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	tests := []struct {
		name    string
		data    map[string]interface{}
		wantErr bool
	}{
		{
			name: "map form",
			data: map[string]interface{}{
				"realms": map[string]interface{}{
					"prod": map[string]interface{}{
						"environment": "production",
						"clusters": map[string]interface{}{
							"web": map[string]interface{}{
								"facets": map[string]interface{}{
									"app": map[string]interface{}{"instances": 3},
								},
							},
						},
					},
				},
			},
		},
		{
			name: "list form",
			data: map[string]interface{}{
				"clusters": []interface{}{
					map[string]interface{}{"name": "web", "run_list": []interface{}{"role[base]"}},
				},
			},
		},
		{
			name: "list entry without name",
			data: map[string]interface{}{
				"clusters": []interface{}{
					map[string]interface{}{"environment": "production"},
				},
			},
			wantErr: true,
		},
		{
			name: "uppercase realm name",
			data: map[string]interface{}{
				"realms": map[string]interface{}{"Prod": map[string]interface{}{}},
			},
			wantErr: true,
		},
		{
			name: "negative instances",
			data: map[string]interface{}{
				"clusters": map[string]interface{}{
					"web": map[string]interface{}{
						"facets": map[string]interface{}{
							"app": map[string]interface{}{"instances": -1},
						},
					},
				},
			},
			wantErr: true,
		},
		{
			name: "wrong component shape",
			data: map[string]interface{}{
				"defaults": map[string]interface{}{
					"components": []interface{}{map[string]interface{}{"kind": "ntp"}},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateAgainstSchema(SchemaFleet, tt.data)
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestSchemaRegistry_UnknownSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.ValidateAgainstSchema("missing", map[string]interface{}{}); err == nil {
		t.Error("expected error for unknown schema")
	}
}

package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaFleet is the name of the built-in fleet definition schema.
const SchemaFleet = "fleet"

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema(SchemaFleet, builtinFleetSchema); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema compiles a CUE schema under the given name. The schema's
// top-level value is what documents are unified with.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".schema.cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Validate unifies val with the named schema and requires the result to be
// concrete. The returned error carries CUE positions.
func (sr *SchemaRegistry) Validate(schemaName string, val cue.Value) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}
	return schema.Unify(val).Validate(cue.Concrete(true))
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if err := sr.Validate(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinFleetSchema describes a fleet definition document. Realms,
// clusters, facets and servers may be written as a map keyed by name or as
// a list of entries carrying their name. Facet names may not contain
// hyphens because node names are split on them.
const builtinFleetSchema = `
#Name:       =~"^[a-z0-9]([a-z0-9_-]*[a-z0-9])?$"
#FacetName:  =~"^[a-z0-9][a-z0-9_]*$"
#ServerName: =~"^[0-9]+$"

#Placement:    "first" | "normal" | "last"
#RunListEntry: string | {name: string, placement?: #Placement}

#Component: {
	name:        string
	kind?:       string
	attributes?: {...}
}

#Role: {
	name?:                string
	description?:         string
	default_attributes?:  {...}
	override_attributes?: {...}
}

#Cloud: {
	cloud_name?:              string
	availability_zones?:      [...string]
	backing?:                 string
	elastic_load_balancers?:  [...string]
	ebs_optimized?:           bool
	flavor?:                  string
	iam_server_certificates?: [...string]
	image_id?:                string
	keypair?:                 string
	monitoring?:              string
	placement_group?:         string
	elastic_ip?:              string
	auto_elastic_ip?:         bool
	allocation_id?:           string
	region?:                  string
	security_groups?:         [...string]
	ssh_user?:                string
	subnet?:                  string
	vpc?:                     string
}

#Compute: {
	environment?: string
	run_list?:    [...#RunListEntry]
	components?:  [...#Component]
	cloud?:       #Cloud
}

#Server: {
	#Compute
	name?:         #ServerName
	cluster_name?: string
	facet_name?:   #FacetName
	cluster_role?: #Role
	facet_role?:   #Role
}

#Facet: {
	#Compute
	name?:         #FacetName
	cluster_name?: string
	instances?:    int & >=0
	facet_role?:   #Role
	cluster_role?: #Role
	servers?:      {[#ServerName]: #Server} | [...(#Server & {name: #ServerName})]
}

#Cluster: {
	#Compute
	name?:         #Name
	realm_name?:   #Name
	cluster_role?: #Role
	facets?:       {[#FacetName]: #Facet} | [...(#Facet & {name: #FacetName})]
}

#Realm: {
	#Compute
	name?:     #Name
	clusters?: {[#Name]: #Cluster} | [...(#Cluster & {name: #Name})]
}

defaults?: #Compute
realms?:   close({[#Name]: #Realm}) | [...(#Realm & {name: #Name})]
clusters?: close({[#Name]: #Cluster}) | [...(#Cluster & {name: #Name})]
`

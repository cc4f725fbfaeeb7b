package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// ManifestSchema is the name of the built-in manifest schema.
const ManifestSchema = "manifest"

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
	if err := sr.RegisterSchema(ManifestSchema, builtinManifestSchema); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema registers a CUE schema with the given name. The schema
// must define a definition named after it, e.g. #Manifest for "manifest".
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
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

// Definition returns the definition #Name of a registered schema.
func (sr *SchemaRegistry) Definition(schemaName, def string) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}
	v := schema.LookupPath(cue.ParsePath(def))
	if !v.Exists() {
		return cue.Value{}, fmt.Errorf("schema %s has no definition %s", schemaName, def)
	}
	return v, nil
}

// Unify applies definition def of a schema to val and requires the
// result to be concrete.
func (sr *SchemaRegistry) Unify(schemaName, def string, val cue.Value) (cue.Value, error) {
	d, err := sr.Definition(schemaName, def)
	if err != nil {
		return cue.Value{}, err
	}
	unified := d.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates Go data against definition def of a schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName, def string, data any) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if _, err := sr.Unify(schemaName, def, dataVal); err != nil {
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

// Built-in schema definitions

const builtinManifestSchema = `
#Name: =~"^[A-Za-z0-9_][A-Za-z0-9_.:-]*$"

#Resource: {
	name:            #Name
	ignore_changes?: bool
}

#Secrets: {[string]: string}

#Credential: {
	#Resource
	type:                  string
	config?:               {...}
	secrets?:              #Secrets
	warehouse_credential?: #Name
}

#Channel: {
	#Resource
	type:     "slack" | "ms_teams" | "webhook"
	config?:  {...}
	secrets?: #Secrets
}

#Source: {
	#Resource
	type:       string
	credential: #Name
	config?:    {...}
	schema?:    {...}
}

#Segmentation: {
	#Resource
	source:  #Name
	fields?: [...string]
	filter?: string
}

#Window: {
	#Resource
	type:             "global" | "fixed_batch" | "tumbling" | "file"
	source:           #Name
	config?:          {...}
	data_time_field?: string
}

#Threshold: {
	type:                  "fixed" | "dynamic" | "difference"
	operator?:             string
	value?:                number
	sensitivity?:          number & >0
	decision_bounds_type?: "UPPER" | "LOWER" | "UPPER_AND_LOWER"
	difference_type?:      "ABSOLUTE" | "PERCENTAGE"
	number_of_windows?:    int & >=0
}

#Validator: {
	#Resource
	type:          string
	source:        #Name
	window?:       #Name
	segmentation?: #Name
	metric?:       string
	source_field?: string
	field_selector?: {
		data_type?: "numeric" | "string" | "boolean" | "timestamp"
		nullable?:  bool
		regex?:     string
	}
	threshold?: #Threshold
	reference?: {
		source:  #Name
		window:  #Name
		history: int & >=1
		offset:  int & >=0
		filter?: string
	}
	config?: {...}
}

#NotificationRule: {
	#Resource
	channel: #Name
	conditions?: {
		owners?: [...string]
		segments?: [...{field: string, value: string}]
		severities?: [...("HIGH" | "MEDIUM" | "LOW")]
		sources?: [...#Name]
		tags?: [...{key: string, value?: string}]
		types?: [...string]
	}
}

#Manifest: {
	namespace?:          #Name
	credentials?:        [...#Credential]
	channels?:           [...#Channel]
	sources?:            [...#Source]
	segmentations?:      [...#Segmentation]
	windows?:            [...#Window]
	validators?:         [...#Validator]
	notification_rules?: [...#NotificationRule]
}
`

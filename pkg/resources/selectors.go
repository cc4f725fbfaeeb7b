package resources

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// SchemaField is a leaf of a JSON Typedef schema.
type SchemaField struct {
	Path     string
	JTDType  string
	Nullable bool
}

// DataType maps the JTD type onto the coarse selector data types.
func (f SchemaField) DataType() string {
	switch f.JTDType {
	case "float32", "float64", "int8", "uint8", "int16", "uint16", "int32", "uint32":
		return "numeric"
	case "string":
		return "string"
	case "boolean":
		return "boolean"
	case "timestamp":
		return "timestamp"
	default:
		return f.JTDType
	}
}

type jtdNode struct {
	Type               string             `json:"type"`
	Nullable           bool               `json:"nullable"`
	Properties         map[string]jtdNode `json:"properties"`
	OptionalProperties map[string]jtdNode `json:"optionalProperties"`
}

// SchemaFields flattens a JTD schema into its leaf fields, sorted by path.
// Optional properties are reported as nullable.
func SchemaFields(schema json.RawMessage) ([]SchemaField, error) {
	var root jtdNode
	if err := json.Unmarshal(schema, &root); err != nil {
		return nil, fmt.Errorf("invalid jtd schema: %w", err)
	}

	var fields []SchemaField
	var walk func(prefix string, n jtdNode, optional bool)
	walk = func(prefix string, n jtdNode, optional bool) {
		if n.Type != "" {
			fields = append(fields, SchemaField{Path: prefix, JTDType: n.Type, Nullable: n.Nullable || optional})
			return
		}
		join := func(name string) string {
			if prefix == "" {
				return name
			}
			return prefix + "." + name
		}
		for name, child := range n.Properties {
			walk(join(name), child, n.Nullable)
		}
		for name, child := range n.OptionalProperties {
			walk(join(name), child, true)
		}
	}
	walk("", root, false)

	sort.Slice(fields, func(i, j int) bool { return fields[i].Path < fields[j].Path })
	return fields, nil
}

// Match returns the paths of fields selected by s.
func (s *FieldSelector) Match(fields []SchemaField) ([]string, error) {
	var re *regexp.Regexp
	if s.Regex != "" {
		var err error
		if re, err = regexp.Compile(s.Regex); err != nil {
			return nil, fmt.Errorf("invalid field selector regex %q: %w", s.Regex, err)
		}
	}

	var out []string
	for _, f := range fields {
		if s.DataType != "" && f.DataType() != s.DataType {
			continue
		}
		if s.Nullable != nil && f.Nullable != *s.Nullable {
			continue
		}
		if re != nil && !re.MatchString(f.Path) {
			continue
		}
		out = append(out, f.Path)
	}
	return out, nil
}

// ExpandedValidatorName names the validator generated from template for field.
func ExpandedValidatorName(template, field string) string {
	return template + "__" + strings.ReplaceAll(field, ".", "_")
}

// ExpandValidatorFieldSelectors replaces every template validator of dc
// whose source schema is known by one concrete validator per matching
// field, registered in dc.Graph. It returns the generated validators keyed
// by template name. Templates on sources without a schema are kept unless
// requireSchema is set, in which case they are an error.
func ExpandValidatorFieldSelectors(dc *DiffContext, requireSchema bool) (map[string][]*Validator, error) {
	expanded := make(map[string][]*Validator)

	for _, name := range sortedNames(dc.Validators) {
		v := dc.Validators[name]
		if !v.IsTemplate() {
			continue
		}

		src, err := MustFindSource(dc, v.Source)
		if err != nil {
			return nil, err
		}
		if !src.HasSchema() {
			if requireSchema {
				return nil, fmt.Errorf("validator %q: schema of source %q is unknown", v.Name(), src.Name())
			}
			continue
		}

		fields, err := SchemaFields(src.JTDSchema)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", src.Name(), err)
		}
		paths, err := v.Selector.Match(fields)
		if err != nil {
			return nil, fmt.Errorf("validator %q: %w", v.Name(), err)
		}

		clones := make([]*Validator, 0, len(paths))
		for _, path := range paths {
			cloneName := ExpandedValidatorName(v.Name(), path)
			if _, exists := dc.Validators[cloneName]; exists {
				return nil, fmt.Errorf("validator %q: expanded name %q is already declared", v.Name(), cloneName)
			}
			c := v.clone(dc.Graph, cloneName, path)
			dc.Validators[cloneName] = c
			clones = append(clones, c)
		}
		delete(dc.Validators, name)
		expanded[name] = clones
	}

	return expanded, nil
}

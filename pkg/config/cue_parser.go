package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// CUEParser parses manifests written in CUE. The result is checked
// against the #Manifest definition of the schema registry, so unknown
// fields and type mismatches are reported with their CUE position.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:            ctx,
		schemaRegistry: newSchemaRegistry(ctx),
	}
}

// Parse unifies the given files and package directories into one manifest.
func (cp *CUEParser) Parse(sources []string) (*Manifest, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var parseErrors ValidationErrors

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var val cue.Value
		var errs ValidationErrors
		if info.IsDir() {
			val, errs = cp.loadDirectory(source)
		} else {
			val, errs = cp.loadFile(source)
		}
		parseErrors = append(parseErrors, errs...)
		if !val.Exists() {
			continue
		}
		if cueValue.Exists() {
			cueValue = cueValue.Unify(val)
		} else {
			cueValue = val
		}
	}

	if len(parseErrors) > 0 {
		return nil, parseErrors
	}
	return cp.decode(cueValue)
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(content string) (*Manifest, error) {
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return nil, cp.convertCUEErrors(err)
	}
	return cp.decode(val)
}

// decode checks val against #Manifest and decodes it.
func (cp *CUEParser) decode(val cue.Value) (*Manifest, error) {
	if err := val.Err(); err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	unified, err := cp.schemaRegistry.Unify(ManifestSchema, "#Manifest", val)
	if err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	var m Manifest
	if err := unified.Decode(&m); err != nil {
		return nil, ValidationErrors{{Message: fmt.Sprintf("failed to decode manifest: %v", err)}}
	}
	return &m, nil
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, ValidationErrors) {
	buildInstances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(buildInstances) == 0 {
		return cue.Value{}, ValidationErrors{{
			File:    dir,
			Message: "no CUE files found",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}
	return val, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, ValidationErrors) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, ValidationErrors{{
			File:    path,
			Message: fmt.Sprintf("failed to read file: %v", err),
		}}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}
	return val, nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func (cp *CUEParser) convertCUEErrors(err error) ValidationErrors {
	var validationErrors ValidationErrors

	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		validationErrors = append(validationErrors, ve)
	}
	return validationErrors
}

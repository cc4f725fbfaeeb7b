package policy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Policy files are either bare Rego modules or definitions wrapping one.
// A Rego module may carry its settings in a header of comment directives:
//
//	# Sources must not be removed outside of maintenance windows.
//	# severity: error
//	# tags: safety, sources
//	package validio.custom.sources
//
// Lines without a recognised directive form the description.
const (
	extRego = ".rego"
	extJSON = ".json"
	extYAML = ".yaml"
	extYML  = ".yml"
)

// Loader reads guardrail policies from files and directories.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths reads every policy below paths. Files are read in lexical
// order and every broken file is reported, not just the first one. Two
// files defining the same policy name are an error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	files, err := policyFiles(paths)
	if err != nil {
		return nil, err
	}

	var (
		policies []Policy
		errs     []error
		seen     = make(map[string]string, len(files))
	)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := l.LoadFile(file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, ok := seen[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%s: policy %q already defined in %s", file, p.Name, prev))
			continue
		}
		seen[p.Name] = file
		policies = append(policies, *p)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	l.logger.Info().
		Int("policies", len(policies)).
		Int("paths", len(paths)).
		Msg("Guardrail policies read")

	return policies, nil
}

// LoadFile reads a single policy file.
func (l *Loader) LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var p *Policy
	switch strings.ToLower(filepath.Ext(path)) {
	case extRego:
		p, err = parseRego(path, string(data))
	case extJSON:
		p, err = parseDefinition(data, json.Unmarshal)
	case extYAML, extYML:
		p, err = parseDefinition(data, yaml.Unmarshal)
	default:
		err = fmt.Errorf("unsupported policy file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if p.Metadata == nil {
		p.Metadata = map[string]interface{}{}
	}
	p.Metadata["source"] = path

	l.logger.Debug().
		Str("path", path).
		Str("policy", p.Name).
		Str("severity", string(p.Severity)).
		Msg("Policy file read")

	return p, nil
}

// policyFiles expands paths into the sorted list of policy files. Explicit
// files are taken as given; directories contribute their policy files,
// skipping hidden entries and Rego unit tests.
func policyFiles(paths []string) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", root, err)
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != root && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() && isPolicyFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", root, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

func isPolicyFile(path string) bool {
	if strings.HasSuffix(path, "_test"+extRego) {
		return false
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case extRego, extJSON, extYAML, extYML:
		return true
	}
	return false
}

// parseRego builds a policy from a Rego module and its comment header.
func parseRego(path, src string) (*Policy, error) {
	now := time.Now()
	p := &Policy{
		Name:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Rego:      src,
		Severity:  SeverityWarning,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	h, err := readHeader(src)
	if err != nil {
		return nil, err
	}
	p.Description = h.description
	p.Tags = h.tags
	if h.name != "" {
		p.Name = h.name
	}
	if h.severity != "" {
		p.Severity = h.severity
	}
	if h.disabled {
		p.Enabled = false
	}
	return p, nil
}

type regoHeader struct {
	name        string
	description string
	severity    Severity
	tags        []string
	disabled    bool
}

// readHeader collects the comments before the package clause.
func readHeader(src string) (regoHeader, error) {
	var (
		h    regoHeader
		desc []string
	)

	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			break
		}

		comment := strings.TrimSpace(strings.TrimPrefix(line, "#"))
		key, value, ok := strings.Cut(comment, ":")
		if !ok {
			if comment != "" {
				desc = append(desc, comment)
			}
			continue
		}

		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "name":
			h.name = value
		case "severity":
			sev, err := parseSeverity(value)
			if err != nil {
				return h, err
			}
			h.severity = sev
		case "tags":
			for _, tag := range strings.Split(value, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					h.tags = append(h.tags, tag)
				}
			}
		case "enabled":
			h.disabled = value == "false"
		default:
			desc = append(desc, comment)
		}
	}

	h.description = strings.Join(desc, " ")
	return h, sc.Err()
}

// parseDefinition reads a JSON or YAML policy definition.
func parseDefinition(data []byte, unmarshal func([]byte, any) error) (*Policy, error) {
	var def struct {
		Name        string                 `json:"name" yaml:"name"`
		Description string                 `json:"description" yaml:"description"`
		Rego        string                 `json:"rego" yaml:"rego"`
		Severity    string                 `json:"severity" yaml:"severity"`
		Enabled     *bool                  `json:"enabled" yaml:"enabled"`
		Tags        []string               `json:"tags" yaml:"tags"`
		Metadata    map[string]interface{} `json:"metadata" yaml:"metadata"`
	}
	if err := unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("invalid policy definition: %w", err)
	}

	switch {
	case def.Name == "":
		return nil, errors.New("policy name is required")
	case strings.TrimSpace(def.Rego) == "":
		return nil, fmt.Errorf("policy %q has no rego", def.Name)
	}

	sev := SeverityWarning
	if def.Severity != "" {
		var err error
		if sev, err = parseSeverity(def.Severity); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	return &Policy{
		Name:        def.Name,
		Description: def.Description,
		Rego:        def.Rego,
		Severity:    sev,
		Enabled:     def.Enabled == nil || *def.Enabled,
		Tags:        def.Tags,
		Metadata:    def.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func parseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(s)); sev {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}
